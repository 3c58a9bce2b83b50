package gatemode

// Mode is the deduplication gate policy.
type Mode string

// Gate mode constants.
const (
	// Filter admits URLs the bloom filter has definitely not seen. False positives drop new URLs.
	Filter Mode = "filter"
	// Store checks every URL against the document store.
	Store Mode = "store"
	// FilterAndStore verifies bloom hits against the store.
	FilterAndStore Mode = "filter_and_store"
	// CacheAndStore consults the shared seen cache, then the store on a miss.
	CacheAndStore Mode = "cache_and_store"
)

// IsValid checks if the mode is one of the supported values.
func (m Mode) IsValid() bool {
	return m == Filter || m == Store || m == FilterAndStore || m == CacheAndStore
}

// UsesFilter reports whether the mode keeps an in-process bloom filter.
func (m Mode) UsesFilter() bool {
	return m == Filter || m == FilterAndStore
}

// UsesStore reports whether the mode queries the document store.
func (m Mode) UsesStore() bool {
	return m == Store || m == FilterAndStore || m == CacheAndStore
}

// UsesCache reports whether the mode queries the shared seen cache.
func (m Mode) UsesCache() bool { return m == CacheAndStore }
