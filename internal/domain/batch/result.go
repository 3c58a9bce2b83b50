package batch

// ItemStatus is the processing outcome of a single batch item.
type ItemStatus string

// Batch item status values.
const (
	StatusOK ItemStatus = "ok"
	// StatusGone marks an item that was already absent. Deletes treat it as done.
	StatusGone  ItemStatus = "gone"
	StatusError ItemStatus = "error"
)

// Result is the outcome of processing one item in a batch operation.
type Result struct {
	id     string
	status ItemStatus
	err    error
}

// NewOK creates a successful batch result.
func NewOK(id string) Result { return Result{id: id, status: StatusOK} }

// NewGone creates a result for an item that no longer existed.
func NewGone(id string) Result { return Result{id: id, status: StatusGone} }

// NewError creates a failed batch result.
func NewError(id string, err error) Result { return Result{id: id, status: StatusError, err: err} }

// ID returns the item identifier.
func (r Result) ID() string { return r.id }

// Status returns the processing outcome.
func (r Result) Status() ItemStatus { return r.status }

// Err returns the error, if any.
func (r Result) Err() error { return r.err }

// Done reports whether the item reached its target state.
func (r Result) Done() bool { return r.status != StatusError }

// Summary counts results by outcome.
type Summary struct {
	OK     int `json:"ok"`
	Gone   int `json:"gone"`
	Failed int `json:"failed"`
}

// Summarize counts results by outcome.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.status {
		case StatusOK:
			s.OK++
		case StatusGone:
			s.Gone++
		default:
			s.Failed++
		}
	}
	return s
}
