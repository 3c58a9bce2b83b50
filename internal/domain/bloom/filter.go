// Package bloom implements the URL membership filter used by the deduplication gate.
//
// The filter never reports a false negative. False positives grow with the
// number of inserted keys; once Inserted approaches Capacity the observed
// rate exceeds the configured target and the filter should be rebuilt larger.
//
// A Filter is not safe for concurrent use. The owner serializes access.
package bloom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/kailas-cloud/dedupd/internal/domain"
)

const (
	snapshotMagic   = "DDBF"
	snapshotVersion = 1
	headerSize      = 4 + 1 + 8 + 8 + 4 + 8 + 8 // magic, version, capacity, error rate, k, m, inserted
	secondSeed      = "\x9e\x37\x79\xb9"
)

// Filter is a fixed-size bloom filter.
type Filter struct {
	bits      []uint64
	m         uint64
	k         uint32
	capacity  uint64
	errorRate float64
	inserted  uint64
}

// New creates a filter sized for capacity keys at the target false-positive rate.
func New(capacity uint64, errorRate float64) (*Filter, error) {
	if capacity == 0 {
		return nil, domain.InvalidConfig("bloom capacity must be positive")
	}
	if errorRate <= 0 || errorRate >= 1 || math.IsNaN(errorRate) {
		return nil, domain.InvalidConfig("bloom error rate must be in (0, 1), got %v", errorRate)
	}

	m, k := optimalParams(capacity, errorRate)
	return &Filter{
		bits:      make([]uint64, (m+63)/64),
		m:         m,
		k:         k,
		capacity:  capacity,
		errorRate: errorRate,
	}, nil
}

// optimalParams returns the bit count m = -n*ln(p)/ln(2)^2 and hash count k = m/n*ln(2).
func optimalParams(n uint64, p float64) (uint64, uint32) {
	m := uint64(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	if m < 64 {
		m = 64
	}
	k := uint32(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return m, k
}

// Insert adds key to the filter.
func (f *Filter) Insert(key string) {
	h1, h2 := hashes(key)
	for i := uint32(0); i < f.k; i++ {
		idx := (h1 + uint64(i)*h2) % f.m
		f.bits[idx/64] |= 1 << (idx % 64)
	}
	f.inserted++
}

// MightContain reports whether key may have been inserted. False means definitely not.
func (f *Filter) MightContain(key string) bool {
	h1, h2 := hashes(key)
	for i := uint32(0); i < f.k; i++ {
		idx := (h1 + uint64(i)*h2) % f.m
		if f.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

// hashes derives two independent 64-bit hashes for double hashing.
// h2 is forced odd so successive indexes never collapse onto one slot.
func hashes(key string) (uint64, uint64) {
	d := xxhash.New()
	_, _ = d.WriteString(key)
	h1 := d.Sum64()
	_, _ = d.WriteString(secondSeed)
	h2 := d.Sum64() | 1
	return h1, h2
}

// EstimatedFalsePositiveRate returns (1 - e^(-k*n/m))^k for the current insert count.
func (f *Filter) EstimatedFalsePositiveRate() float64 {
	if f.inserted == 0 {
		return 0
	}
	exp := -float64(f.k) * float64(f.inserted) / float64(f.m)
	return math.Pow(1-math.Exp(exp), float64(f.k))
}

// Saturation returns inserted/capacity. Values >= 1 mean the target error rate no longer holds.
func (f *Filter) Saturation() float64 {
	return float64(f.inserted) / float64(f.capacity)
}

// Inserted returns the number of Insert calls, including repeats of the same key.
func (f *Filter) Inserted() uint64 { return f.inserted }

// Capacity returns the provisioned key count.
func (f *Filter) Capacity() uint64 { return f.capacity }

// ErrorRate returns the configured target false-positive rate.
func (f *Filter) ErrorRate() float64 { return f.errorRate }

// HashCount returns k.
func (f *Filter) HashCount() uint32 { return f.k }

// BitCount returns m.
func (f *Filter) BitCount() uint64 { return f.m }

// MarshalBinary encodes the filter as a snapshot.
func (f *Filter) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize+len(f.bits)*8)
	copy(buf, snapshotMagic)
	buf[4] = snapshotVersion
	off := 5
	binary.LittleEndian.PutUint64(buf[off:], f.capacity)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(f.errorRate))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], f.k)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], f.m)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], f.inserted)
	off += 8
	for _, w := range f.bits {
		binary.LittleEndian.PutUint64(buf[off:], w)
		off += 8
	}
	return buf, nil
}

// UnmarshalBinary restores a filter from a snapshot produced by MarshalBinary.
func (f *Filter) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize {
		return errors.New("bloom snapshot: truncated header")
	}
	if string(data[:4]) != snapshotMagic {
		return errors.New("bloom snapshot: bad magic")
	}
	if data[4] != snapshotVersion {
		return fmt.Errorf("bloom snapshot: unsupported version %d", data[4])
	}
	off := 5
	capacity := binary.LittleEndian.Uint64(data[off:])
	off += 8
	errorRate := math.Float64frombits(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	k := binary.LittleEndian.Uint32(data[off:])
	off += 4
	m := binary.LittleEndian.Uint64(data[off:])
	off += 8
	inserted := binary.LittleEndian.Uint64(data[off:])
	off += 8

	if capacity == 0 || k == 0 || m == 0 {
		return errors.New("bloom snapshot: invalid parameters")
	}
	words := (m + 63) / 64
	if uint64(len(data)-off) != words*8 {
		return fmt.Errorf("bloom snapshot: expected %d bit words, got %d bytes", words, len(data)-off)
	}

	bits := make([]uint64, words)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint64(data[off:])
		off += 8
	}

	*f = Filter{bits: bits, m: m, k: k, capacity: capacity, errorRate: errorRate, inserted: inserted}
	return nil
}

// FromSnapshot decodes a snapshot into a new Filter.
func FromSnapshot(data []byte) (*Filter, error) {
	f := &Filter{}
	if err := f.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return f, nil
}
