// Package similarity measures near-duplicate text by word shingles.
package similarity

import (
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/kailas-cloud/dedupd/internal/domain/document"
)

// ShingleSize is the number of consecutive words hashed into one shingle.
const ShingleSize = 3

// Set is a sorted, deduplicated list of shingle hashes.
type Set []uint64

// Shingles hashes every run of ShingleSize words of the normalized text.
// Texts shorter than ShingleSize words produce a single shingle of all words.
func Shingles(text string) Set {
	words := strings.Fields(document.NormalizeContent(text))
	if len(words) == 0 {
		return nil
	}
	if len(words) < ShingleSize {
		return Set{xxhash.Sum64String(strings.Join(words, " "))}
	}

	set := make(Set, 0, len(words)-ShingleSize+1)
	for i := 0; i+ShingleSize <= len(words); i++ {
		set = append(set, xxhash.Sum64String(strings.Join(words[i:i+ShingleSize], " ")))
	}
	slices.Sort(set)
	return slices.Compact(set)
}

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets are identical.
func Jaccard(a, b Set) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			inter++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// MaxJaccard is the upper bound of Jaccard for sets of the given sizes.
// Callers use it to skip pairs that cannot reach a threshold.
func MaxJaccard(sizeA, sizeB int) float64 {
	if sizeA == 0 && sizeB == 0 {
		return 1
	}
	lo, hi := min(sizeA, sizeB), max(sizeA, sizeB)
	return float64(lo) / float64(hi)
}
