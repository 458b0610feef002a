// Package chunk splits an ordered record sequence into bounded-size,
// contiguous slices for transmission.
package chunk

import (
	"iter"

	"github.com/ginjaninja78/tabular-import/internal/types"
)

// DefaultSize is the chunk size used when none is configured.
const DefaultSize = 100000

// Plan lazily yields (offset, chunk) pairs covering records exactly once,
// in order. Every chunk except possibly the last has exactly size records.
// A size of zero or less means DefaultSize. The yielded slices share the
// backing array of records.
func Plan(records []types.Record, size int) iter.Seq2[int, []types.Record] {
	if size <= 0 {
		size = DefaultSize
	}
	return func(yield func(int, []types.Record) bool) {
		for offset := 0; offset < len(records); offset += size {
			end := min(offset+size, len(records))
			if !yield(offset, records[offset:end:end]) {
				return
			}
		}
	}
}

// Count returns the number of chunks Plan yields for n records.
func Count(n, size int) int {
	if size <= 0 {
		size = DefaultSize
	}
	if n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
