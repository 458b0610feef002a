package chunk

import (
	"strconv"
	"testing"

	"github.com/ginjaninja78/tabular-import/internal/types"
)

func makeRecords(n int) []types.Record {
	out := make([]types.Record, n)
	for i := range out {
		out[i] = types.RecordOf("i", strconv.Itoa(i))
	}
	return out
}

func TestPlan_CoversInputExactlyOnce(t *testing.T) {
	for _, tt := range []struct{ length, size int }{
		{0, 3}, {1, 3}, {3, 3}, {4, 3}, {10, 3}, {10, 1}, {10, 10}, {10, 100},
	} {
		records := makeRecords(tt.length)

		var (
			chunks  int
			next    int
			offsets []int
		)
		for offset, c := range Plan(records, tt.size) {
			chunks++
			offsets = append(offsets, offset)
			if offset != next {
				t.Errorf("L=%d N=%d: expected offset %d, got %d", tt.length, tt.size, next, offset)
			}
			if len(c) == 0 || len(c) > tt.size {
				t.Errorf("L=%d N=%d: bad chunk length %d", tt.length, tt.size, len(c))
			}
			if offset+len(c) < tt.length && len(c) != tt.size {
				t.Errorf("L=%d N=%d: non-final chunk has %d records", tt.length, tt.size, len(c))
			}
			for i, rec := range c {
				if rec.String("i") != strconv.Itoa(offset+i) {
					t.Errorf("L=%d N=%d: record out of order at %d", tt.length, tt.size, offset+i)
				}
			}
			next = offset + len(c)
		}

		if next != tt.length {
			t.Errorf("L=%d N=%d: covered %d records", tt.length, tt.size, next)
		}
		if want := Count(tt.length, tt.size); chunks != want {
			t.Errorf("L=%d N=%d: expected %d chunks, got %d (offsets %v)", tt.length, tt.size, want, chunks, offsets)
		}
	}
}

func TestPlan_DefaultSize(t *testing.T) {
	records := makeRecords(DefaultSize + 1)
	var sizes []int
	for _, c := range Plan(records, 0) {
		sizes = append(sizes, len(c))
	}
	if len(sizes) != 2 || sizes[0] != DefaultSize || sizes[1] != 1 {
		t.Errorf("Unexpected chunk sizes %v", sizes)
	}
}

func TestPlan_StopsWhenConsumerBreaks(t *testing.T) {
	seen := 0
	for range Plan(makeRecords(10), 2) {
		seen++
		if seen == 2 {
			break
		}
	}
	if seen != 2 {
		t.Errorf("Expected to stop after 2 chunks, saw %d", seen)
	}
}

func TestPlan_ChunksCannotGrowIntoNeighbours(t *testing.T) {
	records := makeRecords(4)
	for offset, c := range Plan(records, 2) {
		if offset == 0 {
			c = append(c, types.RecordOf("i", "intruder"))
			_ = c
		}
	}
	if records[2].String("i") != "2" {
		t.Error("Appending to a chunk overwrote the next chunk")
	}
}

func TestCount(t *testing.T) {
	tests := []struct{ n, size, want int }{
		{0, 5, 0},
		{5, 5, 1},
		{6, 5, 2},
		{250001, 0, 3},
		{-1, 5, 0},
	}
	for _, tt := range tests {
		if got := Count(tt.n, tt.size); got != tt.want {
			t.Errorf("Count(%d, %d) = %d, want %d", tt.n, tt.size, got, tt.want)
		}
	}
}
