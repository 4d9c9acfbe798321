package planner

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	MinConnections = 1
	MaxConnections = 8
)

var ErrInvalidRange = errors.New("invalid range header")

// Range is one planned byte span. End is the HTTP (inclusive) end offset and
// is meaningless when Open is set; the last part of a plan is always open.
type Range struct {
	Index int
	Start int64
	End   int64
	Open  bool
}

func (r Range) Header() string {
	if r.Open {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

func (r Range) String() string {
	return r.Header()
}

// Size returns how many bytes of a resource of totalSize this range is
// expected to yield. Trailing parts that start at or past the end yield 0.
func (r Range) Size(totalSize int64) int64 {
	if totalSize <= 0 || r.Start >= totalSize {
		return 0
	}
	last := totalSize - 1
	if !r.Open && r.End < last {
		last = r.End
	}
	return last - r.Start + 1
}

// Degenerate reports whether the range starts at or past the end of a
// resource of totalSize.
func (r Range) Degenerate(totalSize int64) bool {
	return totalSize > 0 && r.Start >= totalSize
}

func ClampConnections(connections int) int {
	return min(max(connections, MinConnections), MaxConnections)
}

// Plan partitions [0, totalSize) into connections parts of
// ceil(totalSize/connections) bytes. A closed part ends at start+partSize, so
// neighbouring parts share their boundary byte. An unknown or empty size
// yields an empty plan, which callers treat as "fetch the whole file".
func Plan(totalSize int64, connections int) []Range {
	if totalSize <= 0 {
		return nil
	}
	connections = ClampConnections(connections)
	n := int64(connections)
	partSize := (totalSize + n - 1) / n
	ranges := make([]Range, 0, connections)
	for i := 1; i <= connections; i++ {
		start := int64(i-1) * partSize
		r := Range{Index: i - 1, Start: start, End: start + partSize}
		if i == connections {
			r.End = 0
			r.Open = true
		}
		ranges = append(ranges, r)
	}
	return ranges
}

// ParseRange parses the "bytes=<start>-<end>" form produced by Range.Header.
func ParseRange(header string) (Range, error) {
	byteRange, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}
	startStr, endStr, ok := strings.Cut(byteRange, "-")
	if !ok {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return Range{}, fmt.Errorf("%w: bad start in %q", ErrInvalidRange, header)
	}
	if endStr == "" {
		return Range{Start: start, Open: true}, nil
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return Range{}, fmt.Errorf("%w: bad end in %q", ErrInvalidRange, header)
	}
	return Range{Start: start, End: end}, nil
}
