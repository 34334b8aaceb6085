package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrMalformedLine is returned for index lines that cannot be parsed.
var ErrMalformedLine = errors.New("malformed index line")

// Entry is one line of an rgb.txt or depth.txt index.
type Entry struct {
	Timestamp float64
	Path      string // relative to the sequence directory
}

// ReadIndex parses an index file. Blank lines and '#' comments are skipped.
// Entries are returned sorted by timestamp.
func ReadIndex(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: line %d: %q", ErrMalformedLine, line, text)
		}
		ts, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: timestamp: %v", ErrMalformedLine, line, err)
		}
		entries = append(entries, Entry{Timestamp: ts, Path: fields[1]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp })
	return entries, nil
}

// Association pairs a colour frame with its depth frame.
type Association struct {
	RGB   Entry
	Depth Entry
}

// Associate pairs every colour entry with the nearest unused depth entry
// within maxDt seconds. Colour entries without a partner are dropped. Both
// inputs must be sorted by timestamp.
func Associate(rgb, depth []Entry, maxDt float64) []Association {
	used := make([]bool, len(depth))
	out := make([]Association, 0, len(rgb))
	for _, c := range rgb {
		i := sort.Search(len(depth), func(i int) bool { return depth[i].Timestamp >= c.Timestamp })
		best, bestDt := -1, math.Inf(1)
		for _, j := range []int{i - 1, i} {
			if j < 0 || j >= len(depth) || used[j] {
				continue
			}
			if dt := math.Abs(depth[j].Timestamp - c.Timestamp); dt <= maxDt && dt < bestDt {
				best, bestDt = j, dt
			}
		}
		if best < 0 {
			continue
		}
		used[best] = true
		out = append(out, Association{RGB: c, Depth: depth[best]})
	}
	return out
}
