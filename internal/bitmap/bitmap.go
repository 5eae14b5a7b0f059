// Package bitmap converts between index range strings such as "3-4" and
// 64-bit membership bitmaps. Keys like "Ethernet0|3-4" in the buffer tables
// name priority groups and queues this way.
package bitmap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxID is the number of indices a bitmap can hold.
const MaxID = 64

// ErrInvalidRange is returned for malformed range strings.
var ErrInvalidRange = errors.New("invalid index range")

// ParseIndexRange parses "N" or "low-high". A range requires low < high;
// "3-3" and "4-3" are rejected.
func ParseIndexRange(s string) (low, high uint64, err error) {
	parts := strings.Split(s, "-")
	switch len(parts) {
	case 1:
		v, err := parseIndex(parts[0])
		if err != nil {
			return 0, 0, fmt.Errorf("%w %q: %w", ErrInvalidRange, s, err)
		}
		return v, v, nil
	case 2:
		low, err := parseIndex(parts[0])
		if err != nil {
			return 0, 0, fmt.Errorf("%w %q: %w", ErrInvalidRange, s, err)
		}
		high, err := parseIndex(parts[1])
		if err != nil {
			return 0, 0, fmt.Errorf("%w %q: %w", ErrInvalidRange, s, err)
		}
		if low >= high {
			return 0, 0, fmt.Errorf("%w %q: low must be below high", ErrInvalidRange, s)
		}
		return low, high, nil
	default:
		return 0, 0, fmt.Errorf("%w %q", ErrInvalidRange, s)
	}
}

func parseIndex(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("empty index")
	}
	return strconv.ParseUint(s, 10, 64)
}

// FromRange returns the bitmap with bits low..high (inclusive) set for the
// range string s. Indices at or beyond MaxID are rejected.
func FromRange(s string) (uint64, error) {
	low, high, err := ParseIndexRange(s)
	if err != nil {
		return 0, err
	}
	if high >= MaxID {
		return 0, fmt.Errorf("%w %q: index %d out of bounds", ErrInvalidRange, s, high)
	}
	var b uint64
	for i := low; i <= high; i++ {
		b |= 1 << i
	}
	return b, nil
}

// RangeStrings compresses the set bits of b below maxID into sorted range
// strings: single bits as "N", runs as "low-high".
func RangeStrings(b uint64, maxID uint) []string {
	if maxID > MaxID {
		maxID = MaxID
	}
	var out []string
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		if start == end {
			out = append(out, strconv.Itoa(start))
		} else {
			out = append(out, strconv.Itoa(start)+"-"+strconv.Itoa(end))
		}
		start = -1
	}
	for i := 0; i < int(maxID); i++ {
		if b&(1<<uint(i)) != 0 {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i - 1)
	}
	// A run reaching the last index is closed here.
	flush(int(maxID) - 1)
	return out
}

// IsContinuous reports whether the set bits of b below maxID form a single
// run. An empty bitmap is continuous.
func IsContinuous(b uint64, maxID uint) bool {
	if maxID > MaxID {
		maxID = MaxID
	}
	seenOne, seenGap := false, false
	for i := uint(0); i < maxID; i++ {
		set := b&(1<<i) != 0
		switch {
		case set && seenGap:
			return false
		case set:
			seenOne = true
		case seenOne:
			seenGap = true
		}
	}
	return true
}
