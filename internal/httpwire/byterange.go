package httpwire

import (
	"math"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
)

// Range is a satisfiable byte range of a representation.
type Range struct {
	Start  int64
	Length int64
}

// ContentRange returns the Content-Range value for r within a
// representation of size bytes.
func (r Range) ContentRange(size int64) string {
	return "bytes " + strconv.FormatInt(r.Start, 10) + "-" + strconv.FormatInt(r.Start+r.Length-1, 10) + "/" + strconv.FormatInt(size, 10)
}

// UnsatisfiedRange returns the Content-Range value sent with a 416 response.
func UnsatisfiedRange(size int64) string {
	return "bytes */" + strconv.FormatInt(size, 10)
}

// ParseRange parses the value of a Range header for a representation of
// size bytes. Only a single range in the bytes unit is honoured: ok is false
// when the header is empty, uses another unit or lists several ranges, and
// the full representation should be sent instead.
//
// A malformed bytes range, or one that starts beyond the end of the
// representation, yields an error classified as errdefs.ErrOutOfRange.
func ParseRange(s string, size int64) (r Range, ok bool, err error) {
	if s == "" {
		return Range{}, false, nil
	}
	unit, set, found := strings.Cut(s, "=")
	if !strings.EqualFold(strings.TrimSpace(unit), "bytes") {
		return Range{}, false, nil
	}
	if !found {
		return Range{}, true, errors.Wrapf(errdefs.ErrOutOfRange, "malformed range %q", s)
	}
	if strings.Contains(set, ",") {
		return Range{}, false, nil
	}

	first, last, found := strings.Cut(strings.TrimSpace(set), "-")
	if !found {
		return Range{}, true, errors.Wrapf(errdefs.ErrOutOfRange, "malformed range %q", s)
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	if first == "" {
		// suffix-range: the final n bytes.
		n, valid := parseBound(last)
		if !valid {
			return Range{}, true, errors.Wrapf(errdefs.ErrOutOfRange, "malformed range %q", s)
		}
		if n == 0 || size == 0 {
			return Range{}, true, errors.Wrapf(errdefs.ErrOutOfRange, "range %q not satisfiable for size %d", s, size)
		}
		if n > size {
			n = size
		}
		return Range{Start: size - n, Length: n}, true, nil
	}

	start, valid := parseBound(first)
	if !valid {
		return Range{}, true, errors.Wrapf(errdefs.ErrOutOfRange, "malformed range %q", s)
	}
	end := size - 1
	if last != "" {
		if end, valid = parseBound(last); !valid || end < start {
			return Range{}, true, errors.Wrapf(errdefs.ErrOutOfRange, "malformed range %q", s)
		}
	}
	if start >= size {
		return Range{}, true, errors.Wrapf(errdefs.ErrOutOfRange, "range %q not satisfiable for size %d", s, size)
	}
	if end >= size {
		end = size - 1
	}
	return Range{Start: start, Length: end - start + 1}, true, nil
}

// parseBound parses a range position or suffix length. Values too large for
// an int64 saturate at math.MaxInt64, so they clamp to the representation
// like any other value past its end.
func parseBound(s string) (int64, bool) {
	if n, ok := parseDigits(s); ok {
		return n, true
	}
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return 0, false
		}
	}
	return math.MaxInt64, true
}
