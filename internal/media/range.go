package media

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidRange is returned for a Range header that cannot be satisfied.
var ErrInvalidRange = errors.New("invalid byte range")

// ByteRange is a resolved, inclusive-start span of a file.
type ByteRange struct {
	Start  int64
	Length int64
}

// ContentRange formats the span as a Content-Range header value.
func (r ByteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.Start+r.Length-1, size)
}

// ParseRange resolves a single-span "bytes=" header against a file size.
// Multi-span requests are rejected; players only ever ask for one span.
func ParseRange(header string, size int64) (ByteRange, error) {
	rng, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(rng, ",") {
		return ByteRange{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}
	startStr, endStr, ok := strings.Cut(rng, "-")
	if !ok {
		return ByteRange{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		// Suffix range: last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
		}
		if n > size {
			n = size
		}
		return ByteRange{Start: size - n, Length: n}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return ByteRange{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}
	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return ByteRange{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
		}
		if end >= size {
			end = size - 1
		}
	}
	return ByteRange{Start: start, Length: end - start + 1}, nil
}
