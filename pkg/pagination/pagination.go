// Package pagination provides the opaque offset cursor used by the list
// operations. Cursors are base64-encoded numeric offsets into the registry's
// in-memory snapshot; clients must treat them as opaque tokens.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
)

const (
	// DefaultPageSize is the page size applied when none is configured.
	DefaultPageSize = 100

	// MaxPageSize caps configured page sizes.
	MaxPageSize = 500
)

// ErrInvalidCursor is returned when a cursor cannot be decoded.
var ErrInvalidCursor = errors.New("invalid pagination cursor")

// EncodeCursor encodes an offset into an opaque cursor.
func EncodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

// DecodeCursor decodes an opaque cursor back into an offset. An empty cursor
// decodes to offset zero.
func DecodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}

	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	offset, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: not a numeric offset", ErrInvalidCursor)
	}
	if offset < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrInvalidCursor)
	}
	return offset, nil
}

// Page slices one page out of a list of length total starting at offset.
// It returns the page bounds and the next cursor ("" when the page reaches
// the end).
func Page(total, offset, pageSize int) (start, end int, nextCursor string, err error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if offset < 0 || offset > total {
		return 0, 0, "", fmt.Errorf("%w: offset %d out of range [0,%d]", ErrInvalidCursor, offset, total)
	}

	start = offset
	end = offset + pageSize
	if end >= total {
		end = total
		return start, end, "", nil
	}
	return start, end, EncodeCursor(end), nil
}
