package pagination

import (
	"errors"
	"testing"
)

func TestCursorRoundTrip(t *testing.T) {
	for _, offset := range []int{0, 1, 100, 99999} {
		cursor := EncodeCursor(offset)
		got, err := DecodeCursor(cursor)
		if err != nil {
			t.Fatalf("DecodeCursor(%q): %v", cursor, err)
		}
		if got != offset {
			t.Errorf("round trip %d -> %d", offset, got)
		}
	}
}

func TestDecodeCursorEmpty(t *testing.T) {
	offset, err := DecodeCursor("")
	if err != nil || offset != 0 {
		t.Errorf("empty cursor = (%d, %v), want (0, nil)", offset, err)
	}
}

func TestDecodeCursorInvalid(t *testing.T) {
	for _, cursor := range []string{"!!!", "bm90LWEtbnVtYmVy", "LTU="} { // garbage, "not-a-number", "-5"
		if _, err := DecodeCursor(cursor); !errors.Is(err, ErrInvalidCursor) {
			t.Errorf("DecodeCursor(%q) = %v, want ErrInvalidCursor", cursor, err)
		}
	}
}

func TestPage(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		offset    int
		pageSize  int
		wantStart int
		wantEnd   int
		wantNext  bool
		wantErr   bool
	}{
		{"first full page", 150, 0, 100, 0, 100, true, false},
		{"last partial page", 150, 100, 100, 100, 150, false, false},
		{"exact boundary", 200, 100, 100, 100, 200, false, false},
		{"empty list", 0, 0, 100, 0, 0, false, false},
		{"zero size uses default", 150, 0, 0, 0, 100, true, false},
		{"oversize clamped", 1000, 0, 9999, 0, 500, true, false},
		{"offset past end", 10, 50, 100, 0, 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, next, err := Page(tt.total, tt.offset, tt.pageSize)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if start != tt.wantStart || end != tt.wantEnd {
				t.Errorf("bounds = [%d,%d), want [%d,%d)", start, end, tt.wantStart, tt.wantEnd)
			}
			if (next != "") != tt.wantNext {
				t.Errorf("nextCursor = %q, wantNext=%v", next, tt.wantNext)
			}
		})
	}
}

func TestPageCursorChain(t *testing.T) {
	// Walking the cursor chain over 250 items with the default page size
	// must visit every index exactly once.
	total := 250
	visited := 0
	cursor := ""
	for {
		offset, err := DecodeCursor(cursor)
		if err != nil {
			t.Fatal(err)
		}
		start, end, next, err := Page(total, offset, DefaultPageSize)
		if err != nil {
			t.Fatal(err)
		}
		visited += end - start
		if next == "" {
			break
		}
		cursor = next
	}
	if visited != total {
		t.Errorf("visited %d items, want %d", visited, total)
	}
}
