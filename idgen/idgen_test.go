package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_Format(t *testing.T) {
	gen := UUIDv7()
	id := gen()
	if _, err := Parse(id); err != nil {
		t.Fatalf("UUIDv7 produced unparseable ID %q: %v", id, err)
	}
	if len(id) != 36 {
		t.Fatalf("UUIDv7: got length %d, want 36", len(id))
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 100; i++ {
		next := gen()
		if next < prev {
			// v7 IDs generated in sequence must not sort backwards.
			t.Fatalf("UUIDv7 not monotonic: %q after %q", next, prev)
		}
		prev = next
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("rev_", UUIDv7())
	id := gen()
	if !strings.HasPrefix(id, "rev_") {
		t.Fatalf("Prefixed: got %q, want rev_ prefix", id)
	}
	if _, err := Parse(strings.TrimPrefix(id, "rev_")); err != nil {
		t.Fatalf("Prefixed: suffix not a UUID: %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatal("Parse accepted invalid input")
	}
}
