package banindex

import (
	"testing"

	"swarmgate/internal/domain"
)

func buildIndex(ranges ...domain.BanRange) *Index {
	idx := New()
	idx.Rebuild(ranges)
	return idx
}

func TestContainsEmptyIndex(t *testing.T) {
	idx := New()
	if idx.Contains(0) || idx.Contains(3232235776) {
		t.Fatal("empty index must never report containment")
	}
}

func TestContainsInclusiveBounds(t *testing.T) {
	// 192.168.1.0/24 expanded.
	idx := buildIndex(domain.BanRange{FromIP: 3232235776, ToIP: 3232236031})

	cases := []struct {
		name string
		addr uint32
		want bool
	}{
		{"below from", 3232235775, false},
		{"exactly from", 3232235776, true},
		{"inside", 3232235800, true},
		{"exactly to", 3232236031, true},
		{"above to", 3232236032, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := idx.Contains(tc.addr); got != tc.want {
				t.Fatalf("Contains(%d) = %v, want %v", tc.addr, got, tc.want)
			}
		})
	}
}

func TestContainsMultipleDisjointRanges(t *testing.T) {
	idx := buildIndex(
		domain.BanRange{FromIP: 100, ToIP: 200},
		domain.BanRange{FromIP: 500, ToIP: 600},
		domain.BanRange{FromIP: 1000, ToIP: 1000},
	)

	for _, addr := range []uint32{100, 150, 200, 500, 600, 1000} {
		if !idx.Contains(addr) {
			t.Fatalf("Contains(%d) = false, want true", addr)
		}
	}
	for _, addr := range []uint32{0, 99, 201, 499, 601, 999, 1001, 4294967295} {
		if idx.Contains(addr) {
			t.Fatalf("Contains(%d) = true, want false", addr)
		}
	}
}

func TestContainsOverlappingRanges(t *testing.T) {
	// A wide range nesting a narrower one that starts later: an address past
	// the narrow range's end must still hit the enclosing range.
	idx := buildIndex(
		domain.BanRange{FromIP: 100, ToIP: 1000},
		domain.BanRange{FromIP: 400, ToIP: 500},
		domain.BanRange{FromIP: 400, ToIP: 450},
	)

	for _, addr := range []uint32{100, 399, 400, 501, 999, 1000} {
		if !idx.Contains(addr) {
			t.Fatalf("Contains(%d) = false, want true", addr)
		}
	}
	if idx.Contains(99) || idx.Contains(1001) {
		t.Fatal("addresses outside the enclosing range must not be contained")
	}
}

func TestRebuildReplacesSnapshot(t *testing.T) {
	idx := buildIndex(domain.BanRange{FromIP: 100, ToIP: 200})
	if !idx.Contains(150) {
		t.Fatal("expected 150 contained before rebuild")
	}

	idx.Rebuild([]domain.BanRange{{FromIP: 300, ToIP: 400}})
	if idx.Contains(150) {
		t.Fatal("old range still visible after rebuild")
	}
	if !idx.Contains(350) {
		t.Fatal("new range not visible after rebuild")
	}
	if idx.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", idx.Len())
	}
}

func TestRebuildNormalizesInvertedBounds(t *testing.T) {
	idx := buildIndex(domain.BanRange{FromIP: 200, ToIP: 100})
	if !idx.Contains(150) {
		t.Fatal("inverted bounds should be normalized on rebuild")
	}
}
