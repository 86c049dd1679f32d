package banindex

import (
	"sort"
	"sync/atomic"

	"swarmgate/internal/domain"
)

// interval is the index's internal copy of a ban range. maxTo carries the
// largest end bound seen up to and including this entry in sorted order,
// which keeps containment queries a single binary search even when ranges
// overlap or nest.
type interval struct {
	from  uint32
	to    uint32
	maxTo uint32
}

// Index answers point-containment queries over the current set of banned
// IPv4 ranges. Readers load an immutable snapshot, so queries never block
// each other or a concurrent rebuild.
type Index struct {
	snapshot atomic.Value // []interval, sorted by from ascending
}

func New() *Index {
	idx := &Index{}
	idx.snapshot.Store([]interval(nil))
	return idx
}

// Rebuild replaces the entire index atomically. Concurrent readers see
// either the previous or the new set, never a partial one.
func (idx *Index) Rebuild(ranges []domain.BanRange) {
	intervals := make([]interval, 0, len(ranges))
	for _, r := range ranges {
		from, to := r.FromIP, r.ToIP
		if from > to {
			from, to = to, from
		}
		intervals = append(intervals, interval{from: from, to: to})
	}
	sort.Slice(intervals, func(i, j int) bool {
		if intervals[i].from == intervals[j].from {
			return intervals[i].to < intervals[j].to
		}
		return intervals[i].from < intervals[j].from
	})
	for i := range intervals {
		intervals[i].maxTo = intervals[i].to
		if i > 0 && intervals[i-1].maxTo > intervals[i].maxTo {
			intervals[i].maxTo = intervals[i-1].maxTo
		}
	}
	idx.snapshot.Store(intervals)
}

// Len reports how many ranges the current snapshot holds.
func (idx *Index) Len() int {
	return len(idx.load())
}

// Contains reports whether addr falls inside any banned range. Bounds are
// inclusive. Among the intervals starting at or before addr, the prefix
// maximum of the end bounds decides containment, so overlapping and nested
// ranges need no backward scan.
func (idx *Index) Contains(addr uint32) bool {
	intervals := idx.load()
	if len(intervals) == 0 {
		return false
	}

	// First interval with from > addr; everything before it is a candidate.
	n := sort.Search(len(intervals), func(i int) bool {
		return intervals[i].from > addr
	})
	if n == 0 {
		return false
	}
	return intervals[n-1].maxTo >= addr
}

func (idx *Index) load() []interval {
	raw, _ := idx.snapshot.Load().([]interval)
	return raw
}
