package timers

import (
	"fmt"
	"math"

	"github.com/ValentinKolb/dPersist/lib/db/util"
	"github.com/ValentinKolb/dPersist/lib/store"
	"github.com/cespare/xxhash/v2"
)

// HashRange is the ring segment (Begin, End] over the uint32 hash space.
//   - Begin < End: the ordinary interval
//   - Begin > End: wraps around zero, (Begin, MaxUint32] and [0, End]
//   - Begin == End: the whole ring
type HashRange struct {
	Begin uint32
	End   uint32
}

// WholeRing is the range every hash belongs to
var WholeRing = HashRange{}

// Contains reports whether h lies in the range
func (r HashRange) Contains(h uint32) bool {
	switch {
	case r.Begin < r.End:
		return h > r.Begin && h <= r.End
	case r.Begin > r.End:
		return h > r.Begin || h <= r.End
	default:
		return true
	}
}

// RankRanges translates the range into inclusive rank ranges for a store query.
// The whole ring needs no rank filter and returns nil.
func (r HashRange) RankRanges() []store.RankRange {
	switch {
	case r.Begin < r.End:
		return []store.RankRange{{Min: uint64(r.Begin) + 1, Max: uint64(r.End)}}
	case r.Begin > r.End:
		ranges := make([]store.RankRange, 0, 2)
		if r.Begin != math.MaxUint32 {
			ranges = append(ranges, store.RankRange{Min: uint64(r.Begin) + 1, Max: math.MaxUint32})
		}
		return append(ranges, store.RankRange{Min: 0, Max: uint64(r.End)})
	default:
		return nil
	}
}

func (r HashRange) String() string {
	if r.Begin == r.End {
		return "(whole ring)"
	}
	return fmt.Sprintf("(%d, %d]", r.Begin, r.End)
}

// SplitRing divides the ring into n contiguous ranges that cover every hash exactly once.
// n <= 1 returns the whole ring.
func SplitRing(n int) []HashRange {
	if n <= 1 {
		return []HashRange{WholeRing}
	}

	bound := func(i int) uint32 {
		return uint32(uint64(i%n) * (math.MaxUint32 + 1) / uint64(n))
	}

	ranges := make([]HashRange, n)
	for i := 0; i < n; i++ {
		ranges[i] = HashRange{Begin: bound(i), End: bound(i + 1)}
	}
	return ranges
}

// OwnerHash is the default ring position of an owner: xxhash64 of the owner key
// folded to 32 bits. It is stable across processes and restarts.
func OwnerHash(ownerKey string) uint32 {
	return util.Fold32(xxhash.Sum64String(ownerKey))
}
