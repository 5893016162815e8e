// Package placement computes the next free index range for a named
// cluster, given the indices already in use across every managed host.
package placement

import (
	"fmt"

	"github.com/clustdock/clustdock/pkg/rangeset"
)

// InvalidCount is returned when the requested node count is not
// positive.
type InvalidCount struct {
	N int
}

func (e *InvalidCount) Error() string {
	return fmt.Sprintf("invalid node count %d: must be > 0", e.N)
}

// Select computes n distinct non-negative indices disjoint from
// existing, following the deterministic gap-filling/extend-upward
// algorithm in spec.md §4.2:
//
//  1. Start with candidate range C = [0, n-1].
//  2. While C ∩ existing != ∅: let K = C ∩ existing, remove K from C,
//     let m = max(K ∪ C) + 1, extend C upward by
//     [m, m + max(|K|, n - |C|) - 1]; repeat.
//  3. Return the first n elements of C in ascending order.
//
// Small clusters reuse low indices whenever a gap appears; large
// clusters extend contiguously past the current maximum. The loop
// terminates because each iteration strictly increases min(C \ existing).
func Select(n int, existing rangeset.Set) ([]int, error) {
	if n <= 0 {
		return nil, &InvalidCount{N: n}
	}

	c := rangeset.AddRange(rangeset.Set{}, 0, n-1)

	for {
		k := rangeset.Intersection(c, existing)
		if len(k) == 0 {
			break
		}
		c = rangeset.Difference(c, k)

		union := rangeset.Union(k, c)
		maxVal, _ := rangeset.Max(union)
		m := maxVal + 1

		extendBy := len(k)
		if need := n - len(c); need > extendBy {
			extendBy = need
		}
		c = rangeset.AddRange(c, m, m+extendBy-1)
	}

	sorted := rangeset.Sorted(c)
	return sorted[:n], nil
}
