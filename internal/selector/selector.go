// Package selector implements weight-proportional sampling (C6), used to
// pick a winning rule among matches and, within it, a winning destination.
// It generalizes the teacher's two selection strategies —
// internal/logic/selectors/rule_based.go's priority-bucket ranking (which
// needed an injectable ShuffleFn for deterministic tests) and random.go's
// plain rand.Intn pick — into one weight-proportional sampler used
// identically for rules, destinations, and click destinations.
package selector

import (
	"errors"
	"math/rand"

	"github.com/clickrelay/edge-dispatcher/internal/rules"
)

// ErrEmpty is returned when there is nothing to select from.
var ErrEmpty = errors.New("selector: no candidates")

// Weighted is implemented by every candidate type eligible for selection.
type Weighted = rules.Weighted

// Pick samples one item from items with probability proportional to its
// Weight(), using rng as the source of randomness. Ties are broken by
// first-appearance order: items are walked in slice order and the first one
// whose cumulative weight reaches the draw wins, so equal-weight items
// nearer the front of the slice are favored only in the degenerate zero-sum
// case, never in the steady-state distribution (§9 Open Question #2).
func Pick[T Weighted](rng *rand.Rand, items []T) (T, int, error) {
	var zero T
	if len(items) == 0 {
		return zero, -1, ErrEmpty
	}
	if len(items) == 1 {
		return items[0], 0, nil
	}

	total := 0
	for _, it := range items {
		total += it.Weight()
	}
	if total <= 0 {
		return items[0], 0, nil
	}

	draw := rng.Intn(total)
	cum := 0
	for i, it := range items {
		cum += it.Weight()
		if draw < cum {
			return items[i], i, nil
		}
	}
	// Unreachable in practice; guards against float/int rounding drift.
	return items[len(items)-1], len(items) - 1, nil
}

// New returns a rand.Rand seeded with seed; the same seed always yields the
// same sequence.
func New(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
