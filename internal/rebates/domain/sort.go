package domain

import "sort"

// SortAggregates orders aggregates for display.
//
// The first pass sorts by the latest Formio modified time, newest first. The
// second pass is a stable partition that moves rebates needing the applicant's
// attention to the front. Both passes are stable, so sorting the output again
// returns it unchanged.
func SortAggregates(aggregates []RebateAggregate) []RebateAggregate {
	sorted := make([]RebateAggregate, len(aggregates))
	copy(sorted, aggregates)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastModified().After(sorted[j].LastModified())
	})

	promoted := make([]RebateAggregate, 0, len(sorted))
	rest := make([]RebateAggregate, 0, len(sorted))
	for _, agg := range sorted {
		if NeedsAttention(agg) {
			promoted = append(promoted, agg)
		} else {
			rest = append(rest, agg)
		}
	}

	return append(promoted, rest...)
}

// NeedsAttention reports whether the FRF needs edits or the most advanced
// Selected stage has no successor submission yet.
func NeedsAttention(agg RebateAggregate) bool {
	states := DeriveStates(agg)
	if states.FRF == StateEditsRequested {
		return true
	}

	for i := len(Stages) - 1; i >= 0; i-- {
		stage := Stages[i]
		if states.For(stage) != StateSelected {
			continue
		}
		next, ok := stage.Successor()
		return ok && agg.Pair(next).Formio == nil
	}
	return false
}
