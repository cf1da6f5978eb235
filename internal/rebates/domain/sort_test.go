package domain

import (
	"reflect"
	"testing"
)

func ids(aggs []RebateAggregate) []string {
	out := make([]string, len(aggs))
	for i, agg := range aggs {
		out[i] = agg.RebateID
	}
	return out
}

func plainAggregate(key string, modified int) RebateAggregate {
	return RebateAggregate{
		RebateID: key,
		FRF:      StagePair{Formio: submission(key, SubmissionSubmitted, at(modified))},
	}
}

func TestSortAggregatesOrdersByLatestActivity(t *testing.T) {
	older := plainAggregate("old", 0)
	newer := plainAggregate("new", 10)
	withPRF := RebateAggregate{
		RebateID: "prf",
		FRF:      StagePair{Formio: submission("f", SubmissionSubmitted, at(-50))},
		PRF:      StagePair{Formio: laterSubmission("p", "prf", SubmissionDraft, at(20))},
	}
	empty := RebateAggregate{RebateID: "empty"}

	got := ids(SortAggregates([]RebateAggregate{empty, older, newer, withPRF}))

	want := []string{"prf", "new", "old", "empty"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSortAggregatesPromotesAttentionNeeded(t *testing.T) {
	needsEdits := RebateAggregate{
		RebateID: "edits",
		FRF: StagePair{
			Formio: submission("e", SubmissionSubmitted, at(0)),
			Bap:    record(StageFRF, "edits", "e", BapStatusEditsRequested, at(5)),
		},
	}
	selectedNoPRF := RebateAggregate{
		RebateID: "selected",
		FRF: StagePair{
			Formio: submission("s", SubmissionSubmitted, at(1)),
			Bap:    record(StageFRF, "selected", "s", BapStatusAccepted, at(5)),
		},
	}
	selectedWithPRF := selectedNoPRF
	selectedWithPRF.RebateID = "progressing"
	selectedWithPRF.PRF = StagePair{Formio: laterSubmission("p", "progressing", SubmissionDraft, at(2))}

	recent := plainAggregate("recent", 100)

	got := ids(SortAggregates([]RebateAggregate{needsEdits, recent, selectedWithPRF, selectedNoPRF}))

	want := []string{"selected", "edits", "recent", "progressing"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSortAggregatesIsFixedPoint(t *testing.T) {
	input := []RebateAggregate{
		plainAggregate("a", 5),
		plainAggregate("b", 5),
		{RebateID: "c"},
		{
			RebateID: "d",
			FRF: StagePair{
				Formio: submission("d", SubmissionSubmitted, at(5)),
				Bap:    record(StageFRF, "d", "d", BapStatusAccepted, at(6)),
			},
		},
		plainAggregate("e", 7),
	}

	once := SortAggregates(input)
	twice := SortAggregates(once)

	if !reflect.DeepEqual(ids(once), ids(twice)) {
		t.Fatalf("expected fixed point, got %v then %v", ids(once), ids(twice))
	}
	if !reflect.DeepEqual(ids(once), []string{"d", "e", "a", "b", "c"}) {
		t.Fatalf("unexpected order %v", ids(once))
	}
}

func TestNeedsAttentionIgnoresFinishedPipeline(t *testing.T) {
	agg := RebateAggregate{
		RebateID: "done",
		FRF:      acceptedFRF(),
		PRF: StagePair{
			Formio: laterSubmission("p1", "done", SubmissionSubmitted, at(1)),
			Bap:    record(StagePRF, "done", "p1", BapStatusAccepted, at(2)),
		},
		CRF: StagePair{
			Formio: laterSubmission("c1", "done", SubmissionSubmitted, at(3)),
			Bap:    record(StageCRF, "done", "c1", BapStatusAccepted, at(4)),
		},
	}

	if NeedsAttention(agg) {
		t.Fatalf("expected completed rebate not to need attention")
	}

	agg.CRF = StagePair{}
	if !NeedsAttention(agg) {
		t.Fatalf("expected selected PRF without CRF to need attention")
	}
}
