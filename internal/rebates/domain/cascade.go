package domain

// CascadeTarget is a later-stage submission invalidated by an earlier stage
// being sent back for edits. Upstream is the nearest such stage; its live BAP
// record is what the guard checks before deleting.
type CascadeTarget struct {
	Stage      Stage
	Upstream   Stage
	Submission FormSubmission
}

// PlanCascade returns the submission to delete when an earlier stage of agg
// needs edits and stage already has a submission. The earlier stage need not
// be the immediate predecessor: a CRF stays a target after its PRF is deleted.
func PlanCascade(agg RebateAggregate, stage Stage) (CascadeTarget, bool) {
	sub := agg.Pair(stage).Formio
	if sub == nil {
		return CascadeTarget{}, false
	}

	upstream, ok := invalidatingStage(stage, DeriveStates(agg))
	if !ok {
		return CascadeTarget{}, false
	}

	return CascadeTarget{Stage: stage, Upstream: upstream, Submission: *sub}, true
}

// CascadeGuardHolds reports whether a freshly read upstream record still
// asks for edits. A missing record fails the guard.
func CascadeGuardHolds(live *BapStatusRecord) bool {
	return live != nil && live.Status == BapStatusEditsRequested
}
