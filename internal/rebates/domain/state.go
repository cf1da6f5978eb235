package domain

// LifecycleState is the canonical state of one stage, recomputed on every read.
type LifecycleState string

const (
	StateNotYetCreated      LifecycleState = "NotYetCreated"
	StateDraft              LifecycleState = "Draft"
	StateSubmitted          LifecycleState = "Submitted"
	StateNeedsClarification LifecycleState = "NeedsClarification"
	StateEditsRequested     LifecycleState = "EditsRequested"
	StateWithdrawn          LifecycleState = "Withdrawn"
	StateNotSelected        LifecycleState = "NotSelected"
	StateSelected           LifecycleState = "Selected"
)

// DeriveState computes the lifecycle state of a stage from its two records.
// The rules run in order and the function is total: every pair yields a state.
//
// BAP can lag Formio, so an "Edits Requested" record only counts while the
// submission has not been resubmitted after it. Equal timestamps count as not
// resubmitted.
func DeriveState(pair StagePair) LifecycleState {
	formio, bap := pair.Formio, pair.Bap

	if formio == nil {
		return StateNotYetCreated
	}
	if bap == nil {
		return mirrorFormio(formio)
	}

	switch bap.Status {
	case BapStatusWithdrawn:
		return StateWithdrawn
	case BapStatusEditsRequested:
		if ResubmittedAfter(formio, bap) {
			return StateSubmitted
		}
		return StateEditsRequested
	case BapStatusNeedsClarification, BapStatusReimbursementNeeded:
		return StateNeedsClarification
	case BapStatusCoordinatorDenied, BapStatusBranchDirectorDenied:
		return StateNotSelected
	case BapStatusAccepted:
		return StateSelected
	default:
		return mirrorFormio(formio)
	}
}

// ResubmittedAfter reports whether the submission was submitted again after
// the BAP record was taken.
func ResubmittedAfter(formio *FormSubmission, bap *BapStatusRecord) bool {
	return formio.State == SubmissionSubmitted && formio.Modified.After(bap.Modified)
}

func mirrorFormio(formio *FormSubmission) LifecycleState {
	if formio.State == SubmissionDraft {
		return StateDraft
	}
	return StateSubmitted
}

// StageStates holds the derived state of every stage of an aggregate.
type StageStates struct {
	FRF LifecycleState
	PRF LifecycleState
	CRF LifecycleState
}

// For returns the state of stage.
func (s StageStates) For(stage Stage) LifecycleState {
	switch stage {
	case StageFRF:
		return s.FRF
	case StagePRF:
		return s.PRF
	case StageCRF:
		return s.CRF
	default:
		return StateNotYetCreated
	}
}

// DeriveStates runs DeriveState over the three stages of agg.
func DeriveStates(agg RebateAggregate) StageStates {
	return StageStates{
		FRF: DeriveState(agg.FRF),
		PRF: DeriveState(agg.PRF),
		CRF: DeriveState(agg.CRF),
	}
}
