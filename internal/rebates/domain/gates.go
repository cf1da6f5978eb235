package domain

// Gate is the action currently permitted on a stage.
type Gate string

const (
	GateHidden        Gate = "Hidden"
	GateViewOnly      Gate = "ViewOnly"
	GateEditable      Gate = "Editable"
	GateCreatableNext Gate = "CreatableNext"
)

// StageGate is the resolved gate of one stage. PendingInvalidation is set when
// any earlier stage needs edits while this stage already has a submission; the
// submission is then due for cascade deletion.
type StageGate struct {
	Gate                Gate
	State               LifecycleState
	PendingInvalidation bool
}

// ActionSet holds the gates of all three stages.
type ActionSet struct {
	FRF StageGate
	PRF StageGate
	CRF StageGate
}

// For returns the gate of stage.
func (a ActionSet) For(stage Stage) StageGate {
	switch stage {
	case StageFRF:
		return a.FRF
	case StagePRF:
		return a.PRF
	case StageCRF:
		return a.CRF
	default:
		return StageGate{Gate: GateHidden, State: StateNotYetCreated}
	}
}

// CascadeTargets lists the stages flagged for invalidation.
func (a ActionSet) CascadeTargets() []Stage {
	var targets []Stage
	for _, stage := range Stages {
		if a.For(stage).PendingInvalidation {
			targets = append(targets, stage)
		}
	}
	return targets
}

// ResolveGates decides the permitted action for each stage of agg.
//
// A stage without a submission is CreatableNext when its predecessor is
// Selected, no earlier stage needs edits, and its period is open. Otherwise it
// is Hidden. A stage with a submission is Editable while Draft or
// EditsRequested in an open period, unless an earlier stage needs edits or its
// predecessor has no submission. Everything else with a submission is ViewOnly.
func ResolveGates(agg RebateAggregate, periods PeriodsOpen) ActionSet {
	states := DeriveStates(agg)

	var set ActionSet
	set.FRF = resolveStageGate(StageFRF, agg, states, periods)
	set.PRF = resolveStageGate(StagePRF, agg, states, periods)
	set.CRF = resolveStageGate(StageCRF, agg, states, periods)
	return set
}

func resolveStageGate(stage Stage, agg RebateAggregate, states StageStates, periods PeriodsOpen) StageGate {
	state := states.For(stage)
	gate := StageGate{State: state}

	pred, hasPred := stage.Predecessor()
	_, invalidated := invalidatingStage(stage, states)

	if agg.Pair(stage).Formio == nil {
		if hasPred && states.For(pred) == StateSelected && !invalidated && periods.Open(stage) {
			gate.Gate = GateCreatableNext
		} else {
			gate.Gate = GateHidden
		}
		return gate
	}

	gate.PendingInvalidation = invalidated

	// A later stage whose predecessor submission is gone has nothing to build on.
	predMissing := hasPred && agg.Pair(pred).Formio == nil

	editable := state == StateDraft || state == StateEditsRequested
	if editable && periods.Open(stage) && !invalidated && !predMissing {
		gate.Gate = GateEditable
	} else {
		gate.Gate = GateViewOnly
	}
	return gate
}

// invalidatingStage returns the nearest earlier stage that needs edits.
func invalidatingStage(stage Stage, states StageStates) (Stage, bool) {
	for up, ok := stage.Predecessor(); ok; up, ok = up.Predecessor() {
		if states.For(up) == StateEditsRequested {
			return up, true
		}
	}
	return "", false
}
