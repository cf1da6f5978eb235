package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rebate_portal_backend/internal/rebates/domain"
	"rebate_portal_backend/internal/rebates/formio"
	"rebate_portal_backend/internal/rebates/guard"
	"rebate_portal_backend/internal/rebates/transport"
	"rebate_portal_backend/platform/apperr"
	"rebate_portal_backend/platform/metrics"
)

const (
	opCreateFRF     = "create_frf"
	opCreateStage   = "create_stage"
	opSaveStage     = "save_stage"
	opCascadeDelete = "cascade_delete"

	cascadeDeleted        = "deleted"
	cascadeAlreadyDeleted = "already_deleted"
	cascadeGuardRejected  = "guard_rejected"
	cascadeFailed         = "failed"
)

// CreateFRF starts a new funding request for one of the caller's entities.
func (s *Service) CreateFRF(ctx context.Context, email, year string, req transport.CreateFRFRequest) (resp transport.SubmissionResponse, err error) {
	defer func() { recordOutcome(opCreateFRF, err) }()

	yc, ok := s.years.RebateYear(year)
	if !ok {
		return transport.SubmissionResponse{}, apperr.NotFound(errYearNotFound)
	}
	if !yc.FRF.Open {
		return transport.SubmissionResponse{}, apperr.Unprocessable("the funding request period is closed").
			WithDetails(map[string]any{"reason": "period_closed", "stage": domain.StageFRF})
	}

	keys, err := s.comboKeys(ctx, email)
	if err != nil {
		return transport.SubmissionResponse{}, err
	}
	if !contains(keys, req.ComboKey) {
		return transport.SubmissionResponse{}, apperr.Forbidden(errEntityNotAllowed)
	}

	release, err := s.acquire(ctx, guard.Key(year, req.ComboKey, "frf-new"))
	if err != nil {
		return transport.SubmissionResponse{}, err
	}
	defer release()

	form := formFor(yc, domain.StageFRF)
	sub, err := s.forms.CreateSubmission(ctx, form, formio.SubmissionInput{
		State: domain.SubmissionDraft,
		Data:  map[string]any{form.ComboKeyField: req.ComboKey},
	})
	if err != nil {
		logBackendError(s.log.WithContext(ctx), "formio", "create_frf", err)
		return transport.SubmissionResponse{}, apperr.Unavailable("could not create submission", err)
	}

	s.log.WithContext(ctx).Info("funding request created", "year", year, "submission_id", sub.ID)
	return toSubmissionResponse(&sub), nil
}

// CreateNextStage creates the PRF or CRF of a rebate once its predecessor is
// Selected. The gate is resolved again from fresh data before anything is written.
func (s *Service) CreateNextStage(ctx context.Context, email, year, rebateID string, stage domain.Stage) (resp transport.SubmissionResponse, err error) {
	defer func() { recordOutcome(opCreateStage, err) }()

	pred, ok := stage.Predecessor()
	if !ok {
		return transport.SubmissionResponse{}, apperr.Unprocessable("funding requests are started from an entity, not a rebate").
			WithDetails(map[string]any{"reason": "invalid_transition", "stage": stage})
	}

	release, err := s.acquire(ctx, guard.Key(year, rebateID, string(stage)))
	if err != nil {
		return transport.SubmissionResponse{}, err
	}
	defer release()

	snap, err := s.reconcile(ctx, email, year)
	if err != nil {
		return transport.SubmissionResponse{}, err
	}
	agg, ok := snap.find(rebateID)
	if !ok {
		return transport.SubmissionResponse{}, apperr.NotFound(errRebateNotFound)
	}

	gate := snap.gates(agg).For(stage)
	if gate.Gate != domain.GateCreatableNext {
		return transport.SubmissionResponse{}, invalidTransition("create", stage, gate)
	}

	form := formFor(snap.year, stage)
	data := map[string]any{
		form.ComboKeyField: agg.EntityComboKey(),
		form.RebateIDField: agg.RebateID,
	}
	if predSub := agg.Pair(pred).Formio; predSub != nil {
		for _, field := range stageConfig(snap.year, stage).PrefillFields {
			if value, ok := predSub.Data[field]; ok {
				data[field] = value
			}
		}
	}

	sub, err := s.forms.CreateSubmission(ctx, form, formio.SubmissionInput{State: domain.SubmissionDraft, Data: data})
	if err != nil {
		logBackendError(s.log.WithContext(ctx), "formio", "create_"+string(stage), err)
		return transport.SubmissionResponse{}, apperr.Unavailable("could not create submission", err)
	}

	s.log.WithContext(ctx).Info("rebate stage created", "year", year, "rebate_id", rebateID, "stage", stage, "submission_id", sub.ID)
	return toSubmissionResponse(&sub), nil
}

// SaveStage saves or submits a stage whose gate is Editable. The hidden
// ownership fields are restored from the stored submission.
func (s *Service) SaveStage(ctx context.Context, email, year, rebateID string, stage domain.Stage, req transport.SaveSubmissionRequest) (resp transport.SubmissionResponse, err error) {
	defer func() { recordOutcome(opSaveStage, err) }()

	release, err := s.acquire(ctx, guard.Key(year, rebateID, string(stage)))
	if err != nil {
		return transport.SubmissionResponse{}, err
	}
	defer release()

	snap, err := s.reconcile(ctx, email, year)
	if err != nil {
		return transport.SubmissionResponse{}, err
	}
	agg, ok := snap.find(rebateID)
	if !ok {
		return transport.SubmissionResponse{}, apperr.NotFound(errRebateNotFound)
	}

	gate := snap.gates(agg).For(stage)
	if gate.Gate != domain.GateEditable {
		return transport.SubmissionResponse{}, invalidTransition("save", stage, gate)
	}

	stored := agg.Pair(stage).Formio
	form := formFor(snap.year, stage)

	data := make(map[string]any, len(req.Data)+2)
	for k, v := range req.Data {
		data[k] = v
	}
	data[form.ComboKeyField] = stored.EntityComboKey
	if stored.RebateID != "" {
		data[form.RebateIDField] = stored.RebateID
	}

	sub, err := s.forms.UpdateSubmission(ctx, form, stored.ID, formio.SubmissionInput{
		State: domain.SubmissionState(req.State),
		Data:  data,
	})
	if errors.Is(err, formio.ErrSubmissionNotFound) {
		return transport.SubmissionResponse{}, apperr.NotFound("submission no longer exists")
	}
	if err != nil {
		logBackendError(s.log.WithContext(ctx), "formio", "update_"+string(stage), err)
		return transport.SubmissionResponse{}, apperr.Unavailable("could not save submission", err)
	}

	return toSubmissionResponse(&sub), nil
}

// RequestCascadeDelete deletes a later-stage submission after an earlier stage
// was sent back for edits. That stage's BAP record is read again right before
// the delete and must still say "Edits Requested". Deleting a submission that
// is already gone succeeds.
func (s *Service) RequestCascadeDelete(ctx context.Context, email, year, rebateID string, stage domain.Stage) (err error) {
	defer func() { recordOutcome(opCascadeDelete, err) }()
	log := s.log.WithContext(ctx)

	if stage == domain.StageFRF {
		return apperr.Unprocessable("funding requests cannot be cascade deleted").
			WithDetails(map[string]any{"reason": "invalid_transition", "stage": stage})
	}

	release, err := s.acquire(ctx, guard.Key(year, rebateID, string(stage)))
	if err != nil {
		return err
	}
	defer release()

	snap, err := s.reconcile(ctx, email, year)
	if err != nil {
		return err
	}
	agg, ok := snap.find(rebateID)
	if !ok {
		return apperr.NotFound(errRebateNotFound)
	}

	target, ok := domain.PlanCascade(agg, stage)
	if !ok {
		if agg.Pair(stage).Formio == nil {
			log.CascadeEvent(rebateID, string(stage), "", cascadeAlreadyDeleted)
			return nil
		}
		log.CascadeEvent(rebateID, string(stage), agg.Pair(stage).Formio.ID, cascadeGuardRejected)
		return staleGuardRejected()
	}

	live, err := s.statuses.StageStatus(ctx, year, target.Upstream, agg.RebateID)
	if err != nil {
		logBackendError(log, "bap", "stage_status", err)
		return apperr.Unavailable(errCouldNotLoad, err).WithOp("cascade guard")
	}
	if !domain.CascadeGuardHolds(live) {
		log.CascadeEvent(rebateID, string(stage), target.Submission.ID, cascadeGuardRejected)
		return staleGuardRejected()
	}

	form := formFor(snap.year, stage)
	current, err := s.forms.GetSubmission(ctx, form, target.Submission.ID)
	if errors.Is(err, formio.ErrSubmissionNotFound) {
		log.CascadeEvent(rebateID, string(stage), target.Submission.ID, cascadeAlreadyDeleted)
		return nil
	}
	if err != nil {
		logBackendError(log, "formio", "get_"+string(stage), err)
		return retryableDeleteFailure(err)
	}
	if current.RebateID != agg.RebateID {
		log.CascadeEvent(rebateID, string(stage), target.Submission.ID, cascadeGuardRejected)
		return staleGuardRejected()
	}

	err = s.forms.DeleteSubmission(ctx, form, target.Submission.ID)
	if errors.Is(err, formio.ErrSubmissionNotFound) {
		log.CascadeEvent(rebateID, string(stage), target.Submission.ID, cascadeAlreadyDeleted)
		return nil
	}
	if err != nil {
		log.CascadeEvent(rebateID, string(stage), target.Submission.ID, cascadeFailed)
		logBackendError(log, "formio", "delete_"+string(stage), err)
		return retryableDeleteFailure(err)
	}

	log.CascadeEvent(rebateID, string(stage), target.Submission.ID, cascadeDeleted)
	return nil
}

func (s *Service) acquire(ctx context.Context, key string) (func(), error) {
	release, err := s.guard.Acquire(ctx, key)
	if errors.Is(err, guard.ErrInFlight) {
		return nil, apperr.Conflict("another change to this form is in progress").
			WithDetails(map[string]any{"reason": "mutation_in_progress", "retryable": true})
	}
	if err != nil {
		return nil, apperr.Unavailable("could not acquire mutation guard", err)
	}
	return release, nil
}

func invalidTransition(action string, stage domain.Stage, gate domain.StageGate) error {
	msg := fmt.Sprintf("cannot %s %s while it is %s", action, strings.ToUpper(string(stage)), gate.Gate)
	return apperr.Unprocessable(msg).WithDetails(map[string]any{
		"reason": "invalid_transition",
		"stage":  stage,
		"gate":   gate.Gate,
		"state":  gate.State,
	})
}

func staleGuardRejected() error {
	return apperr.Conflict("the status of this rebate changed, please reload and retry").
		WithDetails(map[string]any{"reason": "stale_guard_rejected", "retryable": true})
}

func retryableDeleteFailure(err error) error {
	return apperr.Unavailable("could not delete submission", err).
		WithDetails(map[string]any{"reason": "delete_failed", "retryable": true})
}

func recordOutcome(operation string, err error) {
	outcome := "ok"
	if err != nil {
		switch apperr.GetKind(err) {
		case apperr.KindConflict:
			outcome = "conflict"
		case apperr.KindUnprocessable:
			outcome = "invalid_transition"
		case apperr.KindUnavailable:
			outcome = "unavailable"
		case apperr.KindNotFound:
			outcome = "not_found"
		default:
			outcome = "rejected"
		}
	}
	metrics.GuardedMutationsTotal.WithLabelValues(operation, outcome).Inc()
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
