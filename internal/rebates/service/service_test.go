package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"rebate_portal_backend/internal/rebates/domain"
	"rebate_portal_backend/internal/rebates/formio"
	"rebate_portal_backend/internal/rebates/guard"
	"rebate_portal_backend/internal/rebates/transport"
	"rebate_portal_backend/platform/apperr"
	"rebate_portal_backend/platform/config"
	"rebate_portal_backend/platform/logger"
)

const (
	testEmail = "applicant@example.org"
	testYear  = "2023"
	comboKey  = "combo-1"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

type stubYears struct{ years []config.RebateYearConfig }

func (s stubYears) RebateYear(year string) (config.RebateYearConfig, bool) {
	for _, y := range s.years {
		if y.Year == year {
			return y, true
		}
	}
	return config.RebateYearConfig{}, false
}

func (s stubYears) RebateYearList() []config.RebateYearConfig { return s.years }

func stageForm(path string, open bool, prefill ...string) config.StageFormConfig {
	return config.StageFormConfig{
		Path:          path,
		ComboKeyField: "_combo",
		RebateIDField: "_rebate",
		Open:          open,
		PrefillFields: prefill,
	}
}

func yearConfig(frfOpen, prfOpen, crfOpen bool) stubYears {
	return stubYears{years: []config.RebateYearConfig{{
		Year: testYear,
		FRF:  stageForm("frf2023", frfOpen),
		PRF:  stageForm("prf2023", prfOpen, "orgName"),
		CRF:  stageForm("crf2023", crfOpen, "orgName"),
	}}}
}

type fakeForms struct {
	mu        sync.Mutex
	byPath    map[string][]domain.FormSubmission
	listErr   map[string]error
	getErr    error
	deleteErr error
	created   []formio.SubmissionInput
	updated   []formio.SubmissionInput
	deleted   []string
}

func newFakeForms() *fakeForms {
	return &fakeForms{byPath: map[string][]domain.FormSubmission{}, listErr: map[string]error{}}
}

func (f *fakeForms) ListSubmissions(_ context.Context, form formio.Form, _ []string) ([]domain.FormSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[form.Path]; err != nil {
		return nil, err
	}
	return f.byPath[form.Path], nil
}

func (f *fakeForms) GetSubmission(_ context.Context, form formio.Form, id string) (domain.FormSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.FormSubmission{}, f.getErr
	}
	for _, sub := range f.byPath[form.Path] {
		if sub.ID == id {
			return sub, nil
		}
	}
	return domain.FormSubmission{}, formio.ErrSubmissionNotFound
}

func (f *fakeForms) CreateSubmission(_ context.Context, form formio.Form, in formio.SubmissionInput) (domain.FormSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	return domain.FormSubmission{ID: "new-" + form.Path, State: in.State, Data: in.Data, Modified: at(100)}, nil
}

func (f *fakeForms) UpdateSubmission(_ context.Context, _ formio.Form, id string, in formio.SubmissionInput) (domain.FormSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, in)
	return domain.FormSubmission{ID: id, State: in.State, Data: in.Data, Modified: at(100)}, nil
}

func (f *fakeForms) DeleteSubmission(_ context.Context, _ formio.Form, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeStatuses struct {
	keys       []string
	keysErr    error
	records    []domain.BapStatusRecord
	recordsErr error
	live       *domain.BapStatusRecord
	liveErr    error
}

func (f *fakeStatuses) StatusesForComboKeys(context.Context, []string) ([]domain.BapStatusRecord, error) {
	return f.records, f.recordsErr
}

func (f *fakeStatuses) StageStatus(context.Context, string, domain.Stage, string) (*domain.BapStatusRecord, error) {
	return f.live, f.liveErr
}

func (f *fakeStatuses) ComboKeysForEmail(context.Context, string) ([]string, error) {
	return f.keys, f.keysErr
}

func frf(id string, state domain.SubmissionState, modified time.Time) domain.FormSubmission {
	return domain.FormSubmission{
		ID:             id,
		State:          state,
		Modified:       modified,
		EntityComboKey: comboKey,
		Data:           map[string]any{"_combo": comboKey, "orgName": "Springfield USD"},
	}
}

func later(id, rebateID string, state domain.SubmissionState, modified time.Time) domain.FormSubmission {
	sub := frf(id, state, modified)
	sub.RebateID = rebateID
	return sub
}

func status(stage domain.Stage, rebateID, formID string, st domain.BapStatus, modified time.Time) domain.BapStatusRecord {
	return domain.BapStatusRecord{
		RebateID:       rebateID,
		ReviewItemID:   "ri-" + formID,
		EntityComboKey: comboKey,
		Modified:       modified,
		Status:         st,
		FormID:         formID,
		Stage:          stage,
		Year:           testYear,
	}
}

func newTestService(forms *fakeForms, statuses *fakeStatuses, years stubYears) *Service {
	if statuses.keys == nil && statuses.keysErr == nil {
		statuses.keys = []string{comboKey}
	}
	return New(forms, statuses, guard.NewLocal(), years, logger.NewWithWriter("test", io.Discard))
}

func assertKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of kind %d, got nil", kind)
	}
	if apperr.GetKind(err) != kind {
		t.Fatalf("expected error kind %d, got %d (%v)", kind, apperr.GetKind(err), err)
	}
}

func detailReason(t *testing.T, err error) string {
	t.Helper()
	var domainErr *apperr.Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected *apperr.Error, got %T", err)
	}
	details, _ := domainErr.Details.(map[string]any)
	reason, _ := details["reason"].(string)
	return reason
}

func TestGetAggregatesSortsAndResolvesGates(t *testing.T) {
	forms := newFakeForms()
	forms.byPath["frf2023"] = []domain.FormSubmission{
		frf("f-selected", domain.SubmissionSubmitted, at(0)),
		frf("f-recent", domain.SubmissionDraft, at(50)),
	}
	statuses := &fakeStatuses{records: []domain.BapStatusRecord{
		status(domain.StageFRF, "R1", "f-selected", domain.BapStatusAccepted, at(5)),
	}}
	svc := newTestService(forms, statuses, yearConfig(true, true, false))

	resp, err := svc.GetAggregates(context.Background(), testEmail, testYear)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Total != 2 {
		t.Fatalf("expected 2 rebates, got %d", resp.Total)
	}
	first := resp.Items[0]
	if first.RebateID != "R1" || !first.NeedsAttention {
		t.Fatalf("expected selected rebate promoted first, got %+v", first)
	}
	if first.Stages.FRF.State != string(domain.StateSelected) || first.Stages.PRF.Gate != string(domain.GateCreatableNext) {
		t.Fatalf("unexpected stages %+v", first.Stages)
	}
	second := resp.Items[1]
	if second.RebateID != "_f-recent" || !second.Provisional || second.Stages.FRF.Gate != string(domain.GateEditable) {
		t.Fatalf("unexpected provisional rebate %+v", second)
	}
}

func TestGetAggregatesWithoutEntitiesSkipsFetches(t *testing.T) {
	forms := newFakeForms()
	forms.listErr["frf2023"] = errors.New("must not be called")
	statuses := &fakeStatuses{keys: []string{}}
	svc := newTestService(forms, statuses, yearConfig(true, true, true))

	resp, err := svc.GetAggregates(context.Background(), testEmail, testYear)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Total != 0 || resp.Items == nil {
		t.Fatalf("expected empty non-nil list, got %+v", resp)
	}
}

func TestGetAggregatesFailsWholeReconciliationOnAnyFetchError(t *testing.T) {
	tests := map[string]func(*fakeForms, *fakeStatuses){
		"formio prf": func(f *fakeForms, _ *fakeStatuses) { f.listErr["prf2023"] = errors.New("502 from formio") },
		"bap":        func(_ *fakeForms, s *fakeStatuses) { s.recordsErr = errors.New("connection refused") },
		"sam":        func(_ *fakeForms, s *fakeStatuses) { s.keysErr = errors.New("connection refused") },
	}

	for name, breakIt := range tests {
		t.Run(name, func(t *testing.T) {
			forms := newFakeForms()
			forms.byPath["frf2023"] = []domain.FormSubmission{frf("f1", domain.SubmissionDraft, at(0))}
			statuses := &fakeStatuses{}
			breakIt(forms, statuses)
			svc := newTestService(forms, statuses, yearConfig(true, true, true))

			resp, err := svc.GetAggregates(context.Background(), testEmail, testYear)
			assertKind(t, err, apperr.KindUnavailable)
			if resp.Items != nil {
				t.Fatalf("expected no partial result, got %+v", resp)
			}
		})
	}
}

func TestGetAggregateUnknownYearAndRebate(t *testing.T) {
	svc := newTestService(newFakeForms(), &fakeStatuses{}, yearConfig(true, true, true))

	_, err := svc.GetAggregate(context.Background(), testEmail, "1999", "R1")
	assertKind(t, err, apperr.KindNotFound)

	_, err = svc.GetAggregate(context.Background(), testEmail, testYear, "R404")
	assertKind(t, err, apperr.KindNotFound)
}

func TestGetAggregateUsesYearPeriods(t *testing.T) {
	forms := newFakeForms()
	forms.byPath["frf2023"] = []domain.FormSubmission{frf("f1", domain.SubmissionDraft, at(0))}
	svc := newTestService(forms, &fakeStatuses{}, yearConfig(false, false, false))

	resp, err := svc.GetAggregate(context.Background(), testEmail, testYear, "_f1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Stages.FRF.Gate != string(domain.GateViewOnly) {
		t.Fatalf("expected view-only draft in closed period, got %s", resp.Stages.FRF.Gate)
	}
}

func TestListYears(t *testing.T) {
	svc := newTestService(newFakeForms(), &fakeStatuses{}, yearConfig(false, true, false))

	resp := svc.ListYears()
	if len(resp.Items) != 1 || resp.Items[0].Year != testYear || !resp.Items[0].PeriodsOpen.PRF || resp.Items[0].PeriodsOpen.FRF {
		t.Fatalf("unexpected years %+v", resp)
	}
}

func TestCreateFRF(t *testing.T) {
	forms := newFakeForms()
	svc := newTestService(forms, &fakeStatuses{}, yearConfig(true, false, false))

	resp, err := svc.CreateFRF(context.Background(), testEmail, testYear, transport.CreateFRFRequest{ComboKey: comboKey})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ID != "new-frf2023" || len(forms.created) != 1 || forms.created[0].Data["_combo"] != comboKey {
		t.Fatalf("unexpected create %+v / %+v", resp, forms.created)
	}

	_, err = svc.CreateFRF(context.Background(), testEmail, testYear, transport.CreateFRFRequest{ComboKey: "someone-else"})
	assertKind(t, err, apperr.KindForbidden)
}

func TestCreateFRFRejectedWhenPeriodClosed(t *testing.T) {
	forms := newFakeForms()
	svc := newTestService(forms, &fakeStatuses{}, yearConfig(false, false, false))

	_, err := svc.CreateFRF(context.Background(), testEmail, testYear, transport.CreateFRFRequest{ComboKey: comboKey})
	assertKind(t, err, apperr.KindUnprocessable)
	if len(forms.created) != 0 {
		t.Fatalf("expected nothing to be created")
	}
}

func TestCreateNextStagePrefillsFromPredecessor(t *testing.T) {
	forms := newFakeForms()
	forms.byPath["frf2023"] = []domain.FormSubmission{frf("f1", domain.SubmissionSubmitted, at(0))}
	statuses := &fakeStatuses{records: []domain.BapStatusRecord{
		status(domain.StageFRF, "R1", "f1", domain.BapStatusAccepted, at(5)),
	}}
	svc := newTestService(forms, statuses, yearConfig(false, true, false))

	if _, err := svc.CreateNextStage(context.Background(), testEmail, testYear, "R1", domain.StagePRF); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(forms.created) != 1 {
		t.Fatalf("expected one create, got %d", len(forms.created))
	}
	data := forms.created[0].Data
	if data["_combo"] != comboKey || data["_rebate"] != "R1" || data["orgName"] != "Springfield USD" {
		t.Fatalf("unexpected prefill %v", data)
	}
	if forms.created[0].State != domain.SubmissionDraft {
		t.Fatalf("expected draft, got %s", forms.created[0].State)
	}
}

func TestCreateNextStageRejectsInvalidTransition(t *testing.T) {
	forms := newFakeForms()
	forms.byPath["frf2023"] = []domain.FormSubmission{frf("f1", domain.SubmissionSubmitted, at(0))}
	statuses := &fakeStatuses{records: []domain.BapStatusRecord{
		status(domain.StageFRF, "R1", "f1", domain.BapStatusSubmitted, at(5)),
	}}
	svc := newTestService(forms, statuses, yearConfig(false, true, false))

	_, err := svc.CreateNextStage(context.Background(), testEmail, testYear, "R1", domain.StagePRF)
	assertKind(t, err, apperr.KindUnprocessable)
	if reason := detailReason(t, err); reason != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %q", reason)
	}

	_, err = svc.CreateNextStage(context.Background(), testEmail, testYear, "R1", domain.StageFRF)
	assertKind(t, err, apperr.KindUnprocessable)

	if len(forms.created) != 0 {
		t.Fatalf("expected nothing to be created")
	}
}

func TestSaveStageRestoresHiddenFields(t *testing.T) {
	forms := newFakeForms()
	forms.byPath["frf2023"] = []domain.FormSubmission{frf("f1", domain.SubmissionSubmitted, at(0))}
	statuses := &fakeStatuses{records: []domain.BapStatusRecord{
		status(domain.StageFRF, "R1", "f1", domain.BapStatusEditsRequested, at(5)),
	}}
	svc := newTestService(forms, statuses, yearConfig(true, false, false))

	req := transport.SaveSubmissionRequest{State: "submitted", Data: map[string]any{"_combo": "hijack", "orgName": "New name"}}
	resp, err := svc.SaveStage(context.Background(), testEmail, testYear, "R1", domain.StageFRF, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.ID != "f1" || len(forms.updated) != 1 {
		t.Fatalf("unexpected update %+v", resp)
	}
	data := forms.updated[0].Data
	if data["_combo"] != comboKey || data["orgName"] != "New name" {
		t.Fatalf("expected hidden fields restored, got %v", data)
	}
	if forms.updated[0].State != domain.SubmissionSubmitted {
		t.Fatalf("expected submitted state, got %s", forms.updated[0].State)
	}
}

func TestSaveStageRejectsNonEditableStage(t *testing.T) {
	forms := newFakeForms()
	forms.byPath["frf2023"] = []domain.FormSubmission{frf("f1", domain.SubmissionSubmitted, at(10))}
	statuses := &fakeStatuses{records: []domain.BapStatusRecord{
		status(domain.StageFRF, "R1", "f1", domain.BapStatusEditsRequested, at(5)),
	}}
	svc := newTestService(forms, statuses, yearConfig(true, false, false))

	req := transport.SaveSubmissionRequest{State: "submitted", Data: map[string]any{}}
	_, err := svc.SaveStage(context.Background(), testEmail, testYear, "R1", domain.StageFRF, req)

	assertKind(t, err, apperr.KindUnprocessable)
	if len(forms.updated) != 0 {
		t.Fatalf("expected no update for a resubmitted stage")
	}
}

func TestMutationInFlightIsRejected(t *testing.T) {
	forms := newFakeForms()
	g := guard.NewLocal()
	svc := New(forms, &fakeStatuses{keys: []string{comboKey}}, g, yearConfig(true, true, true), logger.NewWithWriter("test", io.Discard))

	release, err := g.Acquire(context.Background(), guard.Key(testYear, "R1", "prf"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer release()

	err = svc.RequestCascadeDelete(context.Background(), testEmail, testYear, "R1", domain.StagePRF)
	assertKind(t, err, apperr.KindConflict)
	if reason := detailReason(t, err); reason != "mutation_in_progress" {
		t.Fatalf("expected mutation_in_progress, got %q", reason)
	}
}

func cascadeFixture() (*fakeForms, *fakeStatuses) {
	forms := newFakeForms()
	forms.byPath["frf2023"] = []domain.FormSubmission{frf("f1", domain.SubmissionSubmitted, at(0))}
	forms.byPath["prf2023"] = []domain.FormSubmission{later("p1", "R1", domain.SubmissionDraft, at(3))}
	editsRequested := status(domain.StageFRF, "R1", "f1", domain.BapStatusEditsRequested, at(5))
	statuses := &fakeStatuses{
		records: []domain.BapStatusRecord{editsRequested},
		live:    &editsRequested,
	}
	return forms, statuses
}

func TestRequestCascadeDeleteRemovesInvalidatedSubmission(t *testing.T) {
	forms, statuses := cascadeFixture()
	svc := newTestService(forms, statuses, yearConfig(true, true, false))

	resp, err := svc.GetAggregate(context.Background(), testEmail, testYear, "R1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Stages.PRF.PendingInvalidation || resp.Stages.PRF.Gate != string(domain.GateViewOnly) {
		t.Fatalf("expected PRF pending invalidation, got %+v", resp.Stages.PRF)
	}

	if err := svc.RequestCascadeDelete(context.Background(), testEmail, testYear, "R1", domain.StagePRF); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(forms.deleted) != 1 || forms.deleted[0] != "p1" {
		t.Fatalf("expected p1 deleted, got %v", forms.deleted)
	}
}

func TestRequestCascadeDeleteRejectsStaleGuard(t *testing.T) {
	forms, statuses := cascadeFixture()
	accepted := status(domain.StageFRF, "R1", "f1", domain.BapStatusAccepted, at(9))
	statuses.live = &accepted
	svc := newTestService(forms, statuses, yearConfig(true, true, false))

	err := svc.RequestCascadeDelete(context.Background(), testEmail, testYear, "R1", domain.StagePRF)

	assertKind(t, err, apperr.KindConflict)
	if reason := detailReason(t, err); reason != "stale_guard_rejected" {
		t.Fatalf("expected stale_guard_rejected, got %q", reason)
	}
	if len(forms.deleted) != 0 {
		t.Fatalf("expected nothing deleted, got %v", forms.deleted)
	}
}

func TestRequestCascadeDeleteMissingLiveRecordRejects(t *testing.T) {
	forms, statuses := cascadeFixture()
	statuses.live = nil
	svc := newTestService(forms, statuses, yearConfig(true, true, false))

	err := svc.RequestCascadeDelete(context.Background(), testEmail, testYear, "R1", domain.StagePRF)
	assertKind(t, err, apperr.KindConflict)
}

func TestRequestCascadeDeleteAlreadyDeletedSucceeds(t *testing.T) {
	forms, statuses := cascadeFixture()
	forms.byPath["prf2023"] = nil
	svc := newTestService(forms, statuses, yearConfig(true, true, false))

	if err := svc.RequestCascadeDelete(context.Background(), testEmail, testYear, "R1", domain.StagePRF); err != nil {
		t.Fatalf("expected already deleted to succeed, got %v", err)
	}
	if len(forms.deleted) != 0 {
		t.Fatalf("expected no delete call, got %v", forms.deleted)
	}
}

func TestRequestCascadeDeleteGoneBetweenReadAndDeleteSucceeds(t *testing.T) {
	forms, statuses := cascadeFixture()
	forms.deleteErr = formio.ErrSubmissionNotFound
	svc := newTestService(forms, statuses, yearConfig(true, true, false))

	if err := svc.RequestCascadeDelete(context.Background(), testEmail, testYear, "R1", domain.StagePRF); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestRequestCascadeDeleteFailureIsRetryable(t *testing.T) {
	forms, statuses := cascadeFixture()
	forms.deleteErr = errors.New("formio returned 500")
	svc := newTestService(forms, statuses, yearConfig(true, true, false))

	err := svc.RequestCascadeDelete(context.Background(), testEmail, testYear, "R1", domain.StagePRF)

	assertKind(t, err, apperr.KindUnavailable)
	if reason := detailReason(t, err); reason != "delete_failed" {
		t.Fatalf("expected delete_failed, got %q", reason)
	}
}

func TestRequestCascadeDeleteRejectsFRF(t *testing.T) {
	forms, statuses := cascadeFixture()
	svc := newTestService(forms, statuses, yearConfig(true, true, false))

	err := svc.RequestCascadeDelete(context.Background(), testEmail, testYear, "R1", domain.StageFRF)
	assertKind(t, err, apperr.KindUnprocessable)
}

func TestRequestCascadeDeleteRemovesCRFStrandedWithoutPRF(t *testing.T) {
	forms := newFakeForms()
	forms.byPath["frf2023"] = []domain.FormSubmission{frf("f1", domain.SubmissionSubmitted, at(0))}
	forms.byPath["crf2023"] = []domain.FormSubmission{later("c1", "R1", domain.SubmissionDraft, at(15))}
	frfEdits := status(domain.StageFRF, "R1", "f1", domain.BapStatusEditsRequested, at(20))
	statuses := &fakeStatuses{
		records: []domain.BapStatusRecord{
			frfEdits,
			status(domain.StagePRF, "R1", "p1", domain.BapStatusAccepted, at(10)),
		},
		live: &frfEdits,
	}
	svc := newTestService(forms, statuses, yearConfig(true, true, true))

	resp, err := svc.GetAggregate(context.Background(), testEmail, testYear, "R1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Stages.CRF.Gate != string(domain.GateViewOnly) || !resp.Stages.CRF.PendingInvalidation {
		t.Fatalf("expected CRF locked pending invalidation, got %+v", resp.Stages.CRF)
	}

	if err := svc.RequestCascadeDelete(context.Background(), testEmail, testYear, "R1", domain.StageCRF); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(forms.deleted) != 1 || forms.deleted[0] != "c1" {
		t.Fatalf("expected c1 deleted, got %v", forms.deleted)
	}
}

func TestSaveStageRejectsCRFStrandedWithoutPRF(t *testing.T) {
	forms := newFakeForms()
	forms.byPath["frf2023"] = []domain.FormSubmission{frf("f1", domain.SubmissionSubmitted, at(0))}
	forms.byPath["crf2023"] = []domain.FormSubmission{later("c1", "R1", domain.SubmissionDraft, at(15))}
	statuses := &fakeStatuses{records: []domain.BapStatusRecord{
		status(domain.StageFRF, "R1", "f1", domain.BapStatusEditsRequested, at(20)),
		status(domain.StagePRF, "R1", "p1", domain.BapStatusAccepted, at(10)),
	}}
	svc := newTestService(forms, statuses, yearConfig(true, true, true))

	req := transport.SaveSubmissionRequest{State: "draft", Data: map[string]any{}}
	_, err := svc.SaveStage(context.Background(), testEmail, testYear, "R1", domain.StageCRF, req)

	assertKind(t, err, apperr.KindUnprocessable)
	if len(forms.updated) != 0 {
		t.Fatalf("expected no update, got %v", forms.updated)
	}
}
