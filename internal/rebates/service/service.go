// Package service reconciles Formio submissions with BAP status records and
// runs the guarded mutations of the rebates module.
package service

import (
	"context"
	"errors"
	"strings"

	"rebate_portal_backend/internal/rebates/domain"
	"rebate_portal_backend/internal/rebates/formio"
	"rebate_portal_backend/internal/rebates/transport"
	"rebate_portal_backend/platform/apperr"
	"rebate_portal_backend/platform/config"
	"rebate_portal_backend/platform/logger"
	"rebate_portal_backend/platform/metrics"

	"golang.org/x/sync/errgroup"
)

const (
	errCouldNotLoad     = "could not load submissions"
	errYearNotFound     = "rebate year not found"
	errRebateNotFound   = "rebate not found"
	errEntityNotAllowed = "entity is not associated with this account"
)

// Service provides the reconciliation engine and the rebate mutations.
type Service struct {
	forms    SubmissionStore
	statuses StatusReader
	guard    MutationGuard
	years    config.RebateYearsConfig
	log      *logger.Logger
}

// New creates a new rebates service.
func New(forms SubmissionStore, statuses StatusReader, guard MutationGuard, years config.RebateYearsConfig, log *logger.Logger) *Service {
	return &Service{
		forms:    forms,
		statuses: statuses,
		guard:    guard,
		years:    years,
		log:      log,
	}
}

// snapshot is one reconciliation of a caller's records for a year.
type snapshot struct {
	year      config.RebateYearConfig
	periods   domain.PeriodsOpen
	comboKeys []string
	result    domain.MatchResult
}

func (s *snapshot) gates(agg domain.RebateAggregate) domain.ActionSet {
	return domain.ResolveGates(agg, s.periods)
}

func (s *snapshot) find(rebateID string) (domain.RebateAggregate, bool) {
	for _, agg := range s.result.Aggregates {
		if agg.RebateID == rebateID {
			return agg, true
		}
	}
	return domain.RebateAggregate{}, false
}

// GetAggregates returns the caller's rebates for year, sorted for display.
func (s *Service) GetAggregates(ctx context.Context, email, year string) (transport.RebateListResponse, error) {
	snap, err := s.reconcile(ctx, email, year)
	if err != nil {
		return transport.RebateListResponse{}, err
	}

	sorted := domain.SortAggregates(snap.result.Aggregates)
	items := make([]transport.RebateResponse, 0, len(sorted))
	for _, agg := range sorted {
		items = append(items, toRebateResponse(agg, snap.gates(agg)))
	}

	return transport.RebateListResponse{Year: year, Items: items, Total: len(items)}, nil
}

// GetAggregate returns one of the caller's rebates.
func (s *Service) GetAggregate(ctx context.Context, email, year, rebateID string) (transport.RebateResponse, error) {
	snap, err := s.reconcile(ctx, email, year)
	if err != nil {
		return transport.RebateResponse{}, err
	}

	agg, ok := snap.find(rebateID)
	if !ok {
		return transport.RebateResponse{}, apperr.NotFound(errRebateNotFound)
	}
	return toRebateResponse(agg, snap.gates(agg)), nil
}

// ListYears returns the configured rebate years and their open periods.
func (s *Service) ListYears() transport.RebateYearListResponse {
	years := s.years.RebateYearList()
	items := make([]transport.RebateYearResponse, 0, len(years))
	for _, y := range years {
		items = append(items, transport.RebateYearResponse{
			Year: y.Year,
			PeriodsOpen: transport.StagePeriodsResponse{
				FRF: y.FRF.Open,
				PRF: y.PRF.Open,
				CRF: y.CRF.Open,
			},
		})
	}
	return transport.RebateYearListResponse{Items: items}
}

// reconcile fetches both backends concurrently and matches the records.
// Any failed fetch fails the whole reconciliation: a half-loaded pair would
// look exactly like a stage that does not exist.
func (s *Service) reconcile(ctx context.Context, email, year string) (*snapshot, error) {
	yc, ok := s.years.RebateYear(year)
	if !ok {
		return nil, apperr.NotFound(errYearNotFound)
	}
	log := s.log.WithContext(ctx)

	keys, err := s.comboKeys(ctx, email)
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues(year, "error").Inc()
		return nil, err
	}

	snap := &snapshot{year: yc, periods: periodsOf(yc), comboKeys: keys}
	if len(keys) == 0 {
		metrics.ReconciliationsTotal.WithLabelValues(year, "ok").Inc()
		return snap, nil
	}

	in := domain.MatchInput{Year: year}
	g, gctx := errgroup.WithContext(ctx)

	fetchStage := func(stage domain.Stage, dst *[]domain.FormSubmission) {
		g.Go(func() error {
			subs, err := s.forms.ListSubmissions(gctx, formFor(yc, stage), keys)
			if err != nil {
				logBackendError(log, "formio", "list_"+string(stage), err)
				return err
			}
			*dst = subs
			return nil
		})
	}
	fetchStage(domain.StageFRF, &in.FRF)
	fetchStage(domain.StagePRF, &in.PRF)
	fetchStage(domain.StageCRF, &in.CRF)

	g.Go(func() error {
		records, err := s.statuses.StatusesForComboKeys(gctx, keys)
		if err != nil {
			logBackendError(log, "bap", "statuses", err)
			return err
		}
		in.Statuses = records
		return nil
	})

	if err := g.Wait(); err != nil {
		metrics.ReconciliationsTotal.WithLabelValues(year, "error").Inc()
		return nil, apperr.Unavailable(errCouldNotLoad, err).WithOp("reconcile")
	}

	snap.result = domain.Match(in)
	for _, a := range snap.result.Anomalies {
		log.MatchAnomaly(string(a.Kind), string(a.Stage), a.Key, a.Detail())
		metrics.MatchAnomaliesTotal.WithLabelValues(string(a.Kind), string(a.Stage)).Inc()
	}

	metrics.ReconciliationsTotal.WithLabelValues(year, "ok").Inc()
	return snap, nil
}

func (s *Service) comboKeys(ctx context.Context, email string) ([]string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperr.Unauthorized("missing user email")
	}

	keys, err := s.statuses.ComboKeysForEmail(ctx, email)
	if err != nil {
		logBackendError(s.log.WithContext(ctx), "bap", "combo_keys", err)
		return nil, apperr.Unavailable(errCouldNotLoad, err).WithOp("combo keys")
	}
	return keys, nil
}

func logBackendError(log *logger.Logger, backend, operation string, err error) {
	// Sibling fetches are cancelled once one fails; only the cause is worth logging.
	if errors.Is(err, context.Canceled) {
		return
	}
	log.BackendError(backend, operation, err)
}

func periodsOf(yc config.RebateYearConfig) domain.PeriodsOpen {
	return domain.PeriodsOpen{FRF: yc.FRF.Open, PRF: yc.PRF.Open, CRF: yc.CRF.Open}
}

func stageConfig(yc config.RebateYearConfig, stage domain.Stage) config.StageFormConfig {
	form, _ := yc.Stage(string(stage))
	return form
}

func formFor(yc config.RebateYearConfig, stage domain.Stage) formio.Form {
	cfg := stageConfig(yc, stage)
	return formio.Form{
		Path:          cfg.Path,
		ComboKeyField: cfg.ComboKeyField,
		RebateIDField: cfg.RebateIDField,
	}
}
