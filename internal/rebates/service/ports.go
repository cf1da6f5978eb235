package service

import (
	"context"

	"rebate_portal_backend/internal/rebates/domain"
	"rebate_portal_backend/internal/rebates/formio"
)

// SubmissionStore is the forms backend.
type SubmissionStore interface {
	ListSubmissions(ctx context.Context, form formio.Form, comboKeys []string) ([]domain.FormSubmission, error)
	GetSubmission(ctx context.Context, form formio.Form, id string) (domain.FormSubmission, error)
	CreateSubmission(ctx context.Context, form formio.Form, in formio.SubmissionInput) (domain.FormSubmission, error)
	UpdateSubmission(ctx context.Context, form formio.Form, id string, in formio.SubmissionInput) (domain.FormSubmission, error)
	DeleteSubmission(ctx context.Context, form formio.Form, id string) error
}

// StatusReader is the BAP snapshot.
type StatusReader interface {
	StatusesForComboKeys(ctx context.Context, comboKeys []string) ([]domain.BapStatusRecord, error)
	StageStatus(ctx context.Context, year string, stage domain.Stage, rebateID string) (*domain.BapStatusRecord, error)
	ComboKeysForEmail(ctx context.Context, email string) ([]string, error)
}

// MutationGuard keeps one mutation in flight per key.
type MutationGuard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
