// Package transport defines the request and response bodies of the rebates API.
package transport

import "time"

// YearParams binds the year path segment.
type YearParams struct {
	Year string `uri:"year" validate:"required,numeric,len=4"`
}

// RebateParams binds a rebate path.
type RebateParams struct {
	Year     string `uri:"year" validate:"required,numeric,len=4"`
	RebateID string `uri:"rebateId" validate:"required,max=64"`
}

// StageParams binds a stage path.
type StageParams struct {
	Year     string `uri:"year" validate:"required,numeric,len=4"`
	RebateID string `uri:"rebateId" validate:"required,max=64"`
	Stage    string `uri:"stage" validate:"required,rebatestage"`
}

// CreateFRFRequest starts a new funding request for one of the caller's entities.
type CreateFRFRequest struct {
	ComboKey string `json:"comboKey" validate:"required,max=128"`
}

// SaveSubmissionRequest saves or submits a stage.
type SaveSubmissionRequest struct {
	State string         `json:"state" validate:"required,oneof=draft submitted"`
	Data  map[string]any `json:"data" validate:"required"`
}

// SubmissionResponse is the Formio side of a stage.
type SubmissionResponse struct {
	ID             string         `json:"id"`
	State          string         `json:"state"`
	Data           map[string]any `json:"data"`
	Modified       time.Time      `json:"modified"`
	EntityComboKey string         `json:"entityComboKey"`
	RebateID       *string        `json:"rebateId"`
}

// BapStatusResponse is the BAP side of a stage.
type BapStatusResponse struct {
	RebateID       string    `json:"rebateId"`
	ReviewItemID   string    `json:"reviewItemId"`
	EntityComboKey string    `json:"entityComboKey"`
	Modified       time.Time `json:"modified"`
	Status         string    `json:"status"`
	FormID         string    `json:"formId"`
}

// StageResponse combines both sides of a stage with its derived state and gate.
type StageResponse struct {
	Formio              *SubmissionResponse `json:"formio"`
	Bap                 *BapStatusResponse  `json:"bap"`
	State               string              `json:"state"`
	Gate                string              `json:"gate"`
	PendingInvalidation bool                `json:"pendingInvalidation"`
}

// RebateStages holds the three stages of a rebate.
type RebateStages struct {
	FRF StageResponse `json:"frf"`
	PRF StageResponse `json:"prf"`
	CRF StageResponse `json:"crf"`
}

// RebateResponse is one reconciled rebate.
type RebateResponse struct {
	RebateID       string       `json:"rebateId"`
	Provisional    bool         `json:"provisional"`
	Year           string       `json:"year"`
	EntityComboKey string       `json:"entityComboKey"`
	LastModified   *time.Time   `json:"lastModified"`
	NeedsAttention bool         `json:"needsAttention"`
	Stages         RebateStages `json:"stages"`
}

// RebateListResponse is the sorted list of a caller's rebates for one year.
type RebateListResponse struct {
	Year  string           `json:"year"`
	Items []RebateResponse `json:"items"`
	Total int              `json:"total"`
}

// StagePeriodsResponse reports which stage windows are open.
type StagePeriodsResponse struct {
	FRF bool `json:"frf"`
	PRF bool `json:"prf"`
	CRF bool `json:"crf"`
}

// RebateYearResponse describes a configured rebate year.
type RebateYearResponse struct {
	Year        string               `json:"year"`
	PeriodsOpen StagePeriodsResponse `json:"periodsOpen"`
}

// RebateYearListResponse lists the configured rebate years.
type RebateYearListResponse struct {
	Items []RebateYearResponse `json:"items"`
}
