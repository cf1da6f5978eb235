// Package domain provides the reconciliation rules for the rebates bounded
// context: pairing Formio submissions with BAP status records, deriving each
// stage's lifecycle state, resolving stage gates and ordering rebates.
// Everything here is pure. Callers fetch the records and hand them in.
package domain

import (
	"strings"
	"time"
)

// Stage is one of the three sequential rebate forms.
type Stage string

const (
	StageFRF Stage = "frf"
	StagePRF Stage = "prf"
	StageCRF Stage = "crf"
)

// Stages lists the stages in pipeline order.
var Stages = []Stage{StageFRF, StagePRF, StageCRF}

// ParseStage normalizes a path or query value into a Stage.
func ParseStage(value string) (Stage, bool) {
	switch Stage(strings.ToLower(strings.TrimSpace(value))) {
	case StageFRF:
		return StageFRF, true
	case StagePRF:
		return StagePRF, true
	case StageCRF:
		return StageCRF, true
	default:
		return "", false
	}
}

// Predecessor returns the stage that must be Selected before s can start.
func (s Stage) Predecessor() (Stage, bool) {
	switch s {
	case StagePRF:
		return StageFRF, true
	case StageCRF:
		return StagePRF, true
	default:
		return "", false
	}
}

// Successor returns the stage that follows s.
func (s Stage) Successor() (Stage, bool) {
	switch s {
	case StageFRF:
		return StagePRF, true
	case StagePRF:
		return StageCRF, true
	default:
		return "", false
	}
}

// SubmissionState is the Formio-side state of a submission.
type SubmissionState string

const (
	SubmissionDraft     SubmissionState = "draft"
	SubmissionSubmitted SubmissionState = "submitted"
)

// FormSubmission is a Formio submission for one stage.
// RebateID is empty until the form's hidden fields carry it.
type FormSubmission struct {
	ID             string
	State          SubmissionState
	Data           map[string]any
	Modified       time.Time
	EntityComboKey string
	RebateID       string
}

// BapStatus is the review status the case-management system reports.
type BapStatus string

const (
	BapStatusSubmitted            BapStatus = "Submitted"
	BapStatusNeedsClarification   BapStatus = "Needs Clarification"
	BapStatusEditsRequested       BapStatus = "Edits Requested"
	BapStatusWithdrawn            BapStatus = "Withdrawn"
	BapStatusAccepted             BapStatus = "Accepted"
	BapStatusCoordinatorDenied    BapStatus = "Coordinator Denied"
	BapStatusBranchDirectorDenied BapStatus = "Branch Director Denied"
	BapStatusReimbursementNeeded  BapStatus = "Reimbursement Needed"
)

// BapStatusRecord is one row of the BAP ETL snapshot.
// FormID is the Formio submission id the record was ingested from.
type BapStatusRecord struct {
	RebateID       string
	ReviewItemID   string
	EntityComboKey string
	Modified       time.Time
	Status         BapStatus
	FormID         string
	Stage          Stage
	Year           string
}

// StagePair holds the two sides of one stage. Either may be nil.
type StagePair struct {
	Formio *FormSubmission
	Bap    *BapStatusRecord
}

// ProvisionalKeyPrefix marks aggregate keys synthesized from a Formio id
// before the ETL has assigned a rebate id.
const ProvisionalKeyPrefix = "_"

// RebateAggregate is one rebate's FRF, PRF and CRF pairs.
type RebateAggregate struct {
	RebateID string
	Year     string
	FRF      StagePair
	PRF      StagePair
	CRF      StagePair
}

// Pair returns the pair for stage.
func (a RebateAggregate) Pair(stage Stage) StagePair {
	switch stage {
	case StageFRF:
		return a.FRF
	case StagePRF:
		return a.PRF
	case StageCRF:
		return a.CRF
	default:
		return StagePair{}
	}
}

func (a *RebateAggregate) setPair(stage Stage, pair StagePair) {
	switch stage {
	case StageFRF:
		a.FRF = pair
	case StagePRF:
		a.PRF = pair
	case StageCRF:
		a.CRF = pair
	}
}

// Provisional reports whether the key was synthesized from a Formio id.
func (a RebateAggregate) Provisional() bool {
	return strings.HasPrefix(a.RebateID, ProvisionalKeyPrefix)
}

// EntityComboKey returns the owning entity, read from the FRF.
func (a RebateAggregate) EntityComboKey() string {
	if a.FRF.Formio != nil {
		return a.FRF.Formio.EntityComboKey
	}
	if a.FRF.Bap != nil {
		return a.FRF.Bap.EntityComboKey
	}
	return ""
}

// LastModified is the latest Formio modified time across the stages.
// The zero time stands in for an aggregate with no submissions.
func (a RebateAggregate) LastModified() time.Time {
	var latest time.Time
	for _, stage := range Stages {
		if f := a.Pair(stage).Formio; f != nil && f.Modified.After(latest) {
			latest = f.Modified
		}
	}
	return latest
}

// PeriodsOpen says which stage submission windows are open for a year.
type PeriodsOpen struct {
	FRF bool
	PRF bool
	CRF bool
}

// Open reports whether stage accepts new work.
func (p PeriodsOpen) Open(stage Stage) bool {
	switch stage {
	case StageFRF:
		return p.FRF
	case StagePRF:
		return p.PRF
	case StageCRF:
		return p.CRF
	default:
		return false
	}
}
