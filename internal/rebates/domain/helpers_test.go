package domain

import "time"

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func submission(id string, state SubmissionState, modified time.Time) *FormSubmission {
	return &FormSubmission{ID: id, State: state, Modified: modified, EntityComboKey: "combo-1"}
}

func laterSubmission(id, rebateID string, state SubmissionState, modified time.Time) *FormSubmission {
	sub := submission(id, state, modified)
	sub.RebateID = rebateID
	return sub
}

func record(stage Stage, rebateID, formID string, status BapStatus, modified time.Time) *BapStatusRecord {
	return &BapStatusRecord{
		RebateID:       rebateID,
		ReviewItemID:   "ri-" + formID,
		EntityComboKey: "combo-1",
		Modified:       modified,
		Status:         status,
		FormID:         formID,
		Stage:          stage,
		Year:           "2023",
	}
}

var allOpen = PeriodsOpen{FRF: true, PRF: true, CRF: true}
