package service

import (
	"rebate_portal_backend/internal/rebates/domain"
	"rebate_portal_backend/internal/rebates/transport"
)

func toRebateResponse(agg domain.RebateAggregate, gates domain.ActionSet) transport.RebateResponse {
	resp := transport.RebateResponse{
		RebateID:       agg.RebateID,
		Provisional:    agg.Provisional(),
		Year:           agg.Year,
		EntityComboKey: agg.EntityComboKey(),
		NeedsAttention: domain.NeedsAttention(agg),
		Stages: transport.RebateStages{
			FRF: toStageResponse(agg.FRF, gates.FRF),
			PRF: toStageResponse(agg.PRF, gates.PRF),
			CRF: toStageResponse(agg.CRF, gates.CRF),
		},
	}
	if last := agg.LastModified(); !last.IsZero() {
		resp.LastModified = &last
	}
	return resp
}

func toStageResponse(pair domain.StagePair, gate domain.StageGate) transport.StageResponse {
	resp := transport.StageResponse{
		State:               string(gate.State),
		Gate:                string(gate.Gate),
		PendingInvalidation: gate.PendingInvalidation,
	}
	if pair.Formio != nil {
		sub := toSubmissionResponse(pair.Formio)
		resp.Formio = &sub
	}
	if pair.Bap != nil {
		resp.Bap = &transport.BapStatusResponse{
			RebateID:       pair.Bap.RebateID,
			ReviewItemID:   pair.Bap.ReviewItemID,
			EntityComboKey: pair.Bap.EntityComboKey,
			Modified:       pair.Bap.Modified,
			Status:         string(pair.Bap.Status),
			FormID:         pair.Bap.FormID,
		}
	}
	return resp
}

func toSubmissionResponse(sub *domain.FormSubmission) transport.SubmissionResponse {
	resp := transport.SubmissionResponse{
		ID:             sub.ID,
		State:          string(sub.State),
		Data:           sub.Data,
		Modified:       sub.Modified,
		EntityComboKey: sub.EntityComboKey,
	}
	if sub.RebateID != "" {
		rebateID := sub.RebateID
		resp.RebateID = &rebateID
	}
	return resp
}
