package domain

import (
	"fmt"
	"sort"
)

// AnomalyKind classifies records the matcher could not pair one-to-one.
type AnomalyKind string

const (
	// AnomalyDuplicateSubmission means two submissions of a stage claimed the same key.
	AnomalyDuplicateSubmission AnomalyKind = "duplicate_submission"
	// AnomalyDuplicateBapRecord means two BAP records of a stage claimed the same key.
	AnomalyDuplicateBapRecord AnomalyKind = "duplicate_bap_record"
	// AnomalyOrphanBapRecord means a BAP record had no submission to pair with.
	AnomalyOrphanBapRecord AnomalyKind = "orphan_bap_record"
	// AnomalyOrphanSubmission means a PRF or CRF submission had no rebate to attach to.
	AnomalyOrphanSubmission AnomalyKind = "orphan_submission"
)

// Anomaly describes one dropped or unpaired record. KeptID is empty for orphans.
type Anomaly struct {
	Kind      AnomalyKind
	Stage     Stage
	Key       string
	KeptID    string
	DroppedID string
}

// Detail renders the anomaly for logs.
func (a Anomaly) Detail() string {
	if a.KeptID == "" {
		return fmt.Sprintf("dropped %s", a.DroppedID)
	}
	return fmt.Sprintf("kept %s, dropped %s", a.KeptID, a.DroppedID)
}

// MatchInput is one year's snapshot of both backends for a caller.
// Statuses may span every stage and year; records for other years are ignored.
type MatchInput struct {
	Year     string
	FRF      []FormSubmission
	PRF      []FormSubmission
	CRF      []FormSubmission
	Statuses []BapStatusRecord
}

func (in MatchInput) submissions(stage Stage) []FormSubmission {
	switch stage {
	case StageFRF:
		return in.FRF
	case StagePRF:
		return in.PRF
	case StageCRF:
		return in.CRF
	default:
		return nil
	}
}

// MatchResult holds the aggregates, most recently modified FRF first,
// and every anomaly seen while building them.
type MatchResult struct {
	Aggregates []RebateAggregate
	Anomalies  []Anomaly
}

// Match pairs submissions with BAP records into one aggregate per rebate.
//
// FRF submissions join BAP records on the submission id and take the record's
// rebate id as key, or "_" + submission id while the ETL has not caught up.
// PRF and CRF submissions and records join the aggregate by rebate id, each
// side independently. Where two records compete for one slot the most
// recently modified wins and the loser is reported. Match never fails and its
// output depends only on its input.
func Match(in MatchInput) MatchResult {
	var anomalies []Anomaly
	statuses := groupStatuses(in.Year, in.Statuses)

	frfBap, dups := indexLatestStatus(StageFRF, statuses[StageFRF], func(r *BapStatusRecord) string { return r.FormID })
	anomalies = append(anomalies, dups...)

	aggregates := make([]RebateAggregate, 0, len(in.FRF))
	byKey := make(map[string]int, len(in.FRF))
	usedBap := make(map[string]bool)

	for _, sub := range sortedSubmissions(in.FRF) {
		bap := frfBap[sub.ID]
		key := ProvisionalKeyPrefix + sub.ID
		if bap != nil {
			usedBap[sub.ID] = true
			if bap.RebateID != "" {
				key = bap.RebateID
			}
		}

		if idx, dup := byKey[key]; dup {
			anomalies = append(anomalies, Anomaly{
				Kind:      AnomalyDuplicateSubmission,
				Stage:     StageFRF,
				Key:       key,
				KeptID:    aggregates[idx].FRF.Formio.ID,
				DroppedID: sub.ID,
			})
			continue
		}

		byKey[key] = len(aggregates)
		aggregates = append(aggregates, RebateAggregate{
			RebateID: key,
			Year:     in.Year,
			FRF:      StagePair{Formio: sub, Bap: bap},
		})
	}
	anomalies = append(anomalies, orphanStatuses(StageFRF, frfBap, usedBap)...)

	for _, stage := range []Stage{StagePRF, StageCRF} {
		bapIdx, bapDups := indexLatestStatus(stage, statuses[stage], func(r *BapStatusRecord) string { return r.RebateID })
		subIdx, subDups := indexLatestSubmission(stage, in.submissions(stage))
		anomalies = append(anomalies, bapDups...)
		anomalies = append(anomalies, subDups...)

		usedBap := make(map[string]bool)
		usedSub := make(map[string]bool)
		for i := range aggregates {
			agg := &aggregates[i]
			if agg.Provisional() {
				continue
			}
			pair := StagePair{Formio: subIdx[agg.RebateID], Bap: bapIdx[agg.RebateID]}
			if pair.Formio != nil {
				usedSub[agg.RebateID] = true
			}
			if pair.Bap != nil {
				usedBap[agg.RebateID] = true
			}
			agg.setPair(stage, pair)
		}

		anomalies = append(anomalies, orphanStatuses(stage, bapIdx, usedBap)...)
		for _, key := range sortedKeys(subIdx) {
			if !usedSub[key] {
				anomalies = append(anomalies, Anomaly{
					Kind:      AnomalyOrphanSubmission,
					Stage:     stage,
					Key:       key,
					DroppedID: subIdx[key].ID,
				})
			}
		}
	}

	return MatchResult{Aggregates: aggregates, Anomalies: anomalies}
}

func groupStatuses(year string, records []BapStatusRecord) map[Stage][]BapStatusRecord {
	grouped := make(map[Stage][]BapStatusRecord, len(Stages))
	for _, rec := range records {
		if year != "" && rec.Year != "" && rec.Year != year {
			continue
		}
		if _, ok := ParseStage(string(rec.Stage)); !ok {
			continue
		}
		grouped[rec.Stage] = append(grouped[rec.Stage], rec)
	}
	return grouped
}

// sortedSubmissions copies subs ordered by modified desc, then id, and returns
// pointers into the copy.
func sortedSubmissions(subs []FormSubmission) []*FormSubmission {
	copied := make([]FormSubmission, len(subs))
	copy(copied, subs)
	sort.SliceStable(copied, func(i, j int) bool {
		if !copied[i].Modified.Equal(copied[j].Modified) {
			return copied[i].Modified.After(copied[j].Modified)
		}
		return copied[i].ID < copied[j].ID
	})

	out := make([]*FormSubmission, len(copied))
	for i := range copied {
		out[i] = &copied[i]
	}
	return out
}

func sortedStatuses(records []BapStatusRecord) []*BapStatusRecord {
	copied := make([]BapStatusRecord, len(records))
	copy(copied, records)
	sort.SliceStable(copied, func(i, j int) bool {
		if !copied[i].Modified.Equal(copied[j].Modified) {
			return copied[i].Modified.After(copied[j].Modified)
		}
		return copied[i].ReviewItemID < copied[j].ReviewItemID
	})

	out := make([]*BapStatusRecord, len(copied))
	for i := range copied {
		out[i] = &copied[i]
	}
	return out
}

// indexLatestStatus keys records by keyOf, keeping the most recent per key.
func indexLatestStatus(stage Stage, records []BapStatusRecord, keyOf func(*BapStatusRecord) string) (map[string]*BapStatusRecord, []Anomaly) {
	index := make(map[string]*BapStatusRecord, len(records))
	var anomalies []Anomaly

	for _, rec := range sortedStatuses(records) {
		key := keyOf(rec)
		if key == "" {
			anomalies = append(anomalies, Anomaly{Kind: AnomalyOrphanBapRecord, Stage: stage, DroppedID: rec.ReviewItemID})
			continue
		}
		if kept, dup := index[key]; dup {
			anomalies = append(anomalies, Anomaly{
				Kind:      AnomalyDuplicateBapRecord,
				Stage:     stage,
				Key:       key,
				KeptID:    kept.ReviewItemID,
				DroppedID: rec.ReviewItemID,
			})
			continue
		}
		index[key] = rec
	}

	return index, anomalies
}

// indexLatestSubmission keys later-stage submissions by rebate id, keeping the most recent.
func indexLatestSubmission(stage Stage, subs []FormSubmission) (map[string]*FormSubmission, []Anomaly) {
	index := make(map[string]*FormSubmission, len(subs))
	var anomalies []Anomaly

	for _, sub := range sortedSubmissions(subs) {
		if sub.RebateID == "" {
			anomalies = append(anomalies, Anomaly{Kind: AnomalyOrphanSubmission, Stage: stage, DroppedID: sub.ID})
			continue
		}
		if kept, dup := index[sub.RebateID]; dup {
			anomalies = append(anomalies, Anomaly{
				Kind:      AnomalyDuplicateSubmission,
				Stage:     stage,
				Key:       sub.RebateID,
				KeptID:    kept.ID,
				DroppedID: sub.ID,
			})
			continue
		}
		index[sub.RebateID] = sub
	}

	return index, anomalies
}

func orphanStatuses(stage Stage, index map[string]*BapStatusRecord, used map[string]bool) []Anomaly {
	var anomalies []Anomaly
	for _, key := range sortedKeys(index) {
		if used[key] {
			continue
		}
		anomalies = append(anomalies, Anomaly{
			Kind:      AnomalyOrphanBapRecord,
			Stage:     stage,
			Key:       key,
			DroppedID: index[key].ReviewItemID,
		})
	}
	return anomalies
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
