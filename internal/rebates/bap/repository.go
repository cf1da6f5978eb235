// Package bap reads the case-management (BAP) snapshot mirrored into PostgreSQL.
// The ETL owns these tables; this package never writes to them.
package bap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rebate_portal_backend/internal/rebates/domain"
	"rebate_portal_backend/platform/metrics"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const backendName = "bap"

const statusesForComboKeysQuery = `
	SELECT review_item_id, form_id, COALESCE(rebate_id, ''), entity_combo_key,
		rebate_year, record_type, status, modified
	FROM bap_form_submissions
	WHERE entity_combo_key = ANY($1)
	ORDER BY modified DESC, review_item_id`

const stageStatusQuery = `
	SELECT review_item_id, form_id, COALESCE(rebate_id, ''), entity_combo_key,
		rebate_year, record_type, status, modified
	FROM bap_form_submissions
	WHERE rebate_id = $1 AND record_type = $2 AND rebate_year = $3
	ORDER BY modified DESC, review_item_id
	LIMIT 1`

const comboKeysForEmailQuery = `
	SELECT entity_combo_key
	FROM bap_sam_entities
	WHERE entity_status = 'Active'
		AND $1 IN (
			lower(elec_bus_poc_email),
			lower(alt_elec_bus_poc_email),
			lower(govt_bus_poc_email),
			lower(alt_govt_bus_poc_email)
		)
	ORDER BY entity_combo_key`

// querier is the subset of pgxpool.Pool the repository uses.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository provides read access to BAP status records and SAM entities.
type Repository struct {
	pool querier
}

// New creates a new BAP repository over a pgx pool.
func New(pool querier) *Repository {
	return &Repository{pool: pool}
}

// StatusesForComboKeys returns every status record, across stages and years,
// for the given entities.
func (r *Repository) StatusesForComboKeys(ctx context.Context, comboKeys []string) (records []domain.BapStatusRecord, err error) {
	defer func(start time.Time) { metrics.ObserveBackendCall(backendName, "statuses", start, err) }(time.Now())

	if len(comboKeys) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, statusesForComboKeysQuery, comboKeys)
	if err != nil {
		return nil, fmt.Errorf("query bap statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bap statuses: %w", err)
	}

	return records, nil
}

// StageStatus reads the current record for one stage of one rebate.
// It returns nil without error when the ETL has no record.
func (r *Repository) StageStatus(ctx context.Context, year string, stage domain.Stage, rebateID string) (rec *domain.BapStatusRecord, err error) {
	defer func(start time.Time) { metrics.ObserveBackendCall(backendName, "stage_status", start, err) }(time.Now())

	row := r.pool.QueryRow(ctx, stageStatusQuery, rebateID, string(stage), year)
	found, err := scanStatus(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &found, nil
}

// ComboKeysForEmail returns the active SAM entities the email is a point of contact for.
func (r *Repository) ComboKeysForEmail(ctx context.Context, email string) (keys []string, err error) {
	defer func(start time.Time) { metrics.ObserveBackendCall(backendName, "combo_keys", start, err) }(time.Now())

	rows, err := r.pool.Query(ctx, comboKeysForEmailQuery, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, fmt.Errorf("query sam entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan sam entity: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sam entities: %w", err)
	}

	return keys, nil
}

// Ping checks that the mirror is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, "SELECT 1")
	return err
}

func scanStatus(row pgx.Row) (domain.BapStatusRecord, error) {
	var (
		rec        domain.BapStatusRecord
		recordType string
		status     string
	)
	err := row.Scan(
		&rec.ReviewItemID,
		&rec.FormID,
		&rec.RebateID,
		&rec.EntityComboKey,
		&rec.Year,
		&recordType,
		&status,
		&rec.Modified,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BapStatusRecord{}, err
		}
		return domain.BapStatusRecord{}, fmt.Errorf("scan bap status: %w", err)
	}

	rec.Stage = domain.Stage(strings.ToLower(recordType))
	rec.Status = domain.BapStatus(status)
	return rec, nil
}
