package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fleetshift/apigw-reconciler/internal/domain"
)

// PassRecordRepo implements [domain.PassRecordRepository] backed by SQLite.
type PassRecordRepo struct {
	DB *sql.DB
}

func (r *PassRecordRepo) Put(ctx context.Context, rec domain.PassRecord) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO pass_records (run_id, api_id, stage_name, trigger, deployment_id, status,
		     deployment_created, stage_mutated, error, retryable, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET
		   trigger = excluded.trigger,
		   deployment_id = excluded.deployment_id,
		   status = excluded.status,
		   deployment_created = excluded.deployment_created,
		   stage_mutated = excluded.stage_mutated,
		   error = excluded.error,
		   retryable = excluded.retryable,
		   finished_at = excluded.finished_at`,
		rec.RunID, rec.APIID, rec.StageName, string(rec.Trigger), string(rec.DeploymentID), string(rec.Status),
		boolInt(rec.DeploymentCreated), boolInt(rec.StageMutated), rec.Error, boolInt(rec.Retryable),
		formatTime(rec.StartedAt), formatTime(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert pass record: %w", err)
	}
	return nil
}

const selectPassRecord = `SELECT run_id, api_id, stage_name, trigger, deployment_id, status,
	deployment_created, stage_mutated, error, retryable, started_at, finished_at FROM pass_records`

func (r *PassRecordRepo) ListByStage(ctx context.Context, apiID, stageName string) ([]domain.PassRecord, error) {
	return r.query(ctx, selectPassRecord+` WHERE api_id = ? AND stage_name = ? ORDER BY started_at DESC, run_id DESC`,
		apiID, stageName)
}

func (r *PassRecordRepo) List(ctx context.Context) ([]domain.PassRecord, error) {
	return r.query(ctx, selectPassRecord+` ORDER BY started_at DESC, run_id DESC`)
}

func (r *PassRecordRepo) query(ctx context.Context, q string, args ...any) ([]domain.PassRecord, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list pass records: %w", err)
	}
	defer rows.Close()

	var records []domain.PassRecord
	for rows.Next() {
		rec, err := scanPassRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanPassRecord(s scanner) (domain.PassRecord, error) {
	var rec domain.PassRecord
	var trigger, depID, status, startedAt, finishedAt string
	var created, mutated, retryable int
	err := s.Scan(&rec.RunID, &rec.APIID, &rec.StageName, &trigger, &depID, &status,
		&created, &mutated, &rec.Error, &retryable, &startedAt, &finishedAt)
	if err != nil {
		return rec, fmt.Errorf("scan pass record: %w", err)
	}
	rec.Trigger = domain.DeploymentTrigger(trigger)
	rec.DeploymentID = domain.DeploymentID(depID)
	rec.Status = domain.StageStatusKind(status)
	rec.DeploymentCreated = created != 0
	rec.StageMutated = mutated != 0
	rec.Retryable = retryable != 0
	if rec.StartedAt, err = parseTime(startedAt, "started_at"); err != nil {
		return rec, err
	}
	if rec.FinishedAt, err = parseTime(finishedAt, "finished_at"); err != nil {
		return rec, err
	}
	return rec, nil
}
