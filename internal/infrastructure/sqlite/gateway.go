package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/fleetshift/apigw-reconciler/internal/domain"
)

// API is a REST API known to the emulated gateway.
type API struct {
	ID          string
	Name        string
	MethodCount int
}

// Gateway implements [domain.Gateway] on top of SQLite. It emulates the
// behavior of the remote service that the reconciler depends on: it
// refuses to deploy an API without methods, rejects duplicate stage
// names and applies partial stage updates.
type Gateway struct {
	DB    *sql.DB
	Now   func() time.Time
	NewID func() string
}

// PutAPI registers or replaces an API.
func (g *Gateway) PutAPI(ctx context.Context, api API) error {
	_, err := g.DB.ExecContext(ctx,
		`INSERT INTO apis (id, name, method_count) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, method_count = excluded.method_count`,
		api.ID, api.Name, api.MethodCount,
	)
	if err != nil {
		return fmt.Errorf("upsert api: %w", err)
	}
	return nil
}

func (g *Gateway) ListDeployments(ctx context.Context, apiID string) ([]domain.Deployment, error) {
	if _, err := g.methodCount(ctx, g.DB, apiID); err != nil {
		return nil, err
	}
	rows, err := g.DB.QueryContext(ctx,
		`SELECT id, description, created_at FROM deployments WHERE api_id = ? ORDER BY seq`,
		apiID,
	)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var deployments []domain.Deployment
	for rows.Next() {
		var d domain.Deployment
		var id, createdAt string
		if err := rows.Scan(&id, &d.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		d.ID = domain.DeploymentID(id)
		if d.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

func (g *Gateway) CreateDeployment(ctx context.Context, apiID, description string) (domain.Deployment, error) {
	methods, err := g.methodCount(ctx, g.DB, apiID)
	if err != nil {
		return domain.Deployment{}, err
	}
	if methods == 0 {
		return domain.Deployment{}, fmt.Errorf("%w: api %q doesn't contain any methods", domain.ErrFailedPrecondition, apiID)
	}

	d := domain.Deployment{
		ID:          domain.DeploymentID(g.newID()),
		Description: description,
		CreatedAt:   g.now(),
	}
	_, err = g.DB.ExecContext(ctx,
		`INSERT INTO deployments (id, api_id, description, created_at) VALUES (?, ?, ?, ?)`,
		string(d.ID), apiID, d.Description, formatTime(d.CreatedAt),
	)
	if err != nil {
		return domain.Deployment{}, fmt.Errorf("insert deployment: %w", err)
	}
	return d, nil
}

func (g *Gateway) ListStages(ctx context.Context, apiID string) ([]domain.Stage, error) {
	if _, err := g.methodCount(ctx, g.DB, apiID); err != nil {
		return nil, err
	}
	rows, err := g.DB.QueryContext(ctx, selectStage+` WHERE api_id = ? ORDER BY name`, apiID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var stages []domain.Stage
	for rows.Next() {
		s, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func (g *Gateway) CreateStage(ctx context.Context, in domain.CreateStageInput) (domain.Stage, error) {
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Stage{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := g.methodCount(ctx, tx, in.APIID); err != nil {
		return domain.Stage{}, err
	}
	if err := checkDeployment(ctx, tx, in.APIID, in.DeploymentID); err != nil {
		return domain.Stage{}, err
	}

	now := g.now()
	s := domain.Stage{
		APIID:          in.APIID,
		Name:           in.Name,
		DeploymentID:   in.DeploymentID,
		Description:    in.Description,
		MethodSettings: maps.Clone(in.MethodSettings),
		Cache:          in.Cache.Normalize(),
		Variables:      maps.Clone(in.Variables),
		TracingEnabled: in.TracingEnabled,
		Tags:           maps.Clone(in.Tags),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := insertStage(ctx, tx, s); err != nil {
		if isUniqueViolation(err) {
			return domain.Stage{}, fmt.Errorf("stage %q of api %q: %w", in.Name, in.APIID, domain.ErrAlreadyExists)
		}
		return domain.Stage{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Stage{}, fmt.Errorf("commit: %w", err)
	}
	return s, nil
}

func (g *Gateway) UpdateStage(ctx context.Context, apiID, stageName string, patch domain.StagePatch) (domain.Stage, error) {
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Stage{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	s, err := scanStage(tx.QueryRowContext(ctx, selectStage+` WHERE api_id = ? AND name = ?`, apiID, stageName))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Stage{}, fmt.Errorf("stage %q of api %q: %w", stageName, apiID, domain.ErrNotFound)
		}
		return domain.Stage{}, err
	}
	if patch.DeploymentID != nil {
		if err := checkDeployment(ctx, tx, apiID, *patch.DeploymentID); err != nil {
			return domain.Stage{}, err
		}
	}

	s = patch.Apply(s)
	s.UpdatedAt = g.now()
	if err := updateStage(ctx, tx, s); err != nil {
		return domain.Stage{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Stage{}, fmt.Errorf("commit: %w", err)
	}
	return s, nil
}

func (g *Gateway) AttachUsagePlan(ctx context.Context, usagePlanID, apiID, stageName string) error {
	_, err := g.DB.ExecContext(ctx,
		`INSERT INTO usage_plan_stages (usage_plan_id, api_id, stage_name) VALUES (?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		usagePlanID, apiID, stageName,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("stage %q of api %q: %w", stageName, apiID, domain.ErrNotFound)
		}
		return fmt.Errorf("attach usage plan: %w", err)
	}
	return nil
}

// UsagePlanStages returns the "api:stage" pairs attached to a usage plan.
func (g *Gateway) UsagePlanStages(ctx context.Context, usagePlanID string) ([]string, error) {
	rows, err := g.DB.QueryContext(ctx,
		`SELECT api_id, stage_name FROM usage_plan_stages WHERE usage_plan_id = ? ORDER BY api_id, stage_name`,
		usagePlanID,
	)
	if err != nil {
		return nil, fmt.Errorf("list usage plan stages: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var apiID, stage string
		if err := rows.Scan(&apiID, &stage); err != nil {
			return nil, fmt.Errorf("scan usage plan stage: %w", err)
		}
		out = append(out, apiID+":"+stage)
	}
	return out, rows.Err()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (g *Gateway) methodCount(ctx context.Context, q querier, apiID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT method_count FROM apis WHERE id = ?`, apiID).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("api %q: %w", apiID, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("get api: %w", err)
	}
	return n, nil
}

func checkDeployment(ctx context.Context, q querier, apiID string, id domain.DeploymentID) error {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deployments WHERE api_id = ? AND id = ?`, apiID, string(id),
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("get deployment: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: invalid deployment identifier %q", domain.ErrFailedPrecondition, id)
	}
	return nil
}

const selectStage = `SELECT api_id, name, deployment_id, description, method_settings, cache,
	variables, tracing_enabled, tags, web_acl_arn, created_at, updated_at FROM stages`

type stageColumns struct {
	methodSettings, cache, variables, tags string
}

func encodeStage(s domain.Stage) (stageColumns, error) {
	var c stageColumns
	var err error
	if c.methodSettings, err = marshalJSON(s.MethodSettings, "method settings"); err != nil {
		return c, err
	}
	if c.cache, err = marshalJSON(s.Cache, "cache"); err != nil {
		return c, err
	}
	if c.variables, err = marshalJSON(s.Variables, "variables"); err != nil {
		return c, err
	}
	if c.tags, err = marshalJSON(s.Tags, "tags"); err != nil {
		return c, err
	}
	return c, nil
}

func insertStage(ctx context.Context, tx *sql.Tx, s domain.Stage) error {
	c, err := encodeStage(s)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO stages (api_id, name, deployment_id, description, method_settings, cache,
		     variables, tracing_enabled, tags, web_acl_arn, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.APIID, s.Name, string(s.DeploymentID), s.Description, c.methodSettings, c.cache,
		c.variables, boolInt(s.TracingEnabled), c.tags, s.WebACLARN,
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("insert stage: %w", err)
	}
	return nil
}

func updateStage(ctx context.Context, tx *sql.Tx, s domain.Stage) error {
	c, err := encodeStage(s)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE stages
		 SET deployment_id = ?, description = ?, method_settings = ?, cache = ?,
		     variables = ?, tracing_enabled = ?, tags = ?, updated_at = ?
		 WHERE api_id = ? AND name = ?`,
		string(s.DeploymentID), s.Description, c.methodSettings, c.cache,
		c.variables, boolInt(s.TracingEnabled), c.tags, formatTime(s.UpdatedAt),
		s.APIID, s.Name,
	)
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	return nil
}

func scanStage(s scanner) (domain.Stage, error) {
	var st domain.Stage
	var depID, ms, cache, vars, tags, createdAt, updatedAt string
	var tracing int
	err := s.Scan(&st.APIID, &st.Name, &depID, &st.Description, &ms, &cache,
		&vars, &tracing, &tags, &st.WebACLARN, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return st, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return st, fmt.Errorf("scan stage: %w", err)
	}
	st.DeploymentID = domain.DeploymentID(depID)
	st.TracingEnabled = tracing != 0
	if err := unmarshalJSON(ms, &st.MethodSettings, "method settings"); err != nil {
		return st, err
	}
	if err := unmarshalJSON(cache, &st.Cache, "cache"); err != nil {
		return st, err
	}
	if err := unmarshalJSON(vars, &st.Variables, "variables"); err != nil {
		return st, err
	}
	if err := unmarshalJSON(tags, &st.Tags, "tags"); err != nil {
		return st, err
	}
	if st.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
		return st, err
	}
	if st.UpdatedAt, err = parseTime(updatedAt, "updated_at"); err != nil {
		return st, err
	}
	return st, nil
}

func (g *Gateway) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Gateway) newID() string {
	if g.NewID != nil {
		return g.NewID()
	}
	return uuid.NewString()
}
