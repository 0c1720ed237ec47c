package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/containerd/log"
	"github.com/google/uuid"
	"github.com/moby/locker"
	"golang.org/x/sync/errgroup"

	"github.com/fleetshift/apigw-reconciler/internal/domain"
)

// ReconcileResult is what a successful pass reports back to the caller.
type ReconcileResult struct {
	RunID     string                  `json:"run_id"`
	Outcome   domain.ReconcileOutcome `json:"outcome"`
	Endpoints domain.Endpoints        `json:"endpoints"`
}

// PairResult is the result of one pair of a [ReconcileService.ReconcileAll]
// call. Exactly one of Result and Err is set.
type PairResult struct {
	Input  domain.ReconcileInput
	Result *ReconcileResult
	Err    error
}

// ReconcileService runs reconciliation passes through a workflow engine
// and records every pass. Passes of stages that share an API run one at
// a time so that they agree on a single deployment per trigger.
type ReconcileService struct {
	Workflow domain.ReconcileRunner
	// Planner runs dry-run plans. Optional.
	Planner *domain.ReconcileWorkflow
	// Records and Observer are optional.
	Records  domain.PassRecordRepository
	Observer domain.PassObserver

	Region    string
	AccountID string
	Now       func() time.Time

	once  sync.Once
	locks *locker.Locker
}

// Reconcile runs one pass for in and waits for it to complete.
func (s *ReconcileService) Reconcile(ctx context.Context, in domain.ReconcileInput) (ReconcileResult, error) {
	s.once.Do(func() { s.locks = locker.New() })

	runID := uuid.NewString()
	logger := log.G(ctx).WithFields(log.Fields{"run": runID, "api": in.APIID, "stage": in.StageName})
	ctx = log.WithLogger(ctx, logger)

	s.locks.Lock(in.APIID)
	defer s.locks.Unlock(in.APIID)

	rec := domain.PassRecord{RunID: runID, APIID: in.APIID, StageName: in.StageName, StartedAt: s.now()}
	out, err := s.run(ctx, in)
	rec.FinishedAt = s.now()
	if err != nil {
		rec.Error = err.Error()
		rec.Retryable = domain.IsRetryable(err)
		logger.WithError(err).WithField("retryable", rec.Retryable).Error("reconciliation failed")
	} else {
		rec.Trigger = out.Trigger
		rec.DeploymentID = out.Deployment.ID
		rec.Status = out.Status
		rec.DeploymentCreated = out.DeploymentCreated
		rec.StageMutated = out.StageMutated
		logger.WithFields(log.Fields{
			"deployment": out.Deployment.ID,
			"status":     out.Status,
			"created":    out.DeploymentCreated,
			"mutated":    out.StageMutated,
		}).Info("reconciled")
	}
	s.record(ctx, rec)

	if err != nil {
		return ReconcileResult{}, err
	}
	return ReconcileResult{
		RunID:     runID,
		Outcome:   out,
		Endpoints: domain.StageEndpoints(s.Region, s.AccountID, in.APIID, in.StageName),
	}, nil
}

func (s *ReconcileService) run(ctx context.Context, in domain.ReconcileInput) (domain.ReconcileOutcome, error) {
	handle, err := s.Workflow.Run(ctx, in)
	if err != nil {
		return domain.ReconcileOutcome{}, fmt.Errorf("start reconcile workflow: %w", err)
	}
	return handle.AwaitResult(ctx)
}

// record persists and publishes a finished pass. Failing to record never
// fails the pass itself.
func (s *ReconcileService) record(ctx context.Context, rec domain.PassRecord) {
	if s.Records != nil {
		// The pass may have ended because ctx was cancelled; history is
		// still written.
		if err := s.Records.Put(context.WithoutCancel(ctx), rec); err != nil {
			log.G(ctx).WithError(err).Warn("failed to record pass")
		}
	}
	if s.Observer != nil {
		s.Observer.PassFinished(rec)
	}
}

// ReconcileAll reconciles every input, running pairs of different APIs in
// parallel with at most concurrency passes in flight (unbounded when
// concurrency < 1). A failing pair does not stop the others; the
// returned error joins every failure.
func (s *ReconcileService) ReconcileAll(ctx context.Context, inputs []domain.ReconcileInput, concurrency int) ([]PairResult, error) {
	results := make([]PairResult, len(inputs))
	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, in := range inputs {
		g.Go(func() error {
			res, err := s.Reconcile(ctx, in)
			results[i] = PairResult{Input: in, Err: err}
			if err == nil {
				results[i].Result = &res
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return results, errors.Join(errs...)
}

// Plan reports what a pass for in would do without changing anything.
func (s *ReconcileService) Plan(ctx context.Context, in domain.ReconcileInput) (domain.ReconcilePlan, error) {
	if s.Planner == nil {
		return domain.ReconcilePlan{}, fmt.Errorf("%w: planning is not configured", domain.ErrFailedPrecondition)
	}
	return s.Planner.Plan(ctx, in)
}

// History returns the recorded passes of a pair, newest first.
func (s *ReconcileService) History(ctx context.Context, apiID, stageName string) ([]domain.PassRecord, error) {
	if s.Records == nil {
		return nil, nil
	}
	return s.Records.ListByStage(ctx, apiID, stageName)
}

func (s *ReconcileService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
