// Package passrecordrepotest provides contract tests for
// [domain.PassRecordRepository] implementations.
package passrecordrepotest

import (
	"context"
	"testing"
	"time"

	"github.com/fleetshift/apigw-reconciler/internal/domain"
)

// Factory creates a fresh [domain.PassRecordRepository] for each test invocation.
type Factory func(t *testing.T) domain.PassRecordRepository

// Run exercises the [domain.PassRecordRepository] contract.
func Run(t *testing.T, factory Factory) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("PutAndListByStage", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		rec := domain.PassRecord{
			RunID:             "r1",
			APIID:             "api1",
			StageName:         "test",
			Trigger:           domain.EmptyTrigger,
			DeploymentID:      "dep1",
			Status:            domain.StageAbsent,
			DeploymentCreated: true,
			StageMutated:      true,
			StartedAt:         t0,
			FinishedAt:        t0.Add(time.Second),
		}
		if err := repo.Put(ctx, rec); err != nil {
			t.Fatalf("Put: %v", err)
		}

		got, err := repo.ListByStage(ctx, "api1", "test")
		if err != nil {
			t.Fatalf("ListByStage: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("ListByStage = %d records, want 1", len(got))
		}
		r := got[0]
		if r.RunID != "r1" || r.DeploymentID != "dep1" || r.Trigger != domain.EmptyTrigger {
			t.Errorf("record = %+v", r)
		}
		if r.Status != domain.StageAbsent || !r.DeploymentCreated || !r.StageMutated {
			t.Errorf("record flags = %+v", r)
		}
		if !r.StartedAt.Equal(rec.StartedAt) || !r.FinishedAt.Equal(rec.FinishedAt) {
			t.Errorf("times = %v..%v, want %v..%v", r.StartedAt, r.FinishedAt, rec.StartedAt, rec.FinishedAt)
		}
		if !r.Succeeded() {
			t.Error("Succeeded = false for record without error")
		}
	})

	t.Run("FailedPassKeepsError", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		rec := domain.PassRecord{
			RunID:      "r1",
			APIID:      "api1",
			StageName:  "test",
			Error:      "stage conflict",
			Retryable:  true,
			StartedAt:  t0,
			FinishedAt: t0,
		}
		if err := repo.Put(ctx, rec); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := repo.ListByStage(ctx, "api1", "test")
		if err != nil {
			t.Fatalf("ListByStage: %v", err)
		}
		if len(got) != 1 || got[0].Error != "stage conflict" || !got[0].Retryable {
			t.Fatalf("ListByStage = %+v", got)
		}
	})

	t.Run("ListByStageNewestFirst", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		for i, id := range []string{"r1", "r2", "r3"} {
			rec := domain.PassRecord{
				RunID:      id,
				APIID:      "api1",
				StageName:  "test",
				StartedAt:  t0.Add(time.Duration(i) * time.Minute),
				FinishedAt: t0.Add(time.Duration(i) * time.Minute),
			}
			if err := repo.Put(ctx, rec); err != nil {
				t.Fatalf("Put %s: %v", id, err)
			}
		}
		if err := repo.Put(ctx, domain.PassRecord{RunID: "other", APIID: "api1", StageName: "prod", StartedAt: t0}); err != nil {
			t.Fatalf("Put other: %v", err)
		}

		got, err := repo.ListByStage(ctx, "api1", "test")
		if err != nil {
			t.Fatalf("ListByStage: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("ListByStage = %d records, want 3", len(got))
		}
		if got[0].RunID != "r3" || got[2].RunID != "r1" {
			t.Errorf("order = %s, %s, %s; want newest first", got[0].RunID, got[1].RunID, got[2].RunID)
		}

		all, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 4 {
			t.Errorf("List = %d records, want 4", len(all))
		}
	})

	t.Run("ListByStageEmpty", func(t *testing.T) {
		repo := factory(t)
		got, err := repo.ListByStage(context.Background(), "api1", "nope")
		if err != nil {
			t.Fatalf("ListByStage: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("ListByStage = %d records, want 0", len(got))
		}
	})
}
