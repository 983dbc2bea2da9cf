package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/tiller/internal/common"
	"github.com/bobmcallan/tiller/internal/models"
)

type runStorage struct {
	store  *Store
	logger *common.Logger
}

func (s *runStorage) Insert(_ context.Context, run *models.Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	if err := s.store.db.Insert(run.ID, run); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

func (s *runStorage) Finish(ctx context.Context, id string, status string, errMsg string, detail string) error {
	run, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	run.EndedAt = time.Now().UTC()
	run.Status = status
	run.Error = errMsg
	if detail != "" {
		run.Detail = detail
	}
	if err := s.store.db.Upsert(run.ID, run); err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	return nil
}

func (s *runStorage) Get(_ context.Context, id string) (*models.Run, error) {
	var run models.Run
	if err := s.store.db.Get(id, &run); err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return &run, nil
}

func (s *runStorage) List(_ context.Context, limit int) ([]models.Run, error) {
	var runs []models.Run
	if err := s.store.db.Find(&runs, nil); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *runStorage) HasRunForSlot(_ context.Context, runType models.RunType, slotKey string) (bool, error) {
	var run models.Run
	err := s.store.db.FindOne(&run,
		badgerhold.Where("Type").Eq(runType).And("SlotKey").Eq(slotKey))
	if err == badgerhold.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up runs for slot %s/%s: %w", runType, slotKey, err)
	}
	return true, nil
}

func (s *runStorage) ReconcileStale(_ context.Context, grace time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-grace)
	var stale []models.Run
	err := s.store.db.Find(&stale,
		badgerhold.Where("Status").Eq(models.RunStatusRunning).And("StartedAt").Lt(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to find stale runs: %w", err)
	}

	for i := range stale {
		run := stale[i]
		run.Status = models.RunStatusFailed
		run.EndedAt = time.Now().UTC()
		run.Error = "reconciled: left running past grace period"
		if err := s.store.db.Upsert(run.ID, &run); err != nil {
			return i, fmt.Errorf("failed to reconcile run %s: %w", run.ID, err)
		}
		s.logger.Warn().
			Str("run_id", run.ID).
			Str("run_type", string(run.Type)).
			Time("started_at", run.StartedAt).
			Msg("Reconciled stale run to failed")
	}
	return len(stale), nil
}
