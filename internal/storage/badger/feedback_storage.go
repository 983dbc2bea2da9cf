package badger

import (
	"context"
	"fmt"
	"sort"

	"github.com/bobmcallan/tiller/internal/common"
	"github.com/bobmcallan/tiller/internal/models"
)

type feedbackStorage struct {
	store  *Store
	logger *common.Logger
}

func (s *feedbackStorage) SaveReport(_ context.Context, r *models.FeedbackReport) error {
	if err := s.store.db.Upsert(r.ID, r); err != nil {
		return fmt.Errorf("failed to save feedback report %s: %w", r.ID, err)
	}
	return nil
}

func (s *feedbackStorage) LatestReport(_ context.Context) (*models.FeedbackReport, error) {
	var reports []models.FeedbackReport
	if err := s.store.db.Find(&reports, nil); err != nil {
		return nil, fmt.Errorf("failed to list feedback reports: %w", err)
	}
	if len(reports) == 0 {
		return nil, nil
	}
	latest := reports[0]
	for _, r := range reports[1:] {
		if r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	return &latest, nil
}

func (s *feedbackStorage) ListReports(_ context.Context, limit int) ([]models.FeedbackReport, error) {
	var reports []models.FeedbackReport
	if err := s.store.db.Find(&reports, nil); err != nil {
		return nil, fmt.Errorf("failed to list feedback reports: %w", err)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Timestamp.After(reports[j].Timestamp) })
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}
