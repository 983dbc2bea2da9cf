// Package newsledger implements the processed-item ledger: an append-only
// news feed with idempotent per-consumer cursors.
package newsledger

import (
	"context"
	"fmt"

	"github.com/bobmcallan/tiller/internal/common"
	"github.com/bobmcallan/tiller/internal/interfaces"
	"github.com/bobmcallan/tiller/internal/models"
)

// Service implements interfaces.NewsLedger on top of the news store.
type Service struct {
	store  interfaces.NewsStore
	logger *common.Logger
}

// NewService creates a news ledger service
func NewService(store interfaces.NewsStore, logger *common.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Append stores a batch of news items, stamping them with the producing
// run. Returns the items with store-assigned IDs.
func (s *Service) Append(ctx context.Context, items []models.NewsItem, runID string) ([]models.NewsItem, error) {
	for i := range items {
		items[i].RunID = runID
	}

	stored, err := s.store.AppendItems(ctx, items)
	if err != nil {
		return stored, fmt.Errorf("failed to append news batch: %w", err)
	}

	s.logger.Info().Int("items", len(stored)).Str("run_id", runID).Msg("Appended news batch")
	return stored, nil
}

// Unseen returns items the consumer has not yet processed, oldest first.
func (s *Service) Unseen(ctx context.Context, consumer string) ([]models.NewsItem, error) {
	return s.store.UnseenItems(ctx, consumer)
}

// MarkProcessed advances the consumer's cursor over the given items.
// Marking an already-marked item is a no-op, so a retried run converges on
// the same ledger state.
func (s *Service) MarkProcessed(ctx context.Context, consumer string, items []models.NewsItem, runID string) error {
	if len(items) == 0 {
		return nil
	}

	ids := make([]uint64, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}

	if err := s.store.InsertMarkers(ctx, consumer, ids, runID); err != nil {
		return fmt.Errorf("failed to mark items processed for %s: %w", consumer, err)
	}

	s.logger.Debug().Str("consumer", consumer).Int("items", len(ids)).Msg("Marked items processed")
	return nil
}
