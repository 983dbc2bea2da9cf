package badger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/tiller/internal/common"
	"github.com/bobmcallan/tiller/internal/models"
)

type newsStorage struct {
	store  *Store
	logger *common.Logger
	mu     sync.Mutex // serializes ID assignment
}

func (s *newsStorage) AppendItems(_ context.Context, items []models.NewsItem) ([]models.NewsItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.NewsItem, 0, len(items))
	for _, item := range items {
		item.ID = 0 // store-assigned
		if err := s.store.db.Insert(badgerhold.NextSequence(), &item); err != nil {
			return out, fmt.Errorf("failed to append news item from %s: %w", item.Source, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *newsStorage) ListItems(_ context.Context) ([]models.NewsItem, error) {
	var items []models.NewsItem
	if err := s.store.db.Find(&items, nil); err != nil {
		return nil, fmt.Errorf("failed to list news items: %w", err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *newsStorage) UnseenItems(ctx context.Context, consumer string) ([]models.NewsItem, error) {
	var markers []models.ProcessedMarker
	err := s.store.db.Find(&markers, badgerhold.Where("Consumer").Eq(consumer))
	if err != nil {
		return nil, fmt.Errorf("failed to load markers for %s: %w", consumer, err)
	}
	seen := make(map[uint64]bool, len(markers))
	for _, m := range markers {
		seen[m.ItemID] = true
	}

	all, err := s.ListItems(ctx)
	if err != nil {
		return nil, err
	}

	unseen := make([]models.NewsItem, 0, len(all))
	for _, item := range all {
		if !seen[item.ID] {
			unseen = append(unseen, item)
		}
	}
	return unseen, nil
}

func (s *newsStorage) InsertMarkers(_ context.Context, consumer string, itemIDs []uint64, runID string) error {
	now := time.Now().UTC()
	for _, id := range itemIDs {
		marker := models.ProcessedMarker{
			Key:         fmt.Sprintf("%s/%d", consumer, id),
			Consumer:    consumer,
			ItemID:      id,
			ProcessedAt: now,
			RunID:       runID,
		}
		err := s.store.db.Insert(marker.Key, &marker)
		if err == badgerhold.ErrKeyExists {
			continue // already marked — idempotent
		}
		if err != nil {
			return fmt.Errorf("failed to insert marker %s: %w", marker.Key, err)
		}
	}
	return nil
}
