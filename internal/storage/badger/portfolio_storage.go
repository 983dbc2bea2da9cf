package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/tiller/internal/common"
	"github.com/bobmcallan/tiller/internal/models"
)

// cashEntry holds the single cash balance record.
type cashEntry struct {
	Key    string `badgerhold:"key"`
	Amount decimal.Decimal
}

const cashKey = "cash"

type portfolioStorage struct {
	store  *Store
	logger *common.Logger
}

func (s *portfolioStorage) GetHolding(_ context.Context, ticker string) (*models.Holding, error) {
	var h models.Holding
	err := s.store.db.Get(ticker, &h)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holding %s: %w", ticker, err)
	}
	return &h, nil
}

func (s *portfolioStorage) ListHoldings(_ context.Context) ([]models.Holding, error) {
	var holdings []models.Holding
	if err := s.store.db.Find(&holdings, nil); err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Ticker < holdings[j].Ticker })
	return holdings, nil
}

func (s *portfolioStorage) UpsertHolding(_ context.Context, h *models.Holding) error {
	if err := s.store.db.Upsert(h.Ticker, h); err != nil {
		return fmt.Errorf("failed to upsert holding %s: %w", h.Ticker, err)
	}
	return nil
}

func (s *portfolioStorage) DeleteHolding(_ context.Context, ticker string) error {
	err := s.store.db.Delete(ticker, models.Holding{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete holding %s: %w", ticker, err)
	}
	return nil
}

func (s *portfolioStorage) GetCash(_ context.Context, initial decimal.Decimal) (decimal.Decimal, error) {
	var entry cashEntry
	err := s.store.db.Get(cashKey, &entry)
	if err == badgerhold.ErrNotFound {
		entry = cashEntry{Key: cashKey, Amount: initial}
		if err := s.store.db.Insert(cashKey, &entry); err != nil && err != badgerhold.ErrKeyExists {
			return decimal.Zero, fmt.Errorf("failed to initialize cash balance: %w", err)
		}
		s.logger.Info().Str("initial", initial.String()).Msg("Initialized cash balance")
		return entry.Amount, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get cash balance: %w", err)
	}
	return entry.Amount, nil
}

func (s *portfolioStorage) SetCash(_ context.Context, amount decimal.Decimal) error {
	entry := cashEntry{Key: cashKey, Amount: amount}
	if err := s.store.db.Upsert(cashKey, &entry); err != nil {
		return fmt.Errorf("failed to set cash balance: %w", err)
	}
	return nil
}

func (s *portfolioStorage) AppendSnapshot(_ context.Context, snap *models.PortfolioSnapshot) error {
	snap.ID = 0 // store-assigned
	if err := s.store.db.Insert(badgerhold.NextSequence(), snap); err != nil {
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	return nil
}

func (s *portfolioStorage) ListSnapshots(_ context.Context, limit int) ([]models.PortfolioSnapshot, error) {
	var snaps []models.PortfolioSnapshot
	if err := s.store.db.Find(&snaps, nil); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[len(snaps)-limit:]
	}
	return snaps, nil
}

func (s *portfolioStorage) SaveDecision(_ context.Context, d *models.TradeDecision) error {
	if err := s.store.db.Upsert(d.ID, d); err != nil {
		return fmt.Errorf("failed to save trade decision %s: %w", d.ID, err)
	}
	return nil
}

func (s *portfolioStorage) ListDecisions(_ context.Context, limit int) ([]models.TradeDecision, error) {
	var decisions []models.TradeDecision
	if err := s.store.db.Find(&decisions, nil); err != nil {
		return nil, fmt.Errorf("failed to list trade decisions: %w", err)
	}
	sort.Slice(decisions, func(i, j int) bool { return decisions[i].Timestamp.After(decisions[j].Timestamp) })
	if limit > 0 && len(decisions) > limit {
		decisions = decisions[:limit]
	}
	return decisions, nil
}

func (s *portfolioStorage) SaveOutcome(_ context.Context, o *models.TradeOutcome) error {
	if err := s.store.db.Upsert(o.ID, o); err != nil {
		return fmt.Errorf("failed to save trade outcome %s: %w", o.ID, err)
	}
	return nil
}

func (s *portfolioStorage) ListOutcomesSince(_ context.Context, cutoff time.Time) ([]models.TradeOutcome, error) {
	var outcomes []models.TradeOutcome
	err := s.store.db.Find(&outcomes, badgerhold.Where("SellTimestamp").Ge(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes since %s: %w", cutoff, err)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].SellTimestamp.After(outcomes[j].SellTimestamp) })
	return outcomes, nil
}

func (s *portfolioStorage) ListOutcomes(_ context.Context, limit int) ([]models.TradeOutcome, error) {
	var outcomes []models.TradeOutcome
	if err := s.store.db.Find(&outcomes, nil); err != nil {
		return nil, fmt.Errorf("failed to list trade outcomes: %w", err)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].SellTimestamp.After(outcomes[j].SellTimestamp) })
	if limit > 0 && len(outcomes) > limit {
		outcomes = outcomes[:limit]
	}
	return outcomes, nil
}
