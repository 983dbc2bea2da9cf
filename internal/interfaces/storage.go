// Package interfaces defines service contracts for Tiller
package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tiller/internal/models"
)

// StorageManager coordinates the persisted state surfaces.
type StorageManager interface {
	NewsStore() NewsStore
	PortfolioStore() PortfolioStore
	RunStore() RunStore
	FeedbackStore() FeedbackStore

	Close() error
}

// NewsStore persists analyzed-news items and per-consumer processed
// markers. Items are append-only with store-assigned monotonic IDs.
type NewsStore interface {
	// AppendItems assigns monotonic IDs to the given items and stores them.
	// Returns the items with IDs set.
	AppendItems(ctx context.Context, items []models.NewsItem) ([]models.NewsItem, error)

	// ListItems returns all items, ID ascending.
	ListItems(ctx context.Context) ([]models.NewsItem, error)

	// UnseenItems returns items without a marker for consumer, ID ascending.
	UnseenItems(ctx context.Context, consumer string) ([]models.NewsItem, error)

	// InsertMarkers inserts processed markers with insert-if-absent
	// semantics; already-marked items are a no-op.
	InsertMarkers(ctx context.Context, consumer string, itemIDs []uint64, runID string) error
}

// PortfolioStore persists holdings, the cash balance, snapshots, trade
// decisions and trade outcomes.
type PortfolioStore interface {
	GetHolding(ctx context.Context, ticker string) (*models.Holding, error)
	ListHoldings(ctx context.Context) ([]models.Holding, error)
	UpsertHolding(ctx context.Context, h *models.Holding) error
	DeleteHolding(ctx context.Context, ticker string) error

	// GetCash returns the cash balance, initializing it to initial on
	// first access.
	GetCash(ctx context.Context, initial decimal.Decimal) (decimal.Decimal, error)
	SetCash(ctx context.Context, amount decimal.Decimal) error

	AppendSnapshot(ctx context.Context, s *models.PortfolioSnapshot) error
	ListSnapshots(ctx context.Context, limit int) ([]models.PortfolioSnapshot, error)

	SaveDecision(ctx context.Context, d *models.TradeDecision) error
	ListDecisions(ctx context.Context, limit int) ([]models.TradeDecision, error)

	SaveOutcome(ctx context.Context, o *models.TradeOutcome) error
	ListOutcomesSince(ctx context.Context, cutoff time.Time) ([]models.TradeOutcome, error)
	ListOutcomes(ctx context.Context, limit int) ([]models.TradeOutcome, error)
}

// RunStore persists run history and enforces slot dedupe.
type RunStore interface {
	Insert(ctx context.Context, run *models.Run) error
	Finish(ctx context.Context, id string, status string, errMsg string, detail string) error
	Get(ctx context.Context, id string) (*models.Run, error)
	List(ctx context.Context, limit int) ([]models.Run, error)

	// HasRunForSlot reports whether any run of the given type was started
	// for the given slot key, regardless of its outcome.
	HasRunForSlot(ctx context.Context, runType models.RunType, slotKey string) (bool, error)

	// ReconcileStale marks runs left running longer than grace as failed
	// and returns how many were reconciled.
	ReconcileStale(ctx context.Context, grace time.Duration) (int, error)
}

// FeedbackStore persists daily feedback reports.
type FeedbackStore interface {
	SaveReport(ctx context.Context, r *models.FeedbackReport) error
	LatestReport(ctx context.Context) (*models.FeedbackReport, error)
	ListReports(ctx context.Context, limit int) ([]models.FeedbackReport, error)
}
