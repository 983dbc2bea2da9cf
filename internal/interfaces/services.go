package interfaces

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tiller/internal/models"
)

// NewsLedger is the processed-item ledger: an idempotent per-consumer
// cursor over the append-only news feed.
type NewsLedger interface {
	Append(ctx context.Context, items []models.NewsItem, runID string) ([]models.NewsItem, error)
	Unseen(ctx context.Context, consumer string) ([]models.NewsItem, error)
	MarkProcessed(ctx context.Context, consumer string, items []models.NewsItem, runID string) error
}

// PortfolioLedger owns all portfolio mutation: cumulative average-cost
// buys, proportional-basis sells, cash, and valuation snapshots. Every
// mutation is applied atomically and independently, so a mid-batch failure
// leaves a consistent prefix of executed actions.
type PortfolioLedger interface {
	ApplyBuy(ctx context.Context, ticker string, shares, price decimal.Decimal, reasoning string) error
	ApplySell(ctx context.Context, ticker string, shares, price decimal.Decimal, reasoning, runID string) (*models.TradeOutcome, error)
	Snapshot(ctx context.Context) (*models.PortfolioSnapshot, error)
	Cash(ctx context.Context) (decimal.Decimal, error)
	Holdings(ctx context.Context) ([]models.Holding, error)
	RecordDecision(ctx context.Context, d *models.TradeDecision) error
}

// DecisionEngine validates and sequences the advisor's proposals into an
// execution plan, then applies it through the portfolio ledger. It never
// calls the reasoning service itself — the orchestrator hands it the
// already-parsed recommendation.
type DecisionEngine interface {
	Decide(ctx context.Context, runID string, rec []models.RecommendedAction) (*DecisionResult, error)
}

// DecisionResult summarizes one decider pass. Partial execution (skipped
// actions) is a normal outcome, not a failure.
type DecisionResult struct {
	Executed []models.TradeDecision
	Skipped  []models.TradeDecision
	Outcomes []models.TradeOutcome
}

// FeedbackService analyzes recent trade outcomes and stores a report.
type FeedbackService interface {
	Analyze(ctx context.Context, runID string) (*models.FeedbackReport, error)
}
