package interfaces

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tiller/internal/models"
)

// NewsSource is the news summarization collaborator. Fetch may return an
// empty batch; returned items carry no IDs — the news ledger assigns them
// on append.
type NewsSource interface {
	Fetch(ctx context.Context) ([]models.NewsItem, error)
}

// Advisor is the reasoning collaborator. Recommend proposes trades from
// the current portfolio and unseen news; a failure or timeout fails the
// enclosing run and is not retried inline by the decision engine.
type Advisor interface {
	Recommend(ctx context.Context, holdings []models.HoldingView, cash decimal.Decimal, items []models.NewsItem, performance string) ([]models.RecommendedAction, error)

	// AnalyzeOutcomes turns aggregate outcome statistics into guidance for
	// the summarizer and decider agents.
	AnalyzeOutcomes(ctx context.Context, report *models.FeedbackReport, outcomes []models.TradeOutcome) (*FeedbackContent, error)
}

// FeedbackContent is the parsed response of a feedback analysis.
type FeedbackContent struct {
	SummarizerFeedback string   `json:"summarizer_feedback"`
	DeciderFeedback    string   `json:"decider_feedback"`
	KeyInsights        []string `json:"key_insights"`
}

// PriceFeed is the quote collaborator. A missing price for one ticker is a
// retryable condition scoped to that ticker, not fatal to the whole run.
type PriceFeed interface {
	CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
}
