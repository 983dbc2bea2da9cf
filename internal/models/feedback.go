package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeedbackReport is the daily analysis of recent trade outcomes: aggregate
// performance plus AI-generated guidance for the summarizer and decider
// agents.
type FeedbackReport struct {
	ID                  string          `json:"id" badgerhold:"key"`
	Timestamp           time.Time       `json:"timestamp"`
	LookbackDays        int             `json:"lookback_days"`
	TotalTrades         int             `json:"total_trades"`
	SuccessRate         decimal.Decimal `json:"success_rate"`     // fraction of profitable trades
	AvgGainLossPct      decimal.Decimal `json:"avg_gain_loss_pct"`
	OutcomeDistribution map[string]int  `json:"outcome_distribution"`
	SummarizerFeedback  string          `json:"summarizer_feedback,omitempty"`
	DeciderFeedback     string          `json:"decider_feedback,omitempty"`
	KeyInsights         []string        `json:"key_insights,omitempty"`
	RunID               string          `json:"run_id,omitempty"`
}
