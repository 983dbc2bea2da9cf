package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding represents the current position in one instrument. Shares are
// whole units. AvgCost is always TotalInvested/Shares; it is recomputed on
// every buy and never on a sell, so repeated buys blend into a single
// weighted-average purchase price.
type Holding struct {
	Ticker        string          `json:"ticker" badgerhold:"key"`
	Shares        decimal.Decimal `json:"shares"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	Reason        string          `json:"reason"`
	PurchasedAt   time.Time       `json:"purchased_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// UnrealizedPct returns the unrealized gain/loss percentage of the holding
// at the given price, e.g. 3.5 for +3.5%.
func (h *Holding) UnrealizedPct(price decimal.Decimal) decimal.Decimal {
	if h.AvgCost.IsZero() {
		return decimal.Zero
	}
	return price.Sub(h.AvgCost).Div(h.AvgCost).Mul(decimal.NewFromInt(100))
}

// HoldingView is a holding valued at a current price, as presented in
// snapshots and the dashboard API.
type HoldingView struct {
	Ticker        string          `json:"ticker"`
	Shares        decimal.Decimal `json:"shares"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	GainLoss      decimal.Decimal `json:"gain_loss"`
	PriceStale    bool            `json:"price_stale,omitempty"` // no live quote; valued at cost
	Reason        string          `json:"reason,omitempty"`
}

// PortfolioSnapshot is a point-in-time valuation of the whole portfolio.
// Snapshots are append-only; one is recorded after every completed run and
// on manual refresh.
type PortfolioSnapshot struct {
	ID            uint64          `json:"id" badgerhold:"key"`
	Timestamp     time.Time       `json:"timestamp"`
	Cash          decimal.Decimal `json:"cash"`
	HoldingsValue decimal.Decimal `json:"holdings_value"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	ProfitLoss    decimal.Decimal `json:"profit_loss"`
	PctGain       decimal.Decimal `json:"pct_gain"`
	TotalValue    decimal.Decimal `json:"total_value"`
	Holdings      []HoldingView   `json:"holdings"`
}

// Trade sides
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// TradeDecision is one buy/sell the decision engine acted on, immutable
// once recorded. Skipped actions are recorded too, with Executed false and
// the skip cause in SkipReason, so partial execution stays auditable.
type TradeDecision struct {
	ID         string          `json:"id" badgerhold:"key"`
	RunID      string          `json:"run_id"`
	Ticker     string          `json:"ticker"`
	Side       string          `json:"side"`
	Shares     decimal.Decimal `json:"shares"`
	Price      decimal.Decimal `json:"price"`
	Reasoning  string          `json:"reasoning"`
	Forced     bool            `json:"forced,omitempty"` // take-profit/stop-loss exit
	Executed   bool            `json:"executed"`
	SkipReason string          `json:"skip_reason,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Outcome categories for completed sells.
const (
	OutcomeSignificantProfit = "significant_profit"
	OutcomeModerateProfit    = "moderate_profit"
	OutcomeBreakEven         = "break_even"
	OutcomeModerateLoss      = "moderate_loss"
	OutcomeSignificantLoss   = "significant_loss"
)

// TradeOutcome is the realized result of a completed sell, created only on
// sell. Category is derived deterministically from GainLossPct against the
// configured thresholds.
type TradeOutcome struct {
	ID               string          `json:"id" badgerhold:"key"`
	Ticker           string          `json:"ticker"`
	PurchasePrice    decimal.Decimal `json:"purchase_price"` // average cost at time of sell
	SellPrice        decimal.Decimal `json:"sell_price"`
	Shares           decimal.Decimal `json:"shares"`
	GainLoss         decimal.Decimal `json:"gain_loss_amount"`
	GainLossPct      decimal.Decimal `json:"gain_loss_pct"`
	HoldDurationDays int             `json:"hold_duration_days"`
	OriginalReason   string          `json:"original_reason,omitempty"`
	SellReason       string          `json:"sell_reason,omitempty"`
	Category         string          `json:"category"`
	SellTimestamp    time.Time       `json:"sell_timestamp"`
	RunID            string          `json:"run_id,omitempty"`
}

// RecommendedAction is one proposed trade from the reasoning service,
// already parsed. AmountUSD is the budget to allocate (buy) or an ignored
// hint (sell — sells always liquidate what is recommended or held).
type RecommendedAction struct {
	Ticker    string          `json:"ticker"`
	Side      string          `json:"action"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	Rationale string          `json:"reason"`
}
