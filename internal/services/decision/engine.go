// Package decision implements the decision engine: it validates and
// sequences recommended trades into an execution plan, overlays forced
// risk exits, and applies the plan through the portfolio ledger.
package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tiller/internal/common"
	"github.com/bobmcallan/tiller/internal/interfaces"
	"github.com/bobmcallan/tiller/internal/models"
)

// Engine implements interfaces.DecisionEngine.
type Engine struct {
	ledger interfaces.PortfolioLedger
	prices interfaces.PriceFeed
	config *common.Config
	logger *common.Logger
}

// NewEngine creates a decision engine
func NewEngine(ledger interfaces.PortfolioLedger, prices interfaces.PriceFeed, config *common.Config, logger *common.Logger) *Engine {
	return &Engine{
		ledger: ledger,
		prices: prices,
		config: config,
		logger: logger,
	}
}

// plannedTrade is one entry of the execution plan before it is applied.
type plannedTrade struct {
	ticker    string
	side      string
	shares    decimal.Decimal
	price     decimal.Decimal
	reasoning string
	forced    bool
	stale     bool   // no usable price; recorded as skipped
	staleWhy  string
}

// Decide builds and applies the execution plan for one decider pass.
// Forced exits come first, then recommended sells, then buys; buys that
// would push the position count past the trade limit are dropped, and each
// buy is guarded against the live cash balance at execution time.
// Skippable conditions (no price, over-sell, insufficient funds) record a
// skipped decision and continue; storage failures abort mid-plan, leaving
// the executed prefix in place.
func (e *Engine) Decide(ctx context.Context, runID string, rec []models.RecommendedAction) (*interfaces.DecisionResult, error) {
	plan, err := e.buildPlan(ctx, rec)
	if err != nil {
		return nil, err
	}

	result := &interfaces.DecisionResult{}
	now := time.Now().UTC()

	for _, p := range plan {
		d := models.TradeDecision{
			ID:        uuid.New().String(),
			RunID:     runID,
			Ticker:    p.ticker,
			Side:      p.side,
			Shares:    p.shares,
			Price:     p.price,
			Reasoning: p.reasoning,
			Forced:    p.forced,
			Timestamp: now,
		}

		if p.stale {
			d.SkipReason = p.staleWhy
			if err := e.ledger.RecordDecision(ctx, &d); err != nil {
				return result, err
			}
			result.Skipped = append(result.Skipped, d)
			continue
		}

		switch p.side {
		case models.SideSell:
			outcome, err := e.ledger.ApplySell(ctx, p.ticker, p.shares, p.price, p.reasoning, runID)
			if err != nil {
				if !skippable(err) {
					return result, err
				}
				d.SkipReason = err.Error()
			} else {
				d.Executed = true
				result.Outcomes = append(result.Outcomes, *outcome)
			}
		case models.SideBuy:
			err := e.ledger.ApplyBuy(ctx, p.ticker, p.shares, p.price, p.reasoning)
			if err != nil {
				if !skippable(err) {
					return result, err
				}
				d.SkipReason = err.Error()
			} else {
				d.Executed = true
			}
		}

		if err := e.ledger.RecordDecision(ctx, &d); err != nil {
			return result, err
		}
		if d.Executed {
			result.Executed = append(result.Executed, d)
		} else {
			result.Skipped = append(result.Skipped, d)
			e.logger.Info().
				Str("ticker", d.Ticker).
				Str("side", d.Side).
				Str("reason", d.SkipReason).
				Msg("Skipped trade")
		}
	}

	e.logger.Info().
		Str("run_id", runID).
		Int("executed", len(result.Executed)).
		Int("skipped", len(result.Skipped)).
		Msg("Decision pass complete")
	return result, nil
}

// skippable reports whether the error skips one action rather than
// failing the run.
func skippable(err error) bool {
	return errors.Is(err, models.ErrInsufficientFunds) ||
		errors.Is(err, models.ErrOverSell) ||
		errors.Is(err, models.ErrStalePrice)
}

// buildPlan turns the recommendation into an ordered plan: forced exits,
// then recommended sells, then buys. Forced exits take priority over
// whatever the recommendation says about the same ticker. Buys admit
// against the projected position count so the portfolio never holds more
// than the trade limit; sells and forced exits are never dropped.
func (e *Engine) buildPlan(ctx context.Context, rec []models.RecommendedAction) ([]plannedTrade, error) {
	holdings, err := e.ledger.Holdings(ctx)
	if err != nil {
		return nil, err
	}
	held := make(map[string]models.Holding, len(holdings))
	for _, h := range holdings {
		held[h.Ticker] = h
	}

	priceOf := make(map[string]decimal.Decimal)
	priceErr := make(map[string]string)
	lookup := func(ctx context.Context, ticker string) (decimal.Decimal, bool) {
		if p, ok := priceOf[ticker]; ok {
			return p, true
		}
		if _, ok := priceErr[ticker]; ok {
			return decimal.Zero, false
		}
		p, err := e.prices.CurrentPrice(ctx, ticker)
		if err != nil {
			priceErr[ticker] = err.Error()
			return decimal.Zero, false
		}
		priceOf[ticker] = p
		return p, true
	}

	takeProfit := e.config.Risk.GetTakeProfitPct()
	stopLoss := e.config.Risk.GetStopLossPct().Neg()

	var forced, sells, buys []plannedTrade
	forcedTickers := make(map[string]bool)

	// Forced exits: every holding past a risk threshold liquidates in
	// full, regardless of the recommendation.
	for _, h := range holdings {
		price, ok := lookup(ctx, h.Ticker)
		if !ok {
			continue // no price, no forced exit; the position stays put
		}
		pct := h.UnrealizedPct(price)
		var why string
		switch {
		case pct.GreaterThanOrEqual(takeProfit):
			why = fmt.Sprintf("take profit: up %s%%", pct.StringFixed(2))
		case pct.LessThanOrEqual(stopLoss):
			why = fmt.Sprintf("stop loss: down %s%%", pct.Abs().StringFixed(2))
		default:
			continue
		}
		forced = append(forced, plannedTrade{
			ticker:    h.Ticker,
			side:      models.SideSell,
			shares:    h.Shares,
			price:     price,
			reasoning: why,
			forced:    true,
		})
		forcedTickers[h.Ticker] = true
	}

	for _, action := range rec {
		ticker := strings.ToUpper(strings.TrimSpace(action.Ticker))
		if ticker == "" || forcedTickers[ticker] {
			continue
		}

		switch strings.ToLower(action.Side) {
		case models.SideSell:
			h, ok := held[ticker]
			if !ok {
				continue // sell of an unheld ticker is dropped silently
			}
			price, ok := lookup(ctx, ticker)
			if !ok {
				sells = append(sells, plannedTrade{
					ticker: ticker, side: models.SideSell, shares: h.Shares,
					reasoning: action.Rationale, stale: true, staleWhy: priceErr[ticker],
				})
				continue
			}
			sells = append(sells, plannedTrade{
				ticker:    ticker,
				side:      models.SideSell,
				shares:    h.Shares,
				price:     price,
				reasoning: action.Rationale,
			})

		case models.SideBuy:
			if action.AmountUSD.LessThanOrEqual(decimal.Zero) {
				continue
			}
			price, ok := lookup(ctx, ticker)
			if !ok {
				buys = append(buys, plannedTrade{
					ticker: ticker, side: models.SideBuy,
					reasoning: action.Rationale, stale: true, staleWhy: priceErr[ticker],
				})
				continue
			}
			shares := action.AmountUSD.Div(price).Floor()
			if shares.LessThanOrEqual(decimal.Zero) {
				continue // budget buys less than one whole share
			}
			buys = append(buys, plannedTrade{
				ticker:    ticker,
				side:      models.SideBuy,
				shares:    shares,
				price:     price,
				reasoning: action.Rationale,
			})
		}
	}

	// Project the position count after this pass: current holdings minus
	// full liquidations that will actually execute. Stale sells are
	// recorded as skipped and leave the position in place.
	projected := make(map[string]bool, len(held))
	for ticker := range held {
		projected[ticker] = true
	}
	for _, p := range forced {
		delete(projected, p.ticker)
	}
	for _, p := range sells {
		if !p.stale {
			delete(projected, p.ticker)
		}
	}

	// Admit each buy against the projection; a buy that would open a
	// position past the limit is dropped. Topping up an existing position
	// opens nothing and always passes.
	maxTrades := e.config.Risk.MaxTrades
	admitted := make([]plannedTrade, 0, len(buys))
	for _, p := range buys {
		if !projected[p.ticker] && len(projected) >= maxTrades {
			e.logger.Warn().
				Str("ticker", p.ticker).
				Int("max_trades", maxTrades).
				Msg("Buy dropped, position limit reached")
			continue
		}
		if !p.stale {
			projected[p.ticker] = true
		}
		admitted = append(admitted, p)
	}

	// Sells before buys so liquidations fund purchases in the same pass.
	plan := append(forced, sells...)
	plan = append(plan, admitted...)
	return plan, nil
}
