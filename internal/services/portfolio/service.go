// Package portfolio implements the portfolio ledger: cash, holdings with
// cumulative average-cost basis, trade outcomes, and valuation snapshots.
// All monetary arithmetic is exact decimal.
package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tiller/internal/common"
	"github.com/bobmcallan/tiller/internal/interfaces"
	"github.com/bobmcallan/tiller/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Service implements interfaces.PortfolioLedger.
type Service struct {
	store    interfaces.PortfolioStore
	prices   interfaces.PriceFeed
	config   *common.Config
	logger   *common.Logger
	initCash decimal.Decimal
}

// NewService creates a portfolio ledger service
func NewService(store interfaces.PortfolioStore, prices interfaces.PriceFeed, config *common.Config, logger *common.Logger) *Service {
	return &Service{
		store:    store,
		prices:   prices,
		config:   config,
		logger:   logger,
		initCash: config.Risk.GetMaxFunds(),
	}
}

// Cash returns the current cash balance, seeding it from the configured
// starting funds on first use.
func (s *Service) Cash(ctx context.Context) (decimal.Decimal, error) {
	return s.store.GetCash(ctx, s.initCash)
}

// Holdings returns all current holdings.
func (s *Service) Holdings(ctx context.Context) ([]models.Holding, error) {
	return s.store.ListHoldings(ctx)
}

// RecordDecision persists a trade decision record.
func (s *Service) RecordDecision(ctx context.Context, d *models.TradeDecision) error {
	return s.store.SaveDecision(ctx, d)
}

// ApplyBuy executes a buy: debits cash and blends the shares into the
// holding's average cost. The buy is rejected with ErrInsufficientFunds if
// it would push cash below the configured buffer. Cash and holding are
// written together; a failure between the two surfaces as
// ErrCorruptLedgerState from the invariant check on the next snapshot.
func (s *Service) ApplyBuy(ctx context.Context, ticker string, shares, price decimal.Decimal, reasoning string) error {
	if shares.LessThanOrEqual(decimal.Zero) || price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("invalid buy of %s shares of %s at %s", shares, ticker, price)
	}

	cost := shares.Mul(price)
	cash, err := s.Cash(ctx)
	if err != nil {
		return err
	}

	remaining := cash.Sub(cost)
	if remaining.LessThan(s.config.Risk.GetMinBuffer()) {
		return fmt.Errorf("%w: buy %s for %s leaves %s, buffer is %s",
			models.ErrInsufficientFunds, ticker, cost.StringFixed(2),
			remaining.StringFixed(2), s.config.Risk.GetMinBuffer().StringFixed(2))
	}

	holding, err := s.store.GetHolding(ctx, ticker)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if holding == nil {
		holding = &models.Holding{
			Ticker:      ticker,
			Reason:      reasoning,
			PurchasedAt: now,
		}
	}
	holding.Shares = holding.Shares.Add(shares)
	holding.TotalInvested = holding.TotalInvested.Add(cost)
	holding.AvgCost = holding.TotalInvested.Div(holding.Shares)
	holding.UpdatedAt = now

	if err := s.store.UpsertHolding(ctx, holding); err != nil {
		return err
	}
	if err := s.store.SetCash(ctx, remaining); err != nil {
		return fmt.Errorf("%w: holding %s written but cash update failed: %v",
			models.ErrCorruptLedgerState, ticker, err)
	}

	s.logger.Info().
		Str("ticker", ticker).
		Str("shares", shares.String()).
		Str("price", price.StringFixed(2)).
		Str("avg_cost", holding.AvgCost.StringFixed(4)).
		Str("cash", remaining.StringFixed(2)).
		Msg("Executed buy")
	return nil
}

// ApplySell executes a sell: credits cash, reduces the holding's basis
// proportionally, and records a categorized trade outcome. Selling more
// shares than held is rejected with ErrOverSell. A sell that empties the
// position removes the holding.
func (s *Service) ApplySell(ctx context.Context, ticker string, shares, price decimal.Decimal, reasoning, runID string) (*models.TradeOutcome, error) {
	if shares.LessThanOrEqual(decimal.Zero) || price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("invalid sell of %s shares of %s at %s", shares, ticker, price)
	}

	holding, err := s.store.GetHolding(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if holding == nil || shares.GreaterThan(holding.Shares) {
		held := decimal.Zero
		if holding != nil {
			held = holding.Shares
		}
		return nil, fmt.Errorf("%w: sell %s of %s, held %s",
			models.ErrOverSell, shares, ticker, held)
	}

	now := time.Now().UTC()
	proceeds := shares.Mul(price)
	costBasis := holding.AvgCost.Mul(shares)
	gainLoss := proceeds.Sub(costBasis)
	gainLossPct := decimal.Zero
	if !holding.AvgCost.IsZero() {
		gainLossPct = price.Sub(holding.AvgCost).Div(holding.AvgCost).Mul(hundred)
	}

	outcome := &models.TradeOutcome{
		ID:               uuid.New().String(),
		Ticker:           ticker,
		PurchasePrice:    holding.AvgCost,
		SellPrice:        price,
		Shares:           shares,
		GainLoss:         gainLoss,
		GainLossPct:      gainLossPct,
		HoldDurationDays: int(now.Sub(holding.PurchasedAt).Hours() / 24),
		OriginalReason:   holding.Reason,
		SellReason:       reasoning,
		Category:         s.categorize(gainLossPct),
		SellTimestamp:    now,
		RunID:            runID,
	}

	remaining := holding.Shares.Sub(shares)
	if remaining.IsZero() {
		if err := s.store.DeleteHolding(ctx, ticker); err != nil {
			return nil, err
		}
	} else {
		// Average cost is untouched by a sell; basis shrinks in proportion
		// to the shares that left.
		holding.Shares = remaining
		holding.TotalInvested = holding.TotalInvested.Sub(costBasis)
		holding.UpdatedAt = now
		if err := s.store.UpsertHolding(ctx, holding); err != nil {
			return nil, err
		}
	}

	cash, err := s.Cash(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: holding %s written but cash read failed: %v",
			models.ErrCorruptLedgerState, ticker, err)
	}
	if err := s.store.SetCash(ctx, cash.Add(proceeds)); err != nil {
		return nil, fmt.Errorf("%w: holding %s written but cash update failed: %v",
			models.ErrCorruptLedgerState, ticker, err)
	}

	if err := s.store.SaveOutcome(ctx, outcome); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("ticker", ticker).
		Str("shares", shares.String()).
		Str("price", price.StringFixed(2)).
		Str("gain_loss", gainLoss.StringFixed(2)).
		Str("category", outcome.Category).
		Msg("Executed sell")
	return outcome, nil
}

// categorize maps a realized gain/loss percentage onto an outcome
// category using the configured thresholds.
func (s *Service) categorize(pct decimal.Decimal) string {
	sigProfit := s.config.Outcomes.GetSignificantProfitPct()
	band := s.config.Outcomes.GetBreakEvenBandPct()
	sigLoss := s.config.Outcomes.GetSignificantLossPct().Neg()

	switch {
	case pct.GreaterThanOrEqual(sigProfit):
		return models.OutcomeSignificantProfit
	case pct.GreaterThan(band):
		return models.OutcomeModerateProfit
	case pct.GreaterThanOrEqual(band.Neg()):
		return models.OutcomeBreakEven
	case pct.GreaterThan(sigLoss):
		return models.OutcomeModerateLoss
	default:
		return models.OutcomeSignificantLoss
	}
}

// Snapshot values the portfolio at current prices and appends the result
// to the snapshot history. A holding with no usable quote is valued at
// cost and flagged stale rather than failing the snapshot.
func (s *Service) Snapshot(ctx context.Context) (*models.PortfolioSnapshot, error) {
	holdings, err := s.store.ListHoldings(ctx)
	if err != nil {
		return nil, err
	}
	cash, err := s.Cash(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]models.HoldingView, 0, len(holdings))
	holdingsValue := decimal.Zero
	totalInvested := decimal.Zero

	for _, h := range holdings {
		if h.Shares.LessThan(decimal.Zero) || h.TotalInvested.LessThan(decimal.Zero) {
			return nil, fmt.Errorf("%w: holding %s has shares %s, invested %s",
				models.ErrCorruptLedgerState, h.Ticker, h.Shares, h.TotalInvested)
		}

		view := models.HoldingView{
			Ticker:        h.Ticker,
			Shares:        h.Shares,
			AvgCost:       h.AvgCost,
			TotalInvested: h.TotalInvested,
			Reason:        h.Reason,
		}

		price, err := s.prices.CurrentPrice(ctx, h.Ticker)
		if err != nil {
			s.logger.Warn().Str("ticker", h.Ticker).Err(err).Msg("No current price, valuing at cost")
			price = h.AvgCost
			view.PriceStale = true
		}

		view.CurrentPrice = price
		view.CurrentValue = h.Shares.Mul(price)
		view.GainLoss = view.CurrentValue.Sub(h.TotalInvested)

		holdingsValue = holdingsValue.Add(view.CurrentValue)
		totalInvested = totalInvested.Add(h.TotalInvested)
		views = append(views, view)
	}

	totalValue := cash.Add(holdingsValue)
	profitLoss := holdingsValue.Sub(totalInvested)
	pctGain := decimal.Zero
	if !totalInvested.IsZero() {
		pctGain = profitLoss.Div(totalInvested).Mul(hundred)
	}

	snap := &models.PortfolioSnapshot{
		Timestamp:     time.Now().UTC(),
		Cash:          cash,
		HoldingsValue: holdingsValue,
		TotalInvested: totalInvested,
		ProfitLoss:    profitLoss,
		PctGain:       pctGain,
		TotalValue:    totalValue,
		Holdings:      views,
	}

	if err := s.store.AppendSnapshot(ctx, snap); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("total_value", totalValue.StringFixed(2)).
		Str("cash", cash.StringFixed(2)).
		Int("holdings", len(views)).
		Msg("Recorded portfolio snapshot")
	return snap, nil
}
