package decision

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tiller/internal/common"
	"github.com/bobmcallan/tiller/internal/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeLedger is an in-memory portfolio ledger that records call order.
type fakeLedger struct {
	holdings  map[string]models.Holding
	cash      decimal.Decimal
	minBuffer decimal.Decimal
	decisions []models.TradeDecision
	trades    []string // "buy:TICKER" / "sell:TICKER" in execution order
	failSaves bool
}

func newFakeLedger(cash string) *fakeLedger {
	return &fakeLedger{
		holdings:  make(map[string]models.Holding),
		cash:      dec(cash),
		minBuffer: dec("100"),
	}
}

func (f *fakeLedger) hold(ticker, shares, avgCost string, age time.Duration) {
	s := dec(shares)
	ac := dec(avgCost)
	f.holdings[ticker] = models.Holding{
		Ticker:        ticker,
		Shares:        s,
		AvgCost:       ac,
		TotalInvested: s.Mul(ac),
		PurchasedAt:   time.Now().UTC().Add(-age),
	}
}

func (f *fakeLedger) ApplyBuy(_ context.Context, ticker string, shares, price decimal.Decimal, reasoning string) error {
	cost := shares.Mul(price)
	if f.cash.Sub(cost).LessThan(f.minBuffer) {
		return fmt.Errorf("%w: %s", models.ErrInsufficientFunds, ticker)
	}
	f.cash = f.cash.Sub(cost)
	h := f.holdings[ticker]
	h.Ticker = ticker
	h.Shares = h.Shares.Add(shares)
	h.TotalInvested = h.TotalInvested.Add(cost)
	h.AvgCost = h.TotalInvested.Div(h.Shares)
	f.holdings[ticker] = h
	f.trades = append(f.trades, "buy:"+ticker)
	return nil
}

func (f *fakeLedger) ApplySell(_ context.Context, ticker string, shares, price decimal.Decimal, reasoning, runID string) (*models.TradeOutcome, error) {
	h, ok := f.holdings[ticker]
	if !ok || shares.GreaterThan(h.Shares) {
		return nil, fmt.Errorf("%w: %s", models.ErrOverSell, ticker)
	}
	f.cash = f.cash.Add(shares.Mul(price))
	h.Shares = h.Shares.Sub(shares)
	if h.Shares.IsZero() {
		delete(f.holdings, ticker)
	} else {
		f.holdings[ticker] = h
	}
	f.trades = append(f.trades, "sell:"+ticker)
	return &models.TradeOutcome{
		Ticker:    ticker,
		SellPrice: price,
		Shares:    shares,
		RunID:     runID,
	}, nil
}

func (f *fakeLedger) Snapshot(_ context.Context) (*models.PortfolioSnapshot, error) {
	return &models.PortfolioSnapshot{Cash: f.cash}, nil
}

func (f *fakeLedger) Cash(_ context.Context) (decimal.Decimal, error) {
	return f.cash, nil
}

func (f *fakeLedger) Holdings(_ context.Context) ([]models.Holding, error) {
	out := make([]models.Holding, 0, len(f.holdings))
	for _, h := range f.holdings {
		out = append(out, h)
	}
	return out, nil
}

func (f *fakeLedger) RecordDecision(_ context.Context, d *models.TradeDecision) error {
	if f.failSaves {
		return errors.New("storage down")
	}
	f.decisions = append(f.decisions, *d)
	return nil
}

type fakePrices struct {
	prices map[string]string
}

func (f *fakePrices) CurrentPrice(_ context.Context, ticker string) (decimal.Decimal, error) {
	p, ok := f.prices[ticker]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", models.ErrStalePrice, ticker)
	}
	return dec(p), nil
}

func newTestEngine(ledger *fakeLedger, prices map[string]string) *Engine {
	return NewEngine(ledger, &fakePrices{prices: prices}, common.NewDefaultConfig(), common.NewSilentLogger())
}

func TestDecide_ForcedExitsOverrideRecommendation(t *testing.T) {
	ledger := newFakeLedger("1000")
	ledger.hold("WIN", "10", "100", 24*time.Hour)  // +10% at 110: take profit
	ledger.hold("LOSE", "10", "100", 24*time.Hour) // -10% at 90: stop loss
	ledger.hold("FLAT", "10", "100", 24*time.Hour) // +1%: stays

	engine := newTestEngine(ledger, map[string]string{
		"WIN": "110", "LOSE": "90", "FLAT": "101",
	})

	// The advisor wants to buy more WIN; the forced exit wins.
	rec := []models.RecommendedAction{
		{Ticker: "WIN", Side: "buy", AmountUSD: dec("500"), Rationale: "momentum"},
	}

	result, err := engine.Decide(context.Background(), "run-1", rec)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	if len(result.Executed) != 2 {
		t.Fatalf("expected 2 forced exits, got %d: %+v", len(result.Executed), result.Executed)
	}
	for _, d := range result.Executed {
		if !d.Forced || d.Side != models.SideSell {
			t.Errorf("expected forced sell, got %+v", d)
		}
		if d.Ticker == "FLAT" {
			t.Error("FLAT is inside thresholds and must not exit")
		}
	}
	if len(ledger.holdings) != 1 {
		t.Errorf("expected only FLAT left, got %v", ledger.holdings)
	}
	if _, ok := ledger.holdings["FLAT"]; !ok {
		t.Error("FLAT should survive")
	}
}

func TestDecide_SellsBeforeBuys(t *testing.T) {
	ledger := newFakeLedger("150")
	ledger.hold("OLD", "10", "100", 24*time.Hour)

	engine := newTestEngine(ledger, map[string]string{
		"OLD": "100", "NEW": "50",
	})

	// Recommendation lists the buy first; the plan must still sell first
	// so the liquidation funds the purchase.
	rec := []models.RecommendedAction{
		{Ticker: "NEW", Side: "buy", AmountUSD: dec("1000"), Rationale: "rotate in"},
		{Ticker: "OLD", Side: "sell", Rationale: "rotate out"},
	}

	result, err := engine.Decide(context.Background(), "run-1", rec)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	if len(result.Executed) != 2 {
		t.Fatalf("expected both trades executed, got %d: %+v", len(result.Executed), result.Skipped)
	}
	if len(ledger.trades) != 2 || ledger.trades[0] != "sell:OLD" || ledger.trades[1] != "buy:NEW" {
		t.Errorf("trade order = %v, want [sell:OLD buy:NEW]", ledger.trades)
	}
	// 1000/50 = 20 whole shares.
	if !ledger.holdings["NEW"].Shares.Equal(dec("20")) {
		t.Errorf("NEW shares = %s, want 20", ledger.holdings["NEW"].Shares)
	}
}

func TestDecide_UnheldSellDropped(t *testing.T) {
	ledger := newFakeLedger("1000")
	engine := newTestEngine(ledger, map[string]string{"GHOST": "10"})

	result, err := engine.Decide(context.Background(), "run-1", []models.RecommendedAction{
		{Ticker: "GHOST", Side: "sell", Rationale: "hallucinated"},
	})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if len(result.Executed) != 0 || len(result.Skipped) != 0 {
		t.Errorf("unheld sell should vanish from the plan, got %+v / %+v", result.Executed, result.Skipped)
	}
	if len(ledger.decisions) != 0 {
		t.Errorf("no decision should be recorded, got %+v", ledger.decisions)
	}
}

func TestDecide_BuysBeyondPositionLimitDropped(t *testing.T) {
	ledger := newFakeLedger("100000")
	ledger.minBuffer = dec("100")
	prices := map[string]string{}
	var rec []models.RecommendedAction
	for i := 0; i < 8; i++ {
		ticker := fmt.Sprintf("T%02d", i)
		prices[ticker] = "10"
		rec = append(rec, models.RecommendedAction{
			Ticker: ticker, Side: "buy", AmountUSD: dec("100"),
		})
	}

	engine := newTestEngine(ledger, prices)
	result, err := engine.Decide(context.Background(), "run-1", rec)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	if len(result.Executed) != 5 {
		t.Errorf("executed = %d, want 5 buys up to the position limit", len(result.Executed))
	}
	if len(result.Skipped) != 0 {
		t.Errorf("dropped buys must not be recorded, got %+v", result.Skipped)
	}
	if len(ledger.holdings) != 5 {
		t.Errorf("holdings = %d, want exactly 5", len(ledger.holdings))
	}
}

func TestDecide_HoldingsNeverExceedPositionLimit(t *testing.T) {
	ledger := newFakeLedger("100000")
	prices := map[string]string{}
	for i := 0; i < 4; i++ {
		ticker := fmt.Sprintf("H%02d", i)
		ledger.hold(ticker, "10", "100", 24*time.Hour)
		prices[ticker] = "100" // flat, no forced exit
	}

	// One top-up of an existing position plus four new tickers. Only one
	// slot is free, so the top-up and one new buy go through.
	rec := []models.RecommendedAction{
		{Ticker: "H00", Side: "buy", AmountUSD: dec("200"), Rationale: "add"},
	}
	for i := 0; i < 4; i++ {
		ticker := fmt.Sprintf("N%02d", i)
		prices[ticker] = "10"
		rec = append(rec, models.RecommendedAction{
			Ticker: ticker, Side: "buy", AmountUSD: dec("100"),
		})
	}

	engine := newTestEngine(ledger, prices)
	result, err := engine.Decide(context.Background(), "run-1", rec)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	if len(ledger.holdings) != 5 {
		t.Fatalf("holdings = %d, want at most 5: %v", len(ledger.holdings), ledger.holdings)
	}
	if len(result.Executed) != 2 {
		t.Errorf("executed = %+v, want the top-up and one new buy", result.Executed)
	}
	if _, ok := ledger.holdings["N00"]; !ok {
		t.Error("the first new buy takes the free slot")
	}
}

func TestDecide_AllForcedExitsExecute(t *testing.T) {
	ledger := newFakeLedger("1000")
	prices := map[string]string{}
	for i := 0; i < 7; i++ {
		ticker := fmt.Sprintf("D%02d", i)
		ledger.hold(ticker, "10", "100", 24*time.Hour)
		prices[ticker] = "90" // -10%, past stop loss
	}

	engine := newTestEngine(ledger, prices)
	result, err := engine.Decide(context.Background(), "run-1", nil)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	// More positions breach the stop loss than the trade limit allows;
	// every one of them still exits.
	if len(result.Executed) != 7 {
		t.Fatalf("executed = %d, want all 7 forced exits", len(result.Executed))
	}
	for _, d := range result.Executed {
		if !d.Forced || d.Side != models.SideSell {
			t.Errorf("expected forced sell, got %+v", d)
		}
	}
	if len(ledger.holdings) != 0 {
		t.Errorf("all breached positions must be liquidated, got %v", ledger.holdings)
	}
}

func TestDecide_ForcedExitFreesSlotForBuy(t *testing.T) {
	ledger := newFakeLedger("10000")
	prices := map[string]string{"NEW": "10"}
	for i := 0; i < 5; i++ {
		ticker := fmt.Sprintf("H%02d", i)
		ledger.hold(ticker, "10", "100", 24*time.Hour)
		prices[ticker] = "100"
	}
	// H00 breaches the stop loss; its exit frees the slot for NEW.
	prices["H00"] = "90"

	engine := newTestEngine(ledger, prices)
	result, err := engine.Decide(context.Background(), "run-1", []models.RecommendedAction{
		{Ticker: "NEW", Side: "buy", AmountUSD: dec("100"), Rationale: "rotate in"},
	})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	if len(result.Executed) != 2 {
		t.Fatalf("executed = %+v, want the exit and the buy", result.Executed)
	}
	if _, ok := ledger.holdings["NEW"]; !ok {
		t.Error("the freed slot admits the new buy")
	}
	if len(ledger.holdings) != 5 {
		t.Errorf("holdings = %d, want 5", len(ledger.holdings))
	}
}

func TestDecide_BuyPastBufferIsSkipped(t *testing.T) {
	ledger := newFakeLedger("600")
	engine := newTestEngine(ledger, map[string]string{"BIG": "500", "SMALL": "50"})

	rec := []models.RecommendedAction{
		{Ticker: "BIG", Side: "buy", AmountUSD: dec("500"), Rationale: "a"},
		{Ticker: "SMALL", Side: "buy", AmountUSD: dec("100"), Rationale: "b"},
	}

	result, err := engine.Decide(context.Background(), "run-1", rec)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	// BIG spends 500 leaving 100. SMALL would leave 0, below the buffer:
	// skipped, recorded, and the pass keeps going.
	if len(result.Executed) != 1 || result.Executed[0].Ticker != "BIG" {
		t.Fatalf("executed = %+v, want only BIG", result.Executed)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Ticker != "SMALL" {
		t.Fatalf("skipped = %+v, want SMALL", result.Skipped)
	}
	if result.Skipped[0].SkipReason == "" {
		t.Error("skip reason must be recorded")
	}
	if len(ledger.decisions) != 2 {
		t.Errorf("both decisions must be persisted, got %d", len(ledger.decisions))
	}
}

func TestDecide_StalePriceSkipsOnlyThatTicker(t *testing.T) {
	ledger := newFakeLedger("10000")
	engine := newTestEngine(ledger, map[string]string{"GOOD": "10"})

	rec := []models.RecommendedAction{
		{Ticker: "DARK", Side: "buy", AmountUSD: dec("100"), Rationale: "no quote"},
		{Ticker: "GOOD", Side: "buy", AmountUSD: dec("100"), Rationale: "quoted"},
	}

	result, err := engine.Decide(context.Background(), "run-1", rec)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	if len(result.Executed) != 1 || result.Executed[0].Ticker != "GOOD" {
		t.Errorf("executed = %+v, want GOOD only", result.Executed)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Ticker != "DARK" {
		t.Errorf("skipped = %+v, want DARK", result.Skipped)
	}
}

func TestDecide_StorageFailureAbortsAfterPrefix(t *testing.T) {
	ledger := newFakeLedger("10000")
	ledger.failSaves = true
	engine := newTestEngine(ledger, map[string]string{"A": "10"})

	_, err := engine.Decide(context.Background(), "run-1", []models.RecommendedAction{
		{Ticker: "A", Side: "buy", AmountUSD: dec("100")},
	})
	if err == nil {
		t.Fatal("storage failure must fail the pass")
	}
	// The trade itself executed before the record failed; the executed
	// prefix stays applied.
	if len(ledger.trades) != 1 {
		t.Errorf("trades = %v, want the executed prefix preserved", ledger.trades)
	}
}

func TestDecide_FractionalBudgetFloorsToWholeShares(t *testing.T) {
	ledger := newFakeLedger("10000")
	engine := newTestEngine(ledger, map[string]string{"ACME": "30", "TINY": "30"})

	result, err := engine.Decide(context.Background(), "run-1", []models.RecommendedAction{
		{Ticker: "acme", Side: "buy", AmountUSD: dec("100")},
		{Ticker: "TINY", Side: "buy", AmountUSD: dec("10")}, // under one share, dropped
	})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	if len(result.Executed) != 1 {
		t.Fatalf("expected 1 executed buy, got %+v", result.Executed)
	}
	if !result.Executed[0].Shares.Equal(dec("3")) {
		t.Errorf("shares = %s, want floor(100/30) = 3", result.Executed[0].Shares)
	}
}
