package portfolio

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tiller/internal/common"
	"github.com/bobmcallan/tiller/internal/models"
	"github.com/bobmcallan/tiller/internal/storage/badger"
)

// fakePriceFeed returns canned prices per ticker.
type fakePriceFeed struct {
	prices map[string]string
}

func (f *fakePriceFeed) CurrentPrice(_ context.Context, ticker string) (decimal.Decimal, error) {
	p, ok := f.prices[ticker]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", models.ErrStalePrice, ticker)
	}
	return decimal.RequireFromString(p), nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T, prices map[string]string) *Service {
	t.Helper()
	store, err := badger.NewStore(common.NewSilentLogger(), filepath.Join(t.TempDir(), "badger"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	config := common.NewDefaultConfig()
	return NewService(store.PortfolioStore(), &fakePriceFeed{prices: prices}, config, common.NewSilentLogger())
}

func TestApplyBuy_BlendsAverageCost(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if err := svc.ApplyBuy(ctx, "ACME", dec("10"), dec("10"), "initial"); err != nil {
		t.Fatalf("first buy failed: %v", err)
	}
	if err := svc.ApplyBuy(ctx, "ACME", dec("10"), dec("14"), "add"); err != nil {
		t.Fatalf("second buy failed: %v", err)
	}

	holdings, err := svc.Holdings(ctx)
	if err != nil {
		t.Fatalf("Holdings failed: %v", err)
	}
	if len(holdings) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(holdings))
	}
	h := holdings[0]
	if !h.Shares.Equal(dec("20")) {
		t.Errorf("shares = %s, want 20", h.Shares)
	}
	if !h.TotalInvested.Equal(dec("240")) {
		t.Errorf("invested = %s, want 240", h.TotalInvested)
	}
	if !h.AvgCost.Equal(dec("12")) {
		t.Errorf("avg cost = %s, want 12", h.AvgCost)
	}

	cash, err := svc.Cash(ctx)
	if err != nil {
		t.Fatalf("Cash failed: %v", err)
	}
	if !cash.Equal(dec("9760")) {
		t.Errorf("cash = %s, want 9760", cash)
	}
}

func TestApplyBuy_EnforcesBuffer(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	// 10000 cash, 100 buffer: a 9901 buy must be rejected.
	err := svc.ApplyBuy(ctx, "ACME", dec("1"), dec("9901"), "too big")
	if !errors.Is(err, models.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Nothing was written.
	holdings, _ := svc.Holdings(ctx)
	if len(holdings) != 0 {
		t.Error("rejected buy must not create a holding")
	}
	cash, _ := svc.Cash(ctx)
	if !cash.Equal(dec("10000")) {
		t.Errorf("cash = %s, want untouched 10000", cash)
	}

	// Exactly at the buffer is allowed.
	if err := svc.ApplyBuy(ctx, "ACME", dec("1"), dec("9900"), "max"); err != nil {
		t.Fatalf("buy down to the buffer should succeed: %v", err)
	}
	cash, _ = svc.Cash(ctx)
	if !cash.Equal(dec("100")) {
		t.Errorf("cash = %s, want 100", cash)
	}
}

func TestApplySell_PartialSellKeepsAvgCost(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if err := svc.ApplyBuy(ctx, "ACME", dec("10"), dec("10"), "initial"); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if err := svc.ApplyBuy(ctx, "ACME", dec("10"), dec("14"), "add"); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	outcome, err := svc.ApplySell(ctx, "ACME", dec("15"), dec("18"), "take profit", "run-1")
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	// 15 shares at avg cost 12 sold at 18: gain 90, +50%.
	if !outcome.GainLoss.Equal(dec("90")) {
		t.Errorf("gain = %s, want 90", outcome.GainLoss)
	}
	if !outcome.GainLossPct.Equal(dec("50")) {
		t.Errorf("gain pct = %s, want 50", outcome.GainLossPct)
	}
	if outcome.Category != models.OutcomeSignificantProfit {
		t.Errorf("category = %s, want %s", outcome.Category, models.OutcomeSignificantProfit)
	}
	if !outcome.PurchasePrice.Equal(dec("12")) {
		t.Errorf("purchase price = %s, want avg cost 12", outcome.PurchasePrice)
	}
	if outcome.RunID != "run-1" {
		t.Errorf("run id = %s, want run-1", outcome.RunID)
	}

	holdings, _ := svc.Holdings(ctx)
	if len(holdings) != 1 {
		t.Fatalf("expected remaining holding, got %d", len(holdings))
	}
	h := holdings[0]
	if !h.Shares.Equal(dec("5")) || !h.TotalInvested.Equal(dec("60")) || !h.AvgCost.Equal(dec("12")) {
		t.Errorf("remaining holding shares=%s invested=%s avg=%s, want 5/60/12",
			h.Shares, h.TotalInvested, h.AvgCost)
	}

	// Cash: 10000 - 240 + 270 = 10030.
	cash, _ := svc.Cash(ctx)
	if !cash.Equal(dec("10030")) {
		t.Errorf("cash = %s, want 10030", cash)
	}
}

func TestApplySell_FullSellRemovesHolding(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if err := svc.ApplyBuy(ctx, "ACME", dec("10"), dec("10"), "initial"); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, err := svc.ApplySell(ctx, "ACME", dec("10"), dec("10"), "exit", ""); err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	holdings, _ := svc.Holdings(ctx)
	if len(holdings) != 0 {
		t.Errorf("expected no holdings after full sell, got %+v", holdings)
	}
	cash, _ := svc.Cash(ctx)
	if !cash.Equal(dec("10000")) {
		t.Errorf("cash = %s, want 10000", cash)
	}
}

func TestApplySell_RejectsOverSell(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.ApplySell(ctx, "GHOST", dec("1"), dec("10"), "", ""); !errors.Is(err, models.ErrOverSell) {
		t.Errorf("selling an unheld ticker: got %v, want ErrOverSell", err)
	}

	if err := svc.ApplyBuy(ctx, "ACME", dec("5"), dec("10"), ""); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, err := svc.ApplySell(ctx, "ACME", dec("6"), dec("10"), "", ""); !errors.Is(err, models.ErrOverSell) {
		t.Errorf("selling more than held: got %v, want ErrOverSell", err)
	}

	// State untouched by the rejected sells.
	holdings, _ := svc.Holdings(ctx)
	if len(holdings) != 1 || !holdings[0].Shares.Equal(dec("5")) {
		t.Errorf("holding changed by rejected sell: %+v", holdings)
	}
}

func TestCategorize(t *testing.T) {
	svc := newTestService(t, nil)

	cases := []struct {
		pct  string
		want string
	}{
		{"8", models.OutcomeSignificantProfit},
		{"5", models.OutcomeSignificantProfit},
		{"4.9", models.OutcomeModerateProfit},
		{"2.01", models.OutcomeModerateProfit},
		{"2", models.OutcomeBreakEven},
		{"0", models.OutcomeBreakEven},
		{"-2", models.OutcomeBreakEven},
		{"-2.01", models.OutcomeModerateLoss},
		{"-9.99", models.OutcomeModerateLoss},
		{"-10", models.OutcomeSignificantLoss},
		{"-15", models.OutcomeSignificantLoss},
	}
	for _, tc := range cases {
		if got := svc.categorize(dec(tc.pct)); got != tc.want {
			t.Errorf("categorize(%s) = %s, want %s", tc.pct, got, tc.want)
		}
	}
}

func TestSnapshot_ValuesHoldingsAndFlagsStale(t *testing.T) {
	svc := newTestService(t, map[string]string{"ACME": "15"})
	ctx := context.Background()

	if err := svc.ApplyBuy(ctx, "ACME", dec("10"), dec("10"), ""); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if err := svc.ApplyBuy(ctx, "NOPRICE", dec("4"), dec("25"), ""); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	snap, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if len(snap.Holdings) != 2 {
		t.Fatalf("expected 2 holding views, got %d", len(snap.Holdings))
	}

	var acme, noprice models.HoldingView
	for _, v := range snap.Holdings {
		switch v.Ticker {
		case "ACME":
			acme = v
		case "NOPRICE":
			noprice = v
		}
	}

	if acme.PriceStale {
		t.Error("ACME has a live price and must not be stale")
	}
	if !acme.CurrentValue.Equal(dec("150")) || !acme.GainLoss.Equal(dec("50")) {
		t.Errorf("ACME value=%s gain=%s, want 150/50", acme.CurrentValue, acme.GainLoss)
	}

	if !noprice.PriceStale {
		t.Error("NOPRICE must be flagged stale")
	}
	if !noprice.CurrentValue.Equal(dec("100")) || !noprice.GainLoss.Equal(dec("0")) {
		t.Errorf("stale holding is valued at cost: value=%s gain=%s", noprice.CurrentValue, noprice.GainLoss)
	}

	// Cash 10000-100-100=9800, holdings 150+100=250.
	if !snap.Cash.Equal(dec("9800")) || !snap.HoldingsValue.Equal(dec("250")) || !snap.TotalValue.Equal(dec("10050")) {
		t.Errorf("snapshot totals cash=%s holdings=%s total=%s", snap.Cash, snap.HoldingsValue, snap.TotalValue)
	}
	if !snap.ProfitLoss.Equal(dec("50")) {
		t.Errorf("profit/loss = %s, want 50", snap.ProfitLoss)
	}
}
