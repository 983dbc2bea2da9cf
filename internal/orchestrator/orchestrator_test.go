package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tiller/internal/calendar"
	"github.com/bobmcallan/tiller/internal/common"
	"github.com/bobmcallan/tiller/internal/interfaces"
	"github.com/bobmcallan/tiller/internal/models"
	"github.com/bobmcallan/tiller/internal/services/newsledger"
	"github.com/bobmcallan/tiller/internal/storage/badger"
)

// --- Fakes ---

type fakeSource struct {
	mu    sync.Mutex
	items []models.NewsItem
	err   error
	block chan struct{} // when set, Fetch waits until closed
}

func (f *fakeSource) Fetch(ctx context.Context) ([]models.NewsItem, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items, f.err
}

type fakeAdvisor struct {
	rec []models.RecommendedAction
	err error
}

func (f *fakeAdvisor) Recommend(context.Context, []models.HoldingView, decimal.Decimal, []models.NewsItem, string) ([]models.RecommendedAction, error) {
	return f.rec, f.err
}

func (f *fakeAdvisor) AnalyzeOutcomes(context.Context, *models.FeedbackReport, []models.TradeOutcome) (*interfaces.FeedbackContent, error) {
	return &interfaces.FeedbackContent{}, nil
}

type fakePortfolio struct {
	snapErr   error
	snapshots int
}

func (f *fakePortfolio) ApplyBuy(context.Context, string, decimal.Decimal, decimal.Decimal, string) error {
	return nil
}

func (f *fakePortfolio) ApplySell(context.Context, string, decimal.Decimal, decimal.Decimal, string, string) (*models.TradeOutcome, error) {
	return &models.TradeOutcome{}, nil
}

func (f *fakePortfolio) Snapshot(context.Context) (*models.PortfolioSnapshot, error) {
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	f.snapshots++
	return &models.PortfolioSnapshot{Cash: decimal.NewFromInt(10000)}, nil
}

func (f *fakePortfolio) Cash(context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(10000), nil
}

func (f *fakePortfolio) Holdings(context.Context) ([]models.Holding, error) {
	return nil, nil
}

func (f *fakePortfolio) RecordDecision(context.Context, *models.TradeDecision) error {
	return nil
}

type fakeEngine struct {
	err    error
	called int
}

func (f *fakeEngine) Decide(context.Context, string, []models.RecommendedAction) (*interfaces.DecisionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.called++
	return &interfaces.DecisionResult{}, nil
}

type fakeFeedback struct {
	err error
}

func (f *fakeFeedback) Analyze(context.Context, string) (*models.FeedbackReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.FeedbackReport{}, nil
}

// --- Harness ---

type harness struct {
	orch      *Orchestrator
	store     *badger.Store
	source    *fakeSource
	advisor   *fakeAdvisor
	portfolio *fakePortfolio
	engine    *fakeEngine
	feedback  *fakeFeedback
	news      interfaces.NewsLedger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := badger.NewStore(common.NewSilentLogger(), filepath.Join(t.TempDir(), "badger"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	config := common.NewDefaultConfig()
	cal, err := calendar.New(config.Calendar)
	if err != nil {
		t.Fatalf("calendar.New failed: %v", err)
	}

	h := &harness{
		store:     store,
		source:    &fakeSource{},
		advisor:   &fakeAdvisor{},
		portfolio: &fakePortfolio{},
		engine:    &fakeEngine{},
		feedback:  &fakeFeedback{},
		news:      newsledger.NewService(store.NewsStore(), common.NewSilentLogger()),
	}
	h.orch = New(config, common.NewSilentLogger(), cal,
		store.RunStore(), h.news, h.source, h.advisor,
		h.portfolio, h.engine, h.feedback, store.FeedbackStore())
	return h
}

// waitForRun polls until the run leaves the running state and its type's
// exclusion slot is released.
func (h *harness) waitForRun(t *testing.T, id string) *models.Run {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		run, err := h.store.RunStore().Get(context.Background(), id)
		if err == nil && run.Status != models.RunStatusRunning {
			h.orch.mu.Lock()
			released := !h.orch.active[run.Type]
			h.orch.mu.Unlock()
			if released {
				return run
			}
		}
		select {
		case <-deadline:
			t.Fatalf("run %s never finished", id)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// --- Tests ---

func TestTriggerSummarizer(t *testing.T) {
	h := newHarness(t)
	h.source.items = []models.NewsItem{{Source: "reuters", Headlines: []string{"x"}}}

	id, err := h.orch.Trigger(context.Background(), models.RunTypeSummarizer)
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}

	run := h.waitForRun(t, id)
	if run.Status != models.RunStatusSuccess {
		t.Fatalf("run status = %s (%s), want success", run.Status, run.Error)
	}

	items, err := h.store.NewsStore().ListItems(context.Background())
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(items) != 1 || items[0].RunID != id {
		t.Errorf("expected 1 item stamped with run %s, got %+v", id, items)
	}
}

func TestTriggerUnknownType(t *testing.T) {
	h := newHarness(t)
	if _, err := h.orch.Trigger(context.Background(), models.RunType("reaper")); err == nil {
		t.Error("unknown run type must be rejected")
	}
}

func TestTriggerRejectsConcurrentRun(t *testing.T) {
	h := newHarness(t)
	h.source.block = make(chan struct{})

	id, err := h.orch.Trigger(context.Background(), models.RunTypeSummarizer)
	if err != nil {
		t.Fatalf("first trigger failed: %v", err)
	}

	_, err = h.orch.Trigger(context.Background(), models.RunTypeSummarizer)
	if !errors.Is(err, models.ErrConcurrentRunConflict) {
		t.Errorf("second trigger: got %v, want ErrConcurrentRunConflict", err)
	}

	// A different type is not blocked.
	otherID, err := h.orch.Trigger(context.Background(), models.RunTypeFeedback)
	if err != nil {
		t.Errorf("feedback trigger should not conflict with summarizer: %v", err)
	}

	close(h.source.block)
	h.waitForRun(t, id)
	h.waitForRun(t, otherID)
}

func TestFailedDeciderLeavesCursorInPlace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.news.Append(ctx, []models.NewsItem{{Source: "a"}, {Source: "b"}}, "seed"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	h.advisor.err = fmt.Errorf("%w: model overloaded", models.ErrCollaboratorUnavailable)

	id, err := h.orch.Trigger(ctx, models.RunTypeDecider)
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	run := h.waitForRun(t, id)
	if run.Status != models.RunStatusFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}

	unseen, err := h.news.Unseen(ctx, models.ConsumerDecider)
	if err != nil {
		t.Fatalf("Unseen failed: %v", err)
	}
	if len(unseen) != 2 {
		t.Errorf("failed run must not advance the cursor, got %d unseen", len(unseen))
	}

	// The next pass retries the same items and succeeds.
	h.advisor.err = nil
	id, err = h.orch.Trigger(ctx, models.RunTypeDecider)
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	run = h.waitForRun(t, id)
	if run.Status != models.RunStatusSuccess {
		t.Fatalf("retry status = %s (%s), want success", run.Status, run.Error)
	}

	unseen, _ = h.news.Unseen(ctx, models.ConsumerDecider)
	if len(unseen) != 0 {
		t.Errorf("successful run must advance the cursor, got %d unseen", len(unseen))
	}
}

func TestDeciderWithNoItemsStillSnapshots(t *testing.T) {
	h := newHarness(t)

	id, err := h.orch.Trigger(context.Background(), models.RunTypeDecider)
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	run := h.waitForRun(t, id)
	if run.Status != models.RunStatusSuccess {
		t.Fatalf("run status = %s (%s), want success", run.Status, run.Error)
	}
	if run.Detail != "no unprocessed items" {
		t.Errorf("detail = %q", run.Detail)
	}
	if h.portfolio.snapshots != 1 {
		t.Errorf("expected 1 snapshot, got %d", h.portfolio.snapshots)
	}
	if h.engine.called != 0 {
		t.Error("engine must not run without items")
	}
}

func TestCorruptLedgerHaltsScheduling(t *testing.T) {
	h := newHarness(t)
	h.portfolio.snapErr = fmt.Errorf("%w: negative shares", models.ErrCorruptLedgerState)

	id, err := h.orch.Trigger(context.Background(), models.RunTypeDecider)
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	run := h.waitForRun(t, id)
	if run.Status != models.RunStatusFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}

	halted, haltErr := h.orch.Halted()
	if !halted || !errors.Is(haltErr, models.ErrCorruptLedgerState) {
		t.Fatalf("halted=%v err=%v, want halt on corrupt ledger", halted, haltErr)
	}

	// Everything is rejected while halted, even healthy run types.
	if _, err := h.orch.Trigger(context.Background(), models.RunTypeSummarizer); err == nil {
		t.Error("triggers must be rejected while halted")
	}
}

func TestStartReconcilesStaleRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stale := &models.Run{
		ID:        "stale",
		Type:      models.RunTypeDecider,
		SlotKey:   "2026-01-05-d01",
		StartedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	if err := h.store.RunStore().Insert(ctx, stale); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := h.orch.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.orch.Stop()

	run, err := h.store.RunStore().Get(ctx, "stale")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if run.Status != models.RunStatusFailed {
		t.Errorf("stale run status = %s, want failed", run.Status)
	}
}
