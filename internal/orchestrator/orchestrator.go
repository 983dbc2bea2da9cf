// Package orchestrator drives the three logical agents on the trading
// calendar: it watches the clock, fires each schedule slot at most once,
// serializes runs per type, and records run history.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/tiller/internal/calendar"
	"github.com/bobmcallan/tiller/internal/common"
	"github.com/bobmcallan/tiller/internal/interfaces"
	"github.com/bobmcallan/tiller/internal/models"
)

// Orchestrator owns the scheduling loop and the run lifecycle.
type Orchestrator struct {
	config    *common.Config
	logger    *common.Logger
	calendar  *calendar.Calendar
	runs      interfaces.RunStore
	news      interfaces.NewsLedger
	source    interfaces.NewsSource
	advisor   interfaces.Advisor
	portfolio interfaces.PortfolioLedger
	engine    interfaces.DecisionEngine
	feedback  interfaces.FeedbackService
	reports   interfaces.FeedbackStore

	mu      sync.Mutex
	active  map[models.RunType]bool
	halted  bool
	haltErr error

	// portfolioMu serializes everything that mutates or values the
	// portfolio, so a manual trigger cannot interleave with a scheduled
	// decider pass.
	portfolioMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an orchestrator.
func New(
	config *common.Config,
	logger *common.Logger,
	cal *calendar.Calendar,
	runs interfaces.RunStore,
	news interfaces.NewsLedger,
	source interfaces.NewsSource,
	advisor interfaces.Advisor,
	portfolio interfaces.PortfolioLedger,
	engine interfaces.DecisionEngine,
	feedback interfaces.FeedbackService,
	reports interfaces.FeedbackStore,
) *Orchestrator {
	return &Orchestrator{
		config:    config,
		logger:    logger,
		calendar:  cal,
		runs:      runs,
		news:      news,
		source:    source,
		advisor:   advisor,
		portfolio: portfolio,
		engine:    engine,
		feedback:  feedback,
		reports:   reports,
		active:    make(map[models.RunType]bool),
		done:      make(chan struct{}),
	}
}

// Start reconciles stale runs from a previous process and launches the
// scheduling loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	reconciled, err := o.runs.ReconcileStale(ctx, o.config.Scheduler.GetRunGrace())
	if err != nil {
		return fmt.Errorf("failed to reconcile stale runs: %w", err)
	}
	if reconciled > 0 {
		o.logger.Warn().Int("count", reconciled).Msg("Reconciled stale runs from previous process")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	go o.loop(loopCtx)

	o.logger.Info().
		Dur("tick", o.config.Scheduler.GetTickInterval()).
		Str("timezone", o.calendar.Location().String()).
		Msg("Orchestrator started")
	return nil
}

// Stop cancels the scheduling loop and waits for it to exit. In-flight
// runs finish via their own contexts.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
		<-o.done
	}
}

// Halted reports whether scheduling has halted on a fatal error, and why.
func (o *Orchestrator) Halted() (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.halted, o.haltErr
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.done)

	ticker := time.NewTicker(o.config.Scheduler.GetTickInterval())
	defer ticker.Stop()

	o.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// tick evaluates the current instant and starts any due run whose slot
// has not fired yet.
func (o *Orchestrator) tick(ctx context.Context) {
	if halted, _ := o.Halted(); halted {
		return
	}

	now := time.Now()
	cls := o.calendar.Classify(now)

	for _, runType := range models.RunTypes {
		slot := slotOf(cls, runType)
		if slot == "" {
			continue
		}

		fired, err := o.runs.HasRunForSlot(ctx, runType, slot)
		if err != nil {
			o.logger.Error().Err(err).Str("run_type", string(runType)).Msg("Slot lookup failed")
			continue
		}
		if fired {
			continue
		}

		if _, err := o.launch(ctx, runType, slot); err != nil {
			if !errors.Is(err, models.ErrConcurrentRunConflict) {
				o.logger.Error().Err(err).Str("run_type", string(runType)).Msg("Failed to launch run")
			}
		}
	}
}

func slotOf(cls calendar.Classification, runType models.RunType) string {
	switch runType {
	case models.RunTypeSummarizer:
		return cls.SummarizerSlot
	case models.RunTypeDecider:
		return cls.DeciderSlot
	case models.RunTypeFeedback:
		return cls.FeedbackSlot
	}
	return ""
}

// Trigger starts a manual run of the given type. The run executes
// asynchronously; a run of the same type already in flight rejects the
// trigger.
func (o *Orchestrator) Trigger(ctx context.Context, runType models.RunType) (string, error) {
	if !runType.Valid() {
		return "", fmt.Errorf("unknown run type %q", runType)
	}
	slot := "manual-" + time.Now().UTC().Format("20060102T150405")
	return o.launch(ctx, runType, slot)
}

// launch registers the run and executes it in its own goroutine. Per-type
// exclusion is claimed here and released when the run finishes.
func (o *Orchestrator) launch(ctx context.Context, runType models.RunType, slot string) (string, error) {
	o.mu.Lock()
	if o.halted {
		o.mu.Unlock()
		return "", fmt.Errorf("scheduling halted: %w", o.haltErr)
	}
	if o.active[runType] {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: %s", models.ErrConcurrentRunConflict, runType)
	}
	o.active[runType] = true
	o.mu.Unlock()

	run := &models.Run{
		ID:        uuid.New().String(),
		Type:      runType,
		SlotKey:   slot,
		StartedAt: time.Now().UTC(),
		Status:    models.RunStatusRunning,
	}
	if err := o.runs.Insert(ctx, run); err != nil {
		o.release(runType)
		return "", err
	}

	o.logger.Info().
		Str("run_id", run.ID).
		Str("run_type", string(runType)).
		Str("slot", slot).
		Msg("Run started")

	go o.execute(run)
	return run.ID, nil
}

func (o *Orchestrator) release(runType models.RunType) {
	o.mu.Lock()
	o.active[runType] = false
	o.mu.Unlock()
}

// execute runs the agent body and records the terminal state. A corrupt
// ledger halts all further scheduling.
func (o *Orchestrator) execute(run *models.Run) {
	defer o.release(run.Type)

	ctx := context.Background()
	var detail string
	var err error

	switch run.Type {
	case models.RunTypeSummarizer:
		detail, err = o.runSummarizer(ctx, run.ID)
	case models.RunTypeDecider:
		detail, err = o.runDecider(ctx, run.ID)
	case models.RunTypeFeedback:
		detail, err = o.runFeedback(ctx, run.ID)
	}

	status := models.RunStatusSuccess
	errMsg := ""
	if err != nil {
		status = models.RunStatusFailed
		errMsg = err.Error()
		o.logger.Error().
			Err(err).
			Str("run_id", run.ID).
			Str("run_type", string(run.Type)).
			Msg("Run failed")
	} else {
		o.logger.Info().
			Str("run_id", run.ID).
			Str("run_type", string(run.Type)).
			Str("detail", detail).
			Msg("Run succeeded")
	}

	if finishErr := o.runs.Finish(ctx, run.ID, status, errMsg, detail); finishErr != nil {
		o.logger.Error().Err(finishErr).Str("run_id", run.ID).Msg("Failed to record run result")
	}

	if errors.Is(err, models.ErrCorruptLedgerState) {
		o.mu.Lock()
		o.halted = true
		o.haltErr = err
		o.mu.Unlock()
		o.logger.Error().Err(err).Msg("Ledger state corrupt, scheduling halted")
	}
}

// runSummarizer fetches an analyzed-news batch and appends it to the
// ledger. An empty batch is a successful run.
func (o *Orchestrator) runSummarizer(ctx context.Context, runID string) (string, error) {
	items, err := o.source.Fetch(ctx)
	if err != nil {
		return "", err
	}
	stored, err := o.news.Append(ctx, items, runID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d items appended", len(stored)), nil
}

// runDecider feeds unseen news and the live portfolio to the advisor,
// applies the resulting plan through the decision engine, and advances
// the processed markers only when the whole pass succeeded. A failed pass
// leaves the items unseen so the next run retries them.
func (o *Orchestrator) runDecider(ctx context.Context, runID string) (string, error) {
	o.portfolioMu.Lock()
	defer o.portfolioMu.Unlock()

	items, err := o.news.Unseen(ctx, models.ConsumerDecider)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		// Still record a valuation point for the dashboard.
		if _, err := o.portfolio.Snapshot(ctx); err != nil {
			return "", err
		}
		return "no unprocessed items", nil
	}

	snap, err := o.portfolio.Snapshot(ctx)
	if err != nil {
		return "", err
	}

	performance := ""
	if report, err := o.reports.LatestReport(ctx); err == nil && report != nil {
		performance = report.DeciderFeedback
	}

	rec, err := o.advisor.Recommend(ctx, snap.Holdings, snap.Cash, items, performance)
	if err != nil {
		return "", err
	}

	result, err := o.engine.Decide(ctx, runID, rec)
	if err != nil {
		return "", err
	}

	if err := o.news.MarkProcessed(ctx, models.ConsumerDecider, items, runID); err != nil {
		return "", err
	}

	if _, err := o.portfolio.Snapshot(ctx); err != nil {
		return "", err
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("%d items processed", len(items)))
	parts = append(parts, fmt.Sprintf("%d executed", len(result.Executed)))
	if len(result.Skipped) > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", len(result.Skipped)))
	}
	return strings.Join(parts, ", "), nil
}

// runFeedback analyzes the lookback window's outcomes.
func (o *Orchestrator) runFeedback(ctx context.Context, runID string) (string, error) {
	report, err := o.feedback.Analyze(ctx, runID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d trades analyzed", report.TotalTrades), nil
}

// RefreshPrices records a fresh valuation snapshot outside the schedule.
func (o *Orchestrator) RefreshPrices(ctx context.Context) (*models.PortfolioSnapshot, error) {
	o.portfolioMu.Lock()
	defer o.portfolioMu.Unlock()
	return o.portfolio.Snapshot(ctx)
}
