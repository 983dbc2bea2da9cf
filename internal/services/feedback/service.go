// Package feedback implements the daily outcome analysis: aggregate the
// lookback window's trade outcomes, ask the advisor for guidance, and
// store the report.
package feedback

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

// Service implements interfaces.FeedbackService.
type Service struct {
	portfolio interfaces.PortfolioStore
	reports   interfaces.FeedbackStore
	advisor   interfaces.Advisor
	config    *common.Config
	logger    *common.Logger
}

// NewService creates a feedback service
func NewService(portfolio interfaces.PortfolioStore, reports interfaces.FeedbackStore, advisor interfaces.Advisor, config *common.Config, logger *common.Logger) *Service {
	return &Service{
		portfolio: portfolio,
		reports:   reports,
		advisor:   advisor,
		config:    config,
		logger:    logger,
	}
}

// Analyze aggregates outcomes over the lookback window, runs the advisor
// analysis, and stores the report. With no outcomes in the window it
// stores a bare statistics report and skips the advisor call.
func (s *Service) Analyze(ctx context.Context, runID string) (*models.FeedbackReport, error) {
	lookback := s.config.Outcomes.GetLookbackDays()
	cutoff := time.Now().UTC().AddDate(0, 0, -lookback)

	outcomes, err := s.portfolio.ListOutcomesSince(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	report := s.aggregate(outcomes, lookback)
	report.ID = uuid.New().String()
	report.Timestamp = time.Now().UTC()
	report.RunID = runID

	if len(outcomes) > 0 {
		content, err := s.advisor.AnalyzeOutcomes(ctx, report, outcomes)
		if err != nil {
			return nil, fmt.Errorf("outcome analysis failed: %w", err)
		}
		report.SummarizerFeedback = content.SummarizerFeedback
		report.DeciderFeedback = content.DeciderFeedback
		report.KeyInsights = content.KeyInsights
	} else {
		s.logger.Info().Int("lookback_days", lookback).Msg("No outcomes in window, storing bare report")
	}

	if err := s.reports.SaveReport(ctx, report); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int("trades", report.TotalTrades).
		Str("success_rate", report.SuccessRate.StringFixed(2)).
		Msg("Stored feedback report")
	return report, nil
}

// aggregate computes the statistics block of a report.
func (s *Service) aggregate(outcomes []models.TradeOutcome, lookback int) *models.FeedbackReport {
	report := &models.FeedbackReport{
		LookbackDays:        lookback,
		TotalTrades:         len(outcomes),
		OutcomeDistribution: make(map[string]int),
	}

	if len(outcomes) == 0 {
		return report
	}

	profitable := 0
	pctSum := decimal.Zero
	for _, o := range outcomes {
		report.OutcomeDistribution[o.Category]++
		if o.GainLoss.GreaterThan(decimal.Zero) {
			profitable++
		}
		pctSum = pctSum.Add(o.GainLossPct)
	}

	total := decimal.NewFromInt(int64(len(outcomes)))
	report.SuccessRate = decimal.NewFromInt(int64(profitable)).Div(total)
	report.AvgGainLossPct = pctSum.Div(total)
	return report
}
