// Package app wires configuration, storage, clients, services and the
// orchestrator into one application instance.
package app

import (
	"context"
	"fmt"

	"github.com/bobmcallan/tiller/internal/calendar"
	"github.com/bobmcallan/tiller/internal/clients/advisor"
	"github.com/bobmcallan/tiller/internal/clients/newswire"
	"github.com/bobmcallan/tiller/internal/clients/yahoo"
	"github.com/bobmcallan/tiller/internal/common"
	"github.com/bobmcallan/tiller/internal/interfaces"
	"github.com/bobmcallan/tiller/internal/orchestrator"
	"github.com/bobmcallan/tiller/internal/services/decision"
	"github.com/bobmcallan/tiller/internal/services/feedback"
	"github.com/bobmcallan/tiller/internal/services/newsledger"
	"github.com/bobmcallan/tiller/internal/services/portfolio"
	"github.com/bobmcallan/tiller/internal/storage/badger"
)

// App holds the wired application.
type App struct {
	Config  *common.Config
	Logger  *common.Logger
	Storage interfaces.StorageManager

	Calendar     *calendar.Calendar
	NewsLedger   interfaces.NewsLedger
	Portfolio    interfaces.PortfolioLedger
	Engine       interfaces.DecisionEngine
	Feedback     interfaces.FeedbackService
	Orchestrator *orchestrator.Orchestrator
}

// NewApp builds the application from configuration.
func NewApp(ctx context.Context, config *common.Config, logger *common.Logger) (*App, error) {
	store, err := badger.NewStore(logger, config.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	cal, err := calendar.New(config.Calendar)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("invalid calendar configuration: %w", err)
	}

	source := newswire.NewClient(config.Clients.Newswire.APIKey,
		newswire.WithBaseURL(config.Clients.Newswire.BaseURL),
		newswire.WithRateLimit(config.Clients.Newswire.RateLimit),
		newswire.WithTimeout(config.Clients.Newswire.GetTimeout()),
		newswire.WithLogger(logger),
	)

	advisorClient, err := advisor.NewClient(ctx, config.Clients.Advisor.APIKey,
		advisor.WithModel(config.Clients.Advisor.Model),
		advisor.WithRetryPolicy(common.DefaultRetryPolicy(config.Clients.Advisor.GetTimeout())),
		advisor.WithRiskLimits(advisor.RiskLimits{
			MaxTrades: config.Risk.MaxTrades,
			MaxFunds:  config.Risk.GetMaxFunds(),
			MinBuffer: config.Risk.GetMinBuffer(),
		}),
		advisor.WithLogger(logger),
	)
	if err != nil {
		store.Close()
		return nil, err
	}

	prices := yahoo.NewClient(yahoo.WithLogger(logger))

	newsSvc := newsledger.NewService(store.NewsStore(), logger)
	portfolioSvc := portfolio.NewService(store.PortfolioStore(), prices, config, logger)
	engine := decision.NewEngine(portfolioSvc, prices, config, logger)
	feedbackSvc := feedback.NewService(store.PortfolioStore(), store.FeedbackStore(), advisorClient, config, logger)

	orch := orchestrator.New(config, logger, cal,
		store.RunStore(), newsSvc, source, advisorClient,
		portfolioSvc, engine, feedbackSvc, store.FeedbackStore())

	return &App{
		Config:       config,
		Logger:       logger,
		Storage:      store,
		Calendar:     cal,
		NewsLedger:   newsSvc,
		Portfolio:    portfolioSvc,
		Engine:       engine,
		Feedback:     feedbackSvc,
		Orchestrator: orch,
	}, nil
}

// Start launches the orchestrator.
func (a *App) Start(ctx context.Context) error {
	return a.Orchestrator.Start(ctx)
}

// Close stops the orchestrator and closes storage.
func (a *App) Close() error {
	a.Orchestrator.Stop()
	return a.Storage.Close()
}
