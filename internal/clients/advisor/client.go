// Package advisor provides the Gemini-backed reasoning client: trade
// recommendations for the decider and outcome analysis for the feedback
// agent.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/genai"

	"github.com/bobmcallan/tiller/internal/common"
	"github.com/bobmcallan/tiller/internal/interfaces"
	"github.com/bobmcallan/tiller/internal/models"
)

const (
	DefaultModel   = "gemini-2.0-flash"
	DefaultTimeout = 60 * time.Second
)

// RiskLimits carries the hard trading limits the recommendation prompt
// must state.
type RiskLimits struct {
	MaxTrades int
	MaxFunds  decimal.Decimal
	MinBuffer decimal.Decimal
}

// Client implements the Advisor interface over the Gemini API.
type Client struct {
	client *genai.Client
	model  string
	limits RiskLimits
	logger *common.Logger
	retry  common.RetryPolicy
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithModel sets the model to use
func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRiskLimits sets the trading limits stated in prompts
func WithRiskLimits(limits RiskLimits) ClientOption {
	return func(c *Client) {
		c.limits = limits
	}
}

// WithRetryPolicy replaces the full retry policy
func WithRetryPolicy(p common.RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = p
	}
}

// NewClient creates a new advisor client
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create advisor client: %w", err)
	}

	c := &Client{
		client: genaiClient,
		model:  DefaultModel,
		limits: RiskLimits{
			MaxTrades: 5,
			MaxFunds:  decimal.NewFromInt(10000),
			MinBuffer: decimal.NewFromInt(100),
		},
		logger: common.NewSilentLogger(),
		retry:  common.DefaultRetryPolicy(DefaultTimeout),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Recommend asks the model for a trade plan given the current portfolio,
// unseen news, and the latest performance feedback.
func (c *Client) Recommend(ctx context.Context, holdings []models.HoldingView, cash decimal.Decimal, items []models.NewsItem, performance string) ([]models.RecommendedAction, error) {
	prompt := c.buildRecommendPrompt(holdings, cash, items, performance)

	text, err := c.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var actions []models.RecommendedAction
	if err := unmarshalJSONBlock(text, &actions); err != nil {
		return nil, fmt.Errorf("%w: unparseable recommendation: %v", models.ErrCollaboratorUnavailable, err)
	}

	c.logger.Debug().Int("actions", len(actions)).Msg("Received trade recommendation")
	return actions, nil
}

// AnalyzeOutcomes asks the model to turn aggregate outcome statistics into
// guidance for the summarizer and decider agents.
func (c *Client) AnalyzeOutcomes(ctx context.Context, report *models.FeedbackReport, outcomes []models.TradeOutcome) (*interfaces.FeedbackContent, error) {
	prompt := buildFeedbackPrompt(report, outcomes)

	text, err := c.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var content interfaces.FeedbackContent
	if err := unmarshalJSONBlock(text, &content); err != nil {
		// Unstructured answers still carry guidance; keep them whole.
		content = interfaces.FeedbackContent{
			SummarizerFeedback: text,
			DeciderFeedback:    text,
		}
	}
	return &content, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	var text string
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
		if err != nil {
			return fmt.Errorf("failed to generate content: %w", err)
		}
		text, err = extractText(result)
		return err
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: advisor call: %v", models.ErrCollaboratorTimeout, err)
		}
		return "", fmt.Errorf("%w: advisor call: %v", models.ErrCollaboratorUnavailable, err)
	}
	return text, nil
}

func extractText(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}
	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

func (c *Client) buildRecommendPrompt(holdings []models.HoldingView, cash decimal.Decimal, items []models.NewsItem, performance string) string {
	allocatable := c.limits.MaxFunds.Sub(c.limits.MinBuffer)

	var sb strings.Builder
	fmt.Fprintf(&sb, `You are an AGGRESSIVE DAY TRADING AI. Make buy/sell recommendations for short-term trading based on the news summaries and current portfolio.
Focus on 1-3 day holding periods, maximize ROI through frequent trading. Do not exceed %d total trades, never allocate more than $%s total.
Retain at least $%s in funds.

DAY TRADING STRATEGY:
- Take profits quickly: Sell positions with meaningful gains
- Cut losses fast: Sell positions with meaningful losses
- Be aggressive: If you have conviction for a new buy, consider selling existing positions to fund it
- Rotate capital: Don't hold positions too long, look for better opportunities
- Use momentum: Buy stocks with positive news/momentum, sell those with negative news

IMPORTANT: Before making buy decisions, evaluate if you should sell existing positions to free up cash. Consider:
1. Which current positions have gains that can be locked in?
2. Which positions are underperforming and should be cut?
3. Is the new opportunity better than holding current positions?

`, c.limits.MaxTrades, allocatable.StringFixed(0), c.limits.MinBuffer.StringFixed(0))

	if performance != "" {
		fmt.Fprintf(&sb, "Performance Context: %s\n\n", performance)
	}

	sb.WriteString("News Summaries:\n")
	if len(items) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, item := range items {
		fmt.Fprintf(&sb, "- [%s] %s\n", item.Source, strings.Join(item.Headlines, "; "))
		if item.Insights != "" {
			fmt.Fprintf(&sb, "  %s\n", item.Insights)
		}
	}

	fmt.Fprintf(&sb, "\nAvailable Cash: $%s\n", cash.StringFixed(2))
	sb.WriteString("\nCurrent Holdings (with current prices and gains/losses):\n")
	if len(holdings) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, h := range holdings {
		fmt.Fprintf(&sb, "- %s: %s shares @ $%s avg cost, current $%s, gain/loss $%s\n",
			h.Ticker, h.Shares.String(), h.AvgCost.StringFixed(2),
			h.CurrentPrice.StringFixed(2), h.GainLoss.StringFixed(2))
	}

	sb.WriteString(`
Return a JSON list of trade decisions. Each decision should include:
- action ("buy" or "sell")
- ticker
- amount_usd (funds to allocate or recover)
- reason (day trading, profit taking, loss cutting, funding new position, etc)
Respond strictly in valid JSON format with keys.
`)
	return sb.String()
}

func buildFeedbackPrompt(report *models.FeedbackReport, outcomes []models.TradeOutcome) string {
	var sb strings.Builder
	sb.WriteString(`Analyze the following trading performance data and provide specific feedback to improve the performance of our AI trading agents.

Performance Data:
`)
	fmt.Fprintf(&sb, "Lookback: %d days\nTotal trades: %d\nSuccess rate: %s\nAverage gain/loss: %s%%\n",
		report.LookbackDays, report.TotalTrades,
		report.SuccessRate.StringFixed(2), report.AvgGainLossPct.StringFixed(2))

	sb.WriteString("Outcome distribution:\n")
	for category, count := range report.OutcomeDistribution {
		fmt.Fprintf(&sb, "- %s: %d\n", category, count)
	}

	sb.WriteString("\nRecent trades:\n")
	for _, o := range outcomes {
		fmt.Fprintf(&sb, "- %s: bought $%s, sold $%s (%s%%), held %d days, buy reason: %s, sell reason: %s\n",
			o.Ticker, o.PurchasePrice.StringFixed(2), o.SellPrice.StringFixed(2),
			o.GainLossPct.StringFixed(2), o.HoldDurationDays, o.OriginalReason, o.SellReason)
	}

	sb.WriteString(`
Please provide:
1. Key insights about what's working well and what isn't
2. Specific recommendations for the SUMMARIZER agents (how they should adjust their news analysis focus)
3. Specific recommendations for the DECIDER agent (how it should adjust its trading strategy)
4. Patterns in successful vs unsuccessful trades

Focus on actionable improvements that can be incorporated into agent prompts and decision-making logic.

Respond in the following JSON format:
{
    "summarizer_feedback": "Specific recommendations for the summarizer agent",
    "decider_feedback": "Specific recommendations for the decider agent",
    "key_insights": ["insight 1", "insight 2", "insight 3"]
}
`)
	return sb.String()
}
