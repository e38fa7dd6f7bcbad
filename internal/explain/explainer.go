// Package explain produces non-authoritative, human-readable explanations of
// an audit report. It never changes the report and never fails: any problem
// with the model call yields a fixed fallback response.
package explain

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/dataset-audit/internal/model"
	"github.com/sells-group/dataset-audit/internal/resilience"
	"github.com/sells-group/dataset-audit/pkg/anthropic"
)

// Audience selects the tone of the explanation.
type Audience string

const (
	AudienceEngineer  Audience = "engineer"
	AudienceExecutive Audience = "executive"
	AudienceAuditor   Audience = "auditor"
)

// ParseAudience validates a raw audience name.
func ParseAudience(s string) (Audience, bool) {
	switch Audience(s) {
	case AudienceEngineer, AudienceExecutive, AudienceAuditor:
		return Audience(s), true
	}
	return "", false
}

// Mode controls how much detail the prompt carries.
type Mode string

const (
	ModeOverview  Mode = "overview"
	ModeHighLevel Mode = "high_level"
)

// LargeDatasetRows is the row count above which explanations stay high level.
const LargeDatasetRows = 50_000

// minExplanationChars is the shortest model output accepted as an explanation.
const minExplanationChars = 40

// Request asks for an explanation of one report.
type Request struct {
	Report   model.Report
	Audience Audience
	Mode     Mode
}

// NewRequest picks the mode from the dataset size.
func NewRequest(r model.Report, audience Audience) Request {
	mode := ModeOverview
	if r.DatasetSnapshot.RowCount > LargeDatasetRows {
		mode = ModeHighLevel
	}
	return Request{Report: r, Audience: audience, Mode: mode}
}

// Response is a non-authoritative explanation.
type Response struct {
	Headline    string   `json:"headline"`
	Summary     string   `json:"summary"`
	KeyInsights []string `json:"key_insights"`
	Limitations string   `json:"limitations"`
	Disclaimer  string   `json:"disclaimer"`
	Fallback    bool     `json:"fallback"`
}

// Fallback is returned whenever no usable explanation could be generated.
func Fallback() Response {
	return Response{
		Headline:    "Audit completed with unresolved risks",
		Summary:     "The audit completed successfully, but an AI-generated explanation could not be produced. Please review the detected risks directly.",
		KeyInsights: []string{},
		Limitations: "Explanation engine unavailable.",
		Disclaimer:  "This explanation is AI-generated and non-authoritative.",
		Fallback:    true,
	}
}

func generated(text string) Response {
	return Response{
		Headline:    "Audit explanation summary",
		Summary:     text,
		KeyInsights: []string{},
		Limitations: "This explanation summarizes audit outputs only and does not replace review of the full audit report.",
		Disclaimer:  "This explanation is AI-generated and non-authoritative. The audit report remains the sole source of truth.",
	}
}

// Config tunes the explainer.
type Config struct {
	Model             string
	MaxTokens         int64
	Timeout           time.Duration
	RequestsPerMinute int
	Retry             resilience.RetryConfig
	Breaker           resilience.CircuitBreakerConfig
}

// Explainer calls the model under a rate limit, a retry policy, a circuit
// breaker, and an overall timeout.
type Explainer struct {
	client  anthropic.Client
	cfg     Config
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// New creates an Explainer. A nil client is allowed and always falls back.
func New(client anthropic.Client, cfg Config) *Explainer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 400
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 30
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	cfg.Retry.ShouldRetry = retryable
	cfg.Retry.OnRetry = resilience.RetryLogger("anthropic", "explain")

	return &Explainer{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		breaker: resilience.NewCircuitBreaker(cfg.Breaker),
	}
}

func retryable(err error) bool {
	return resilience.IsTransientHTTPStatus(anthropic.StatusCode(err)) || resilience.IsTransient(err)
}

// Explain returns an explanation for req, or Fallback().
func (e *Explainer) Explain(ctx context.Context, req Request) Response {
	log := zap.L().With(zap.String("component", "explain"), zap.String("audit_id", req.Report.AuditID))
	if e == nil || e.client == nil {
		log.Debug("no explanation client configured, using fallback")
		return Fallback()
	}
	if req.Audience == "" {
		req.Audience = AudienceEngineer
	}
	if req.Mode == "" {
		req.Mode = NewRequest(req.Report, req.Audience).Mode
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	prompt, err := buildUserPrompt(req)
	if err != nil {
		log.Warn("explanation prompt failed", zap.Error(err))
		return Fallback()
	}

	if err := e.limiter.Wait(ctx); err != nil {
		log.Warn("explanation rate limit wait aborted", zap.Error(err))
		return Fallback()
	}

	temperature := 0.0
	msgReq := anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      systemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temperature,
	}
	resp, err := resilience.Call(ctx, e.breaker, e.cfg.Retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, msgReq)
	})
	if err != nil {
		log.Warn("explanation call failed, using fallback",
			zap.Error(err),
			zap.String("circuit", e.breaker.State().String()),
		)
		return Fallback()
	}
	resp.Usage.LogCost(e.cfg.Model, "explain")

	text := strings.TrimSpace(resp.Text())
	if len(text) < minExplanationChars {
		log.Warn("explanation too short, using fallback", zap.Int("chars", len(text)))
		return Fallback()
	}
	return generated(text)
}
