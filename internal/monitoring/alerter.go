package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dataset-audit/internal/config"
	"github.com/sells-group/dataset-audit/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertLedgerBroken   AlertType = "ledger_chain_broken"
	AlertLedgerTornTail AlertType = "ledger_torn_tail"
	AlertAbortRate      AlertType = "abort_rate"
)

// minAbortSample is the fewest reports the abort rate alert considers.
const minAbortSample = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a HealthSnapshot and posts alerts to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns the alerts the snapshot triggers.
func (a *Alerter) Evaluate(snap *HealthSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if !snap.Ledger.Valid {
		alerts = append(alerts, Alert{
			Type:     AlertLedgerBroken,
			Severity: "high",
			Message: fmt.Sprintf("Ledger %s fails verification at record %d: %s",
				snap.Ledger.Path, snap.Ledger.FirstInvalid, snap.Ledger.Reason),
			Details: map[string]any{
				"path":          snap.Ledger.Path,
				"first_invalid": snap.Ledger.FirstInvalid,
				"records":       snap.Ledger.Records,
			},
			Timestamp: now,
		})
	}

	if snap.Ledger.TornTail {
		alerts = append(alerts, Alert{
			Type:      AlertLedgerTornTail,
			Severity:  "medium",
			Message:   fmt.Sprintf("Ledger %s ends with an incomplete record", snap.Ledger.Path),
			Details:   map[string]any{"path": snap.Ledger.Path},
			Timestamp: now,
		})
	}

	if a.cfg.AbortRateThreshold > 0 && snap.ReportsSampled >= minAbortSample && snap.AbortRate > a.cfg.AbortRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertAbortRate,
			Severity: "medium",
			Message: fmt.Sprintf("Abort rate %.1f%% exceeds threshold %.1f%% (%d of %d recent audits)",
				snap.AbortRate*100, a.cfg.AbortRateThreshold*100,
				snap.DecisionCounts[model.DecisionAbort], snap.ReportsSampled),
			Details: map[string]any{
				"abort_rate": snap.AbortRate,
				"threshold":  a.cfg.AbortRateThreshold,
				"sampled":    snap.ReportsSampled,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
