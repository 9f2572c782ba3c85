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

	"github.com/sells-group/donor-caging/internal/config"
	"github.com/sells-group/donor-caging/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertQueueBacklog AlertType = "queue_backlog"
	AlertQueueStale   AlertType = "queue_stale"
	AlertCageRate     AlertType = "cage_rate"
)

// minGiftsForRate is the gift volume below which the cage rate is noise.
const minGiftsForRate = 10

// Alert is one breached threshold, posted to the webhook as JSON.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// rule inspects a snapshot and returns an alert, or nil when the
// threshold holds or is disabled.
type rule func(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert

var rules = []rule{queueBacklog, queueStale, cageRate}

func queueBacklog(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	if cfg.MaxQueueDepth <= 0 || snap.QueueDepth <= cfg.MaxQueueDepth {
		return nil
	}
	return &Alert{
		Type:     AlertQueueBacklog,
		Severity: "high",
		Message:  fmt.Sprintf("%d donors queued, above the limit of %d", snap.QueueDepth, cfg.MaxQueueDepth),
		Details: map[string]any{
			"queue_depth": snap.QueueDepth,
			"threshold":   cfg.MaxQueueDepth,
		},
	}
}

func queueStale(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	if cfg.MaxQueueAgeMins <= 0 || snap.OldestQueuedMins <= float64(cfg.MaxQueueAgeMins) {
		return nil
	}
	return &Alert{
		Type:     AlertQueueStale,
		Severity: "high",
		Message: fmt.Sprintf("Oldest queued donor has waited %.0f minutes (limit %d); is the worker running?",
			snap.OldestQueuedMins, cfg.MaxQueueAgeMins),
		Details: map[string]any{
			"oldest_queued_mins": snap.OldestQueuedMins,
			"threshold_mins":     cfg.MaxQueueAgeMins,
			"queue_depth":        snap.QueueDepth,
		},
	}
}

func cageRate(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	if cfg.CageRateThreshold <= 0 || snap.Gifts < minGiftsForRate || snap.CageRate <= cfg.CageRateThreshold {
		return nil
	}
	return &Alert{
		Type:     AlertCageRate,
		Severity: "medium",
		Message: fmt.Sprintf("Cage rate %.1f%% exceeds threshold %.1f%% (%d caged / %d gifts in last %dh)",
			snap.CageRate*100, cfg.CageRateThreshold*100, snap.CagedDonors, snap.Gifts, snap.LookbackHours),
		Details: map[string]any{
			"cage_rate":    snap.CageRate,
			"threshold":    cfg.CageRateThreshold,
			"caged_donors": snap.CagedDonors,
			"gifts":        snap.Gifts,
		},
	}
}

// Alerter evaluates snapshots against the monitoring thresholds and
// delivers breaches to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates an Alerter. Webhook posts get one retry on a
// transient failure.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.FromConfig(2, 250, 1000)
	retry.OnRetry = resilience.RetryLogger("webhook", "send alert")
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
}

// Evaluate returns one alert per breached threshold.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	for _, r := range rules {
		if alert := r(a.cfg, snap); alert != nil {
			alert.Timestamp = now
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

// SendAlerts posts each alert to the webhook and returns how many were
// accepted. Failures are logged and skipped.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.post(ctx, alert)
		})
		if err != nil {
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

func (a *Alerter) post(ctx context.Context, alert Alert) error {
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
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return resilience.NewTransientError(eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
