package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// ─── Alerts ─────────────────────────────────────────────────────────────────

// Alerter posts a webhook notification when the SLO report transitions to
// unhealthy, and again when it recovers. Repeated unhealthy evaluations do
// not re-fire.
type Alerter struct {
	webhookURL string
	client     *http.Client
	log        *logrus.Entry

	wasHealthy bool
}

// NewAlerter creates an alerter. An empty webhook URL disables posting.
func NewAlerter(webhookURL string, log *logrus.Entry) *Alerter {
	return &Alerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        log,
		wasHealthy: true,
	}
}

type alertPayload struct {
	Event  string    `json:"event"` // "slo_breach" | "slo_recovered"
	Report SLOReport `json:"report"`
	At     time.Time `json:"at"`
}

// Evaluate inspects a report and fires on health transitions.
func (a *Alerter) Evaluate(ctx context.Context, report SLOReport) {
	if report.Healthy == a.wasHealthy {
		return
	}
	a.wasHealthy = report.Healthy

	event := "slo_breach"
	if report.Healthy {
		event = "slo_recovered"
	}
	if a.log != nil {
		a.log.WithField("event", event).Warn("slo transition")
	}
	if a.webhookURL == "" {
		return
	}

	payload, err := json.Marshal(alertPayload{Event: event, Report: report, At: time.Now()})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		if a.log != nil {
			a.log.WithError(err).Warn("alert webhook failed")
		}
		return
	}
	resp.Body.Close()
}

// Watch evaluates the SLO on an interval until ctx is cancelled.
func (a *Alerter) Watch(ctx context.Context, interval time.Duration, cfg SLOConfig, recorder *Recorder) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Evaluate(ctx, EvaluateSLO(cfg, recorder.Window()))
		}
	}
}
