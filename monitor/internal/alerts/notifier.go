package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/celltwin/celltwin/monitor/internal/config"
	"github.com/celltwin/celltwin/pkg/types"
)

const deliverTimeout = 10 * time.Second

// Event is one delivered alert, as sent to webhook targets.
type Event struct {
	ID       string    `json:"id"`
	DeviceID string    `json:"device_id"`
	CycleID  int64     `json:"cycle_id"`
	Severity string    `json:"severity"`
	SoH      float64   `json:"soh"`
	Reason   string    `json:"reason"`
	FiredAt  time.Time `json:"fired_at"`
}

// Notifier delivers warning decisions to the configured webhook targets.
// Delivery is asynchronous and best-effort: failures are logged, never
// propagated to the pipeline.
//
// Notifier is safe for concurrent use. The webhook set can be swapped at
// runtime by config hot-reload.
type Notifier struct {
	mu       sync.RWMutex
	webhooks []config.WebhookConfig

	client *http.Client
	now    func() time.Time
}

// NewNotifier creates a Notifier with the given webhook targets.
// A Notifier with no targets is valid — Notify only logs.
func NewNotifier(webhooks []config.WebhookConfig) *Notifier {
	return &Notifier{
		webhooks: webhooks,
		client:   &http.Client{Timeout: deliverTimeout},
		now:      time.Now,
	}
}

// SetWebhooks replaces the delivery targets (config hot-reload).
func (n *Notifier) SetWebhooks(webhooks []config.WebhookConfig) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.webhooks = webhooks
}

// Notify builds an Event from a warning decision and triggers asynchronous
// webhook delivery. Decisions with severity none are ignored.
func (n *Notifier) Notify(d types.AlertDecision) *Event {
	if d.Severity != types.SeverityWarning {
		return nil
	}

	ev := &Event{
		ID:       uuid.NewString(),
		DeviceID: d.DeviceID,
		CycleID:  d.CycleID,
		Severity: d.Severity,
		SoH:      d.SoH,
		Reason:   d.Reason,
		FiredAt:  n.now(),
	}

	slog.Warn("alert fired",
		"device", d.DeviceID,
		"cycle", d.CycleID,
		"soh", d.SoH,
		"reason", d.Reason,
	)

	go n.deliver(ev)
	return ev
}

// deliver sends the event to all configured targets.
// Errors are logged but do not affect the caller.
func (n *Notifier) deliver(ev *Event) {
	n.mu.RLock()
	webhooks := n.webhooks
	n.mu.RUnlock()

	for _, wh := range webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = n.sendSlack(url, ev)
		case "teams":
			err = n.sendTeams(url, ev)
		case "http":
			err = n.sendHTTP(url, ev)
		default:
			slog.Warn("alerts: unknown webhook type — skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"device", ev.DeviceID,
				"err", err,
			)
		} else {
			slog.Debug("alerts: webhook delivered",
				"type", wh.Type,
				"device", ev.DeviceID,
				"cycle", ev.CycleID,
			)
		}
	}
}

func (n *Notifier) sendSlack(url string, ev *Event) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*[WARNING]* battery %s cycle %d — %s", ev.DeviceID, ev.CycleID, ev.Reason),
	})
	return n.post(url, body)
}

func (n *Notifier) sendTeams(url string, ev *Event) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": "FFAB40",
		"summary":    fmt.Sprintf("Battery %s SoH warning", ev.DeviceID),
		"title":      fmt.Sprintf("CellTwin Alert: battery %s", ev.DeviceID),
		"text":       ev.Reason,
	}
	body, _ := json.Marshal(payload)
	return n.post(url, body)
}

func (n *Notifier) sendHTTP(url string, ev *Event) error {
	body, _ := json.Marshal(map[string]interface{}{"alert": ev})
	return n.post(url, body)
}

func (n *Notifier) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
