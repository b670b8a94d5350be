// Package notify delivers gating lifecycle notifications to an external
// webhook endpoint.
//
// Delivery is fire-and-forget: a notification failure is logged and
// counted, never propagated. A gating decision that has already been
// persisted must not be rolled back because a webhook endpoint is down.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Sagexd08/autofi/internal/idgen"
	"github.com/Sagexd08/autofi/internal/metrics"
)

// EventType represents the type of notification event.
type EventType string

const (
	EventApprovalRequired  EventType = "approval.required"
	EventApprovalResolved  EventType = "approval.resolved"
	EventTransactionFailed EventType = "transaction.failed"
	EventRiskFlagged       EventType = "risk.flagged"
)

// Event is the notification payload.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Notifier is the narrow interface the gatekeeper and approval flow consume.
type Notifier interface {
	NotifyApprovalRequired(ctx context.Context, approvalID string, riskScore float64, priority string, expiresAt time.Time)
	NotifyApprovalResolved(ctx context.Context, approvalID, status, decidedBy string)
	NotifyTransactionFailed(ctx context.Context, transactionID, reason string)
	// NotifyRiskFlagged covers the notify-only band: the transaction
	// proceeds, but someone should know it scored above the quiet zone.
	NotifyRiskFlagged(ctx context.Context, transactionID string, riskScore float64, level string)
}

// WebhookNotifier posts signed JSON events to a single configured endpoint.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookNotifier creates a notifier for the given endpoint. An empty
// URL yields a notifier that only logs.
func NewWebhookNotifier(url, secret string, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (n *WebhookNotifier) NotifyApprovalRequired(ctx context.Context, approvalID string, riskScore float64, priority string, expiresAt time.Time) {
	n.emit(ctx, EventApprovalRequired, map[string]any{
		"approvalId": approvalID,
		"riskScore":  riskScore,
		"priority":   priority,
		"expiresAt":  expiresAt,
	})
}

func (n *WebhookNotifier) NotifyApprovalResolved(ctx context.Context, approvalID, status, decidedBy string) {
	n.emit(ctx, EventApprovalResolved, map[string]any{
		"approvalId": approvalID,
		"status":     status,
		"decidedBy":  decidedBy,
	})
}

func (n *WebhookNotifier) NotifyTransactionFailed(ctx context.Context, transactionID, reason string) {
	n.emit(ctx, EventTransactionFailed, map[string]any{
		"transactionId": transactionID,
		"reason":        reason,
	})
}

func (n *WebhookNotifier) NotifyRiskFlagged(ctx context.Context, transactionID string, riskScore float64, level string) {
	n.emit(ctx, EventRiskFlagged, map[string]any{
		"transactionId": transactionID,
		"riskScore":     riskScore,
		"riskLevel":     level,
	})
}

// emit sends one event asynchronously. Errors are logged, never returned.
func (n *WebhookNotifier) emit(ctx context.Context, eventType EventType, data map[string]any) {
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	if n.url == "" {
		n.logger.Debug("notification endpoint not configured, logging only",
			"eventType", eventType, "eventId", event.ID)
		return
	}

	go func() {
		// Detach from the request context: the caller's request finishing
		// must not cancel an in-flight notification.
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()

		if err := n.send(sendCtx, event); err != nil {
			metrics.NotificationsTotal.WithLabelValues(string(eventType), "error").Inc()
			n.logger.Warn("notification delivery failed",
				"eventType", eventType, "eventId", event.ID, "error", err)
			return
		}
		metrics.NotificationsTotal.WithLabelValues(string(eventType), "ok").Inc()
	}()
}

func (n *WebhookNotifier) send(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-AutoFi-Event", string(event.Type))
	if n.secret != "" {
		req.Header.Set("X-AutoFi-Signature", sign(payload, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// sign computes the hex HMAC-SHA256 of the payload.
func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// NopNotifier discards all notifications. Useful in tests.
type NopNotifier struct{}

func (NopNotifier) NotifyApprovalRequired(context.Context, string, float64, string, time.Time) {}
func (NopNotifier) NotifyApprovalResolved(context.Context, string, string, string)            {}
func (NopNotifier) NotifyTransactionFailed(context.Context, string, string)                   {}
func (NopNotifier) NotifyRiskFlagged(context.Context, string, float64, string)                {}
