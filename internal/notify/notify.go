// Package notify delivers workflow notifications to interested parties.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Event types emitted by the approval engine.
const (
	EventWorkflowCreated    = "workflow_created"
	EventDecisionRequired   = "decision_required"
	EventDecisionRecorded   = "decision_recorded"
	EventReturned           = "returned"
	EventRequesterResponded = "requester_responded"
	EventReassigned         = "reassigned"
	EventSeatMissed         = "seat_missed"
	EventWorkflowCompleted  = "workflow_completed"
)

// Event is one outbound notification.
type Event struct {
	Type       string    `json:"type"`
	TenantID   string    `json:"tenant_id"`
	WorkflowID string    `json:"workflow_id"`
	Title      string    `json:"title"`
	Recipient  string    `json:"recipient"`
	Actor      string    `json:"actor,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier delivers events. Delivery is best-effort; the engine never fails
// a transition on a notification error.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// DeliveryMetrics receives notification delivery counts. May be nil.
type DeliveryMetrics interface {
	RecordNotification(status string)
}

// WebhookNotifier POSTs events as JSON to a fixed webhook endpoint.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	metrics DeliveryMetrics
}

// NewWebhookNotifier creates a notifier targeting url. timeout bounds each
// delivery attempt.
func NewWebhookNotifier(url string, timeout time.Duration, metrics DeliveryMetrics) *WebhookNotifier {
	return &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		metrics: metrics,
	}
}

// Notify delivers one event. Trace context is propagated in the request
// headers.
func (n *WebhookNotifier) Notify(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := n.client.Do(req)
	if err != nil {
		n.record("error")
		return fmt.Errorf("notify: deliver event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.record("rejected")
		return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	n.record("delivered")
	return nil
}

func (n *WebhookNotifier) record(status string) {
	if n.metrics != nil {
		n.metrics.RecordNotification(status)
	}
}

// MemoryNotifier records events in memory. For testing and deployments with
// no webhook configured.
type MemoryNotifier struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryNotifier creates an empty in-memory notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

// Notify records the event.
func (n *MemoryNotifier) Notify(_ context.Context, evt Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return nil
}

// Events returns a copy of all recorded events. For testing.
func (n *MemoryNotifier) Events() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Event, len(n.events))
	copy(out, n.events)
	return out
}
