package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPaid      = "OrderPaid"
	EventOrderFinalized = "OrderFinalized"
	EventNotification   = "Notification"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// OrderPaidPayload triggers fulfillment. Sources: payment webhook, free checkout, reconciliation.
type OrderPaidPayload struct {
	OrderID string `json:"order_id"`
	Source  string `json:"source"`
}

const (
	SourceWebhook   = "webhook"
	SourceFree      = "free_checkout"
	SourceReconcile = "reconcile"
)

type OrderFinalizedPayload struct {
	OrderID     string   `json:"order_id"`
	FinalStatus Status   `json:"final_status"`
	Refunded    bool     `json:"refunded,omitempty"`
	Reasons     []string `json:"reasons,omitempty"`
}

// NotificationPayload is consumed by the delivery collaborator.
type NotificationPayload struct {
	Kind    string `json:"kind"`
	OrderID string `json:"order_id,omitempty"`
	Content string `json:"content,omitempty"`
	Free    bool   `json:"free,omitempty"`
	Message string `json:"message,omitempty"`
}
