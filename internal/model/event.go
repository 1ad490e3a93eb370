package model

// EventKind names a saga transition.
type EventKind string

const (
	EventSagaStarted        EventKind = "saga_started"
	EventVenuePartialFill   EventKind = "venue_partial_fill"
	EventZeroOutput         EventKind = "zero_output"
	EventDelivered          EventKind = "delivered"
	EventDeliveryFailed     EventKind = "delivery_failed"
	EventForwarded          EventKind = "forwarded"
	EventForwardRefused     EventKind = "forward_refused"
	EventCompensated        EventKind = "compensated"
	EventCompensationFailed EventKind = "compensation_failed"
	EventValueReturned      EventKind = "value_returned"
)

// SagaEvent is the journal record emitted at each saga transition.
type SagaEvent struct {
	SagaID    string    `json:"saga_id"`
	Kind      EventKind `json:"kind"`
	Stage     Stage     `json:"stage"`
	Asset     AccountID `json:"asset,omitempty"`
	Account   AccountID `json:"account,omitempty"`
	Amount    *Amount   `json:"amount,omitempty"`
	Memo      string    `json:"memo,omitempty"`
	ReceiptID string    `json:"receipt_id,omitempty"`
	EmittedBy AccountID `json:"emitted_by,omitempty"`
	EmittedAt string    `json:"emitted_at,omitempty"`
}
