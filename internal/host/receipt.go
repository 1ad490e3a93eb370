package host

import (
	"encoding/json"

	"swapCore/internal/model"
	"swapCore/internal/promise"
)

// Transaction is a signed top-level call submitted to the host.
type Transaction struct {
	Signer   model.AccountID `json:"signer"`
	Receiver model.AccountID `json:"receiver"`
	Method   string          `json:"method"`
	Args     json.RawMessage `json:"args"`
	Gas      promise.Gas     `json:"gas"`
	Deposit  model.Amount    `json:"deposit"`
}

// Receipt is one step of a chain in flight. Next holds the rest of the chain
// owned by Predecessor; Return is where the chain's final result flows once
// Next is exhausted.
type Receipt struct {
	ID          string           `json:"id"`
	TxID        string           `json:"tx_id"`
	Signer      model.AccountID  `json:"signer"`
	Predecessor model.AccountID  `json:"predecessor"`
	Step        promise.Step     `json:"step"`
	Inputs      []promise.Result `json:"inputs,omitempty"`
	Next        []promise.Step   `json:"next,omitempty"`
	Return      *Frame           `json:"return,omitempty"`
	Detached    bool             `json:"detached,omitempty"`
}

// Frame is a suspended chain waiting on the result of a returned promise.
type Frame struct {
	Next        []promise.Step  `json:"next,omitempty"`
	Predecessor model.AccountID `json:"predecessor"`
	Return      *Frame          `json:"return,omitempty"`
}

// TxOutcome summarizes a settled transaction: the final result of its root
// chain plus everything that happened on the way, detached chains included.
type TxOutcome struct {
	TxID     string            `json:"tx_id"`
	Status   promise.Status    `json:"status"`
	Value    json.RawMessage   `json:"value,omitempty"`
	Failures []string          `json:"failures,omitempty"`
	Events   []model.SagaEvent `json:"events,omitempty"`
	Receipts int               `json:"receipts"`
}

// Succeeded reports whether the root chain resolved successfully.
func (o TxOutcome) Succeeded() bool {
	return o.Status == promise.Successful
}

// EventsOf filters the outcome's events by kind.
func (o TxOutcome) EventsOf(kind model.EventKind) []model.SagaEvent {
	var out []model.SagaEvent
	for _, event := range o.Events {
		if event.Kind == kind {
			out = append(out, event)
		}
	}
	return out
}
