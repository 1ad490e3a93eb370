package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// SwapStep is one hop of a route, in the venue's instruction format.
// AmountIn is absent on every hop after the first; the venue feeds in the
// previous hop's output.
type SwapStep struct {
	PoolID       uint64    `json:"pool_id"`
	TokenIn      AccountID `json:"token_in"`
	AmountIn     *Amount   `json:"amount_in"`
	TokenOut     AccountID `json:"token_out"`
	MinAmountOut Amount    `json:"min_amount_out"`
}

// ActionKind tags the variant held by an Action.
type ActionKind string

const (
	ActionSwap ActionKind = "swap"
)

// Action is a venue instruction. Only swaps exist today; the wire form stays
// the bare step object and the kind is recovered from its fields.
type Action struct {
	Kind ActionKind
	Swap *SwapStep
}

// NewSwapAction wraps a step as an Action.
func NewSwapAction(step SwapStep) Action {
	return Action{Kind: ActionSwap, Swap: &step}
}

func (a Action) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case ActionSwap:
		if a.Swap == nil {
			return nil, fmt.Errorf("swap action without step")
		}
		return json.Marshal(a.Swap)
	default:
		return nil, fmt.Errorf("unknown action kind: %q", a.Kind)
	}
}

type swapStepWire struct {
	PoolID       *uint64    `json:"pool_id"`
	TokenIn      *AccountID `json:"token_in"`
	AmountIn     *Amount    `json:"amount_in"`
	TokenOut     *AccountID `json:"token_out"`
	MinAmountOut *Amount    `json:"min_amount_out"`
}

// UnmarshalJSON decodes strictly: unknown fields or a shape that matches no
// variant are rejected.
func (a *Action) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var wire swapStepWire
	if err := dec.Decode(&wire); err != nil {
		return fmt.Errorf("decode action: %w", err)
	}
	if wire.PoolID == nil || wire.TokenIn == nil || wire.TokenOut == nil || wire.MinAmountOut == nil {
		return fmt.Errorf("decode action: unrecognized action shape")
	}
	*a = NewSwapAction(SwapStep{
		PoolID:       *wire.PoolID,
		TokenIn:      *wire.TokenIn,
		AmountIn:     wire.AmountIn,
		TokenOut:     *wire.TokenOut,
		MinAmountOut: *wire.MinAmountOut,
	})
	return nil
}

// SwapRequest is the instruction a controller hands to the core.
// DestinationAssetHint selects swap-in delivery when set, swap-out
// forwarding when nil.
type SwapRequest struct {
	Steps                []Action   `json:"actions"`
	Destination          AccountID  `json:"target_account"`
	DestinationAssetHint *AccountID `json:"target_token"`
}

var errNoSteps = errors.New("request has no swap steps")

// DecodeSwapRequest parses and validates a serialized request. Unknown
// fields are rejected at every level.
func DecodeSwapRequest(data []byte) (SwapRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var req SwapRequest
	if err := dec.Decode(&req); err != nil {
		return SwapRequest{}, fmt.Errorf("decode swap request: %w", err)
	}
	if dec.More() {
		return SwapRequest{}, fmt.Errorf("decode swap request: trailing data")
	}
	if err := req.Validate(); err != nil {
		return SwapRequest{}, err
	}
	return req, nil
}

// Validate checks the structural invariants of the request.
func (r SwapRequest) Validate() error {
	if len(r.Steps) == 0 {
		return errNoSteps
	}
	for i, action := range r.Steps {
		if action.Kind != ActionSwap || action.Swap == nil {
			return fmt.Errorf("step %d: unsupported action kind %q", i, action.Kind)
		}
		if err := action.Swap.TokenIn.Validate(); err != nil {
			return fmt.Errorf("step %d token_in: %w", i, err)
		}
		if err := action.Swap.TokenOut.Validate(); err != nil {
			return fmt.Errorf("step %d token_out: %w", i, err)
		}
	}
	if err := r.Destination.Validate(); err != nil {
		return fmt.Errorf("target_account: %w", err)
	}
	if r.DestinationAssetHint != nil {
		if err := r.DestinationAssetHint.Validate(); err != nil {
			return fmt.Errorf("target_token: %w", err)
		}
	}
	return nil
}

// First returns the first hop. Validate guarantees it exists.
func (r SwapRequest) First() SwapStep {
	return *r.Steps[0].Swap
}

// Last returns the last hop. Validate guarantees it exists.
func (r SwapRequest) Last() SwapStep {
	return *r.Steps[len(r.Steps)-1].Swap
}

// SwapIn reports whether the destination wants a specific asset delivered.
func (r SwapRequest) SwapIn() bool {
	return r.DestinationAssetHint != nil
}

// ReceiverMessageKind tags the variant of a TokenReceiverMessage.
type ReceiverMessageKind string

const (
	ReceiverExecute ReceiverMessageKind = "execute"
)

// ExecuteMessage runs a list of actions against the tokens it arrived with.
type ExecuteMessage struct {
	ReferralID *AccountID `json:"referral_id"`
	Actions    []Action   `json:"actions"`
}

// TokenReceiverMessage is the payload attached to a transfer into the venue.
type TokenReceiverMessage struct {
	Kind    ReceiverMessageKind
	Execute *ExecuteMessage
}

// NewExecuteMessage builds the Execute variant.
func NewExecuteMessage(referral *AccountID, actions []Action) TokenReceiverMessage {
	return TokenReceiverMessage{
		Kind:    ReceiverExecute,
		Execute: &ExecuteMessage{ReferralID: referral, Actions: actions},
	}
}

func (m TokenReceiverMessage) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case ReceiverExecute:
		if m.Execute == nil {
			return nil, fmt.Errorf("execute message without body")
		}
		return json.Marshal(m.Execute)
	default:
		return nil, fmt.Errorf("unknown receiver message kind: %q", m.Kind)
	}
}

func (m *TokenReceiverMessage) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var body ExecuteMessage
	if err := dec.Decode(&body); err != nil {
		return fmt.Errorf("decode receiver message: %w", err)
	}
	if body.Actions == nil {
		return fmt.Errorf("decode receiver message: missing actions")
	}
	*m = TokenReceiverMessage{Kind: ReceiverExecute, Execute: &body}
	return nil
}
