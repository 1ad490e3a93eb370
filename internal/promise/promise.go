package promise

import (
	"encoding/json"
	"fmt"

	"swapCore/internal/model"
)

// StepKind tags the action a Step performs on its receiver.
type StepKind string

const (
	StepCall     StepKind = "call"
	StepTransfer StepKind = "transfer"
)

// Step is a single remote action. A call step invokes Method on Receiver with
// JSON Args, Gas prepaid and Deposit attached. A transfer step moves Deposit
// of native currency to Receiver.
type Step struct {
	Kind     StepKind        `json:"kind"`
	Receiver model.AccountID `json:"receiver"`
	Method   string          `json:"method,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Gas      Gas             `json:"gas,omitempty"`
	Deposit  model.Amount    `json:"deposit"`
}

// Promise is an ordered chain of steps. Each step after the first runs once
// its predecessor resolved and sees that predecessor's Result.
type Promise struct {
	steps []Step
	err   error
}

// Call starts a promise invoking method on receiver.
func Call(receiver model.AccountID, method string, args any) *Promise {
	raw, err := json.Marshal(args)
	if err != nil {
		return &Promise{err: fmt.Errorf("marshal %s args: %w", method, err)}
	}
	return &Promise{steps: []Step{{
		Kind:     StepCall,
		Receiver: receiver,
		Method:   method,
		Args:     raw,
	}}}
}

// Transfer starts a promise moving native currency to receiver.
func Transfer(receiver model.AccountID, amount model.Amount) *Promise {
	return &Promise{steps: []Step{{
		Kind:     StepTransfer,
		Receiver: receiver,
		Deposit:  amount,
	}}}
}

// WithGas sets the prepaid gas of the last step.
func (p *Promise) WithGas(gas Gas) *Promise {
	if p.err == nil && len(p.steps) > 0 {
		p.steps[len(p.steps)-1].Gas = gas
	}
	return p
}

// WithDeposit attaches native currency to the last step.
func (p *Promise) WithDeposit(amount model.Amount) *Promise {
	if p.err == nil && len(p.steps) > 0 {
		p.steps[len(p.steps)-1].Deposit = amount
	}
	return p
}

// Then returns a promise that runs next after p resolves.
func (p *Promise) Then(next *Promise) *Promise {
	out := &Promise{err: p.err}
	if out.err == nil {
		if next == nil {
			out.err = fmt.Errorf("then: nil promise")
		} else {
			out.err = next.err
		}
	}
	if out.err != nil {
		return out
	}
	out.steps = make([]Step, 0, len(p.steps)+len(next.steps))
	out.steps = append(out.steps, p.steps...)
	out.steps = append(out.steps, next.steps...)
	return out
}

// Err reports a construction failure, e.g. unmarshalable arguments.
func (p *Promise) Err() error {
	if p == nil {
		return fmt.Errorf("nil promise")
	}
	if p.err == nil && len(p.steps) == 0 {
		return fmt.Errorf("empty promise")
	}
	return p.err
}

// Steps returns a copy of the chain.
func (p *Promise) Steps() []Step {
	out := make([]Step, len(p.steps))
	copy(out, p.steps)
	return out
}

// TotalGas is the gas attached across the whole chain.
func (p *Promise) TotalGas() Gas {
	var total Gas
	for _, step := range p.steps {
		total += step.Gas
	}
	return total
}
