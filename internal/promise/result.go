package promise

import (
	"encoding/json"
	"fmt"
)

// Status is the resolution state of a remote call.
type Status string

const (
	NotReady   Status = "not_ready"
	Successful Status = "successful"
	Failed     Status = "failed"
)

// Result is what a continuation observes of the step it follows.
type Result struct {
	Status Status          `json:"status"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// Success wraps a returned value.
func Success(value json.RawMessage) Result {
	return Result{Status: Successful, Value: value}
}

// Failure is the result of a reverted call.
func Failure() Result {
	return Result{Status: Failed}
}

func (r Result) Succeeded() bool {
	return r.Status == Successful
}

// Decode unmarshals the success payload into v.
func (r Result) Decode(v any) error {
	if r.Status != Successful {
		return fmt.Errorf("decode result: status %s", r.Status)
	}
	if len(r.Value) == 0 {
		return fmt.Errorf("decode result: empty value")
	}
	return json.Unmarshal(r.Value, v)
}

// Outcome is what an invocation hands back to the host: either an immediate
// value or a promise whose final result becomes the invocation's result.
type Outcome struct {
	Value   json.RawMessage
	Promise *Promise
}

// ReturnValue builds a value outcome.
func ReturnValue(v any) (Outcome, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal return value: %w", err)
	}
	return Outcome{Value: raw}, nil
}

// ReturnPromise defers the invocation's result to p.
func ReturnPromise(p *Promise) (Outcome, error) {
	if err := p.Err(); err != nil {
		return Outcome{}, err
	}
	return Outcome{Promise: p}, nil
}

// Empty is an outcome with no value, like a void method.
func Empty() Outcome {
	return Outcome{}
}
