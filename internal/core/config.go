package core

import (
	"encoding/json"
	"fmt"

	"swapCore/internal/host"
	"swapCore/internal/model"
	"swapCore/internal/promise"
)

// NativeCompensation selects how a failed native delivery is rerouted.
type NativeCompensation string

const (
	// NativeForward sends the native amount to the controller as is.
	NativeForward NativeCompensation = "forward"
	// NativeRewrap wraps the amount again and sends the wrapped token.
	NativeRewrap NativeCompensation = "rewrap"
)

// Config is the core's owner-managed configuration.
type Config struct {
	Controller         model.AccountID    `json:"controller"`
	Venue              model.AccountID    `json:"venue"`
	WrappedToken       model.AccountID    `json:"wrapped_token"`
	Owner              model.AccountID    `json:"owner"`
	Referral           *model.AccountID   `json:"referral,omitempty"`
	NativeCompensation NativeCompensation `json:"native_compensation"`
}

func (c Config) Validate() error {
	for name, id := range map[string]model.AccountID{
		"controller":    c.Controller,
		"venue":         c.Venue,
		"wrapped_token": c.WrappedToken,
		"owner":         c.Owner,
	} {
		if err := id.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Referral != nil {
		if err := c.Referral.Validate(); err != nil {
			return fmt.Errorf("referral: %w", err)
		}
	}
	switch c.NativeCompensation {
	case NativeForward, NativeRewrap:
	default:
		return fmt.Errorf("native_compensation: unknown mode %q", c.NativeCompensation)
	}
	return nil
}

func (c *Core) getConfig(method string) (promise.Outcome, error) {
	cfg := c.Config()
	switch method {
	case "get_config":
		return promise.ReturnValue(cfg)
	case "get_controller":
		return promise.ReturnValue(cfg.Controller)
	case "get_venue":
		return promise.ReturnValue(cfg.Venue)
	case "get_wrapped_token":
		return promise.ReturnValue(cfg.WrappedToken)
	case "get_owner":
		return promise.ReturnValue(cfg.Owner)
	case "get_referral":
		return promise.ReturnValue(cfg.Referral)
	case "get_native_compensation":
		return promise.ReturnValue(cfg.NativeCompensation)
	default:
		return promise.Outcome{}, fmt.Errorf("%s: %w", method, ErrUnknownMethod)
	}
}

type setterArgs struct {
	Controller         *model.AccountID    `json:"controller"`
	Venue              *model.AccountID    `json:"venue"`
	WrappedToken       *model.AccountID    `json:"wrapped_token"`
	Owner              *model.AccountID    `json:"owner"`
	Referral           *model.AccountID    `json:"referral"`
	NativeCompensation *NativeCompensation `json:"native_compensation"`
}

// setConfig applies one owner-only setter. The new configuration is
// validated as a whole before it replaces the old one.
func (c *Core) setConfig(env host.Env, method string, args json.RawMessage) (promise.Outcome, error) {
	var req setterArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return promise.Outcome{}, fmt.Errorf("decode %s: %w", method, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if env.Predecessor() != c.cfg.Owner {
		return promise.Outcome{}, fmt.Errorf("%s by %s: %w", method, env.Predecessor(), ErrUnauthorized)
	}
	next := c.cfg
	missing := func(field string) error {
		return fmt.Errorf("%s: %s is required", method, field)
	}
	switch method {
	case "set_controller":
		if req.Controller == nil {
			return promise.Outcome{}, missing("controller")
		}
		next.Controller = *req.Controller
	case "set_venue":
		if req.Venue == nil {
			return promise.Outcome{}, missing("venue")
		}
		next.Venue = *req.Venue
	case "set_wrapped_token":
		if req.WrappedToken == nil {
			return promise.Outcome{}, missing("wrapped_token")
		}
		next.WrappedToken = *req.WrappedToken
	case "set_owner":
		if req.Owner == nil {
			return promise.Outcome{}, missing("owner")
		}
		next.Owner = *req.Owner
	case "set_referral":
		next.Referral = req.Referral
	case "set_native_compensation":
		if req.NativeCompensation == nil {
			return promise.Outcome{}, missing("native_compensation")
		}
		next.NativeCompensation = *req.NativeCompensation
	default:
		return promise.Outcome{}, fmt.Errorf("%s: %w", method, ErrUnknownMethod)
	}
	if err := next.Validate(); err != nil {
		return promise.Outcome{}, fmt.Errorf("%s: %w", method, err)
	}
	c.cfg = next
	return promise.Empty(), nil
}
