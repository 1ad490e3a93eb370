package core

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/google/uuid"

	"swapCore/internal/host"
	"swapCore/internal/model"
	"swapCore/internal/promise"
)

var oneYocto = model.NewAmount(1)

// Core is the swap orchestration contract. A saga's context travels inside
// the payload of its next continuation. The only thing the core remembers
// about a running saga is which output asset it holds: the output is read
// from the core's own balance, so two sagas must never share it.
type Core struct {
	id    model.AccountID
	newID func() string

	mu        sync.RWMutex
	cfg       Config
	inFlight  map[model.AccountID]string
	abandoned []string
}

type coreState struct {
	cfg      Config
	inFlight map[model.AccountID]string
}

// Option customizes a Core.
type Option func(*Core)

// WithSagaIDs overrides how saga ids are generated.
func WithSagaIDs(next func() string) Option {
	return func(c *Core) {
		c.newID = next
	}
}

func New(id model.AccountID, cfg Config, opts ...Option) (*Core, error) {
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("core account: %w", err)
	}
	if cfg.NativeCompensation == "" {
		cfg.NativeCompensation = NativeForward
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("core config: %w", err)
	}
	c := &Core{
		id:       id,
		cfg:      cfg,
		newID:    uuid.NewString,
		inFlight: make(map[model.AccountID]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Core) ID() model.AccountID {
	return c.id
}

// Config returns a copy of the current configuration.
func (c *Core) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

func (c *Core) Snapshot() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return coreState{cfg: c.cfg, inFlight: maps.Clone(c.inFlight)}
}

// Restore rolls back a failed invocation. Sagas abandoned by that invocation
// stay released.
func (c *Core) Restore(snapshot any) {
	state, ok := snapshot.(coreState)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = state.cfg
	c.inFlight = maps.Clone(state.inFlight)
	for _, sagaID := range c.abandoned {
		c.releaseLocked(sagaID)
	}
	c.abandoned = nil
}

// ActiveSagas maps each output asset held by a running saga to its saga id.
func (c *Core) ActiveSagas() map[model.AccountID]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.inFlight)
}

// acquire reserves asset as the output of sagaID.
func (c *Core) acquire(asset model.AccountID, sagaID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if owner, busy := c.inFlight[asset]; busy {
		return fmt.Errorf("%w: %s is the output of saga %s", ErrAssetBusy, asset, owner)
	}
	c.inFlight[asset] = sagaID
	return nil
}

// release frees whatever sagaID holds once its output has left the core.
func (c *Core) release(sagaID string) {
	c.mu.Lock()
	c.releaseLocked(sagaID)
	c.mu.Unlock()
}

func (c *Core) releaseLocked(sagaID string) {
	for asset, owner := range c.inFlight {
		if owner == sagaID {
			delete(c.inFlight, asset)
		}
	}
}

// abandon releases a saga that ends in err. The release survives the
// rollback of the failing invocation.
func (c *Core) abandon(sagaID string, err error) error {
	c.mu.Lock()
	c.releaseLocked(sagaID)
	c.abandoned = append(c.abandoned, sagaID)
	c.mu.Unlock()
	return err
}

func (c *Core) Invoke(env host.Env, method string, args json.RawMessage) (promise.Outcome, error) {
	c.mu.Lock()
	c.abandoned = nil
	c.mu.Unlock()

	switch method {
	case "swap":
		return c.swap(env, args)
	case "ft_on_transfer":
		return c.ftOnTransfer(env, args)
	case "callback_get_amount_out":
		return c.callbackGetAmountOut(env, args)
	case "callback_transfer_to_target_account":
		return c.callbackTransferToTarget(env, args)
	case "callback_deliver_native":
		return c.callbackDeliverNative(env, args)
	case "callback_check_transfer":
		return c.callbackCheckTransfer(env, args)
	case "callback_check_forward":
		return c.callbackCheckForward(env, args)
	case "callback_return_value":
		return c.callbackReturnValue(env, args)
	case "get_active_sagas":
		return promise.ReturnValue(c.ActiveSagas())
	}
	switch {
	case strings.HasPrefix(method, "get_"):
		return c.getConfig(method)
	case strings.HasPrefix(method, "set_"):
		return c.setConfig(env, method, args)
	}
	return promise.Outcome{}, fmt.Errorf("%s: %w", method, ErrUnknownMethod)
}

// requirePrivate rejects callbacks not scheduled by the core itself.
func requirePrivate(env host.Env) error {
	if env.Predecessor() != env.CurrentAccount() {
		return fmt.Errorf("called by %s: %w", env.Predecessor(), ErrPrivateMethod)
	}
	return nil
}

// decodeStage reads a continuation payload and checks its stage tag.
func decodeStage(args json.RawMessage, payload model.StagedPayload, want model.Stage) error {
	if err := json.Unmarshal(args, payload); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrProtocolViolation, want, err)
	}
	if got := payload.StageTag(); got != want {
		return fmt.Errorf("payload for %q delivered to %q: %w", got, want, ErrStageMismatch)
	}
	return nil
}

// singleResult returns the only resolved result the continuation follows.
func singleResult(env host.Env) (promise.Result, error) {
	results := env.PromiseResults()
	if len(results) != 1 {
		return promise.Result{}, fmt.Errorf("%w: expected 1 promise result, got %d", ErrProtocolViolation, len(results))
	}
	if results[0].Status == promise.NotReady {
		return promise.Result{}, fmt.Errorf("%w: promise result not ready", ErrProtocolViolation)
	}
	return results[0], nil
}

func amountPtr(a model.Amount) *model.Amount {
	return &a
}

// Wire arguments of the asset contracts the core calls.
type ftTransferArgs struct {
	ReceiverID model.AccountID `json:"receiver_id"`
	Amount     model.Amount    `json:"amount"`
	Memo       *string         `json:"memo,omitempty"`
}

type ftTransferCallArgs struct {
	ReceiverID model.AccountID `json:"receiver_id"`
	Amount     model.Amount    `json:"amount"`
	Memo       *string         `json:"memo,omitempty"`
	Msg        string          `json:"msg"`
}

type ftBalanceOfArgs struct {
	AccountID model.AccountID `json:"account_id"`
}

type nearWithdrawArgs struct {
	Amount model.Amount `json:"amount"`
}

func ftTransfer(token, receiver model.AccountID, amount model.Amount, memo string) *promise.Promise {
	args := ftTransferArgs{ReceiverID: receiver, Amount: amount}
	if memo != "" {
		args.Memo = &memo
	}
	return promise.Call(token, "ft_transfer", args).WithGas(GasFtTransfer).WithDeposit(oneYocto)
}

func (c *Core) callback(method string, payload model.StagedPayload, gas promise.Gas) *promise.Promise {
	return promise.Call(c.id, method, payload).WithGas(gas)
}
