package core_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"swapCore/internal/core"
	"swapCore/internal/host"
	"swapCore/internal/ledger"
	"swapCore/internal/model"
	"swapCore/internal/promise"
	"swapCore/internal/venue"
)

// bridge takes forwarded tokens and reports a fixed amount as unused.
type bridge struct {
	unused string
}

func (b *bridge) Invoke(env host.Env, method string, args json.RawMessage) (promise.Outcome, error) {
	if method != "ft_on_transfer" {
		return promise.Outcome{}, ledger.ErrUnknownMethod
	}
	return promise.ReturnValue(model.MustParseAmount(b.unused))
}

type sagaFixture struct {
	host   *host.Host
	core   *core.Core
	quoter *venue.ScriptedQuoter
	usdc   *ledger.Token
	eth    *ledger.Token
	wrap   *ledger.Wrapped
	bridge *bridge
	ctx    context.Context
}

func newSagaFixture(t *testing.T) *sagaFixture {
	t.Helper()
	f := newIdleSagaFixture(t)
	f.run()
	return f
}

// newIdleSagaFixture deploys everything but leaves the host stopped, so
// transactions can be queued before any receipt executes.
func newIdleSagaFixture(t *testing.T) *sagaFixture {
	t.Helper()
	h := host.New(host.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	f := &sagaFixture{
		host:   h,
		quoter: venue.NewScriptedQuoter(),
		usdc:   ledger.NewToken("usdc.test"),
		eth:    ledger.NewToken("eth.test"),
		wrap:   ledger.NewWrapped("wrap.test"),
		bridge: &bridge{unused: "0"},
		ctx:    ctx,
	}
	c, err := core.New("core.test", core.Config{
		Controller:   "controller.test",
		Venue:        "venue.test",
		WrappedToken: "wrap.test",
		Owner:        "owner.test",
	})
	require.NoError(t, err)
	f.core = c

	// contracts attach one unit of native currency to every transfer
	for id, balance := range map[model.AccountID]uint64{
		"controller.test": 1000,
		"owner.test":      10,
		"bob.test":        0,
		"carol.test":      0,
		"mallory.test":    10,
		"core.test":       100,
		"venue.test":      100,
		"wrap.test":       5000,
	} {
		require.NoError(t, h.CreateAccount(id, model.NewAmount(balance)))
	}
	require.NoError(t, h.Deploy("usdc.test", f.usdc))
	require.NoError(t, h.Deploy("eth.test", f.eth))
	require.NoError(t, h.Deploy("wrap.test", f.wrap))
	require.NoError(t, h.Deploy("venue.test", venue.NewContract("venue.test", f.quoter)))
	require.NoError(t, h.Deploy("bridge.test", f.bridge))
	require.NoError(t, h.Deploy("core.test", c))

	for _, id := range []model.AccountID{"controller.test", "mallory.test", "core.test", "venue.test"} {
		f.usdc.Register(id)
	}
	for _, id := range []model.AccountID{"controller.test", "core.test", "venue.test", "bob.test", "bridge.test"} {
		f.eth.Register(id)
		f.wrap.Register(id)
	}
	require.NoError(t, f.usdc.Mint("controller.test", model.NewAmount(1000)))
	require.NoError(t, f.usdc.Mint("mallory.test", model.NewAmount(1000)))
	require.NoError(t, f.eth.Mint("venue.test", model.NewAmount(10000)))
	require.NoError(t, f.wrap.Mint("venue.test", model.NewAmount(5000)))
	return f
}

func (f *sagaFixture) run() {
	go func() { _ = f.host.Run(f.ctx) }()
}

func swapMsg(t *testing.T, tokenOut, target model.AccountID, hint *model.AccountID) string {
	t.Helper()
	req := model.SwapRequest{
		Steps: []model.Action{model.NewSwapAction(model.SwapStep{
			PoolID:       7,
			TokenIn:      "usdc.test",
			TokenOut:     tokenOut,
			MinAmountOut: model.NewAmount(1),
		})},
		Destination:          target,
		DestinationAssetHint: hint,
	}
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	return string(raw)
}

func hint(id model.AccountID) *model.AccountID {
	return &id
}

func (f *sagaFixture) tx(t *testing.T, signer, receiver model.AccountID, method string, args any, gas promise.Gas, deposit uint64) host.TxOutcome {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	out, err := f.host.Call(f.ctx, host.Transaction{
		Signer:   signer,
		Receiver: receiver,
		Method:   method,
		Args:     raw,
		Gas:      gas,
		Deposit:  model.NewAmount(deposit),
	})
	require.NoError(t, err)
	return out
}

// notify starts a saga through a transfer notification from signer.
func (f *sagaFixture) notify(t *testing.T, signer model.AccountID, amount, msg string) host.TxOutcome {
	t.Helper()
	return f.tx(t, signer, "usdc.test", "ft_transfer_call",
		map[string]string{"receiver_id": "core.test", "amount": amount, "msg": msg},
		300*promise.TGas, 1)
}

// direct funds the core and starts a saga with a direct call.
func (f *sagaFixture) direct(t *testing.T, amount, msg string, gas promise.Gas) host.TxOutcome {
	t.Helper()
	out := f.tx(t, "controller.test", "usdc.test", "ft_transfer",
		map[string]string{"receiver_id": "core.test", "amount": amount}, 10*promise.TGas, 1)
	require.True(t, out.Succeeded(), out.Failures)
	return f.tx(t, "controller.test", "core.test", "swap",
		map[string]any{"amount": amount, "core_swap_msg": json.RawMessage(msg)}, gas, 0)
}

func balance(t *testing.T, token interface {
	BalanceOf(model.AccountID) (model.Amount, bool)
}, id model.AccountID) string {
	t.Helper()
	b, _ := token.BalanceOf(id)
	return b.String()
}

func (f *sagaFixture) native(t *testing.T, id model.AccountID) string {
	t.Helper()
	b, err := f.host.NativeBalance(id)
	require.NoError(t, err)
	return b.String()
}

func kinds(out host.TxOutcome) []model.EventKind {
	var got []model.EventKind
	for _, event := range out.Events {
		got = append(got, event.Kind)
	}
	return got
}

func TestNotifiedSwapDeliversOutput(t *testing.T) {
	f := newSagaFixture(t)
	f.quoter.Push(venue.Fill{Used: model.NewAmount(100), TokenOut: "eth.test", AmountOut: model.NewAmount(42)})

	out := f.notify(t, "controller.test", "100", swapMsg(t, "eth.test", "bob.test", hint("eth.test")))
	require.True(t, out.Succeeded(), out.Failures)
	require.Empty(t, out.Failures)
	require.JSONEq(t, `"100"`, string(out.Value))

	require.Equal(t, "900", balance(t, f.usdc, "controller.test"))
	require.Equal(t, "100", balance(t, f.usdc, "venue.test"))
	require.Equal(t, "0", balance(t, f.usdc, "core.test"))
	require.Equal(t, "42", balance(t, f.eth, "bob.test"))
	require.Equal(t, "0", balance(t, f.eth, "core.test"))
	require.Equal(t, []model.EventKind{model.EventSagaStarted, model.EventDelivered}, kinds(out))

	sagaID := out.Events[0].SagaID
	require.NotEmpty(t, sagaID)
	for _, event := range out.Events {
		require.Equal(t, sagaID, event.SagaID)
		require.Equal(t, model.AccountID("core.test"), event.EmittedBy)
	}

	orders := f.quoter.Orders()
	require.Len(t, orders, 1)
	require.Equal(t, model.AccountID("core.test"), orders[0].Sender)
	require.Equal(t, "100", orders[0].AmountIn.String())
}

func TestDirectSwapReturnsUsedAmount(t *testing.T) {
	f := newSagaFixture(t)
	f.quoter.Push(venue.Fill{Used: model.NewAmount(100), TokenOut: "eth.test", AmountOut: model.NewAmount(42)})

	out := f.direct(t, "100", swapMsg(t, "eth.test", "bob.test", hint("eth.test")), 300*promise.TGas)
	require.True(t, out.Succeeded(), out.Failures)
	require.JSONEq(t, `"100"`, string(out.Value))
	require.Equal(t, "42", balance(t, f.eth, "bob.test"))
	require.Equal(t, "0", balance(t, f.usdc, "core.test"))
}

func TestPartialFillNotificationRefundsRemainder(t *testing.T) {
	f := newSagaFixture(t)
	f.quoter.Push(venue.Fill{Used: model.NewAmount(60)})

	out := f.notify(t, "controller.test", "100", swapMsg(t, "eth.test", "bob.test", hint("eth.test")))
	require.True(t, out.Succeeded(), out.Failures)
	require.JSONEq(t, `"60"`, string(out.Value))
	require.Equal(t, "940", balance(t, f.usdc, "controller.test"))
	require.Equal(t, "60", balance(t, f.usdc, "venue.test"))
	require.Equal(t, "0", balance(t, f.usdc, "core.test"))
	require.Equal(t, "0", balance(t, f.eth, "bob.test"))
	require.Equal(t, []model.EventKind{model.EventSagaStarted, model.EventVenuePartialFill, model.EventValueReturned}, kinds(out))
}

func TestPartialFillDirectReroutesRemainder(t *testing.T) {
	f := newSagaFixture(t)
	f.quoter.Push(venue.Fill{Used: model.NewAmount(60)})

	out := f.direct(t, "100", swapMsg(t, "eth.test", "bob.test", hint("eth.test")), 300*promise.TGas)
	require.True(t, out.Succeeded(), out.Failures)
	require.JSONEq(t, `"60"`, string(out.Value))
	require.Equal(t, "940", balance(t, f.usdc, "controller.test"))
	require.Equal(t, "0", balance(t, f.usdc, "core.test"))
	require.Empty(t, out.EventsOf(model.EventDelivered))
	require.Empty(t, out.EventsOf(model.EventZeroOutput))
}

func TestConcurrentSagasNeverShareOutput(t *testing.T) {
	f := newIdleSagaFixture(t)
	f.quoter.Push(venue.Fill{Used: model.NewAmount(100), TokenOut: "eth.test", AmountOut: model.NewAmount(42)})
	f.quoter.Push(venue.Fill{Used: model.NewAmount(100), TokenOut: "eth.test", AmountOut: model.NewAmount(58)})

	submit := func(target model.AccountID) string {
		raw, err := json.Marshal(map[string]string{
			"receiver_id": "core.test",
			"amount":      "100",
			"msg":         swapMsg(t, "eth.test", target, hint("eth.test")),
		})
		require.NoError(t, err)
		txID, err := f.host.Submit(f.ctx, host.Transaction{
			Signer:   "controller.test",
			Receiver: "usdc.test",
			Method:   "ft_transfer_call",
			Args:     raw,
			Gas:      300 * promise.TGas,
			Deposit:  model.NewAmount(1),
		})
		require.NoError(t, err)
		return txID
	}
	first := submit("bob.test")
	second := submit("carol.test")
	f.run()

	out, err := f.host.Wait(f.ctx, first)
	require.NoError(t, err)
	require.True(t, out.Succeeded(), out.Failures)
	require.Equal(t, []model.EventKind{model.EventSagaStarted, model.EventDelivered}, kinds(out))

	// the second notification lands while the first saga holds eth.test
	out, err = f.host.Wait(f.ctx, second)
	require.NoError(t, err)
	require.True(t, out.Succeeded(), out.Failures)
	require.JSONEq(t, `"0"`, string(out.Value))
	require.Empty(t, out.Events)
	require.Len(t, out.Failures, 1)
	require.Contains(t, out.Failures[0], core.ErrAssetBusy.Error())

	require.Equal(t, "42", balance(t, f.eth, "bob.test"))
	require.Equal(t, "0", balance(t, f.eth, "carol.test"))
	require.Equal(t, "0", balance(t, f.eth, "core.test"))
	require.Equal(t, "900", balance(t, f.usdc, "controller.test"))
	require.Empty(t, f.core.ActiveSagas())

	// once released, the next saga gets exactly its own output
	out = f.notify(t, "controller.test", "100", swapMsg(t, "eth.test", "bob.test", hint("eth.test")))
	require.True(t, out.Succeeded(), out.Failures)
	require.Equal(t, "100", balance(t, f.eth, "bob.test"))
	require.Equal(t, "800", balance(t, f.usdc, "controller.test"))
}

func TestVenueRejectionReturnsInput(t *testing.T) {
	f := newSagaFixture(t)
	f.quoter.PushError(venue.ErrRejectedOrder)

	out := f.notify(t, "controller.test", "100", swapMsg(t, "eth.test", "bob.test", hint("eth.test")))
	require.True(t, out.Succeeded(), out.Failures)
	require.JSONEq(t, `"0"`, string(out.Value))
	require.Equal(t, "1000", balance(t, f.usdc, "controller.test"))
	require.Len(t, out.EventsOf(model.EventVenuePartialFill), 1)
}

func TestZeroOutputEndsSaga(t *testing.T) {
	f := newSagaFixture(t)
	f.quoter.Push(venue.Fill{Used: model.NewAmount(100), TokenOut: "eth.test"})

	out := f.notify(t, "controller.test", "100", swapMsg(t, "eth.test", "bob.test", hint("eth.test")))
	require.True(t, out.Succeeded(), out.Failures)
	require.JSONEq(t, `"100"`, string(out.Value))
	require.Equal(t, "0", balance(t, f.eth, "bob.test"))
	require.Equal(t, []model.EventKind{model.EventSagaStarted, model.EventZeroOutput}, kinds(out))
}

func TestFailedDeliveryReroutesToController(t *testing.T) {
	f := newSagaFixture(t)
	f.quoter.Push(venue.Fill{Used: model.NewAmount(100), TokenOut: "eth.test", AmountOut: model.NewAmount(42)})

	// carol never registered with eth.test
	out := f.notify(t, "controller.test", "100", swapMsg(t, "eth.test", "carol.test", hint("eth.test")))
	require.True(t, out.Succeeded(), out.Failures)
	require.JSONEq(t, `"100"`, string(out.Value))
	require.Equal(t, "42", balance(t, f.eth, "controller.test"))
	require.Equal(t, "0", balance(t, f.eth, "core.test"))
	require.Equal(t, []model.EventKind{
		model.EventSagaStarted, model.EventDeliveryFailed, model.EventCompensated,
	}, kinds(out))
	require.Equal(t, "transfer to user carol.test failed, rerouted to controller", out.Events[1].Memo)
	require.Len(t, out.Failures, 1)
}

func TestNativeDelivery(t *testing.T) {
	f := newSagaFixture(t)
	f.quoter.Push(venue.Fill{Used: model.NewAmount(100), TokenOut: "wrap.test", AmountOut: model.NewAmount(42)})

	out := f.notify(t, "controller.test", "100", swapMsg(t, "wrap.test", "bob.test", hint("wrap.test")))
	require.True(t, out.Succeeded(), out.Failures)
	require.Equal(t, "42", f.native(t, "bob.test"))
	require.Equal(t, "0", balance(t, f.wrap, "core.test"))
	delivered := out.EventsOf(model.EventDelivered)
	require.Len(t, delivered, 1)
	require.Equal(t, model.AccountID("native"), delivered[0].Asset)
}

func TestNativeDeliveryFailureForwardsNative(t *testing.T) {
	f := newSagaFixture(t)
	f.quoter.Push(venue.Fill{Used: model.NewAmount(100), TokenOut: "wrap.test", AmountOut: model.NewAmount(42)})
	before := f.native(t, "controller.test")

	out := f.notify(t, "controller.test", "100", swapMsg(t, "wrap.test", "ghost.test", hint("wrap.test")))
	require.True(t, out.Succeeded(), out.Failures)
	require.Equal(t, "1000", before)
	// one unit went with the notification transfer
	require.Equal(t, "1041", f.native(t, "controller.test"))
	require.Equal(t, "0", balance(t, f.wrap, "controller.test"))

	failed := out.EventsOf(model.EventDeliveryFailed)
	require.Len(t, failed, 1)
	require.Equal(t, "transfer to user ghost.test failed, rerouted to controller, native: true", failed[0].Memo)
	require.Len(t, out.EventsOf(model.EventCompensated), 1)
}

func TestNativeDeliveryFailureRewraps(t *testing.T) {
	f := newSagaFixture(t)
	out := f.tx(t, "owner.test", "core.test", "set_native_compensation",
		map[string]string{"native_compensation": "rewrap"}, 10*promise.TGas, 0)
	require.True(t, out.Succeeded(), out.Failures)

	f.quoter.Push(venue.Fill{Used: model.NewAmount(100), TokenOut: "wrap.test", AmountOut: model.NewAmount(42)})
	out = f.notify(t, "controller.test", "100", swapMsg(t, "wrap.test", "ghost.test", hint("wrap.test")))
	require.True(t, out.Succeeded(), out.Failures)
	require.Equal(t, "42", balance(t, f.wrap, "controller.test"))
	require.Equal(t, "0", balance(t, f.wrap, "core.test"))
	require.Len(t, out.EventsOf(model.EventCompensated), 1)
}

func TestSwapOutForward(t *testing.T) {
	f := newSagaFixture(t)
	f.quoter.Push(venue.Fill{Used: model.NewAmount(100), TokenOut: "eth.test", AmountOut: model.NewAmount(42)})

	out := f.notify(t, "controller.test", "100", swapMsg(t, "eth.test", "bridge.test", nil))
	require.True(t, out.Succeeded(), out.Failures)
	require.Equal(t, "42", balance(t, f.eth, "bridge.test"))
	require.Equal(t, []model.EventKind{model.EventSagaStarted, model.EventForwarded}, kinds(out))
}

func TestSwapOutRefusalReroutesToController(t *testing.T) {
	f := newSagaFixture(t)
	f.bridge.unused = "12"
	f.quoter.Push(venue.Fill{Used: model.NewAmount(100), TokenOut: "eth.test", AmountOut: model.NewAmount(42)})

	out := f.notify(t, "controller.test", "100", swapMsg(t, "eth.test", "bridge.test", nil))
	require.True(t, out.Succeeded(), out.Failures)
	require.Equal(t, "30", balance(t, f.eth, "bridge.test"))
	require.Equal(t, "12", balance(t, f.eth, "controller.test"))
	require.Equal(t, "0", balance(t, f.eth, "core.test"))
	require.Equal(t, []model.EventKind{
		model.EventSagaStarted, model.EventForwardRefused, model.EventCompensated,
	}, kinds(out))
	require.Equal(t, "12", out.Events[1].Amount.String())
}

func TestUnauthorizedCallersAreRefused(t *testing.T) {
	f := newSagaFixture(t)

	out := f.notify(t, "mallory.test", "100", swapMsg(t, "eth.test", "bob.test", hint("eth.test")))
	require.True(t, out.Succeeded(), out.Failures)
	require.JSONEq(t, `"0"`, string(out.Value))
	require.Equal(t, "1000", balance(t, f.usdc, "mallory.test"))
	require.True(t, strings.Contains(out.Failures[0], core.ErrUnauthorized.Error()))
	require.Empty(t, out.Events)

	out = f.tx(t, "mallory.test", "core.test", "swap",
		map[string]any{"amount": "100", "core_swap_msg": json.RawMessage(swapMsg(t, "eth.test", "bob.test", nil))},
		300*promise.TGas, 0)
	require.False(t, out.Succeeded())
	require.Empty(t, f.quoter.Orders())
}

func TestMalformedRequestIsRefunded(t *testing.T) {
	f := newSagaFixture(t)
	out := f.notify(t, "controller.test", "100", `{"actions":[],"target_account":"bob.test","target_token":null}`)
	require.JSONEq(t, `"0"`, string(out.Value))
	require.Equal(t, "1000", balance(t, f.usdc, "controller.test"))
	require.True(t, strings.Contains(out.Failures[0], core.ErrMalformedRequest.Error()))
}

func TestCallbacksCannotBeCalledExternally(t *testing.T) {
	f := newSagaFixture(t)
	out := f.tx(t, "controller.test", "core.test", "callback_return_value",
		model.NewReturnValuePayload("saga", model.NewAmount(1), model.StageNone, ""), 10*promise.TGas, 0)
	require.False(t, out.Succeeded())
	require.True(t, strings.Contains(out.Failures[0], core.ErrPrivateMethod.Error()))
}

func TestSwapNeedsItsGasBudget(t *testing.T) {
	f := newSagaFixture(t)
	f.quoter.Push(venue.Fill{Used: model.NewAmount(100), TokenOut: "eth.test", AmountOut: model.NewAmount(42)})

	out := f.direct(t, "100", swapMsg(t, "eth.test", "bob.test", hint("eth.test")), core.GasSwap-20*promise.TGas)
	require.False(t, out.Succeeded())
	require.True(t, strings.Contains(out.Failures[0], host.ErrGasExceeded.Error()))
	require.Equal(t, "100", balance(t, f.usdc, "core.test"))
	require.Empty(t, out.Events)
	require.Empty(t, f.quoter.Orders())
}

func TestConfigIsReadable(t *testing.T) {
	f := newSagaFixture(t)
	raw, err := f.host.View(f.ctx, "core.test", "get_config", nil)
	require.NoError(t, err)
	var cfg core.Config
	require.NoError(t, json.Unmarshal(raw, &cfg))
	require.Equal(t, model.AccountID("venue.test"), cfg.Venue)
	require.Equal(t, core.NativeForward, cfg.NativeCompensation)
}
