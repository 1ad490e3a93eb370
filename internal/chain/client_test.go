package chain

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"swapCore/internal/api"
	"swapCore/internal/host"
	"swapCore/internal/ledger"
	"swapCore/internal/model"
	"swapCore/internal/promise"
	"swapCore/internal/storage"
	"swapCore/internal/venue"
)

func newNodeClient(t *testing.T) (*Client, *venue.ScriptedQuoter, context.Context) {
	t.Helper()
	journal := storage.NewJsonlJournal(t.TempDir() + "/events.jsonl")
	h := host.New(host.Options{Journal: journal})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	go func() { _ = h.Run(ctx) }()

	token := ledger.NewToken("usdc.test")
	require.NoError(t, h.Deploy(token.ID(), token))
	require.NoError(t, h.CreateAccount("alice.test", model.NewAmount(10)))
	token.Register("alice.test")
	token.Register("bob.test")
	require.NoError(t, token.Mint("alice.test", model.NewAmount(100)))

	script := venue.NewScriptedQuoter()
	srv, err := api.NewServer("127.0.0.1:0", api.NewService(h, journal, script, nil), nil, nil)
	require.NoError(t, err)
	client := Wrap(rpc.DialInProc(srv.RPC()), WithRetry(1, time.Millisecond))
	t.Cleanup(client.Close)
	return client, script, ctx
}

func TestClientRoundTrip(t *testing.T) {
	client, script, ctx := newNodeClient(t)

	out, err := client.Call(ctx, host.Transaction{
		Signer:   "alice.test",
		Receiver: "usdc.test",
		Method:   "ft_transfer",
		Args:     json.RawMessage(`{"receiver_id":"bob.test","amount":"25"}`),
		Gas:      10 * promise.TGas,
		Deposit:  model.NewAmount(1),
	})
	require.NoError(t, err)
	require.True(t, out.Succeeded(), out.Failures)

	cached, err := client.Outcome(ctx, out.TxID)
	require.NoError(t, err)
	require.Equal(t, out.Receipts, cached.Receipts)

	balance, err := client.Balance(ctx, "usdc.test", "bob.test")
	require.NoError(t, err)
	require.Equal(t, "25", balance.String())

	native, err := client.NativeBalance(ctx, "alice.test")
	require.NoError(t, err)
	require.Equal(t, "9", native.String())

	raw, err := client.View(ctx, "usdc.test", "ft_total_supply", nil)
	require.NoError(t, err)
	require.JSONEq(t, `"100"`, string(raw))

	events, err := client.History(ctx, "nothing")
	require.NoError(t, err)
	require.Empty(t, events)

	require.NoError(t, client.ScriptFill(ctx, venue.Fill{Used: model.NewAmount(1)}))
	_, err = script.Execute(ctx, venue.Order{})
	require.NoError(t, err)
}

func TestClientReportsRemoteErrors(t *testing.T) {
	client, _, ctx := newNodeClient(t)
	_, err := client.NativeBalance(ctx, "ghost.test")
	require.Error(t, err)
	require.True(t, isRemote(err))

	_, err = client.Submit(ctx, host.Transaction{Signer: "mallory.test", Receiver: "usdc.test", Method: "ft_transfer"})
	require.Error(t, err)
}

type venueService struct {
	calls int
	fill  venue.Fill
	err   error
}

func (s *venueService) Execute(_ context.Context, order venue.Order) (venue.Fill, error) {
	s.calls++
	if s.err != nil {
		return venue.Fill{}, s.err
	}
	fill := s.fill
	fill.Used = order.AmountIn
	return fill, nil
}

func newQuoter(t *testing.T, svc *venueService) *RemoteQuoter {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("venue", svc))
	t.Cleanup(server.Stop)
	q := WrapQuoter(rpc.DialInProc(server), 2, time.Millisecond, nil)
	t.Cleanup(q.Close)
	return q
}

func TestRemoteQuoterExecutes(t *testing.T) {
	svc := &venueService{fill: venue.Fill{TokenOut: "eth.test", AmountOut: model.NewAmount(42)}}
	q := newQuoter(t, svc)

	fill, err := q.Execute(context.Background(), venue.Order{
		Sender:   "core.test",
		TokenIn:  "usdc.test",
		AmountIn: model.NewAmount(100),
	})
	require.NoError(t, err)
	require.Equal(t, "100", fill.Used.String())
	require.Equal(t, model.AccountID("eth.test"), fill.TokenOut)
	require.Equal(t, "42", fill.AmountOut.String())
}

func TestRemoteQuoterDoesNotRetryRejections(t *testing.T) {
	svc := &venueService{err: errors.New("pool drained")}
	q := newQuoter(t, svc)

	_, err := q.Execute(context.Background(), venue.Order{AmountIn: model.NewAmount(1)})
	require.ErrorIs(t, err, venue.ErrRejectedOrder)
	require.Contains(t, err.Error(), "pool drained")
	require.Equal(t, 1, svc.calls)
}

func TestRemoteQuoterRetriesTransportFailures(t *testing.T) {
	svc := &venueService{}
	q := newQuoter(t, svc)
	q.rpcClient.Close()

	_, err := q.Execute(context.Background(), venue.Order{AmountIn: model.NewAmount(1)})
	require.ErrorIs(t, err, rpc.ErrClientQuit)
	require.Zero(t, svc.calls)
}

func TestWithRetry(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)

	attempts = 0
	boom := errors.New("boom")
	err = withRetry(context.Background(), 3, time.Millisecond, func(context.Context) error {
		attempts++
		return permanent{boom}
	})
	require.Equal(t, boom, err)
	require.Equal(t, 1, attempts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = withRetry(ctx, 3, time.Hour, func(context.Context) error { return errors.New("down") })
	require.ErrorIs(t, err, context.Canceled)
}
