package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAmountArithmetic(t *testing.T) {
	a := NewAmount(100)
	b := NewAmount(58)

	diff, err := a.Sub(b)
	require.NoError(t, err)
	require.Equal(t, "42", diff.String())

	_, err = b.Sub(a)
	require.True(t, errors.Is(err, ErrAmountUnderflow))

	ceiling := MustParseAmount("340282366920938463463374607431768211455")
	_, err = ceiling.Add(NewAmount(1))
	require.True(t, errors.Is(err, ErrAmountOverflow))

	require.Equal(t, "58", a.Min(b).String())
	require.True(t, Amount{}.IsZero())
}

func TestParseAmountRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "-1", "1.5", "0x10", "abc"} {
		_, err := ParseAmount(input)
		require.Error(t, err, input)
	}
	_, err := ParseAmount("340282366920938463463374607431768211456")
	require.True(t, errors.Is(err, ErrAmountOverflow))
}

func TestAmountJSON(t *testing.T) {
	raw, err := json.Marshal(NewAmount(1000))
	require.NoError(t, err)
	require.Equal(t, `"1000"`, string(raw))

	var a Amount
	require.NoError(t, json.Unmarshal([]byte(`"123456789012345678901234567890"`), &a))
	require.Equal(t, "123456789012345678901234567890", a.String())
	require.Error(t, json.Unmarshal([]byte(`123`), &a))
}

func TestAccountIDValidate(t *testing.T) {
	require.NoError(t, AccountID("alice.near").Validate())
	require.NoError(t, AccountID("wrap_near-1.test").Validate())
	require.Error(t, AccountID("a").Validate())
	require.Error(t, AccountID("Alice.near").Validate())
	require.Error(t, AccountID("alice..near").Validate())
}

const sampleRequest = `{
	"actions": [
		{"pool_id": 7, "token_in": "usdc.test", "amount_in": "100", "token_out": "wrap.test", "min_amount_out": "1"},
		{"pool_id": 9, "token_in": "wrap.test", "amount_in": null, "token_out": "eth.test", "min_amount_out": "40"}
	],
	"target_account": "bob.test",
	"target_token": "eth.test"
}`

func TestDecodeSwapRequest(t *testing.T) {
	req, err := DecodeSwapRequest([]byte(sampleRequest))
	require.NoError(t, err)
	require.Len(t, req.Steps, 2)
	require.Equal(t, AccountID("usdc.test"), req.First().TokenIn)
	require.Equal(t, AccountID("eth.test"), req.Last().TokenOut)
	require.Nil(t, req.Last().AmountIn)
	require.True(t, req.SwapIn())
	require.Equal(t, AccountID("bob.test"), req.Destination)
}

func TestDecodeSwapRequestRejects(t *testing.T) {
	cases := map[string]string{
		"no steps":       `{"actions": [], "target_account": "bob.test", "target_token": null}`,
		"unknown field":  `{"actions": [{"pool_id": 1, "token_in": "a.test", "token_out": "b.test", "min_amount_out": "0", "slippage": 1}], "target_account": "bob.test", "target_token": null}`,
		"missing pool":   `{"actions": [{"token_in": "a.test", "token_out": "b.test", "min_amount_out": "0"}], "target_account": "bob.test", "target_token": null}`,
		"bad account":    `{"actions": [{"pool_id": 1, "token_in": "a.test", "token_out": "b.test", "min_amount_out": "0"}], "target_account": "B", "target_token": null}`,
		"numeric amount": `{"actions": [{"pool_id": 1, "token_in": "a.test", "token_out": "b.test", "min_amount_out": 0}], "target_account": "bob.test", "target_token": null}`,
		"not json":       `swap please`,
		"extra field":    `{"actions": [{"pool_id": 1, "token_in": "a.test", "token_out": "b.test", "min_amount_out": "0"}], "target_account": "bob.test", "target_token": null, "fee": "1"}`,
	}
	for name, input := range cases {
		_, err := DecodeSwapRequest([]byte(input))
		require.Error(t, err, name)
	}
}

func TestTokenReceiverMessageRoundTrip(t *testing.T) {
	req, err := DecodeSwapRequest([]byte(sampleRequest))
	require.NoError(t, err)
	referral := AccountID("ref.test")
	msg := NewExecuteMessage(&referral, req.Steps)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded TokenReceiverMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, ReceiverExecute, decoded.Kind)
	require.Equal(t, referral, *decoded.Execute.ReferralID)
	require.Len(t, decoded.Execute.Actions, 2)

	require.Error(t, json.Unmarshal([]byte(`{"referral_id": null}`), &decoded))
	require.Error(t, json.Unmarshal([]byte(`{"actions": [], "force": true}`), &decoded))
}

func TestSagaSettlement(t *testing.T) {
	saga := SagaContext{RequestedAmount: NewAmount(100), DirectCall: true}
	require.Equal(t, "100", saga.Settlement().String())
	saga.DirectCall = false
	require.True(t, saga.Settlement().IsZero())
}
