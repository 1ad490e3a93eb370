package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"swapCore/internal/model"
)

const sampleGenesis = `
core:
  account: core.test
  balance: "100"
  controller: controller.test
  wrapped_token: wrap.test
  owner: owner.test
  native_compensation: rewrap
venue:
  account: venue.test
  balance: "100"
accounts:
  - account: controller.test
    balance: "1000"
  - account: owner.test
tokens:
  - account: usdc.test
    registrations: [controller.test, core.test, venue.test]
    balances:
      controller.test: "1000"
  - account: wrap.test
    wrapped: true
    registrations: [controller.test, core.test, venue.test]
    balances:
      venue.test: "500"
`

func TestDecodeGenesis(t *testing.T) {
	g, err := DecodeGenesis(strings.NewReader(sampleGenesis))
	require.NoError(t, err)
	require.Equal(t, model.AccountID("core.test"), g.Core.Account)
	require.Equal(t, "rewrap", g.Core.NativeCompensation)
	require.Nil(t, g.Core.Referral)
	require.Len(t, g.Accounts, 2)
	require.Len(t, g.Tokens, 2)
	require.True(t, g.Tokens[1].Wrapped)
	require.Equal(t, "1000", g.Tokens[0].Balances["controller.test"])

	balance, err := ParseBalance(g.Accounts[1].Balance)
	require.NoError(t, err)
	require.True(t, balance.IsZero())
}

func TestLoadGenesisFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleGenesis), 0o644))
	g, err := LoadGenesis(path)
	require.NoError(t, err)
	require.Equal(t, model.AccountID("venue.test"), g.Venue.Account)

	_, err = LoadGenesis(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "open genesis")
}

func TestDecodeGenesisRejects(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"unknown key":    sampleGenesis + "extra: 1\n",
		"bad account":    strings.Replace(sampleGenesis, "account: owner.test", "account: Owner!", 1),
		"bad balance":    strings.Replace(sampleGenesis, `balance: "1000"`, `balance: "-5"`, 1),
		"duplicate":      strings.Replace(sampleGenesis, "account: owner.test", "account: usdc.test", 1),
		"core collision": strings.Replace(sampleGenesis, "account: owner.test", "account: core.test", 1),
	}
	for name, doc := range cases {
		_, err := DecodeGenesis(strings.NewReader(doc))
		require.Error(t, err, name)
	}
}
