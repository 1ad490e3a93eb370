package node

import (
	"fmt"

	"swapCore/internal/config"
	"swapCore/internal/core"
	"swapCore/internal/host"
	"swapCore/internal/ledger"
	"swapCore/internal/model"
	"swapCore/internal/venue"
)

// Deployment is what a genesis file puts on a host.
type Deployment struct {
	Core   *core.Core
	Tokens map[model.AccountID]*ledger.Token
}

// Deploy applies g to h. The venue routes its orders to quoter. A wrapped
// token's account is funded with the native currency backing its supply.
func Deploy(h *host.Host, g config.Genesis, quoter venue.Quoter, opts ...core.Option) (*Deployment, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if err := openAccount(h, g.Core.Account, g.Core.Balance); err != nil {
		return nil, err
	}
	if err := openAccount(h, g.Venue.Account, g.Venue.Balance); err != nil {
		return nil, err
	}
	if err := h.Deploy(g.Venue.Account, venue.NewContract(g.Venue.Account, quoter)); err != nil {
		return nil, fmt.Errorf("deploy venue: %w", err)
	}
	for _, acct := range g.Accounts {
		if err := openAccount(h, acct.Account, acct.Balance); err != nil {
			return nil, err
		}
	}

	d := &Deployment{Tokens: make(map[model.AccountID]*ledger.Token, len(g.Tokens))}
	wrapped := make(map[model.AccountID]bool)
	for _, tg := range g.Tokens {
		token, contract, err := mintToken(tg)
		if err != nil {
			return nil, err
		}
		backing := model.Amount{}
		if tg.Wrapped {
			backing = token.TotalSupply()
			wrapped[tg.Account] = true
		}
		if err := h.CreateAccount(tg.Account, backing); err != nil {
			return nil, fmt.Errorf("token %s: %w", tg.Account, err)
		}
		if err := h.Deploy(tg.Account, contract); err != nil {
			return nil, fmt.Errorf("deploy token %s: %w", tg.Account, err)
		}
		d.Tokens[tg.Account] = token
	}
	if !wrapped[g.Core.WrappedToken] {
		return nil, fmt.Errorf("core wrapped_token %s is not a wrapped token of this genesis", g.Core.WrappedToken)
	}
	if _, err := h.NativeBalance(g.Core.Controller); err != nil {
		return nil, fmt.Errorf("core controller: %w", err)
	}

	c, err := core.New(g.Core.Account, core.Config{
		Controller:         g.Core.Controller,
		Venue:              g.Venue.Account,
		WrappedToken:       g.Core.WrappedToken,
		Owner:              g.Core.Owner,
		Referral:           g.Core.Referral,
		NativeCompensation: core.NativeCompensation(g.Core.NativeCompensation),
	}, opts...)
	if err != nil {
		return nil, err
	}
	if err := h.Deploy(g.Core.Account, c); err != nil {
		return nil, fmt.Errorf("deploy core: %w", err)
	}
	d.Core = c
	return d, nil
}

func openAccount(h *host.Host, id model.AccountID, balance string) error {
	amount, err := config.ParseBalance(balance)
	if err != nil {
		return fmt.Errorf("account %s: %w", id, err)
	}
	if err := h.CreateAccount(id, amount); err != nil {
		return fmt.Errorf("account %s: %w", id, err)
	}
	return nil
}

// mintToken builds a token with its registrations and initial balances.
// Holders are registered implicitly.
func mintToken(tg config.TokenGenesis) (*ledger.Token, host.Contract, error) {
	var (
		token    *ledger.Token
		contract host.Contract
	)
	if tg.Wrapped {
		w := ledger.NewWrapped(tg.Account)
		token, contract = w.Token, w
	} else {
		token = ledger.NewToken(tg.Account)
		contract = token
	}
	for _, id := range tg.Registrations {
		token.Register(id)
	}
	for holder, balance := range tg.Balances {
		amount, err := config.ParseBalance(balance)
		if err != nil {
			return nil, nil, fmt.Errorf("token %s balance of %s: %w", tg.Account, holder, err)
		}
		token.Register(model.AccountID(holder))
		if err := token.Mint(model.AccountID(holder), amount); err != nil {
			return nil, nil, fmt.Errorf("token %s: %w", tg.Account, err)
		}
	}
	return token, contract, nil
}
