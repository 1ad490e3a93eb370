package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"swapCore/internal/model"
)

// Genesis describes the ledger a node starts from.
type Genesis struct {
	Core     CoreGenesis      `yaml:"core"`
	Venue    AccountGenesis   `yaml:"venue"`
	Accounts []AccountGenesis `yaml:"accounts"`
	Tokens   []TokenGenesis   `yaml:"tokens"`
}

// CoreGenesis deploys the swap core and its initial configuration.
type CoreGenesis struct {
	Account            model.AccountID  `yaml:"account"`
	Balance            string           `yaml:"balance"`
	Controller         model.AccountID  `yaml:"controller"`
	WrappedToken       model.AccountID  `yaml:"wrapped_token"`
	Owner              model.AccountID  `yaml:"owner"`
	Referral           *model.AccountID `yaml:"referral"`
	NativeCompensation string           `yaml:"native_compensation"`
}

type AccountGenesis struct {
	Account model.AccountID `yaml:"account"`
	Balance string          `yaml:"balance"`
}

// TokenGenesis deploys a fungible token. A wrapped token is backed by the
// native balance of its own account.
type TokenGenesis struct {
	Account       model.AccountID   `yaml:"account"`
	Wrapped       bool              `yaml:"wrapped"`
	Registrations []model.AccountID `yaml:"registrations"`
	Balances      map[string]string `yaml:"balances"`
}

// LoadGenesis reads and validates a genesis file. Unknown keys are rejected.
func LoadGenesis(path string) (Genesis, error) {
	f, err := os.Open(path)
	if err != nil {
		return Genesis{}, fmt.Errorf("open genesis: %w", err)
	}
	defer f.Close()
	return DecodeGenesis(f)
}

func DecodeGenesis(r io.Reader) (Genesis, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var g Genesis
	if err := dec.Decode(&g); err != nil {
		if errors.Is(err, io.EOF) {
			return Genesis{}, fmt.Errorf("decode genesis: empty document")
		}
		return Genesis{}, fmt.Errorf("decode genesis: %w", err)
	}
	if err := g.Validate(); err != nil {
		return Genesis{}, err
	}
	return g, nil
}

// Validate checks account names and amounts. It does not check that the
// core's collaborators exist; deployment does.
func (g Genesis) Validate() error {
	if err := g.Core.Account.Validate(); err != nil {
		return fmt.Errorf("core account: %w", err)
	}
	if err := g.Venue.Account.Validate(); err != nil {
		return fmt.Errorf("venue account: %w", err)
	}
	if _, err := ParseBalance(g.Core.Balance); err != nil {
		return fmt.Errorf("core balance: %w", err)
	}
	if _, err := ParseBalance(g.Venue.Balance); err != nil {
		return fmt.Errorf("venue balance: %w", err)
	}

	seen := map[model.AccountID]bool{g.Core.Account: true, g.Venue.Account: true}
	claim := func(id model.AccountID) error {
		if err := id.Validate(); err != nil {
			return err
		}
		if seen[id] {
			return fmt.Errorf("account %s declared twice", id)
		}
		seen[id] = true
		return nil
	}
	for i, acct := range g.Accounts {
		if err := claim(acct.Account); err != nil {
			return fmt.Errorf("accounts[%d]: %w", i, err)
		}
		if _, err := ParseBalance(acct.Balance); err != nil {
			return fmt.Errorf("accounts[%d] balance: %w", i, err)
		}
	}
	for i, token := range g.Tokens {
		if err := claim(token.Account); err != nil {
			return fmt.Errorf("tokens[%d]: %w", i, err)
		}
		for holder, balance := range token.Balances {
			if err := model.AccountID(holder).Validate(); err != nil {
				return fmt.Errorf("tokens[%d] holder: %w", i, err)
			}
			if _, err := ParseBalance(balance); err != nil {
				return fmt.Errorf("tokens[%d] balance of %s: %w", i, holder, err)
			}
		}
	}
	return nil
}

// ParseBalance reads a genesis amount. An empty string is zero.
func ParseBalance(input string) (model.Amount, error) {
	if input == "" {
		return model.Amount{}, nil
	}
	return model.ParseAmount(input)
}
