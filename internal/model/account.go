package model

import (
	"fmt"
	"regexp"
)

// AccountID names an account on the ledger: a user, an asset contract, the venue or the core itself.
type AccountID string

var accountIDPattern = regexp.MustCompile(`^(([a-z\d]+[\-_])*[a-z\d]+\.)*([a-z\d]+[\-_])*[a-z\d]+$`)

// Validate checks the ledger's naming rules: 2-64 chars of lowercase
// alphanumerics separated by '.', '-' or '_'.
func (a AccountID) Validate() error {
	if len(a) < 2 || len(a) > 64 {
		return fmt.Errorf("invalid account id length: %q", string(a))
	}
	if !accountIDPattern.MatchString(string(a)) {
		return fmt.Errorf("invalid account id: %q", string(a))
	}
	return nil
}

func (a AccountID) String() string {
	return string(a)
}
