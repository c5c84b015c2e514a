package types

import "math/big"

// Account holds the balance state tracked for every address touching the
// ledger: donors, students and the module vault alike.
type Account struct {
	Nonce   uint64
	Balance *big.Int
}

// NewAccount returns an account with a zeroed balance.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0)}
}

// EnsureAccount normalises a possibly-nil account loaded from state.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return NewAccount()
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}
