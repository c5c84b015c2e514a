package fund

import "errors"

var (
	// ErrInvalidAmount marks zero or negative deposits.
	ErrInvalidAmount = errors.New("fund: deposit amount must be positive")
	// ErrUnauthorized marks admin-only operations invoked by another caller.
	ErrUnauthorized = errors.New("fund: caller is not the administrator")
	// ErrNotVerified marks actions that require prior verification.
	ErrNotVerified = errors.New("fund: student not verified")
	// ErrInvalidScore marks merit scores outside the [0, 100] range.
	ErrInvalidScore = errors.New("fund: merit score must be between 0 and 100")
	// ErrNoMeritScore marks distribution attempts before any score was set.
	ErrNoMeritScore = errors.New("fund: no merit score assigned")
	// ErrAlreadyDistributed marks double-payout attempts.
	ErrAlreadyDistributed = errors.New("fund: student already received scholarship")
	// ErrInsufficientFunds marks payouts that would exceed the pool.
	ErrInsufficientFunds = errors.New("fund: payout exceeds available funds")
	// ErrScoreFrozen marks score updates after a completed payout.
	ErrScoreFrozen = errors.New("fund: merit score frozen after payout")
	// ErrInsufficientBalance marks deposits exceeding the donor's balance.
	ErrInsufficientBalance = errors.New("fund: insufficient donor balance")
)
