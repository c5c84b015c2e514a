package credential

import "errors"

// Enrollment is the on-ledger record behind a single credential token. Tokens
// are soulbound: ownership never changes after mint, only the Active flag may
// be flipped by the issuer.
type Enrollment struct {
	TokenID    uint64
	Owner      [20]byte
	University string
	StudentID  string
	EnrolledAt uint64
	Active     bool
}

// Validate ensures the record is internally consistent before persistence.
func (e *Enrollment) Validate() error {
	if e == nil {
		return errors.New("credential: enrollment must not be nil")
	}
	if e.TokenID == 0 {
		return errors.New("credential: token id must be positive")
	}
	if e.Owner == ([20]byte{}) {
		return errors.New("credential: owner address required")
	}
	if e.University == "" {
		return errors.New("credential: university required")
	}
	if e.StudentID == "" {
		return errors.New("credential: student id required")
	}
	return nil
}

// Clone returns a deep copy safe for callers to mutate.
func (e *Enrollment) Clone() *Enrollment {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}
