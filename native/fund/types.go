package fund

import "errors"

// MaxMeritScore bounds the merit score range accepted by the ledger.
const MaxMeritScore uint32 = 100

// PayoutDenominator normalises the merit score into a basis-point style
// fraction of the pool: a perfect score of 100 pays out 100/10000 = 1% of the
// pool balance at distribution time.
const PayoutDenominator uint64 = 10_000

// StudentStatus captures the per-student lifecycle position.
type StudentStatus uint8

const (
	// StatusUnknown marks an address with no ledger record.
	StatusUnknown StudentStatus = iota
	// StatusVerified marks students cleared by the administrator.
	StatusVerified
	// StatusScored marks verified students with a merit score assigned.
	StatusScored
	// StatusDistributed is terminal: the payout has been made.
	StatusDistributed
)

func (s StudentStatus) String() string {
	switch s {
	case StatusVerified:
		return "verified"
	case StatusScored:
		return "scored"
	case StatusDistributed:
		return "distributed"
	default:
		return "unknown"
	}
}

// StudentRecord is the authoritative per-address eligibility record. Records
// are created implicitly on the first administrative action and never deleted;
// only the status flags change over time.
type StudentRecord struct {
	Address    [20]byte
	Verified   bool
	HasScore   bool
	MeritScore uint32
	ProofHash  [32]byte
	Received   bool
	ScoredAt   uint64
}

// Status derives the lifecycle position from the record flags.
func (r *StudentRecord) Status() StudentStatus {
	switch {
	case r == nil || !r.Verified:
		return StatusUnknown
	case r.Received:
		return StatusDistributed
	case r.HasScore:
		return StatusScored
	default:
		return StatusVerified
	}
}

// Validate ensures the record is internally consistent before persistence.
func (r *StudentRecord) Validate() error {
	if r == nil {
		return errors.New("fund: record nil")
	}
	if r.Address == ([20]byte{}) {
		return errors.New("fund: student address required")
	}
	if r.MeritScore > MaxMeritScore {
		return ErrInvalidScore
	}
	if r.HasScore && !r.Verified {
		return ErrNotVerified
	}
	if r.Received && !r.HasScore {
		return ErrNoMeritScore
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate persisted state.
func (r *StudentRecord) Clone() *StudentRecord {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}
