package fund

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"meritchain/core/types"
)

const (
	EventTypeDeposited       = "fund.deposited"
	EventTypeStudentVerified = "fund.studentVerified"
	EventTypeScoreProof      = "fund.scoreProof"
	EventTypePayout          = "fund.payout"
	EventTypeEnrollmentProof = "fund.enrollmentProof"
	EventTypeAdminRotated    = "fund.adminRotated"
)

// NewDepositedEvent returns the canonical event payload for an accepted
// donation.
func NewDepositedEvent(donor [20]byte, amount *big.Int) *types.Event {
	attrs := map[string]string{
		"donor":  hex.EncodeToString(donor[:]),
		"amount": bigString(amount),
	}
	return &types.Event{Type: EventTypeDeposited, Attributes: attrs}
}

// NewStudentVerifiedEvent returns the canonical event payload emitted the
// first time a student is verified.
func NewStudentVerifiedEvent(student [20]byte) *types.Event {
	attrs := map[string]string{
		"student": hex.EncodeToString(student[:]),
	}
	return &types.Event{Type: EventTypeStudentVerified, Attributes: attrs}
}

// NewScoreProofEvent returns the canonical event payload emitted when a merit
// score and its proof commitment are recorded.
func NewScoreProofEvent(student [20]byte, score uint32, proofHash [32]byte) *types.Event {
	attrs := map[string]string{
		"student":   hex.EncodeToString(student[:]),
		"score":     strconv.FormatUint(uint64(score), 10),
		"proofHash": hex.EncodeToString(proofHash[:]),
	}
	return &types.Event{Type: EventTypeScoreProof, Attributes: attrs}
}

// NewPayoutEvent returns the canonical event payload for a completed
// scholarship payout.
func NewPayoutEvent(student [20]byte, amount *big.Int) *types.Event {
	attrs := map[string]string{
		"student": hex.EncodeToString(student[:]),
		"amount":  bigString(amount),
	}
	return &types.Event{Type: EventTypePayout, Attributes: attrs}
}

// NewEnrollmentProofEvent returns the canonical event payload for a stored
// enrollment document hash.
func NewEnrollmentProofEvent(student [20]byte, documentHash [32]byte) *types.Event {
	attrs := map[string]string{
		"student":      hex.EncodeToString(student[:]),
		"documentHash": hex.EncodeToString(documentHash[:]),
	}
	return &types.Event{Type: EventTypeEnrollmentProof, Attributes: attrs}
}

// NewAdminRotatedEvent returns the canonical event payload for a transfer of
// administrative authority.
func NewAdminRotatedEvent(previous, next [20]byte) *types.Event {
	attrs := map[string]string{
		"previous": hex.EncodeToString(previous[:]),
		"next":     hex.EncodeToString(next[:]),
	}
	return &types.Event{Type: EventTypeAdminRotated, Attributes: attrs}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
