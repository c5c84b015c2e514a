package credential

import (
	"encoding/hex"
	"strconv"

	"meritchain/core/types"
)

const (
	EventTypeMinted        = "credential.minted"
	EventTypeStatusUpdated = "credential.statusUpdated"
)

// NewMintedEvent returns the canonical event payload for a freshly issued
// credential.
func NewMintedEvent(to [20]byte, tokenID uint64, university, studentID string) *types.Event {
	attrs := map[string]string{
		"to":         hex.EncodeToString(to[:]),
		"tokenId":    strconv.FormatUint(tokenID, 10),
		"university": university,
		"studentId":  studentID,
	}
	return &types.Event{Type: EventTypeMinted, Attributes: attrs}
}

// NewStatusUpdatedEvent returns the canonical event payload emitted when the
// issuer toggles a credential's active flag.
func NewStatusUpdatedEvent(tokenID uint64, active bool) *types.Event {
	attrs := map[string]string{
		"tokenId": strconv.FormatUint(tokenID, 10),
		"active":  strconv.FormatBool(active),
	}
	return &types.Event{Type: EventTypeStatusUpdated, Attributes: attrs}
}
