package types

// Event represents a typed event emitted during state transitions. The
// attribute keys and value encodings are part of the durable external
// contract consumed by off-chain indexers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
