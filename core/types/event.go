package types

// Event represents a typed notification emitted during escrow state
// transitions. Sequence is assigned by the recorder when the event is
// appended to the audit log; it is zero until then.
type Event struct {
	Sequence   uint64            `json:"sequence,omitempty"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
