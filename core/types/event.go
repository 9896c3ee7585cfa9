package types

// Event represents a typed event emitted during state transitions. Attribute
// values are rendered as strings so payloads stay stable across encoders.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// EventType implements events.Event.
func (e *Event) EventType() string {
	if e == nil {
		return ""
	}
	return e.Type
}
