package events

// Payload is a concrete event carrying flat string attributes, suitable for
// logging, metrics labels and the RPC stream alike.
type Payload struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// EventType implements the Event interface.
func (p *Payload) EventType() string {
	if p == nil {
		return ""
	}
	return p.Type
}
