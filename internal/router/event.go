package router

// EventType classifies an inbound transport event.
type EventType int

const (
	// EventConnect fires when the transport has accepted a new connection.
	EventConnect EventType = iota
	// EventDisconnect fires when the transport has lost a connection.
	EventDisconnect
	// EventMessage carries one inbound frame from a connection.
	EventMessage
)

// String returns the event type's wire name.
func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is one inbound unit of work from the transport gateway.
type Event struct {
	Type   EventType
	ConnID string
	// Body is the raw frame for EventMessage events, nil otherwise.
	Body []byte
}

// action is the decoded body of an EventMessage. All fields besides Action
// are action-specific; absent fields decode to zero values.
type action struct {
	Action  string `json:"action"`
	Name    string `json:"name"`
	Message string `json:"message"`
	To      string `json:"to"`
	Passkey string `json:"passkey"`
}
