package domain

// ConnState is the connection state of a live book feed.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	StateError        ConnState = "error"
)

// Live reports whether snapshots received in this state may be trusted.
func (s ConnState) Live() bool { return s == StateConnected }

// StateChange is emitted whenever the feed moves between states.
type StateChange struct {
	From   ConnState `json:"from"`
	To     ConnState `json:"to"`
	Reason string    `json:"reason,omitempty"`
}
