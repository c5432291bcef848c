package websocket

// State is the lifecycle position of one connection. The Manager actor is the
// only writer; other goroutines read it atomically.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event drives a connection through its lifecycle.
type Event int

const (
	// EventAccepted fires once the connection is in the registry.
	EventAccepted Event = iota
	// EventCloseFrame fires when the peer starts the close handshake.
	EventCloseFrame
	// EventError fires on a read or write failure.
	EventError
	// EventTerminate forces the connection down without a handshake.
	EventTerminate
	// EventSocketClosed fires after our close frame has been written.
	EventSocketClosed
)

func (e Event) String() string {
	switch e {
	case EventAccepted:
		return "accepted"
	case EventCloseFrame:
		return "close-frame"
	case EventError:
		return "error"
	case EventTerminate:
		return "terminate"
	case EventSocketClosed:
		return "socket-closed"
	default:
		return "unknown"
	}
}

// transitions is the single lifecycle table. Pairs that are absent are
// ignored; Closed has no outgoing edges, so cleanup runs exactly once.
var transitions = map[State]map[Event]State{
	StateConnecting: {
		EventAccepted:  StateOpen,
		EventTerminate: StateClosed,
	},
	StateOpen: {
		EventCloseFrame: StateClosing,
		EventError:      StateClosing,
		EventTerminate:  StateClosed,
	},
	StateClosing: {
		EventSocketClosed: StateClosed,
		EventTerminate:    StateClosed,
	},
}

// nextState looks up the transition for (from, ev).
func nextState(from State, ev Event) (State, bool) {
	to, ok := transitions[from][ev]
	return to, ok
}
