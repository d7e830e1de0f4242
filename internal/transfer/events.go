package transfer

// Direction tells which side of a peer session an event belongs to
type Direction int

const (
	Outgoing Direction = iota + 1
	Incoming
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	default:
		return "none"
	}
}

// EventKind enumerates what the registry reports to the application
type EventKind int

const (
	EventOffer EventKind = iota + 1
	EventResponse
	EventProgress
	EventFileSent
	EventFileReceived
	EventCanceled
	EventRejected
	EventFailed
	EventProtocolError
	EventUnknownMessage
)

func (k EventKind) String() string {
	switch k {
	case EventOffer:
		return "offer"
	case EventResponse:
		return "response"
	case EventProgress:
		return "progress"
	case EventFileSent:
		return "file_sent"
	case EventFileReceived:
		return "file_received"
	case EventCanceled:
		return "canceled"
	case EventRejected:
		return "rejected"
	case EventFailed:
		return "failed"
	case EventProtocolError:
		return "protocol_error"
	case EventUnknownMessage:
		return "unknown_message"
	default:
		return "unknown"
	}
}

// Event is a single observation about a transfer.
type Event struct {
	Kind      EventKind
	Peer      PeerID
	Direction Direction
	Info      FileInfo

	Accepted bool    // EventResponse
	Progress float64 // EventProgress, in (0, 1]
	Chunks   int     // EventProgress, chunks done so far
	Sink     Sink    // EventFileReceived
	Message  Message // EventUnknownMessage
	Err      error   // EventFailed, EventProtocolError
}

// EventHandler receives events after the registry has released its locks,
// so it may call back into the registry.
type EventHandler func(Event)
