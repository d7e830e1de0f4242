package transfer

// SenderState represents the current state of an outgoing transfer
type SenderState int

const (
	SenderIdle SenderState = iota
	SenderOffering
	SenderSending
	SenderCompleted
	SenderCanceled
	SenderRejected
	SenderFailed
)

// String returns the string representation of SenderState
func (s SenderState) String() string {
	switch s {
	case SenderIdle:
		return "Idle"
	case SenderOffering:
		return "Offering"
	case SenderSending:
		return "Sending"
	case SenderCompleted:
		return "Completed"
	case SenderCanceled:
		return "Canceled"
	case SenderRejected:
		return "Rejected"
	case SenderFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition is possible
func (s SenderState) Terminal() bool {
	return s >= SenderCompleted
}

// ReceiverState represents the current state of an incoming transfer
type ReceiverState int

const (
	ReceiverIdle ReceiverState = iota
	ReceiverAwaitingDecision
	ReceiverReceiving
	ReceiverCompleted
	ReceiverCanceled
	ReceiverFailed
)

// String returns the string representation of ReceiverState
func (r ReceiverState) String() string {
	switch r {
	case ReceiverIdle:
		return "Idle"
	case ReceiverAwaitingDecision:
		return "AwaitingDecision"
	case ReceiverReceiving:
		return "Receiving"
	case ReceiverCompleted:
		return "Completed"
	case ReceiverCanceled:
		return "Canceled"
	case ReceiverFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition is possible
func (r ReceiverState) Terminal() bool {
	return r >= ReceiverCompleted
}
