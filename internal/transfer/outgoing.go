package transfer

import (
	"fmt"
	"log"
)

// OutgoingTransfer drives one file to one peer, one block per receiver request.
type OutgoingTransfer struct {
	peer         PeerID
	channel      Channel
	source       Source
	info         FileInfo
	state        SenderState
	chunkSize    int
	chunksPerAck int
}

func newOutgoingTransfer(peer PeerID, ch Channel, src Source, chunkSize, chunksPerAck int) (*OutgoingTransfer, error) {
	info, err := NewFileInfo(src, chunkSize)
	if err != nil {
		return nil, err
	}
	info.ChunksPerAck = chunksPerAck

	return &OutgoingTransfer{
		peer:         peer,
		channel:      ch,
		source:       src,
		info:         info,
		state:        SenderIdle,
		chunkSize:    chunkSize,
		chunksPerAck: chunksPerAck,
	}, nil
}

// Info returns the descriptor announced to the peer
func (o *OutgoingTransfer) Info() FileInfo {
	return o.info
}

// State returns the current sender state
func (o *OutgoingTransfer) State() SenderState {
	return o.state
}

func (o *OutgoingTransfer) setState(state SenderState) {
	if o.state != state {
		log.Printf("Sender state [%s]: %s -> %s", o.peer, o.state, state)
		o.state = state
	}
}

// offer announces the file. No data is sent until the peer accepts.
func (o *OutgoingTransfer) offer() error {
	if o.state != SenderIdle {
		return fmt.Errorf("offer in state %s: %w", o.state, ErrInvalidState)
	}

	msg, err := NewInfoMessage(o.info)
	if err != nil {
		return err
	}
	if err := o.channel.Send(ControlFrame(msg)); err != nil {
		o.setState(SenderFailed)
		return fmt.Errorf("failed to send file info: %w", err)
	}

	o.setState(SenderOffering)
	return nil
}

func (o *OutgoingTransfer) handleResponse(accepted bool, emit func(Event)) error {
	if o.state != SenderOffering {
		return violation(o.peer, string(MsgResponse), fmt.Errorf("response in state %s: %w", o.state, ErrInvalidState))
	}

	emit(Event{Kind: EventResponse, Direction: Outgoing, Info: o.info, Accepted: accepted})

	if !accepted {
		o.setState(SenderRejected)
		emit(Event{Kind: EventRejected, Direction: Outgoing, Info: o.info})
		return nil
	}

	o.setState(SenderSending)

	if o.info.ChunksTotal == 0 {
		emit(Event{Kind: EventProgress, Direction: Outgoing, Info: o.info, Progress: 1})
		o.setState(SenderCompleted)
		emit(Event{Kind: EventFileSent, Direction: Outgoing, Info: o.info})
		return nil
	}

	return o.sendBlock(0, emit)
}

func (o *OutgoingTransfer) handleBlockRequest(begin int, emit func(Event)) error {
	if o.state != SenderSending {
		return violation(o.peer, string(MsgBlockRequest), fmt.Errorf("block request in state %s: %w", o.state, ErrInvalidState))
	}
	if begin < 0 || begin >= o.info.ChunksTotal {
		return violation(o.peer, string(MsgBlockRequest), fmt.Errorf("%w: chunk %d of %d", ErrBlockOutOfRange, begin, o.info.ChunksTotal))
	}

	return o.sendBlock(begin, emit)
}

// sendBlock transmits up to chunksPerAck chunks starting at begin, each as its own binary message.
func (o *OutgoingTransfer) sendBlock(begin int, emit func(Event)) error {
	total := o.info.ChunksTotal
	end := BlockEnd(begin, total, o.chunksPerAck)

	block, err := SliceBlock(o.source, o.info.Size, o.chunkSize, begin, end)
	if err != nil {
		o.setState(SenderFailed)
		return err
	}

	for i, chunk := range SplitIntoChunks(block, o.chunkSize) {
		if err := o.channel.Send(BinaryFrame(chunk)); err != nil {
			o.setState(SenderFailed)
			return fmt.Errorf("failed to send chunk %d: %w", begin+i, err)
		}

		done := begin + i + 1
		emit(Event{
			Kind:      EventProgress,
			Direction: Outgoing,
			Info:      o.info,
			Progress:  float64(done) / float64(total),
			Chunks:    done,
		})
	}

	if end == total-1 {
		o.setState(SenderCompleted)
		emit(Event{Kind: EventFileSent, Direction: Outgoing, Info: o.info})
	}
	return nil
}

// cancel tells the receiver to drop the transfer.
func (o *OutgoingTransfer) cancel(emit func(Event)) error {
	if o.state.Terminal() {
		return fmt.Errorf("cancel in state %s: %w", o.state, ErrInvalidState)
	}

	var err error
	if o.state != SenderIdle {
		if err = o.channel.Send(ControlFrame(NewCancelMessage())); err != nil {
			err = fmt.Errorf("failed to send cancel: %w", err)
		}
	}

	o.setState(SenderCanceled)
	emit(Event{Kind: EventCanceled, Direction: Outgoing, Info: o.info})
	return err
}

// abort ends the transfer after a protocol violation. The receiver is told
// to cancel when notify is set.
func (o *OutgoingTransfer) abort(notify bool) {
	if o.state.Terminal() {
		return
	}

	if notify && (o.state == SenderOffering || o.state == SenderSending) {
		if err := o.channel.Send(ControlFrame(NewCancelMessage())); err != nil {
			log.Printf("Failed to notify %s of aborted transfer: %v", o.peer, err)
		}
	}
	o.setState(SenderCanceled)
}
