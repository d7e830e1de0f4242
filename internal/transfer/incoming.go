package transfer

import (
	"bytes"
	"context"
	"fmt"
	"log"
)

// IncomingTransfer accumulates one file from one peer and paces the sender
// with block requests.
type IncomingTransfer struct {
	peer         PeerID
	channel      Channel
	info         FileInfo
	sink         Sink
	pendingBlock [][]byte
	received     int
	state        ReceiverState
	chunkSize    int
	chunksPerAck int
}

func newIncomingTransfer(peer PeerID, ch Channel, info FileInfo, chunkSize, chunksPerAck int) *IncomingTransfer {
	t := &IncomingTransfer{
		peer:         peer,
		channel:      ch,
		info:         info,
		state:        ReceiverIdle,
		chunkSize:    chunkSize,
		chunksPerAck: chunksPerAck,
	}
	t.setState(ReceiverAwaitingDecision)
	return t
}

// Info returns the descriptor received from the sender
func (t *IncomingTransfer) Info() FileInfo {
	return t.info
}

// State returns the current receiver state
func (t *IncomingTransfer) State() ReceiverState {
	return t.state
}

// Received returns the number of chunks received so far
func (t *IncomingTransfer) Received() int {
	return t.received
}

func (t *IncomingTransfer) setState(state ReceiverState) {
	if t.state != state {
		log.Printf("Receiver state [%s]: %s -> %s", t.peer, t.state, state)
		t.state = state
	}
}

// accept allocates the sink and only then tells the sender to start.
func (t *IncomingTransfer) accept(ctx context.Context, allocate SinkAllocator, emit func(Event)) error {
	if t.state != ReceiverAwaitingDecision {
		return fmt.Errorf("accept in state %s: %w", t.state, ErrInvalidState)
	}

	sink, err := allocate(ctx, t.info)
	if err != nil {
		t.setState(ReceiverFailed)
		if sendErr := t.channel.Send(ControlFrame(NewResponseMessage(false))); sendErr != nil {
			log.Printf("Failed to decline %s after sink allocation failure: %v", t.peer, sendErr)
		}
		return fmt.Errorf("failed to allocate sink for %s: %w", t.info.Name, err)
	}
	t.sink = sink

	if err := t.channel.Send(ControlFrame(NewResponseMessage(true))); err != nil {
		t.fail()
		return fmt.Errorf("failed to send response: %w", err)
	}

	t.setState(ReceiverReceiving)

	if t.info.ChunksTotal == 0 {
		emit(Event{Kind: EventProgress, Direction: Incoming, Info: t.info, Progress: 1})
		return t.finish(ctx, emit)
	}
	return nil
}

func (t *IncomingTransfer) reject() error {
	if t.state != ReceiverAwaitingDecision {
		return fmt.Errorf("reject in state %s: %w", t.state, ErrInvalidState)
	}

	t.setState(ReceiverCanceled)
	if err := t.channel.Send(ControlFrame(NewResponseMessage(false))); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}
	return nil
}

func (t *IncomingTransfer) handleChunk(ctx context.Context, data []byte, emit func(Event)) error {
	if t.state != ReceiverReceiving {
		return violation(t.peer, "chunk", fmt.Errorf("%w in state %s", ErrUnexpectedChunk, t.state))
	}

	total := t.info.ChunksTotal
	if t.received >= total {
		return violation(t.peer, "chunk", fmt.Errorf("%w: chunk %d of %d", ErrUnexpectedChunk, t.received, total))
	}
	if want := t.expectedLen(t.received); len(data) != want {
		return violation(t.peer, "chunk", fmt.Errorf("%w: chunk %d is %d bytes, want %d", ErrChunkSize, t.received, len(data), want))
	}

	t.pendingBlock = append(t.pendingBlock, bytes.Clone(data))
	emit(Event{
		Kind:      EventProgress,
		Direction: Incoming,
		Info:      t.info,
		Progress:  float64(t.received+1) / float64(total),
		Chunks:    t.received + 1,
	})
	t.received++

	lastChunkInFile := t.received == total
	lastChunkInBlock := t.received > 0 && t.received%t.chunksPerAck == 0
	if !lastChunkInFile && !lastChunkInBlock {
		return nil
	}

	block := JoinChunks(t.pendingBlock)
	t.pendingBlock = nil
	if err := t.sink.Append(ctx, block); err != nil {
		t.fail()
		return fmt.Errorf("failed to commit block ending at chunk %d: %w", t.received-1, err)
	}

	if lastChunkInFile {
		return t.finish(ctx, emit)
	}

	if err := t.channel.Send(ControlFrame(NewBlockRequestMessage(t.received))); err != nil {
		t.fail()
		return fmt.Errorf("failed to request block at chunk %d: %w", t.received, err)
	}
	return nil
}

// expectedLen is the exact length chunk index must have for the announced size
func (t *IncomingTransfer) expectedLen(index int) int {
	if index < t.info.ChunksTotal-1 {
		return t.chunkSize
	}
	return int(t.info.Size - int64(index)*int64(t.chunkSize))
}

func (t *IncomingTransfer) finish(ctx context.Context, emit func(Event)) error {
	if err := t.sink.Save(ctx); err != nil {
		t.fail()
		return fmt.Errorf("failed to save %s: %w", t.info.Name, err)
	}

	t.setState(ReceiverCompleted)
	emit(Event{Kind: EventFileReceived, Direction: Incoming, Info: t.info, Sink: t.sink})
	return nil
}

func (t *IncomingTransfer) handleCancel(emit func(Event)) error {
	if t.state != ReceiverAwaitingDecision && t.state != ReceiverReceiving {
		return violation(t.peer, string(MsgCancel), fmt.Errorf("cancel in state %s: %w", t.state, ErrInvalidState))
	}

	t.abort(ReceiverCanceled)
	emit(Event{Kind: EventCanceled, Direction: Incoming, Info: t.info})
	return nil
}

// cancel stops the transfer locally. No further block requests are sent.
func (t *IncomingTransfer) cancel(emit func(Event)) error {
	if t.state.Terminal() {
		return fmt.Errorf("cancel in state %s: %w", t.state, ErrInvalidState)
	}

	if t.state == ReceiverAwaitingDecision {
		if err := t.reject(); err != nil {
			return err
		}
	} else {
		t.abort(ReceiverCanceled)
	}
	emit(Event{Kind: EventCanceled, Direction: Incoming, Info: t.info})
	return nil
}

func (t *IncomingTransfer) fail() {
	t.abort(ReceiverFailed)
}

// abort discards uncommitted sink content and moves to a terminal state
func (t *IncomingTransfer) abort(state ReceiverState) {
	if t.state.Terminal() {
		return
	}

	t.pendingBlock = nil
	if t.sink != nil {
		if err := t.sink.Abort(); err != nil {
			log.Printf("Failed to discard partial %s: %v", t.info.Name, err)
		}
	}
	t.setState(state)
}
