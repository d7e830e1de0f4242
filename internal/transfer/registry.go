package transfer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// Options configures a Registry
type Options struct {
	ChunkSize    int
	ChunksPerAck int

	// Allocate creates the sink for an accepted offer
	Allocate SinkAllocator

	// OnEvent receives every transfer event. It may be nil.
	OnEvent EventHandler
}

// peerSession holds the transfers in flight with one peer. mu serializes
// everything that touches them, which keeps per-peer message order.
type peerSession struct {
	mu       sync.Mutex
	channel  Channel
	outgoing *OutgoingTransfer
	incoming *IncomingTransfer
	detached bool

	// set once a receiving transfer ends early; chunks still in flight
	// from the sender are dropped until the next offer
	discardChunks bool
}

// Registry maps peers to at most one outgoing and one incoming transfer and
// routes channel frames to them. Different peers are handled concurrently.
type Registry struct {
	opts Options

	mu     sync.RWMutex
	peers  map[PeerID]*peerSession
	closed bool
}

// NewRegistry creates a registry. Zero chunk settings fall back to the protocol defaults.
func NewRegistry(opts Options) *Registry {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunksPerAck <= 0 {
		opts.ChunksPerAck = DefaultChunksPerAck
	}

	return &Registry{
		opts:  opts,
		peers: make(map[PeerID]*peerSession),
	}
}

// Attach registers the channel to a peer. Transfers can only be started with attached peers.
func (r *Registry) Attach(peer PeerID, ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, ok := r.peers[peer]; ok {
		return fmt.Errorf("attach %s: %w", peer, ErrPeerAttached)
	}

	r.peers[peer] = &peerSession{channel: ch}
	log.Printf("Peer attached: %s", peer)
	return nil
}

// StartSend offers src to peer. Chunks flow once the peer accepts.
func (r *Registry) StartSend(peer PeerID, src Source) error {
	return r.withSession(peer, func(s *peerSession, emit func(Event)) error {
		if s.outgoing != nil {
			return fmt.Errorf("send to %s: %w", peer, ErrBusy)
		}

		out, err := newOutgoingTransfer(peer, s.channel, src, r.opts.ChunkSize, r.opts.ChunksPerAck)
		if err != nil {
			return err
		}
		if err := out.offer(); err != nil {
			return err
		}

		s.outgoing = out
		return nil
	})
}

// Accept allocates a sink for the pending offer from peer and tells the sender to start.
func (r *Registry) Accept(ctx context.Context, peer PeerID) error {
	if r.opts.Allocate == nil {
		return errors.New("registry has no sink allocator")
	}

	return r.withSession(peer, func(s *peerSession, emit func(Event)) error {
		if s.incoming == nil {
			return fmt.Errorf("accept from %s: %w", peer, ErrNoTransfer)
		}
		return r.settleIncoming(s, s.incoming.accept(ctx, r.opts.Allocate, emit), emit)
	})
}

// Reject declines the pending offer from peer
func (r *Registry) Reject(peer PeerID) error {
	return r.withSession(peer, func(s *peerSession, emit func(Event)) error {
		if s.incoming == nil {
			return fmt.Errorf("reject from %s: %w", peer, ErrNoTransfer)
		}
		return r.settleIncoming(s, s.incoming.reject(), emit)
	})
}

// CancelSend aborts the outgoing transfer to peer and tells the receiver.
func (r *Registry) CancelSend(peer PeerID) error {
	return r.withSession(peer, func(s *peerSession, emit func(Event)) error {
		if s.outgoing == nil {
			return fmt.Errorf("cancel send to %s: %w", peer, ErrNoTransfer)
		}
		return r.settleOutgoing(s, s.outgoing.cancel(emit), emit)
	})
}

// CancelReceive stops the incoming transfer from peer. The sink is discarded
// and no further blocks are requested.
func (r *Registry) CancelReceive(peer PeerID) error {
	return r.withSession(peer, func(s *peerSession, emit func(Event)) error {
		if s.incoming == nil {
			return fmt.Errorf("cancel receive from %s: %w", peer, ErrNoTransfer)
		}
		return r.settleIncoming(s, s.incoming.cancel(emit), emit)
	})
}

// Dispatch routes one inbound frame from peer. Frames of one peer must be
// dispatched in channel order, one at a time.
func (r *Registry) Dispatch(ctx context.Context, peer PeerID, f Frame) error {
	return r.withSession(peer, func(s *peerSession, emit func(Event)) error {
		switch f.Kind {
		case FrameBinary:
			if s.incoming == nil && s.discardChunks {
				return nil
			}
			if s.incoming == nil {
				return r.abortOnViolation(s, peer, Incoming, violation(peer, "chunk", ErrNoTransfer), emit)
			}
			return r.settleIncoming(s, s.incoming.handleChunk(ctx, f.Data, emit), emit)
		case FrameControl:
			return r.dispatchControl(s, peer, f.Message, emit)
		default:
			return r.abortOnViolation(s, peer, 0, violation(peer, "frame", fmt.Errorf("unknown frame kind %d", f.Kind)), emit)
		}
	})
}

func (r *Registry) dispatchControl(s *peerSession, peer PeerID, m Message, emit func(Event)) error {
	switch m.Type {
	case MsgInfo:
		return r.handleOffer(s, peer, m, emit)

	case MsgResponse:
		accepted, err := m.DecodeResponse()
		if err != nil {
			return r.abortOnViolation(s, peer, Outgoing, violation(peer, string(m.Type), err), emit)
		}
		if s.outgoing == nil {
			return r.abortOnViolation(s, peer, Outgoing, violation(peer, string(m.Type), ErrNoTransfer), emit)
		}
		return r.settleOutgoing(s, s.outgoing.handleResponse(accepted, emit), emit)

	case MsgCancel:
		if s.incoming == nil {
			return r.abortOnViolation(s, peer, Incoming, violation(peer, string(m.Type), ErrNoTransfer), emit)
		}
		return r.settleIncoming(s, s.incoming.handleCancel(emit), emit)

	case MsgBlockRequest:
		begin, err := m.DecodeBlockRequest()
		if err != nil {
			return r.abortOnViolation(s, peer, Outgoing, violation(peer, string(m.Type), err), emit)
		}
		if s.outgoing == nil {
			return r.abortOnViolation(s, peer, Outgoing, violation(peer, string(m.Type), ErrNoTransfer), emit)
		}
		return r.settleOutgoing(s, s.outgoing.handleBlockRequest(begin, emit), emit)

	default:
		log.Printf("Unknown message from %s: %q", peer, m.Type)
		emit(Event{Kind: EventUnknownMessage, Message: m})
		return nil
	}
}

// handleOffer starts an incoming transfer. An offer while another one is in
// flight aborts the live transfer and declines the new one.
func (r *Registry) handleOffer(s *peerSession, peer PeerID, m Message, emit func(Event)) error {
	info, err := m.DecodeInfo()
	if err == nil && s.incoming != nil {
		err = fmt.Errorf("offer %q while %q is in flight: %w", info.Name, s.incoming.info.Name, ErrBusy)
	}
	if err == nil {
		err = info.Validate(r.opts.ChunkSize)
	}
	if err != nil {
		if sendErr := s.channel.Send(ControlFrame(NewResponseMessage(false))); sendErr != nil {
			log.Printf("Failed to decline offer from %s: %v", peer, sendErr)
		}
		return r.abortOnViolation(s, peer, Incoming, violation(peer, string(m.Type), err), emit)
	}

	// blocks follow the sender's pacing, whatever is configured here
	s.incoming = newIncomingTransfer(peer, s.channel, info, r.opts.ChunkSize, info.BlockSize())
	s.discardChunks = false
	emit(Event{Kind: EventOffer, Direction: Incoming, Info: info})
	return nil
}

// abortOnViolation reports a protocol violation and aborts the transfer it affects, if any.
func (r *Registry) abortOnViolation(s *peerSession, peer PeerID, dir Direction, pe *ProtocolError, emit func(Event)) error {
	log.Printf("Protocol violation: %v", pe)

	ev := Event{Kind: EventProtocolError, Direction: dir, Err: pe}
	switch dir {
	case Incoming:
		if s.incoming != nil {
			ev.Info = s.incoming.info
			s.discardChunks = s.incoming.state == ReceiverReceiving
			s.incoming.abort(ReceiverCanceled)
			s.incoming = nil
		}
	case Outgoing:
		if s.outgoing != nil {
			ev.Info = s.outgoing.info
			s.outgoing.abort(true)
			s.outgoing = nil
		}
	}

	emit(ev)
	return pe
}

// settleIncoming classifies the result of an incoming transition and drops
// the transfer once it is terminal.
func (r *Registry) settleIncoming(s *peerSession, err error, emit func(Event)) error {
	in := s.incoming

	var pe *ProtocolError
	switch {
	case errors.As(err, &pe):
		return r.abortOnViolation(s, in.peer, Incoming, pe, emit)
	case err != nil && in.state == ReceiverFailed:
		emit(Event{Kind: EventFailed, Direction: Incoming, Info: in.info, Err: err})
	}

	if in.state.Terminal() {
		s.discardChunks = in.received < in.info.ChunksTotal && in.sink != nil
		s.incoming = nil
	}
	return err
}

// settleOutgoing is the outgoing counterpart of settleIncoming
func (r *Registry) settleOutgoing(s *peerSession, err error, emit func(Event)) error {
	out := s.outgoing

	var pe *ProtocolError
	switch {
	case errors.As(err, &pe):
		return r.abortOnViolation(s, out.peer, Outgoing, pe, emit)
	case err != nil && out.state == SenderFailed:
		emit(Event{Kind: EventFailed, Direction: Outgoing, Info: out.info, Err: err})
	}

	if out.state.Terminal() {
		s.outgoing = nil
	}
	return err
}

// ReportMalformed reports a channel message that could not be parsed into a frame.
func (r *Registry) ReportMalformed(peer PeerID, err error) {
	log.Printf("Malformed message from %s: %v", peer, err)
	r.publish([]Event{{Kind: EventProtocolError, Peer: peer, Err: violation(peer, "decode", err)}})
}

// PeerDisconnected drops both transfers with peer without completing them.
// Partially received content is discarded, never saved.
func (r *Registry) PeerDisconnected(peer PeerID) {
	r.mu.Lock()
	s, ok := r.peers[peer]
	delete(r.peers, peer)
	r.mu.Unlock()

	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.detached = true
	if s.incoming != nil {
		s.incoming.abort(ReceiverCanceled)
		s.incoming = nil
	}
	if s.outgoing != nil {
		s.outgoing.abort(false)
		s.outgoing = nil
	}
	log.Printf("Peer detached: %s", peer)
}

// Close detaches every peer. The registry cannot be used afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	peers := make([]PeerID, 0, len(r.peers))
	for peer := range r.peers {
		peers = append(peers, peer)
	}
	r.mu.Unlock()

	for _, peer := range peers {
		r.PeerDisconnected(peer)
	}
}

// OutgoingState returns the state of the transfer in flight to peer
func (r *Registry) OutgoingState(peer PeerID) (SenderState, bool) {
	var state SenderState
	var ok bool
	r.inspect(peer, func(s *peerSession) {
		if s.outgoing != nil {
			state, ok = s.outgoing.state, true
		}
	})
	return state, ok
}

// IncomingState returns the state of the transfer in flight from peer
func (r *Registry) IncomingState(peer PeerID) (ReceiverState, bool) {
	var state ReceiverState
	var ok bool
	r.inspect(peer, func(s *peerSession) {
		if s.incoming != nil {
			state, ok = s.incoming.state, true
		}
	})
	return state, ok
}

func (r *Registry) inspect(peer PeerID, fn func(s *peerSession)) {
	r.mu.RLock()
	s, ok := r.peers[peer]
	r.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// withSession runs fn under the peer's lock and publishes the events it
// emitted once the lock is released.
func (r *Registry) withSession(peer PeerID, fn func(s *peerSession, emit func(Event)) error) error {
	r.mu.RLock()
	s, ok := r.peers[peer]
	closed := r.closed
	r.mu.RUnlock()

	if closed {
		return ErrRegistryClosed
	}
	if !ok {
		return fmt.Errorf("%s: %w", peer, ErrUnknownPeer)
	}

	var events []Event
	emit := func(e Event) {
		e.Peer = peer
		events = append(events, e)
	}

	s.mu.Lock()
	var err error
	if s.detached {
		err = fmt.Errorf("%s: %w", peer, ErrUnknownPeer)
	} else {
		err = fn(s, emit)
	}
	s.mu.Unlock()

	r.publish(events)
	return err
}

func (r *Registry) publish(events []Event) {
	if r.opts.OnEvent == nil {
		return
	}
	for _, e := range events {
		r.opts.OnEvent(e)
	}
}
