package transfer

import (
	"errors"
	"fmt"
)

var (
	ErrBusy               = errors.New("a transfer with this peer is already in flight")
	ErrNoTransfer         = errors.New("no transfer with this peer")
	ErrUnknownPeer        = errors.New("peer is not attached")
	ErrPeerAttached       = errors.New("peer is already attached")
	ErrInvalidState       = errors.New("operation not allowed in current state")
	ErrBlockOutOfRange    = errors.New("block request outside of file")
	ErrChunkCountMismatch = errors.New("chunk count does not match file size")
	ErrUnexpectedChunk    = errors.New("unexpected chunk")
	ErrChunkSize          = errors.New("chunk has wrong length")
	ErrInvalidBlockSize   = errors.New("invalid block size")
	ErrMalformedMessage   = errors.New("malformed control message")
	ErrRegistryClosed     = errors.New("registry is closed")
)

// ProtocolError reports a message from a peer that the current state cannot accept.
// The affected transfer is aborted; the session with the peer survives.
type ProtocolError struct {
	Peer PeerID
	Op   string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation from %s on %s: %v", e.Peer, e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func violation(peer PeerID, op string, err error) *ProtocolError {
	return &ProtocolError{Peer: peer, Op: op, Err: err}
}
