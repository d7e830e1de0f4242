package transport

import (
	"errors"
	"fmt"
	"log"

	"blockdrop/internal/config"

	"github.com/pion/webrtc/v4"
)

var ErrConnectionLost = errors.New("peer connection lost")

// ConnectionFailureError reports the state a peer connection ended in
type ConnectionFailureError struct {
	State webrtc.PeerConnectionState
	Role  string
}

func (e *ConnectionFailureError) Error() string {
	return fmt.Sprintf("connection %s for %s", e.State.String(), e.Role)
}

func (e *ConnectionFailureError) Unwrap() error {
	return ErrConnectionLost
}

// PeerService manages WebRTC peer connection lifecycle
type PeerService struct {
	config      *config.Config
	failureChan chan *ConnectionFailureError
}

// NewPeerService creates a new peer service with the given configuration
func NewPeerService(cfg *config.Config) *PeerService {
	return &PeerService{
		config:      cfg,
		failureChan: make(chan *ConnectionFailureError, 1),
	}
}

// CreatePeerConnection creates a new peer connection with the configured ICE servers
func (p *PeerService) CreatePeerConnection() (*webrtc.PeerConnection, error) {
	settings := webrtc.SettingEngine{}
	settings.SetIncludeLoopbackCandidate(p.config.WebRTC.IncludeLoopback)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settings))

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: p.config.WebRTC.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return pc, nil
}

// WatchConnectionState reports failed and closed connections on Failures.
// role only labels log lines.
func (p *PeerService) WatchConnectionState(peerConn *webrtc.PeerConnection, role string) {
	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.handleConnectionStateChange(state, role)
	})
}

// Failures receives at most one connection failure
func (p *PeerService) Failures() <-chan *ConnectionFailureError {
	return p.failureChan
}

// Close closes the peer connection
func (p *PeerService) Close(peerConn *webrtc.PeerConnection) error {
	if peerConn == nil {
		return nil
	}
	if err := peerConn.Close(); err != nil {
		return fmt.Errorf("failed to close peer connection: %w", err)
	}
	return nil
}

func (p *PeerService) handleConnectionStateChange(state webrtc.PeerConnectionState, role string) {
	log.Printf("Peer connection state has changed: %s (%s)", state.String(), role)

	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		select {
		case p.failureChan <- &ConnectionFailureError{State: state, Role: role}:
		default:
		}
	}
}
