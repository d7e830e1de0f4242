package signalling

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

const defaultGatherTimeout = 30 * time.Second

// WebRTCHandler implements SDPHandler for pion peer connections
type WebRTCHandler struct {
	// GatherTimeout bounds ICE gathering; zero means 30s
	GatherTimeout time.Duration
}

// CreateOffer creates and sets an SDP offer for the peer connection
func (h *WebRTCHandler) CreateOffer(peerConn *webrtc.PeerConnection) (*webrtc.SessionDescription, error) {
	offer, err := peerConn.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}

	if err := peerConn.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	return &offer, nil
}

// CreateAnswer creates and sets an SDP answer for the peer connection
func (h *WebRTCHandler) CreateAnswer(peerConn *webrtc.PeerConnection) (*webrtc.SessionDescription, error) {
	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	if err := peerConn.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	return &answer, nil
}

// WaitForICEGathering waits for ICE gathering to complete
func (h *WebRTCHandler) WaitForICEGathering(ctx context.Context, peerConn *webrtc.PeerConnection) error {
	timeout := h.GatherTimeout
	if timeout <= 0 {
		timeout = defaultGatherTimeout
	}

	select {
	case <-webrtc.GatheringCompletePromise(peerConn):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("ICE gathering did not complete within %s", timeout)
	}
}
