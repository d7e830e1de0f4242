package signalling

import (
	"context"
	"errors"
	"fmt"
	"log"

	"blockdrop/internal/config"
	"blockdrop/pkg/utils"

	"github.com/pion/webrtc/v4"
)

var ErrSessionNotFound = errors.New("session not found")

// SignalingServer defines the interface for signaling storage operations
type SignalingServer interface {
	CreateSession(ctx context.Context, offer string) (sessionID string, err error)
	GetOffer(ctx context.Context, sessionID string) (offer string, err error)
	UpdateAnswer(ctx context.Context, sessionID, answer string) error
	WaitForAnswer(ctx context.Context, sessionID string) (answer string, err error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// SDPHandler defines the interface for WebRTC SDP operations
type SDPHandler interface {
	CreateOffer(peerConn *webrtc.PeerConnection) (*webrtc.SessionDescription, error)
	CreateAnswer(peerConn *webrtc.PeerConnection) (*webrtc.SessionDescription, error)
	WaitForICEGathering(ctx context.Context, peerConn *webrtc.PeerConnection) error
}

// SignalingService runs the offer/answer exchange through a SignalingServer
type SignalingService struct {
	server SignalingServer
	sdp    SDPHandler
}

func NewSignalingService(server SignalingServer, sdp SDPHandler) *SignalingService {
	return &SignalingService{
		server: server,
		sdp:    sdp,
	}
}

func NewDefaultSignalingService(ctx context.Context, cfg *config.Config) (*SignalingService, error) {
	server, err := NewFirebaseClient(ctx, &cfg.Firebase)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase client: %w", err)
	}

	return NewSignalingService(server, &WebRTCHandler{}), nil
}

// StartSenderSignallingProcess publishes the local offer and blocks until the
// receiver answers. onCode is called with the session code as soon as it exists.
func (s *SignalingService) StartSenderSignallingProcess(ctx context.Context, peerConn *webrtc.PeerConnection, onCode func(code string)) (string, error) {
	if _, err := s.sdp.CreateOffer(peerConn); err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}

	encodedOffer, err := s.gatherLocalDescription(ctx, peerConn)
	if err != nil {
		return "", err
	}

	sessionID, err := s.server.CreateSession(ctx, encodedOffer)
	if err != nil {
		return "", fmt.Errorf("failed to create session with offer: %w", err)
	}
	if onCode != nil {
		onCode(sessionID)
	}

	answer, err := s.server.WaitForAnswer(ctx, sessionID)
	if err != nil {
		return sessionID, fmt.Errorf("failed to wait for answer: %w", err)
	}

	answerSD, err := utils.Decode[webrtc.SessionDescription](answer)
	if err != nil {
		return sessionID, fmt.Errorf("failed to decode answer SDP: %w", err)
	}

	if err := peerConn.SetRemoteDescription(answerSD); err != nil {
		return sessionID, fmt.Errorf("failed to set remote description: %w", err)
	}

	log.Printf("Answer received for session %s", sessionID)
	return sessionID, nil
}

// StartReceiverSignallingProcess answers the offer stored under sessionID
func (s *SignalingService) StartReceiverSignallingProcess(ctx context.Context, peerConn *webrtc.PeerConnection, sessionID string) error {
	encodedOffer, err := s.server.GetOffer(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to get offer from session: %w", err)
	}

	offerSD, err := utils.Decode[webrtc.SessionDescription](encodedOffer)
	if err != nil {
		return fmt.Errorf("failed to decode offer SDP: %w", err)
	}

	if err := peerConn.SetRemoteDescription(offerSD); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	if _, err := s.sdp.CreateAnswer(peerConn); err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}

	encodedAnswer, err := s.gatherLocalDescription(ctx, peerConn)
	if err != nil {
		return err
	}

	if err := s.server.UpdateAnswer(ctx, sessionID, encodedAnswer); err != nil {
		return fmt.Errorf("failed to upload answer: %w", err)
	}
	return nil
}

// gatherLocalDescription waits for ICE gathering and encodes the complete local description
func (s *SignalingService) gatherLocalDescription(ctx context.Context, peerConn *webrtc.PeerConnection) (string, error) {
	if err := s.sdp.WaitForICEGathering(ctx, peerConn); err != nil {
		return "", fmt.Errorf("failed to wait for ICE gathering: %w", err)
	}

	local := peerConn.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("local description is nil after ICE gathering")
	}

	encoded, err := utils.Encode(*local)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s SDP: %w", local.Type, err)
	}
	return encoded, nil
}

// ClearSession deletes a session by its ID
func (s *SignalingService) ClearSession(ctx context.Context, sessionID string) error {
	return s.server.DeleteSession(ctx, sessionID)
}
