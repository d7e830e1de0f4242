package signalling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

// memoryServer keeps sessions in a map
type memoryServer struct {
	mu       sync.Mutex
	sessions map[string]*Session
	answered chan struct{}
	deleted  []string
}

func newMemoryServer() *memoryServer {
	return &memoryServer{sessions: make(map[string]*Session), answered: make(chan struct{})}
}

func (m *memoryServer) CreateSession(ctx context.Context, offer string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("CODE%04d", len(m.sessions))
	m.sessions[id] = &Session{ID: id, Offer: offer}
	return id, nil
}

func (m *memoryServer) GetOffer(ctx context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}
	return s.Offer, nil
}

func (m *memoryServer) UpdateAnswer(ctx context.Context, sessionID, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.Answer = answer
	close(m.answered)
	return nil
}

func (m *memoryServer) WaitForAnswer(ctx context.Context, sessionID string) (string, error) {
	select {
	case <-m.answered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID].Answer, nil
}

func (m *memoryServer) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	m.deleted = append(m.deleted, sessionID)
	return nil
}

func newPeerConnection(t *testing.T) *webrtc.PeerConnection {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection failed: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

func TestOfferAnswerExchange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	server := newMemoryServer()
	service := NewSignalingService(server, &WebRTCHandler{GatherTimeout: 10 * time.Second})

	sender := newPeerConnection(t)
	receiver := newPeerConnection(t)
	if _, err := sender.CreateDataChannel("blockdrop", nil); err != nil {
		t.Fatalf("CreateDataChannel failed: %v", err)
	}

	codes := make(chan string, 1)
	result := make(chan error, 1)
	go func() {
		_, err := service.StartSenderSignallingProcess(ctx, sender, func(code string) { codes <- code })
		result <- err
	}()

	var code string
	select {
	case code = <-codes:
	case <-ctx.Done():
		t.Fatal("timed out waiting for a session code")
	}

	if err := service.StartReceiverSignallingProcess(ctx, receiver, code); err != nil {
		t.Fatalf("receiver signalling failed: %v", err)
	}
	if err := <-result; err != nil {
		t.Fatalf("sender signalling failed: %v", err)
	}

	if sender.RemoteDescription() == nil || sender.RemoteDescription().Type != webrtc.SDPTypeAnswer {
		t.Fatalf("sender remote description got=%v want answer", sender.RemoteDescription())
	}
	if receiver.RemoteDescription() == nil || receiver.RemoteDescription().Type != webrtc.SDPTypeOffer {
		t.Fatalf("receiver remote description got=%v want offer", receiver.RemoteDescription())
	}

	if err := service.ClearSession(ctx, code); err != nil {
		t.Fatalf("ClearSession failed: %v", err)
	}
	if len(server.deleted) != 1 || server.deleted[0] != code {
		t.Fatalf("deleted sessions got=%v want [%s]", server.deleted, code)
	}
}

func TestReceiverUnknownSession(t *testing.T) {
	service := NewSignalingService(newMemoryServer(), &WebRTCHandler{})

	err := service.StartReceiverSignallingProcess(context.Background(), newPeerConnection(t), "NOPE1234")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("got=%v want=%v", err, ErrSessionNotFound)
	}
}

func TestWaitForICEGatheringHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// gathering never starts without a local description
	err := (&WebRTCHandler{}).WaitForICEGathering(ctx, newPeerConnection(t))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got=%v want=%v", err, context.Canceled)
	}
}
