package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"blockdrop/internal/config"
	"blockdrop/internal/transfer"
	"blockdrop/internal/transport"

	"github.com/pion/webrtc/v4"
)

// memorySignaller swaps complete session descriptions in process
type memorySignaller struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	cleared  []string
}

type memorySession struct {
	offer  webrtc.SessionDescription
	answer chan webrtc.SessionDescription
}

func newMemorySignaller() *memorySignaller {
	return &memorySignaller{sessions: make(map[string]*memorySession)}
}

func gatherComplete(ctx context.Context, pc *webrtc.PeerConnection) (webrtc.SessionDescription, error) {
	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
	return *pc.LocalDescription(), nil
}

func (m *memorySignaller) StartSenderSignallingProcess(ctx context.Context, pc *webrtc.PeerConnection, onCode func(string)) (string, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	local, err := gatherComplete(ctx, pc)
	if err != nil {
		return "", err
	}

	const code = "TESTCODE"
	session := &memorySession{offer: local, answer: make(chan webrtc.SessionDescription, 1)}
	m.mu.Lock()
	m.sessions[code] = session
	m.mu.Unlock()
	onCode(code)

	select {
	case answer := <-session.answer:
		return code, pc.SetRemoteDescription(answer)
	case <-ctx.Done():
		return code, ctx.Err()
	}
}

func (m *memorySignaller) StartReceiverSignallingProcess(ctx context.Context, pc *webrtc.PeerConnection, code string) error {
	m.mu.Lock()
	session, ok := m.sessions[code]
	m.mu.Unlock()
	if !ok {
		return errors.New("no such session")
	}

	if err := pc.SetRemoteDescription(session.offer); err != nil {
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}
	local, err := gatherComplete(ctx, pc)
	if err != nil {
		return err
	}
	session.answer <- local
	return nil
}

func (m *memorySignaller) ClearSession(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, code)
	return nil
}

// scriptedUI hands the sender's code to the receiver and answers offers
type scriptedUI struct {
	codes  chan string
	accept bool

	mu     sync.Mutex
	events []transfer.Event
}

func (u *scriptedUI) ShowMessage(string) {}

func (u *scriptedUI) ShowCode(code string) { u.codes <- code }

func (u *scriptedUI) InputCode(ctx context.Context) (string, error) {
	select {
	case code := <-u.codes:
		return code, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (u *scriptedUI) ConfirmOffer(context.Context, transfer.FileInfo) (bool, error) {
	return u.accept, nil
}

func (u *scriptedUI) HandleEvent(e transfer.Event) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, e)
}

func (u *scriptedUI) count(kind transfer.EventKind) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, e := range u.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func loopbackConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.WebRTC.ICEServers = nil
	cfg.WebRTC.IncludeLoopback = true
	cfg.WebRTC.ReadyTimeout = 10 * time.Second
	cfg.Transfer.CloseTimeout = 2 * time.Second
	return cfg
}

type runResult struct {
	sendErr, recvErr error
	sender, receiver *scriptedUI
	signaller        *memorySignaller
}

func runPair(t *testing.T, filePath, dstDir string, accept bool) runResult {
	t.Helper()
	if testing.Short() {
		t.Skip("opens real peer connections")
	}

	cfg := loopbackConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	codes := make(chan string, 1)
	res := runResult{
		sender:    &scriptedUI{codes: codes},
		receiver:  &scriptedUI{codes: codes, accept: accept},
		signaller: newMemorySignaller(),
	}

	sender := NewSenderApp(cfg, transport.NewPeerService(cfg), res.signaller, res.sender)
	receiver := NewReceiverApp(cfg, transport.NewPeerService(cfg), res.signaller, res.receiver)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		res.sendErr = sender.Run(ctx, &SenderOptions{FilePath: filePath})
	}()
	go func() {
		defer wg.Done()
		res.recvErr = receiver.Run(ctx, &ReceiverOptions{DestPath: dstDir})
	}()
	wg.Wait()
	return res
}

func TestSendAndReceiveFile(t *testing.T) {
	data := make([]byte, 3*transfer.DefaultChunksPerAck*transfer.DefaultChunkSize/2+123)
	for i := range data {
		data[i] = byte(i * 7)
	}
	src := filepath.Join(t.TempDir(), "archive.tar")
	if err := os.WriteFile(src, data, 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	dst := t.TempDir()

	res := runPair(t, src, dst, true)
	if res.sendErr != nil || res.recvErr != nil {
		t.Fatalf("run failed: send=%v receive=%v", res.sendErr, res.recvErr)
	}

	got, err := os.ReadFile(filepath.Join(dst, "archive.tar"))
	if err != nil {
		t.Fatalf("read received file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("received got=%d bytes want=%d", len(got), len(data))
	}
	if n := res.sender.count(transfer.EventFileSent); n != 1 {
		t.Fatalf("file_sent events got=%d want=1", n)
	}
	if n := res.receiver.count(transfer.EventFileReceived); n != 1 {
		t.Fatalf("file_received events got=%d want=1", n)
	}
	if len(res.signaller.cleared) == 0 {
		t.Fatal("session was not cleared")
	}
}

func TestReceiverDeclines(t *testing.T) {
	src := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(src, []byte("not for you"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	dst := t.TempDir()

	res := runPair(t, src, dst, false)
	if !errors.Is(res.sendErr, ErrRejected) {
		t.Fatalf("sender got=%v want=%v", res.sendErr, ErrRejected)
	}
	if res.recvErr != nil {
		t.Fatalf("receiver got=%v want nil", res.recvErr)
	}

	entries, err := os.ReadDir(dst)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("destination has %d entries after decline", len(entries))
	}
}

func TestRunRequiresPaths(t *testing.T) {
	cfg := loopbackConfig()
	u := &scriptedUI{codes: make(chan string, 1)}

	if err := NewSenderApp(cfg, transport.NewPeerService(cfg), newMemorySignaller(), u).Run(context.Background(), &SenderOptions{}); err == nil {
		t.Fatal("sender without a file path should fail")
	}
	if err := NewReceiverApp(cfg, transport.NewPeerService(cfg), newMemorySignaller(), u).Run(context.Background(), &ReceiverOptions{}); err == nil {
		t.Fatal("receiver without a destination should fail")
	}
}

func TestEventPumpForwardsOutcomesOnly(t *testing.T) {
	u := &scriptedUI{}
	pump := newEventPump(u)

	pump.handle(transfer.Event{Kind: transfer.EventProgress, Progress: 0.5})
	pump.handle(transfer.Event{Kind: transfer.EventFileSent})

	select {
	case <-pump.ready:
	default:
		t.Fatal("ready not signalled")
	}
	e, ok := pump.next()
	if !ok || e.Kind != transfer.EventFileSent {
		t.Fatalf("next got=%v,%v want file_sent", e.Kind, ok)
	}
	if _, ok := pump.next(); ok {
		t.Fatal("progress event was forwarded")
	}
	if n := u.count(transfer.EventProgress); n != 1 {
		t.Fatalf("ui progress events got=%d want=1", n)
	}
}

// discardChannel accepts every frame
type discardChannel struct{}

func (discardChannel) Send(transfer.Frame) error { return nil }

type bytesSource struct {
	*bytes.Reader
}

func (bytesSource) Name() string       { return "queued.bin" }
func (bytesSource) MimeType() string   { return "application/octet-stream" }
func (bytesSource) ModTime() time.Time { return time.Unix(1700000000, 0) }

func TestEventPumpNeverBlocksItsReader(t *testing.T) {
	pump := newEventPump(&scriptedUI{})
	registry := transfer.NewRegistry(transfer.Options{OnEvent: pump.handle})
	const peer transfer.PeerID = "receiver"
	if err := registry.Attach(peer, discardChannel{}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	// the reader has fallen behind and now calls into the registry itself
	done := make(chan error, 1)
	go func() {
		for i := 0; i < 100; i++ {
			pump.handle(transfer.Event{Kind: transfer.EventUnknownMessage})
		}
		if err := registry.StartSend(peer, bytesSource{bytes.NewReader(make([]byte, 1000))}); err != nil {
			done <- err
			return
		}
		done <- registry.CancelSend(peer)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("registry call failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reader blocked on its own event queue")
	}

	n := 0
	var last transfer.Event
	for e, ok := pump.next(); ok; e, ok = pump.next() {
		n++
		last = e
	}
	if n != 101 || last.Kind != transfer.EventCanceled {
		t.Fatalf("queued events got=%d last=%s, want 101 ending in canceled", n, last.Kind)
	}
}

func TestOutcomes(t *testing.T) {
	failure := errors.New("disk full")
	tests := []struct {
		kind     transfer.EventKind
		sender   error
		receiver error
		done     bool
	}{
		{transfer.EventFileSent, nil, nil, true},
		{transfer.EventRejected, ErrRejected, nil, true},
		{transfer.EventCanceled, ErrCanceled, ErrCanceled, true},
		{transfer.EventFailed, failure, failure, true},
		{transfer.EventUnknownMessage, nil, nil, false},
	}
	for _, tt := range tests {
		e := transfer.Event{Kind: tt.kind, Err: failure}

		done, err := senderOutcome(e)
		if done != tt.done || !errors.Is(err, tt.sender) {
			t.Fatalf("senderOutcome(%s) got=%v,%v want=%v,%v", tt.kind, done, err, tt.done, tt.sender)
		}
		if tt.kind == transfer.EventFileSent || tt.kind == transfer.EventRejected {
			continue
		}
		done, err = receiverOutcome(e)
		if done != tt.done || !errors.Is(err, tt.receiver) {
			t.Fatalf("receiverOutcome(%s) got=%v,%v want=%v,%v", tt.kind, done, err, tt.done, tt.receiver)
		}
	}

	if done, err := receiverOutcome(transfer.Event{Kind: transfer.EventFileReceived}); !done || err != nil {
		t.Fatalf("receiverOutcome(file_received) got=%v,%v want=true,nil", done, err)
	}
}
