package transfer

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

var errPipeClosed = errors.New("pipe closed")

type memSource struct {
	*bytes.Reader
	name string
	data []byte
}

func newMemSource(name string, size int) *memSource {
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	return &memSource{Reader: bytes.NewReader(data), name: name, data: data}
}

func (s *memSource) Name() string       { return s.name }
func (s *memSource) MimeType() string   { return "application/octet-stream" }
func (s *memSource) ModTime() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

type memSink struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	appends   int
	saved     bool
	aborted   bool
	appendErr error
	saveErr   error
}

func (s *memSink) Append(ctx context.Context, block []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appends++
	s.buf.Write(block)
	return nil
}

func (s *memSink) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = true
	return nil
}

func (s *memSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	return nil
}

func (s *memSink) snapshot() (data []byte, appends int, saved, aborted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.buf.Bytes()), s.appends, s.saved, s.aborted
}

// sinkPool hands out memSinks and remembers them per file name
type sinkPool struct {
	mu        sync.Mutex
	sinks     map[string]*memSink
	appendErr error
}

func newSinkPool() *sinkPool {
	return &sinkPool{sinks: make(map[string]*memSink)}
}

func (p *sinkPool) allocate(ctx context.Context, info FileInfo) (Sink, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &memSink{appendErr: p.appendErr}
	p.sinks[info.Name] = s
	return s, nil
}

func (p *sinkPool) get(name string) *memSink {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sinks[name]
}

// recordChannel keeps every frame sent through it
type recordChannel struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (c *recordChannel) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *recordChannel) take() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := c.frames
	c.frames = nil
	return frames
}

func countFrames(frames []Frame, kind FrameKind, msgType MessageType) int {
	n := 0
	for _, f := range frames {
		if f.Kind != kind {
			continue
		}
		if kind == FrameControl && f.Message.Type != msgType {
			continue
		}
		n++
	}
	return n
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) kind(k EventKind) []Event {
	var out []Event
	for _, e := range r.all() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) progress(peer PeerID, dir Direction) []float64 {
	var out []float64
	for _, e := range r.kind(EventProgress) {
		if e.Peer == peer && e.Direction == dir {
			out = append(out, e.Progress)
		}
	}
	return out
}

// wait blocks until an event of kind k for peer has been recorded
func (r *recorder) wait(t *testing.T, k EventKind, peer PeerID) Event {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range r.kind(k) {
			if e.Peer == peer {
				return e
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s event from %s; got %v", k, peer, r.all())
	return Event{}
}

// pipeEnd delivers frames, in order, to the registry on the other side.
type pipeEnd struct {
	target *Registry
	from   PeerID

	mu     sync.Mutex
	queue  []Frame
	sent   []Frame
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newPipeEnd(target *Registry, from PeerID) *pipeEnd {
	return &pipeEnd{
		target: target,
		from:   from,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (p *pipeEnd) Send(f Frame) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errPipeClosed
	}
	f.Data = bytes.Clone(f.Data)
	p.queue = append(p.queue, f)
	p.sent = append(p.sent, f)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *pipeEnd) sentFrames() []Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Frame(nil), p.sent...)
}

func (p *pipeEnd) run(ctx context.Context) {
	defer close(p.done)
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-p.wake:
			case <-ctx.Done():
				return
			}
			continue
		}
		f := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		_ = p.target.Dispatch(ctx, p.from, f)
	}
}

func (p *pipeEnd) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// connect attaches a and b to each other as peers aID and bID and starts delivery.
func connect(t *testing.T, a *Registry, aID PeerID, b *Registry, bID PeerID) (aToB, bToA *pipeEnd) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	aToB = newPipeEnd(b, aID)
	bToA = newPipeEnd(a, bID)
	if err := a.Attach(bID, aToB); err != nil {
		t.Fatalf("attach %s on a: %v", bID, err)
	}
	if err := b.Attach(aID, bToA); err != nil {
		t.Fatalf("attach %s on b: %v", aID, err)
	}

	go aToB.run(ctx)
	go bToA.run(ctx)
	t.Cleanup(func() {
		aToB.close()
		bToA.close()
		cancel()
		<-aToB.done
		<-bToA.done
	})
	return aToB, bToA
}

func assertIncreasingToOne(t *testing.T, name string, values []float64) {
	t.Helper()
	if len(values) == 0 {
		t.Fatalf("%s: no progress reported", name)
	}
	for i := 1; i < len(values); i++ {
		if values[i] <= values[i-1] {
			t.Fatalf("%s: progress not strictly increasing at %d: %v <= %v", name, i, values[i], values[i-1])
		}
	}
	if last := values[len(values)-1]; last != 1.0 {
		t.Fatalf("%s: last progress = %v, want 1.0", name, last)
	}
}
