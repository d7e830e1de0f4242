package app

import (
	"context"
	"log"
	"sync"
	"time"

	"blockdrop/internal/transfer"
	"blockdrop/internal/transport"
	"blockdrop/internal/ui"

	"golang.org/x/sync/errgroup"
)

// eventPump renders every event on the UI and queues the ones the
// application has to act on. Progress stays on the UI side only. The queue
// is unbounded so a handler never blocks, even when the reader itself is
// calling into the registry.
type eventPump struct {
	ui ui.InteractiveUI

	mu    sync.Mutex
	queue []transfer.Event
	ready chan struct{}
}

func newEventPump(u ui.InteractiveUI) *eventPump {
	return &eventPump{
		ui:    u,
		ready: make(chan struct{}, 1),
	}
}

func (p *eventPump) handle(e transfer.Event) {
	p.ui.HandleEvent(e)
	if e.Kind == transfer.EventProgress {
		return
	}

	p.mu.Lock()
	p.queue = append(p.queue, e)
	p.mu.Unlock()

	select {
	case p.ready <- struct{}{}:
	default:
	}
}

// next pops the oldest queued event
func (p *eventPump) next() (transfer.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 {
		return transfer.Event{}, false
	}
	e := p.queue[0]
	p.queue = p.queue[1:]
	return e, true
}

// supervise runs follow until it returns, failing early when the peer
// connection drops.
func supervise(ctx context.Context, peers *transport.PeerService, follow func(ctx context.Context) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		select {
		case failure := <-peers.Failures():
			return failure
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		defer cancel()
		return follow(gctx)
	})
	return g.Wait()
}

// awaitClose waits for the peer to hang up after the last message was sent
func awaitClose(ctx context.Context, channel *transport.Channel, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-channel.Done():
	case <-timer.C:
		log.Printf("Peer did not close the channel within %s", timeout)
	case <-ctx.Done():
	}
}
