package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"blockdrop/internal/config"
	"blockdrop/internal/transfer"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

var ErrChannelClosed = errors.New("channel is closed")

// Dispatcher consumes what arrives on a Channel. transfer.Registry implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, peer transfer.PeerID, f transfer.Frame) error
	ReportMalformed(peer transfer.PeerID, err error)
	PeerDisconnected(peer transfer.PeerID)
}

// Channel adapts one ordered WebRTC data channel to the transfer protocol.
// Control messages travel as text, chunks as binary.
type Channel struct {
	ctx         context.Context
	cancel      context.CancelFunc
	config      *config.Config
	peer        transfer.PeerID
	dataChannel *webrtc.DataChannel
	dispatcher  Dispatcher

	// Channel management
	readyCh         chan struct{}
	readyOnce       sync.Once
	bufferControlCh chan struct{}
	doneCh          chan struct{}
	stoppedCh       chan struct{} // closed once queued messages are dispatched

	// Message routing
	incomingMsgCh chan webrtc.DataChannelMessage

	// Serializes writers; the registry sends from several goroutines
	sendMutex sync.Mutex

	// State management
	isClosed   bool
	started    bool
	closeMutex sync.RWMutex

	// Graceful shutdown
	shutdownOnce sync.Once
}

// NewChannel creates a channel for a new remote peer. Frames it receives are
// handed to dispatcher once Start is called.
func NewChannel(ctx context.Context, cfg *config.Config, dispatcher Dispatcher) *Channel {
	ctx, cancel := context.WithCancel(ctx)
	return &Channel{
		ctx:             ctx,
		cancel:          cancel,
		config:          cfg,
		peer:            transfer.PeerID(uuid.NewString()),
		dispatcher:      dispatcher,
		readyCh:         make(chan struct{}),
		bufferControlCh: make(chan struct{}, 1),
		doneCh:          make(chan struct{}),
		stoppedCh:       make(chan struct{}),
		incomingMsgCh:   make(chan webrtc.DataChannelMessage, 2*cfg.Transfer.ChunksPerAck),
	}
}

// Peer returns the identifier the remote end is registered under
func (c *Channel) Peer() transfer.PeerID {
	return c.peer
}

// CreateDataChannel creates the ordered data channel on the offering side
func (c *Channel) CreateDataChannel(peerConn *webrtc.PeerConnection, label string) error {
	ordered := true
	options := &webrtc.DataChannelInit{
		Ordered: &ordered,
	}

	dataChannel, err := peerConn.CreateDataChannel(label, options)
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}

	c.attach(dataChannel)
	return nil
}

// AcceptDataChannel waits for the remote side to open the data channel
func (c *Channel) AcceptDataChannel(peerConn *webrtc.PeerConnection) {
	peerConn.OnDataChannel(func(dataChannel *webrtc.DataChannel) {
		log.Printf("Received data channel: %s-%d", dataChannel.Label(), safeID(dataChannel))
		if !dataChannel.Ordered() {
			log.Printf("Refusing unordered data channel %s", dataChannel.Label())
			_ = dataChannel.Close()
			return
		}
		c.attach(dataChannel)
	})
}

func (c *Channel) attach(dataChannel *webrtc.DataChannel) {
	c.closeMutex.Lock()
	c.dataChannel = dataChannel
	c.closeMutex.Unlock()

	dataChannel.OnOpen(func() {
		log.Printf("Data channel opened: %s-%d (peer %s)", dataChannel.Label(), safeID(dataChannel), c.peer)
		c.readyOnce.Do(func() { close(c.readyCh) })
	})

	dataChannel.OnClose(func() {
		log.Printf("Data channel closed (peer %s)", c.peer)
		c.shutdown()
	})

	dataChannel.OnError(func(err error) {
		log.Printf("Data channel error (peer %s): %v", c.peer, err)
		c.shutdown()
	})

	dataChannel.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case c.incomingMsgCh <- msg:
		case <-c.doneCh:
		}
	})

	dataChannel.SetBufferedAmountLowThreshold(c.config.WebRTC.BufferedAmountLowThreshold)
	dataChannel.OnBufferedAmountLow(func() {
		select {
		case c.bufferControlCh <- struct{}{}:
		default:
		}
	})
}

// WaitReady blocks until the data channel is open
func (c *Channel) WaitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	case <-c.doneCh:
		return ErrChannelClosed
	case <-ctx.Done():
		return fmt.Errorf("cancelled while waiting for channel ready: %w", ctx.Err())
	case <-time.After(c.config.WebRTC.ReadyTimeout):
		return fmt.Errorf("timeout waiting for channel ready")
	}
}

// Start runs the incoming message loop until the channel closes
func (c *Channel) Start() {
	c.closeMutex.Lock()
	defer c.closeMutex.Unlock()

	if c.isClosed || c.started {
		return
	}
	c.started = true
	go c.processIncomingMessages()
}

// processIncomingMessages hands every message to the dispatcher in arrival order.
// Messages that arrived before the close are still dispatched, so a cancel
// sent right before hanging up is not lost.
func (c *Channel) processIncomingMessages() {
	defer c.stop()

	for {
		select {
		case msg := <-c.incomingMsgCh:
			c.handleIncomingMessage(msg)
		case <-c.doneCh:
			c.drainIncomingMessages()
			return
		}
	}
}

func (c *Channel) drainIncomingMessages() {
	for {
		select {
		case msg := <-c.incomingMsgCh:
			c.handleIncomingMessage(msg)
		default:
			return
		}
	}
}

func (c *Channel) handleIncomingMessage(msg webrtc.DataChannelMessage) {
	frame, err := transfer.ParseFrame(msg.IsString, msg.Data)
	if err != nil {
		c.dispatcher.ReportMalformed(c.peer, err)
		return
	}

	// violations are reported to the application as events, the channel stays up
	if err := c.dispatcher.Dispatch(c.ctx, c.peer, frame); err != nil {
		log.Printf("Error handling %s frame from %s: %v", frame.Kind, c.peer, err)
	}
}

// Send writes one frame, waiting for the send buffer to drain when it is full.
func (c *Channel) Send(f transfer.Frame) error {
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	c.closeMutex.RLock()
	dataChannel, closed := c.dataChannel, c.isClosed
	c.closeMutex.RUnlock()
	if closed || dataChannel == nil {
		return ErrChannelClosed
	}

	data, isText, err := f.Encode()
	if err != nil {
		return err
	}

	if err := c.handleFlowControl(dataChannel); err != nil {
		return err
	}

	if isText {
		err = dataChannel.SendText(string(data))
	} else {
		err = dataChannel.Send(data)
	}
	if err != nil {
		return fmt.Errorf("failed to send data: %w", err)
	}
	return nil
}

// handleFlowControl manages WebRTC buffer flow control
func (c *Channel) handleFlowControl(dataChannel *webrtc.DataChannel) error {
	timeout := time.NewTimer(c.config.WebRTC.FlowControlTimeout)
	defer timeout.Stop()

	for dataChannel.BufferedAmount() > c.config.WebRTC.MaxBufferedAmount {
		select {
		case <-c.bufferControlCh:
		case <-c.doneCh:
			return ErrChannelClosed
		case <-c.ctx.Done():
			return fmt.Errorf("channel cancelled during flow control: %w", c.ctx.Err())
		case <-timeout.C:
			return fmt.Errorf("flow control timeout - WebRTC channel may be dead")
		}
	}
	return nil
}

// IsClosed returns whether the channel is closed
func (c *Channel) IsClosed() bool {
	c.closeMutex.RLock()
	defer c.closeMutex.RUnlock()
	return c.isClosed
}

// Done is closed once the channel has shut down and every message received
// before that has been dispatched.
func (c *Channel) Done() <-chan struct{} {
	return c.stoppedCh
}

// Close gracefully closes the data channel. Must not be called from a pion callback.
func (c *Channel) Close() error {
	// unblock OnMessage first, GracefulClose waits for it to return
	c.shutdown()

	c.closeMutex.RLock()
	dataChannel := c.dataChannel
	c.closeMutex.RUnlock()

	if dataChannel != nil && dataChannel.ReadyState() == webrtc.DataChannelStateOpen {
		if err := dataChannel.GracefulClose(); err != nil {
			log.Printf("Error during graceful close: %v", err)
			return fmt.Errorf("failed to close data channel: %w", err)
		}
	}
	return nil
}

// shutdown refuses further sends and wakes every loop. The dispatcher hears
// about the disconnect once the incoming loop has drained.
func (c *Channel) shutdown() {
	c.shutdownOnce.Do(func() {
		c.closeMutex.Lock()
		c.isClosed = true
		started := c.started
		c.closeMutex.Unlock()

		close(c.doneCh)
		if !started {
			c.stop()
		}
	})
}

// stop tells the dispatcher the peer is gone
func (c *Channel) stop() {
	c.cancel()
	c.dispatcher.PeerDisconnected(c.peer)
	close(c.stoppedCh)
}

func safeID(dc *webrtc.DataChannel) uint16 {
	if id := dc.ID(); id != nil {
		return *id
	}
	return 0
}
