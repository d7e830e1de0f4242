package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"blockdrop/internal/config"
	"blockdrop/internal/processor"
	"blockdrop/internal/transfer"
	"blockdrop/internal/transport"
	"blockdrop/internal/ui"
	"blockdrop/pkg/utils"

	"github.com/pion/webrtc/v4"
)

const dataChannelLabel = "blockdrop"

var (
	ErrRejected      = errors.New("receiver declined the file")
	ErrAcceptTimeout = errors.New("receiver did not answer the offer in time")
	ErrCanceled      = errors.New("transfer canceled by peer")
	ErrPeerGone      = errors.New("peer closed the channel before the transfer finished")
)

// SenderOptions configures the sender application behavior
type SenderOptions struct {
	FilePath string // Required: path to the file to send
}

// SenderApp offers one file to one receiver
type SenderApp struct {
	config      *config.Config
	peerService *transport.PeerService
	signaller   Signaller
	files       *processor.FileService
	ui          ui.InteractiveUI
}

// NewSenderApp creates a new sender application
func NewSenderApp(cfg *config.Config, peerService *transport.PeerService, signaller Signaller, u ui.InteractiveUI) *SenderApp {
	return &SenderApp{
		config:      cfg,
		peerService: peerService,
		signaller:   signaller,
		files:       processor.NewFileService(),
		ui:          u,
	}
}

// Run sends opts.FilePath and returns once the receiver has it, declined it,
// or the transfer failed.
func (s *SenderApp) Run(ctx context.Context, opts *SenderOptions) error {
	if opts.FilePath == "" {
		return fmt.Errorf("file path is required")
	}

	src, err := s.files.OpenSource(opts.FilePath, s.config.Transfer.Checksum)
	if err != nil {
		return err
	}
	defer src.Close()

	log.Printf("Preparing to send file: %s (%s)", src.Name(), utils.FormatFileSize(src.Size()))

	peerConn, err := s.peerService.CreatePeerConnection()
	if err != nil {
		return err
	}
	s.peerService.WatchConnectionState(peerConn, "sender")

	pump := newEventPump(s.ui)

	registry := transfer.NewRegistry(transfer.Options{
		ChunkSize:    s.config.Transfer.ChunkSize,
		ChunksPerAck: s.config.Transfer.ChunksPerAck,
		OnEvent:      pump.handle,
	})
	defer registry.Close()

	// the channel has to exist before the offer is created
	channel := transport.NewChannel(ctx, s.config, registry)
	if err := channel.CreateDataChannel(peerConn, dataChannelLabel); err != nil {
		s.closePeer(peerConn)
		return err
	}

	var code string
	cleanup := func() {
		if err := channel.Close(); err != nil {
			log.Printf("Error closing data channel: %v", err)
		}
		s.closePeer(peerConn)
		if code != "" {
			if err := s.signaller.ClearSession(context.WithoutCancel(ctx), code); err != nil {
				log.Printf("Warning: Failed to clear session: %v", err)
			}
		}
	}
	defer cleanup()

	code, err = s.signaller.StartSenderSignallingProcess(ctx, peerConn, s.ui.ShowCode)
	if err != nil {
		return fmt.Errorf("failed during signalling process: %w", err)
	}

	if err := channel.WaitReady(ctx); err != nil {
		return fmt.Errorf("data channel did not open: %w", err)
	}

	peer := channel.Peer()
	if err := registry.Attach(peer, channel); err != nil {
		return err
	}
	channel.Start()

	if err := registry.StartSend(peer, src); err != nil {
		return fmt.Errorf("failed to offer file: %w", err)
	}
	s.ui.ShowMessage(fmt.Sprintf("Waiting for the receiver to accept %s...", src.Name()))

	return supervise(ctx, s.peerService, func(ctx context.Context) error {
		return s.follow(ctx, registry, channel, pump)
	})
}

func (s *SenderApp) follow(ctx context.Context, registry *transfer.Registry, channel *transport.Channel, pump *eventPump) error {
	peer := channel.Peer()

	acceptTimer := time.NewTimer(s.config.Transfer.AcceptTimeout)
	defer acceptTimer.Stop()

	for {
		select {
		case <-pump.ready:
			for e, ok := pump.next(); ok; e, ok = pump.next() {
				if e.Kind == transfer.EventResponse {
					acceptTimer.Stop()
					continue
				}
				if done, err := senderOutcome(e); done {
					if err == nil {
						// closing first could drop the tail of the last block
						awaitClose(ctx, channel, s.config.Transfer.CloseTimeout)
					}
					return err
				}
			}

		case <-acceptTimer.C:
			s.cancel(registry, peer)
			return ErrAcceptTimeout

		case <-channel.Done():
			for e, ok := pump.next(); ok; e, ok = pump.next() {
				if done, err := senderOutcome(e); done {
					return err
				}
			}
			return ErrPeerGone

		case <-ctx.Done():
			s.cancel(registry, peer)
			return ctx.Err()
		}
	}
}

// senderOutcome reports whether e ends the transfer, and how
func senderOutcome(e transfer.Event) (bool, error) {
	switch e.Kind {
	case transfer.EventFileSent:
		return true, nil
	case transfer.EventRejected:
		return true, ErrRejected
	case transfer.EventCanceled:
		return true, fmt.Errorf("%w: %s", ErrCanceled, e.Info.Name)
	case transfer.EventFailed:
		return true, fmt.Errorf("transfer of %s failed: %w", e.Info.Name, e.Err)
	case transfer.EventProtocolError:
		return true, e.Err
	}
	return false, nil
}

func (s *SenderApp) cancel(registry *transfer.Registry, peer transfer.PeerID) {
	if err := registry.CancelSend(peer); err != nil && !errors.Is(err, transfer.ErrNoTransfer) {
		log.Printf("Error canceling transfer: %v", err)
	}
}

func (s *SenderApp) closePeer(peerConn *webrtc.PeerConnection) {
	if err := s.peerService.Close(peerConn); err != nil {
		log.Printf("Error closing peer connection: %v", err)
	}
}
