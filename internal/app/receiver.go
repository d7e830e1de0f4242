package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"blockdrop/internal/config"
	"blockdrop/internal/processor"
	"blockdrop/internal/transfer"
	"blockdrop/internal/transport"
	"blockdrop/internal/ui"

	"github.com/pion/webrtc/v4"
)

// ReceiverOptions configures the receiver application behavior
type ReceiverOptions struct {
	DestPath   string // Required: directory the received file is written into
	AutoAccept bool   // accept the offer without asking
}

// ReceiverApp receives one file from one sender
type ReceiverApp struct {
	config      *config.Config
	peerService *transport.PeerService
	signaller   Signaller
	files       *processor.FileService
	ui          ui.InteractiveUI
}

// NewReceiverApp creates a new receiver application
func NewReceiverApp(cfg *config.Config, peerService *transport.PeerService, signaller Signaller, u ui.InteractiveUI) *ReceiverApp {
	return &ReceiverApp{
		config:      cfg,
		peerService: peerService,
		signaller:   signaller,
		files:       processor.NewFileService(),
		ui:          u,
	}
}

// Run answers the sender's session and returns once a file was saved,
// declined, or the transfer failed.
func (r *ReceiverApp) Run(ctx context.Context, opts *ReceiverOptions) error {
	if opts.DestPath == "" {
		return fmt.Errorf("destination path is required")
	}

	log.Printf("Preparing to receive file into: %s", opts.DestPath)

	peerConn, err := r.peerService.CreatePeerConnection()
	if err != nil {
		return err
	}
	r.peerService.WatchConnectionState(peerConn, "receiver")

	pump := newEventPump(r.ui)

	registry := transfer.NewRegistry(transfer.Options{
		ChunkSize:    r.config.Transfer.ChunkSize,
		ChunksPerAck: r.config.Transfer.ChunksPerAck,
		Allocate:     r.files.NewSinkAllocator(opts.DestPath, r.config.Transfer.Checksum),
		OnEvent:      pump.handle,
	})
	defer registry.Close()

	channel := transport.NewChannel(ctx, r.config, registry)
	channel.AcceptDataChannel(peerConn)

	var code string
	cleanup := func() {
		if err := channel.Close(); err != nil {
			log.Printf("Error closing data channel: %v", err)
		}
		r.closePeer(peerConn)
		if code != "" {
			if err := r.signaller.ClearSession(context.WithoutCancel(ctx), code); err != nil {
				log.Printf("Warning: Failed to clear session: %v", err)
			}
		}
	}
	defer cleanup()

	code, err = r.ui.InputCode(ctx)
	if err != nil {
		return fmt.Errorf("failed to get code from user: %w", err)
	}

	if err := r.signaller.StartReceiverSignallingProcess(ctx, peerConn, code); err != nil {
		return fmt.Errorf("failed during signalling process: %w", err)
	}

	if err := channel.WaitReady(ctx); err != nil {
		return fmt.Errorf("data channel did not open: %w", err)
	}

	if err := registry.Attach(channel.Peer(), channel); err != nil {
		return err
	}
	channel.Start()
	r.ui.ShowMessage("Connected, waiting for the sender's offer...")

	return supervise(ctx, r.peerService, func(ctx context.Context) error {
		return r.follow(ctx, registry, channel, pump, opts.AutoAccept)
	})
}

func (r *ReceiverApp) follow(ctx context.Context, registry *transfer.Registry, channel *transport.Channel, pump *eventPump, autoAccept bool) error {
	peer := channel.Peer()

	for {
		select {
		case <-pump.ready:
			// Accept and Reject queue events while we hold this loop
			for e, ok := pump.next(); ok; e, ok = pump.next() {
				if e.Kind == transfer.EventOffer {
					declined, err := r.decide(ctx, registry, channel, e.Info, autoAccept)
					if err != nil || declined {
						return err
					}
					continue
				}
				if done, err := receiverOutcome(e); done {
					return err
				}
			}

		case <-channel.Done():
			for e, ok := pump.next(); ok; e, ok = pump.next() {
				if done, err := receiverOutcome(e); done {
					return err
				}
			}
			return ErrPeerGone

		case <-ctx.Done():
			if err := registry.CancelReceive(peer); err != nil && !errors.Is(err, transfer.ErrNoTransfer) {
				log.Printf("Error canceling transfer: %v", err)
			}
			return ctx.Err()
		}
	}
}

// decide answers an offer. It reports declined when the receiver is done.
func (r *ReceiverApp) decide(ctx context.Context, registry *transfer.Registry, channel *transport.Channel, info transfer.FileInfo, autoAccept bool) (bool, error) {
	peer := channel.Peer()

	accept := autoAccept
	if !accept {
		askCtx, cancel := context.WithTimeout(ctx, r.config.Transfer.AcceptTimeout)
		ok, err := r.ui.ConfirmOffer(askCtx, info)
		cancel()
		if err != nil && ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			log.Printf("No answer for %s: %v", info.Name, err)
		}
		accept = ok && err == nil
	}

	if !accept {
		if err := registry.Reject(peer); err != nil && !errors.Is(err, transfer.ErrNoTransfer) {
			return false, fmt.Errorf("failed to decline %s: %w", info.Name, err)
		}
		r.ui.ShowMessage(fmt.Sprintf("Declined %s", info.Name))
		awaitClose(ctx, channel, r.config.Transfer.CloseTimeout)
		return true, nil
	}

	if err := registry.Accept(ctx, peer); err != nil {
		// the sender may have canceled while we were asking
		if errors.Is(err, transfer.ErrNoTransfer) {
			log.Printf("Offer for %s is gone: %v", info.Name, err)
			return false, nil
		}
		return false, fmt.Errorf("failed to accept %s: %w", info.Name, err)
	}
	return false, nil
}

// receiverOutcome reports whether e ends the transfer, and how
func receiverOutcome(e transfer.Event) (bool, error) {
	switch e.Kind {
	case transfer.EventFileReceived:
		if sink, ok := e.Sink.(*processor.FileSink); ok {
			log.Printf("Saved %s", sink.Path())
		}
		return true, nil
	case transfer.EventCanceled:
		return true, fmt.Errorf("%w: %s", ErrCanceled, e.Info.Name)
	case transfer.EventFailed:
		return true, fmt.Errorf("transfer of %s failed: %w", e.Info.Name, e.Err)
	case transfer.EventProtocolError:
		return true, e.Err
	}
	return false, nil
}

func (r *ReceiverApp) closePeer(peerConn *webrtc.PeerConnection) {
	if err := r.peerService.Close(peerConn); err != nil {
		log.Printf("Error closing peer connection: %v", err)
	}
}
