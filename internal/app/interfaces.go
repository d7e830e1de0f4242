// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package app

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Signaller exchanges session descriptions with the remote peer
type Signaller interface {
	// StartSenderSignallingProcess publishes an offer and waits for the answer.
	// onCode receives the session code to hand to the receiver.
	StartSenderSignallingProcess(ctx context.Context, peerConn *webrtc.PeerConnection, onCode func(code string)) (string, error)

	// StartReceiverSignallingProcess answers the offer stored under code
	StartReceiverSignallingProcess(ctx context.Context, peerConn *webrtc.PeerConnection, code string) error

	// ClearSession removes the session record
	ClearSession(ctx context.Context, code string) error
}
