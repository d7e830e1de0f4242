// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package ui

import (
	"context"

	"blockdrop/internal/transfer"
)

// InteractiveUI defines the interface for user interactions
type InteractiveUI interface {
	// ShowMessage displays a message to the user
	ShowMessage(message string)

	// ShowCode displays the session code the receiver has to type in
	ShowCode(code string)

	// InputCode prompts for the sender's session code
	InputCode(ctx context.Context) (string, error)

	// ConfirmOffer asks whether an offered file should be accepted
	ConfirmOffer(ctx context.Context, info transfer.FileInfo) (bool, error)

	// HandleEvent renders transfer progress and outcomes
	HandleEvent(e transfer.Event)
}
