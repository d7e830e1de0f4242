package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"blockdrop/internal/transfer"
	"blockdrop/pkg/utils"
)

var ErrInputClosed = errors.New("input closed")

// ConsoleUI implements console-based interactive UI with progress tracking
type ConsoleUI struct {
	in       io.Reader
	out      io.Writer
	progress *ProgressUI

	linesOnce sync.Once
	lines     chan string
}

// NewConsoleUI creates a console UI on stdin/stdout. operation labels the
// progress bar ("Sending" or "Receiving").
func NewConsoleUI(operation string, chunkSize int) *ConsoleUI {
	return newConsoleUI(os.Stdin, os.Stdout, NewProgressUI(operation, chunkSize, os.Stderr))
}

func newConsoleUI(in io.Reader, out io.Writer, progress *ProgressUI) *ConsoleUI {
	return &ConsoleUI{in: in, out: out, progress: progress}
}

// ShowMessage displays a message to the user
func (c *ConsoleUI) ShowMessage(message string) {
	log.Printf("%s\n", message)
}

func (c *ConsoleUI) ShowCode(code string) {
	fmt.Fprintf(c.out, "\nSend this code to the receiver: %s\n\n", code)
}

// readLine returns the next input line. A single reader goroutine feeds every prompt.
func (c *ConsoleUI) readLine(ctx context.Context) (string, error) {
	c.linesOnce.Do(func() {
		c.lines = make(chan string)
		go func() {
			defer close(c.lines)
			scanner := bufio.NewScanner(c.in)
			for scanner.Scan() {
				c.lines <- scanner.Text()
			}
		}()
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", ErrInputClosed
		}
		return line, nil
	}
}

// InputCode prompts user to input an 8-character alphanumeric code with validation
func (c *ConsoleUI) InputCode(ctx context.Context) (string, error) {
	for {
		fmt.Fprint(c.out, "Enter code from sender: ")
		line, err := c.readLine(ctx)
		if err != nil {
			return "", err
		}

		if code := utils.NormalizeCode(line); utils.IsValidCode(code) {
			return code, nil
		}
		fmt.Fprintf(c.out, "Invalid code. Please enter again.\n")
	}
}

// ConfirmOffer shows the offered file and waits for y or n
func (c *ConsoleUI) ConfirmOffer(ctx context.Context, info transfer.FileInfo) (bool, error) {
	fmt.Fprintf(c.out, "\nIncoming file: %s (%s, %s)\n", info.Name, utils.FormatFileSize(info.Size), info.Type)
	for {
		fmt.Fprint(c.out, "Accept? [y/n]: ")
		line, err := c.readLine(ctx)
		if err != nil {
			return false, err
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
	}
}

// HandleEvent feeds transfer events to the progress display
func (c *ConsoleUI) HandleEvent(e transfer.Event) {
	switch e.Kind {
	case transfer.EventProgress:
		c.progress.Update(e)
	case transfer.EventFileSent, transfer.EventFileReceived:
		c.progress.Complete(c.out, e)
	case transfer.EventRejected:
		fmt.Fprintf(c.out, "Receiver declined %s\n", e.Info.Name)
	case transfer.EventCanceled:
		c.progress.Abandon()
		fmt.Fprintf(c.out, "Transfer of %s was canceled\n", e.Info.Name)
	case transfer.EventFailed, transfer.EventProtocolError:
		c.progress.Abandon()
		fmt.Fprintf(c.out, "Transfer failed: %v\n", e.Err)
	}
}
