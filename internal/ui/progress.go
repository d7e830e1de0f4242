package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"blockdrop/internal/transfer"
	"blockdrop/pkg/utils"

	"github.com/schollz/progressbar/v3"
)

// ProgressUI renders one transfer at a time as a byte progress bar
type ProgressUI struct {
	mu        sync.Mutex
	bar       *progressbar.ProgressBar
	writer    io.Writer
	operation string // "Sending" or "Receiving"
	chunkSize int
	current   string
	bytes     int64
	startTime time.Time
}

// NewProgressUI creates a new progress UI writing to w
func NewProgressUI(operation string, chunkSize int, w io.Writer) *ProgressUI {
	return &ProgressUI{operation: operation, chunkSize: chunkSize, writer: w}
}

func (p *ProgressUI) start(info transfer.FileInfo) {
	p.current = info.Name
	p.bytes = 0
	p.startTime = time.Now()
	p.bar = progressbar.NewOptions64(info.Size,
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", p.operation, info.Name)),
		progressbar.OptionSetWriter(p.writer),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)
}

// Update moves the bar to the chunk count carried by a progress event
func (p *ProgressUI) Update(e transfer.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil || p.current != e.Info.Name {
		p.start(e.Info)
	}

	p.bytes = min(int64(e.Chunks)*int64(p.chunkSize), e.Info.Size)
	_ = p.bar.Set64(p.bytes)
}

// Complete finishes the bar and prints a summary to out
func (p *ProgressUI) Complete(out io.Writer, e transfer.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Duration(0)
	if p.bar != nil {
		_ = p.bar.Finish()
		elapsed = time.Since(p.startTime)
	}
	p.bar = nil

	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(e.Info.Size) / elapsed.Seconds() / (1024 * 1024)
	}

	fmt.Fprintf(out, "\n=============================================\n")
	fmt.Fprintf(out, "File transfer completed successfully!\n")
	fmt.Fprintf(out, "+ File: %s\n", e.Info.Name)
	fmt.Fprintf(out, "+ Total bytes: %s\n", utils.FormatFileSize(e.Info.Size))
	fmt.Fprintf(out, "+ Transfer time: %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "+ Average throughput: %.2f MB/s\n", throughput)
	if e.Info.Checksum != "" {
		fmt.Fprintf(out, "+ SHA-256: %s\n", e.Info.Checksum)
	}
	fmt.Fprintf(out, "=============================================\n")
}

// Abandon drops the bar of a transfer that will not finish
func (p *ProgressUI) Abandon() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil {
		_ = p.bar.Exit()
		p.bar = nil
	}
}

// Bytes returns the byte count last rendered
func (p *ProgressUI) Bytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytes
}
