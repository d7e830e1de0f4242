package transfer

import (
	"context"
	"fmt"
	"io"
	"time"
)

// PeerID identifies the remote end of one channel
type PeerID string

// FileInfo describes a file offered by a sender
type FileInfo struct {
	Name             string    `json:"name"`
	Size             int64     `json:"size"`
	Type             string    `json:"type"`
	LastModifiedDate time.Time `json:"lastModifiedDate"`
	ChunksTotal      int       `json:"chunksTotal"`
	Checksum         string    `json:"checksum,omitempty"` // SHA-256, hex

	// ChunksPerAck is the sender's block length. The receiver paces its
	// block requests by it; zero means DefaultChunksPerAck.
	ChunksPerAck int `json:"chunksPerAck,omitempty"`
}

// Validate checks the descriptor against the local chunk size
func (i FileInfo) Validate(chunkSize int) error {
	if i.Size < 0 {
		return fmt.Errorf("negative file size %d", i.Size)
	}
	if i.ChunksPerAck < 0 {
		return fmt.Errorf("%w: %d chunks per block", ErrInvalidBlockSize, i.ChunksPerAck)
	}
	if want := ChunkCount(i.Size, chunkSize); i.ChunksTotal != want {
		return fmt.Errorf("%w: %d chunks announced, %d expected for %d bytes",
			ErrChunkCountMismatch, i.ChunksTotal, want, i.Size)
	}
	return nil
}

// Source is the read-only byte source of an outgoing transfer. It is owned by the caller.
type Source interface {
	io.ReaderAt
	Name() string
	Size() int64
	MimeType() string
	ModTime() time.Time
}

// Checksummer is implemented by sources that can hash their full content
type Checksummer interface {
	Checksum() (string, error)
}

// BlockSize returns the number of chunks per block the sender announced
func (i FileInfo) BlockSize() int {
	if i.ChunksPerAck > 0 {
		return i.ChunksPerAck
	}
	return DefaultChunksPerAck
}

// NewFileInfo describes src for a given chunk size
func NewFileInfo(src Source, chunkSize int) (FileInfo, error) {
	info := FileInfo{
		Name:             src.Name(),
		Size:             src.Size(),
		Type:             src.MimeType(),
		LastModifiedDate: src.ModTime(),
		ChunksTotal:      ChunkCount(src.Size(), chunkSize),
	}

	if c, ok := src.(Checksummer); ok {
		sum, err := c.Checksum()
		if err != nil {
			return FileInfo{}, fmt.Errorf("failed to checksum %s: %w", info.Name, err)
		}
		info.Checksum = sum
	}

	return info, nil
}

// Sink is the write target of an incoming transfer. Appended bytes are only
// durable after Save; Abort discards whatever was appended.
type Sink interface {
	Append(ctx context.Context, block []byte) error
	Save(ctx context.Context) error
	Abort() error
}

// SinkAllocator creates a sink for an accepted offer
type SinkAllocator func(ctx context.Context, info FileInfo) (Sink, error)

// Channel is the outbound half of the connection to one peer
type Channel interface {
	Send(f Frame) error
}
