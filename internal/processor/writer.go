package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"log"
	"os"
	"sync"
)

const partSuffix = ".part"

var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrSinkClosed       = errors.New("sink already saved or aborted")
)

// FileSink receives blocks into <dest>.part and moves the file onto dest on Save.
// Nothing appears at dest unless the transfer completes.
type FileSink struct {
	mu       sync.Mutex
	file     *os.File
	destPath string
	partPath string
	hash     hash.Hash
	expected string
	written  int64
	closed   bool
}

// CreateSink opens a sink for destPath. A non-empty expected checksum is
// verified on Save.
func (f *FileService) CreateSink(destPath, expected string) (*FileSink, error) {
	partPath := destPath + partSuffix
	file, err := f.createWriter(partPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create destination file: %w", err)
	}

	return &FileSink{
		file:     file,
		destPath: destPath,
		partPath: partPath,
		hash:     sha256.New(),
		expected: expected,
	}, nil
}

// Path is where the file ends up after Save
func (s *FileSink) Path() string {
	return s.destPath
}

// Written returns the number of bytes appended so far
func (s *FileSink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Checksum returns the SHA-256 of everything appended so far, hex encoded
func (s *FileSink) Checksum() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hex.EncodeToString(s.hash.Sum(nil))
}

func (s *FileSink) Append(ctx context.Context, block []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if _, err := s.file.Write(block); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	s.hash.Write(block)
	s.written += int64(len(block))
	return nil
}

// Save flushes the file to disk and renames it onto the destination.
func (s *FileSink) Save(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	if s.expected != "" {
		if got := hex.EncodeToString(s.hash.Sum(nil)); got != s.expected {
			s.discard()
			return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, got, s.expected)
		}
	}

	if err := s.file.Sync(); err != nil {
		s.discard()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := s.file.Close(); err != nil {
		s.discard()
		return fmt.Errorf("failed to close file: %w", err)
	}
	s.closed = true

	if err := os.Rename(s.partPath, s.destPath); err != nil {
		os.Remove(s.partPath)
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	log.Printf("File saved: %s (%d bytes)", s.destPath, s.written)
	return nil
}

// Abort removes the partial file. It is a no-op after Save.
func (s *FileSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	return s.discard()
}

func (s *FileSink) discard() error {
	s.closed = true
	s.file.Close()
	if err := os.Remove(s.partPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove partial file: %w", err)
	}
	log.Printf("Partial file discarded: %s", s.partPath)
	return nil
}
