package processor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"blockdrop/pkg/utils"
)

// FileSource serves an open file to an outgoing transfer.
type FileSource struct {
	file     *os.File
	name     string
	size     int64
	mimeType string
	modTime  time.Time
	checksum bool
}

// OpenSource opens filePath for reading. With checksum set the offer carries
// the SHA-256 of the content.
func (f *FileService) OpenSource(filePath string, checksum bool) (*FileSource, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if stat.IsDir() {
		file.Close()
		return nil, fmt.Errorf("%s is a directory", filePath)
	}

	log.Printf("File prepared for reading: %s, size: %d bytes (%s)",
		filePath, stat.Size(), utils.FormatFileSize(stat.Size()))

	return &FileSource{
		file:     file,
		name:     filepath.Base(filePath),
		size:     stat.Size(),
		mimeType: DetectMimeType(filePath),
		modTime:  stat.ModTime(),
		checksum: checksum,
	}, nil
}

func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

func (s *FileSource) Name() string       { return s.name }
func (s *FileSource) Size() int64        { return s.size }
func (s *FileSource) MimeType() string   { return s.mimeType }
func (s *FileSource) ModTime() time.Time { return s.modTime }

// Checksum hashes the whole file. It returns "" when checksums are disabled.
func (s *FileSource) Checksum() (string, error) {
	if !s.checksum {
		return "", nil
	}

	hash := sha256.New()
	if _, err := io.Copy(hash, io.NewSectionReader(s.file, 0, s.size)); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// Close closes the underlying file
func (s *FileSource) Close() error {
	return s.file.Close()
}
