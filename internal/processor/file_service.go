package processor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"blockdrop/internal/transfer"
	"blockdrop/pkg/utils"
)

const defaultMimeType = "application/octet-stream"

var ErrInvalidFileName = errors.New("invalid file name")

// FileService handles basic file operations
type FileService struct{}

// NewFileService creates a new file service
func NewFileService() *FileService {
	return &FileService{}
}

// EnsureDir creates directory if it doesn't exist
func (f *FileService) EnsureDir(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// createWriter creates a file for writing
func (f *FileService) createWriter(destPath string) (*os.File, error) {
	if err := f.EnsureDir(filepath.Dir(destPath)); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return file, nil
}

// NewSinkAllocator returns an allocator that writes accepted files into dstDir
// under the name announced by the sender.
func (f *FileService) NewSinkAllocator(dstDir string, verify bool) transfer.SinkAllocator {
	return func(ctx context.Context, info transfer.FileInfo) (transfer.Sink, error) {
		dir, err := utils.ResolveDestinationPath(dstDir)
		if err != nil {
			return nil, err
		}

		name, err := SafeFileName(info.Name)
		if err != nil {
			return nil, err
		}

		expected := ""
		if verify {
			expected = info.Checksum
		}

		sink, err := f.CreateSink(utils.UniquePath(filepath.Join(dir, name)), expected)
		if err != nil {
			return nil, err
		}

		log.Printf("File prepared for writing: %s (size: %s, type: %s)",
			sink.Path(), utils.FormatFileSize(info.Size), info.Type)
		return sink, nil
	}
}

// SafeFileName strips any directory part from a name chosen by the remote peer
func SafeFileName(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if base == "/" || base == "." || base == ".." || base == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return base, nil
}

// DetectMimeType guesses the MIME type from the file extension
func DetectMimeType(path string) string {
	if mimeType := mime.TypeByExtension(filepath.Ext(path)); mimeType != "" {
		return mimeType
	}
	return defaultMimeType
}
