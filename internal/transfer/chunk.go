package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultChunkSize is the largest binary message put on the channel.
	DefaultChunkSize = 16000
	// DefaultChunksPerAck is the number of chunks sent before the receiver must ask for more.
	DefaultChunksPerAck = 64
)

// ChunkCount returns ceil(size / chunkSize). Both peers compute it independently.
func ChunkCount(size int64, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	cs := int64(chunkSize)
	return int((size + cs - 1) / cs)
}

// BlockEnd returns the inclusive index of the last chunk in the block that starts at begin.
func BlockEnd(begin, chunksTotal, chunksPerAck int) int {
	return begin + min(chunksTotal-begin, chunksPerAck) - 1
}

// SliceBlock reads the bytes spanning chunks begin..endInclusive from src.
// The range is clamped to size for the final chunk of the file.
func SliceBlock(src io.ReaderAt, size int64, chunkSize, begin, endInclusive int) ([]byte, error) {
	if begin < 0 || endInclusive < begin {
		return nil, fmt.Errorf("invalid chunk range [%d, %d]", begin, endInclusive)
	}

	start := int64(begin) * int64(chunkSize)
	stop := int64(endInclusive)*int64(chunkSize) + int64(chunkSize)
	if stop > size {
		stop = size
	}
	if start >= stop {
		return nil, fmt.Errorf("chunk range [%d, %d] is outside a %d byte source", begin, endInclusive, size)
	}

	buf := make([]byte, stop-start)
	n, err := src.ReadAt(buf, start)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return nil, fmt.Errorf("failed to read block at offset %d: %w", start, err)
	}

	return buf, nil
}

// SplitIntoChunks slices a block into chunkSize pieces. The final piece may be shorter.
func SplitIntoChunks(block []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		return nil
	}

	chunks := make([][]byte, 0, (len(block)+chunkSize-1)/chunkSize)
	for off := 0; off < len(block); off += chunkSize {
		end := min(off+chunkSize, len(block))
		chunks = append(chunks, block[off:end:end])
	}
	return chunks
}

// JoinChunks reassembles a contiguous block from chunks in arrival order.
func JoinChunks(chunks [][]byte) []byte {
	return bytes.Join(chunks, nil)
}
