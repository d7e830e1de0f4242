package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyBlob is returned when there is nothing to decode
var ErrEmptyBlob = errors.New("empty blob")

// blobEncoding keeps blobs safe for database paths and terminal pastes
var blobEncoding = base64.RawURLEncoding

// Encode packs value as JSON in unpadded URL-safe base64.
func Encode[T any](value T) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode %T: %w", value, err)
	}
	return blobEncoding.EncodeToString(raw), nil
}

// Decode reverses Encode. Surrounding whitespace and trailing padding are
// ignored since blobs are often copied by hand.
func Decode[T any](blob string) (T, error) {
	var out T

	blob = strings.TrimRight(strings.TrimSpace(blob), "=")
	if blob == "" {
		return out, ErrEmptyBlob
	}

	raw, err := blobEncoding.DecodeString(blob)
	if err != nil {
		return out, fmt.Errorf("decode %T: %w", out, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %T from %d bytes: %w", out, len(raw), err)
	}
	return out, nil
}
