package transfer

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// MessageType tags a control message on the channel
type MessageType string

const (
	MsgInfo         MessageType = "info"
	MsgResponse     MessageType = "response"
	MsgCancel       MessageType = "cancel"
	MsgBlockRequest MessageType = "block_request"
)

// Message is a control message. Payload is kept raw until the receiving state decodes it.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Known reports whether the message type is part of the protocol
func (m Message) Known() bool {
	switch m.Type {
	case MsgInfo, MsgResponse, MsgCancel, MsgBlockRequest:
		return true
	}
	return false
}

// NewInfoMessage announces a pending transfer
func NewInfoMessage(info FileInfo) (Message, error) {
	payload, err := json.Marshal(info)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode file info: %w", err)
	}
	return Message{Type: MsgInfo, Payload: payload}, nil
}

// NewResponseMessage accepts or rejects an offer
func NewResponseMessage(accepted bool) Message {
	return Message{Type: MsgResponse, Payload: json.RawMessage(strconv.FormatBool(accepted))}
}

func NewCancelMessage() Message {
	return Message{Type: MsgCancel}
}

// NewBlockRequestMessage asks the sender for the block starting at chunk
func NewBlockRequestMessage(chunk int) Message {
	return Message{Type: MsgBlockRequest, Payload: json.RawMessage(strconv.Itoa(chunk))}
}

// DecodeInfo returns the FileInfo payload of an info message
func (m Message) DecodeInfo() (FileInfo, error) {
	var info FileInfo
	if err := m.decodePayload(MsgInfo, &info); err != nil {
		return FileInfo{}, err
	}
	return info, nil
}

// DecodeResponse returns the accept flag of a response message
func (m Message) DecodeResponse() (bool, error) {
	var accepted bool
	if err := m.decodePayload(MsgResponse, &accepted); err != nil {
		return false, err
	}
	return accepted, nil
}

// DecodeBlockRequest returns the first chunk index requested
func (m Message) DecodeBlockRequest() (int, error) {
	var chunk int
	if err := m.decodePayload(MsgBlockRequest, &chunk); err != nil {
		return 0, err
	}
	return chunk, nil
}

func (m Message) decodePayload(want MessageType, v any) error {
	if m.Type != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrMalformedMessage, want, m.Type)
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", ErrMalformedMessage, m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, m.Type, err)
	}
	return nil
}

// EncodeMessage serializes a control message as {"type": ..., "payload": ...}
func EncodeMessage(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses a control message. Unknown types decode without error.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return m, nil
}
