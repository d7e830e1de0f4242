package transfer

import "fmt"

// FrameKind discriminates what travelled over the channel
type FrameKind int

const (
	FrameBinary FrameKind = iota + 1
	FrameControl
)

func (k FrameKind) String() string {
	switch k {
	case FrameBinary:
		return "binary"
	case FrameControl:
		return "control"
	default:
		return "unknown"
	}
}

// Frame is one channel message: either raw chunk bytes or a parsed control message.
type Frame struct {
	Kind    FrameKind
	Data    []byte
	Message Message
}

func BinaryFrame(data []byte) Frame {
	return Frame{Kind: FrameBinary, Data: data}
}

func ControlFrame(m Message) Frame {
	return Frame{Kind: FrameControl, Message: m}
}

// ParseFrame builds a Frame from a channel message. Text messages carry control
// messages, everything else is chunk data.
func ParseFrame(isText bool, data []byte) (Frame, error) {
	if !isText {
		return BinaryFrame(data), nil
	}

	m, err := DecodeMessage(data)
	if err != nil {
		return Frame{}, err
	}
	return ControlFrame(m), nil
}

// Encode returns the wire bytes of the frame and whether they must be sent as text
func (f Frame) Encode() ([]byte, bool, error) {
	switch f.Kind {
	case FrameBinary:
		return f.Data, false, nil
	case FrameControl:
		data, err := EncodeMessage(f.Message)
		return data, true, err
	default:
		return nil, false, fmt.Errorf("cannot encode %s frame", f.Kind)
	}
}
