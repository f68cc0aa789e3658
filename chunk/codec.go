package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/webdrop/limits"
)

// ErrOutOfOrderFrame indicates a frame whose sequence number is not the next
// expected one. The transport guarantees ordering, so this is fatal.
var ErrOutOfOrderFrame = errors.New("out of order frame")

// ErrFrameAfterLast indicates a frame received after the terminal frame.
var ErrFrameAfterLast = errors.New("frame received after last frame")

// ErrPayloadOverflow indicates the frames carry more bytes than announced.
var ErrPayloadOverflow = errors.New("payload exceeds announced size")

const (
	flagLast   byte = 0x01
	flagCancel byte = 0x02
)

// Frame is one bounded-size, sequence-numbered slice of a payload.
type Frame struct {
	Seq    uint32
	Data   []byte
	IsLast bool
	Cancel bool
}

// Split cuts payload into frames of at most chunkSize bytes. Frame data
// aliases payload; callers must not modify payload while frames are in use.
func Split(payload []byte, chunkSize int) ([]Frame, error) {
	if err := limits.ValidateChunkSize(chunkSize); err != nil {
		return nil, err
	}

	count := len(payload)/chunkSize + 1
	frames := make([]Frame, 0, count)
	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, len(payload))
		frames = append(frames, Frame{
			Seq:    uint32(i),
			Data:   payload[start:end],
			IsLast: i == count-1,
		})
	}
	return frames, nil
}

// FrameCount returns the number of frames Split produces for size bytes.
func FrameCount(size uint64, chunkSize int) uint64 {
	if chunkSize <= 0 {
		return 0
	}
	return size/uint64(chunkSize) + 1
}

// CancelFrame returns the control frame announcing a mid-stream cancellation.
func CancelFrame() Frame {
	return Frame{Cancel: true}
}

// EncodeFrame serializes a frame for the wire.
func EncodeFrame(f Frame) []byte {
	// Format: [seq (4 bytes)][flags (1 byte)][data]
	data := make([]byte, limits.FrameHeaderSize+len(f.Data))
	binary.BigEndian.PutUint32(data[0:4], f.Seq)
	var flags byte
	if f.IsLast {
		flags |= flagLast
	}
	if f.Cancel {
		flags |= flagCancel
	}
	data[4] = flags
	copy(data[limits.FrameHeaderSize:], f.Data)
	return data
}

// DecodeFrame parses a frame received from the wire. The returned frame owns
// a copy of the data.
func DecodeFrame(data []byte) (Frame, error) {
	if err := limits.ValidateFrame(data); err != nil {
		return Frame{}, err
	}

	flags := data[4]
	if flags&^(flagLast|flagCancel) != 0 {
		return Frame{}, fmt.Errorf("unknown frame flags: %#x", flags)
	}

	payload := make([]byte, len(data)-limits.FrameHeaderSize)
	copy(payload, data[limits.FrameHeaderSize:])

	return Frame{
		Seq:    binary.BigEndian.Uint32(data[0:4]),
		Data:   payload,
		IsLast: flags&flagLast != 0,
		Cancel: flags&flagCancel != 0,
	}, nil
}
