package chunk

import (
	"bytes"
	"fmt"
)

// Reassembler rebuilds a payload from frames delivered in sequence order.
// It is not safe for concurrent use; the owning session serializes access.
type Reassembler struct {
	expectedSize uint64
	nextSeq      uint32
	received     uint64
	done         bool
	buf          bytes.Buffer
}

// NewReassembler creates a reassembler for a payload of expectedSize bytes.
func NewReassembler(expectedSize uint64) *Reassembler {
	r := &Reassembler{expectedSize: expectedSize}
	if expectedSize > 0 && expectedSize <= 64*1024*1024 {
		r.buf.Grow(int(expectedSize))
	}
	return r
}

// Accept buffers one frame. It returns the full payload and complete=true on
// the terminal frame, and complete=false for every frame before it.
func (r *Reassembler) Accept(f Frame) ([]byte, bool, error) {
	if r.done {
		return nil, false, ErrFrameAfterLast
	}
	if f.Seq != r.nextSeq {
		return nil, false, fmt.Errorf("%w: got seq %d, expected %d", ErrOutOfOrderFrame, f.Seq, r.nextSeq)
	}
	if r.received+uint64(len(f.Data)) > r.expectedSize {
		return nil, false, fmt.Errorf("%w: %d bytes announced, frame %d brings total to %d",
			ErrPayloadOverflow, r.expectedSize, f.Seq, r.received+uint64(len(f.Data)))
	}

	r.buf.Write(f.Data)
	r.received += uint64(len(f.Data))
	r.nextSeq++

	if !f.IsLast {
		return nil, false, nil
	}

	r.done = true
	return r.buf.Bytes(), true, nil
}

// Received returns the number of payload bytes accepted so far.
func (r *Reassembler) Received() uint64 {
	return r.received
}

// NextSeq returns the sequence number expected next.
func (r *Reassembler) NextSeq() uint32 {
	return r.nextSeq
}

// Reset releases the buffered data.
func (r *Reassembler) Reset() {
	r.buf = bytes.Buffer{}
	r.nextSeq = 0
	r.received = 0
	r.done = false
}
