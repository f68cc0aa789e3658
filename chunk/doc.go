// Package chunk frames binary payloads for transfer over an ordered, reliable
// data channel and reassembles them on the receiving side.
//
// # Framing
//
// Split cuts a payload into frames of at most chunkSize bytes. Frames are
// numbered from 0 and the last one carries the IsLast flag. The terminal frame
// is always shorter than chunkSize, so a payload whose length is an exact
// multiple of chunkSize ends with an empty terminal frame:
//
//	frames, err := chunk.Split(payload, limits.DefaultChunkSize)
//	for _, f := range frames {
//	    channel.Send(chunk.EncodeFrame(f))
//	}
//
// # Reassembly
//
// The data channel already guarantees ordering and delivery, so the
// Reassembler does not reorder. A frame with an unexpected sequence number is
// a protocol error reported as ErrOutOfOrderFrame:
//
//	r := chunk.NewReassembler(expectedSize)
//	payload, complete, err := r.Accept(frame)
//
// # Wire Format
//
//	[seq (4 bytes, big endian)][flags (1 byte)][data]
//
// Flags: 0x01 marks the last frame, 0x02 marks a cancel control frame sent by
// a peer aborting the transfer mid-stream.
package chunk
