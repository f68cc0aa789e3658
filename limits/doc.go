// Package limits provides centralized size constants and validation functions
// for peer-to-peer file transfers. This package ensures consistent size
// enforcement across the chunk codec, the transfer sessions and the public
// coordinator API.
//
// # Size Hierarchy
//
//   - DefaultChunkSize (16 KiB): The payload size of one data channel frame.
//     It stays below the message size limits of common WebRTC stacks.
//
//   - MaxFrameSize (65535 bytes): The largest single data channel message this
//     package allows, header included.
//
//   - MaxChunkSize: MaxFrameSize minus FrameHeaderSize.
//
//   - MaxFileSize (2 GiB): The largest file accepted for transfer. Files are
//     buffered entirely in memory on both sides.
//
// # Validation Functions
//
//	if err := limits.ValidateChunkSize(size); err != nil {
//	    // ErrInvalidChunkSize
//	}
//
//	if err := limits.ValidateFileSize(size); err != nil {
//	    // ErrEmptyFile or ErrFileTooLarge
//	}
//
// Errors are wrapped with the actual and maximum values and can be matched
// with errors.Is.
package limits
