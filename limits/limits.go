// Package limits provides centralized size limits for peer-to-peer file transfers.
// This ensures consistent validation across different components of the system.
package limits

import (
	"errors"
	"fmt"
)

const (
	// DefaultChunkSize is the payload size of one transfer frame (16 KiB).
	DefaultChunkSize = 16 * 1024

	// FrameHeaderSize is the encoded frame header: 4 bytes sequence number
	// followed by 1 byte of flags.
	FrameHeaderSize = 5

	// MaxFrameSize is the largest data channel message we send or accept.
	MaxFrameSize = 65535

	// MaxChunkSize is the largest payload that fits in one frame.
	MaxChunkSize = MaxFrameSize - FrameHeaderSize

	// MaxFileSize bounds whole-file buffering (2 GiB).
	MaxFileSize = 2 * 1024 * 1024 * 1024

	// MaxFileNameLength is the maximum allowed file name length in bytes.
	// The value (255) matches typical filesystem limits.
	MaxFileNameLength = 255

	// MaxReasonLength bounds the free-form reason carried by a reject.
	MaxReasonLength = 256
)

var (
	// ErrInvalidChunkSize indicates a chunk size of zero or above MaxChunkSize.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrEmptyFile indicates a zero-length file was offered for transfer.
	ErrEmptyFile = errors.New("empty file")

	// ErrFileTooLarge indicates a file exceeds MaxFileSize.
	ErrFileTooLarge = errors.New("file too large")

	// ErrFrameTooLarge indicates an encoded frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")
)

// ValidateChunkSize checks that size is usable as a frame payload size.
func ValidateChunkSize(size int) error {
	if size <= 0 || size > MaxChunkSize {
		return fmt.Errorf("%w: size %d outside [1, %d]", ErrInvalidChunkSize, size, MaxChunkSize)
	}
	return nil
}

// ValidateFileSize checks that a file of the given size can be transferred.
func ValidateFileSize(size uint64) error {
	if size == 0 {
		return ErrEmptyFile
	}
	if size > MaxFileSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, size, uint64(MaxFileSize))
	}
	return nil
}

// ValidateFrame checks an encoded frame received from the network.
func ValidateFrame(frame []byte) error {
	if len(frame) < FrameHeaderSize {
		return fmt.Errorf("frame too short: %d bytes, header is %d", len(frame), FrameHeaderSize)
	}
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrFrameTooLarge, len(frame), MaxFrameSize)
	}
	return nil
}
