package file

import "errors"

var (
	// ErrPeerBusy is returned by Initiate when a non-terminal session for
	// the same peer and descriptor already exists.
	ErrPeerBusy = errors.New("peer busy: identical transfer already active")

	// ErrConnectionFailed indicates the direct connection could not be
	// established or closed before the transfer finished.
	ErrConnectionFailed = errors.New("direct connection failed")

	// ErrInvalidTransition indicates a state change the session state
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid transfer state transition")

	// ErrSizeMismatch indicates a payload whose length differs from its
	// descriptor.
	ErrSizeMismatch = errors.New("payload size does not match descriptor")

	// ErrTransferNotFound indicates an id with no active session.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrManagerClosed is returned by operations on a closed Manager.
	ErrManagerClosed = errors.New("transfer manager closed")
)

// Reject reasons exchanged with the remote peer.
const (
	ReasonDeclined         = "declined"
	ReasonCancelled        = "cancelled"
	ReasonDuplicate        = "duplicate transfer"
	ReasonInvalidFile      = "invalid file"
	ReasonFileNotAvailable = "file not available"
	ReasonConnectionFailed = "connection failed"
)
