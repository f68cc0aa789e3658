package file

import (
	"time"

	"github.com/opd-ai/webdrop/fileinfo"
)

// EventKind identifies what happened to a transfer.
type EventKind uint8

const (
	// EventTransferProgress carries a Snapshot after every transition and
	// every chunk.
	EventTransferProgress EventKind = iota
	// EventTransferComplete carries the ReceivedFile of a finished inbound
	// transfer.
	EventTransferComplete
	// EventTransferError carries the error that moved a session to Failed.
	EventTransferError
	// EventIncomingRequest announces a provisional inbound session waiting
	// for Accept or Reject.
	EventIncomingRequest
)

// String returns the event name used on the host application bus.
func (k EventKind) String() string {
	switch k {
	case EventTransferProgress:
		return "transfer-progress"
	case EventTransferComplete:
		return "transfer-complete"
	case EventTransferError:
		return "transfer-error"
	case EventIncomingRequest:
		return "incoming-request"
	default:
		return "unknown"
	}
}

// Event is a single notification about one transfer. Snapshot is always
// set; File is set for EventTransferComplete and Err for
// EventTransferError.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	File     *ReceivedFile
	Err      error
}

// TransferID returns the id of the transfer the event refers to.
func (e Event) TransferID() string {
	return e.Snapshot.ID
}

// Publisher receives transfer events. Publish is called with a session
// lock held and must not block or call back into the Manager.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(Event)

// Publish implements Publisher.
func (f PublisherFunc) Publish(e Event) {
	f(e)
}

type discardPublisher struct{}

func (discardPublisher) Publish(Event) {}

// Snapshot is a point-in-time copy of a session's observable state.
type Snapshot struct {
	ID               string
	PeerID           string
	Direction        TransferDirection
	Descriptor       fileinfo.Descriptor
	Status           TransferStatus
	BytesTransferred uint64
	TotalBytes       uint64
	ChunkCursor      uint64
	BytesPerSecond   float64
	StartedAt        time.Time
	FinishedAt       time.Time
	Err              error
}

// Progress returns the completed fraction in the range [0, 1].
func (s Snapshot) Progress() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.BytesTransferred) / float64(s.TotalBytes)
}

// ReceivedFile is the result of a completed inbound transfer.
type ReceivedFile struct {
	TransferID string
	Descriptor fileinfo.Descriptor
	Bytes      []byte
	FromUserID string
	ReceivedAt time.Time
	// Digest is the BLAKE2b-256 sum of Bytes.
	Digest [32]byte
}
