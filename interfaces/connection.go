package interfaces

import (
	"context"
	"errors"
	"fmt"
)

// SDPType values carried in a SessionDescription.
const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

// DefaultDataChannelLabel names the data channel carrying file frames.
const DefaultDataChannelLabel = "file-transfer"

// Default data channel flow-control thresholds in bytes.
const (
	DefaultBufferedAmountHighWater = 1024 * 1024
	DefaultBufferedAmountLowWater  = 512 * 1024
)

// ErrInvalidBufferThresholds indicates the low-water mark is not below the high-water mark.
var ErrInvalidBufferThresholds = errors.New("buffered amount low water must be below high water")

// ErrEmptyDataChannelLabel indicates a missing data channel label.
var ErrEmptyDataChannelLabel = errors.New("data channel label cannot be empty")

// SessionDescription is an SDP offer or answer relayed through signaling.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is a trickled connectivity candidate relayed through signaling.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// DirectConnection is a negotiated, ordered and reliable data channel to one peer.
//
// Handlers must be registered before negotiation starts. Implementations
// invoke handlers from their own goroutines; OnMessage callbacks for one
// connection are never invoked concurrently and preserve send order.
type DirectConnection interface {
	// CreateOffer creates the data channel and returns the local offer.
	CreateOffer(ctx context.Context) (SessionDescription, error)

	// AcceptOffer applies a remote offer and returns the local answer.
	AcceptOffer(ctx context.Context, offer SessionDescription) (SessionDescription, error)

	// AcceptAnswer applies the remote answer to a local offer.
	AcceptAnswer(answer SessionDescription) error

	// AddICECandidate applies a remote candidate. It fails until a remote
	// description has been applied.
	AddICECandidate(candidate ICECandidate) error

	// OnICECandidate registers the handler for locally gathered candidates.
	OnICECandidate(handler func(ICECandidate))

	// OnOpen registers the handler invoked once the data channel opens.
	OnOpen(handler func())

	// OnMessage registers the handler for received messages.
	OnMessage(handler func([]byte))

	// OnClose registers the handler invoked when the connection closes or
	// fails for a reason other than a local Close call.
	OnClose(handler func(error))

	// Send writes one message to the data channel, blocking while the
	// channel's send buffer is above its high-water mark.
	Send(data []byte) error

	// Close tears the connection down. It is safe to call more than once.
	Close() error
}

// ConnectionFactory creates direct connections.
type ConnectionFactory interface {
	// NewConnection creates an unnegotiated connection to peerID.
	NewConnection(peerID string) (DirectConnection, error)
}

// ConnectionFactoryFunc adapts a function to ConnectionFactory.
type ConnectionFactoryFunc func(peerID string) (DirectConnection, error)

// NewConnection implements ConnectionFactory.
func (f ConnectionFactoryFunc) NewConnection(peerID string) (DirectConnection, error) {
	return f(peerID)
}

// ConnectionConfig holds configuration for connection implementations.
type ConnectionConfig struct {
	// UseSimulation selects the in-memory network instead of WebRTC.
	UseSimulation bool

	// ICEServers lists STUN/TURN URLs used for candidate gathering.
	ICEServers []string

	// DataChannelLabel names the file data channel.
	DataChannelLabel string

	// BufferedAmountHighWater pauses Send while more bytes are queued.
	BufferedAmountHighWater uint64

	// BufferedAmountLowWater resumes Send once the queue drains below it.
	BufferedAmountLowWater uint64
}

// DefaultConnectionConfig returns the default configuration.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		UseSimulation:           false,
		ICEServers:              []string{"stun:stun.l.google.com:19302"},
		DataChannelLabel:        DefaultDataChannelLabel,
		BufferedAmountHighWater: DefaultBufferedAmountHighWater,
		BufferedAmountLowWater:  DefaultBufferedAmountLowWater,
	}
}

// Validate checks the configuration for inconsistent values.
func (c *ConnectionConfig) Validate() error {
	if c.DataChannelLabel == "" {
		return ErrEmptyDataChannelLabel
	}
	if c.BufferedAmountLowWater >= c.BufferedAmountHighWater {
		return fmt.Errorf("%w: low %d, high %d", ErrInvalidBufferThresholds,
			c.BufferedAmountLowWater, c.BufferedAmountHighWater)
	}
	return nil
}
