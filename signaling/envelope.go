package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opd-ai/webdrop/fileinfo"
	"github.com/opd-ai/webdrop/interfaces"
)

// Event names a signaling message kind.
type Event string

const (
	// EventOffer carries a connection offer and the file metadata.
	EventOffer Event = "webrtc-offer"
	// EventAnswer carries the answer to an accepted offer.
	EventAnswer Event = "webrtc-answer"
	// EventICECandidate carries one trickled candidate.
	EventICECandidate Event = "webrtc-ice-candidate"
	// EventRejected carries a reject and its reason.
	EventRejected Event = "webrtc-rejected"
	// EventFileRequest asks the receiver to send a file it shared earlier.
	EventFileRequest Event = "file-request"
)

// ErrMalformedEnvelope indicates an envelope missing a required field.
var ErrMalformedEnvelope = errors.New("malformed signaling envelope")

// Envelope is the relayed form of every signaling message.
type Envelope struct {
	Event        Event                          `json:"event"`
	FromUserID   string                         `json:"fromUserId,omitempty"`
	TargetUserID string                         `json:"targetUserId,omitempty"`
	TransferID   string                         `json:"transferId,omitempty"`
	Offer        *interfaces.SessionDescription `json:"offer,omitempty"`
	Answer       *interfaces.SessionDescription `json:"answer,omitempty"`
	Candidate    *interfaces.ICECandidate       `json:"candidate,omitempty"`
	FileInfo     *fileinfo.Descriptor           `json:"fileInfo,omitempty"`
	Reason       string                         `json:"reason,omitempty"`
}

// Validate checks that the envelope carries the fields its event requires.
func (e *Envelope) Validate() error {
	if e.FromUserID == "" {
		return fmt.Errorf("%w: %s without fromUserId", ErrMalformedEnvelope, e.Event)
	}

	switch e.Event {
	case EventOffer:
		if e.Offer == nil || e.FileInfo == nil {
			return fmt.Errorf("%w: offer requires offer and fileInfo", ErrMalformedEnvelope)
		}
	case EventAnswer:
		if e.Answer == nil {
			return fmt.Errorf("%w: answer requires answer", ErrMalformedEnvelope)
		}
	case EventICECandidate:
		if e.Candidate == nil {
			return fmt.Errorf("%w: ice candidate requires candidate", ErrMalformedEnvelope)
		}
	case EventRejected:
	case EventFileRequest:
		if e.FileInfo == nil {
			return fmt.Errorf("%w: file request requires fileInfo", ErrMalformedEnvelope)
		}
	default:
		return fmt.Errorf("%w: unknown event %q", ErrMalformedEnvelope, e.Event)
	}
	return nil
}

// Marshal encodes the envelope as JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope decodes and validates a JSON envelope.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}
