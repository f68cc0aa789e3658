package signaling

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/webdrop/fileinfo"
	"github.com/opd-ai/webdrop/interfaces"
)

// ErrNoRelay indicates the bridge was created without a relay.
var ErrNoRelay = errors.New("signaling relay not configured")

// Relay delivers envelopes to the user named by TargetUserID.
type Relay interface {
	Send(env *Envelope) error
}

// RelayFunc adapts a function to Relay.
type RelayFunc func(env *Envelope) error

// Send implements Relay.
func (f RelayFunc) Send(env *Envelope) error {
	return f(env)
}

// Handler consumes inbound signaling events.
type Handler interface {
	OnOffer(fromUserID, transferID string, offer interfaces.SessionDescription, info fileinfo.Descriptor)
	OnAnswer(fromUserID, transferID string, answer interfaces.SessionDescription)
	OnICECandidate(fromUserID, transferID string, candidate interfaces.ICECandidate)
	OnRejected(fromUserID, transferID, reason string, info *fileinfo.Descriptor)
	OnFileRequest(fromUserID string, info fileinfo.Descriptor)
}

// Bridge converts relay envelopes into Handler calls and implements
// interfaces.Signaler on top of a Relay.
type Bridge struct {
	relay       Relay
	localUserID string

	mu      sync.RWMutex
	handler Handler
}

var _ interfaces.Signaler = (*Bridge)(nil)

// NewBridge creates a bridge sending through relay on behalf of localUserID.
func NewBridge(relay Relay, localUserID string) *Bridge {
	logrus.WithFields(logrus.Fields{
		"function":   "NewBridge",
		"local_user": localUserID,
	}).Debug("Creating signaling bridge")

	return &Bridge{
		relay:       relay,
		localUserID: localUserID,
	}
}

// LocalUserID returns the user this bridge sends as.
func (b *Bridge) LocalUserID() string {
	return b.localUserID
}

// SetHandler registers the consumer of inbound events.
func (b *Bridge) SetHandler(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Dispatch routes one inbound envelope to the handler. Malformed envelopes
// are logged and returned as errors; envelopes arriving before a handler is
// registered are dropped.
func (b *Bridge) Dispatch(env *Envelope) error {
	if err := env.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Dispatch",
			"event":    env.Event,
			"from":     env.FromUserID,
			"error":    err.Error(),
		}).Warn("Dropping malformed signaling envelope")
		return err
	}

	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()

	if h == nil {
		logrus.WithFields(logrus.Fields{
			"function": "Dispatch",
			"event":    env.Event,
			"from":     env.FromUserID,
		}).Warn("No signaling handler registered, dropping envelope")
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Dispatch",
		"event":       env.Event,
		"from":        env.FromUserID,
		"transfer_id": env.TransferID,
	}).Debug("Dispatching signaling envelope")

	switch env.Event {
	case EventOffer:
		h.OnOffer(env.FromUserID, env.TransferID, *env.Offer, *env.FileInfo)
	case EventAnswer:
		h.OnAnswer(env.FromUserID, env.TransferID, *env.Answer)
	case EventICECandidate:
		h.OnICECandidate(env.FromUserID, env.TransferID, *env.Candidate)
	case EventRejected:
		h.OnRejected(env.FromUserID, env.TransferID, env.Reason, env.FileInfo)
	case EventFileRequest:
		h.OnFileRequest(env.FromUserID, *env.FileInfo)
	}
	return nil
}

// SendOffer implements interfaces.Signaler.
func (b *Bridge) SendOffer(peerID, transferID string, offer interfaces.SessionDescription, info fileinfo.Descriptor) error {
	return b.send(&Envelope{
		Event:        EventOffer,
		TargetUserID: peerID,
		TransferID:   transferID,
		Offer:        &offer,
		FileInfo:     &info,
	})
}

// SendAnswer implements interfaces.Signaler.
func (b *Bridge) SendAnswer(peerID, transferID string, answer interfaces.SessionDescription) error {
	return b.send(&Envelope{
		Event:        EventAnswer,
		TargetUserID: peerID,
		TransferID:   transferID,
		Answer:       &answer,
	})
}

// SendICECandidate implements interfaces.Signaler.
func (b *Bridge) SendICECandidate(peerID, transferID string, candidate interfaces.ICECandidate) error {
	return b.send(&Envelope{
		Event:        EventICECandidate,
		TargetUserID: peerID,
		TransferID:   transferID,
		Candidate:    &candidate,
	})
}

// SendReject implements interfaces.Signaler.
func (b *Bridge) SendReject(peerID, transferID, reason string, info *fileinfo.Descriptor) error {
	return b.send(&Envelope{
		Event:        EventRejected,
		TargetUserID: peerID,
		TransferID:   transferID,
		Reason:       reason,
		FileInfo:     info,
	})
}

// SendFileRequest implements interfaces.Signaler.
func (b *Bridge) SendFileRequest(peerID string, info fileinfo.Descriptor) error {
	return b.send(&Envelope{
		Event:        EventFileRequest,
		TargetUserID: peerID,
		FileInfo:     &info,
	})
}

func (b *Bridge) send(env *Envelope) error {
	if b.relay == nil {
		return ErrNoRelay
	}
	env.FromUserID = b.localUserID

	if err := b.relay.Send(env); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "send",
			"event":       env.Event,
			"target":      env.TargetUserID,
			"transfer_id": env.TransferID,
			"error":       err.Error(),
		}).Error("Failed to relay signaling envelope")
		return err
	}
	return nil
}
