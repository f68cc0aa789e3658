package testing

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/webdrop/signaling"
	"github.com/sirupsen/logrus"
)

// ErrUnknownUser is returned when an envelope targets a user that never
// joined the relay.
var ErrUnknownUser = errors.New("target user not connected to relay")

// SimulatedRelay is an in-memory signaling relay. Envelopes are JSON encoded
// on send and decoded on delivery, like the WebSocket relay.
type SimulatedRelay struct {
	mu      sync.RWMutex
	members map[string]*relayMember
	log     []signaling.Envelope
	filter  func(*signaling.Envelope) bool
}

type relayMember struct {
	bridge *signaling.Bridge
	queue  *dispatcher
}

// NewSimulatedRelay creates a relay with no members.
func NewSimulatedRelay() *SimulatedRelay {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")
	return &SimulatedRelay{members: make(map[string]*relayMember)}
}

// Join creates a bridge for userID that sends through this relay and
// receives the envelopes addressed to userID.
func (r *SimulatedRelay) Join(userID string) *signaling.Bridge {
	bridge := signaling.NewBridge(r.Endpoint(userID), userID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.members[userID]; ok {
		old.queue.stop()
	}
	r.members[userID] = &relayMember{bridge: bridge, queue: newDispatcher()}

	logrus.WithFields(logrus.Fields{
		"function": "SimulatedRelay.Join",
		"user_id":  userID,
	}).Debug("User joined simulated relay")
	return bridge
}

// Endpoint returns the Relay userID sends through.
func (r *SimulatedRelay) Endpoint(userID string) signaling.Relay {
	return signaling.RelayFunc(func(env *signaling.Envelope) error {
		env.FromUserID = userID
		return r.route(env)
	})
}

// SetFilter installs a predicate deciding which envelopes are delivered.
// Dropped envelopes are still logged.
func (r *SimulatedRelay) SetFilter(filter func(*signaling.Envelope) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filter = filter
}

// Envelopes returns every envelope sent through the relay.
func (r *SimulatedRelay) Envelopes() []signaling.Envelope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]signaling.Envelope, len(r.log))
	copy(out, r.log)
	return out
}

// Count returns how many envelopes of the given event were sent.
func (r *SimulatedRelay) Count(event signaling.Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, env := range r.log {
		if env.Event == event {
			n++
		}
	}
	return n
}

// Close stops delivery to every member.
func (r *SimulatedRelay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		m.queue.stop()
	}
}

func (r *SimulatedRelay) route(env *signaling.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.log = append(r.log, *env)
	target, ok := r.members[env.TargetUserID]
	filter := r.filter
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUser, env.TargetUserID)
	}
	if filter != nil && !filter(env) {
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedRelay.route",
			"event":    env.Event,
			"target":   env.TargetUserID,
		}).Debug("Envelope dropped by filter")
		return nil
	}

	target.queue.post(func() {
		decoded, err := signaling.UnmarshalEnvelope(data)
		if err != nil {
			return
		}
		_ = target.bridge.Dispatch(decoded)
	})
	return nil
}
