package signaling

import (
	"sync"

	"github.com/opd-ai/webdrop/fileinfo"
	"github.com/opd-ai/webdrop/interfaces"
)

// recordingHandler records every inbound event for verification.
type recordingHandler struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	event      Event
	from       string
	transferID string
	offer      interfaces.SessionDescription
	answer     interfaces.SessionDescription
	candidate  interfaces.ICECandidate
	info       *fileinfo.Descriptor
	reason     string
}

func (h *recordingHandler) record(e recordedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *recordingHandler) snapshot() []recordedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]recordedEvent, len(h.events))
	copy(out, h.events)
	return out
}

func (h *recordingHandler) OnOffer(from, transferID string, offer interfaces.SessionDescription, info fileinfo.Descriptor) {
	h.record(recordedEvent{event: EventOffer, from: from, transferID: transferID, offer: offer, info: &info})
}

func (h *recordingHandler) OnAnswer(from, transferID string, answer interfaces.SessionDescription) {
	h.record(recordedEvent{event: EventAnswer, from: from, transferID: transferID, answer: answer})
}

func (h *recordingHandler) OnICECandidate(from, transferID string, candidate interfaces.ICECandidate) {
	h.record(recordedEvent{event: EventICECandidate, from: from, transferID: transferID, candidate: candidate})
}

func (h *recordingHandler) OnRejected(from, transferID, reason string, info *fileinfo.Descriptor) {
	h.record(recordedEvent{event: EventRejected, from: from, transferID: transferID, reason: reason, info: info})
}

func (h *recordingHandler) OnFileRequest(from string, info fileinfo.Descriptor) {
	h.record(recordedEvent{event: EventFileRequest, from: from, info: &info})
}

// captureRelay records sent envelopes.
type captureRelay struct {
	mu   sync.Mutex
	sent []*Envelope
	err  error
}

func (r *captureRelay) Send(env *Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, env)
	return nil
}

func (r *captureRelay) last() *Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return nil
	}
	return r.sent[len(r.sent)-1]
}
