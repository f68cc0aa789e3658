package file

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/webdrop/fileinfo"
	"github.com/opd-ai/webdrop/interfaces"
	"github.com/opd-ai/webdrop/signaling"
	simnet "github.com/opd-ai/webdrop/testing"
	"github.com/stretchr/testify/require"
)

// mockTimeProvider provides deterministic time for testing.
type mockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

func (m *mockTimeProvider) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{
		currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// eventRecorder is a non-blocking Publisher that keeps every event.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *eventRecorder) ofKind(kind EventKind) []Event {
	var out []Event
	for _, e := range r.all() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) statuses(id string) []TransferStatus {
	var out []TransferStatus
	for _, e := range r.ofKind(EventTransferProgress) {
		if e.TransferID() != id {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != e.Snapshot.Status {
			out = append(out, e.Snapshot.Status)
		}
	}
	return out
}

// waitKind blocks until an event of kind has been published and returns
// the first one.
func (r *eventRecorder) waitKind(t *testing.T, kind EventKind) Event {
	t.Helper()
	var found Event
	require.Eventually(t, func() bool {
		events := r.ofKind(kind)
		if len(events) == 0 {
			return false
		}
		found = events[0]
		return true
	}, waitTimeout, pollInterval, "no %s event", kind)
	return found
}

// mockConnection is a DirectConnection recording what the session does.
type mockConnection struct {
	mu         sync.Mutex
	sent       [][]byte
	candidates []interfaces.ICECandidate
	closed     bool
	sendErr    error
	addErr     error
}

func (c *mockConnection) CreateOffer(context.Context) (interfaces.SessionDescription, error) {
	return interfaces.SessionDescription{Type: interfaces.SDPTypeOffer, SDP: "mock-offer"}, nil
}

func (c *mockConnection) AcceptOffer(context.Context, interfaces.SessionDescription) (interfaces.SessionDescription, error) {
	return interfaces.SessionDescription{Type: interfaces.SDPTypeAnswer, SDP: "mock-answer"}, nil
}

func (c *mockConnection) AcceptAnswer(interfaces.SessionDescription) error { return nil }

func (c *mockConnection) AddICECandidate(candidate interfaces.ICECandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addErr != nil {
		return c.addErr
	}
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *mockConnection) OnICECandidate(func(interfaces.ICECandidate)) {}
func (c *mockConnection) OnOpen(func())                                {}
func (c *mockConnection) OnMessage(func([]byte))                       {}
func (c *mockConnection) OnClose(func(error))                          {}

func (c *mockConnection) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closed {
		return errors.New("mock connection closed")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.sent = append(c.sent, buf)
	return nil
}

func (c *mockConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *mockConnection) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *mockConnection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type sentReject struct {
	peerID     string
	transferID string
	reason     string
}

// recordingSignaler records outbound signaling without delivering it.
type recordingSignaler struct {
	mu         sync.Mutex
	offers     []string
	answers    []string
	candidates int
	rejects    []sentReject
	requests   []fileinfo.Descriptor
}

func (s *recordingSignaler) SendOffer(_, transferID string, _ interfaces.SessionDescription, _ fileinfo.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = append(s.offers, transferID)
	return nil
}

func (s *recordingSignaler) SendAnswer(_, transferID string, _ interfaces.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, transferID)
	return nil
}

func (s *recordingSignaler) SendICECandidate(string, string, interfaces.ICECandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates++
	return nil
}

func (s *recordingSignaler) SendReject(peerID, transferID, reason string, _ *fileinfo.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects = append(s.rejects, sentReject{peerID, transferID, reason})
	return nil
}

func (s *recordingSignaler) SendFileRequest(_ string, info fileinfo.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, info)
	return nil
}

func (s *recordingSignaler) sentRejects() []sentReject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentReject(nil), s.rejects...)
}

func (s *recordingSignaler) sentOffers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.offers...)
}

// managerHandler feeds bridge events into a Manager.
type managerHandler struct {
	m *Manager
}

func (h managerHandler) OnOffer(from, id string, offer interfaces.SessionDescription, info fileinfo.Descriptor) {
	h.m.OnOfferReceived(from, id, offer, info)
}

func (h managerHandler) OnAnswer(from, id string, answer interfaces.SessionDescription) {
	h.m.OnAnswerReceived(from, id, answer)
}

func (h managerHandler) OnICECandidate(from, id string, candidate interfaces.ICECandidate) {
	h.m.OnICECandidate(from, id, candidate)
}

func (h managerHandler) OnRejected(from, id, reason string, _ *fileinfo.Descriptor) {
	h.m.OnRejected(from, id, reason)
}

func (h managerHandler) OnFileRequest(string, fileinfo.Descriptor) {}

// testPeer is one user with its own manager on a shared simulated network.
type testPeer struct {
	id      string
	manager *Manager
	events  *eventRecorder
	bridge  *signaling.Bridge
}

func newTestPeer(t *testing.T, id string, relay *simnet.SimulatedRelay, network *simnet.SimulatedNetwork, config ManagerConfig) *testPeer {
	t.Helper()
	events := &eventRecorder{}
	bridge := relay.Join(id)
	m, err := NewManager(bridge, network, events, config)
	require.NoError(t, err)
	bridge.SetHandler(managerHandler{m})
	t.Cleanup(func() { m.Close() })
	return &testPeer{id: id, manager: m, events: events, bridge: bridge}
}

// newPeerPair connects alice and bob through an in-memory relay and network.
func newPeerPair(t *testing.T, config ManagerConfig) (*testPeer, *testPeer, *simnet.SimulatedNetwork, *simnet.SimulatedRelay) {
	t.Helper()
	network := simnet.NewSimulatedNetwork(nil)
	relay := simnet.NewSimulatedRelay()
	t.Cleanup(relay.Close)
	alice := newTestPeer(t, "alice", relay, network, config)
	bob := newTestPeer(t, "bob", relay, network, config)
	return alice, bob, network, relay
}
