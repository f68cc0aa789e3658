package webdrop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/webdrop/file"
	simnet "github.com/opd-ai/webdrop/testing"
)

// mockTimeProvider provides deterministic time for testing.
type mockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
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

// eventCollector drains a subscription and keeps every event.
type eventCollector struct {
	mu     sync.Mutex
	events []file.Event
	done   chan struct{}
}

func collect(sub *Subscription) *eventCollector {
	c := &eventCollector{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		for e := range sub.Events() {
			c.mu.Lock()
			c.events = append(c.events, e)
			c.mu.Unlock()
		}
	}()
	return c
}

func (c *eventCollector) all() []file.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]file.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *eventCollector) find(match func(file.Event) bool) (file.Event, bool) {
	for _, e := range c.all() {
		if match(e) {
			return e, true
		}
	}
	return file.Event{}, false
}

// waitFor blocks until an event matching match has been collected.
func (c *eventCollector) waitFor(t *testing.T, what string, match func(file.Event) bool) file.Event {
	t.Helper()
	var found file.Event
	require.Eventually(t, func() bool {
		e, ok := c.find(match)
		found = e
		return ok
	}, waitTimeout, pollInterval, "no %s event", what)
	return found
}

func (c *eventCollector) waitKind(t *testing.T, kind file.EventKind) file.Event {
	t.Helper()
	return c.waitFor(t, kind.String(), func(e file.Event) bool { return e.Kind == kind })
}

func (c *eventCollector) waitStatus(t *testing.T, id string, status file.TransferStatus) {
	t.Helper()
	c.waitFor(t, status.String(), func(e file.Event) bool {
		return e.Kind == file.EventTransferProgress && e.TransferID() == id && e.Snapshot.Status == status
	})
}

// statuses returns the distinct consecutive statuses published for id.
func (c *eventCollector) statuses(id string) []file.TransferStatus {
	var out []file.TransferStatus
	for _, e := range c.all() {
		if e.Kind != file.EventTransferProgress || e.TransferID() != id {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != e.Snapshot.Status {
			out = append(out, e.Snapshot.Status)
		}
	}
	return out
}

type testClient struct {
	id     string
	coord  *Coordinator
	events *eventCollector
}

func newTestClient(t *testing.T, id string, relay *simnet.SimulatedRelay, network *simnet.SimulatedNetwork, options *Options) *testClient {
	t.Helper()
	if options == nil {
		options = NewOptions()
	}
	c, err := New(relay.Join(id), network, options)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return &testClient{id: id, coord: c, events: collect(c.Subscribe())}
}

// newClients connects one client per id through a shared relay and
// network.
func newClients(t *testing.T, ids ...string) ([]*testClient, *simnet.SimulatedNetwork, *simnet.SimulatedRelay) {
	t.Helper()
	network := simnet.NewSimulatedNetwork(nil)
	relay := simnet.NewSimulatedRelay()
	t.Cleanup(relay.Close)

	clients := make([]*testClient, 0, len(ids))
	for _, id := range ids {
		clients = append(clients, newTestClient(t, id, relay, network, nil))
	}
	return clients, network, relay
}
