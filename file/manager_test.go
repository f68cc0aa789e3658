package file

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/opd-ai/webdrop/fileinfo"
	"github.com/opd-ai/webdrop/interfaces"
	"github.com/opd-ai/webdrop/limits"
	"github.com/opd-ai/webdrop/signaling"
	simnet "github.com/opd-ai/webdrop/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() ManagerConfig {
	config := DefaultManagerConfig()
	config.ChunkSize = testChunkSize
	return config
}

func newRecordingManager(t *testing.T, config ManagerConfig) (*Manager, *recordingSignaler, *simnet.SimulatedNetwork, *eventRecorder) {
	t.Helper()
	signaler := &recordingSignaler{}
	network := simnet.NewSimulatedNetwork(nil)
	events := &eventRecorder{}
	m, err := NewManager(signaler, network, events, config)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, signaler, network, events
}

func waitStatus(t *testing.T, m *Manager, id string, want TransferStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, ok := m.Lookup(id)
		return ok && s.Status() == want
	}, waitTimeout, pollInterval, "transfer %s never reached %s", id, want)
}

func TestNewManagerValidatesConfig(t *testing.T) {
	config := DefaultManagerConfig()
	config.ChunkSize = 0
	_, err := NewManager(&recordingSignaler{}, simnet.NewSimulatedNetwork(nil), nil, config)
	assert.Error(t, err)

	config = DefaultManagerConfig()
	config.RetireGrace = 0
	_, err = NewManager(&recordingSignaler{}, simnet.NewSimulatedNetwork(nil), nil, config)
	assert.Error(t, err)
}

func TestInitiateDuplicateDescriptorIsPeerBusy(t *testing.T) {
	m, signaler, _, _ := newRecordingManager(t, testConfig())
	ctx := context.Background()
	payload := testPayload(testFileSize1KB)
	descA := fileinfo.FromBytes("a.bin", payload, "")

	first, err := m.Initiate(ctx, "bob", descA, payload)
	require.NoError(t, err)

	_, err = m.Initiate(ctx, "bob", descA, payload)
	assert.ErrorIs(t, err, ErrPeerBusy)
	assert.Equal(t, 1, m.Active())

	descB := fileinfo.FromBytes("b.bin", payload, "")
	second, err := m.Initiate(ctx, "bob", descB, payload)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, m.Active())

	_, err = m.Initiate(ctx, "carol", descA, payload)
	assert.NoError(t, err, "the same file may go to another peer")

	require.Eventually(t, func() bool { return len(signaler.sentOffers()) == 3 }, waitTimeout, pollInterval)
	waitStatus(t, m, first, StatusConnecting)
}

func TestInitiateValidatesInput(t *testing.T) {
	m, _, _, _ := newRecordingManager(t, testConfig())
	ctx := context.Background()

	_, err := m.Initiate(ctx, "bob", fileinfo.New("empty.bin", 0, ""), nil)
	assert.Error(t, err)

	_, err = m.Initiate(ctx, "bob", fileinfo.New("a.bin", 10, ""), testPayload(5))
	assert.ErrorIs(t, err, ErrSizeMismatch)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = m.Initiate(cancelled, "bob", fileinfo.New("a.bin", 5, ""), testPayload(5))
	assert.ErrorIs(t, err, context.Canceled)

	assert.Zero(t, m.Active())
}

func TestInitiateConnectionFailure(t *testing.T) {
	m, _, network, events := newRecordingManager(t, testConfig())
	network.FailNextConnection(errors.New("no route to peer"))
	payload := testPayload(64)

	id, err := m.Initiate(context.Background(), "bob", fileinfo.FromBytes("a.bin", payload, ""), payload)
	require.NoError(t, err)

	waitStatus(t, m, id, StatusFailed)
	e := events.waitKind(t, EventTransferError)
	assert.Equal(t, id, e.TransferID())
	assert.ErrorIs(t, e.Err, ErrConnectionFailed)
	assert.Zero(t, m.Active())
}

func TestFiftyKiBTransferScenario(t *testing.T) {
	alice, bob, network, _ := newPeerPair(t, testConfig())
	payload := testPayload(testFileSize50KB)
	desc := fileinfo.FromBytes("photo.jpg", payload, "image/jpeg")

	aliceID, err := alice.manager.Initiate(context.Background(), "bob", desc, payload)
	require.NoError(t, err)

	request := bob.events.waitKind(t, EventIncomingRequest)
	assert.Equal(t, aliceID, request.TransferID(), "both sides share the transfer id")
	assert.Equal(t, "alice", request.Snapshot.PeerID)
	assert.Equal(t, desc, request.Snapshot.Descriptor)
	require.NoError(t, bob.manager.Accept(context.Background(), request.TransferID()))

	complete := bob.events.waitKind(t, EventTransferComplete)
	assert.Equal(t, payload, complete.File.Bytes)
	assert.Equal(t, desc, complete.File.Descriptor)
	assert.Equal(t, StatusCompleted, complete.Snapshot.Status)
	assert.Equal(t, uint64(51200), complete.Snapshot.BytesTransferred)

	waitStatus(t, alice.manager, aliceID, StatusCompleted)
	waitStatus(t, bob.manager, aliceID, StatusCompleted)

	var frameSizes []int
	for _, rec := range network.GetDeliveryLog() {
		if rec.From == "alice" && rec.To == "bob" {
			frameSizes = append(frameSizes, rec.Size-limits.FrameHeaderSize)
		}
	}
	assert.Equal(t, []int{16384, 16384, 16384, 2048}, frameSizes)

	assert.Empty(t, bob.events.ofKind(EventTransferError))
	assert.Empty(t, alice.events.ofKind(EventTransferError))
	assert.Equal(t,
		[]TransferStatus{StatusNegotiating, StatusConnecting, StatusInProgress, StatusCompleted},
		bob.events.statuses(aliceID))
}

func TestConcurrentTransfersToSamePeer(t *testing.T) {
	alice, bob, _, _ := newPeerPair(t, testConfig())
	ctx := context.Background()

	payloads := map[string][]byte{
		"one.bin": testPayload(40000),
		"two.bin": testPayload(70000),
	}
	for name, payload := range payloads {
		_, err := alice.manager.Initiate(ctx, "bob", fileinfo.FromBytes(name, payload, ""), payload)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(bob.events.ofKind(EventIncomingRequest)) == 2
	}, waitTimeout, pollInterval)
	for _, req := range bob.events.ofKind(EventIncomingRequest) {
		require.NoError(t, bob.manager.Accept(ctx, req.TransferID()))
	}

	require.Eventually(t, func() bool {
		return len(bob.events.ofKind(EventTransferComplete)) == 2
	}, waitTimeout, pollInterval)
	for _, e := range bob.events.ofKind(EventTransferComplete) {
		assert.Equal(t, payloads[e.File.Descriptor.Name], e.File.Bytes)
	}
}

func TestRejectBeforeAcceptScenario(t *testing.T) {
	alice, bob, network, _ := newPeerPair(t, testConfig())
	payload := testPayload(testFileSize1KB)

	aliceID, err := alice.manager.Initiate(context.Background(), "bob", fileinfo.FromBytes("a.txt", payload, "text/plain"), payload)
	require.NoError(t, err)

	request := bob.events.waitKind(t, EventIncomingRequest)
	require.NoError(t, bob.manager.Reject(request.TransferID(), ReasonDeclined))

	waitStatus(t, bob.manager, aliceID, StatusRejected)
	waitStatus(t, alice.manager, aliceID, StatusRejected)

	for _, conn := range network.Connections() {
		assert.False(t, conn.IsOpen(), "no data channel may open")
	}
	assert.Len(t, network.Connections(), 1, "bob never creates a connection")
	assert.Empty(t, network.GetDeliveryLog())
	assert.Zero(t, alice.manager.Active())
	assert.Zero(t, bob.manager.Active())
}

func TestCancelBeforeAnswerNotifiesPeer(t *testing.T) {
	alice, bob, _, relay := newPeerPair(t, testConfig())
	payload := testPayload(testFileSize1KB)

	id, err := alice.manager.Initiate(context.Background(), "bob", fileinfo.FromBytes("a.txt", payload, ""), payload)
	require.NoError(t, err)
	bob.events.waitKind(t, EventIncomingRequest)

	require.NoError(t, alice.manager.Cancel(id))
	assert.Equal(t, StatusCancelled, mustLookup(t, alice.manager, id).Status())

	waitStatus(t, bob.manager, id, StatusCancelled)
	assert.Equal(t, 1, relay.Count(signaling.EventRejected))
}

func TestCancelMidStreamOverNetwork(t *testing.T) {
	config := testConfig()
	config.ChunkSize = 1024
	alice, bob, network, _ := newPeerPair(t, config)
	payload := testPayload(64 * 1024)

	network.HoldDelivery()
	id, err := alice.manager.Initiate(context.Background(), "bob", fileinfo.FromBytes("big.bin", payload, ""), payload)
	require.NoError(t, err)
	request := bob.events.waitKind(t, EventIncomingRequest)
	require.NoError(t, bob.manager.Accept(context.Background(), request.TransferID()))
	waitStatus(t, bob.manager, id, StatusInProgress)

	network.ReleaseDelivery(1)
	require.Eventually(t, func() bool {
		return mustLookup(t, bob.manager, id).Snapshot().BytesTransferred == 1024
	}, waitTimeout, pollInterval)

	require.NoError(t, bob.manager.Cancel(id))
	assert.Equal(t, StatusCancelled, mustLookup(t, bob.manager, id).Status())
	cancelledAt := len(bob.events.all())

	network.ReleaseDelivery(-1)
	require.Eventually(t, func() bool { return network.Held() == 0 }, waitTimeout, pollInterval)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, cancelledAt, len(bob.events.all()), "no event after cancellation")
	assert.Empty(t, bob.events.ofKind(EventTransferComplete))
	assert.Equal(t, uint64(1024), mustLookup(t, bob.manager, id).Snapshot().BytesTransferred)
}

func TestSenderCancelMidStreamSurvivesDroppedFrames(t *testing.T) {
	config := testConfig()
	config.ChunkSize = 1024
	alice, bob, network, _ := newPeerPair(t, config)
	network.SetDropOnClose(true)
	network.SetSendWindow(4)
	payload := testPayload(64 * 1024)

	network.HoldDelivery()
	id, err := alice.manager.Initiate(context.Background(), "bob", fileinfo.FromBytes("big.bin", payload, ""), payload)
	require.NoError(t, err)
	request := bob.events.waitKind(t, EventIncomingRequest)
	require.NoError(t, bob.manager.Accept(context.Background(), request.TransferID()))
	waitStatus(t, alice.manager, id, StatusInProgress)
	waitStatus(t, bob.manager, id, StatusInProgress)

	cancelled := make(chan error, 1)
	go func() { cancelled <- alice.manager.Cancel(id) }()
	waitStatus(t, alice.manager, id, StatusCancelled)
	network.ReleaseDelivery(-1)

	select {
	case err := <-cancelled:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Cancel did not return")
	}

	waitStatus(t, bob.manager, id, StatusCancelled)
	assert.Empty(t, bob.events.ofKind(EventTransferError))
	assert.Empty(t, alice.events.ofKind(EventTransferError))
	assert.Empty(t, bob.events.ofKind(EventTransferComplete))
}

func TestDuplicateOfferIsRejected(t *testing.T) {
	m, signaler, _, events := newRecordingManager(t, testConfig())
	desc := fileinfo.New("a.bin", 10, "")
	offer := interfaces.SessionDescription{Type: interfaces.SDPTypeOffer, SDP: "x"}

	first := m.OnOfferReceived("alice", "t1", offer, desc)
	require.Equal(t, "t1", first)
	assert.Empty(t, m.OnOfferReceived("alice", "t2", offer, desc))
	assert.Empty(t, m.OnOfferReceived("alice", "t1", offer, fileinfo.New("other.bin", 3, "")), "repeated id")

	assert.Equal(t, []sentReject{{"alice", "t2", ReasonDuplicate}}, signaler.sentRejects())
	assert.Len(t, events.ofKind(EventIncomingRequest), 1)
	assert.Equal(t, 1, m.Active())
}

func TestInvalidOfferIsRejected(t *testing.T) {
	m, signaler, _, events := newRecordingManager(t, testConfig())
	offer := interfaces.SessionDescription{Type: interfaces.SDPTypeOffer, SDP: "x"}

	assert.Empty(t, m.OnOfferReceived("alice", "t1", offer, fileinfo.New("", 10, "")))
	assert.Empty(t, m.OnOfferReceived("alice", "t2", offer, fileinfo.New("a.bin", 0, "")))

	rejects := signaler.sentRejects()
	require.Len(t, rejects, 2)
	for _, r := range rejects {
		assert.Equal(t, ReasonInvalidFile, r.reason)
	}
	assert.Empty(t, events.all())
	assert.Zero(t, m.Active())
}

func TestAcceptTwiceFails(t *testing.T) {
	m, _, network, _ := newRecordingManager(t, testConfig())
	offerer, err := network.NewConnection("bob")
	require.NoError(t, err)
	offer, err := offerer.CreateOffer(context.Background())
	require.NoError(t, err)

	id := m.OnOfferReceived("alice", "t1", offer, fileinfo.New("a.bin", 10, ""))
	require.NoError(t, m.Accept(context.Background(), id))
	assert.ErrorIs(t, m.Accept(context.Background(), id), ErrInvalidTransition)
	assert.ErrorIs(t, m.Accept(context.Background(), "missing"), ErrTransferNotFound)
}

func TestICECandidatesBufferedUntilAccepted(t *testing.T) {
	m, _, network, _ := newRecordingManager(t, testConfig())
	offerer, err := network.NewConnection("bob")
	require.NoError(t, err)
	offer, err := offerer.CreateOffer(context.Background())
	require.NoError(t, err)

	candidate := interfaces.ICECandidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}
	m.OnICECandidate("alice", "t1", candidate)
	assert.Equal(t, 1, m.PendingCandidates("alice", "t1"), "arrives before the offer")

	id := m.OnOfferReceived("alice", "t1", offer, fileinfo.New("a.bin", 10, ""))
	m.OnICECandidate("alice", id, candidate)
	assert.Equal(t, 2, m.PendingCandidates("alice", id), "arrives before accept")

	require.NoError(t, m.Accept(context.Background(), id))
	assert.Zero(t, m.PendingCandidates("alice", id))

	var answerer *simnet.SimulatedConnection
	for _, c := range network.Connections() {
		if c.PeerID() == "alice" {
			answerer = c
		}
	}
	require.NotNil(t, answerer)
	assert.Len(t, answerer.RemoteCandidates(), 2)

	m.OnICECandidate("alice", id, candidate)
	assert.Len(t, answerer.RemoteCandidates(), 3, "applied directly once ready")
}

func TestICECandidateBufferIsBounded(t *testing.T) {
	config := testConfig()
	config.ICECandidateBufferLimit = 4
	config.MaxPendingTransfers = 2
	m, _, _, _ := newRecordingManager(t, config)

	for i := 0; i < 10; i++ {
		m.OnICECandidate("alice", "t1", interfaces.ICECandidate{Candidate: "c"})
	}
	assert.Equal(t, 4, m.PendingCandidates("alice", "t1"))

	m.OnICECandidate("alice", "t2", interfaces.ICECandidate{Candidate: "c"})
	m.OnICECandidate("alice", "t3", interfaces.ICECandidate{Candidate: "c"})
	assert.Zero(t, m.PendingCandidates("alice", "t1"), "oldest transfer evicted")
	assert.Equal(t, 1, m.PendingCandidates("alice", "t3"))
}

func TestICECandidateRetriesAreBounded(t *testing.T) {
	config := testConfig()
	config.ICECandidateMaxAttempts = 2
	m, _, _, _ := newRecordingManager(t, config)

	s := m.newSessionForTest("alice", "t1", DirectionInbound)
	conn := &mockConnection{addErr: errors.New("bad candidate")}
	require.NoError(t, s.connect(conn))
	s.markRemoteReady()

	m.OnICECandidate("alice", "t1", interfaces.ICECandidate{Candidate: "c"})
	assert.Equal(t, 1, m.PendingCandidates("alice", "t1"), "first failure is kept for retry")

	m.flushCandidates(s)
	assert.Zero(t, m.PendingCandidates("alice", "t1"), "dropped after the last attempt")
}

func TestLegacyEnvelopeRouting(t *testing.T) {
	m, _, _, _ := newRecordingManager(t, testConfig())
	offer := interfaces.SessionDescription{Type: interfaces.SDPTypeOffer, SDP: "x"}

	id := m.OnOfferReceived("alice", "", offer, fileinfo.New("a.bin", 10, ""))
	require.NotEmpty(t, id, "an id is assigned locally")

	assert.False(t, m.OnRejected("mallory", "", ReasonCancelled), "other peers cannot touch it")
	assert.False(t, m.OnRejected("mallory", id, ReasonCancelled))
	assert.True(t, m.OnRejected("alice", "", ReasonCancelled))
	assert.Equal(t, StatusCancelled, mustLookup(t, m, id).Status())

	first := m.OnOfferReceived("alice", "", offer, fileinfo.New("b.bin", 10, ""))
	second := m.OnOfferReceived("alice", "", offer, fileinfo.New("c.bin", 10, ""))
	require.NotEmpty(t, first)
	require.NotEmpty(t, second)
	assert.False(t, m.OnRejected("alice", "", ReasonCancelled), "ambiguous without an id")
}

func TestLegacyRejectLeavesInboundOffersAlone(t *testing.T) {
	m, _, _, _ := newRecordingManager(t, testConfig())
	offer := interfaces.SessionDescription{Type: interfaces.SDPTypeOffer, SDP: "x"}

	inbound := m.OnOfferReceived("alice", "in-1", offer, fileinfo.New("y.txt", 10, ""))
	require.NotEmpty(t, inbound)

	for _, reason := range []string{ReasonFileNotAvailable, ReasonDeclined, ReasonDuplicate} {
		assert.False(t, m.OnRejected("alice", "", reason), "reason %q", reason)
	}
	assert.Equal(t, StatusNegotiating, mustLookup(t, m, inbound).Status())
}

func TestLegacyRejectAnswersPendingOutboundOffer(t *testing.T) {
	m, signaler, _, _ := newRecordingManager(t, testConfig())
	payload := testPayload(testFileSize1KB)

	id, err := m.Initiate(context.Background(), "bob", fileinfo.FromBytes("a.bin", payload, ""), payload)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(signaler.sentOffers()) == 1 }, waitTimeout, pollInterval)

	assert.True(t, m.OnRejected("bob", "", ReasonDeclined))
	assert.Equal(t, StatusRejected, mustLookup(t, m, id).Status())
}

func TestRetiredSessionsRemainVisible(t *testing.T) {
	m, _, _, _ := newRecordingManager(t, testConfig())
	offer := interfaces.SessionDescription{Type: interfaces.SDPTypeOffer, SDP: "x"}

	id := m.OnOfferReceived("alice", "t1", offer, fileinfo.New("a.bin", 10, ""))
	require.NoError(t, m.Reject(id, ""))

	assert.Zero(t, m.Active())
	s, ok := m.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, StatusRejected, s.Status())
	assert.Empty(t, m.Snapshots())

	assert.ErrorIs(t, m.Cancel(id), ErrTransferNotFound)
	assert.ErrorIs(t, m.Reject(id, "again"), ErrTransferNotFound)
	assert.Empty(t, m.OnOfferReceived("alice", "t1", offer, fileinfo.New("a.bin", 10, "")), "retired ids are not reused")
}

func TestRetiredSessionsExpireDespiteLookups(t *testing.T) {
	config := testConfig()
	config.RetireGrace = time.Second
	m, _, _, _ := newRecordingManager(t, config)
	clock := newMockTimeProvider()
	m.SetTimeProvider(clock)
	offer := interfaces.SessionDescription{Type: interfaces.SDPTypeOffer, SDP: "x"}

	id := m.OnOfferReceived("alice", "t1", offer, fileinfo.New("a.bin", 10, ""))
	require.NoError(t, m.Cancel(id))

	for i := 0; i < 5; i++ {
		_, ok := m.Lookup(id)
		require.True(t, ok, "visible within the grace period")
		clock.advance(150 * time.Millisecond)
	}

	clock.advance(300 * time.Millisecond)
	_, ok := m.Lookup(id)
	assert.False(t, ok, "polling must not extend the grace period")
	assert.Equal(t, id, m.OnOfferReceived("alice", id, offer, fileinfo.New("a.bin", 10, "")),
		"an expired id is unknown again")
}

func TestManagerCloseReleasesRetiredCache(t *testing.T) {
	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		m, err := NewManager(&recordingSignaler{}, simnet.NewSimulatedNetwork(nil), nil, testConfig())
		require.NoError(t, err)
		require.NoError(t, m.Close())
	}
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+5
	}, waitTimeout, pollInterval, "managers leaked goroutines")
}

func TestRetireAfterCloseIsDropped(t *testing.T) {
	m, _, _, _ := newRecordingManager(t, testConfig())
	s := m.newSessionForTest("alice", "t1", DirectionInbound)
	require.NoError(t, m.Close())

	assert.NotPanics(t, func() { m.retire(s) })
	_, ok := m.Lookup("t1")
	assert.False(t, ok)
}

func TestRejectReasonIsTruncatedOnRuneBoundary(t *testing.T) {
	m, signaler, _, _ := newRecordingManager(t, testConfig())
	offer := interfaces.SessionDescription{Type: interfaces.SDPTypeOffer, SDP: "x"}

	id := m.OnOfferReceived("alice", "t1", offer, fileinfo.New("a.bin", 10, ""))
	reason := "x" + strings.Repeat("é", limits.MaxReasonLength)
	require.NoError(t, m.Reject(id, reason))

	rejects := signaler.sentRejects()
	require.Len(t, rejects, 1)
	got := rejects[0].reason
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), limits.MaxReasonLength)
	assert.True(t, strings.HasPrefix(reason, got))
	assert.Equal(t, limits.MaxReasonLength-1, len(got))
}

func TestTruncateReason(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		max    int
		want   string
	}{
		{"short", "busy", 10, "busy"},
		{"ascii", "abcdef", 3, "abc"},
		{"two_byte_rune", "aé", 2, "a"},
		{"four_byte_rune", "😀😀", 5, "😀"},
		{"exact", "é", 2, "é"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncateReason(tt.reason, tt.max))
		})
	}
}

func TestManagerCloseCancelsSessions(t *testing.T) {
	m, signaler, _, _ := newRecordingManager(t, testConfig())
	offer := interfaces.SessionDescription{Type: interfaces.SDPTypeOffer, SDP: "x"}
	id := m.OnOfferReceived("alice", "t1", offer, fileinfo.New("a.bin", 10, ""))
	s := mustLookup(t, m, id)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.Equal(t, StatusCancelled, s.Status())
	_, ok := m.Lookup(id)
	assert.False(t, ok, "a closed manager forgets its sessions")
	assert.Equal(t, []sentReject{{"alice", "t1", ReasonCancelled}}, signaler.sentRejects())

	_, err := m.Initiate(context.Background(), "bob", fileinfo.New("a.bin", 1, ""), []byte{1})
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func mustLookup(t *testing.T, m *Manager, id string) *Session {
	t.Helper()
	s, ok := m.Lookup(id)
	require.True(t, ok, "transfer %s not found", id)
	return s
}

// newSessionForTest registers a bare session in the active map.
func (m *Manager) newSessionForTest(peerID, id string, dir TransferDirection) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newSessionLocked(id, peerID, dir, fileinfo.New("a.bin", 10, ""), nil)
}
