package file

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	ttl "github.com/FloatTech/ttl"
	"github.com/google/uuid"
	"github.com/opd-ai/webdrop/fileinfo"
	"github.com/opd-ai/webdrop/interfaces"
	"github.com/opd-ai/webdrop/limits"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Defaults for ManagerConfig.
const (
	DefaultRetireGrace             = 5 * time.Second
	DefaultICECandidateBufferLimit = 32
	DefaultICECandidateMaxAttempts = 3
	DefaultMaxPendingTransfers     = 64
)

// ManagerConfig tunes a Manager.
type ManagerConfig struct {
	// ChunkSize is the payload size of each data frame.
	ChunkSize int
	// RetireGrace is how long terminal sessions stay visible through Lookup.
	// It also bounds how long a finished sender keeps its connection open.
	RetireGrace time.Duration
	// ICECandidateBufferLimit caps buffered candidates per transfer.
	ICECandidateBufferLimit int
	// ICECandidateMaxAttempts caps how often a buffered candidate is retried.
	ICECandidateMaxAttempts int
	// MaxPendingTransfers caps how many unknown transfers may hold buffered
	// candidates at once.
	MaxPendingTransfers int
}

// DefaultManagerConfig returns the default configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ChunkSize:               limits.DefaultChunkSize,
		RetireGrace:             DefaultRetireGrace,
		ICECandidateBufferLimit: DefaultICECandidateBufferLimit,
		ICECandidateMaxAttempts: DefaultICECandidateMaxAttempts,
		MaxPendingTransfers:     DefaultMaxPendingTransfers,
	}
}

// Validate checks the configuration.
func (c ManagerConfig) Validate() error {
	if err := limits.ValidateChunkSize(c.ChunkSize); err != nil {
		return err
	}
	if c.RetireGrace <= 0 {
		return fmt.Errorf("retire grace must be positive, got %v", c.RetireGrace)
	}
	if c.ICECandidateBufferLimit <= 0 || c.ICECandidateMaxAttempts <= 0 || c.MaxPendingTransfers <= 0 {
		return fmt.Errorf("ICE candidate buffer limits must be positive")
	}
	return nil
}

// candidateKey identifies the buffer of one transfer.
type candidateKey struct {
	peerID     string
	transferID string
}

type pendingCandidate struct {
	candidate interfaces.ICECandidate
	attempts  int
}

// retiredSession is a terminal session kept for Lookup until its grace
// period, measured from retiredAt, runs out. The ttl cache only collects
// expired entries; reads slide its expiry and cannot decide visibility.
type retiredSession struct {
	session   *Session
	retiredAt time.Time
}

// Manager owns all active sessions and routes signaling messages to them.
type Manager struct {
	signaler     interfaces.Signaler
	connections  interfaces.ConnectionFactory
	publisher    Publisher
	config       ManagerConfig
	timeProvider TimeProvider
	newID        func() string

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	sessions     map[string]*Session
	pending      map[candidateKey][]pendingCandidate
	pendingOrder []candidateKey
	retired      *ttl.Cache[string, retiredSession]
	closed       bool
}

// NewManager creates a manager. A nil publisher discards events.
func NewManager(signaler interfaces.Signaler, connections interfaces.ConnectionFactory, publisher Publisher, config ManagerConfig) (*Manager, error) {
	logrus.WithFields(logrus.Fields{
		"function":   "NewManager",
		"chunk_size": config.ChunkSize,
	}).Info("Creating new transfer manager")

	if err := config.Validate(); err != nil {
		return nil, err
	}
	if publisher == nil {
		publisher = discardPublisher{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		signaler:     signaler,
		connections:  connections,
		publisher:    publisher,
		config:       config,
		timeProvider: defaultTimeProvider,
		newID:        func() string { return uuid.NewString() },
		ctx:          ctx,
		cancel:       cancel,
		sessions:     make(map[string]*Session),
		pending:      make(map[candidateKey][]pendingCandidate),
		retired:      ttl.NewCache[string, retiredSession](config.RetireGrace),
	}, nil
}

// SetTimeProvider sets the clock used by sessions created afterwards.
func (m *Manager) SetTimeProvider(tp TimeProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeProvider = tp
}

func (m *Manager) newSessionLocked(id, peerID string, dir TransferDirection, desc fileinfo.Descriptor, payload []byte) *Session {
	s := newSession(sessionParams{
		id:           id,
		peerID:       peerID,
		direction:    dir,
		descriptor:   desc,
		payload:      payload,
		chunkSize:    m.config.ChunkSize,
		linger:       m.config.RetireGrace,
		publisher:    m.publisher,
		timeProvider: m.timeProvider,
		onTerminal:   m.retire,
	})
	m.sessions[id] = s
	return s
}

// activeForLocked returns the non-terminal session for (peer, descriptor).
func (m *Manager) activeForLocked(peerID string, desc fileinfo.Descriptor) *Session {
	key := desc.Key()
	for _, s := range m.sessions {
		if s.peerID == peerID && s.descriptor.Key() == key && !s.Status().IsTerminal() {
			return s
		}
	}
	return nil
}

// Initiate registers an outbound session for payload and negotiates it in
// the background. It fails with ErrPeerBusy when an identical transfer to
// peerID is still active.
func (m *Manager) Initiate(ctx context.Context, peerID string, desc fileinfo.Descriptor, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := desc.Validate(); err != nil {
		return "", err
	}
	if uint64(len(payload)) != desc.Size {
		return "", fmt.Errorf("%w: payload has %d bytes, descriptor says %d", ErrSizeMismatch, len(payload), desc.Size)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrManagerClosed
	}
	if busy := m.activeForLocked(peerID, desc); busy != nil {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":    "Initiate",
			"peer_id":     peerID,
			"file":        desc.String(),
			"transfer_id": busy.id,
		}).Warn("Identical transfer already active")
		return "", fmt.Errorf("%w: %s to %s", ErrPeerBusy, desc, peerID)
	}
	s := m.newSessionLocked(m.newID(), peerID, DirectionOutbound, desc, payload)
	m.mu.Unlock()

	s.announce()
	go m.negotiateOutbound(s)

	logrus.WithFields(logrus.Fields{
		"function":    "Initiate",
		"transfer_id": s.id,
		"peer_id":     peerID,
		"file":        desc.String(),
	}).Info("Outbound transfer initiated")

	return s.id, nil
}

func (m *Manager) negotiateOutbound(s *Session) {
	conn, err := m.connections.NewConnection(s.peerID)
	if err != nil {
		s.fail(fmt.Errorf("%w: %v", ErrConnectionFailed, err))
		return
	}
	m.bind(s, conn)

	offer, err := conn.CreateOffer(m.ctx)
	if err != nil {
		conn.Close()
		s.fail(fmt.Errorf("%w: create offer: %v", ErrConnectionFailed, err))
		return
	}
	if err := s.connect(conn); err != nil {
		// cancelled while the offer was being created
		conn.Close()
		return
	}
	if err := m.signaler.SendOffer(s.peerID, s.id, offer, s.descriptor); err != nil {
		s.fail(fmt.Errorf("relay offer: %w", err))
	}
}

// bind wires connection callbacks to the session.
func (m *Manager) bind(s *Session, conn interfaces.DirectConnection) {
	conn.OnICECandidate(func(c interfaces.ICECandidate) {
		if s.Status().IsTerminal() {
			return
		}
		if err := m.signaler.SendICECandidate(s.peerID, s.id, c); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "OnICECandidate",
				"transfer_id": s.id,
				"error":       err.Error(),
			}).Warn("Failed to relay ICE candidate")
		}
	})
	conn.OnOpen(s.handleOpen)
	conn.OnMessage(s.handleMessage)
	conn.OnClose(s.handleClose)
}

// OnOfferReceived creates a provisional inbound session and publishes
// EventIncomingRequest. Offers duplicating an active transfer, and offers
// with an invalid descriptor, are rejected back to the peer without
// creating a session. The returned id is empty in that case.
func (m *Manager) OnOfferReceived(peerID, transferID string, offer interfaces.SessionDescription, desc fileinfo.Descriptor) string {
	if transferID == "" {
		transferID = m.newID()
	}
	if err := desc.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OnOfferReceived",
			"peer_id":  peerID,
			"error":    err.Error(),
		}).Warn("Rejecting offer with invalid file descriptor")
		m.relayReject(peerID, transferID, ReasonInvalidFile)
		return ""
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ""
	}
	if _, exists := m.sessions[transferID]; exists || m.retiredLocked(transferID) != nil {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":    "OnOfferReceived",
			"transfer_id": transferID,
		}).Debug("Ignoring repeated offer")
		return ""
	}
	if busy := m.activeForLocked(peerID, desc); busy != nil {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":    "OnOfferReceived",
			"peer_id":     peerID,
			"file":        desc.String(),
			"transfer_id": busy.id,
		}).Info("Rejecting duplicate offer")
		m.relayReject(peerID, transferID, ReasonDuplicate)
		return ""
	}
	s := m.newSessionLocked(transferID, peerID, DirectionInbound, desc, nil)
	s.remoteOffer = &offer
	m.mu.Unlock()

	s.announce()
	return s.id
}

// Accept answers the provisional offer of an inbound session.
func (m *Manager) Accept(ctx context.Context, transferID string) error {
	s := m.active(transferID)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrTransferNotFound, transferID)
	}
	offer, err := s.takeOffer()
	if err != nil {
		return err
	}

	conn, err := m.connections.NewConnection(s.peerID)
	if err != nil {
		return m.abortAccept(s, nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err))
	}
	m.bind(s, conn)

	answer, err := conn.AcceptOffer(ctx, offer)
	if err != nil {
		return m.abortAccept(s, conn, fmt.Errorf("%w: answer offer: %v", ErrConnectionFailed, err))
	}
	if err := s.connect(conn); err != nil {
		conn.Close()
		return err
	}
	s.markRemoteReady()

	if err := m.signaler.SendAnswer(s.peerID, s.id, answer); err != nil {
		s.fail(fmt.Errorf("relay answer: %w", err))
		return err
	}
	m.flushCandidates(s)

	logrus.WithFields(logrus.Fields{
		"function":    "Accept",
		"transfer_id": s.id,
		"peer_id":     s.peerID,
	}).Info("Inbound transfer accepted")
	return nil
}

func (m *Manager) abortAccept(s *Session, conn interfaces.DirectConnection, cause error) error {
	if conn != nil {
		conn.Close()
	}
	s.fail(cause)
	m.relayReject(s.peerID, s.id, ReasonConnectionFailed)
	return cause
}

// Reject declines a non-terminal session and tells the peer. A transfer
// already moving data is cancelled instead.
func (m *Manager) Reject(transferID, reason string) error {
	s := m.active(transferID)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrTransferNotFound, transferID)
	}
	if s.Status() == StatusInProgress {
		return m.Cancel(transferID)
	}
	if reason == "" {
		reason = ReasonDeclined
	}
	reason = truncateReason(reason, limits.MaxReasonLength)
	if err := s.finish(StatusRejected, nil); err != nil {
		return err
	}
	m.relayReject(s.peerID, s.id, reason)

	logrus.WithFields(logrus.Fields{
		"function":    "Reject",
		"transfer_id": s.id,
		"reason":      reason,
	}).Info("Transfer rejected")
	return nil
}

// Cancel tears the session down regardless of its non-terminal state.
func (m *Manager) Cancel(transferID string) error {
	s := m.active(transferID)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrTransferNotFound, transferID)
	}
	if s.cancel(func() { m.relayReject(s.peerID, s.id, ReasonCancelled) }) {
		logrus.WithFields(logrus.Fields{
			"function":    "Cancel",
			"transfer_id": s.id,
		}).Info("Transfer cancelled")
	}
	return nil
}

// OnAnswerReceived completes the handshake of an outbound session.
func (m *Manager) OnAnswerReceived(peerID, transferID string, answer interfaces.SessionDescription) {
	s := m.route(peerID, transferID, func(s *Session) bool {
		return s.direction == DirectionOutbound && s.Status() == StatusConnecting
	})
	if s == nil {
		logrus.WithFields(logrus.Fields{
			"function":    "OnAnswerReceived",
			"peer_id":     peerID,
			"transfer_id": transferID,
		}).Debug("No session awaiting answer")
		return
	}
	conn := s.connection()
	if conn == nil {
		return
	}
	if err := conn.AcceptAnswer(answer); err != nil {
		s.fail(fmt.Errorf("%w: apply answer: %v", ErrConnectionFailed, err))
		return
	}
	s.markRemoteReady()
	m.flushCandidates(s)
}

// OnRejected applies a peer's reject to the matching session. A reason of
// ReasonCancelled moves it to Cancelled, anything else to Rejected. It
// reports whether a session matched.
func (m *Manager) OnRejected(peerID, transferID, reason string) bool {
	match := func(s *Session) bool { return !s.Status().IsTerminal() }
	if transferID == "" {
		match = func(s *Session) bool { return legacyRejectTarget(s, reason) }
	}
	s := m.route(peerID, transferID, match)
	if s == nil {
		return false
	}

	to := StatusRejected
	if reason == ReasonCancelled || s.Status() == StatusInProgress {
		to = StatusCancelled
	}
	if err := s.finish(to, nil); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "OnRejected",
			"transfer_id": s.id,
			"error":       err.Error(),
		}).Debug("Ignoring reject")
		return true
	}

	logrus.WithFields(logrus.Fields{
		"function":    "OnRejected",
		"transfer_id": s.id,
		"peer_id":     peerID,
		"reason":      reason,
	}).Info("Peer rejected transfer")
	return true
}

// OnICECandidate applies a remote candidate, buffering it while the
// session is unknown or its remote description is not yet applied.
func (m *Manager) OnICECandidate(peerID, transferID string, candidate interfaces.ICECandidate) {
	s := m.route(peerID, transferID, func(s *Session) bool {
		return !s.Status().IsTerminal()
	})
	if s != nil {
		transferID = s.id
		if conn := s.candidateTarget(); conn != nil {
			err := conn.AddICECandidate(candidate)
			if err == nil {
				return
			}
			m.bufferCandidate(candidateKey{peerID, transferID}, pendingCandidate{candidate: candidate, attempts: 1})
			return
		}
	}
	m.bufferCandidate(candidateKey{peerID, transferID}, pendingCandidate{candidate: candidate})
}

func (m *Manager) bufferCandidate(key candidateKey, pc pendingCandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue, known := m.pending[key]
	if !known {
		if len(m.pendingOrder) >= m.config.MaxPendingTransfers {
			oldest := m.pendingOrder[0]
			m.pendingOrder = m.pendingOrder[1:]
			delete(m.pending, oldest)
		}
		m.pendingOrder = append(m.pendingOrder, key)
	}
	if len(queue) >= m.config.ICECandidateBufferLimit {
		logrus.WithFields(logrus.Fields{
			"function":    "bufferCandidate",
			"transfer_id": key.transferID,
			"limit":       m.config.ICECandidateBufferLimit,
		}).Warn("ICE candidate buffer full, dropping oldest")
		queue = queue[1:]
	}
	m.pending[key] = append(queue, pc)
}

// flushCandidates applies buffered candidates, keeping failures until they
// run out of attempts.
func (m *Manager) flushCandidates(s *Session) {
	key := candidateKey{s.peerID, s.id}
	m.mu.Lock()
	queue := m.pending[key]
	delete(m.pending, key)
	m.pendingOrder = lo.Without(m.pendingOrder, key)
	m.mu.Unlock()

	conn := s.candidateTarget()
	if conn == nil || len(queue) == 0 {
		if len(queue) > 0 {
			m.restoreCandidates(key, queue)
		}
		return
	}

	var retry []pendingCandidate
	for _, pc := range queue {
		if err := conn.AddICECandidate(pc.candidate); err != nil {
			pc.attempts++
			if pc.attempts < m.config.ICECandidateMaxAttempts {
				retry = append(retry, pc)
				continue
			}
			logrus.WithFields(logrus.Fields{
				"function":    "flushCandidates",
				"transfer_id": s.id,
				"attempts":    pc.attempts,
				"error":       err.Error(),
			}).Warn("Dropping ICE candidate")
		}
	}
	if len(retry) > 0 {
		m.restoreCandidates(key, retry)
	}
}

func (m *Manager) restoreCandidates(key candidateKey, queue []pendingCandidate) {
	for _, pc := range queue {
		m.bufferCandidate(key, pc)
	}
}

// PendingCandidates returns how many candidates are buffered for a transfer.
func (m *Manager) PendingCandidates(peerID, transferID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending[candidateKey{peerID, transferID}])
}

// route finds the session a signaling message belongs to. Messages naming a
// transfer id must come from that session's peer. Messages without one go to
// the peer's only session accepted by match.
func (m *Manager) route(peerID, transferID string, match func(*Session) bool) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if transferID != "" {
		s, ok := m.sessions[transferID]
		if !ok || s.peerID != peerID || !match(s) {
			return nil
		}
		return s
	}

	candidates := lo.Filter(lo.Values(m.sessions), func(s *Session, _ int) bool {
		return s.peerID == peerID && match(s)
	})
	if len(candidates) != 1 {
		return nil
	}
	return candidates[0]
}

// legacyRejectTarget reports whether a reject without a transfer id may
// apply to s. Only a cancel reaches any live session; other reasons answer
// an outbound offer that is still waiting for the peer.
func legacyRejectTarget(s *Session, reason string) bool {
	status := s.Status()
	if status.IsTerminal() {
		return false
	}
	if reason == ReasonCancelled {
		return true
	}
	return s.direction == DirectionOutbound && (status == StatusNegotiating || status == StatusConnecting)
}

func (m *Manager) active(transferID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[transferID]
}

// retire moves a terminal session out of the active map. Once the manager
// has released its retired cache the session is simply dropped.
func (m *Manager) retire(s *Session) {
	key := candidateKey{s.peerID, s.id}
	m.mu.Lock()
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
	}
	delete(m.pending, key)
	m.pendingOrder = lo.Without(m.pendingOrder, key)
	if m.retired != nil {
		m.retired.Set(s.id, retiredSession{session: s, retiredAt: m.timeProvider.Now()})
	}
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "retire",
		"transfer_id": s.id,
		"status":      s.Status().String(),
	}).Debug("Session retired")
}

// Lookup returns an active session or one retired within the grace period.
func (m *Manager) Lookup(transferID string) (*Session, bool) {
	if s := m.active(transferID); s != nil {
		return s, true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s := m.retiredLocked(transferID); s != nil {
		return s, true
	}
	return nil, false
}

// retiredLocked returns a session retired less than RetireGrace ago.
func (m *Manager) retiredLocked(transferID string) *Session {
	if m.retired == nil {
		return nil
	}
	r := m.retired.Get(transferID)
	if r.session == nil || m.timeProvider.Since(r.retiredAt) >= m.config.RetireGrace {
		return nil
	}
	return r.session
}

// Active returns the number of non-retired sessions.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Snapshots returns a snapshot of every active session.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	sessions := lo.Values(m.sessions)
	m.mu.RUnlock()

	return lo.Map(sessions, func(s *Session, _ int) Snapshot {
		return s.Snapshot()
	})
}

// Close cancels every active session, refuses new ones and releases the
// retired cache. Lookup finds nothing afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := lo.Values(m.sessions)
	m.mu.Unlock()

	m.cancel()
	for _, s := range sessions {
		s.cancel(func() { m.relayReject(s.peerID, s.id, ReasonCancelled) })
	}

	m.mu.Lock()
	m.retired.Destroy()
	m.retired = nil
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "Close",
		"cancelled": len(sessions),
	}).Info("Transfer manager closed")
	return nil
}

func (m *Manager) relayReject(peerID, transferID, reason string) {
	if err := m.signaler.SendReject(peerID, transferID, reason, nil); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "relayReject",
			"peer_id":     peerID,
			"transfer_id": transferID,
			"reason":      reason,
			"error":       err.Error(),
		}).Warn("Failed to relay reject")
	}
}

// truncateReason cuts reason to at most max bytes without splitting a rune.
func truncateReason(reason string, max int) string {
	if len(reason) <= max {
		return reason
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
