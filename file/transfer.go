package file

import (
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/webdrop/chunk"
	"github.com/opd-ai/webdrop/fileinfo"
	"github.com/opd-ai/webdrop/interfaces"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// TransferDirection indicates whether a transfer is incoming or outgoing.
type TransferDirection uint8

const (
	// DirectionOutbound represents a file being sent.
	DirectionOutbound TransferDirection = iota
	// DirectionInbound represents a file being received.
	DirectionInbound
)

// String returns the lower-case direction name.
func (d TransferDirection) String() string {
	if d == DirectionInbound {
		return "inbound"
	}
	return "outbound"
}

// TransferStatus represents the current state of a transfer.
type TransferStatus uint8

const (
	// StatusNegotiating is the initial state of both directions.
	StatusNegotiating TransferStatus = iota
	// StatusConnecting means offer and answer are exchanged or in flight.
	StatusConnecting
	// StatusInProgress means the data channel is open.
	StatusInProgress
	// StatusCompleted means every byte was sent or reassembled.
	StatusCompleted
	// StatusRejected means one side declined before data flowed.
	StatusRejected
	// StatusCancelled means one side cancelled.
	StatusCancelled
	// StatusFailed means negotiation, the transport or reassembly failed.
	StatusFailed
)

var statusNames = map[TransferStatus]string{
	StatusNegotiating: "negotiating",
	StatusConnecting:  "connecting",
	StatusInProgress:  "in-progress",
	StatusCompleted:   "completed",
	StatusRejected:    "rejected",
	StatusCancelled:   "cancelled",
	StatusFailed:      "failed",
}

// String returns the status name.
func (s TransferStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal reports whether no further transition is possible.
func (s TransferStatus) IsTerminal() bool {
	return s >= StatusCompleted
}

var validTransitions = map[TransferStatus][]TransferStatus{
	StatusNegotiating: {StatusConnecting, StatusRejected, StatusCancelled, StatusFailed},
	StatusConnecting:  {StatusInProgress, StatusRejected, StatusCancelled, StatusFailed},
	StatusInProgress:  {StatusCompleted, StatusCancelled, StatusFailed},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to TransferStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the time elapsed since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

var defaultTimeProvider TimeProvider = DefaultTimeProvider{}

// sessionParams carries what the Manager knows when creating a session.
type sessionParams struct {
	id           string
	peerID       string
	direction    TransferDirection
	descriptor   fileinfo.Descriptor
	payload      []byte
	chunkSize    int
	linger       time.Duration
	publisher    Publisher
	timeProvider TimeProvider
	onTerminal   func(*Session)
}

// Session is one logical transfer. All mutable state is guarded by mu and
// every event is published while mu is held.
type Session struct {
	id         string
	peerID     string
	direction  TransferDirection
	descriptor fileinfo.Descriptor
	chunkSize  int
	linger     time.Duration
	publisher  Publisher
	onTerminal func(*Session)

	mu               sync.Mutex
	status           TransferStatus
	bytesTransferred uint64
	chunkCursor      uint64
	conn             interfaces.DirectConnection
	remoteOffer      *interfaces.SessionDescription
	remoteReady      bool
	sending          bool
	sendingLast      bool
	payload          []byte
	reassembler      *chunk.Reassembler
	err              error
	startedAt        time.Time
	finishedAt       time.Time
	lastChunkTime    time.Time
	transferSpeed    float64
	timeProvider     TimeProvider

	remoteClosed     chan struct{}
	remoteClosedOnce sync.Once
}

func newSession(p sessionParams) *Session {
	tp := p.timeProvider
	if tp == nil {
		tp = defaultTimeProvider
	}
	pub := p.publisher
	if pub == nil {
		pub = discardPublisher{}
	}

	s := &Session{
		id:           p.id,
		peerID:       p.peerID,
		direction:    p.direction,
		descriptor:   p.descriptor,
		chunkSize:    p.chunkSize,
		linger:       p.linger,
		publisher:    pub,
		onTerminal:   p.onTerminal,
		status:       StatusNegotiating,
		payload:      p.payload,
		timeProvider: tp,
		startedAt:    tp.Now(),
		remoteClosed: make(chan struct{}),
	}
	if p.direction == DirectionInbound {
		s.reassembler = chunk.NewReassembler(p.descriptor.Size)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "newSession",
		"transfer_id": p.id,
		"peer_id":     p.peerID,
		"direction":   p.direction.String(),
		"file":        p.descriptor.String(),
	}).Debug("Created transfer session")

	return s
}

// ID returns the transfer id.
func (s *Session) ID() string { return s.id }

// PeerID returns the remote user.
func (s *Session) PeerID() string { return s.peerID }

// Direction returns whether the session sends or receives.
func (s *Session) Direction() TransferDirection { return s.direction }

// Descriptor returns the file metadata.
func (s *Session) Descriptor() fileinfo.Descriptor { return s.descriptor }

// Status returns the current state.
func (s *Session) Status() TransferStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns a copy of the observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Error returns the error that failed the session, if any.
func (s *Session) Error() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:               s.id,
		PeerID:           s.peerID,
		Direction:        s.direction,
		Descriptor:       s.descriptor,
		Status:           s.status,
		BytesTransferred: s.bytesTransferred,
		TotalBytes:       s.descriptor.Size,
		ChunkCursor:      s.chunkCursor,
		BytesPerSecond:   s.transferSpeed,
		StartedAt:        s.startedAt,
		FinishedAt:       s.finishedAt,
		Err:              s.err,
	}
}

func (s *Session) publishLocked(kind EventKind) {
	s.publisher.Publish(Event{Kind: kind, Snapshot: s.snapshotLocked(), Err: s.err})
}

// announce publishes the initial snapshot, plus the incoming request for
// inbound sessions.
func (s *Session) announce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsTerminal() {
		return
	}
	s.publishLocked(EventTransferProgress)
	if s.direction == DirectionInbound {
		s.publishLocked(EventIncomingRequest)
	}
}

// transitionLocked moves the session to the given status and publishes the
// matching events. On a terminal transition the connection is detached and
// returned so the caller can close it without holding the lock.
func (s *Session) transitionLocked(to TransferStatus, cause error) (bool, interfaces.DirectConnection, error) {
	if !CanTransition(s.status, to) {
		return false, nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, to)
	}

	from := s.status
	s.status = to
	if to == StatusFailed {
		s.err = cause
	}

	logrus.WithFields(logrus.Fields{
		"function":    "transitionLocked",
		"transfer_id": s.id,
		"from":        from.String(),
		"to":          to.String(),
	}).Debug("Transfer state changed")

	s.publishLocked(EventTransferProgress)
	if to == StatusFailed {
		s.publishLocked(EventTransferError)
	}

	if !to.IsTerminal() {
		return false, nil, nil
	}

	s.finishedAt = s.timeProvider.Now()
	conn := s.conn
	s.conn = nil
	s.payload = nil
	s.reassembler = nil
	s.remoteOffer = nil
	return true, conn, nil
}

// settle runs the side effects of a terminal transition.
func (s *Session) settle(conn interfaces.DirectConnection) {
	if conn != nil {
		s.closeConnection(conn)
	}
	if s.onTerminal != nil {
		s.onTerminal(s)
	}
}

func (s *Session) closeConnection(conn interfaces.DirectConnection) {
	if err := conn.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "closeConnection",
			"transfer_id": s.id,
			"error":       err.Error(),
		}).Debug("Closing direct connection failed")
	}
}

// lingerClose keeps a completed sender's connection open until the
// receiver closes it or the linger period elapses, so frames still queued
// in the transport are not discarded.
func (s *Session) lingerClose(conn interfaces.DirectConnection) {
	if s.linger <= 0 {
		s.closeConnection(conn)
		return
	}
	timer := time.NewTimer(s.linger)
	defer timer.Stop()
	select {
	case <-s.remoteClosed:
	case <-timer.C:
	}
	s.closeConnection(conn)
}

// finish performs a transition triggered from outside the data path.
func (s *Session) finish(to TransferStatus, cause error) error {
	s.mu.Lock()
	terminal, conn, err := s.transitionLocked(to, cause)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if terminal {
		s.settle(conn)
	}
	return nil
}

// fail moves a non-terminal session to Failed. It is a no-op once the
// session is terminal.
func (s *Session) fail(cause error) {
	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	_, conn, _ := s.transitionLocked(StatusFailed, cause)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "fail",
		"transfer_id": s.id,
		"peer_id":     s.peerID,
		"error":       cause.Error(),
	}).Warn("Transfer failed")

	s.settle(conn)
}

// connect attaches the negotiated connection and moves to Connecting.
func (s *Session) connect(conn interfaces.DirectConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, _, err := s.transitionLocked(StatusConnecting, nil); err != nil {
		return err
	}
	s.conn = conn
	return nil
}

// takeOffer hands out the provisional remote offer exactly once.
func (s *Session) takeOffer() (interfaces.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.direction != DirectionInbound || s.status != StatusNegotiating || s.remoteOffer == nil {
		return interfaces.SessionDescription{}, fmt.Errorf("%w: cannot accept %s %s transfer",
			ErrInvalidTransition, s.status, s.direction)
	}
	offer := *s.remoteOffer
	s.remoteOffer = nil
	return offer, nil
}

// connection returns the attached connection, nil outside Connecting and
// InProgress.
func (s *Session) connection() interfaces.DirectConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) markRemoteReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteReady = true
}

// candidateTarget returns the connection when it can accept remote ICE
// candidates.
func (s *Session) candidateTarget() interfaces.DirectConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.remoteReady || s.status.IsTerminal() {
		return nil
	}
	return s.conn
}

// handleOpen is the data channel open callback.
func (s *Session) handleOpen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusConnecting {
		return
	}
	s.startInProgressLocked()
}

func (s *Session) startInProgressLocked() {
	if _, _, err := s.transitionLocked(StatusInProgress, nil); err != nil {
		return
	}
	s.startedAt = s.timeProvider.Now()
	s.lastChunkTime = s.startedAt
	if s.direction == DirectionOutbound && !s.sending {
		s.sending = true
		go s.sendLoop(s.payload)
	}
}

// sendLoop writes every frame in order. The lock is released around each
// Send so a cancel can interleave; status is checked before and after.
func (s *Session) sendLoop(payload []byte) {
	frames, err := chunk.Split(payload, s.chunkSize)
	if err != nil {
		s.fail(err)
		return
	}

	for _, f := range frames {
		s.mu.Lock()
		if s.status != StatusInProgress {
			s.mu.Unlock()
			return
		}
		conn := s.conn
		s.sendingLast = f.IsLast
		s.mu.Unlock()

		if err := conn.Send(chunk.EncodeFrame(f)); err != nil {
			s.fail(fmt.Errorf("%w: send frame %d: %v", ErrConnectionFailed, f.Seq, err))
			return
		}

		s.mu.Lock()
		if s.status != StatusInProgress {
			s.mu.Unlock()
			return
		}
		s.recordChunkLocked(uint64(len(f.Data)))
		s.publishLocked(EventTransferProgress)
		if !f.IsLast {
			s.mu.Unlock()
			continue
		}
		terminal, detached, _ := s.transitionLocked(StatusCompleted, nil)
		s.mu.Unlock()

		if terminal {
			logrus.WithFields(logrus.Fields{
				"function":    "sendLoop",
				"transfer_id": s.id,
				"peer_id":     s.peerID,
				"bytes":       s.descriptor.Size,
			}).Info("Outbound transfer completed")

			if detached != nil {
				go s.lingerClose(detached)
			}
			s.settle(nil)
		}
		return
	}
}

func (s *Session) recordChunkLocked(n uint64) {
	s.bytesTransferred += n
	s.chunkCursor++
	now := s.timeProvider.Now()
	if elapsed := now.Sub(s.lastChunkTime).Seconds(); elapsed > 0 {
		instant := float64(n) / elapsed
		// Exponential moving average with alpha = 0.3
		if s.transferSpeed == 0 {
			s.transferSpeed = instant
		} else {
			s.transferSpeed = 0.7*s.transferSpeed + 0.3*instant
		}
		s.lastChunkTime = now
	}
}

// handleMessage is the data channel message callback.
func (s *Session) handleMessage(data []byte) {
	frame, err := chunk.DecodeFrame(data)

	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":    "handleMessage",
			"transfer_id": s.id,
			"status":      s.status.String(),
		}).Debug("Dropping frame for finished transfer")
		return
	}

	var (
		terminal bool
		conn     interfaces.DirectConnection
		received *ReceivedFile
	)
	switch {
	case err != nil:
		terminal, conn, _ = s.transitionLocked(StatusFailed, err)
	case frame.Cancel:
		terminal, conn, _ = s.transitionLocked(StatusCancelled, nil)
	case s.direction == DirectionOutbound:
		logrus.WithFields(logrus.Fields{
			"function":    "handleMessage",
			"transfer_id": s.id,
			"seq":         frame.Seq,
		}).Warn("Ignoring data frame on sending side")
	default:
		terminal, conn, received = s.acceptFrameLocked(frame)
	}
	s.mu.Unlock()

	if received != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "handleMessage",
			"transfer_id": s.id,
			"peer_id":     s.peerID,
			"bytes":       len(received.Bytes),
		}).Info("Inbound transfer completed")
	}
	if terminal {
		s.settle(conn)
	}
}

func (s *Session) acceptFrameLocked(frame chunk.Frame) (bool, interfaces.DirectConnection, *ReceivedFile) {
	if s.status == StatusConnecting {
		s.startInProgressLocked()
	}

	payload, complete, err := s.reassembler.Accept(frame)
	if err != nil {
		terminal, conn, _ := s.transitionLocked(StatusFailed, err)
		return terminal, conn, nil
	}

	s.recordChunkLocked(uint64(len(frame.Data)))
	s.publishLocked(EventTransferProgress)
	if !complete {
		return false, nil, nil
	}

	if uint64(len(payload)) != s.descriptor.Size {
		terminal, conn, _ := s.transitionLocked(StatusFailed,
			fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, len(payload), s.descriptor.Size))
		return terminal, conn, nil
	}

	received := &ReceivedFile{
		TransferID: s.id,
		Descriptor: s.descriptor,
		Bytes:      payload,
		FromUserID: s.peerID,
		ReceivedAt: s.timeProvider.Now(),
		Digest:     blake2b.Sum256(payload),
	}
	terminal, conn, _ := s.transitionLocked(StatusCompleted, nil)
	s.publisher.Publish(Event{Kind: EventTransferComplete, Snapshot: s.snapshotLocked(), File: received})
	return terminal, conn, received
}

// handleClose is the transport close callback.
func (s *Session) handleClose(cause error) {
	s.remoteClosedOnce.Do(func() { close(s.remoteClosed) })

	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	// The receiver closes as soon as it has reassembled the payload, which
	// can overtake the return of the final Send.
	if s.direction == DirectionOutbound && s.sendingLast {
		s.mu.Unlock()
		return
	}
	if cause == nil {
		cause = fmt.Errorf("%w: closed by peer during %s", ErrConnectionFailed, s.status)
	} else {
		cause = fmt.Errorf("%w: %v", ErrConnectionFailed, cause)
	}
	_, conn, _ := s.transitionLocked(StatusFailed, cause)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "handleClose",
		"transfer_id": s.id,
		"error":       cause.Error(),
	}).Warn("Direct connection closed before transfer finished")

	s.settle(conn)
}

// cancel moves the session to Cancelled and notifies the peer through
// notifyReject. Once data flows a cancel frame is sent as well, and the
// connection lingers so the frame is not dropped with the queued chunks.
// It reports false when the session was already terminal.
func (s *Session) cancel(notifyReject func()) bool {
	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	prev := s.status
	_, conn, _ := s.transitionLocked(StatusCancelled, nil)
	s.mu.Unlock()

	if prev == StatusInProgress && conn != nil {
		if err := conn.Send(chunk.EncodeFrame(chunk.CancelFrame())); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "cancel",
				"transfer_id": s.id,
				"error":       err.Error(),
			}).Debug("Could not deliver cancel frame")
		}
		if notifyReject != nil {
			notifyReject()
		}
		go s.lingerClose(conn)
		s.settle(nil)
		return true
	}

	if notifyReject != nil {
		notifyReject()
	}
	s.settle(conn)
	return true
}

// SetTimeProvider replaces the clock used for speed calculations.
func (s *Session) SetTimeProvider(tp TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeProvider = tp
}
