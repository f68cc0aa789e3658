package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/webdrop/interfaces"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownDescription is returned for offers or answers the network
	// never issued.
	ErrUnknownDescription = errors.New("unknown session description")
	// ErrNoRemoteDescription is returned by AddICECandidate before the
	// remote description is applied.
	ErrNoRemoteDescription = errors.New("remote description not set")
	// ErrChannelNotOpen is returned by Send before the channel opens.
	ErrChannelNotOpen = errors.New("data channel not open")
	// ErrConnectionClosed is returned by operations on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// DeliveryRecord describes one message handed to the remote side.
type DeliveryRecord struct {
	From      string
	To        string
	Size      int
	Timestamp time.Time
}

// SimulatedNetwork is an in-memory interfaces.ConnectionFactory.
type SimulatedNetwork struct {
	config *interfaces.ConnectionConfig

	mu          sync.Mutex
	nextID      int
	offers      map[string]*SimulatedConnection
	answers     map[string]*SimulatedConnection
	connections []*SimulatedConnection
	failNext    error
	deliveryLog []DeliveryRecord
	holding     bool
	held        []heldDelivery
	dropOnClose bool
	sendWindow  int
}

type heldDelivery struct {
	target  *SimulatedConnection
	fn      func()
	dropped func()
}

var _ interfaces.ConnectionFactory = (*SimulatedNetwork)(nil)

// NewSimulatedNetwork creates an empty network. A nil config uses
// interfaces.DefaultConnectionConfig.
func NewSimulatedNetwork(config *interfaces.ConnectionConfig) *SimulatedNetwork {
	if config == nil {
		config = interfaces.DefaultConnectionConfig()
	}
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")
	logrus.WithFields(logrus.Fields{
		"function": "NewSimulatedNetwork",
		"label":    config.DataChannelLabel,
	}).Info("Creating simulated connection network")

	return &SimulatedNetwork{
		config:  config,
		offers:  make(map[string]*SimulatedConnection),
		answers: make(map[string]*SimulatedConnection),
	}
}

// NewConnection implements interfaces.ConnectionFactory.
func (n *SimulatedNetwork) NewConnection(peerID string) (interfaces.DirectConnection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.failNext; err != nil {
		n.failNext = nil
		return nil, err
	}

	n.nextID++
	c := &SimulatedConnection{
		network: n,
		id:      n.nextID,
		peerID:  peerID,
		queue:   newDispatcher(),
	}
	c.drained = sync.NewCond(&c.mu)
	n.connections = append(n.connections, c)
	return c, nil
}

// FailNextConnection makes the next NewConnection call return err.
func (n *SimulatedNetwork) FailNextConnection(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failNext = err
}

// Connections returns every connection created so far.
func (n *SimulatedNetwork) Connections() []*SimulatedConnection {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*SimulatedConnection, len(n.connections))
	copy(out, n.connections)
	return out
}

// GetDeliveryLog returns a copy of the delivered message log.
func (n *SimulatedNetwork) GetDeliveryLog() []DeliveryRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]DeliveryRecord, len(n.deliveryLog))
	copy(out, n.deliveryLog)
	return out
}

// ClearDeliveryLog empties the delivered message log.
func (n *SimulatedNetwork) ClearDeliveryLog() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveryLog = nil
}

// IsSimulation reports that this factory never opens sockets.
func (n *SimulatedNetwork) IsSimulation() bool {
	return true
}

// HoldDelivery queues every message and close notification instead of
// handing it to the remote side, until ReleaseDelivery.
func (n *SimulatedNetwork) HoldDelivery() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.holding = true
}

// ReleaseDelivery delivers the count oldest held items in order. A negative
// count delivers everything and stops holding.
func (n *SimulatedNetwork) ReleaseDelivery(count int) {
	n.mu.Lock()
	if count < 0 {
		n.holding = false
	}
	if count < 0 || count > len(n.held) {
		count = len(n.held)
	}
	var lost []func()
	for _, d := range n.held[:count] {
		if !d.target.queue.post(d.fn) && d.dropped != nil {
			lost = append(lost, d.dropped)
		}
	}
	n.held = append([]heldDelivery(nil), n.held[count:]...)
	n.mu.Unlock()

	for _, fn := range lost {
		fn()
	}
}

// SetDropOnClose makes a local Close discard every message the closing end
// sent that the remote side has not received yet, the way closing a real
// peer connection drops its send buffer. The close itself still arrives.
func (n *SimulatedNetwork) SetDropOnClose(drop bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropOnClose = drop
}

// SetSendWindow makes Send block while the sender already has size messages
// in flight, like a data channel above its buffered amount high-water mark.
// Zero or less disables the limit.
func (n *SimulatedNetwork) SetSendWindow(size int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendWindow = size
}

func (n *SimulatedNetwork) settings() (dropOnClose bool, sendWindow int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropOnClose, n.sendWindow
}

// Held returns how many deliveries are waiting.
func (n *SimulatedNetwork) Held() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.held)
}

// deliver hands fn to target's dispatcher, or holds it. dropped runs if a
// held delivery later finds the target gone.
func (n *SimulatedNetwork) deliver(target *SimulatedConnection, fn, dropped func()) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.holding {
		n.held = append(n.held, heldDelivery{target: target, fn: fn, dropped: dropped})
		return true
	}
	return target.queue.post(fn)
}

func (n *SimulatedNetwork) register(kind string, c *SimulatedConnection) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	token := fmt.Sprintf("sim-%s-%d", kind, n.nextID)
	if kind == interfaces.SDPTypeOffer {
		n.offers[token] = c
	} else {
		n.answers[token] = c
	}
	return token
}

func (n *SimulatedNetwork) lookup(kind, token string) *SimulatedConnection {
	n.mu.Lock()
	defer n.mu.Unlock()
	if kind == interfaces.SDPTypeOffer {
		return n.offers[token]
	}
	return n.answers[token]
}

func (n *SimulatedNetwork) record(from, to string, size int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveryLog = append(n.deliveryLog, DeliveryRecord{
		From:      from,
		To:        to,
		Size:      size,
		Timestamp: time.Now(),
	})
}

// SimulatedConnection is one end of an in-memory data channel.
type SimulatedConnection struct {
	network *SimulatedNetwork
	id      int
	peerID  string
	queue   *dispatcher

	mu         sync.Mutex
	drained    *sync.Cond
	remote     *SimulatedConnection
	remoteSet  bool
	open       bool
	closed     bool
	discard    bool
	inflight   int
	candidates []interfaces.ICECandidate
	onICE      func(interfaces.ICECandidate)
	onOpen     func()
	onMessage  func([]byte)
	onClose    func(error)
}

var _ interfaces.DirectConnection = (*SimulatedConnection)(nil)

// PeerID returns the user this connection was created for.
func (c *SimulatedConnection) PeerID() string { return c.peerID }

// CreateOffer implements interfaces.DirectConnection.
func (c *SimulatedConnection) CreateOffer(ctx context.Context) (interfaces.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.SessionDescription{}, err
	}
	if c.isClosed() {
		return interfaces.SessionDescription{}, ErrConnectionClosed
	}
	token := c.network.register(interfaces.SDPTypeOffer, c)
	c.gatherCandidate()
	return interfaces.SessionDescription{Type: interfaces.SDPTypeOffer, SDP: token}, nil
}

// AcceptOffer implements interfaces.DirectConnection.
func (c *SimulatedConnection) AcceptOffer(ctx context.Context, offer interfaces.SessionDescription) (interfaces.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.SessionDescription{}, err
	}
	if offer.Type != interfaces.SDPTypeOffer {
		return interfaces.SessionDescription{}, fmt.Errorf("%w: expected offer, got %q", ErrUnknownDescription, offer.Type)
	}
	offerer := c.network.lookup(interfaces.SDPTypeOffer, offer.SDP)
	if offerer == nil {
		return interfaces.SessionDescription{}, fmt.Errorf("%w: %s", ErrUnknownDescription, offer.SDP)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return interfaces.SessionDescription{}, ErrConnectionClosed
	}
	c.remote = offerer
	c.remoteSet = true
	c.mu.Unlock()

	token := c.network.register(interfaces.SDPTypeAnswer, c)
	c.gatherCandidate()
	return interfaces.SessionDescription{Type: interfaces.SDPTypeAnswer, SDP: token}, nil
}

// AcceptAnswer implements interfaces.DirectConnection. Both ends open once
// the answer is applied, the answering side first.
func (c *SimulatedConnection) AcceptAnswer(answer interfaces.SessionDescription) error {
	if answer.Type != interfaces.SDPTypeAnswer {
		return fmt.Errorf("%w: expected answer, got %q", ErrUnknownDescription, answer.Type)
	}
	answerer := c.network.lookup(interfaces.SDPTypeAnswer, answer.SDP)
	if answerer == nil {
		return fmt.Errorf("%w: %s", ErrUnknownDescription, answer.SDP)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.remote = answerer
	c.remoteSet = true
	c.mu.Unlock()

	answerer.queue.post(answerer.fireOpen)
	c.queue.post(c.fireOpen)
	return nil
}

// AddICECandidate implements interfaces.DirectConnection.
func (c *SimulatedConnection) AddICECandidate(candidate interfaces.ICECandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if !c.remoteSet {
		return ErrNoRemoteDescription
	}
	c.candidates = append(c.candidates, candidate)
	return nil
}

// RemoteCandidates returns the candidates applied so far.
func (c *SimulatedConnection) RemoteCandidates() []interfaces.ICECandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]interfaces.ICECandidate, len(c.candidates))
	copy(out, c.candidates)
	return out
}

// OnICECandidate implements interfaces.DirectConnection.
func (c *SimulatedConnection) OnICECandidate(handler func(interfaces.ICECandidate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = handler
}

// OnOpen implements interfaces.DirectConnection.
func (c *SimulatedConnection) OnOpen(handler func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = handler
}

// OnMessage implements interfaces.DirectConnection.
func (c *SimulatedConnection) OnMessage(handler func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

// OnClose implements interfaces.DirectConnection.
func (c *SimulatedConnection) OnClose(handler func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = handler
}

// Send implements interfaces.DirectConnection. The message is copied and
// queued on the remote dispatcher. Send only blocks when a send window is
// set and full.
func (c *SimulatedConnection) Send(data []byte) error {
	_, window := c.network.settings()

	c.mu.Lock()
	for window > 0 && c.inflight >= window && !c.closed {
		c.drained.Wait()
	}
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if !c.open {
		c.mu.Unlock()
		return ErrChannelNotOpen
	}
	remote := c.remote
	c.inflight++
	c.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	deliverFn := func() {
		defer c.settleDelivery()
		if c.discarding() {
			return
		}
		remote.deliverMessage(buf)
	}
	if !c.network.deliver(remote, deliverFn, c.settleDelivery) {
		c.settleDelivery()
		return ErrConnectionClosed
	}
	c.network.record(remote.peerID, c.peerID, len(buf))
	return nil
}

// Close implements interfaces.DirectConnection. The remote end observes
// the close after every message sent before it, unless the network drops
// undelivered messages on close.
func (c *SimulatedConnection) Close() error {
	dropOnClose, _ := c.network.settings()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.open = false
	c.discard = dropOnClose
	remote := c.remote
	c.drained.Broadcast()
	c.mu.Unlock()

	c.queue.stop()
	if remote != nil {
		c.network.deliver(remote, func() { remote.fireRemoteClose(nil) }, nil)
	}
	return nil
}

func (c *SimulatedConnection) settleDelivery() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--
	c.drained.Broadcast()
}

func (c *SimulatedConnection) discarding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discard
}

// Fail simulates a transport failure: both ends observe a close with err.
func (c *SimulatedConnection) Fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	remote := c.remote
	c.mu.Unlock()

	c.queue.post(func() { c.fireRemoteClose(err) })
	if remote != nil {
		c.network.deliver(remote, func() { remote.fireRemoteClose(err) }, nil)
	}
}

// IsOpen reports whether the data channel is open.
func (c *SimulatedConnection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// IsClosed reports whether the connection was closed by either side.
func (c *SimulatedConnection) IsClosed() bool {
	return c.isClosed()
}

func (c *SimulatedConnection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *SimulatedConnection) gatherCandidate() {
	mid := "0"
	var index uint16
	candidate := interfaces.ICECandidate{
		Candidate:     fmt.Sprintf("candidate:%d 1 udp 2130706431 127.0.0.1 %d typ host", c.id, 50000+c.id),
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	}
	c.queue.post(func() {
		c.mu.Lock()
		handler := c.onICE
		closed := c.closed
		c.mu.Unlock()
		if handler != nil && !closed {
			handler(candidate)
		}
	})
}

func (c *SimulatedConnection) fireOpen() {
	c.mu.Lock()
	if c.closed || c.open {
		c.mu.Unlock()
		return
	}
	c.open = true
	handler := c.onOpen
	c.mu.Unlock()

	if handler != nil {
		handler()
	}
}

func (c *SimulatedConnection) deliverMessage(data []byte) {
	c.mu.Lock()
	handler := c.onMessage
	closed := c.closed
	c.mu.Unlock()

	if handler != nil && !closed {
		handler(data)
	}
}

func (c *SimulatedConnection) fireRemoteClose(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.open = false
	handler := c.onClose
	c.drained.Broadcast()
	c.mu.Unlock()

	c.queue.stop()
	if handler != nil {
		handler(err)
	}
}
