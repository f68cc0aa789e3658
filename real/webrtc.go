package real

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/webdrop/interfaces"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

var (
	// ErrConnectionClosed is returned by operations on a closed connection.
	ErrConnectionClosed = errors.New("webrtc connection closed")
	// ErrChannelNotOpen is returned by Send before the data channel opens.
	ErrChannelNotOpen = errors.New("data channel not open")
	// ErrICEFailed is reported to the close handler when ICE fails.
	ErrICEFailed = errors.New("ice connection failed")
)

// WebRTCFactory creates pion-backed connections.
type WebRTCFactory struct {
	config *interfaces.ConnectionConfig
	rtc    webrtc.Configuration
}

var _ interfaces.ConnectionFactory = (*WebRTCFactory)(nil)

// NewWebRTCFactory validates config and creates a factory.
func NewWebRTCFactory(config *interfaces.ConnectionConfig) (*WebRTCFactory, error) {
	if config == nil {
		config = interfaces.DefaultConnectionConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	rtc := webrtc.Configuration{}
	if len(config.ICEServers) > 0 {
		rtc.ICEServers = []webrtc.ICEServer{{URLs: config.ICEServers}}
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewWebRTCFactory",
		"ice_servers": len(config.ICEServers),
		"label":       config.DataChannelLabel,
	}).Info("Creating WebRTC connection factory")

	return &WebRTCFactory{config: config, rtc: rtc}, nil
}

// NewConnection implements interfaces.ConnectionFactory.
func (f *WebRTCFactory) NewConnection(peerID string) (interfaces.DirectConnection, error) {
	pc, err := webrtc.NewPeerConnection(f.rtc)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	c := &WebRTCConnection{
		peerID:   peerID,
		config:   f.config,
		pc:       pc,
		lowWater: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	c.wirePeerConnection()

	logrus.WithFields(logrus.Fields{
		"function": "NewConnection",
		"peer_id":  peerID,
	}).Debug("Created WebRTC peer connection")
	return c, nil
}

// WebRTCConnection is a DirectConnection over one pion data channel.
type WebRTCConnection struct {
	peerID string
	config *interfaces.ConnectionConfig
	pc     *webrtc.PeerConnection

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	open      bool
	closing   bool
	onICE     func(interfaces.ICECandidate)
	onOpen    func()
	onMessage func([]byte)
	onClose   func(error)

	lowWater  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	notified  sync.Once
}

var _ interfaces.DirectConnection = (*WebRTCConnection)(nil)

func (c *WebRTCConnection) wirePeerConnection() {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if candidate == nil {
			return
		}
		c.mu.Lock()
		handler := c.onICE
		c.mu.Unlock()
		if handler != nil {
			handler(fromPionCandidate(candidate.ToJSON()))
		}
	})

	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logrus.WithFields(logrus.Fields{
			"function": "OnConnectionStateChange",
			"peer_id":  c.peerID,
			"state":    state.String(),
		}).Debug("Peer connection state changed")

		switch state {
		case webrtc.PeerConnectionStateFailed:
			c.notifyClose(ErrICEFailed)
		case webrtc.PeerConnectionStateClosed:
			c.notifyClose(nil)
		}
	})

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != c.config.DataChannelLabel {
			logrus.WithFields(logrus.Fields{
				"function": "OnDataChannel",
				"peer_id":  c.peerID,
				"label":    dc.Label(),
			}).Warn("Ignoring unexpected data channel")
			return
		}
		c.attachDataChannel(dc)
	})
}

func (c *WebRTCConnection) attachDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	if c.dc != nil {
		c.mu.Unlock()
		return
	}
	c.dc = dc
	c.mu.Unlock()

	dc.SetBufferedAmountLowThreshold(c.config.BufferedAmountLowWater)
	dc.OnBufferedAmountLow(func() {
		select {
		case c.lowWater <- struct{}{}:
		default:
		}
	})

	dc.OnOpen(func() {
		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			return
		}
		c.open = true
		handler := c.onOpen
		c.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "OnOpen",
			"peer_id":  c.peerID,
			"label":    dc.Label(),
		}).Info("Data channel open")

		if handler != nil {
			handler()
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.mu.Lock()
		handler := c.onMessage
		closing := c.closing
		c.mu.Unlock()
		if handler != nil && !closing {
			handler(msg.Data)
		}
	})

	dc.OnError(func(err error) {
		c.notifyClose(err)
	})

	dc.OnClose(func() {
		c.notifyClose(nil)
	})
}

// notifyClose reports a close not caused by a local Close call, once.
func (c *WebRTCConnection) notifyClose(cause error) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.open = false
	handler := c.onClose
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.done) })
	c.notified.Do(func() {
		logrus.WithFields(logrus.Fields{
			"function": "notifyClose",
			"peer_id":  c.peerID,
			"cause":    fmt.Sprint(cause),
		}).Info("Direct connection closed by transport")

		if handler != nil {
			handler(cause)
		}
	})
}

// CreateOffer implements interfaces.DirectConnection.
func (c *WebRTCConnection) CreateOffer(ctx context.Context) (interfaces.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.SessionDescription{}, err
	}

	ordered := true
	dc, err := c.pc.CreateDataChannel(c.config.DataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return interfaces.SessionDescription{}, fmt.Errorf("create data channel: %w", err)
	}
	c.attachDataChannel(dc)

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return interfaces.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return interfaces.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return toDescription(offer), nil
}

// AcceptOffer implements interfaces.DirectConnection.
func (c *WebRTCConnection) AcceptOffer(ctx context.Context, offer interfaces.SessionDescription) (interfaces.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.SessionDescription{}, err
	}
	if offer.Type != interfaces.SDPTypeOffer {
		return interfaces.SessionDescription{}, fmt.Errorf("expected offer, got %q", offer.Type)
	}

	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		return interfaces.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return interfaces.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return interfaces.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return toDescription(answer), nil
}

// AcceptAnswer implements interfaces.DirectConnection.
func (c *WebRTCConnection) AcceptAnswer(answer interfaces.SessionDescription) error {
	if answer.Type != interfaces.SDPTypeAnswer {
		return fmt.Errorf("expected answer, got %q", answer.Type)
	}
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

// AddICECandidate implements interfaces.DirectConnection.
func (c *WebRTCConnection) AddICECandidate(candidate interfaces.ICECandidate) error {
	if c.pc.RemoteDescription() == nil {
		return fmt.Errorf("add ice candidate: remote description not set")
	}
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
	})
}

// OnICECandidate implements interfaces.DirectConnection.
func (c *WebRTCConnection) OnICECandidate(handler func(interfaces.ICECandidate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = handler
}

// OnOpen implements interfaces.DirectConnection.
func (c *WebRTCConnection) OnOpen(handler func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = handler
}

// OnMessage implements interfaces.DirectConnection.
func (c *WebRTCConnection) OnMessage(handler func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

// OnClose implements interfaces.DirectConnection.
func (c *WebRTCConnection) OnClose(handler func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = handler
}

// Send implements interfaces.DirectConnection, waiting for the buffered
// amount to drain below the low-water mark when above the high-water mark.
func (c *WebRTCConnection) Send(data []byte) error {
	c.mu.Lock()
	dc := c.dc
	open := c.open
	closing := c.closing
	c.mu.Unlock()

	if closing {
		return ErrConnectionClosed
	}
	if dc == nil || !open {
		return ErrChannelNotOpen
	}

	for dc.BufferedAmount() > c.config.BufferedAmountHighWater {
		select {
		case <-c.lowWater:
		case <-c.done:
			return ErrConnectionClosed
		}
	}
	return dc.Send(data)
}

// Close implements interfaces.DirectConnection. The close handler is not
// invoked for a local Close.
func (c *WebRTCConnection) Close() error {
	c.mu.Lock()
	c.closing = true
	c.open = false
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.done) })
	return c.closePeer()
}

func (c *WebRTCConnection) closePeer() error {
	if err := c.pc.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	return nil
}

func toDescription(desc webrtc.SessionDescription) interfaces.SessionDescription {
	return interfaces.SessionDescription{Type: desc.Type.String(), SDP: desc.SDP}
}

func fromPionCandidate(init webrtc.ICECandidateInit) interfaces.ICECandidate {
	return interfaces.ICECandidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}
