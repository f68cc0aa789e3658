package webdrop

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/webdrop/factory"
	"github.com/opd-ai/webdrop/file"
	"github.com/opd-ai/webdrop/fileinfo"
	"github.com/opd-ai/webdrop/interfaces"
	"github.com/opd-ai/webdrop/limits"
	"github.com/opd-ai/webdrop/share"
	"github.com/opd-ai/webdrop/signaling"
)

// ErrNoSignalingURL is returned by Dial when Options.SignalingURL is empty.
var ErrNoSignalingURL = errors.New("signaling URL not configured")

// File is a file to send. MimeType is detected from Bytes when empty.
type File struct {
	Name     string
	MimeType string
	Bytes    []byte
}

// SignalingEndpoint sends signaling messages and delivers inbound ones to a
// handler. *signaling.Bridge implements it.
type SignalingEndpoint interface {
	interfaces.Signaler
	SetHandler(h signaling.Handler)
}

// TransferProgressCallback is called for every transfer-progress event.
type TransferProgressCallback func(snapshot file.Snapshot)

// TransferCompleteCallback is called when an inbound file has been received.
type TransferCompleteCallback func(received file.ReceivedFile)

// TransferErrorCallback is called when a transfer fails.
type TransferErrorCallback func(snapshot file.Snapshot, err error)

// IncomingRequestCallback is called when a peer offers a file.
type IncomingRequestCallback func(snapshot file.Snapshot)

type requestKey struct {
	peerID string
	key    string
}

// Coordinator is the public face of the file transfer subsystem. It routes
// signaling to the transfer manager, serves file requests from the shared
// file registry and delivers transfer events to subscribers and callbacks.
type Coordinator struct {
	options   *Options
	endpoint  SignalingEndpoint
	manager   *file.Manager
	registry  *share.Registry
	bus       *eventBus
	callbacks *Subscription
	relay     *signaling.WebSocketRelay

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	requests map[requestKey]time.Time
	clock    file.TimeProvider
	closed   bool

	callbackMu       sync.RWMutex
	progressCallback TransferProgressCallback
	completeCallback TransferCompleteCallback
	errorCallback    TransferErrorCallback
	requestCallback  IncomingRequestCallback
}

// New creates a coordinator that signals through endpoint. When connections
// is nil the connection factory is selected from options. A nil options
// uses NewOptions.
func New(endpoint SignalingEndpoint, connections interfaces.ConnectionFactory, options *Options) (*Coordinator, error) {
	if options == nil {
		options = NewOptions()
	}

	logrus.WithFields(logrus.Fields{
		"function":       "New",
		"use_simulation": options.UseSimulation,
		"chunk_size":     options.ChunkSize,
	}).Info("Creating new transfer coordinator")

	if endpoint == nil {
		return nil, fmt.Errorf("signaling endpoint cannot be nil")
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	if connections == nil {
		provider := factory.NewConnectionFactoryProvider(options.ConnectionConfig())
		var err error
		connections, err = provider.CreateConnectionFactory()
		if err != nil {
			return nil, err
		}
	}

	bus := newEventBus()
	manager, err := file.NewManager(endpoint, connections, bus, options.ManagerConfig())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		options:  options,
		endpoint: endpoint,
		manager:  manager,
		registry: share.NewRegistry(),
		bus:      bus,
		ctx:      ctx,
		cancel:   cancel,
		requests: make(map[requestKey]time.Time),
		clock:    file.DefaultTimeProvider{},
	}
	c.callbacks = bus.subscribe()
	go c.dispatchCallbacks()

	endpoint.SetHandler(&signalHandler{c: c})
	return c, nil
}

// Dial connects to the WebSocket relay at options.SignalingURL as
// localUserID and creates a coordinator signaling through it.
func Dial(ctx context.Context, localUserID string, options *Options) (*Coordinator, error) {
	if options == nil {
		options = NewOptions()
	}
	if options.SignalingURL == "" {
		return nil, ErrNoSignalingURL
	}

	relay, err := signaling.DialWebSocketRelay(ctx, options.SignalingURL, nil)
	if err != nil {
		return nil, err
	}
	bridge := signaling.NewBridge(relay, localUserID)

	c, err := New(bridge, nil, options)
	if err != nil {
		relay.Close()
		return nil, err
	}
	c.relay = relay

	go func() {
		if err := relay.Run(c.ctx, bridge); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithFields(logrus.Fields{
				"function": "Dial",
				"url":      options.SignalingURL,
				"error":    err.Error(),
			}).Error("Signaling relay stopped")
		}
	}()
	return c, nil
}

// SetTimeProvider sets the clock used by transfers started afterwards and
// by file request expiry.
func (c *Coordinator) SetTimeProvider(tp file.TimeProvider) {
	c.mu.Lock()
	c.clock = tp
	c.mu.Unlock()
	c.manager.SetTimeProvider(tp)
}

func (c *Coordinator) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.Now()
}

// Registry returns the shared file registry used to answer file requests.
func (c *Coordinator) Registry() *share.Registry {
	return c.registry
}

// Subscribe returns a new event subscription.
func (c *Coordinator) Subscribe() *Subscription {
	return c.bus.subscribe()
}

// OnTransferProgress sets the callback for transfer-progress events.
func (c *Coordinator) OnTransferProgress(callback TransferProgressCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.progressCallback = callback
}

// OnTransferComplete sets the callback for transfer-complete events.
func (c *Coordinator) OnTransferComplete(callback TransferCompleteCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.completeCallback = callback
}

// OnTransferError sets the callback for transfer-error events.
func (c *Coordinator) OnTransferError(callback TransferErrorCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.errorCallback = callback
}

// OnIncomingRequest sets the callback for incoming-request events. The
// callback may call AcceptTransfer or RejectTransfer.
func (c *Coordinator) OnIncomingRequest(callback IncomingRequestCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.requestCallback = callback
}

func (c *Coordinator) dispatchCallbacks() {
	for e := range c.callbacks.Events() {
		c.callbackMu.RLock()
		progress, complete, failed, request := c.progressCallback, c.completeCallback, c.errorCallback, c.requestCallback
		c.callbackMu.RUnlock()

		switch e.Kind {
		case file.EventTransferProgress:
			if progress != nil {
				progress(e.Snapshot)
			}
		case file.EventTransferComplete:
			if complete != nil && e.File != nil {
				complete(*e.File)
			}
		case file.EventTransferError:
			if failed != nil {
				failed(e.Snapshot, e.Err)
			}
		case file.EventIncomingRequest:
			if request != nil {
				request(e.Snapshot)
			}
		}
	}
}

// SendFile offers f to peerID and returns the new transfer id. It returns
// once the transfer is registered; negotiation continues in the background
// and its failures arrive as transfer-error events.
func (c *Coordinator) SendFile(ctx context.Context, peerID string, f File) (string, error) {
	if c.isClosed() {
		return "", file.ErrManagerClosed
	}
	if len(f.Bytes) == 0 {
		return "", fmt.Errorf("%w: %s", limits.ErrEmptyFile, f.Name)
	}

	desc := fileinfo.FromBytes(f.Name, f.Bytes, f.MimeType)
	if err := desc.Validate(); err != nil {
		return "", err
	}

	if c.options.ShareSentFiles {
		if err := c.registry.Register(desc, share.Bytes(f.Bytes)); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SendFile",
				"file":     desc.String(),
				"error":    err.Error(),
			}).Warn("Failed to share sent file")
		}
	}

	id, err := c.manager.Initiate(ctx, peerID, desc, f.Bytes)
	if err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "SendFile",
		"transfer_id": id,
		"peer_id":     peerID,
		"file":        desc.String(),
	}).Info("File transfer started")
	return id, nil
}

// SendFilePath reads the file at path into memory and sends it.
func (c *Coordinator) SendFilePath(ctx context.Context, peerID, path string) (string, error) {
	data, err := share.Path(path).Open()
	if err != nil {
		return "", err
	}
	return c.SendFile(ctx, peerID, File{Name: filepath.Base(path), Bytes: data})
}

// Share registers f so that peers can request it without it being sent
// first.
func (c *Coordinator) Share(f File) (fileinfo.Descriptor, error) {
	desc := fileinfo.FromBytes(f.Name, f.Bytes, f.MimeType)
	if err := c.registry.Register(desc, share.Bytes(f.Bytes)); err != nil {
		return fileinfo.Descriptor{}, err
	}
	return desc, nil
}

// AcceptTransfer accepts an incoming transfer. Unknown and finished
// transfers are ignored.
func (c *Coordinator) AcceptTransfer(ctx context.Context, transferID string) error {
	return ignoreNotFound("AcceptTransfer", transferID, c.manager.Accept(ctx, transferID))
}

// RejectTransfer declines an incoming transfer. Unknown and finished
// transfers are ignored.
func (c *Coordinator) RejectTransfer(transferID, reason string) error {
	return ignoreNotFound("RejectTransfer", transferID, c.manager.Reject(transferID, reason))
}

// CancelTransfer stops a transfer in either direction. Unknown and finished
// transfers are ignored.
func (c *Coordinator) CancelTransfer(transferID string) error {
	return ignoreNotFound("CancelTransfer", transferID, c.manager.Cancel(transferID))
}

func ignoreNotFound(function, transferID string, err error) error {
	if errors.Is(err, file.ErrTransferNotFound) {
		logrus.WithFields(logrus.Fields{
			"function":    function,
			"transfer_id": transferID,
		}).Debug("Ignoring operation on unknown transfer")
		return nil
	}
	return err
}

// RequestFile asks peerID to send a file it shared earlier. The answer is
// either an offer, accepted automatically when AutoAcceptRequested is set,
// or a transfer-error event wrapping share.ErrFileNotAvailable. A request
// left unanswered for FileRequestTimeout is dropped.
func (c *Coordinator) RequestFile(peerID string, desc fileinfo.Descriptor) error {
	if c.isClosed() {
		return file.ErrManagerClosed
	}
	if err := desc.Validate(); err != nil {
		return err
	}

	key := requestKey{peerID: peerID, key: desc.Key()}
	c.mu.Lock()
	c.requests[key] = c.clock.Now()
	c.mu.Unlock()

	if err := c.endpoint.SendFileRequest(peerID, desc); err != nil {
		c.mu.Lock()
		delete(c.requests, key)
		c.mu.Unlock()
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "RequestFile",
		"peer_id":  peerID,
		"file":     desc.String(),
	}).Info("File requested")
	return nil
}

// PendingRequests returns how many file requests are still unanswered.
func (c *Coordinator) PendingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireRequestsLocked()
	return len(c.requests)
}

// takeRequest consumes the pending request for desc from peerID. Expired
// requests do not match.
func (c *Coordinator) takeRequest(peerID string, desc fileinfo.Descriptor) bool {
	key := requestKey{peerID: peerID, key: desc.Key()}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireRequestsLocked()
	if _, ok := c.requests[key]; !ok {
		return false
	}
	delete(c.requests, key)
	return true
}

func (c *Coordinator) expireRequestsLocked() {
	now := c.clock.Now()
	for key, requestedAt := range c.requests {
		if now.Sub(requestedAt) < c.options.FileRequestTimeout {
			continue
		}
		delete(c.requests, key)
		logrus.WithFields(logrus.Fields{
			"function": "expireRequestsLocked",
			"peer_id":  key.peerID,
			"file":     key.key,
		}).Debug("File request expired")
	}
}

// Transfer returns the snapshot of an active or recently finished transfer.
func (c *Coordinator) Transfer(transferID string) (file.Snapshot, bool) {
	s, ok := c.manager.Lookup(transferID)
	if !ok {
		return file.Snapshot{}, false
	}
	return s.Snapshot(), true
}

// Transfers returns snapshots of all active transfers.
func (c *Coordinator) Transfers() []file.Snapshot {
	return c.manager.Snapshots()
}

// Close cancels every active transfer and stops event delivery.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Close",
	}).Info("Closing transfer coordinator")

	err := c.manager.Close()
	c.cancel()
	c.bus.close()
	if c.relay != nil {
		if rerr := c.relay.Close(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// failRequest publishes a transfer-error for a transfer that never got a
// session.
func (c *Coordinator) failRequest(peerID string, dir file.TransferDirection, desc fileinfo.Descriptor, err error) {
	now := c.now()
	c.bus.Publish(file.Event{
		Kind: file.EventTransferError,
		Snapshot: file.Snapshot{
			PeerID:     peerID,
			Direction:  dir,
			Descriptor: desc,
			Status:     file.StatusFailed,
			TotalBytes: desc.Size,
			StartedAt:  now,
			FinishedAt: now,
			Err:        err,
		},
		Err: err,
	})
}

// serveRequest sends a registered file to the peer that requested it.
func (c *Coordinator) serveRequest(peerID string, desc fileinfo.Descriptor, blob share.Blob) {
	payload, err := blob.Open()
	if err == nil && uint64(len(payload)) != desc.Size {
		err = fmt.Errorf("%w: %s changed since it was shared", share.ErrFileNotAvailable, desc)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "serveRequest",
			"peer_id":  peerID,
			"file":     desc.String(),
			"error":    err.Error(),
		}).Warn("Shared file could not be read")
		c.rejectRequest(peerID, desc)
		c.failRequest(peerID, file.DirectionOutbound, desc, err)
		return
	}

	id, err := c.manager.Initiate(c.ctx, peerID, desc, payload)
	if errors.Is(err, file.ErrPeerBusy) {
		logrus.WithFields(logrus.Fields{
			"function": "serveRequest",
			"peer_id":  peerID,
			"file":     desc.String(),
		}).Info("Requested file already on its way")
		return
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "serveRequest",
			"peer_id":  peerID,
			"file":     desc.String(),
			"error":    err.Error(),
		}).Error("Failed to serve file request")
		c.rejectRequest(peerID, desc)
		c.failRequest(peerID, file.DirectionOutbound, desc, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":    "serveRequest",
		"peer_id":     peerID,
		"transfer_id": id,
		"file":        desc.String(),
	}).Info("Serving requested file")
}

func (c *Coordinator) rejectRequest(peerID string, desc fileinfo.Descriptor) {
	if err := c.endpoint.SendReject(peerID, "", file.ReasonFileNotAvailable, &desc); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "rejectRequest",
			"peer_id":  peerID,
			"error":    err.Error(),
		}).Warn("Failed to relay file request reject")
	}
}

func (c *Coordinator) autoAccept(transferID string) {
	if err := c.AcceptTransfer(c.ctx, transferID); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "autoAccept",
			"transfer_id": transferID,
			"error":       err.Error(),
		}).Warn("Automatic accept of requested file failed")
	}
}

// signalHandler feeds inbound signaling into the coordinator.
type signalHandler struct {
	c *Coordinator
}

var _ signaling.Handler = (*signalHandler)(nil)

func (h *signalHandler) OnOffer(fromUserID, transferID string, offer interfaces.SessionDescription, info fileinfo.Descriptor) {
	id := h.c.manager.OnOfferReceived(fromUserID, transferID, offer, info)
	if id == "" {
		return
	}
	if h.c.takeRequest(fromUserID, info) && h.c.options.AutoAcceptRequested {
		logrus.WithFields(logrus.Fields{
			"function":    "OnOffer",
			"transfer_id": id,
			"file":        info.String(),
		}).Info("Accepting requested file")
		go h.c.autoAccept(id)
	}
}

func (h *signalHandler) OnAnswer(fromUserID, transferID string, answer interfaces.SessionDescription) {
	h.c.manager.OnAnswerReceived(fromUserID, transferID, answer)
}

func (h *signalHandler) OnICECandidate(fromUserID, transferID string, candidate interfaces.ICECandidate) {
	h.c.manager.OnICECandidate(fromUserID, transferID, candidate)
}

// OnRejected handles both session rejects and answers to file requests.
// A reject carrying file info answers a file request and never reaches a
// transfer session.
func (h *signalHandler) OnRejected(fromUserID, transferID, reason string, info *fileinfo.Descriptor) {
	if info != nil {
		h.onRequestRejected(fromUserID, reason, *info)
		return
	}
	if !h.c.manager.OnRejected(fromUserID, transferID, reason) {
		logrus.WithFields(logrus.Fields{
			"function":    "OnRejected",
			"peer_id":     fromUserID,
			"transfer_id": transferID,
		}).Debug("Reject for unknown transfer")
	}
}

func (h *signalHandler) onRequestRejected(fromUserID, reason string, info fileinfo.Descriptor) {
	if !h.c.takeRequest(fromUserID, info) {
		logrus.WithFields(logrus.Fields{
			"function": "OnRejected",
			"peer_id":  fromUserID,
			"file":     info.String(),
			"reason":   reason,
		}).Debug("Reject for no pending file request")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "OnRejected",
		"peer_id":  fromUserID,
		"file":     info.String(),
		"reason":   reason,
	}).Info("Requested file not available")
	err := fmt.Errorf("%w: %s", share.ErrFileNotAvailable, info)
	if reason != file.ReasonFileNotAvailable {
		err = fmt.Errorf("%w: %s (%s)", share.ErrFileNotAvailable, info, reason)
	}
	h.c.failRequest(fromUserID, file.DirectionInbound, info, err)
}

func (h *signalHandler) OnFileRequest(fromUserID string, info fileinfo.Descriptor) {
	if h.c.isClosed() {
		return
	}
	blob, err := h.c.registry.Lookup(info)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OnFileRequest",
			"peer_id":  fromUserID,
			"file":     info.String(),
		}).Info("Requested file is not shared")
		h.c.rejectRequest(fromUserID, info)
		return
	}
	go h.c.serveRequest(fromUserID, info, blob)
}
