package signaling

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// DefaultWriteTimeout bounds a single envelope write to the relay server.
const DefaultWriteTimeout = 10 * time.Second

// ErrRelayClosed indicates Send was called after Close.
var ErrRelayClosed = errors.New("websocket relay closed")

// WebSocketRelay exchanges JSON envelopes with a relay server over one
// WebSocket connection. The server forwards each envelope to the user named
// in its targetUserId field.
type WebSocketRelay struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	closed  bool
}

// DialWebSocketRelay connects to the relay server at url.
func DialWebSocketRelay(ctx context.Context, url string, header http.Header) (*WebSocketRelay, error) {
	logrus.WithFields(logrus.Fields{
		"function": "DialWebSocketRelay",
		"url":      url,
	}).Info("Connecting to signaling relay")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "DialWebSocketRelay",
			"url":      url,
			"error":    err.Error(),
		}).Error("Failed to connect to signaling relay")
		return nil, err
	}
	return NewWebSocketRelay(conn), nil
}

// NewWebSocketRelay wraps an established WebSocket connection.
func NewWebSocketRelay(conn *websocket.Conn) *WebSocketRelay {
	return &WebSocketRelay{
		conn:         conn,
		writeTimeout: DefaultWriteTimeout,
	}
}

// Send implements Relay.
func (r *WebSocketRelay) Send(env *Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if r.closed {
		return ErrRelayClosed
	}
	if err := r.conn.SetWriteDeadline(time.Now().Add(r.writeTimeout)); err != nil {
		return err
	}
	return r.conn.WriteMessage(websocket.TextMessage, data)
}

// Run reads envelopes and dispatches them to bridge until the connection
// closes or ctx is cancelled. A normal close returns nil.
func (r *WebSocketRelay) Run(ctx context.Context, bridge *Bridge) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = r.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			logrus.WithFields(logrus.Fields{
				"function": "Run",
				"error":    err.Error(),
			}).Error("Signaling relay read failed")
			return err
		}

		env, err := UnmarshalEnvelope(data)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Run",
				"size":     len(data),
				"error":    err.Error(),
			}).Warn("Ignoring undecodable signaling message")
			continue
		}
		_ = bridge.Dispatch(env)
	}
}

// Close sends a close frame and closes the connection.
func (r *WebSocketRelay) Close() error {
	r.writeMu.Lock()
	if r.closed {
		r.writeMu.Unlock()
		return nil
	}
	r.closed = true
	_ = r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	r.writeMu.Unlock()

	return r.conn.Close()
}
