package real

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/webdrop/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// offlineConfig has no ICE servers so no test reaches the network.
func offlineConfig() *interfaces.ConnectionConfig {
	config := interfaces.DefaultConnectionConfig()
	config.ICEServers = nil
	return config
}

func TestNewWebRTCFactoryValidatesConfig(t *testing.T) {
	config := offlineConfig()
	config.DataChannelLabel = ""
	_, err := NewWebRTCFactory(config)
	assert.ErrorIs(t, err, interfaces.ErrEmptyDataChannelLabel)

	config = offlineConfig()
	config.BufferedAmountLowWater = config.BufferedAmountHighWater
	_, err = NewWebRTCFactory(config)
	assert.ErrorIs(t, err, interfaces.ErrInvalidBufferThresholds)

	f, err := NewWebRTCFactory(nil)
	require.NoError(t, err)
	assert.Len(t, f.rtc.ICEServers, 1)
}

func TestCreateOfferAdvertisesDataChannel(t *testing.T) {
	f, err := NewWebRTCFactory(offlineConfig())
	require.NoError(t, err)
	conn, err := f.NewConnection("bob")
	require.NoError(t, err)
	defer conn.Close()

	offer, err := conn.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, interfaces.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "webrtc-datachannel")
}

func TestSendBeforeOpen(t *testing.T) {
	f, err := NewWebRTCFactory(offlineConfig())
	require.NoError(t, err)
	conn, err := f.NewConnection("bob")
	require.NoError(t, err)

	assert.ErrorIs(t, conn.Send([]byte("x")), ErrChannelNotOpen)
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send([]byte("x")), ErrConnectionClosed)
	assert.NoError(t, conn.Close(), "Close is idempotent")
}

func TestAddICECandidateBeforeRemoteDescription(t *testing.T) {
	f, err := NewWebRTCFactory(offlineConfig())
	require.NoError(t, err)
	conn, err := f.NewConnection("bob")
	require.NoError(t, err)
	defer conn.Close()

	err = conn.AddICECandidate(interfaces.ICECandidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"})
	assert.Error(t, err)
}

func TestDescriptionTypeChecks(t *testing.T) {
	f, err := NewWebRTCFactory(offlineConfig())
	require.NoError(t, err)
	conn, err := f.NewConnection("bob")
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.AcceptOffer(context.Background(), interfaces.SessionDescription{Type: interfaces.SDPTypeAnswer})
	assert.Error(t, err)
	assert.Error(t, conn.AcceptAnswer(interfaces.SessionDescription{Type: interfaces.SDPTypeOffer}))
}

// TestLoopbackTransfer negotiates two real peer connections in-process. It
// needs a usable non-loopback interface, so it only runs when
// WEBDROP_WEBRTC_LOOPBACK is set.
func TestLoopbackTransfer(t *testing.T) {
	if os.Getenv("WEBDROP_WEBRTC_LOOPBACK") == "" {
		t.Skip("set WEBDROP_WEBRTC_LOOPBACK=1 to run the WebRTC loopback test")
	}

	f, err := NewWebRTCFactory(offlineConfig())
	require.NoError(t, err)
	offerer, err := f.NewConnection("bob")
	require.NoError(t, err)
	defer offerer.Close()
	answerer, err := f.NewConnection("alice")
	require.NoError(t, err)
	defer answerer.Close()

	// Trickle candidates directly once each side has a remote description.
	var mu sync.Mutex
	var toAnswerer, toOfferer []interfaces.ICECandidate
	answererReady, offererReady := false, false
	offerer.OnICECandidate(func(c interfaces.ICECandidate) {
		mu.Lock()
		defer mu.Unlock()
		if answererReady {
			_ = answerer.AddICECandidate(c)
			return
		}
		toAnswerer = append(toAnswerer, c)
	})
	answerer.OnICECandidate(func(c interfaces.ICECandidate) {
		mu.Lock()
		defer mu.Unlock()
		if offererReady {
			_ = offerer.AddICECandidate(c)
			return
		}
		toOfferer = append(toOfferer, c)
	})

	opened := make(chan struct{}, 2)
	offerer.OnOpen(func() { opened <- struct{}{} })
	answerer.OnOpen(func() { opened <- struct{}{} })

	var received strings.Builder
	done := make(chan struct{})
	answerer.OnMessage(func(data []byte) {
		received.Write(data)
		if received.Len() == 3*len("chunk") {
			close(done)
		}
	})

	ctx := context.Background()
	offer, err := offerer.CreateOffer(ctx)
	require.NoError(t, err)
	answer, err := answerer.AcceptOffer(ctx, offer)
	require.NoError(t, err)
	require.NoError(t, offerer.AcceptAnswer(answer))

	mu.Lock()
	answererReady, offererReady = true, true
	for _, c := range toAnswerer {
		require.NoError(t, answerer.AddICECandidate(c))
	}
	for _, c := range toOfferer {
		require.NoError(t, offerer.AddICECandidate(c))
	}
	mu.Unlock()

	for i := 0; i < 2; i++ {
		select {
		case <-opened:
		case <-time.After(15 * time.Second):
			t.Fatal("data channel did not open")
		}
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, offerer.Send([]byte("chunk")))
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("messages not received")
	}
	assert.Equal(t, "chunkchunkchunk", received.String())
}
