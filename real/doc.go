// Package real provides the production direct connection for webdrop: a pion
// WebRTC peer connection carrying one ordered, reliable data channel.
//
// This package implements interfaces.DirectConnection and
// interfaces.ConnectionFactory on top of github.com/pion/webrtc/v3. It is the
// production counterpart of the in-memory network in the testing package.
//
// # Architecture
//
//	┌─────────────────────────────────────────┐
//	│           WebRTCConnection              │
//	│  ┌─────────────┐  ┌─────────────────┐   │
//	│  │ Data channel│  │  Backpressure   │   │
//	│  │  "file-…"   │  │ high/low water  │   │
//	│  └─────────────┘  └─────────────────┘   │
//	└───────────────┬─────────────────────────┘
//	                │
//	                ▼
//	┌─────────────────────────────────────────┐
//	│     pion PeerConnection (ICE/DTLS/SCTP) │
//	└─────────────────────────────────────────┘
//
// # Usage
//
//	factory, err := real.NewWebRTCFactory(interfaces.DefaultConnectionConfig())
//	conn, err := factory.NewConnection("bob")
//	conn.OnICECandidate(relayCandidate)
//	offer, err := conn.CreateOffer(ctx)
//
// The offering side creates the data channel; the answering side adopts the
// first remote channel whose label matches the configured one.
//
// # Backpressure
//
// Send blocks while the channel's buffered amount is above
// BufferedAmountHighWater and resumes once pion reports it has drained below
// BufferedAmountLowWater, so a whole file is never queued in SCTP at once.
//
// # Thread Safety
//
// All methods on WebRTCConnection are safe for concurrent use. Message
// callbacks are delivered from pion's read loop in arrival order.
package real
