// Package interfaces defines the boundary contracts between the transfer core
// and its collaborators: the direct peer-to-peer connection and the signaling
// relay.
//
// These abstractions allow switching between the pion WebRTC implementation
// (package real) and the in-memory simulation (package testing) without
// changing the transfer logic.
//
// # Direct Connections
//
// [DirectConnection] is one negotiated data channel to one peer. The offering
// side calls CreateOffer and later AcceptAnswer; the answering side calls
// AcceptOffer. Both sides trickle ICE candidates through the signaling relay:
//
//	conn, err := factory.NewConnection(peerID)
//	conn.OnICECandidate(func(c interfaces.ICECandidate) {
//	    signaler.SendICECandidate(peerID, transferID, c)
//	})
//	conn.OnOpen(func() { ... })
//	conn.OnMessage(func(data []byte) { ... })
//	offer, err := conn.CreateOffer(ctx)
//
// [ConnectionFactory] creates connections; the factory package selects an
// implementation from [ConnectionConfig].
//
// # Signaling
//
// [Signaler] is the set of outbound signaling calls, each targeted at one peer.
// The signaling package implements it on top of any message relay.
//
// # Configuration
//
// [ConnectionConfig] holds the settings shared by connection implementations:
//
//	config := &interfaces.ConnectionConfig{
//	    UseSimulation: false,
//	    ICEServers:    []string{"stun:stun.l.google.com:19302"},
//	}
//	if err := config.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package interfaces
