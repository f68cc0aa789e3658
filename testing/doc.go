// Package testing provides an in-memory network of direct connections and an
// in-memory signaling relay for deterministic tests of webdrop.
//
// # Overview
//
// SimulatedNetwork mirrors the WebRTC data channel implementation in the
// real package but never touches a socket. Offers and answers are opaque
// tokens, ICE candidates are synthetic, and messages are handed to the
// remote side through a per-connection dispatcher goroutine that preserves
// send order, matching the ordered and reliable channel contract of
// interfaces.DirectConnection.
//
// SimulatedRelay plays the role of the host application's relay: each
// user joins with a signaling.Bridge and envelopes are JSON encoded,
// routed by target user and dispatched asynchronously.
//
// # Simulation vs Real Implementation
//
//   - Simulation (this package): everything in-memory, with delivery logs
//     and failure injection. Used for unit and integration testing.
//
//   - Real (real package): pion WebRTC peer connections with ICE, DTLS and
//     SCTP. Used for production deployments.
//
// Both implement interfaces.ConnectionFactory, and the factory package
// selects one from interfaces.ConnectionConfig.UseSimulation.
//
// # Usage
//
//	network := testing.NewSimulatedNetwork(interfaces.DefaultConnectionConfig())
//	relay := testing.NewSimulatedRelay()
//	alice := relay.Join("alice")
//	bob := relay.Join("bob")
//
//	// build a manager per user on top of network and alice/bob
//
//	// inspect what crossed the wire
//	for _, rec := range network.GetDeliveryLog() {
//	    fmt.Println(rec.From, rec.To, rec.Size)
//	}
//
// # Failure Injection
//
//	network.FailNextConnection(errors.New("no route"))
//	conn.Fail(errors.New("ice failed")) // both sides observe a close
//
// # Thread Safety
//
// All types are safe for concurrent use. Callbacks of one connection run
// on that connection's dispatcher goroutine, never concurrently.
package testing
