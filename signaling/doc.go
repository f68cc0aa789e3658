// Package signaling adapts the host application's message relay to the
// transfer core.
//
// Signaling messages travel as JSON envelopes. The Bridge converts inbound
// envelopes into typed Handler callbacks and implements interfaces.Signaler
// for outbound messages:
//
//	bridge := signaling.NewBridge(relay, "alice")
//	bridge.SetHandler(coordinator)
//
//	// from the relay's read loop
//	bridge.Dispatch(envelope)
//
// WebSocketRelay is a Relay that exchanges envelopes with a relay server over
// a WebSocket connection. Any other transport only needs to implement Relay
// and feed received envelopes to Dispatch.
package signaling
