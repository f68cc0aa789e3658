// Package file implements browser-to-browser style file transfers over a
// direct peer connection, negotiated through a signaling relay.
//
// # Overview
//
// The file package provides two primary components:
//
//   - Session: one logical transfer, outbound or inbound, with its state
//     machine, its direct connection and its observable progress
//   - Manager: owns every active Session, creates connections through an
//     interfaces.ConnectionFactory and routes signaling messages to the
//     matching Session by (peer, transfer id)
//
// # Transfer States
//
// Sessions progress through a fixed set of states:
//
//	StatusNegotiating  // offer being created, or waiting for local consent
//	StatusConnecting   // offer/answer exchanged, ICE in progress
//	StatusInProgress   // data channel open, frames flowing
//	StatusCompleted    // terminal
//	StatusRejected     // terminal
//	StatusCancelled    // terminal
//	StatusFailed       // terminal
//
// Terminal sessions never transition again. They leave the active map
// immediately and stay visible through Manager.Lookup for a short grace
// period so a UI can render the final status.
//
// # Sending a File
//
//	manager := file.NewManager(signaler, connections, publisher, file.DefaultManagerConfig())
//	id, err := manager.Initiate(ctx, "bob", descriptor, payload)
//	if errors.Is(err, file.ErrPeerBusy) {
//	    // identical transfer to bob already running
//	}
//
// Initiate returns as soon as the session is registered. Negotiation,
// chunking and completion are reported through the Publisher.
//
// # Receiving a File
//
// The signaling layer calls OnOfferReceived, which creates a provisional
// inbound session and publishes EventIncomingRequest. Nothing is negotiated
// until Accept is called:
//
//	if err := manager.Accept(ctx, id); err != nil {
//	    log.Printf("accept failed: %v", err)
//	}
//
// # Events
//
// Every state transition and every chunk publishes EventTransferProgress
// carrying a Snapshot. Inbound completion publishes EventTransferComplete
// with the ReceivedFile, and failures publish EventTransferError. Events are
// published while the session lock is held so that no event can follow a
// terminal transition; Publisher implementations must therefore never block.
//
// # Deterministic Testing
//
// Speed calculations go through a TimeProvider, which tests replace:
//
//	manager.SetTimeProvider(&mockTimeProvider{currentTime: fixed})
package file
