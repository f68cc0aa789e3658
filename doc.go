// Package webdrop implements peer-to-peer file transfer for a chat client.
//
// A sender offers a file to another user over the host's signaling channel.
// If the receiver accepts, the two clients open a direct WebRTC data channel
// and the file bytes travel over it in ordered, fixed-size frames. Signaling
// messages (offer, answer, ICE candidates, reject, file request) are relayed
// by the host and never carry file content.
//
// # Getting Started
//
// Create a coordinator on top of a signaling endpoint and subscribe to its
// events:
//
//	options := webdrop.NewOptions()
//
//	bridge := signaling.NewBridge(relay, "alice")
//	c, err := webdrop.New(bridge, nil, options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	c.OnIncomingRequest(func(s file.Snapshot) {
//	    c.AcceptTransfer(context.Background(), s.ID)
//	})
//
//	c.OnTransferComplete(func(f file.ReceivedFile) {
//	    fmt.Printf("received %s from %s\n", f.Descriptor.Name, f.FromUserID)
//	})
//
//	id, err := c.SendFile(ctx, "bob", webdrop.File{Name: "notes.txt", Bytes: data})
//
// When Options.SignalingURL points at a WebSocket relay, Dial connects and
// wires the bridge in one step.
//
// # Core Types
//
//   - [Coordinator]: public API for sending, accepting and requesting files
//   - [Options]: configuration, loadable from YAML and WEBDROP_* variables
//   - [Subscription]: ordered, unbounded stream of transfer events
//   - [File]: a file to send
//
// # Events
//
// Every state change and every chunk produces a transfer-progress event.
// A received file produces transfer-complete, a failure transfer-error and
// an incoming offer incoming-request. Events can be consumed through
// [Coordinator.Subscribe] or the OnTransferProgress, OnTransferComplete,
// OnTransferError and OnIncomingRequest callbacks. Callbacks run on one
// goroutine in publication order and may call back into the coordinator.
//
// # File Requests
//
// Files sent with ShareSentFiles enabled, and files registered with
// [Coordinator.Share], can be requested again by any peer that knows their
// descriptor:
//
//	err := c.RequestFile("alice", descriptor)
//
// The holder answers with a new offer, which is accepted automatically when
// AutoAcceptRequested is set, or with a "file not available" reject, which
// surfaces as a transfer-error wrapping share.ErrFileNotAvailable.
//
// # Sub-packages
//
//   - fileinfo: file descriptors and MIME detection
//   - limits: chunk and file size limits
//   - chunk: frame splitting, wire codec and reassembly
//   - interfaces: connection and signaling contracts
//   - signaling: envelope format, bridge and WebSocket relay client
//   - file: transfer sessions and the transfer manager
//   - share: shared file registry
//   - real: pion WebRTC data channel connections
//   - testing: in-memory network and relay
//   - factory: selection between real and simulated connections
package webdrop
