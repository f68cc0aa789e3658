package interfaces

import "github.com/opd-ai/webdrop/fileinfo"

// Signaler sends signaling messages to one peer through the host's relay.
//
// transferID identifies the transfer the message belongs to and is empty for
// messages not bound to a transfer, such as a file request or the reject
// answering it.
type Signaler interface {
	// SendOffer relays a connection offer together with the file metadata.
	SendOffer(peerID, transferID string, offer SessionDescription, info fileinfo.Descriptor) error

	// SendAnswer relays the answer to an accepted offer.
	SendAnswer(peerID, transferID string, answer SessionDescription) error

	// SendICECandidate relays a locally gathered candidate.
	SendICECandidate(peerID, transferID string, candidate ICECandidate) error

	// SendReject relays a reject. info is set when rejecting a file request.
	SendReject(peerID, transferID, reason string, info *fileinfo.Descriptor) error

	// SendFileRequest asks peerID to send the described file.
	SendFileRequest(peerID string, info fileinfo.Descriptor) error
}
