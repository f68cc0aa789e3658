// Package share keeps the files the local user has sent so that other peers
// can pull them later without the user attaching them again.
//
// Entries are keyed by fileinfo.Descriptor.Key (name, size and MIME type)
// and live for the process lifetime unless removed:
//
//	registry := share.NewRegistry()
//	registry.Register(desc, share.Bytes(data))
//
//	blob, err := registry.Lookup(desc)
//	if errors.Is(err, share.ErrFileNotAvailable) {
//	    // answer the requester with a reject
//	}
package share
