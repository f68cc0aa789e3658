package share

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/webdrop/fileinfo"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// ErrFileNotAvailable indicates no shared entry matches a descriptor.
var ErrFileNotAvailable = errors.New("file not available")

// Blob is an opaque handle to shared file contents.
type Blob interface {
	Open() ([]byte, error)
}

// Bytes is an in-memory Blob.
type Bytes []byte

// Open returns the bytes themselves.
func (b Bytes) Open() ([]byte, error) {
	return b, nil
}

// Path is a Blob read from disk each time it is opened.
type Path string

// Open reads the whole file.
func (p Path) Open() ([]byte, error) {
	data, err := os.ReadFile(string(p))
	if err != nil {
		return nil, fmt.Errorf("open shared file %s: %w", string(p), err)
	}
	return data, nil
}

// Entry is one registered file.
type Entry struct {
	Key          string
	Descriptor   fileinfo.Descriptor
	Blob         Blob
	RegisteredAt time.Time
}

// Registry maps descriptors to blobs. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Register adds or replaces the entry for desc.
func (r *Registry) Register(desc fileinfo.Descriptor, blob Blob) error {
	if blob == nil {
		return fmt.Errorf("register %s: nil blob", desc)
	}
	if err := desc.Validate(); err != nil {
		return err
	}

	key := desc.Key()
	r.mu.Lock()
	_, replaced := r.entries[key]
	r.entries[key] = Entry{
		Key:          key,
		Descriptor:   desc,
		Blob:         blob,
		RegisteredAt: r.now(),
	}
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Register",
		"file":     desc.String(),
		"replaced": replaced,
	}).Debug("Shared file registered")
	return nil
}

// Lookup returns the blob registered for desc, or ErrFileNotAvailable.
func (r *Registry) Lookup(desc fileinfo.Descriptor) (Blob, error) {
	r.mu.RLock()
	entry, ok := r.entries[desc.Key()]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotAvailable, desc)
	}
	return entry.Blob, nil
}

// Remove deletes the entry for desc and reports whether it existed.
func (r *Registry) Remove(desc fileinfo.Descriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := desc.Key()
	_, ok := r.entries[key]
	delete(r.entries, key)
	return ok
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries returns every entry, oldest first.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	entries := lo.Values(r.entries)
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].RegisteredAt.Equal(entries[j].RegisteredAt) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].RegisteredAt.Before(entries[j].RegisteredAt)
	})
	return entries
}
