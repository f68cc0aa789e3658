// Package fileinfo describes the files exchanged between peers.
//
// A Descriptor is the metadata sent alongside a transfer offer and the key
// under which previously shared files are found again. Two descriptors with
// the same name, size and MIME type are treated as the same file.
package fileinfo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/opd-ai/webdrop/limits"
)

var validate = validator.New()

// Descriptor is the immutable metadata of a transferred file.
type Descriptor struct {
	Name     string `json:"name" yaml:"name" validate:"required,max=255"`
	Size     uint64 `json:"size" yaml:"size" validate:"gt=0"`
	MimeType string `json:"type" yaml:"type" validate:"omitempty,max=255"`
}

// New returns a descriptor for the given name, size and MIME type.
func New(name string, size uint64, mimeType string) Descriptor {
	return Descriptor{Name: name, Size: size, MimeType: mimeType}
}

// Key returns the registry and deduplication key, name|size|mimeType.
// Collisions between different files with identical metadata are accepted.
func (d Descriptor) Key() string {
	var b strings.Builder
	b.Grow(len(d.Name) + len(d.MimeType) + 22)
	b.WriteString(d.Name)
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(d.Size, 10))
	b.WriteByte('|')
	b.WriteString(d.MimeType)
	return b.String()
}

// String implements fmt.Stringer.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%d bytes, %s)", d.Name, d.Size, d.MimeType)
}

// Validate checks the descriptor fields and the transfer size limits.
func (d Descriptor) Validate() error {
	if err := validate.Struct(d); err != nil {
		if d.Size == 0 {
			return fmt.Errorf("invalid descriptor %q: %w", d.Name, limits.ErrEmptyFile)
		}
		return fmt.Errorf("invalid descriptor %q: %w", d.Name, err)
	}
	if err := limits.ValidateFileSize(d.Size); err != nil {
		return fmt.Errorf("invalid descriptor %q: %w", d.Name, err)
	}
	return nil
}

// DetectMimeType sniffs the MIME type of data from its leading bytes.
// Unknown content is reported as application/octet-stream.
func DetectMimeType(data []byte) string {
	return mimetype.Detect(data).String()
}

// FromBytes builds a descriptor for an in-memory payload. When mimeType is
// empty it is detected from the payload.
func FromBytes(name string, data []byte, mimeType string) Descriptor {
	if mimeType == "" {
		mimeType = DetectMimeType(data)
	}
	return New(name, uint64(len(data)), mimeType)
}
