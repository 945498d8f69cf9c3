// Package container decodes message container files into a normalized raw
// form. The pipeline depends only on the Decoder contract, so conformant
// decoders for additional formats can be substituted freely.
package container

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported container format")
	ErrEmptyMbox         = errors.New("mbox contains no messages")
	ErrMultiMessageMbox  = errors.New("mbox contains more than one message, split it into single-message files first")
)

// Attachment is one embedded binary payload with the names the container
// reported for it. Either name may be empty.
type Attachment struct {
	LongName  string
	ShortName string
	Data      []byte
}

// RawMessage is the decoded content of a single container file.
//
// HTMLBody and TextBody hold a string, a []byte, or nil: decoders yield
// already-decoded text where the container carries it as such, and raw bytes
// in a legacy codepage where it does not. normalize.CleanValue accepts both.
type RawMessage struct {
	Sender      string
	To          string
	Date        time.Time
	HTMLBody    any
	TextBody    any
	MessageID   string
	Attachments []Attachment
}

// Decoder turns one container file into a RawMessage or fails.
type Decoder interface {
	Decode(path string) (*RawMessage, error)
}

// Registry selects a decoder by file extension. It implements Decoder
// itself, so it can be handed to the conversion pool directly.
type Registry struct {
	decoders map[string]Decoder
}

// NewRegistry returns a registry with all built-in decoders.
func NewRegistry() *Registry {
	return &Registry{decoders: map[string]Decoder{
		".msg":  msgDecoder{},
		".eml":  emlDecoder{},
		".mbox": mboxDecoder{},
	}}
}

// Extensions lists the supported container extensions, sorted, with leading
// dots.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.decoders))
	for ext := range r.decoders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Decode dispatches to the decoder registered for the file's extension.
func (r *Registry) Decode(path string) (*RawMessage, error) {
	ext := strings.ToLower(filepath.Ext(path))
	dec, ok := r.decoders[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return dec.Decode(path)
}
