package model

import (
	"fmt"
	"time"
)

// Task describes the conversion of a single container file. Tasks share no
// mutable state, so any number of them can run in parallel.
type Task struct {
	Path           string
	AttachmentsDir string
	FromLimit      int
	ToLimit        int
	StripTags      bool
}

// Record is one converted message, written as a single JSON line.
type Record struct {
	Date        string   `json:"Date"`
	From        string   `json:"From"`
	To          string   `json:"To"`
	Message     string   `json:"Message"`
	Attachments []string `json:"Attachments"`
	MessageID   string   `json:"MessageID"`
	SourceFile  string   `json:"SourceFile"`
}

// Result pairs a task's outcome with its source path. Exactly one of Record
// or Err is meaningful.
type Result struct {
	Path   string
	Record Record
	Err    error
}

// ConversionError reports the failure of a single conversion task. It is
// collected for the end-of-run report and never written to the output stream.
type ConversionError struct {
	Path string
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Message holds the metadata of a raw RFC 5322 message used by the IMAP
// uploader.
type Message struct {
	ID         string
	Hash       string
	ReceivedAt time.Time
	Size       int64
	Raw        []byte
}
