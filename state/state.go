// Package state keeps an append-only log of uploaded messages so repeated
// upload runs skip what earlier runs already pushed.
package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const logName = "uploads.jsonl"

// Entry is one recorded upload. Hash keys deduplication; the rest is kept
// for auditing the log by hand.
type Entry struct {
	Hash       string    `json:"hash"`
	MessageID  string    `json:"message_id,omitempty"`
	Mailbox    string    `json:"mailbox,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Tracker answers whether a message was uploaded before and records new
// uploads.
type Tracker interface {
	Seen(hash string) bool
	Record(e Entry) error
	Len() int
}

// Memory tracks uploads for the lifetime of the process only.
type Memory struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

func (m *Memory) Seen(hash string) bool {
	if hash == "" {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.seen[hash]
	return ok
}

func (m *Memory) Record(e Entry) error {
	if e.Hash == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[e.Hash] = struct{}{}
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.seen)
}

// Log is a Tracker backed by a JSONL file in the state directory. Every
// Record appends one line, so an interrupted run resumes from its last
// completed upload. In read-only mode (dry runs) the existing log is
// consulted but new entries stay in memory.
type Log struct {
	*Memory
	path string

	writeMu sync.Mutex
	file    *os.File
	enc     *json.Encoder
}

// Open loads the upload log under stateDir, creating the directory and the
// log file as needed, and keeps the file open for appending.
func Open(stateDir string) (*Log, error) {
	l, err := openLog(stateDir)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open upload log for append: %w", err)
	}
	l.file = file
	l.enc = json.NewEncoder(file)
	return l, nil
}

// OpenReadOnly loads the upload log without opening it for writing. Record
// calls update only the in-memory set.
func OpenReadOnly(stateDir string) (*Log, error) {
	return openLog(stateDir)
}

func openLog(stateDir string) (*Log, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	l := &Log{
		Memory: NewMemory(),
		path:   filepath.Join(stateDir, logName),
	}
	if err := l.replay(); err != nil {
		return nil, err
	}
	return l, nil
}

// replay reads the existing log into the in-memory set.
func (l *Log) replay() error {
	file, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open upload log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("upload log line %d: %w", line, err)
		}
		if err := l.Memory.Record(e); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read upload log: %w", err)
	}
	return nil
}

// Record appends the entry to the log unless its hash is already known.
// A zero UploadedAt is filled with the current time.
func (l *Log) Record(e Entry) error {
	if e.Hash == "" {
		return nil
	}
	if l.Seen(e.Hash) {
		return nil
	}
	if err := l.Memory.Record(e); err != nil {
		return err
	}
	if l.enc == nil {
		return nil
	}

	if e.UploadedAt.IsZero() {
		e.UploadedAt = time.Now().UTC()
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.enc.Encode(e); err != nil {
		return fmt.Errorf("append upload log: %w", err)
	}
	return nil
}

// Close syncs and closes the log file, if one is open.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	l.file = nil
	l.enc = nil
	if syncErr != nil {
		return fmt.Errorf("sync upload log: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close upload log: %w", closeErr)
	}
	return nil
}
