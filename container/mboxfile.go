package container

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	mboxlib "github.com/emersion/go-mbox"
)

// mboxDecoder reads .mbox containers that hold exactly one message, as some
// exporters produce. Multi-message archives are rejected and should be run
// through the split command first.
type mboxDecoder struct{}

func (mboxDecoder) Decode(path string) (*RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open container: %w", err)
	}
	defer f.Close()

	reader := mboxlib.NewReader(f)

	msg, err := reader.NextMessage()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyMbox
		}
		return nil, fmt.Errorf("read mbox: %w", err)
	}

	raw, err := io.ReadAll(msg)
	if err != nil {
		return nil, fmt.Errorf("read mbox message: %w", err)
	}

	if _, err := reader.NextMessage(); err == nil {
		return nil, ErrMultiMessageMbox
	} else if !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read mbox: %w", err)
	}

	return decodeMail(bytes.NewReader(raw))
}
