package container

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// emlDecoder reads RFC 5322 containers (.eml), one message per file.
type emlDecoder struct{}

func (emlDecoder) Decode(path string) (*RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open container: %w", err)
	}
	defer f.Close()

	return decodeMail(f)
}

func decodeMail(r io.Reader) (*RawMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && (mr == nil || !message.IsUnknownCharset(err)) {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	raw := &RawMessage{
		Sender: addressText(mr.Header, "From"),
		To:     addressText(mr.Header, "To"),
	}

	if date, err := mr.Header.Date(); err == nil {
		raw.Date = date
	}
	if id, err := mr.Header.MessageID(); err == nil {
		raw.MessageID = id
	} else {
		raw.MessageID = strings.Trim(mr.Header.Get("Message-Id"), " <>")
	}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ctype, _, _ := h.ContentType()
			body, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("read body part: %w", err)
			}
			switch ctype {
			case "text/html":
				if raw.HTMLBody == nil {
					raw.HTMLBody = string(body)
				}
			case "text/plain":
				if raw.TextBody == nil {
					raw.TextBody = string(body)
				}
			}
		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			data, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("read attachment: %w", err)
			}
			raw.Attachments = append(raw.Attachments, Attachment{LongName: name, Data: data})
		}
	}

	return raw, nil
}

// addressText renders an address header as a `;`-separated list, the form
// the summarizer splits on. Unparseable headers fall back to their raw text.
func addressText(h mail.Header, key string) string {
	addrs, err := h.AddressList(key)
	if err != nil || len(addrs) == 0 {
		return strings.TrimSpace(h.Get(key))
	}

	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.Name, a.Address))
		} else {
			parts = append(parts, a.Address)
		}
	}
	return strings.Join(parts, "; ")
}
