// Package imap uploads converted messages to an IMAP mailbox.
package imap

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"os"
	"strconv"
	"strings"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/Macmod/outparser/model"
	"github.com/Macmod/outparser/state"
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	TargetFolder       string
	DryRun             bool
}

// Summary counts the outcome of one upload run.
type Summary struct {
	Uploaded int
	DryRun   int
	Skipped  int
	Failed   int
}

func (s Summary) LogAttrs() []any {
	return []any{
		"uploaded", s.Uploaded,
		"dryRun", s.DryRun,
		"skipped", s.Skipped,
		"failed", s.Failed,
	}
}

// Uploader appends message files to an IMAP mailbox, skipping messages the
// tracker has already seen. The connection is established lazily on the
// first message that actually needs it.
type Uploader struct {
	opts    Options
	tracker state.Tracker
	logger  *slog.Logger
}

func NewUploader(opts Options, tracker state.Tracker, logger *slog.Logger) (*Uploader, error) {
	if !opts.DryRun {
		if opts.Host == "" {
			return nil, fmt.Errorf("imap host is empty")
		}
		if opts.Port <= 0 {
			return nil, fmt.Errorf("imap port must be positive")
		}
	}
	if tracker == nil {
		return nil, fmt.Errorf("tracker must not be nil")
	}
	return &Uploader{opts: opts, tracker: tracker, logger: logger}, nil
}

// UploadAll processes the given message files in order. Unreadable or
// unparsable files are counted and skipped; connection and append failures
// abort the run.
func (u *Uploader) UploadAll(ctx context.Context, files []string) (Summary, error) {
	var (
		summary Summary
		client  *imapclient.Client
		cleanup func()
	)
	defer func() {
		if cleanup != nil {
			cleanup()
		}
	}()

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			summary.Failed++
			if u.logger != nil {
				u.logger.Error("read message file", "path", path, "err", err)
			}
			continue
		}

		msg, err := parseMessageMeta(raw)
		if err != nil {
			summary.Failed++
			if u.logger != nil {
				u.logger.Error("parse message file", "path", path, "err", err)
			}
			continue
		}

		if u.tracker.Seen(msg.Hash) {
			summary.Skipped++
			if u.logger != nil {
				u.logger.Debug("already uploaded", "path", path, "messageID", msg.ID)
			}
			continue
		}

		if u.opts.DryRun {
			if err := u.tracker.Record(state.Entry{Hash: msg.Hash, MessageID: msg.ID, Mailbox: u.targetFolder()}); err != nil {
				return summary, fmt.Errorf("record upload: %w", err)
			}
			summary.DryRun++
			if u.logger != nil {
				u.logger.Debug("dry-run upload", "path", path, "target", u.targetFolder(), "hash", msg.Hash)
			}
			continue
		}

		if client == nil {
			client, cleanup, err = u.dial(ctx)
			if err != nil {
				return summary, err
			}
		}

		if err := u.appendMessage(client, msg); err != nil {
			return summary, fmt.Errorf("upload %s: %w", path, err)
		}

		if err := u.tracker.Record(state.Entry{Hash: msg.Hash, MessageID: msg.ID, Mailbox: u.targetFolder()}); err != nil {
			return summary, fmt.Errorf("record upload: %w", err)
		}

		summary.Uploaded++
		if u.logger != nil {
			u.logger.Debug("uploaded message", "path", path, "messageID", msg.ID, "target", u.targetFolder())
		}
	}

	return summary, nil
}

// parseMessageMeta extracts the identity of a raw RFC 5322 message. The
// message id may be absent; the content hash is what deduplication keys on.
func parseMessageMeta(raw []byte) (model.Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return model.Message{}, err
	}

	id := strings.TrimSpace(msg.Header.Get("Message-Id"))
	id = strings.Trim(id, " <>")

	parsed := model.Message{
		ID:   id,
		Size: int64(len(raw)),
		Raw:  raw,
	}
	if date := msg.Header.Get("Date"); date != "" {
		if t, err := mail.ParseDate(date); err == nil {
			parsed.ReceivedAt = t
		}
	}

	sum := sha256.Sum256(raw)
	parsed.Hash = base64.StdEncoding.EncodeToString(sum[:])

	return parsed, nil
}

func (u *Uploader) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(u.opts.Host, strconv.Itoa(u.opts.Port))
	options := &imapclient.Options{}

	if u.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         u.opts.Host,
			InsecureSkipVerify: u.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if u.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(u.opts.Username, u.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	if err := u.ensureMailbox(client); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	if u.logger != nil {
		u.logger.Debug("imap connection established", "address", address, "user", u.opts.Username, "target", u.targetFolder(), "tls", u.opts.UseTLS)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				if u.logger != nil {
					u.logger.Warn("imap logout failed", "err", err)
				}
			}
		}
		if err := client.Close(); err != nil && u.logger != nil {
			u.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

func (u *Uploader) appendMessage(client *imapclient.Client, msg model.Message) error {
	target := u.targetFolder()

	var opts *imapv2.AppendOptions
	if !msg.ReceivedAt.IsZero() {
		opts = &imapv2.AppendOptions{Time: msg.ReceivedAt}
	}

	cmd := client.Append(target, msg.Size, opts)

	remaining := msg.Raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}

	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append wait: %w", err)
	}

	return nil
}

func (u *Uploader) targetFolder() string {
	if u.opts.TargetFolder == "" {
		return "INBOX"
	}
	return u.opts.TargetFolder
}

func (u *Uploader) ensureMailbox(client *imapclient.Client) error {
	target := u.targetFolder()
	cmd := client.Create(target, nil)
	if err := cmd.Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) {
			if respErr.Code == imapv2.ResponseCodeAlreadyExists {
				if u.logger != nil {
					u.logger.Debug("imap mailbox already exists", "mailbox", target)
				}
				return nil
			}
		}
		return fmt.Errorf("ensure mailbox %s: %w", target, err)
	}

	if u.logger != nil {
		u.logger.Info("imap mailbox created", "mailbox", target)
	}

	return nil
}
