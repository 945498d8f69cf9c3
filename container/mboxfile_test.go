package container

import (
	"errors"
	"testing"
)

func TestMboxDecodeSingle(t *testing.T) {
	path := writeFixture(t, "single.mbox", `
From alice@example.com Tue Jun 10 08:30:00 2025
From: alice@example.com
To: bob@example.com
Subject: hi
Message-Id: <one@example.com>

Body line.
`)

	raw, err := NewRegistry().Decode(path)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if want := "alice@example.com"; raw.Sender != want {
		t.Errorf("Sender = %q, want %q", raw.Sender, want)
	}
	if want := "one@example.com"; raw.MessageID != want {
		t.Errorf("MessageID = %q, want %q", raw.MessageID, want)
	}
}

func TestMboxDecodeEmpty(t *testing.T) {
	path := writeFixture(t, "empty.mbox", "")

	_, err := NewRegistry().Decode(path)
	if !errors.Is(err, ErrEmptyMbox) {
		t.Errorf("Decode() error = %v, want ErrEmptyMbox", err)
	}
}

func TestMboxDecodeMulti(t *testing.T) {
	path := writeFixture(t, "multi.mbox", `
From alice@example.com Tue Jun 10 08:30:00 2025
From: alice@example.com
Subject: first

One.

From bob@example.com Tue Jun 10 09:00:00 2025
From: bob@example.com
Subject: second

Two.
`)

	_, err := NewRegistry().Decode(path)
	if !errors.Is(err, ErrMultiMessageMbox) {
		t.Errorf("Decode() error = %v, want ErrMultiMessageMbox", err)
	}
}
