package container

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func utf16Prop(s string) propValue {
	b := make([]byte, 0, len(s)*2)
	for _, r := range s {
		b = append(b, byte(r), byte(r>>8))
	}
	return propValue{typ: typeUnicode, data: b}
}

func string8Prop(s string) propValue {
	return propValue{typ: typeString8, data: []byte(s)}
}

func propEntry(tag, typ uint16, value uint64) []byte {
	entry := make([]byte, 16)
	binary.LittleEndian.PutUint32(entry, uint32(tag)<<16|uint32(typ))
	binary.LittleEndian.PutUint64(entry[8:], value)
	return entry
}

func propsStream(entries ...[]byte) []byte {
	out := make([]byte, msgPropsHeaderLen)
	for _, e := range entries {
		out = append(out, e...)
	}
	return out
}

func TestParseStreamName(t *testing.T) {
	tests := []struct {
		name    string
		wantTag uint16
		wantTyp uint16
		wantOK  bool
	}{
		{name: "__substg1.0_0C1A001F", wantTag: 0x0C1A, wantTyp: 0x001F, wantOK: true},
		{name: "__substg1.0_1000001E", wantTag: 0x1000, wantTyp: 0x001E, wantOK: true},
		{name: "__substg1.0_37010102", wantTag: 0x3701, wantTyp: 0x0102, wantOK: true},
		{name: "__properties_version1.0", wantOK: false},
		{name: "__substg1.0_0C1A", wantOK: false},
		{name: "__substg1.0_0C1A001F00", wantOK: false},
		{name: "__substg1.0_ZZZZ001F", wantOK: false},
		{name: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, typ, ok := parseStreamName(tt.name)
			if ok != tt.wantOK {
				t.Fatalf("parseStreamName(%q) ok = %v, want %v", tt.name, ok, tt.wantOK)
			}
			if tag != tt.wantTag || typ != tt.wantTyp {
				t.Errorf("parseStreamName(%q) = %#04x/%#04x, want %#04x/%#04x",
					tt.name, tag, typ, tt.wantTag, tt.wantTyp)
			}
		})
	}
}

func TestFiletimeToTime(t *testing.T) {
	tests := []struct {
		name  string
		ticks uint64
		want  time.Time
	}{
		{
			name:  "unix epoch",
			ticks: 116444736000000000,
			want:  time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "filetime epoch",
			ticks: 0,
			want:  time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "modern instant",
			ticks: 133940178000000000,
			want:  time.Date(2025, time.June, 10, 8, 30, 0, 0, time.UTC),
		},
		{
			name:  "sub-second ticks",
			ticks: 116444736000000000 + 5_000_000,
			want:  time.Date(1970, time.January, 1, 0, 0, 0, 500_000_000, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filetimeToTime(tt.ticks); !got.Equal(tt.want) {
				t.Errorf("filetimeToTime(%d) = %v, want %v", tt.ticks, got, tt.want)
			}
		})
	}
}

func TestFindFiletime(t *testing.T) {
	const epochTicks = 116444736000000000
	props := propsStream(
		propEntry(0x0037, typeUnicode, 0),
		propEntry(propClientSubmit, typeSystime, epochTicks),
	)

	got, ok := findFiletime(props, propClientSubmit)
	if !ok {
		t.Fatal("findFiletime() did not find the entry")
	}
	if want := time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("findFiletime() = %v, want %v", got, want)
	}

	if _, ok := findFiletime(props, propDeliveryTime); ok {
		t.Error("findFiletime() found an absent tag")
	}

	zero := propsStream(propEntry(propClientSubmit, typeSystime, 0))
	if _, ok := findFiletime(zero, propClientSubmit); ok {
		t.Error("findFiletime() accepted a zero timestamp")
	}

	// Same tag with a non-systime type must not match.
	wrongType := propsStream(propEntry(propClientSubmit, typeUnicode, epochTicks))
	if _, ok := findFiletime(wrongType, propClientSubmit); ok {
		t.Error("findFiletime() matched a non-systime entry")
	}

	if _, ok := findFiletime(nil, propClientSubmit); ok {
		t.Error("findFiletime() found an entry in an empty stream")
	}
}

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name string
		v    propValue
		want string
	}{
		{
			name: "utf16 with terminator",
			v:    propValue{typ: typeUnicode, data: []byte{'H', 0, 'i', 0, 0, 0}},
			want: "Hi",
		},
		{
			name: "utf16 non-ascii",
			v:    utf16Prop("café"),
			want: "café",
		},
		{
			name: "string8 legacy codepage",
			v:    propValue{typ: typeString8, data: []byte{'c', 'a', 'f', 0xE9, 0}},
			want: "café",
		},
		{
			name: "binary yields nothing",
			v:    propValue{typ: typeBinary, data: []byte("raw")},
			want: "",
		},
		{
			name: "empty utf16",
			v:    propValue{typ: typeUnicode},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.decodeText(); got != tt.want {
				t.Errorf("decodeText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatAddress(t *testing.T) {
	tests := []struct {
		name, email, want string
	}{
		{name: "Alice", email: "alice@example.com", want: "Alice <alice@example.com>"},
		{name: "", email: "alice@example.com", want: "alice@example.com"},
		{name: "Alice", email: "", want: "Alice"},
		{name: "alice@example.com", email: "alice@example.com", want: "alice@example.com"},
		{name: "", email: "", want: ""},
	}

	for _, tt := range tests {
		if got := formatAddress(tt.name, tt.email); got != tt.want {
			t.Errorf("formatAddress(%q, %q) = %q, want %q", tt.name, tt.email, got, tt.want)
		}
	}
}

func TestMsgBuild(t *testing.T) {
	m := newMsgContent()
	m.root[propSenderName] = utf16Prop("Alice Example")
	m.root[propSenderSMTP] = utf16Prop("alice@example.com")
	m.root[propInternetMsgID] = utf16Prop("id-1@example.com")
	m.root[propBody] = string8Prop("Plain body")
	m.root[propHTML] = propValue{typ: typeBinary, data: []byte("<p>html</p>")}
	m.root[propHeaders] = string8Prop("From: fallback@example.com\r\nDate: Tue, 10 Jun 2025 08:30:00 +0000")

	m.recipients["__recip_version1.0_00000000"] = propertyBag{
		propRecipDisplay: utf16Prop("Bob Dest"),
		propRecipSMTP:    utf16Prop("bob@example.com"),
	}
	m.recipients["__recip_version1.0_00000001"] = propertyBag{
		propRecipEmail: utf16Prop("carol@example.com"),
	}

	m.attachments["__attach_version1.0_00000000"] = propertyBag{
		propAttachData:     {typ: typeBinary, data: []byte("payload")},
		propAttachLongName: utf16Prop("invoice.pdf"),
	}
	// Embedded message attachment, no data stream.
	m.attachments["__attach_version1.0_00000001"] = propertyBag{
		propAttachLongName: utf16Prop("inner.msg"),
	}

	raw := m.build()

	if want := "Alice Example <alice@example.com>"; raw.Sender != want {
		t.Errorf("Sender = %q, want %q", raw.Sender, want)
	}
	if want := "Bob Dest <bob@example.com>; carol@example.com"; raw.To != want {
		t.Errorf("To = %q, want %q", raw.To, want)
	}
	if want := time.Date(2025, time.June, 10, 8, 30, 0, 0, time.UTC); !raw.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", raw.Date, want)
	}
	if want := "id-1@example.com"; raw.MessageID != want {
		t.Errorf("MessageID = %q, want %q", raw.MessageID, want)
	}
	if want := "Plain body"; raw.TextBody != want {
		t.Errorf("TextBody = %#v, want %q", raw.TextBody, want)
	}
	if html, ok := raw.HTMLBody.([]byte); !ok || string(html) != "<p>html</p>" {
		t.Errorf("HTMLBody = %#v, want raw bytes %q", raw.HTMLBody, "<p>html</p>")
	}

	if len(raw.Attachments) != 1 {
		t.Fatalf("Attachments = %d, want 1", len(raw.Attachments))
	}
	if want := "invoice.pdf"; raw.Attachments[0].LongName != want {
		t.Errorf("attachment name = %q, want %q", raw.Attachments[0].LongName, want)
	}
	if string(raw.Attachments[0].Data) != "payload" {
		t.Errorf("attachment data = %q, want %q", raw.Attachments[0].Data, "payload")
	}
}

func TestMsgBuildHeaderFallbacks(t *testing.T) {
	m := newMsgContent()
	m.root[propHeaders] = string8Prop("From: sender@example.com\r\nTo: dest@example.com\r\nMessage-Id: <hdr@example.com>")
	m.rootProps = propsStream(propEntry(propClientSubmit, typeSystime, 133940178000000000))

	raw := m.build()

	if want := "sender@example.com"; raw.Sender != want {
		t.Errorf("Sender = %q, want %q", raw.Sender, want)
	}
	if want := "dest@example.com"; raw.To != want {
		t.Errorf("To = %q, want %q", raw.To, want)
	}
	if want := "hdr@example.com"; raw.MessageID != want {
		t.Errorf("MessageID = %q, want %q", raw.MessageID, want)
	}
	if want := time.Date(2025, time.June, 10, 8, 30, 0, 0, time.UTC); !raw.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", raw.Date, want)
	}
}

func TestMsgBuildDisplayToWins(t *testing.T) {
	m := newMsgContent()
	m.root[propDisplayTo] = utf16Prop("Team List")
	m.recipients["__recip_version1.0_00000000"] = propertyBag{
		propRecipSMTP: utf16Prop("bob@example.com"),
	}

	if raw := m.build(); raw.To != "Team List" {
		t.Errorf("To = %q, want the display-to value", raw.To)
	}
}

func TestMsgBuildEmpty(t *testing.T) {
	raw := newMsgContent().build()
	if raw.Sender != "" || raw.To != "" || raw.MessageID != "" {
		t.Errorf("empty content produced fields: %+v", raw)
	}
	if !raw.Date.IsZero() {
		t.Errorf("Date = %v, want zero", raw.Date)
	}
	if raw.TextBody != nil || raw.HTMLBody != nil {
		t.Errorf("bodies = %#v/%#v, want nil", raw.TextBody, raw.HTMLBody)
	}
}

func TestMsgDecodeNotCompound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.msg")
	if err := os.WriteFile(path, []byte("not an OLE2 container"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewRegistry().Decode(path)
	if err == nil {
		t.Fatal("Decode() of a non-compound file succeeded, want error")
	}
	if !strings.Contains(err.Error(), "compound file") {
		t.Errorf("Decode() error = %v, want a compound-file error", err)
	}
}
