package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// MAPI property ids used by .msg containers ([MS-OXMSG]/[MS-OXPROPS]).
const (
	propHeaders         = 0x007D // PidTagTransportMessageHeaders
	propClientSubmit    = 0x0039 // PidTagClientSubmitTime
	propSenderName      = 0x0C1A
	propSenderEmail     = 0x0C1F
	propDeliveryTime    = 0x0E06 // PidTagMessageDeliveryTime
	propDisplayTo       = 0x0E04
	propBody            = 0x1000
	propHTML            = 0x1013
	propInternetMsgID   = 0x1035
	propRecipDisplay    = 0x3001
	propRecipEmail      = 0x3003
	propAttachData      = 0x3701
	propAttachShortName = 0x3704
	propAttachLongName  = 0x3707
	propRecipSMTP       = 0x39FE
	propSenderSMTP      = 0x5D01
)

// MAPI property types.
const (
	typeSystime uint16 = 0x0040
	typeString8 uint16 = 0x001E
	typeUnicode uint16 = 0x001F
	typeBinary  uint16 = 0x0102
)

const (
	streamPrefix   = "__substg1.0_"
	propertiesName = "__properties_version1.0"
	attachPrefix   = "__attach_version1.0_"
	recipPrefix    = "__recip_version1.0_"

	// Fixed-width properties of the top-level message start after a
	// 32-byte header in the properties stream.
	msgPropsHeaderLen = 32
)

var (
	rootWanted = map[uint16]bool{
		propHeaders:       true,
		propSenderName:    true,
		propSenderEmail:   true,
		propSenderSMTP:    true,
		propDisplayTo:     true,
		propBody:          true,
		propHTML:          true,
		propInternetMsgID: true,
	}
	attachWanted = map[uint16]bool{
		propAttachData:      true,
		propAttachShortName: true,
		propAttachLongName:  true,
	}
	recipWanted = map[uint16]bool{
		propRecipDisplay: true,
		propRecipEmail:   true,
		propRecipSMTP:    true,
	}
)

// msgDecoder reads Outlook .msg containers (OLE2 compound files).
type msgDecoder struct{}

func (msgDecoder) Decode(path string) (*RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open container: %w", err)
	}
	defer f.Close()

	doc, err := mscfb.New(f)
	if err != nil {
		return nil, fmt.Errorf("open compound file: %w", err)
	}

	content := newMsgContent()
	for {
		entry, err := doc.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read compound file: %w", err)
		}
		if err := content.addEntry(entry); err != nil {
			return nil, err
		}
	}

	return content.build(), nil
}

type propValue struct {
	typ  uint16
	data []byte
}

type propertyBag map[uint16]propValue

func (b propertyBag) text(tag uint16) string {
	v, ok := b[tag]
	if !ok {
		return ""
	}
	return v.decodeText()
}

func (b propertyBag) binary(tag uint16) ([]byte, bool) {
	v, ok := b[tag]
	if !ok || v.typ != typeBinary {
		return nil, false
	}
	return v.data, true
}

type msgContent struct {
	root        propertyBag
	rootProps   []byte
	attachments map[string]propertyBag
	recipients  map[string]propertyBag
}

func newMsgContent() *msgContent {
	return &msgContent{
		root:        propertyBag{},
		attachments: map[string]propertyBag{},
		recipients:  map[string]propertyBag{},
	}
}

// addEntry files one directory entry into the right property bag. Streams of
// embedded messages (nested deeper than one storage) are ignored.
func (m *msgContent) addEntry(entry *mscfb.File) error {
	switch {
	case len(entry.Path) == 0:
		if entry.Name == propertiesName {
			data, err := readStream(entry)
			if err != nil {
				return err
			}
			m.rootProps = data
			return nil
		}
		return addWanted(m.root, entry, rootWanted)
	case len(entry.Path) == 1 && strings.HasPrefix(entry.Path[0], attachPrefix):
		return addWanted(m.bag(m.attachments, entry.Path[0]), entry, attachWanted)
	case len(entry.Path) == 1 && strings.HasPrefix(entry.Path[0], recipPrefix):
		return addWanted(m.bag(m.recipients, entry.Path[0]), entry, recipWanted)
	}
	return nil
}

func (m *msgContent) bag(group map[string]propertyBag, storage string) propertyBag {
	b, ok := group[storage]
	if !ok {
		b = propertyBag{}
		group[storage] = b
	}
	return b
}

func addWanted(bag propertyBag, entry *mscfb.File, wanted map[uint16]bool) error {
	tag, typ, ok := parseStreamName(entry.Name)
	if !ok || !wanted[tag] {
		return nil
	}
	data, err := readStream(entry)
	if err != nil {
		return err
	}
	bag[tag] = propValue{typ: typ, data: data}
	return nil
}

func (m *msgContent) build() *RawMessage {
	raw := &RawMessage{}
	headers := m.transportHeaders()

	sender := formatAddress(m.root.text(propSenderName), firstNonEmpty(m.root.text(propSenderSMTP), m.root.text(propSenderEmail)))
	if sender == "" && headers != nil {
		sender = headers.Get("From")
	}
	raw.Sender = sender

	to := m.root.text(propDisplayTo)
	if to == "" {
		to = m.recipientList()
	}
	if to == "" && headers != nil {
		to = headers.Get("To")
	}
	raw.To = to

	if headers != nil {
		if t, err := mail.ParseDate(headers.Get("Date")); err == nil {
			raw.Date = t
		}
	}
	if raw.Date.IsZero() {
		if t, ok := findFiletime(m.rootProps, propClientSubmit); ok {
			raw.Date = t
		}
	}
	if raw.Date.IsZero() {
		if t, ok := findFiletime(m.rootProps, propDeliveryTime); ok {
			raw.Date = t
		}
	}

	raw.MessageID = m.root.text(propInternetMsgID)
	if raw.MessageID == "" && headers != nil {
		raw.MessageID = strings.Trim(headers.Get("Message-Id"), " <>")
	}

	if v, ok := m.root[propBody]; ok {
		raw.TextBody = v.decodeText()
	}
	if data, ok := m.root.binary(propHTML); ok {
		raw.HTMLBody = data
	}

	for _, storage := range sortedKeys(m.attachments) {
		bag := m.attachments[storage]
		data, ok := bag.binary(propAttachData)
		if !ok {
			// Embedded message attachments carry no raw payload.
			continue
		}
		raw.Attachments = append(raw.Attachments, Attachment{
			LongName:  bag.text(propAttachLongName),
			ShortName: bag.text(propAttachShortName),
			Data:      data,
		})
	}

	return raw
}

func (v propValue) decodeText() string {
	switch v.typ {
	case typeUnicode:
		return decodeUTF16(v.data)
	case typeString8:
		return decodeString8(v.data)
	default:
		return ""
	}
}

// transportHeaders parses the embedded RFC 5322 header block, if any, so it
// can back-fill fields the MAPI properties lack.
func (m *msgContent) transportHeaders() mail.Header {
	block := m.root.text(propHeaders)
	if block == "" {
		return nil
	}
	msg, err := mail.ReadMessage(strings.NewReader(block + "\r\n\r\n"))
	if err != nil {
		return nil
	}
	return msg.Header
}

func (m *msgContent) recipientList() string {
	parts := make([]string, 0, len(m.recipients))
	for _, storage := range sortedKeys(m.recipients) {
		bag := m.recipients[storage]
		email := firstNonEmpty(bag.text(propRecipSMTP), bag.text(propRecipEmail))
		if s := formatAddress(bag.text(propRecipDisplay), email); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "; ")
}

func readStream(entry *mscfb.File) ([]byte, error) {
	data, err := io.ReadAll(entry)
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", entry.Name, err)
	}
	return data, nil
}

// parseStreamName extracts the property id and type from a
// __substg1.0_XXXXTTTT stream name.
func parseStreamName(name string) (tag, typ uint16, ok bool) {
	if !strings.HasPrefix(name, streamPrefix) {
		return 0, 0, false
	}
	hexPart := name[len(streamPrefix):]
	if len(hexPart) != 8 {
		return 0, 0, false
	}
	v, err := strconv.ParseUint(hexPart, 16, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint16(v >> 16), uint16(v), true
}

// findFiletime scans the fixed-width property entries for a PT_SYSTIME value.
func findFiletime(props []byte, tag uint16) (time.Time, bool) {
	for off := msgPropsHeaderLen; off+16 <= len(props); off += 16 {
		ptag := binary.LittleEndian.Uint32(props[off:])
		if uint16(ptag) != typeSystime || uint16(ptag>>16) != tag {
			continue
		}
		ticks := binary.LittleEndian.Uint64(props[off+8:])
		if ticks == 0 {
			return time.Time{}, false
		}
		return filetimeToTime(ticks), true
	}
	return time.Time{}, false
}

// filetimeToTime converts a Windows FILETIME (100ns ticks since 1601-01-01)
// to a UTC time.
func filetimeToTime(ticks uint64) time.Time {
	const filetimeEpochDiff = 11644473600
	secs := int64(ticks/10_000_000) - filetimeEpochDiff
	nsecs := int64(ticks%10_000_000) * 100
	return time.Unix(secs, nsecs).UTC()
}

func decodeUTF16(b []byte) string {
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	out, _ := dec.Bytes(b)
	return strings.TrimRight(string(out), "\x00")
}

func decodeString8(b []byte) string {
	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return strings.TrimRight(string(b), "\x00")
	}
	return strings.TrimRight(string(out), "\x00")
}

func formatAddress(name, email string) string {
	switch {
	case name != "" && email != "" && name != email:
		return fmt.Sprintf("%s <%s>", name, email)
	case email != "":
		return email
	default:
		return name
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedKeys(m map[string]propertyBag) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
