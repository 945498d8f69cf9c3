// Package normalize turns raw decoded message fields into canonical
// JSON-safe values.
package normalize

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// SummarizeAddresses splits a raw `;`-separated address-list string, cleans
// each entry, and joins them with ", ". When limit is positive and the list
// is longer, only the first limit entries are kept, followed by
// ", and N others". A limit of 0 means unlimited.
func SummarizeAddresses(raw string, limit int) string {
	if raw == "" {
		return ""
	}

	parts := strings.Split(raw, ";")
	cleaned := make([]string, len(parts))
	for i, part := range parts {
		cleaned[i] = CleanValue(strings.TrimSpace(part))
	}

	if limit == 0 || len(cleaned) <= limit {
		return strings.Join(cleaned, ", ")
	}
	return strings.Join(cleaned[:limit], ", ") + fmt.Sprintf(", and %d others", len(cleaned)-limit)
}

// CleanValue maps an arbitrary decoded field to a string that is safe to
// serialize: nil becomes "", byte payloads are decoded as Windows-1252 with
// best-effort substitution after stripping embedded NULs, strings have
// embedded NULs stripped, and anything else is stringified. It never fails.
func CleanValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.ReplaceAll(t, "\x00", "")
	case []byte:
		return decodeLegacyBytes(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func decodeLegacyBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	b = bytes.ReplaceAll(b, []byte{0}, nil)
	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// StripMarkup removes tag-shaped `<...>` substrings. It is a naive stripper,
// not an HTML parser: entities and malformed tags pass through untouched.
// Empty input is returned unchanged.
func StripMarkup(text string) string {
	if text == "" {
		return text
	}
	return tagPattern.ReplaceAllString(text, "")
}

// SelectBody picks the message body: the HTML body when present, otherwise
// the plain-text body, otherwise "". With stripTags set, markup is stripped
// from whichever body was chosen.
func SelectBody(htmlBody, textBody any, stripTags bool) string {
	body := CleanValue(htmlBody)
	if body == "" {
		body = CleanValue(textBody)
	}
	if stripTags && body != "" {
		body = StripMarkup(body)
	}
	return body
}
