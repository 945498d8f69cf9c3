// Package attach writes decoded attachment payloads to disk under
// collision-resistant names.
package attach

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Macmod/outparser/container"
)

const placeholderName = "unnamed_attachment"

var (
	controlChars   = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	forbiddenChars = regexp.MustCompile(`[\\/:*?"<>|]`)
)

// SafeFilename strips control characters, replaces filesystem-reserved
// characters with underscores and falls back to a placeholder when nothing
// printable remains. Two distinct names can still sanitize identically; the
// caller accepts last-writer-wins in that case.
func SafeFilename(name string) string {
	cleaned := controlChars.ReplaceAllString(name, "")
	cleaned = forbiddenChars.ReplaceAllString(cleaned, "_")
	if cleaned == "" {
		return placeholderName
	}
	return cleaned
}

// Materialize saves every named attachment of one source file into outDir and
// returns the saved filenames in the original attachment order. Names are
// prefixed with the source file's stem to keep attachments of different
// messages apart. Entries without any name are skipped. On a write error the
// names saved so far are returned together with the error.
func Materialize(attachments []container.Attachment, sourcePath, outDir string) ([]string, error) {
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))

	var names []string
	for _, att := range attachments {
		name := att.LongName
		if name == "" {
			name = att.ShortName
		}
		if name == "" {
			continue
		}

		unique := stem + "_" + SafeFilename(name)
		if err := os.WriteFile(filepath.Join(outDir, unique), att.Data, 0o644); err != nil {
			return names, fmt.Errorf("save attachment %s: %w", unique, err)
		}
		names = append(names, unique)
	}
	return names, nil
}
