package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var splitOutDir string

// SplitCmd explodes an mbox archive into one .eml file per message, ready
// for the upload command.
var SplitCmd = &cobra.Command{
	Use:   "split [mbox file]",
	Short: "Split an mbox archive into individual .eml files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		written, failed, err := splitMbox(args[0], splitOutDir)
		if err != nil {
			return err
		}

		pterm.Success.Printf("Wrote %d messages to %s\n", written, splitOutDir)
		if failed > 0 {
			pterm.Error.Printf("Skipped %d unreadable messages.\n", failed)
		}
		return nil
	},
}

func init() {
	SplitCmd.Flags().StringVarP(&splitOutDir, "output", "o", "messages", "Output directory for .eml files")
}

// splitMbox extracts every message of the archive into outDir as
// {stem}_{index}.eml. Unreadable messages are skipped and counted; a broken
// archive structure is fatal.
func splitMbox(path, outDir string) (written, failed int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open mbox: %w", err)
	}
	defer f.Close()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, 0, fmt.Errorf("create output directory: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	reader := mboxlib.NewReader(f)

	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return written, failed, nil
			}
			return written, failed, fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			failed++
			pterm.Error.Printf("Error: message %d unreadable: %v\n", idx, err)
			continue
		}

		name := fmt.Sprintf("%s_%05d.eml", stem, idx)
		if err := os.WriteFile(filepath.Join(outDir, name), raw, 0o644); err != nil {
			return written, failed, fmt.Errorf("write %s: %w", name, err)
		}
		written++
	}
}
