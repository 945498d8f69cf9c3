package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Macmod/outparser/imap"
	"github.com/Macmod/outparser/scan"
	"github.com/Macmod/outparser/state"
)

var (
	uploadHost      string
	uploadPort      int
	uploadUser      string
	uploadPass      string
	uploadTLS       bool
	uploadInsecure  bool
	uploadFolder    string
	uploadStateDir  string
	uploadDryRun    bool
	uploadRecursive bool
)

// UploadCmd pushes a directory of .eml files into an IMAP mailbox, skipping
// messages uploaded by earlier runs.
var UploadCmd = &cobra.Command{
	Use:   "upload [directory]",
	Short: "Upload .eml files from a directory to an IMAP mailbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if uploadPass == "" {
			uploadPass = os.Getenv("IMAP_PASS")
		}
		if err := validateUploadOptions(uploadHost, uploadUser, uploadPass, uploadDryRun); err != nil {
			return err
		}

		files, err := scan.Files(args[0], uploadRecursive, []string{".eml"})
		if err != nil {
			return err
		}
		pterm.Info.Printf("Found %d message files in %s\n", len(files), args[0])

		var tracker *state.Log
		if uploadDryRun {
			tracker, err = state.OpenReadOnly(uploadStateDir)
		} else {
			tracker, err = state.Open(uploadStateDir)
		}
		if err != nil {
			return fmt.Errorf("upload state: %w", err)
		}
		defer func() {
			_ = tracker.Close()
		}()
		pterm.Info.Printf("Upload state: %d messages uploaded by earlier runs\n", tracker.Len())

		logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

		uploader, err := imap.NewUploader(imap.Options{
			Host:               uploadHost,
			Port:               uploadPort,
			Username:           uploadUser,
			Password:           uploadPass,
			UseTLS:             uploadTLS,
			InsecureSkipVerify: uploadInsecure,
			TargetFolder:       uploadFolder,
			DryRun:             uploadDryRun,
		}, tracker, logger)
		if err != nil {
			return err
		}

		summary, err := uploader.UploadAll(cmd.Context(), files)
		logger.Info("upload finished", summary.LogAttrs()...)
		if err != nil {
			return err
		}

		pterm.Success.Printf("Uploaded %d messages (%d skipped, %d dry-run, %d failed).\n",
			summary.Uploaded, summary.Skipped, summary.DryRun, summary.Failed)
		return nil
	},
}

func init() {
	flags := UploadCmd.Flags()
	flags.StringVar(&uploadHost, "imap-host", "", "IMAP server hostname")
	flags.IntVar(&uploadPort, "imap-port", 993, "IMAP server port")
	flags.StringVar(&uploadUser, "imap-user", "", "IMAP username")
	flags.StringVar(&uploadPass, "imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.BoolVar(&uploadTLS, "use-tls", true, "Use TLS for the IMAP connection")
	flags.BoolVar(&uploadInsecure, "insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.StringVar(&uploadFolder, "target-folder", "INBOX", "Target IMAP folder for uploaded mail")
	flags.StringVar(&uploadStateDir, "state-dir", defaultUploadStateDir(), "Directory for upload state files")
	flags.BoolVar(&uploadDryRun, "dry-run", false, "Simulate the upload without connecting or persisting state")
	flags.BoolVarP(&uploadRecursive, "recursive", "r", false, "Scan the message directory recursively")
}

// validateUploadOptions checks the connection flags. A dry run never
// connects, so it needs none of them.
func validateUploadOptions(host, user, pass string, dryRun bool) error {
	if dryRun {
		return nil
	}
	if host == "" {
		return fmt.Errorf("--imap-host is required unless --dry-run is set")
	}
	if user == "" {
		return fmt.Errorf("--imap-user is required unless --dry-run is set")
	}
	if pass == "" {
		return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
	}
	return nil
}

func defaultUploadStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".outparser-state"
	}
	return filepath.Join(home, ".outparser", "state")
}
