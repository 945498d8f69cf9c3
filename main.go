package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Macmod/outparser/cmd"
	"github.com/Macmod/outparser/config"
	"github.com/Macmod/outparser/container"
	"github.com/Macmod/outparser/convert"
	"github.com/Macmod/outparser/jsonl"
	"github.com/Macmod/outparser/progress"
	"github.com/Macmod/outparser/runner"
	"github.com/Macmod/outparser/scan"
	"github.com/Macmod/outparser/stats"
)

var errAborted = errors.New("aborted by user")

func main() {
	rootCmd := &cobra.Command{
		Use:   "outparser [directory]",
		Short: "Convert directories of message container files into line-delimited JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(c, args)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting outparser", "input", cfg.InputDir, "output", cfg.Output, "workers", cfg.Workers)

			return run(cfg, logger)
		},
	}
	rootCmd.SilenceUsage = true

	config.RegisterFlags(rootCmd)
	rootCmd.AddCommand(cmd.ReportCmd, cmd.SplitCmd, cmd.UploadCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	registry := container.NewRegistry()

	files, err := scan.Files(cfg.InputDir, cfg.Recursive, registry.Extensions())
	if err != nil {
		return err
	}

	pterm.Info.Printf("Input Dir: %s\n", cfg.InputDir)
	pterm.Info.Printf("Files to be parsed: %d\n", len(files))
	pterm.Info.Printf("Output File: %s\n", cfg.Output)
	pterm.Info.Printf("Attachments Dir: %s\n", cfg.AttachmentsDir)
	pterm.Info.Printf("Max Workers: %d\n", cfg.Workers)

	if !cfg.Yes {
		confirmed, err := pterm.DefaultInteractiveConfirm.Show("Are you sure?")
		if err != nil {
			return fmt.Errorf("confirmation prompt: %w", err)
		}
		if !confirmed {
			return errAborted
		}
	}

	if err := os.MkdirAll(cfg.AttachmentsDir, 0o755); err != nil {
		return fmt.Errorf("create attachments directory: %w", err)
	}

	r, err := runner.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}
	reporter := stats.NewReporter(r, logger)

	bar := progress.New(len(files), cfg.LogLevel)
	r.SubscribeStats("progress-bar", bar.Subscriber)

	poolOpts := convert.Options{
		Files:          files,
		Workers:        cfg.Workers,
		AttachmentsDir: cfg.AttachmentsDir,
		FromLimit:      cfg.FromLimit,
		ToLimit:        cfg.ToLimit,
		StripTags:      cfg.StripTags,
	}
	if _, err := convert.NewPool(poolOpts, registry, r, logger); err != nil {
		return fmt.Errorf("convert.NewPool: %w", err)
	}

	writer, err := jsonl.NewWriter(jsonl.Options{Path: cfg.Output}, r, logger)
	if err != nil {
		return fmt.Errorf("jsonl.NewWriter: %w", err)
	}

	runErr := r.Start()
	bar.Stop()
	if runErr != nil {
		return runErr
	}

	printReport(writer, reporter.Summary())

	if cfg.SortDate != config.SortNone {
		pterm.Info.Println("Sorting records by date...")
		if err := jsonl.SortFile(cfg.Output, cfg.SortDate == config.SortDesc); err != nil {
			return fmt.Errorf("sort output: %w", err)
		}
		pterm.Info.Println("Sorting done.")
	}

	return nil
}

func printReport(writer *jsonl.Writer, summary stats.Summary) {
	pterm.Success.Printf("Processed %d files successfully.\n", summary.Converted)
	if summary.Filtered > 0 {
		pterm.Info.Printf("Filtered out %d records.\n", summary.Filtered)
	}

	failures := writer.Failures()
	if len(failures) > 0 {
		pterm.Error.Printf("Encountered %d errors:\n", len(failures))
		for _, failure := range failures {
			pterm.Error.Printf(" - %v\n", failure)
		}
	}
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("outparser-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
