package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

// Reorder-pass modes for the output file.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
	SortNone = "none"
)

// Config captures all command-line options required to run a conversion.
type Config struct {
	InputDir       string
	Recursive      bool
	AttachmentsDir string
	Output         string
	FromLimit      int
	ToLimit        int
	Workers        int
	StripTags      bool
	SortDate       string
	IncludeAddr    []string
	IncludeBody    []string
	ExcludeAddr    []string
	ExcludeBody    []string
	Yes            bool
	LogLevel       string
	LogDir         string
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.BoolP("recursive", "r", false, "Scan the input directory recursively")
	flags.StringP("attachments-dir", "a", "Attachments", "Directory for extracted attachments (created if absent)")
	flags.StringP("output", "o", "parsed_messages.json", "Destination file for the line-delimited JSON records")
	flags.IntP("from-limit", "f", 3, "Max number of 'From' addresses to show (0 for unlimited)")
	flags.IntP("to-limit", "t", 3, "Max number of 'To' addresses to show (0 for unlimited)")
	flags.IntP("workers", "w", runtime.NumCPU(), "Number of parallel conversion workers")
	flags.BoolP("strip-tags", "x", false, "Strip markup tags from message bodies")
	flags.StringP("sort-date", "s", SortAsc, "Sort records by date after conversion: asc, desc or none")
	flags.StringArray("include-addr", nil, "Regex allow-list applied to sender and recipient addresses (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-addr", nil, "Regex block-list applied to sender and recipient addresses (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	flags.BoolP("yes", "y", false, "Skip the confirmation prompt")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (disabled when empty)")
}

// LoadConfig converts the parsed Cobra flags and the positional input
// directory into a Config struct with validation.
func LoadConfig(cmd *cobra.Command, args []string) (Config, error) {
	flags := cmd.Flags()

	recursive, err := flags.GetBool("recursive")
	if err != nil {
		return Config{}, err
	}
	attachmentsDir, err := flags.GetString("attachments-dir")
	if err != nil {
		return Config{}, err
	}
	output, err := flags.GetString("output")
	if err != nil {
		return Config{}, err
	}
	fromLimit, err := flags.GetInt("from-limit")
	if err != nil {
		return Config{}, err
	}
	toLimit, err := flags.GetInt("to-limit")
	if err != nil {
		return Config{}, err
	}
	workers, err := flags.GetInt("workers")
	if err != nil {
		return Config{}, err
	}
	stripTags, err := flags.GetBool("strip-tags")
	if err != nil {
		return Config{}, err
	}
	sortDate, err := flags.GetString("sort-date")
	if err != nil {
		return Config{}, err
	}
	includeAddr, err := flags.GetStringArray("include-addr")
	if err != nil {
		return Config{}, err
	}
	includeBody, err := flags.GetStringArray("include-body")
	if err != nil {
		return Config{}, err
	}
	excludeAddr, err := flags.GetStringArray("exclude-addr")
	if err != nil {
		return Config{}, err
	}
	excludeBody, err := flags.GetStringArray("exclude-body")
	if err != nil {
		return Config{}, err
	}
	yes, err := flags.GetBool("yes")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}

	if len(args) < 1 || strings.TrimSpace(args[0]) == "" {
		return Config{}, fmt.Errorf("input directory is required")
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		InputDir:       filepath.Clean(args[0]),
		Recursive:      recursive,
		AttachmentsDir: filepath.Clean(attachmentsDir),
		Output:         output,
		FromLimit:      fromLimit,
		ToLimit:        toLimit,
		Workers:        workers,
		StripTags:      stripTags,
		SortDate:       strings.ToLower(sortDate),
		IncludeAddr:    includeAddr,
		IncludeBody:    includeBody,
		ExcludeAddr:    excludeAddr,
		ExcludeBody:    excludeBody,
		Yes:            yes,
		LogLevel:       logLevel,
		LogDir:         logDir,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Output) == "" {
		return fmt.Errorf("--output must not be empty")
	}
	if strings.TrimSpace(cfg.AttachmentsDir) == "" {
		return fmt.Errorf("--attachments-dir must not be empty")
	}
	if cfg.FromLimit < 0 {
		return fmt.Errorf("--from-limit must be non-negative")
	}
	if cfg.ToLimit < 0 {
		return fmt.Errorf("--to-limit must be non-negative")
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("--workers must be positive")
	}

	switch cfg.SortDate {
	case SortAsc, SortDesc, SortNone:
	default:
		return fmt.Errorf("invalid --sort-date: %s (want asc, desc or none)", cfg.SortDate)
	}

	includeActive := len(cfg.IncludeAddr) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeAddr) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
