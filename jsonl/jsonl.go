// Package jsonl appends converted records to a line-delimited JSON file and
// offers the optional reorder pass over the finished file.
package jsonl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/Macmod/outparser/model"
	"github.com/Macmod/outparser/runner"
	"github.com/Macmod/outparser/stats"
)

type Options struct {
	Path string
}

// Writer is the single consumer of completed results. Records go out as one
// JSON line each, immediately, so progress survives a mid-run crash up to the
// last written line. Failures are collected for the end-of-run report.
type Writer struct {
	opts   Options
	runner *runner.Runner
	logger *slog.Logger

	successes int
	failures  []*model.ConversionError
}

func NewWriter(opts Options, r *runner.Runner, logger *slog.Logger) (*Writer, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("output path is empty")
	}
	w := &Writer{opts: opts, runner: r, logger: logger}
	r.AddStage("write", w.run)
	return w, nil
}

func (w *Writer) run(ctx context.Context) error {
	out, err := os.Create(w.opts.Path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()

	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case result, ok := <-w.runner.Writes():
			if !ok {
				if err := out.Close(); err != nil {
					return fmt.Errorf("close output file: %w", err)
				}
				return nil
			}

			if result.Err != nil {
				var convErr *model.ConversionError
				if !errors.As(result.Err, &convErr) {
					convErr = &model.ConversionError{Path: result.Path, Err: result.Err}
				}
				w.failures = append(w.failures, convErr)
				continue
			}

			if err := enc.Encode(result.Record); err != nil {
				return fmt.Errorf("write record: %w", err)
			}
			w.successes++
			w.runner.EmitEvent(stats.Event{Stage: stats.StageWrite, Type: stats.EventTypeWritten, Source: result.Path})
		}
	}
}

// Successes reports the number of records written. Valid once the pipeline
// has finished.
func (w *Writer) Successes() int {
	return w.successes
}

// Failures reports the collected conversion errors. Valid once the pipeline
// has finished.
func (w *Writer) Failures() []*model.ConversionError {
	return w.failures
}

// ReadRecords loads a whole line-delimited JSON file back into memory.
func ReadRecords(path string) ([]model.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	defer f.Close()

	var records []model.Record
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec model.Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// SortFile rewrites the output file with its records stably sorted by the
// Date string. Empty dates order first ascending and last descending. The
// whole file is held in memory for the duration of the sort.
func SortFile(path string, descending bool) error {
	records, err := ReadRecords(path)
	if err != nil {
		return err
	}

	if descending {
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Date > records[j].Date
		})
	} else {
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Date < records[j].Date
		})
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("rewrite output file: %w", err)
	}
	defer out.Close()

	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write sorted record: %w", err)
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	return nil
}
