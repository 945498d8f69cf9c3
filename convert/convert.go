// Package convert runs the conversion worker pool. Each task turns one
// container file into a normalized record and saves its attachments.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Macmod/outparser/attach"
	"github.com/Macmod/outparser/container"
	"github.com/Macmod/outparser/model"
	"github.com/Macmod/outparser/normalize"
	"github.com/Macmod/outparser/runner"
	"github.com/Macmod/outparser/stats"
)

type Options struct {
	Files          []string
	Workers        int
	AttachmentsDir string
	FromLimit      int
	ToLimit        int
	StripTags      bool
}

// Pool converts files on a fixed number of workers and hands results to the
// runner in completion order. A failing task never takes down its worker or
// the pool.
type Pool struct {
	opts    Options
	decoder container.Decoder
	runner  *runner.Runner
	logger  *slog.Logger
}

func NewPool(opts Options, dec container.Decoder, r *runner.Runner, logger *slog.Logger) (*Pool, error) {
	if opts.Workers < 1 {
		return nil, fmt.Errorf("worker count must be positive, got %d", opts.Workers)
	}
	if dec == nil {
		return nil, fmt.Errorf("decoder is required")
	}
	pool := &Pool{opts: opts, decoder: dec, runner: r, logger: logger}
	r.AddStage("convert", pool.run)
	return pool, nil
}

func (p *Pool) run(ctx context.Context) error {
	defer p.runner.CloseResults()

	tasks := make(chan model.Task)
	var wg sync.WaitGroup
	wg.Add(p.opts.Workers)
	for i := 0; i < p.opts.Workers; i++ {
		go func() {
			defer wg.Done()
			p.work(ctx, tasks)
		}()
	}

	err := p.feed(ctx, tasks)
	close(tasks)
	wg.Wait()
	return err
}

func (p *Pool) feed(ctx context.Context, tasks chan<- model.Task) error {
	for _, path := range p.opts.Files {
		task := model.Task{
			Path:           path,
			AttachmentsDir: p.opts.AttachmentsDir,
			FromLimit:      p.opts.FromLimit,
			ToLimit:        p.opts.ToLimit,
			StripTags:      p.opts.StripTags,
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tasks <- task:
		}
	}
	return nil
}

func (p *Pool) work(ctx context.Context, tasks <-chan model.Task) {
	for task := range tasks {
		result := p.convertOne(task)

		if result.Err != nil {
			if p.logger != nil {
				p.logger.Error("conversion failed", "path", task.Path, "err", result.Err)
			}
			p.runner.EmitEvent(stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeFailed, Source: task.Path, Err: result.Err})
		} else {
			p.runner.EmitEvent(stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeConverted, Source: task.Path, Count: len(result.Record.Attachments)})
		}

		select {
		case <-ctx.Done():
			return
		case p.runner.ResultWriter() <- result:
		}
	}
}

// convertOne decodes one container file and builds its record. Panics inside
// the decoder are confined to the task and surface as its error.
func (p *Pool) convertOne(task model.Task) (result model.Result) {
	result.Path = task.Path
	defer func() {
		if rec := recover(); rec != nil {
			result.Err = &model.ConversionError{Path: task.Path, Err: fmt.Errorf("decoder panic: %v", rec)}
		}
	}()

	raw, err := p.decoder.Decode(task.Path)
	if err != nil {
		result.Err = &model.ConversionError{Path: task.Path, Err: err}
		return result
	}

	names, err := attach.Materialize(raw.Attachments, task.Path, task.AttachmentsDir)
	if err != nil {
		result.Err = &model.ConversionError{Path: task.Path, Err: err}
		return result
	}
	if names == nil {
		names = []string{}
	}

	var date string
	if !raw.Date.IsZero() {
		date = raw.Date.Format(time.RFC3339)
	}

	id := normalize.CleanValue(raw.MessageID)
	if id == "" {
		id = "UNKNOWN"
	}

	result.Record = model.Record{
		Date:        date,
		From:        normalize.SummarizeAddresses(raw.Sender, task.FromLimit),
		To:          normalize.SummarizeAddresses(raw.To, task.ToLimit),
		Message:     normalize.SelectBody(raw.HTMLBody, raw.TextBody, task.StripTags),
		Attachments: names,
		MessageID:   id,
		SourceFile:  task.Path,
	}
	return result
}
