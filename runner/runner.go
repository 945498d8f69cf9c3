package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Macmod/outparser/config"
	"github.com/Macmod/outparser/filter"
	"github.com/Macmod/outparser/model"
	"github.com/Macmod/outparser/stats"
)

type StageFunc func(context.Context) error

// Runner wires the conversion stages together. Workers hand completed
// results to the bridge, which applies the record filter and forwards them to
// the single output writer. A stage error cancels the whole pipeline; a
// failed conversion task does not.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	results chan model.Result
	writes  chan model.Result

	subMu sync.RWMutex
	subs  []chan stats.Event

	filter *filter.Filter

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeResultsOnce sync.Once
	closeWritesOnce  sync.Once
	closeEventsOnce  sync.Once
	since            time.Time
}

func New(cfg config.Config, logger *slog.Logger) (*Runner, error) {
	ctx, cancel := context.WithCancel(context.Background())

	recFilter, err := filter.New(filter.Options{
		IncludeAddr: cfg.IncludeAddr,
		IncludeBody: cfg.IncludeBody,
		ExcludeAddr: cfg.ExcludeAddr,
		ExcludeBody: cfg.ExcludeBody,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("record filter: %w", err)
	}

	r := &Runner{
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		results: make(chan model.Result, 32),
		writes:  make(chan model.Result, 32),
		filter:  recFilter,
	}

	r.AddStage("bridge", r.bridge)
	return r, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) ResultWriter() chan<- model.Result {
	return r.results
}

func (r *Runner) CloseResults() {
	r.closeResultsOnce.Do(func() {
		close(r.results)
	})
}

func (r *Runner) Writes() <-chan model.Result {
	return r.writes
}

// EmitEvent delivers the event to every stats subscriber. Each subscriber
// owns its own channel, so none of them steals events from the others.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, ch := range r.subs {
		select {
		case <-r.ctx.Done():
			return
		case ch <- evt:
		}
	}
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subMu.Lock()
	r.subs = append(r.subs, ch)
	r.subMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

func (r *Runner) Start() error {
	r.since = time.Now()

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	err := r.err
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

// bridge moves completed results to the writer. Failed conversions always
// pass through so the writer can account for them; only successful records
// are subject to the filter.
func (r *Runner) bridge(ctx context.Context) error {
	defer r.closeWrites()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case result, ok := <-r.results:
			if !ok {
				return nil
			}

			if result.Err == nil && !r.filter.Allows(result.Record) {
				r.EmitEvent(stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeFiltered, Source: result.Path})
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.writes <- result:
			}
		}
	}
}

func (r *Runner) closeWrites() {
	r.closeWritesOnce.Do(func() {
		close(r.writes)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		for _, ch := range r.subs {
			close(ch)
		}
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
