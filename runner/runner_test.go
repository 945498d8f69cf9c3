package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/Macmod/outparser/config"
	"github.com/Macmod/outparser/model"
	"github.com/Macmod/outparser/stats"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// produce feeds canned results into the pipeline and closes the channel.
func produce(r *Runner, results ...model.Result) {
	r.AddStage("produce", func(ctx context.Context) error {
		defer r.CloseResults()
		for _, result := range results {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.ResultWriter() <- result:
			}
		}
		return nil
	})
}

func drain(r *Runner, forwarded *[]model.Result) {
	r.AddStage("drain", func(ctx context.Context) error {
		for result := range r.Writes() {
			*forwarded = append(*forwarded, result)
		}
		return nil
	})
}

func TestBridgeFiltersOnlyRecords(t *testing.T) {
	r, err := New(config.Config{ExcludeBody: []string{".*"}}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	reporter := stats.NewReporter(r, testLogger())

	var forwarded []model.Result
	drain(r, &forwarded)
	produce(r,
		model.Result{Path: "ok.msg", Record: model.Record{Message: "fine", SourceFile: "ok.msg"}},
		model.Result{Path: "bad.msg", Err: errors.New("decode exploded")},
	)

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if len(forwarded) != 1 {
		t.Fatalf("forwarded = %d results, want only the failure", len(forwarded))
	}
	if forwarded[0].Path != "bad.msg" || forwarded[0].Err == nil {
		t.Errorf("forwarded = %+v, want the bad.msg failure", forwarded[0])
	}
	if got := reporter.Summary().Filtered; got != 1 {
		t.Errorf("Filtered = %d, want 1", got)
	}
}

func TestBridgeForwardsMatches(t *testing.T) {
	r, err := New(config.Config{IncludeBody: []string{"invoice"}}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var forwarded []model.Result
	drain(r, &forwarded)
	produce(r,
		model.Result{Path: "a.msg", Record: model.Record{Message: "invoice attached", SourceFile: "a.msg"}},
		model.Result{Path: "b.msg", Record: model.Record{Message: "lunch plans", SourceFile: "b.msg"}},
	)

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if len(forwarded) != 1 {
		t.Fatalf("forwarded = %d results, want 1", len(forwarded))
	}
	if forwarded[0].Record.SourceFile != "a.msg" {
		t.Errorf("forwarded = %+v, want the invoice record", forwarded[0])
	}
}

func TestEventsReachEverySubscriber(t *testing.T) {
	r, err := New(config.Config{}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	const emitted = 200
	counts := make([]int, 2)
	for i, name := range []string{"first", "second"} {
		i := i
		r.SubscribeStats(name, func(ctx context.Context, events <-chan stats.Event) error {
			for range events {
				counts[i]++
			}
			return nil
		})
	}

	r.AddStage("emit", func(ctx context.Context) error {
		defer r.CloseResults()
		for j := 0; j < emitted; j++ {
			r.EmitEvent(stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeConverted})
		}
		return nil
	})

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i, n := range counts {
		if n != emitted {
			t.Errorf("subscriber %d saw %d events, want %d", i, n, emitted)
		}
	}
}

func TestStageErrorFailsPipeline(t *testing.T) {
	r, err := New(config.Config{}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	r.AddStage("boom", func(context.Context) error {
		return errors.New("kaput")
	})
	r.CloseResults()

	err = r.Start()
	if err == nil || !strings.Contains(err.Error(), "boom stage: kaput") {
		t.Errorf("Start() error = %v, want the boom stage failure", err)
	}
}

func TestBadFilterPattern(t *testing.T) {
	if _, err := New(config.Config{IncludeAddr: []string{"("}}, testLogger()); err == nil {
		t.Error("New() accepted an invalid filter pattern")
	}
}
