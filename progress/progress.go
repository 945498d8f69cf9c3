package progress

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/pterm/pterm"

	"github.com/Macmod/outparser/stats"
)

// Bar manages a progress bar for tracking file conversion.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	mu      sync.Mutex
	enabled bool
}

// New creates a new progress bar if logLevel is "info".
func New(total int, logLevel string) *Bar {
	enabled := logLevel == "info"

	bar := &Bar{
		total:   total,
		enabled: enabled,
	}

	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Converting files").
			Start()

		bar.pb = pb
	}

	return bar
}

// Update advances the progress bar based on the event type. Converted and
// failed events both complete a file; filtered and written events belong to
// files already counted.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeConverted:
		b.pb.Increment()
		b.pb.UpdateTitle("Processing: " + displayName(evt.Source))
	case stats.EventTypeFailed:
		// Show error messages above the progress bar
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
		b.pb.Increment()
		b.pb.UpdateTitle("Processing: " + displayName(evt.Source))
	case stats.EventTypeFiltered, stats.EventTypeWritten:
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}

	b.pb.Stop()
}

// Subscriber creates a stats subscriber function that updates the progress bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

func displayName(path string) string {
	name := filepath.Base(path)
	if len(name) > 40 {
		name = name[:37] + "..."
	}
	return name
}
