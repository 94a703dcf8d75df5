package watcher

import (
	"context"
	"sort"
	"time"

	"github.com/ritzau/pageload-estimator/pkg/logging"
)

// Debouncer batches rapid file system events to avoid excessive re-estimation
type Debouncer struct {
	input       <-chan ChangeEvent
	output      chan ChangeEvent
	quietPeriod time.Duration
	maxWait     time.Duration
}

// NewDebouncer creates a new event debouncer
func NewDebouncer(input <-chan ChangeEvent, quietPeriod, maxWait time.Duration) *Debouncer {
	return &Debouncer{
		input:       input,
		output:      make(chan ChangeEvent, 10),
		quietPeriod: quietPeriod,
		maxWait:     maxWait,
	}
}

// Start begins processing events with debouncing
func (d *Debouncer) Start(ctx context.Context) {
	go d.run(ctx)
}

// run processes events and applies debouncing logic.
// A batch is flushed after quietPeriod without events, or maxWait after its first event.
func (d *Debouncer) run(ctx context.Context) {
	defer close(d.output)

	var (
		quiet       *time.Timer
		deadline    *time.Timer
		latest     = make(map[string]ChangeType) // Last change seen per path
		eventCount int
	)

	stop := func(t *time.Timer) {
		if t != nil {
			t.Stop()
		}
	}

	flush := func() {
		stop(quiet)
		stop(deadline)
		quiet, deadline = nil, nil

		if eventCount == 0 {
			return
		}
		logging.Debug("flushing accumulated events", "count", eventCount)

		// Each path appears once with its final state, so the order of the groups is free
		byType := make(map[ChangeType][]string)
		for path, t := range latest {
			byType[t] = append(byType[t], path)
		}
		for _, t := range []ChangeType{ChangeTypeRemoved, ChangeTypeModified} {
			if paths := byType[t]; len(paths) > 0 {
				sort.Strings(paths)
				d.output <- ChangeEvent{Type: t, Paths: paths, Timestamp: time.Now()}
			}
		}

		latest = make(map[string]ChangeType)
		eventCount = 0
	}

	timerC := func(t *time.Timer) <-chan time.Time {
		if t == nil {
			return nil
		}
		return t.C
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case event, ok := <-d.input:
			if !ok {
				flush()
				return
			}

			for _, path := range event.Paths {
				latest[path] = event.Type
			}
			eventCount++

			// Restart the quiet period; the deadline starts with the batch
			stop(quiet)
			quiet = time.NewTimer(d.quietPeriod)
			if deadline == nil {
				deadline = time.NewTimer(d.maxWait)
			}

		case <-timerC(quiet):
			flush()

		case <-timerC(deadline):
			flush()
		}
	}
}

// Output returns the channel of debounced events
func (d *Debouncer) Output() <-chan ChangeEvent {
	return d.output
}
