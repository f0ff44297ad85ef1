package watcher

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ritzau/refcycles/pkg/logging"
)

// Debouncer batches rapid file system events to avoid re-running checks on
// every save of a multi-step edit
type Debouncer struct {
	input       <-chan ChangeEvent
	output      chan ChangeEvent
	quietPeriod time.Duration
	maxWait     time.Duration
	clock       clockwork.Clock
}

// NewDebouncer creates a new event debouncer
func NewDebouncer(input <-chan ChangeEvent, quietPeriod, maxWait time.Duration) *Debouncer {
	return NewDebouncerWithClock(clockwork.NewRealClock(), input, quietPeriod, maxWait)
}

// NewDebouncerWithClock creates a debouncer driven by clock
func NewDebouncerWithClock(clock clockwork.Clock, input <-chan ChangeEvent, quietPeriod, maxWait time.Duration) *Debouncer {
	return &Debouncer{
		input:       input,
		output:      make(chan ChangeEvent, 10),
		quietPeriod: quietPeriod,
		maxWait:     maxWait,
		clock:       clock,
	}
}

// Start begins processing events with debouncing
func (d *Debouncer) Start(ctx context.Context) {
	go d.run(ctx)
}

// run accumulates events until the input has been quiet for quietPeriod, or
// maxWait has passed since the first accumulated event
func (d *Debouncer) run(ctx context.Context) {
	quiet := d.clock.NewTimer(d.quietPeriod)
	quiet.Stop()
	deadline := d.clock.NewTimer(d.maxWait)
	deadline.Stop()

	accumulated := make(map[ChangeType][]string)
	eventCount := 0

	flush := func() {
		quiet.Stop()
		deadline.Stop()
		if eventCount == 0 {
			return
		}

		logging.Debug("flushing accumulated events", "count", eventCount)

		// Config first, a fixture re-run needs the new config
		for _, t := range []ChangeType{ChangeTypeConfig, ChangeTypeFixture} {
			if paths := accumulated[t]; len(paths) > 0 {
				d.output <- ChangeEvent{
					Type:      t,
					Paths:     paths,
					Timestamp: d.clock.Now(),
				}
			}
		}

		accumulated = make(map[ChangeType][]string)
		eventCount = 0
	}

	defer close(d.output)

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

			for _, p := range event.Paths {
				accumulated[event.Type] = appendUnique(accumulated[event.Type], p)
			}
			eventCount++

			quiet.Reset(d.quietPeriod)
			if eventCount == 1 {
				deadline.Reset(d.maxWait)
			}

		case <-quiet.Chan():
			flush()

		case <-deadline.Chan():
			flush()
		}
	}
}

// Output returns the channel of debounced events
func (d *Debouncer) Output() <-chan ChangeEvent {
	return d.output
}
