package batch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tasksync/pkg/task"
)

// Config holds rate-limit settings for one target system
type Config struct {
	RequestsPerSecond int           // creations allowed per window
	Window            time.Duration // length of one burst window
}

// DefaultConfig returns the 3 req/s budget of the document-database API
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 3,
		Window:            time.Second,
	}
}

// waitFunc blocks until start+offset has been reached on the monotonic clock
type waitFunc func(ctx context.Context, start time.Time, offset time.Duration) error

// Creator creates batches of tasks on a target system while staying under a
// fixed per-second request budget. Task i fires no earlier than
// floor(i/RequestsPerSecond) windows after the call starts.
type Creator struct {
	config  Config
	wait    waitFunc
	created atomic.Int64
	failed  atomic.Int64
}

// NewCreator creates a batch creator
func NewCreator(config Config) *Creator {
	if config.Window <= 0 {
		config.Window = time.Second
	}
	return &Creator{
		config: config,
		wait:   sleepUntil,
	}
}

// Error reports a failed batch. Created holds the pairs for creations that
// succeeded before or alongside the failure; those remote tasks are not
// rolled back.
type Error struct {
	System  task.System
	Total   int
	Created []task.CorrelationPair
	Failed  int
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("batch create on %s failed (%d/%d created, %d failed): %v",
		e.System, len(e.Created), e.Total, e.Failed, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type outcome struct {
	pair task.CorrelationPair
	err  error
}

// CreateAll creates every task in containerID through target. It returns
// once all scheduled creations have settled. A single failed creation fails
// the whole call with an *Error.
func (c *Creator) CreateAll(ctx context.Context, tasks []task.NormalizedTask, containerID string, target task.Creator, system task.System) ([]task.CorrelationPair, error) {
	rps := c.config.RequestsPerSecond
	if rps <= 0 {
		return nil, fmt.Errorf("invalid rate limit %d for %s", rps, system)
	}
	if len(tasks) == 0 {
		return []task.CorrelationPair{}, nil
	}

	start := time.Now()
	outcomes := make([]outcome, len(tasks))

	var g errgroup.Group
	for i, t := range tasks {
		offset := Offset(i, rps, c.config.Window)
		g.Go(func() error {
			if err := c.wait(ctx, start, offset); err != nil {
				outcomes[i].err = err
				c.failed.Add(1)
				return err
			}

			id, err := target.CreateTask(ctx, t, containerID)
			if err != nil {
				outcomes[i].err = fmt.Errorf("creating task %s: %w", t.ID, err)
				c.failed.Add(1)
				return outcomes[i].err
			}

			outcomes[i].pair = task.CorrelationPair{SourceID: t.ID, CreatedID: id}
			c.created.Add(1)
			return nil
		})
	}

	firstErr := g.Wait()

	pairs := make([]task.CorrelationPair, 0, len(tasks))
	failed := 0
	for _, o := range outcomes {
		if o.err != nil {
			failed++
			continue
		}
		pairs = append(pairs, o.pair)
	}

	if firstErr != nil {
		return nil, &Error{
			System:  system,
			Total:   len(tasks),
			Created: pairs,
			Failed:  failed,
			Err:     firstErr,
		}
	}

	return pairs, nil
}

// Offset is the earliest start of creation i relative to the call start
func Offset(i, requestsPerSecond int, window time.Duration) time.Duration {
	return time.Duration(i/requestsPerSecond) * window
}

// Stats contains lifetime creation counters
type Stats struct {
	Created int64
	Failed  int64
}

// Stats returns lifetime counters of this creator
func (c *Creator) Stats() Stats {
	return Stats{
		Created: c.created.Load(),
		Failed:  c.failed.Load(),
	}
}

func sleepUntil(ctx context.Context, start time.Time, offset time.Duration) error {
	d := time.Until(start.Add(offset))
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
