package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/pkg/task"
)

type fakeTarget struct {
	mu      sync.Mutex
	calls   []string
	failOn  map[string]error
	counter atomic.Int64
}

func (f *fakeTarget) CreateTask(ctx context.Context, t task.NormalizedTask, containerID string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, t.ID)
	f.mu.Unlock()

	if err, ok := f.failOn[t.ID]; ok {
		return "", err
	}
	n := f.counter.Add(1)
	return fmt.Sprintf("%s-created-%d", containerID, n), nil
}

func makeTasks(n int) []task.NormalizedTask {
	tasks := make([]task.NormalizedTask, n)
	for i := range tasks {
		tasks[i] = task.NormalizedTask{ID: fmt.Sprintf("src-%d", i), Title: fmt.Sprintf("Task %d", i), Status: task.StatusOpen}
	}
	return tasks
}

// recordingCreator replaces the clock with one that records offsets and
// returns immediately.
func recordingCreator(rps int) (*Creator, func() []time.Duration) {
	c := NewCreator(Config{RequestsPerSecond: rps, Window: time.Second})
	var mu sync.Mutex
	var offsets []time.Duration
	c.wait = func(ctx context.Context, start time.Time, offset time.Duration) error {
		mu.Lock()
		offsets = append(offsets, offset)
		mu.Unlock()
		return nil
	}
	return c, func() []time.Duration {
		mu.Lock()
		defer mu.Unlock()
		out := append([]time.Duration(nil), offsets...)
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out
	}
}

func TestOffset_Schedule(t *testing.T) {
	// 10 tasks at 3 req/s: 0,1,2 at 0s; 3,4,5 at 1s; 6,7,8 at 2s; 9 at 3s
	want := []time.Duration{0, 0, 0, time.Second, time.Second, time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second, 3 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, Offset(i, 3, time.Second), "task %d", i)
	}
}

func TestCreateAll_PairsEveryTaskExactlyOnce(t *testing.T) {
	c, _ := recordingCreator(3)
	target := &fakeTarget{}
	tasks := makeTasks(10)

	pairs, err := c.CreateAll(context.Background(), tasks, "db-1", target, task.SystemDB)
	require.NoError(t, err)
	require.Len(t, pairs, len(tasks))

	seenSource := make(map[string]int)
	seenCreated := make(map[string]int)
	for _, p := range pairs {
		seenSource[p.SourceID]++
		seenCreated[p.CreatedID]++
	}
	for _, tk := range tasks {
		assert.Equal(t, 1, seenSource[tk.ID], "source %s", tk.ID)
	}
	assert.Len(t, seenCreated, len(tasks))
	assert.Equal(t, int64(10), c.Stats().Created)
}

func TestCreateAll_BurstsNeverExceedBudget(t *testing.T) {
	for _, tc := range []struct {
		rps   int
		tasks int
	}{
		{rps: 3, tasks: 10},
		{rps: 1, tasks: 4},
		{rps: 5, tasks: 5},
		{rps: 3, tasks: 100},
	} {
		t.Run(fmt.Sprintf("rps=%d/n=%d", tc.rps, tc.tasks), func(t *testing.T) {
			c, offsets := recordingCreator(tc.rps)
			_, err := c.CreateAll(context.Background(), makeTasks(tc.tasks), "list", &fakeTarget{}, task.SystemList)
			require.NoError(t, err)

			perWindow := make(map[time.Duration]int)
			for _, o := range offsets() {
				perWindow[o]++
			}
			for window, n := range perWindow {
				assert.LessOrEqual(t, n, tc.rps, "window %s", window)
			}
			wantWindows := (tc.tasks + tc.rps - 1) / tc.rps
			assert.Len(t, perWindow, wantWindows)
		})
	}
}

func TestCreateAll_OneFailureFailsBatch(t *testing.T) {
	c, _ := recordingCreator(3)
	remoteErr := &task.HTTPError{System: task.SystemList, Op: "insert task", StatusCode: http.StatusInternalServerError, Err: errors.New("backend error")}
	target := &fakeTarget{failOn: map[string]error{"src-2": remoteErr}}

	pairs, err := c.CreateAll(context.Background(), makeTasks(3), "list", target, task.SystemList)
	require.Error(t, err)
	assert.Nil(t, pairs)

	var batchErr *Error
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, task.SystemList, batchErr.System)
	assert.Equal(t, 3, batchErr.Total)
	assert.Equal(t, 1, batchErr.Failed)
	assert.Len(t, batchErr.Created, 2)
	assert.Equal(t, http.StatusInternalServerError, task.StatusCode(err))

	// every task was attempted even though one failed
	assert.Len(t, target.calls, 3)
}

func TestCreateAll_EmptyInput(t *testing.T) {
	c := NewCreator(DefaultConfig())
	pairs, err := c.CreateAll(context.Background(), nil, "db", &fakeTarget{}, task.SystemDB)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestCreateAll_InvalidRate(t *testing.T) {
	c := NewCreator(Config{RequestsPerSecond: 0})
	_, err := c.CreateAll(context.Background(), makeTasks(1), "db", &fakeTarget{}, task.SystemDB)
	assert.Error(t, err)
}

func TestCreateAll_RealClockWaitsForLaterWindows(t *testing.T) {
	window := 25 * time.Millisecond
	c := NewCreator(Config{RequestsPerSecond: 3, Window: window})

	start := time.Now()
	pairs, err := c.CreateAll(context.Background(), makeTasks(7), "db", &fakeTarget{}, task.SystemDB)
	require.NoError(t, err)
	assert.Len(t, pairs, 7)
	// task 6 belongs to the third window
	assert.GreaterOrEqual(t, time.Since(start), 2*window)
}

func TestSleepUntil_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleepUntil(ctx, time.Now(), time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
