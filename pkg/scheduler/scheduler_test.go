package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/pkg/state/statetest"
	"tasksync/pkg/task"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []string
	failOn map[string]bool
}

func (f *fakeSender) SendSetupReminder(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[email] {
		return errors.New("mailjet unavailable")
	}
	f.sent = append(f.sent, email)
	return nil
}

func TestScheduler_AddAndRunNow(t *testing.T) {
	s := NewScheduler(discardLogger())

	var runs int
	var mu sync.Mutex
	job := JobFunc(func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		runs++
		return nil
	})

	require.NoError(t, s.AddSchedule(ReminderSchedule("0 * * * *"), job))
	require.NoError(t, s.RunNow(ReminderScheduleID))
	s.Wait()

	got, err := s.GetSchedule(ReminderScheduleID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RunCount)
	assert.Zero(t, got.FailCount)
	assert.False(t, got.NextRun.IsZero())
	assert.Equal(t, 1, runs)
}

func TestScheduler_RecordsFailure(t *testing.T) {
	s := NewScheduler(discardLogger())
	require.NoError(t, s.AddSchedule(ReminderSchedule("0 * * * *"), JobFunc(func(ctx context.Context) error {
		return errors.New("boom")
	})))

	require.NoError(t, s.RunNow(ReminderScheduleID))
	s.Wait()

	got, err := s.GetSchedule(ReminderScheduleID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailCount)
	assert.Equal(t, "boom", got.LastError)
}

func TestScheduler_InvalidCron(t *testing.T) {
	s := NewScheduler(discardLogger())
	err := s.AddSchedule(ReminderSchedule("every hour"), JobFunc(func(ctx context.Context) error { return nil }))
	assert.Error(t, err)
	assert.Empty(t, s.ListSchedules())
}

func TestScheduler_EnableDisable(t *testing.T) {
	s := NewScheduler(discardLogger())
	require.NoError(t, s.AddSchedule(ReminderSchedule("@hourly"), JobFunc(func(ctx context.Context) error { return nil })))

	require.NoError(t, s.DisableSchedule(ReminderScheduleID))
	stats := s.GetStats()
	assert.Equal(t, 1, stats.DisabledSchedules)
	assert.Zero(t, stats.ActiveSchedules)

	require.NoError(t, s.EnableSchedule(ReminderScheduleID))
	stats = s.GetStats()
	assert.Equal(t, 1, stats.ActiveSchedules)

	assert.Error(t, s.RunNow("missing"))
	require.NoError(t, s.RemoveSchedule(ReminderScheduleID))
	assert.Empty(t, s.ListSchedules())
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(discardLogger())
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	require.NoError(t, s.Stop())
	assert.Error(t, s.Stop())
}

func TestReminderJob_SendsOncePerUser(t *testing.T) {
	ctx := context.Background()
	store := statetest.NewStore(t)
	for _, email := range []string{"a@example.com", "b@example.com", "synced@example.com"} {
		_, err := store.EnsureUser(ctx, email)
		require.NoError(t, err)
	}
	require.NoError(t, store.SaveSyncResult(ctx, "synced@example.com", task.Mapping{}, time.Now()))

	sender := &fakeSender{}
	job := NewReminderJob(store, sender, time.Hour, discardLogger())
	job.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	require.NoError(t, job.Run(ctx))
	assert.ElementsMatch(t, []string{"a@example.com", "b@example.com"}, sender.sent)

	u, err := store.GetUser(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, u.SetupPromptSent)
	require.NotNil(t, u.SetupPromptSentAt)

	require.NoError(t, job.Run(ctx))
	assert.Len(t, sender.sent, 2)
}

func TestReminderJob_RespectsDelay(t *testing.T) {
	ctx := context.Background()
	store := statetest.NewStore(t)
	_, err := store.EnsureUser(ctx, "new@example.com")
	require.NoError(t, err)

	sender := &fakeSender{}
	job := NewReminderJob(store, sender, 24*time.Hour, discardLogger())

	require.NoError(t, job.Run(ctx))
	assert.Empty(t, sender.sent)
}

func TestReminderJob_FailedSendStaysPending(t *testing.T) {
	ctx := context.Background()
	store := statetest.NewStore(t)
	for _, email := range []string{"a@example.com", "b@example.com"} {
		_, err := store.EnsureUser(ctx, email)
		require.NoError(t, err)
	}

	sender := &fakeSender{failOn: map[string]bool{"a@example.com": true}}
	job := NewReminderJob(store, sender, time.Hour, discardLogger())
	job.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	err := job.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a@example.com")
	assert.Equal(t, []string{"b@example.com"}, sender.sent)

	a, err := store.GetUser(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, a.SetupPromptSent)
}
