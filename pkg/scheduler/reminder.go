package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tasksync/pkg/state"
)

// ReminderScheduleID identifies the setup reminder schedule
const ReminderScheduleID = "reminder"

// ReminderStore is the part of the user store the reminder job needs
type ReminderStore interface {
	PendingSetupReminders(ctx context.Context, createdBefore time.Time) ([]*state.UserSyncState, error)
	MarkSetupPromptSent(ctx context.Context, email string, at time.Time) error
}

// ReminderSender delivers the setup reminder email
type ReminderSender interface {
	SendSetupReminder(ctx context.Context, email string) error
}

// ReminderJob emails users who signed up more than Delay ago and never
// completed a sync. Each user is reminded at most once.
type ReminderJob struct {
	store  ReminderStore
	sender ReminderSender
	delay  time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewReminderJob creates the setup reminder job
func NewReminderJob(store ReminderStore, sender ReminderSender, delay time.Duration, logger *slog.Logger) *ReminderJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderJob{
		store:  store,
		sender: sender,
		delay:  delay,
		logger: logger,
		now:    time.Now,
	}
}

// Run sends every pending reminder. A failed send leaves the user pending
// for the next run; the remaining users are still processed.
func (j *ReminderJob) Run(ctx context.Context) error {
	now := j.now()
	users, err := j.store.PendingSetupReminders(ctx, now.Add(-j.delay))
	if err != nil {
		return fmt.Errorf("failed to list pending reminders: %w", err)
	}

	var errs []error
	sent := 0
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := j.sender.SendSetupReminder(ctx, u.Email); err != nil {
			j.logger.WarnContext(ctx, "setup reminder not sent", "user", u.Email, "error", err)
			errs = append(errs, fmt.Errorf("reminding %s: %w", u.Email, err))
			continue
		}
		if err := j.store.MarkSetupPromptSent(ctx, u.Email, j.now()); err != nil {
			errs = append(errs, fmt.Errorf("marking %s reminded: %w", u.Email, err))
			continue
		}
		sent++
	}

	j.logger.InfoContext(ctx, "setup reminders processed", "pending", len(users), "sent", sent)
	return errors.Join(errs...)
}

// ReminderSchedule is the schedule record for a reminder job
func ReminderSchedule(cronExpr string) *Schedule {
	return &Schedule{
		ID:       ReminderScheduleID,
		Name:     "Setup completion reminder",
		CronExpr: cronExpr,
		Enabled:  true,
	}
}
