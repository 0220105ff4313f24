package sync

import (
	"context"
	"errors"
	"fmt"

	"tasksync/pkg/providers/notion"
	"tasksync/pkg/report"
	"tasksync/pkg/state"
	"tasksync/pkg/task"
)

// Kind classifies why a sync pass failed
type Kind string

const (
	// KindNotConfigured means a container or credential is missing
	KindNotConfigured Kind = "NOT_CONFIGURED"
	// KindAuthExpired means a remote system rejected the stored credential
	KindAuthExpired Kind = "AUTH_EXPIRED"
	// KindSchemaInvalid means the database lacks a required property
	KindSchemaInvalid Kind = "SCHEMA_INVALID"
	// KindExternalTransient covers every other remote failure
	KindExternalTransient Kind = "EXTERNAL_TRANSIENT"
	// KindPartialSync means at least one creation batch failed
	KindPartialSync Kind = "PARTIAL_SYNC"
	// KindInternal covers local failures such as storage errors
	KindInternal Kind = "INTERNAL"
)

// Error is returned by every failed pass. System is set when the failure is
// attributable to one remote system, Issues when the schema is invalid.
type Error struct {
	Kind   Kind
	System task.System
	Issues []notion.Issue
	Report *report.Report
	Err    error
}

func (e *Error) Error() string {
	if e.System != "" {
		return fmt.Sprintf("sync %s (%s): %v", e.Kind, e.System, e.Err)
	}
	return fmt.Sprintf("sync %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind of err, or "" if err is not a sync error
func KindOf(err error) Kind {
	var syncErr *Error
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return ""
}

// InvalidateOnAuthFailure clears the stored credential of the system that
// rejected it so the next interaction asks the user to authorize again. It
// reports whether a credential was cleared.
func InvalidateOnAuthFailure(ctx context.Context, store state.Store, email string, err error) (bool, error) {
	var syncErr *Error
	if !errors.As(err, &syncErr) || syncErr.Kind != KindAuthExpired || syncErr.System == "" {
		return false, nil
	}
	if clearErr := store.ClearCredential(ctx, email, syncErr.System); clearErr != nil {
		return false, fmt.Errorf("clearing %s credential: %w", syncErr.System, clearErr)
	}
	return true, nil
}

// classify maps an adapter error to a failure kind
func classify(err error) (Kind, task.System) {
	system, _ := task.SystemOf(err)
	if task.IsUnauthorized(err) {
		return KindAuthExpired, system
	}
	if system != "" {
		return KindExternalTransient, system
	}
	return KindInternal, ""
}
