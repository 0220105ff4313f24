package state

import (
	"context"
	"errors"
	"strings"
	"time"

	"tasksync/pkg/providers/googletasks"
	"tasksync/pkg/providers/notion"
	"tasksync/pkg/task"
)

// ErrNotFound is returned when no record exists for a user
var ErrNotFound = errors.New("user not found")

// SyncErrorRecord describes the most recent failed sync pass
type SyncErrorRecord struct {
	Kind    string    `json:"kind"`
	System  string    `json:"system,omitempty"`
	Message string    `json:"message"`
	PassID  string    `json:"pass_id,omitempty"`
	At      time.Time `json:"at"`
}

// UserSyncState is the persisted per-user sync record. LastSynced being set
// is the only signal that initial sync has completed.
type UserSyncState struct {
	Email       string             `json:"email"`
	GoogleToken *googletasks.Token `json:"-"`
	NotionToken *notion.Token      `json:"-"`
	TasklistID  string             `json:"tasklist_id,omitempty"`
	DatabaseID  string             `json:"database_id,omitempty"`
	Mapping     task.Mapping       `json:"-"`
	LastSynced  *time.Time         `json:"last_synced,omitempty"`
	LastError   *SyncErrorRecord   `json:"last_error,omitempty"`

	SetupPromptSent   bool       `json:"setup_prompt_sent"`
	SetupPromptSentAt *time.Time `json:"setup_prompt_sent_at,omitempty"`

	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// HasCredential reports whether a usable credential is stored for system
func (u *UserSyncState) HasCredential(system task.System) bool {
	switch system {
	case task.SystemList:
		return u.GoogleToken != nil && (u.GoogleToken.AccessToken != "" || u.GoogleToken.RefreshToken != "")
	case task.SystemDB:
		return u.NotionToken != nil && u.NotionToken.AccessToken != ""
	}
	return false
}

// ContainerID returns the selected container for system
func (u *UserSyncState) ContainerID(system task.System) string {
	if system == task.SystemList {
		return u.TasklistID
	}
	return u.DatabaseID
}

// Store persists UserSyncState records
type Store interface {
	GetUser(ctx context.Context, email string) (*UserSyncState, error)
	EnsureUser(ctx context.Context, email string) (*UserSyncState, error)
	DeleteUser(ctx context.Context, email string) error

	// SelectContainers stores the selected list and/or database; empty ids
	// leave the current selection unchanged.
	SelectContainers(ctx context.Context, email, tasklistID, databaseID string) (*UserSyncState, error)
	SetGoogleCredential(ctx context.Context, email string, token googletasks.Token) error
	SetNotionCredential(ctx context.Context, email string, token notion.Token) error
	ClearCredential(ctx context.Context, email string, system task.System) error

	// SaveSyncResult writes mapping, lastSynced and modified in one statement
	// and clears the last error.
	SaveSyncResult(ctx context.Context, email string, mapping task.Mapping, syncedAt time.Time) error
	// RecordSyncError stores the failure without touching mapping or lastSynced
	RecordSyncError(ctx context.Context, email string, record SyncErrorRecord) error

	PendingSetupReminders(ctx context.Context, createdBefore time.Time) ([]*UserSyncState, error)
	MarkSetupPromptSent(ctx context.Context, email string, at time.Time) error

	Close() error
}

// NormalizeEmail is the key form used for every lookup
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
