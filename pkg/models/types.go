package models

import (
	"time"

	"tasksync/pkg/providers/notion"
	"tasksync/pkg/state"
	"tasksync/pkg/task"
)

// UserView is the user record as returned to clients. Tokens and the raw
// mapping never leave the server.
type UserView struct {
	Email           string                 `json:"email"`
	TasklistID      string                 `json:"tasklist_id,omitempty"`
	DatabaseID      string                 `json:"database_id,omitempty"`
	GoogleConnected bool                   `json:"google_connected"`
	NotionConnected bool                   `json:"notion_connected"`
	MappingSize     int                    `json:"mapping_size"`
	LastSynced      *time.Time             `json:"last_synced,omitempty"`
	LastError       *state.SyncErrorRecord `json:"last_error,omitempty"`
	Created         time.Time              `json:"created"`
	Modified        time.Time              `json:"modified"`
}

// NewUserView builds the safe view of u
func NewUserView(u *state.UserSyncState) UserView {
	return UserView{
		Email:           u.Email,
		TasklistID:      u.TasklistID,
		DatabaseID:      u.DatabaseID,
		GoogleConnected: u.GoogleToken != nil,
		NotionConnected: u.NotionToken != nil,
		MappingSize:     len(u.Mapping),
		LastSynced:      u.LastSynced,
		LastError:       u.LastError,
		Created:         u.Created,
		Modified:        u.Modified,
	}
}

// UpdateUserRequest selects the task list and/or database to sync
type UpdateUserRequest struct {
	TasklistID string `json:"tasklist_id"`
	DatabaseID string `json:"database_id"`
}

// DeleteUserRequest confirms account removal
type DeleteUserRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// GoogleCredentials is a Google OAuth token obtained by the client
type GoogleCredentials struct {
	AccessToken  string    `json:"access_token" binding:"required"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// NotionCredentials is a Notion integration token obtained by the client
type NotionCredentials struct {
	AccessToken   string `json:"access_token" binding:"required"`
	BotID         string `json:"bot_id"`
	WorkspaceID   string `json:"workspace_id"`
	WorkspaceName string `json:"workspace_name"`
}

// CredentialsRequest stores one or both credentials
type CredentialsRequest struct {
	Google *GoogleCredentials `json:"google"`
	Notion *NotionCredentials `json:"notion"`
}

// SyncResponse is returned by a successful sync
type SyncResponse struct {
	PassID   string   `json:"pass_id"`
	User     UserView `json:"user"`
	Created  int      `json:"created"`
	Duration string   `json:"duration"`
}

// ValidationResponse is the outcome of a schema check
type ValidationResponse struct {
	DatabaseID string         `json:"database_id"`
	Valid      bool           `json:"valid"`
	Issues     []notion.Issue `json:"issues"`
}

// ContainersResponse lists the task lists or databases a user can select
type ContainersResponse struct {
	System     task.System      `json:"system"`
	Containers []task.Container `json:"containers"`
}

// Remediation tells the client what to do after a failure
type Remediation string

const (
	RemediationReauth             Remediation = "reauth"
	RemediationAmendConfiguration Remediation = "amend_configuration"
	RemediationRetry              Remediation = "retry"
	RemediationContactSupport     Remediation = "contact_support"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error       string              `json:"error"`
	Kind        string              `json:"kind,omitempty"`
	System      string              `json:"system,omitempty"`
	Remediation Remediation         `json:"remediation,omitempty"`
	Issues      []notion.Issue      `json:"issues,omitempty"`
	Orphaned    map[string][]string `json:"orphaned,omitempty"`
	PassID      string              `json:"pass_id,omitempty"`
	ReauthURL   string              `json:"reauth_url,omitempty"`
}
