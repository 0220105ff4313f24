package sync

import (
	"context"
	"errors"
	"fmt"

	"tasksync/pkg/providers/notion"
	"tasksync/pkg/state"
	"tasksync/pkg/task"
)

// CheckSchema fetches a fresh schema for databaseID and validates it. An
// empty databaseID checks the user's selected database. Nothing is cached
// so it can be rerun after the user edits the database.
func (o *Orchestrator) CheckSchema(ctx context.Context, email, databaseID string) (notion.ValidationResult, error) {
	user, err := o.store.GetUser(ctx, email)
	if errors.Is(err, state.ErrNotFound) {
		return notion.ValidationResult{}, &Error{Kind: KindNotConfigured, Err: err}
	}
	if err != nil {
		return notion.ValidationResult{}, &Error{Kind: KindInternal, Err: err}
	}

	if !user.HasCredential(task.SystemDB) {
		return notion.ValidationResult{}, &Error{Kind: KindNotConfigured, System: task.SystemDB, Err: errors.New("notion is not connected")}
	}
	if databaseID == "" {
		databaseID = user.DatabaseID
	}
	if databaseID == "" {
		return notion.ValidationResult{}, &Error{Kind: KindNotConfigured, System: task.SystemDB, Err: errors.New("no database selected")}
	}

	conn, err := o.db(ctx, *user.NotionToken)
	if err != nil {
		kind, system := classify(err)
		return notion.ValidationResult{}, &Error{Kind: kind, System: orSystem(system, task.SystemDB), Err: err}
	}

	schema, err := conn.Schema(ctx, databaseID)
	if err != nil {
		kind, system := classify(err)
		return notion.ValidationResult{}, &Error{Kind: kind, System: system, Err: fmt.Errorf("fetching database schema: %w", err)}
	}

	result := notion.Validate(schema)
	o.logger.InfoContext(ctx, "schema checked", "user", user.Email, "database", databaseID, "valid", result.Valid(), "issues", len(result.Issues))
	return result, nil
}
