package sync

import (
	"context"
	"errors"
	"fmt"

	"tasksync/pkg/state"
	"tasksync/pkg/task"
)

// ListContainers returns the task lists or databases the user's stored
// credential for system can see.
func (o *Orchestrator) ListContainers(ctx context.Context, email string, system task.System) ([]task.Container, error) {
	user, err := o.store.GetUser(ctx, email)
	if errors.Is(err, state.ErrNotFound) {
		return nil, &Error{Kind: KindNotConfigured, Err: err}
	}
	if err != nil {
		return nil, &Error{Kind: KindInternal, Err: err}
	}
	if !user.HasCredential(system) {
		return nil, &Error{Kind: KindNotConfigured, System: system, Err: fmt.Errorf("%s is not connected", system)}
	}

	var conn interface{}
	switch system {
	case task.SystemList:
		conn, err = o.list(ctx, *user.GoogleToken)
	case task.SystemDB:
		conn, err = o.db(ctx, *user.NotionToken)
	default:
		return nil, &Error{Kind: KindInternal, Err: fmt.Errorf("unknown system %q", system)}
	}
	if err != nil {
		kind, sys := classify(err)
		return nil, &Error{Kind: kind, System: orSystem(sys, system), Err: err}
	}

	lister, ok := conn.(task.ContainerLister)
	if !ok {
		return nil, &Error{Kind: KindInternal, System: system, Err: fmt.Errorf("%s adapter cannot list containers", system)}
	}

	containers, err := lister.ListContainers(ctx)
	if err != nil {
		kind, sys := classify(err)
		return nil, &Error{Kind: kind, System: orSystem(sys, system), Err: fmt.Errorf("listing containers: %w", err)}
	}
	o.logger.InfoContext(ctx, "containers listed", "user", user.Email, "system", system, "count", len(containers))
	return containers, nil
}
