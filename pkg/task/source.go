package task

import "context"

// Fetcher reads the current open tasks of one container
type Fetcher interface {
	FetchOpenTasks(ctx context.Context, containerID string) ([]NormalizedTask, error)
}

// Creator creates a task in one container and returns its remote id
type Creator interface {
	CreateTask(ctx context.Context, t NormalizedTask, containerID string) (string, error)
}

// Source is an adapter bound to one user's credential on one system
type Source interface {
	Fetcher
	Creator
	System() System
}

// Container is a task list or database the user can pick as a sync target
type Container struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ContainerLister lists the containers a credential can see
type ContainerLister interface {
	ListContainers(ctx context.Context) ([]Container, error)
}
