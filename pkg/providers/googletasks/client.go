package googletasks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/tasks/v1"

	"tasksync/pkg/task"
)

// MaxPageSize is the largest page the Tasks API returns in one call
const MaxPageSize = 100

const (
	statusNeedsAction = "needsAction"
	statusCompleted   = "completed"
)

// Client wraps the Google Tasks API client for one user
type Client struct {
	service  *tasks.Service
	pageSize int64
}

// Config holds Google Tasks client configuration
type Config struct {
	Auth  *AuthHandler
	Token Token

	// Endpoint overrides the API base URL
	Endpoint string
	// HTTPClient is the base transport used for API and token calls
	HTTPClient *http.Client
	PageSize   int64
}

// NewClient creates a new Google Tasks client
func NewClient(ctx context.Context, config Config) (*Client, error) {
	auth := config.Auth
	if auth == nil {
		auth = NewAuthHandler(OAuthConfig{})
	}

	baseClient := config.HTTPClient
	if baseClient == nil {
		baseClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			Timeout: 30 * time.Second,
		}
	}

	// Token refreshes go through the same base client
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, baseClient)
	tokenSource, err := auth.TokenSource(tokenCtx, config.Token)
	if err != nil {
		return nil, &task.HTTPError{System: task.SystemList, Op: "authorize", StatusCode: http.StatusUnauthorized, Err: err}
	}
	client := oauth2.NewClient(tokenCtx, tokenSource)

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}

	service, err := tasks.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Tasks service: %w", err)
	}

	pageSize := config.PageSize
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	return &Client{
		service:  service,
		pageSize: pageSize,
	}, nil
}

// System identifies the list side
func (c *Client) System() task.System {
	return task.SystemList
}

// FetchOpenTasks returns the first page of non-completed tasks in a list,
// most recently updated first. Lists larger than one page are truncated.
func (c *Client) FetchOpenTasks(ctx context.Context, tasklistID string) ([]task.NormalizedTask, error) {
	result, err := c.service.Tasks.List(tasklistID).
		MaxResults(c.pageSize).
		ShowCompleted(false).
		ShowHidden(false).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapError("list tasks", err)
	}

	items := make([]task.NormalizedTask, 0, len(result.Items))
	for _, item := range result.Items {
		if item.Deleted {
			continue
		}
		t, err := decodeTask(item)
		if err != nil {
			return nil, fmt.Errorf("decoding task %s: %w", item.Id, err)
		}
		items = append(items, t)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].LastEdited.Equal(items[j].LastEdited) {
			return items[i].LastEdited.After(items[j].LastEdited)
		}
		return items[i].ID < items[j].ID
	})

	return items, nil
}

// CreateTask inserts a task into a list and returns the new task id
func (c *Client) CreateTask(ctx context.Context, t task.NormalizedTask, tasklistID string) (string, error) {
	gt, err := encodeTask(t)
	if err != nil {
		return "", err
	}

	created, err := c.service.Tasks.Insert(tasklistID, gt).Context(ctx).Do()
	if err != nil {
		return "", wrapError("insert task", err)
	}
	return created.Id, nil
}

// ListContainers returns the first page of the user's task lists
func (c *Client) ListContainers(ctx context.Context) ([]task.Container, error) {
	result, err := c.service.Tasklists.List().
		MaxResults(c.pageSize).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapError("list tasklists", err)
	}

	lists := make([]task.Container, 0, len(result.Items))
	for _, item := range result.Items {
		lists = append(lists, task.Container{ID: item.Id, Title: item.Title})
	}
	return lists, nil
}

// EncodeStatus maps a logical status to the Tasks API value
func EncodeStatus(s task.Status) (string, error) {
	switch s {
	case task.StatusOpen:
		return statusNeedsAction, nil
	case task.StatusDone:
		return statusCompleted, nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// DecodeStatus maps a Tasks API status to a logical status
func DecodeStatus(s string) (task.Status, error) {
	switch s {
	case statusNeedsAction:
		return task.StatusOpen, nil
	case statusCompleted:
		return task.StatusDone, nil
	}
	return "", fmt.Errorf("unknown google task status %q", s)
}

func decodeTask(item *tasks.Task) (task.NormalizedTask, error) {
	status, err := DecodeStatus(item.Status)
	if err != nil {
		return task.NormalizedTask{}, err
	}

	t := task.NormalizedTask{
		ID:     item.Id,
		Title:  item.Title,
		Status: status,
	}

	if item.Due != "" {
		due, err := task.ParseDate(item.Due)
		if err != nil {
			return task.NormalizedTask{}, err
		}
		t.Due = &due
	}

	if item.Updated != "" {
		if updated, err := time.Parse(time.RFC3339, item.Updated); err == nil {
			t.LastEdited = updated
		}
	}

	return t, nil
}

func encodeTask(t task.NormalizedTask) (*tasks.Task, error) {
	status, err := EncodeStatus(t.Status)
	if err != nil {
		return nil, err
	}

	gt := &tasks.Task{
		Title:  t.Title,
		Status: status,
	}
	// The API ignores the time portion of due; always send midnight UTC
	if t.Due != nil {
		gt.Due = t.Due.Midnight().Format(time.RFC3339)
	}
	return gt, nil
}

// wrapError attaches the HTTP status of a failed API call. A failed token
// refresh counts as a rejected credential.
func wrapError(op string, err error) error {
	status := 0

	var apiErr *googleapi.Error
	var retrieveErr *oauth2.RetrieveError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.Code
	case errors.As(err, &retrieveErr):
		status = http.StatusUnauthorized
	}

	return &task.HTTPError{System: task.SystemList, Op: op, StatusCode: status, Err: err}
}
