package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tasksync/pkg/task"
)

const (
	// DefaultBaseURL is the public Notion API root
	DefaultBaseURL = "https://api.notion.com"
	// DefaultVersion is the API version the request and response shapes follow
	DefaultVersion = "2022-06-28"
	// MaxPageSize is the largest page a database query returns
	MaxPageSize = 100
)

// Token is a stored Notion integration credential
type Token struct {
	AccessToken   string `json:"access_token"`
	BotID         string `json:"bot_id"`
	WorkspaceID   string `json:"workspace_id,omitempty"`
	WorkspaceName string `json:"workspace_name,omitempty"`
}

// Config holds Notion client configuration
type Config struct {
	BaseURL    string
	Version    string
	Token      Token
	HTTPClient *http.Client
	PageSize   int
}

// Client is a thin HTTP client for the Notion REST API bound to one
// integration token.
type Client struct {
	baseURL    string
	version    string
	token      Token
	httpClient *http.Client
	pageSize   int
}

// NewClient creates a new Notion client. An empty access token is rejected
// as an unauthorized credential.
func NewClient(config Config) (*Client, error) {
	if config.Token.AccessToken == "" {
		return nil, &task.HTTPError{
			System:     task.SystemDB,
			Op:         "authorize",
			StatusCode: http.StatusUnauthorized,
			Err:        errors.New("notion credential is empty"),
		}
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	version := config.Version
	if version == "" {
		version = DefaultVersion
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	pageSize := config.PageSize
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		version:    version,
		token:      config.Token,
		httpClient: httpClient,
		pageSize:   pageSize,
	}, nil
}

// RetrieveDatabase fetches the database metadata including its property
// definitions.
func (c *Client) RetrieveDatabase(ctx context.Context, databaseID string) (*Database, error) {
	var db Database
	path := "/v1/databases/" + url.PathEscape(databaseID)
	if err := c.do(ctx, "retrieve database", http.MethodGet, path, nil, &db); err != nil {
		return nil, err
	}
	return &db, nil
}

// Schema fetches a fresh SchemaDescriptor for a database
func (c *Client) Schema(ctx context.Context, databaseID string) (SchemaDescriptor, error) {
	db, err := c.RetrieveDatabase(ctx, databaseID)
	if err != nil {
		return SchemaDescriptor{}, err
	}
	return db.Descriptor(), nil
}

// QueryDatabase runs one page of a database query. filterProperties limits
// the returned properties to the given property ids.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, query QueryRequest, filterProperties []string) (*QueryResponse, error) {
	path := "/v1/databases/" + url.PathEscape(databaseID) + "/query"
	if len(filterProperties) > 0 {
		values := url.Values{}
		for _, id := range filterProperties {
			values.Add("filter_properties", id)
		}
		path += "?" + values.Encode()
	}

	var resp QueryResponse
	if err := c.do(ctx, "query database", http.MethodPost, path, query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreatePage creates a row in a database
func (c *Client) CreatePage(ctx context.Context, req CreatePageRequest) (*Page, error) {
	var page Page
	if err := c.do(ctx, "create page", http.MethodPost, "/v1/pages", req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SearchDatabases returns one page of the databases shared with the
// integration
func (c *Client) SearchDatabases(ctx context.Context, cursor string) (*SearchResponse, error) {
	req := SearchRequest{
		Filter:      SearchFilter{Property: "object", Value: "database"},
		PageSize:    c.pageSize,
		StartCursor: cursor,
	}
	var resp SearchResponse
	if err := c.do(ctx, "search databases", http.MethodPost, "/v1/search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListContainers returns the first page of databases visible to the token
func (c *Client) ListContainers(ctx context.Context) ([]task.Container, error) {
	resp, err := c.SearchDatabases(ctx, "")
	if err != nil {
		return nil, err
	}
	dbs := make([]task.Container, 0, len(resp.Results))
	for _, db := range resp.Results {
		dbs = append(dbs, task.Container{ID: db.ID, Title: PlainText(db.Title)})
	}
	return dbs, nil
}

// do builds the request, sets auth and version headers, and maps non-2xx
// responses to a task.HTTPError.
func (c *Client) do(ctx context.Context, op, method, path string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token.AccessToken)
	req.Header.Set("Notion-Version", c.version)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &task.HTTPError{System: task.SystemDB, Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &task.HTTPError{System: task.SystemDB, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return &task.HTTPError{System: task.SystemDB, Op: op, StatusCode: resp.StatusCode, Err: &apiErr}
		}
		return &task.HTTPError{
			System:     task.SystemDB,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(respBody))),
		}
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
	}
	return nil
}
