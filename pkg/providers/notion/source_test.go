package notion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/pkg/task"
)

const botID = "bot-123"

type fakeNotionAPI struct {
	mu        sync.Mutex
	database  Database
	pages     []Page
	queries   []QueryRequest
	filters   [][]string
	created   []CreatePageRequest
	searches  []SearchRequest
	databases []Database
	errStatus int
}

func (f *fakeNotionAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	check := func(w http.ResponseWriter, r *http.Request) bool {
		assert.Equal(t, "Bearer secret_abc", r.Header.Get("Authorization"))
		assert.Equal(t, DefaultVersion, r.Header.Get("Notion-Version"))
		f.mu.Lock()
		status := f.errStatus
		f.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Object: "error", Status: status, Code: "unauthorized", Message: "API token is invalid."})
			return false
		}
		return true
	}

	mux.HandleFunc("/v1/databases/db-1", func(w http.ResponseWriter, r *http.Request) {
		if !check(w, r) {
			return
		}
		_ = json.NewEncoder(w).Encode(f.database)
	})
	mux.HandleFunc("/v1/databases/db-1/query", func(w http.ResponseWriter, r *http.Request) {
		if !check(w, r) {
			return
		}
		var q QueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		f.mu.Lock()
		f.queries = append(f.queries, q)
		f.filters = append(f.filters, r.URL.Query()["filter_properties"])
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(QueryResponse{Object: "list", Results: f.pages})
	})
	mux.HandleFunc("/v1/pages", func(w http.ResponseWriter, r *http.Request) {
		if !check(w, r) {
			return
		}
		var req CreatePageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.created = append(f.created, req)
		id := "page-" + string(rune('a'+len(f.created)-1))
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(Page{Object: "page", ID: id})
	})
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		if !check(w, r) {
			return
		}
		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.searches = append(f.searches, req)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(SearchResponse{Object: "list", Results: f.databases})
	})
	return mux
}

func newTestClient(t *testing.T, api *fakeNotionAPI, bot string) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		BaseURL:    srv.URL,
		Token:      Token{AccessToken: "secret_abc", BotID: bot},
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return client
}

func testDatabase() Database {
	return Database{
		Object: "database",
		ID:     "db-1",
		Properties: map[string]PropertySchema{
			"Name":             {ID: "title", Name: "Name", Type: TypeTitle},
			"Status":           {ID: "st", Name: "Status", Type: TypeStatus, Status: &StatusConfig{Options: []Option{{Name: "To Do"}, {Name: "Done"}}}},
			"Due":              {ID: "du", Name: "Due", Type: TypeDate},
			"Last edited time": {ID: "le", Name: "Last edited time", Type: TypeLastEditedTime},
			"Last edited by":   {ID: "lb", Name: "Last edited by", Type: TypeLastEditedBy},
		},
	}
}

func page(id, title, edited string, due string, editor User) Page {
	p := Page{
		Object: "page",
		ID:     id,
		Properties: map[string]PropertyValue{
			"Name":             {ID: "title", Type: TypeTitle, Title: []RichText{{PlainText: title[:1]}, {PlainText: title[1:]}}},
			"Status":           {ID: "st", Type: TypeStatus, Status: &Option{Name: "To Do"}},
			"Due":              {ID: "du", Type: TypeDate},
			"Last edited time": {ID: "le", Type: TypeLastEditedTime, LastEditedTime: edited},
			"Last edited by":   {ID: "lb", Type: TypeLastEditedBy, LastEditedBy: &editor},
		},
	}
	if due != "" {
		v := p.Properties["Due"]
		v.Date = &DateValue{Start: due}
		p.Properties["Due"] = v
	}
	return p
}

func boundSource(t *testing.T, client *Client) task.Source {
	t.Helper()
	schema, err := client.Schema(context.Background(), "db-1")
	require.NoError(t, err)
	result := Validate(schema)
	require.True(t, result.Valid(), "issues: %+v", result.Issues)
	return client.Bind(*result.Props)
}

func TestStatusBijection(t *testing.T) {
	for _, s := range []task.Status{task.StatusOpen, task.StatusDone} {
		encoded, err := EncodeStatus(s)
		require.NoError(t, err)
		decoded, err := DecodeStatus(encoded)
		require.NoError(t, err)
		assert.Equal(t, s, decoded)
	}
	_, err := DecodeStatus("In progress")
	assert.Error(t, err)
}

func TestSchema_FromDatabase(t *testing.T) {
	api := &fakeNotionAPI{database: testDatabase()}
	client := newTestClient(t, api, botID)

	schema, err := client.Schema(context.Background(), "db-1")
	require.NoError(t, err)
	assert.Equal(t, "db-1", schema.DatabaseID)
	require.Len(t, schema.Fields, 5)
	assert.Equal(t, "Due", schema.Fields[0].Name)

	for _, f := range schema.Fields {
		if f.Type == TypeStatus {
			assert.Equal(t, []string{"To Do", "Done"}, f.Options)
		}
	}
}

func TestFetchOpenTasks_QueryAndDecode(t *testing.T) {
	api := &fakeNotionAPI{
		database: testDatabase(),
		pages: []Page{
			page("p-old", "Older", "2023-10-25T11:56:00.000Z", "", User{Object: "user", ID: "person-1", Type: "person"}),
			page("p-new", "Newer", "2023-10-26T09:00:00.000Z", "2023-10-31", User{Object: "user", ID: botID, Type: "bot"}),
		},
	}
	source := boundSource(t, newTestClient(t, api, botID))

	got, err := source.FetchOpenTasks(context.Background(), "db-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "p-new", got[0].ID)
	assert.Equal(t, "Newer", got[0].Title)
	assert.Equal(t, task.StatusOpen, got[0].Status)
	require.NotNil(t, got[0].Due)
	assert.Equal(t, "2023-10-31", got[0].Due.String())
	assert.True(t, got[0].LastEditedByAutomation)
	assert.Equal(t, time.Date(2023, 10, 26, 9, 0, 0, 0, time.UTC), got[0].LastEdited.UTC())

	assert.Equal(t, "p-old", got[1].ID)
	assert.Nil(t, got[1].Due)
	assert.False(t, got[1].LastEditedByAutomation)

	require.Len(t, api.queries, 1)
	q := api.queries[0]
	assert.Equal(t, MaxPageSize, q.PageSize)
	require.NotNil(t, q.Filter)
	assert.Equal(t, "st", q.Filter.Property)
	assert.Equal(t, OptionToDo, q.Filter.Status.Equals)
	assert.Equal(t, []Sort{{Property: "le", Direction: "descending"}}, q.Sorts)
	assert.ElementsMatch(t, []string{"title", "st", "du", "le", "lb"}, api.filters[0])
}

func TestFetchOpenTasks_AnyBotWithoutBotID(t *testing.T) {
	api := &fakeNotionAPI{
		database: testDatabase(),
		pages: []Page{
			page("p-1", "By other bot", "2023-10-26T09:00:00.000Z", "", User{Object: "user", ID: "other-bot", Type: "bot"}),
		},
	}
	source := boundSource(t, newTestClient(t, api, ""))

	got, err := source.FetchOpenTasks(context.Background(), "db-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].LastEditedByAutomation)
}

func TestCreateTask_Body(t *testing.T) {
	api := &fakeNotionAPI{database: testDatabase()}
	source := boundSource(t, newTestClient(t, api, botID))

	due := task.Date{Year: 2023, Month: time.November, Day: 2}
	id, err := source.CreateTask(context.Background(), task.NormalizedTask{
		ID: "g-1", Title: "Buy milk", Status: task.StatusDone, Due: &due,
	}, "db-1")
	require.NoError(t, err)
	assert.Equal(t, "page-a", id)

	require.Len(t, api.created, 1)
	req := api.created[0]
	assert.Equal(t, "db-1", req.Parent.DatabaseID)
	assert.Equal(t, "Buy milk", req.Properties["Name"].Title[0].Text.Content)
	assert.Equal(t, OptionDone, req.Properties["Status"].Status.Name)
	assert.Equal(t, "2023-11-02", req.Properties["Due"].Date.Start)

	_, err = source.CreateTask(context.Background(), task.NormalizedTask{ID: "g-2", Title: "No date", Status: task.StatusOpen}, "db-1")
	require.NoError(t, err)
	_, hasDue := api.created[1].Properties["Due"]
	assert.False(t, hasDue)
	assert.Equal(t, OptionToDo, api.created[1].Properties["Status"].Status.Name)
}

func TestErrors_CarryStatus(t *testing.T) {
	api := &fakeNotionAPI{database: testDatabase(), errStatus: http.StatusUnauthorized}
	client := newTestClient(t, api, botID)

	_, err := client.Schema(context.Background(), "db-1")
	require.Error(t, err)
	assert.True(t, task.IsUnauthorized(err))
	assert.Contains(t, err.Error(), "API token is invalid.")

	sys, ok := task.SystemOf(err)
	assert.True(t, ok)
	assert.Equal(t, task.SystemDB, sys)

	api.mu.Lock()
	api.errStatus = http.StatusNotFound
	api.mu.Unlock()
	_, err = client.Schema(context.Background(), "db-1")
	assert.True(t, task.IsFatal(err))
}

func TestNewClient_EmptyToken(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
	assert.True(t, task.IsUnauthorized(err))
}

func TestListContainers(t *testing.T) {
	api := &fakeNotionAPI{databases: []Database{
		{Object: "database", ID: "db-1", Title: []RichText{{PlainText: "Team "}, {PlainText: "Tasks"}}},
		{Object: "database", ID: "db-2"},
	}}
	client := newTestClient(t, api, botID)

	got, err := client.ListContainers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []task.Container{{ID: "db-1", Title: "Team Tasks"}, {ID: "db-2", Title: ""}}, got)

	require.Len(t, api.searches, 1)
	assert.Equal(t, SearchFilter{Property: "object", Value: "database"}, api.searches[0].Filter)
	assert.Equal(t, MaxPageSize, api.searches[0].PageSize)
}

func TestListContainers_Unauthorized(t *testing.T) {
	api := &fakeNotionAPI{errStatus: http.StatusUnauthorized}
	client := newTestClient(t, api, botID)

	_, err := client.ListContainers(context.Background())
	require.Error(t, err)
	assert.True(t, task.IsUnauthorized(err))
}
