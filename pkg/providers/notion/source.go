package notion

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tasksync/pkg/task"
)

// Source reads and writes tasks in one database through a resolved PropsMap
type Source struct {
	client *Client
	props  PropsMap
}

// Bind returns a Source using props to address the database properties.
// props must come from a valid ValidationResult.
func (c *Client) Bind(props PropsMap) task.Source {
	return &Source{client: c, props: props}
}

// System identifies the database side
func (s *Source) System() task.System {
	return task.SystemDB
}

// FetchOpenTasks returns the first page of rows whose status is "To Do",
// most recently edited first.
func (s *Source) FetchOpenTasks(ctx context.Context, databaseID string) ([]task.NormalizedTask, error) {
	query := QueryRequest{
		Filter: &Filter{
			Property: s.props.Status.ID,
			Status:   &StatusEqualTo{Equals: OptionToDo},
		},
		Sorts: []Sort{{
			Property:  s.props.LastEdited.ID,
			Direction: "descending",
		}},
		PageSize: s.client.pageSize,
	}

	resp, err := s.client.QueryDatabase(ctx, databaseID, query, s.props.IDs())
	if err != nil {
		return nil, err
	}

	items := make([]task.NormalizedTask, 0, len(resp.Results))
	for _, page := range resp.Results {
		if page.Archived {
			continue
		}
		t, err := s.decodePage(page)
		if err != nil {
			return nil, fmt.Errorf("decoding page %s: %w", page.ID, err)
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

// CreateTask creates a row and returns the new page id
func (s *Source) CreateTask(ctx context.Context, t task.NormalizedTask, databaseID string) (string, error) {
	status, err := EncodeStatus(t.Status)
	if err != nil {
		return "", err
	}

	props := map[string]PropertyValue{
		s.props.Title.Name: {
			Title: []RichText{{Type: "text", Text: &TextContent{Content: t.Title}}},
		},
		s.props.Status.Name: {
			Status: &Option{Name: status},
		},
	}
	if t.Due != nil {
		props[s.props.Due.Name] = PropertyValue{Date: &DateValue{Start: t.Due.String()}}
	}

	page, err := s.client.CreatePage(ctx, CreatePageRequest{
		Parent:     Parent{DatabaseID: databaseID},
		Properties: props,
	})
	if err != nil {
		return "", err
	}
	return page.ID, nil
}

// EncodeStatus maps a logical status to a status option name
func EncodeStatus(s task.Status) (string, error) {
	switch s {
	case task.StatusOpen:
		return OptionToDo, nil
	case task.StatusDone:
		return OptionDone, nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// DecodeStatus maps a status option name to a logical status
func DecodeStatus(name string) (task.Status, error) {
	switch name {
	case OptionToDo:
		return task.StatusOpen, nil
	case OptionDone:
		return task.StatusDone, nil
	}
	return "", fmt.Errorf("unknown notion status %q", name)
}

func (s *Source) decodePage(page Page) (task.NormalizedTask, error) {
	t := task.NormalizedTask{ID: page.ID}
	var statusSeen bool

	for _, value := range page.Properties {
		switch value.ID {
		case s.props.Title.ID:
			t.Title = PlainText(value.Title)
		case s.props.Status.ID:
			if value.Status == nil {
				return task.NormalizedTask{}, fmt.Errorf("status property is empty")
			}
			status, err := DecodeStatus(value.Status.Name)
			if err != nil {
				return task.NormalizedTask{}, err
			}
			t.Status = status
			statusSeen = true
		case s.props.Due.ID:
			if value.Date != nil && value.Date.Start != "" {
				due, err := task.ParseDate(value.Date.Start)
				if err != nil {
					return task.NormalizedTask{}, err
				}
				t.Due = &due
			}
		case s.props.LastEdited.ID:
			if edited, err := time.Parse(time.RFC3339, value.LastEditedTime); err == nil {
				t.LastEdited = edited
			}
		case s.props.LastEditedBy.ID:
			t.LastEditedByAutomation = s.editedByAutomation(value.LastEditedBy)
		}
	}

	if !statusSeen {
		return task.NormalizedTask{}, fmt.Errorf("status property %q not returned", s.props.Status.Name)
	}
	if t.LastEdited.IsZero() && page.LastEditedTime != "" {
		if edited, err := time.Parse(time.RFC3339, page.LastEditedTime); err == nil {
			t.LastEdited = edited
		}
	}
	return t, nil
}

// editedByAutomation matches the integration's own bot user when its id is
// known, and any bot otherwise.
func (s *Source) editedByAutomation(u *User) bool {
	if u == nil {
		return false
	}
	if s.client.token.BotID != "" {
		return u.ID == s.client.token.BotID
	}
	return u.Type == "bot"
}
