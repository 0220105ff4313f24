package notion

import (
	"fmt"
	"sort"
	"strings"
)

// Database is the response from GET /v1/databases/{id}
type Database struct {
	Object     string                    `json:"object"`
	ID         string                    `json:"id"`
	Title      []RichText                `json:"title"`
	Properties map[string]PropertySchema `json:"properties"`
}

// PropertySchema is one property definition of a database
type PropertySchema struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Type   string        `json:"type"`
	Status *StatusConfig `json:"status,omitempty"`
}

// StatusConfig lists the options of a status property
type StatusConfig struct {
	Options []Option `json:"options"`
}

// Option is a named status or select option
type Option struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Descriptor converts the database metadata into a SchemaDescriptor.
// Fields are ordered by name so validation output is stable.
func (d *Database) Descriptor() SchemaDescriptor {
	fields := make([]Field, 0, len(d.Properties))
	for key, p := range d.Properties {
		name := p.Name
		if name == "" {
			name = key
		}
		f := Field{ID: p.ID, Name: name, Type: p.Type}
		if p.Status != nil {
			for _, o := range p.Status.Options {
				f.Options = append(f.Options, o.Name)
			}
		}
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return SchemaDescriptor{DatabaseID: d.ID, Fields: fields}
}

// Page is a database row
type Page struct {
	Object         string                   `json:"object"`
	ID             string                   `json:"id"`
	Archived       bool                     `json:"archived"`
	LastEditedTime string                   `json:"last_edited_time"`
	Properties     map[string]PropertyValue `json:"properties"`
}

// PropertyValue is the value of one property on a page. Only the member
// matching Type is set.
type PropertyValue struct {
	ID             string     `json:"id,omitempty"`
	Type           string     `json:"type,omitempty"`
	Title          []RichText `json:"title,omitempty"`
	Status         *Option    `json:"status,omitempty"`
	Date           *DateValue `json:"date,omitempty"`
	LastEditedTime string     `json:"last_edited_time,omitempty"`
	LastEditedBy   *User      `json:"last_edited_by,omitempty"`
}

// RichText is a rich text fragment
type RichText struct {
	Type      string       `json:"type,omitempty"`
	PlainText string       `json:"plain_text,omitempty"`
	Text      *TextContent `json:"text,omitempty"`
}

// PlainText joins the plain text of each rich text run
func PlainText(runs []RichText) string {
	var b strings.Builder
	for _, rt := range runs {
		b.WriteString(rt.PlainText)
	}
	return b.String()
}

// TextContent is the content of a text fragment
type TextContent struct {
	Content string `json:"content"`
}

// DateValue is a date property value; Start holds a date or a timestamp
type DateValue struct {
	Start string  `json:"start"`
	End   *string `json:"end,omitempty"`
}

// User is a person or bot reference
type User struct {
	Object string `json:"object"`
	ID     string `json:"id"`
	Type   string `json:"type,omitempty"`
}

// QueryRequest is the body of POST /v1/databases/{id}/query
type QueryRequest struct {
	Filter      *Filter `json:"filter,omitempty"`
	Sorts       []Sort  `json:"sorts,omitempty"`
	PageSize    int     `json:"page_size,omitempty"`
	StartCursor string  `json:"start_cursor,omitempty"`
}

// Filter is a single property filter
type Filter struct {
	Property string         `json:"property"`
	Status   *StatusEqualTo `json:"status,omitempty"`
}

// StatusEqualTo matches a status option by name
type StatusEqualTo struct {
	Equals string `json:"equals"`
}

// Sort orders query results by a property
type Sort struct {
	Property  string `json:"property,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Direction string `json:"direction"`
}

// QueryResponse is one page of query results
type QueryResponse struct {
	Object     string  `json:"object"`
	Results    []Page  `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

// CreatePageRequest is the body of POST /v1/pages
type CreatePageRequest struct {
	Parent     Parent                   `json:"parent"`
	Properties map[string]PropertyValue `json:"properties"`
}

// Parent places a new page in a database
type Parent struct {
	DatabaseID string `json:"database_id"`
}

// SearchRequest is the body of POST /v1/search
type SearchRequest struct {
	Filter      SearchFilter `json:"filter"`
	PageSize    int          `json:"page_size,omitempty"`
	StartCursor string       `json:"start_cursor,omitempty"`
}

// SearchFilter restricts search results to one object type
type SearchFilter struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

// SearchResponse is one page of search results
type SearchResponse struct {
	Object     string     `json:"object"`
	Results    []Database `json:"results"`
	HasMore    bool       `json:"has_more"`
	NextCursor *string    `json:"next_cursor"`
}

// ErrorResponse is the body Notion returns with a non-2xx status
type ErrorResponse struct {
	Object  string `json:"object"`
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
