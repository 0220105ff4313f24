package report

import (
	"context"
	"log/slog"
	"time"

	"tasksync/pkg/providers/notion"
	"tasksync/pkg/task"
)

// Direction summarizes one batch of creations from Source into Target.
// Orphaned lists ids created on Target that no mapping entry records.
type Direction struct {
	Source   task.System `json:"source"`
	Target   task.System `json:"target"`
	Total    int         `json:"total"`
	Created  int         `json:"created"`
	Failed   int         `json:"failed"`
	Orphaned []string    `json:"orphaned,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Report describes one sync pass, successful or not
type Report struct {
	PassID      string              `json:"pass_id"`
	User        string              `json:"user"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
	Transitions []string            `json:"transitions"`
	State       string              `json:"state"`
	Kind        string              `json:"kind,omitempty"`
	System      task.System         `json:"system,omitempty"`
	Message     string              `json:"message,omitempty"`
	Issues      []notion.Issue      `json:"issues,omitempty"`
	Fetched     map[task.System]int `json:"fetched,omitempty"`
	Directions  []Direction         `json:"directions,omitempty"`
	MappingSize int                 `json:"mapping_size"`
}

// Succeeded reports whether the pass reached DONE
func (r *Report) Succeeded() bool {
	return r.Kind == ""
}

// Orphaned returns every orphaned id keyed by the system holding it
func (r *Report) Orphaned() map[task.System][]string {
	out := make(map[task.System][]string)
	for _, d := range r.Directions {
		if len(d.Orphaned) > 0 {
			out[d.Target] = append(out[d.Target], d.Orphaned...)
		}
	}
	return out
}

// Sink receives finished reports
type Sink interface {
	Publish(ctx context.Context, r *Report) error
}

// LogSink writes reports to a structured logger
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs every report
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Publish logs the report at info level, or warn for failed passes
func (s *LogSink) Publish(ctx context.Context, r *Report) error {
	attrs := []any{
		"user", r.User,
		"pass_id", r.PassID,
		"state", r.State,
		"duration", r.FinishedAt.Sub(r.StartedAt).String(),
		"mapping_size", r.MappingSize,
	}
	for _, d := range r.Directions {
		attrs = append(attrs, slog.Group(string(d.Source)+"_to_"+string(d.Target),
			"total", d.Total, "created", d.Created, "failed", d.Failed, "orphaned", len(d.Orphaned)))
	}

	if r.Succeeded() {
		s.logger.InfoContext(ctx, "sync report", attrs...)
		return nil
	}
	attrs = append(attrs, "kind", r.Kind, "system", r.System, "message", r.Message)
	s.logger.WarnContext(ctx, "sync report", attrs...)
	return nil
}

// MultiSink fans a report out to several sinks and returns the first error
type MultiSink []Sink

// Publish sends the report to every sink
func (m MultiSink) Publish(ctx context.Context, r *Report) error {
	var firstErr error
	for _, s := range m {
		if err := s.Publish(ctx, r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
