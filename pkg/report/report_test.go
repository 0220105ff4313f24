package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/pkg/task"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func partialReport() *Report {
	return &Report{
		PassID:    "3f1c",
		User:      "alice@example.com",
		StartedAt: time.Date(2023, 10, 26, 8, 30, 5, 0, time.UTC),
		State:     "FAILED",
		Kind:      "PARTIAL_SYNC",
		System:    task.SystemList,
		Directions: []Direction{
			{Source: task.SystemList, Target: task.SystemDB, Total: 4, Created: 4, Orphaned: []string{"n1", "n2", "n3", "n4"}},
			{Source: task.SystemDB, Target: task.SystemList, Total: 3, Created: 2, Failed: 1, Orphaned: []string{"g1", "g2"}, Error: "status 500"},
		},
	}
}

func TestS3Sink_Publish(t *testing.T) {
	putter := &fakePutter{}
	sink := NewS3Sink(putter, "sync-reports", "prod")

	r := partialReport()
	require.NoError(t, sink.Publish(context.Background(), r))

	require.Len(t, putter.inputs, 1)
	in := putter.inputs[0]
	assert.Equal(t, "sync-reports", *in.Bucket)
	assert.Equal(t, "prod/reports/alice@example.com/20231026T083005Z-3f1c.json", *in.Key)
	assert.Equal(t, "application/json", *in.ContentType)
	assert.Equal(t, int64(len(putter.bodies[0])), *in.ContentLength)

	var decoded Report
	require.NoError(t, json.Unmarshal(putter.bodies[0], &decoded))
	assert.Equal(t, "PARTIAL_SYNC", decoded.Kind)
	assert.Len(t, decoded.Directions, 2)
}

func TestS3Sink_PublishError(t *testing.T) {
	sink := NewS3Sink(&fakePutter{err: errors.New("access denied")}, "b", "")
	err := sink.Publish(context.Background(), partialReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reports/alice@example.com/")
}

func TestReport_Orphaned(t *testing.T) {
	orphaned := partialReport().Orphaned()
	assert.Equal(t, []string{"n1", "n2", "n3", "n4"}, orphaned[task.SystemDB])
	assert.Equal(t, []string{"g1", "g2"}, orphaned[task.SystemList])
	assert.False(t, partialReport().Succeeded())
}

func TestLogSink_WritesFailure(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, sink.Publish(context.Background(), partialReport()))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "PARTIAL_SYNC", line["kind"])
	assert.Equal(t, "3f1c", line["pass_id"])
}

func TestMultiSink_ReturnsFirstError(t *testing.T) {
	ok := &fakePutter{}
	multi := MultiSink{
		NewS3Sink(&fakePutter{err: errors.New("down")}, "b", ""),
		NewS3Sink(ok, "b", ""),
	}
	err := multi.Publish(context.Background(), partialReport())
	assert.Error(t, err)
	assert.Len(t, ok.inputs, 1, "later sinks still receive the report")
}
