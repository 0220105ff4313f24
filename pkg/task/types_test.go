package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "2023-10-31", want: "2023-10-31"},
		{in: "2023-10-31T00:00:00.000Z", want: "2023-10-31"},
		{in: "2023-10-31T23:30:00.000-05:00", want: "2023-10-31"},
		{in: "2023-10", wantErr: true},
		{in: "not-a-date", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseDate(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.String())
			assert.Equal(t, time.UTC, d.Midnight().Location())
			assert.Zero(t, d.Midnight().Hour())
		})
	}
}

func TestMapping_JSONTuple(t *testing.T) {
	completed := Date{Year: 2023, Month: time.October, Day: 25}
	m := Mapping{
		{ListID: "g1", DBID: "n1"},
		{ListID: "g2", DBID: "n2", CompletedAt: &completed},
	}

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `[["g1","n1"],["g2","n2","2023-10-25"]]`, string(data))

	var decoded Mapping
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, m, decoded)
}

func TestMapping_RejectsMalformedTuple(t *testing.T) {
	var m Mapping
	assert.Error(t, json.Unmarshal([]byte(`[["only-one"]]`), &m))
	assert.Error(t, json.Unmarshal([]byte(`[{"g":"x"}]`), &m))
}

func TestMapping_AppendKeepsListSideFirst(t *testing.T) {
	existing := Mapping{{ListID: "g0", DBID: "n0"}}

	fromList := []CorrelationPair{{SourceID: "g1", CreatedID: "n1"}}
	fromDB := []CorrelationPair{{SourceID: "n2", CreatedID: "g2"}}

	merged := existing.Append(SystemList, fromList).Append(SystemDB, fromDB)

	assert.Equal(t, Mapping{
		{ListID: "g0", DBID: "n0"},
		{ListID: "g1", DBID: "n1"},
		{ListID: "g2", DBID: "n2"},
	}, merged)
	assert.Len(t, existing, 1, "append must not modify the original")
}

func TestHTTPError_Classification(t *testing.T) {
	unauthorized := fmt.Errorf("fetching: %w", &HTTPError{System: SystemList, Op: "list tasks", StatusCode: http.StatusUnauthorized, Err: errors.New("invalid credentials")})
	assert.True(t, IsUnauthorized(unauthorized))
	assert.False(t, IsFatal(unauthorized))

	sys, ok := SystemOf(unauthorized)
	assert.True(t, ok)
	assert.Equal(t, SystemList, sys)

	notFound := &HTTPError{System: SystemDB, Op: "query", StatusCode: http.StatusNotFound, Err: errors.New("object_not_found")}
	assert.True(t, IsFatal(notFound))
	assert.Contains(t, notFound.Error(), "status 404")

	assert.Equal(t, 0, StatusCode(errors.New("plain")))
}

func TestSystem_Opposite(t *testing.T) {
	assert.Equal(t, SystemDB, SystemList.Opposite())
	assert.Equal(t, SystemList, SystemDB.Opposite())
}
