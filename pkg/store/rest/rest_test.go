package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venturetrail/resourcesync/pkg/content"
	"github.com/venturetrail/resourcesync/pkg/model"
	"github.com/venturetrail/resourcesync/pkg/store"
)

func TestSelectBuildsFilterQuery(t *testing.T) {
	var gotQuery map[string][]string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/rest/v1/resources", r.URL.Path)
		json.NewEncoder(w).Encode([]model.Record{{ID: "r1", OwnerID: "u1"}})
	}))
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL + "/rest/v1", Token: "tok"})
	rows, err := s.Select(context.Background(), store.Filter{
		Eq:     map[string]string{"owner_id": "u1", "kind": "swot_analysis", "section_key": "SWOT Analysis"},
		IsNull: []string{"sub_step_id"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "r1", rows[0].ID)

	assert.Equal(t, []string{"eq.u1"}, gotQuery["owner_id"])
	assert.Equal(t, []string{"eq.swot_analysis"}, gotQuery["kind"])
	assert.Equal(t, []string{"eq.SWOT Analysis"}, gotQuery["section_key"])
	assert.Equal(t, []string{"is.null"}, gotQuery["sub_step_id"])
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestInsertGeneratesIDAndDecodesRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))

		var rec model.Record
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rec))
		assert.NotEmpty(t, rec.ID)

		rec.CreatedAt = time.Now()
		json.NewEncoder(w).Encode([]model.Record{rec})
	}))
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL})
	rec, err := s.Insert(context.Background(), model.Record{
		OwnerID:    "u1",
		StepID:     "step-3",
		SectionKey: "SWOT Analysis",
		Kind:       "swot_analysis",
		Content:    content.FromMap(map[string]any{"a": "hello"}),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	got, ok := rec.Content.Get("a")
	require.True(t, ok)
	assert.Equal(t, "hello", got)
}

func TestUpdatePatchesByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.r9", r.URL.Query().Get("id"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "content")
		assert.Contains(t, body, "updated_at")

		json.NewEncoder(w).Encode([]model.Record{{ID: "r9", Content: content.FromMap(map[string]any{"a": "new"})}})
	}))
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL})
	rec, err := s.UpdateByID(context.Background(), "r9", content.FromMap(map[string]any{"a": "new"}), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "r9", rec.ID)
}

func TestServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL})
	_, err := s.Select(context.Background(), store.Filter{Eq: map[string]string{"owner_id": "u1"}})
	require.Error(t, err)
	assert.True(t, store.IsTransient(err))
}

func TestConnectionErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately: connections refused from here on

	s := New(Config{BaseURL: srv.URL})
	_, err := s.Select(context.Background(), store.Filter{})
	require.Error(t, err)
	assert.True(t, store.IsTransient(err))
}
