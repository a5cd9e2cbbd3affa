// Package rest implements store.RemoteStore against a PostgREST-style
// HTTP API: one resource path per table, filters as query parameters
// (`col=eq.value`, `col=is.null`), JSON rows in and out.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/venturetrail/resourcesync/pkg/content"
	"github.com/venturetrail/resourcesync/pkg/logger"
	"github.com/venturetrail/resourcesync/pkg/model"
	"github.com/venturetrail/resourcesync/pkg/store"
)

// Config configures a Store.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.example.com/rest/v1".
	BaseURL string

	// Table is the record collection name. Defaults to "resources".
	Table string

	// Token is sent as a bearer token when non-empty.
	Token string

	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client

	Logger logger.Logger
}

// Store talks to the remote record collection over HTTP.
type Store struct {
	base   string
	table  string
	token  string
	client *http.Client
	log    logger.Logger
}

var _ store.RemoteStore = (*Store)(nil)

// New returns a Store for cfg.
func New(cfg Config) *Store {
	table := cfg.Table
	if table == "" {
		table = "resources"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Store{
		base:   cfg.BaseURL,
		table:  table,
		token:  cfg.Token,
		client: client,
		log:    logger.OrNop(cfg.Logger),
	}
}

func (s *Store) Select(ctx context.Context, f store.Filter) ([]model.Record, error) {
	q := url.Values{}
	for _, col := range sortedEqColumns(f) {
		q.Set(col, "eq."+f.Eq[col])
	}
	for _, col := range f.IsNull {
		q.Set(col, "is.null")
	}

	body, err := s.do(ctx, http.MethodGet, "?"+q.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	var rows []model.Record
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, store.Transient("select", err)
	}
	return rows, nil
}

func (s *Store) Insert(ctx context.Context, rec model.Record) (model.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return model.Record{}, fmt.Errorf("rest: encode insert: %w", err)
	}
	body, err := s.do(ctx, http.MethodPost, "", payload, "return=representation")
	if err != nil {
		return model.Record{}, err
	}
	return firstRow(body, "insert")
}

func (s *Store) UpdateByID(ctx context.Context, id string, contentData *content.Map, updatedAt time.Time) (model.Record, error) {
	payload, err := json.Marshal(map[string]any{
		"content":    contentData,
		"updated_at": updatedAt,
	})
	if err != nil {
		return model.Record{}, fmt.Errorf("rest: encode update: %w", err)
	}
	q := url.Values{}
	q.Set("id", "eq."+id)
	body, err := s.do(ctx, http.MethodPatch, "?"+q.Encode(), payload, "return=representation")
	if err != nil {
		return model.Record{}, err
	}
	return firstRow(body, "update")
}

func (s *Store) do(ctx context.Context, method, query string, payload []byte, prefer string) ([]byte, error) {
	op := method + " " + s.table
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base+"/"+s.table+query, reader)
	if err != nil {
		return nil, fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, store.Transient(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, store.Transient(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.log.Debug("rest: request failed", "op", op, "status", resp.StatusCode)
		return nil, store.Transient(op, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)))
	}
	return body, nil
}

func firstRow(body []byte, op string) (model.Record, error) {
	var rows []model.Record
	if err := json.Unmarshal(body, &rows); err != nil {
		// Some services return the bare object rather than an array.
		var row model.Record
		if err2 := json.Unmarshal(body, &row); err2 == nil {
			return row, nil
		}
		return model.Record{}, store.Transient(op, err)
	}
	if len(rows) == 0 {
		return model.Record{}, store.Transient(op, fmt.Errorf("empty response"))
	}
	return rows[0], nil
}

func sortedEqColumns(f store.Filter) []string {
	cols := make([]string, 0, len(f.Eq))
	for col := range f.Eq {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
