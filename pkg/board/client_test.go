package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/kernel/boardcol/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = credentials.Credentials{APIKey: "key-123", APIToken: "tok-456"}

func clientPage(n, offset int) []map[string]any {
	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, map[string]any{"id": offset + i, "name": fmt.Sprintf("Client %d", offset+i)})
	}
	return out
}

func TestFetchClients_StopsOnShortPage(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/clients", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		assert.Equal(t, "key-123", r.Header.Get("x-api-key"))
		assert.Equal(t, "Bearer tok-456", r.Header.Get("Authorization"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		n := 100
		if page == 2 {
			n = 42
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"clients": clientPage(n, (page-1)*100)})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	clients, err := c.FetchClients(context.Background(), testCreds)
	require.NoError(t, err)

	assert.Len(t, clients, 142)
	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, ClientRecord{ID: "0", Name: "Client 0"}, clients[0])
}

func TestFetchProjects_RespectsPageLimit(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		items := make([]map[string]any, 100)
		for i := range items {
			items[i] = map[string]any{"project_no": i, "client": nil}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"projects": items})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	projects, err := c.FetchProjects(context.Background(), testCreds)
	require.NoError(t, err)

	assert.Equal(t, int32(projectsPageLimit), requests.Load())
	assert.Len(t, projects, projectsPageLimit*100)
}

func TestFetchProjects_ConvertsWireShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"project_no": 7, "client": {"id": "c1"}},
			{"project_no": "9", "client": {"name": "Fallback Co"}},
			{"project_no": 3, "client": null}
		]`))
	}))
	defer srv.Close()

	projects, err := NewClient(srv.URL).FetchProjects(context.Background(), testCreds)
	require.NoError(t, err)
	assert.Equal(t, []ProjectRecord{
		{ProjectNo: "7", ClientID: "c1"},
		{ProjectNo: "9", ClientNameFallback: "Fallback Co"},
		{ProjectNo: "3"},
	}, projects)
}

func TestFetch_MissingCredentialsMakesNoRequest(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	for _, creds := range []credentials.Credentials{
		{},
		{APIKey: "k"},
		{APIToken: "t"},
	} {
		_, err := c.FetchClients(context.Background(), creds)
		assert.ErrorIs(t, err, credentials.ErrMissingCredentials)
	}
	assert.Equal(t, int32(0), requests.Load())
}

func TestFetch_NonSuccessStatusAborts(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"clients": clientPage(100, 0)})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).FetchClients(context.Background(), testCreds)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 500, apiErr.Status)
	assert.Equal(t, 2, apiErr.Page)
	assert.Equal(t, int32(2), requests.Load())
}

func TestDecodePage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{"endpoint envelope", `{"clients":[{"id":1,"name":"a"}]}`, 1, false},
		{"items envelope", `{"items":[{"id":1,"name":"a"},{"id":2,"name":"b"}]}`, 2, false},
		{"data envelope", `{"data":[]}`, 0, false},
		{"bare array", `[{"id":1,"name":"a"}]`, 1, false},
		{"null list", `{"clients":null}`, 0, false},
		{"unknown envelope", `{"results":[{"id":1}]}`, 0, true},
		{"envelope not a list", `{"clients":{"id":1}}`, 0, true},
		{"empty body", ``, 0, true},
		{"scalar", `42`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := decodePage[wireClient]([]byte(tt.body), "clients")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnrecognizedResponse)
				return
			}
			require.NoError(t, err)
			assert.Len(t, items, tt.want)
		})
	}
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("page"))
		if r.URL.Path == "/projects" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("invalid token"))
			return
		}
		_, _ = w.Write([]byte(`{"clients":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	res, err := c.Probe(context.Background(), testCreds, "clients")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, map[string]any{"clients": []any{}}, res.Body)

	res, err = c.Probe(context.Background(), testCreds, "projects")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, 401, res.Status)
	assert.Equal(t, "invalid token", res.Body)
}
