package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gh "github.com/google/go-github/v82/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanmeadows/mrwatch/internal/provider"
)

// newTestBackend creates a Backend wired to a test HTTP server.
func newTestBackend(t *testing.T, handler http.Handler) (*Backend, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gh.NewClient(nil).WithEnterpriseURLs(server.URL+"/", server.URL+"/")
	require.NoError(t, err)

	return &Backend{
		client:     client,
		token:      "test-token",
		graphqlURL: server.URL + "/graphql",
	}, server
}

func TestName(t *testing.T) {
	b := &Backend{}
	assert.Equal(t, "github", b.Name())
}

func TestMatchesURL(t *testing.T) {
	b := &Backend{}
	tests := []struct {
		url     string
		matches bool
	}{
		{"https://github.com/owner/repo/pull/123", true},
		{"https://www.github.com/owner/repo/pull/456", true},
		{"https://api.github.com", true},
		{"https://gitlab.com/owner/repo", false},
		{"not-a-url", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.matches, b.MatchesURL(tt.url))
		})
	}
}

func TestNewBackendEnterprise(t *testing.T) {
	b, err := NewBackend("https://github.example.com", "tok")
	require.NoError(t, err)
	assert.Equal(t, "https://github.example.com/api/v3/", b.client.BaseURL.String())
	assert.Equal(t, "https://github.example.com/api/graphql", b.graphqlURL)

	pub, err := NewBackend("https://github.com", "tok")
	require.NoError(t, err)
	assert.Equal(t, "https://api.github.com/", pub.client.BaseURL.String())
	assert.Empty(t, pub.graphqlURL)
}

func TestCurrentUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/user", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": 77, "login": "octo", "name": "Octo Cat"}`))
	})
	backend, _ := newTestBackend(t, mux)

	u, err := backend.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &provider.User{ID: 77, Username: "octo", Name: "Octo Cat"}, u)
}

func TestCurrentUserUnauthorized(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/user", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message": "Bad credentials"}`))
	})
	backend, _ := newTestBackend(t, mux)

	_, err := backend.CurrentUser(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUnauthorized)
}

func TestListAssignedMRs(t *testing.T) {
	var queries []map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /graphql", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Contains(t, req.Query, "search(query: $query, type: ISSUE")
		queries = append(queries, req.Variables)

		if req.Variables["cursor"] == nil {
			_, _ = w.Write([]byte(`{"data": {"search": {
				"nodes": [
					{"databaseId": 5001, "number": 42, "title": "First", "url": "https://github.com/team/app/pull/42", "repository": {"nameWithOwner": "team/app"}},
					{}
				],
				"pageInfo": {"endCursor": "c1", "hasNextPage": true}}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data": {"search": {
			"nodes": [
				{"databaseId": 5002, "number": 42, "title": "Second", "url": "https://github.com/team/lib/pull/42", "repository": {"nameWithOwner": "team/lib"}}
			],
			"pageInfo": {"endCursor": "c2", "hasNextPage": false}}}}`))
	})
	backend, _ := newTestBackend(t, mux)

	mrs, err := backend.ListAssignedMRs(context.Background(), &provider.User{Username: "octo"})
	require.NoError(t, err)
	require.Len(t, mrs, 2)

	assert.Equal(t, provider.MergeRequest{
		ID: 5001, IID: 42, Project: "team/app", Title: "First", WebURL: "https://github.com/team/app/pull/42",
	}, mrs[0])
	assert.Equal(t, "team/lib", mrs[1].Project)

	require.Len(t, queries, 2)
	assert.Equal(t, "is:pr is:open archived:false assignee:octo", queries[0]["query"])
	assert.Equal(t, "c1", queries[1]["cursor"])
}

func TestListNotes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/team/app/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "created", r.URL.Query().Get("sort"))
		assert.Equal(t, "asc", r.URL.Query().Get("direction"))
		_, _ = w.Write([]byte(`[
			{"id": 1, "body": "Build failed", "user": {"login": "jenkins", "name": "Jenkins CI"}, "created_at": "2024-03-01T10:00:00Z"},
			{"id": 2, "body": "lgtm", "user": {"login": "alice"}, "created_at": "2024-03-01T10:05:00Z"}
		]`))
	})
	backend, _ := newTestBackend(t, mux)

	mr := &provider.MergeRequest{ID: 5001, IID: 42, Project: "team/app"}
	notes, err := backend.ListNotes(context.Background(), mr)
	require.NoError(t, err)
	require.Len(t, notes, 2)

	assert.Equal(t, "Jenkins CI", notes[0].Author)
	assert.Equal(t, "Build failed", notes[0].Body)
	assert.Equal(t, "alice", notes[1].Author, "falls back to login without a display name")
	assert.True(t, notes[0].CreatedAt.Before(notes[1].CreatedAt))
}

func TestPostNote(t *testing.T) {
	var posted gh.IssueComment
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v3/repos/team/app/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 3}`))
	})
	backend, _ := newTestBackend(t, mux)

	mr := &provider.MergeRequest{ID: 5001, IID: 42, Project: "team/app"}
	require.NoError(t, backend.PostNote(context.Background(), mr, "#ci rebuild"))
	assert.Equal(t, "#ci rebuild", posted.GetBody())
}

func TestPostNoteInvalidProject(t *testing.T) {
	backend, _ := newTestBackend(t, http.NewServeMux())

	err := backend.PostNote(context.Background(), &provider.MergeRequest{IID: 1, Project: "noslash"}, "x")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "owner/repo"))
}
