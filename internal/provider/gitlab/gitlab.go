package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/alanmeadows/mrwatch/internal/provider"
)

const (
	defaultBaseURL = "https://gitlab.com"
	perPage        = 100
)

// Backend implements provider.Backend for the GitLab REST API v4.
type Backend struct {
	client  *gl.Client
	baseURL string
}

// NewBackend creates a GitLab backend for the instance at baseURL
// (e.g. https://gitlab.com or https://gitlab.example.com). The client retries
// 429 and 5xx responses with backoff.
func NewBackend(baseURL, token string, opts ...gl.ClientOptionFunc) (*Backend, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	opts = append([]gl.ClientOptionFunc{
		gl.WithBaseURL(baseURL),
		gl.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
	}, opts...)
	client, err := gl.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GitLab client for %s: %w", baseURL, err)
	}
	return &Backend{client: client, baseURL: baseURL}, nil
}

// Name returns "gitlab".
func (b *Backend) Name() string {
	return "gitlab"
}

// MatchesURL returns true for gitlab.com, hosts with "gitlab" in the name,
// and the host this backend was configured for.
func (b *Backend) MatchesURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "gitlab.com" || strings.Contains(host, "gitlab") {
		return true
	}
	if own, err := url.Parse(b.baseURL); err == nil {
		return strings.EqualFold(own.Hostname(), host)
	}
	return false
}

// CurrentUser returns the user that owns the access token.
func (b *Backend) CurrentUser(ctx context.Context) (*provider.User, error) {
	u, resp, err := b.client.Users.CurrentUser(gl.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", classify(resp, err))
	}
	return &provider.User{ID: int64(u.ID), Username: u.Username, Name: u.Name}, nil
}

// ListAssignedMRs returns open merge requests assigned to the token owner
// across all projects.
func (b *Backend) ListAssignedMRs(ctx context.Context, _ *provider.User) ([]provider.MergeRequest, error) {
	opt := &gl.ListMergeRequestsOptions{
		ListOptions: gl.ListOptions{PerPage: perPage, Page: 1},
		State:       gl.Ptr("opened"),
		Scope:       gl.Ptr("assigned_to_me"),
	}

	var mrs []provider.MergeRequest
	for {
		page, resp, err := b.client.MergeRequests.ListMergeRequests(opt, gl.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to list assigned merge requests: %w", classify(resp, err))
		}
		for _, m := range page {
			mrs = append(mrs, provider.MergeRequest{
				ID:      int64(m.ID),
				IID:     int64(m.IID),
				Project: strconv.Itoa(m.ProjectID),
				Title:   m.Title,
				WebURL:  m.WebURL,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return mrs, nil
}

// ListNotes returns every note on the merge request, oldest first.
func (b *Backend) ListNotes(ctx context.Context, mr *provider.MergeRequest) ([]provider.Note, error) {
	opt := &gl.ListMergeRequestNotesOptions{
		ListOptions: gl.ListOptions{PerPage: perPage, Page: 1},
		OrderBy:     gl.Ptr("created_at"),
		Sort:        gl.Ptr("asc"),
	}

	var notes []provider.Note
	for {
		page, resp, err := b.client.Notes.ListMergeRequestNotes(mr.Project, int(mr.IID), opt, gl.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to list notes for !%d: %w", mr.IID, classify(resp, err))
		}
		for _, n := range page {
			note := provider.Note{
				ID:     int64(n.ID),
				Author: n.Author.Name,
				Body:   n.Body,
				System: n.System,
			}
			if n.CreatedAt != nil {
				note.CreatedAt = *n.CreatedAt
			}
			notes = append(notes, note)
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}

	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].CreatedAt.Before(notes[j].CreatedAt)
	})
	return notes, nil
}

// PostNote adds a general comment to the merge request.
func (b *Backend) PostNote(ctx context.Context, mr *provider.MergeRequest, body string) error {
	opt := &gl.CreateMergeRequestNoteOptions{Body: gl.Ptr(body)}
	_, resp, err := b.client.Notes.CreateMergeRequestNote(mr.Project, int(mr.IID), opt, gl.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to post note on !%d: %w", mr.IID, classify(resp, err))
	}
	return nil
}

// classify maps a rejected token to provider.ErrUnauthorized.
func classify(resp *gl.Response, err error) error {
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %v", provider.ErrUnauthorized, err)
	}
	return err
}
