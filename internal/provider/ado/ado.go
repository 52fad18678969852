package ado

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanmeadows/mrwatch/internal/provider"
)

const (
	defaultBaseURL = "https://dev.azure.com"
	apiVersion     = "7.1"
	pageSize       = 100
	maxRetries     = 3
)

// Backend implements provider.Backend for Azure DevOps pull requests.
// ADO has no assignees; pull requests where the user is a reviewer are
// treated as assigned.
type Backend struct {
	pat          string
	organization string
	project      string
	httpClient   *http.Client
	baseURL      string
	// sleep waits between rate-limit retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	reviewer string
}

// NewBackend creates an ADO backend from an organization URL such as
// https://dev.azure.com/{org}/{project} or https://{org}.visualstudio.com/{project}.
// The project segment is optional; without it every project in the
// organization is searched. pat is a personal access token.
func NewBackend(rawURL, pat string) *Backend {
	b := &Backend{
		pat:        pat,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		sleep:      sleepContext,
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return b
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	host := strings.ToLower(u.Hostname())

	if strings.HasSuffix(host, ".visualstudio.com") {
		b.organization = strings.TrimSuffix(host, ".visualstudio.com")
		b.project = parts[0]
		return b
	}

	if host != "dev.azure.com" {
		// Azure DevOps Server or a test server: same path layout, own host.
		b.baseURL = u.Scheme + "://" + u.Host
	}
	b.organization = parts[0]
	if len(parts) > 1 {
		b.project = parts[1]
	}
	return b
}

// Name returns "ado".
func (b *Backend) Name() string {
	return "ado"
}

// MatchesURL returns true if the URL belongs to Azure DevOps.
func (b *Backend) MatchesURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return strings.HasSuffix(host, ".visualstudio.com") || host == "dev.azure.com"
}

// CurrentUser returns the identity behind the configured credentials and
// remembers its ID for reviewer searches.
func (b *Backend) CurrentUser(ctx context.Context) (*provider.User, error) {
	if b.organization == "" {
		return nil, fmt.Errorf("platform URL must name an Azure DevOps organization")
	}

	path := fmt.Sprintf("/%s/_apis/connectiondata", url.PathEscape(b.organization))
	var conn adoConnectionData
	if err := b.getJSON(ctx, path, nil, &conn); err != nil {
		return nil, fmt.Errorf("failed to get connection data: %w", err)
	}
	me := conn.AuthenticatedUser
	if me.ID == "" {
		return nil, fmt.Errorf("connection data has no authenticated user")
	}

	b.mu.Lock()
	b.reviewer = me.ID
	b.mu.Unlock()

	username := me.Properties.Account.Value
	if username == "" {
		username = me.ID
	}
	return &provider.User{Username: username, Name: me.ProviderDisplayName}, nil
}

// ListAssignedMRs returns active pull requests that list the user as a reviewer.
func (b *Backend) ListAssignedMRs(ctx context.Context, user *provider.User) ([]provider.MergeRequest, error) {
	reviewer, err := b.reviewerID(ctx)
	if err != nil {
		return nil, err
	}

	path := "/" + url.PathEscape(b.organization)
	if b.project != "" {
		path += "/" + url.PathEscape(b.project)
	}
	path += "/_apis/git/pullrequests"

	q := url.Values{}
	q.Set("searchCriteria.status", "active")
	q.Set("searchCriteria.reviewerId", reviewer)
	q.Set("$top", strconv.Itoa(pageSize))

	var mrs []provider.MergeRequest
	for skip := 0; ; skip += pageSize {
		q.Set("$skip", strconv.Itoa(skip))
		var page adoPullRequestList
		if err := b.getJSON(ctx, path, q, &page); err != nil {
			return nil, fmt.Errorf("failed to list pull requests: %w", err)
		}
		for _, pr := range page.Value {
			mrs = append(mrs, b.toMergeRequest(pr))
		}
		if len(page.Value) < pageSize {
			break
		}
	}
	return mrs, nil
}

// ListNotes flattens every thread's comments into notes, oldest first.
func (b *Backend) ListNotes(ctx context.Context, mr *provider.MergeRequest) ([]provider.Note, error) {
	path, err := threadsPath(mr)
	if err != nil {
		return nil, err
	}

	var threads adoThreadList
	if err := b.getJSON(ctx, path, nil, &threads); err != nil {
		return nil, fmt.Errorf("failed to list threads for PR %d: %w", mr.IID, err)
	}

	var notes []provider.Note
	for _, thread := range threads.Value {
		if thread.IsDeleted {
			continue
		}
		for _, c := range thread.Comments {
			if c.IsDeleted {
				continue
			}
			notes = append(notes, provider.Note{
				ID:        noteID(thread.ID, c.ID),
				Author:    c.Author.DisplayName,
				Body:      c.Content,
				CreatedAt: c.PublishedDate,
				System:    c.CommentType == "system",
			})
		}
	}

	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].CreatedAt.Before(notes[j].CreatedAt)
	})
	return notes, nil
}

// PostNote opens a new active thread on the pull request.
func (b *Backend) PostNote(ctx context.Context, mr *provider.MergeRequest, body string) error {
	path, err := threadsPath(mr)
	if err != nil {
		return err
	}

	thread := map[string]any{
		"comments": []map[string]any{
			{
				"content":     body,
				"commentType": "text",
			},
		},
		"status": 1, // active
	}

	resp, err := b.doRequest(ctx, http.MethodPost, path, nil, thread)
	if err != nil {
		return fmt.Errorf("failed to post comment on PR %d: %w", mr.IID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return b.parseError(resp)
	}
	return nil
}

func (b *Backend) reviewerID(ctx context.Context) (string, error) {
	b.mu.Lock()
	id := b.reviewer
	b.mu.Unlock()
	if id != "" {
		return id, nil
	}
	if _, err := b.CurrentUser(ctx); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reviewer, nil
}

func (b *Backend) toMergeRequest(pr adoPullRequest) provider.MergeRequest {
	project := pr.Repository.Project.Name
	if project == "" {
		project = b.project
	}
	web := pr.Links.Web.Href
	if web == "" {
		web = fmt.Sprintf("%s/%s/%s/_git/%s/pullrequest/%d",
			b.baseURL, url.PathEscape(b.organization), url.PathEscape(project),
			url.PathEscape(pr.Repository.Name), pr.PullRequestID)
	}
	return provider.MergeRequest{
		// Pull request IDs are unique across the organization.
		ID:      pr.PullRequestID,
		IID:     pr.PullRequestID,
		Project: b.organization + "/" + project + "/" + pr.Repository.ID,
		Title:   pr.Title,
		WebURL:  web,
	}
}

// threadsPath routes on the org/project/repository triple stored in mr.Project.
func threadsPath(mr *provider.MergeRequest) (string, error) {
	parts := strings.SplitN(mr.Project, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", fmt.Errorf("PR %d: malformed project %q", mr.IID, mr.Project)
	}
	return fmt.Sprintf("/%s/%s/_apis/git/repositories/%s/pullrequests/%d/threads",
		url.PathEscape(parts[0]), url.PathEscape(parts[1]), url.PathEscape(parts[2]), mr.ID), nil
}

// noteID packs thread and comment IDs; comment IDs restart at 1 per thread.
func noteID(thread, comment int) int64 {
	return int64(thread)<<20 | int64(comment)
}

func (b *Backend) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	resp, err := b.doRequest(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return b.parseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// doRequest makes an authenticated HTTP request to the ADO API.
// It handles rate limiting with exponential backoff on 429 responses.
// ADO answers a rejected PAT with 401 or with a 203 sign-in page; both map
// to provider.ErrUnauthorized.
func (b *Backend) doRequest(ctx context.Context, method, path string, q url.Values, body any) (*http.Response, error) {
	params := url.Values{}
	for k, v := range q {
		params[k] = v
	}
	params.Set("api-version", apiVersion)
	fullURL := b.baseURL + path + "?" + params.Encode()

	for attempt := 0; attempt <= maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			jsonBytes, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			bodyReader = bytes.NewReader(jsonBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(":"+b.pat)))
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := b.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusNonAuthoritativeInfo:
			resp.Body.Close()
			return nil, provider.ErrUnauthorized
		case http.StatusTooManyRequests:
		default:
			return resp, nil
		}

		resp.Body.Close()
		if attempt == maxRetries {
			return nil, fmt.Errorf("rate limited after %d retries", maxRetries)
		}

		delay := retryDelay(resp, attempt)
		slog.Warn("rate limited by ADO API, retrying",
			"attempt", attempt+1,
			"delay", delay)

		if err := b.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("unexpected: exhausted retries")
}

// retryDelay honours Retry-After, else backs off 1s, 2s, 4s.
func retryDelay(resp *http.Response, attempt int) time.Duration {
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseError extracts error information from an ADO API error response.
func (b *Backend) parseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ADO API error (status %d): could not read response body", resp.StatusCode)
	}

	var adoErr adoError
	if err := json.Unmarshal(body, &adoErr); err != nil || adoErr.Message == "" {
		// Non-JSON response (e.g. HTML error pages).
		truncated := string(body)
		if len(truncated) > 200 {
			truncated = truncated[:200] + "... (truncated)"
		}
		return fmt.Errorf("ADO API error (status %d): %s", resp.StatusCode, truncated)
	}

	return fmt.Errorf("ADO API error (status %d, %s): %s", resp.StatusCode, adoErr.TypeKey, adoErr.Message)
}

var _ provider.Backend = (*Backend)(nil)
