package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	github_ratelimit "github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/alanmeadows/mrwatch/internal/provider"
)

// searchPageSize is the GraphQL search page size (API maximum is 100).
const searchPageSize = 50

// Backend implements provider.Backend for GitHub and GitHub Enterprise.
// Pull requests play the role of merge requests and issue comments the role of notes.
type Backend struct {
	client     *gh.Client
	gqlOnce    sync.Once
	gqlClient  *githubv4.Client
	token      string
	graphqlURL string // empty means api.github.com
}

// NewBackend creates a GitHub backend. baseURL is https://github.com (or
// https://api.github.com) for github.com, otherwise the Enterprise host.
// The REST transport stack is:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (REST client with token auth)
func NewBackend(baseURL, token string) (*Backend, error) {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimiter := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimiter).WithAuthToken(token)

	b := &Backend{client: client, token: token}
	if isEnterprise(baseURL) {
		root := strings.TrimRight(baseURL, "/")
		ec, err := client.WithEnterpriseURLs(root+"/api/v3/", root+"/api/uploads/")
		if err != nil {
			return nil, fmt.Errorf("configuring GitHub Enterprise URL %s: %w", baseURL, err)
		}
		b.client = ec
		b.graphqlURL = root + "/api/graphql"
	}
	return b, nil
}

func isEnterprise(baseURL string) bool {
	if baseURL == "" {
		return false
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host != "github.com" && host != "www.github.com" && host != "api.github.com"
}

// Name returns "github".
func (b *Backend) Name() string {
	return "github"
}

// MatchesURL returns true if the URL belongs to GitHub.
func (b *Backend) MatchesURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "github.com" || host == "www.github.com" || host == "api.github.com"
}

// CurrentUser returns the account that owns the token.
func (b *Backend) CurrentUser(ctx context.Context) (*provider.User, error) {
	u, _, err := b.client.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", classify(err))
	}
	return &provider.User{ID: u.GetID(), Username: u.GetLogin(), Name: u.GetName()}, nil
}

// ListAssignedMRs finds open pull requests assigned to user through the
// GraphQL search API, which spans every repository the token can see.
func (b *Backend) ListAssignedMRs(ctx context.Context, user *provider.User) ([]provider.MergeRequest, error) {
	gql := b.getGraphQLClient(ctx)

	var query struct {
		Search struct {
			Nodes []struct {
				PullRequest struct {
					DatabaseID int64  `graphql:"databaseId"`
					Number     int64  `graphql:"number"`
					Title      string `graphql:"title"`
					URL        string `graphql:"url"`
					Repository struct {
						NameWithOwner string `graphql:"nameWithOwner"`
					} `graphql:"repository"`
				} `graphql:"... on PullRequest"`
			}
			PageInfo struct {
				EndCursor   githubv4.String
				HasNextPage bool
			}
		} `graphql:"search(query: $query, type: ISSUE, first: $first, after: $cursor)"`
	}

	variables := map[string]any{
		"query":  githubv4.String(fmt.Sprintf("is:pr is:open archived:false assignee:%s", user.Username)),
		"first":  githubv4.Int(searchPageSize),
		"cursor": (*githubv4.String)(nil),
	}

	var mrs []provider.MergeRequest
	for {
		if err := gql.Query(ctx, &query, variables); err != nil {
			return nil, fmt.Errorf("failed to search assigned pull requests: %w", classify(err))
		}
		for _, n := range query.Search.Nodes {
			pr := n.PullRequest
			if pr.DatabaseID == 0 {
				continue
			}
			mrs = append(mrs, provider.MergeRequest{
				ID:      pr.DatabaseID,
				IID:     pr.Number,
				Project: pr.Repository.NameWithOwner,
				Title:   pr.Title,
				WebURL:  pr.URL,
			})
		}
		if !query.Search.PageInfo.HasNextPage {
			break
		}
		variables["cursor"] = githubv4.NewString(query.Search.PageInfo.EndCursor)
	}
	return mrs, nil
}

// ListNotes returns the pull request's conversation comments, oldest first.
func (b *Backend) ListNotes(ctx context.Context, mr *provider.MergeRequest) ([]provider.Note, error) {
	owner, repo, err := splitProject(mr.Project)
	if err != nil {
		return nil, err
	}

	var notes []provider.Note
	opts := &gh.IssueListCommentsOptions{
		Sort:        gh.Ptr("created"),
		Direction:   gh.Ptr("asc"),
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		comments, resp, err := b.client.Issues.ListComments(ctx, owner, repo, int(mr.IID), opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list comments for #%d: %w", mr.IID, classify(err))
		}
		for _, c := range comments {
			author := c.GetUser().GetName()
			if author == "" {
				author = c.GetUser().GetLogin()
			}
			notes = append(notes, provider.Note{
				ID:        c.GetID(),
				Author:    author,
				Body:      c.GetBody(),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].CreatedAt.Before(notes[j].CreatedAt)
	})
	return notes, nil
}

// PostNote posts a general comment on the pull request.
func (b *Backend) PostNote(ctx context.Context, mr *provider.MergeRequest, body string) error {
	owner, repo, err := splitProject(mr.Project)
	if err != nil {
		return err
	}
	_, _, err = b.client.Issues.CreateComment(ctx, owner, repo, int(mr.IID), &gh.IssueComment{
		Body: gh.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("failed to post comment on #%d: %w", mr.IID, classify(err))
	}
	return nil
}

// getGraphQLClient returns (and lazily creates) the GitHub GraphQL client.
// Thread-safe via sync.Once.
func (b *Backend) getGraphQLClient(ctx context.Context) *githubv4.Client {
	b.gqlOnce.Do(func() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: b.token})
		httpClient := oauth2.NewClient(ctx, ts)
		if b.graphqlURL != "" {
			b.gqlClient = githubv4.NewEnterpriseClient(b.graphqlURL, httpClient)
		} else {
			b.gqlClient = githubv4.NewClient(httpClient)
		}
	})
	return b.gqlClient
}

func splitProject(project string) (string, string, error) {
	parts := strings.SplitN(project, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository %q, expected owner/repo", project)
	}
	return parts[0], parts[1], nil
}

// classify wraps authentication failures in provider.ErrUnauthorized.
func classify(err error) error {
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %v", provider.ErrUnauthorized, err)
	}
	if strings.Contains(err.Error(), "401 Unauthorized") {
		return fmt.Errorf("%w: %v", provider.ErrUnauthorized, err)
	}
	return err
}
