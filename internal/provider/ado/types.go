package ado

import "time"

// adoPullRequest maps to the ADO API pull request JSON response.
type adoPullRequest struct {
	PullRequestID int64       `json:"pullRequestId"`
	Title         string      `json:"title"`
	Status        string      `json:"status"`
	CreatedBy     adoIdentity `json:"createdBy"`
	Repository    struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Project struct {
			Name string `json:"name"`
		} `json:"project"`
	} `json:"repository"`
	Links struct {
		Web struct {
			Href string `json:"href"`
		} `json:"web"`
	} `json:"_links"`
}

// adoThread represents a comment thread on a pull request.
type adoThread struct {
	ID            int          `json:"id"`
	Status        any          `json:"status"`
	Comments      []adoComment `json:"comments"`
	PublishedDate time.Time    `json:"publishedDate"`
	IsDeleted     bool         `json:"isDeleted"`
}

// adoComment represents a single comment within a thread.
type adoComment struct {
	ID            int         `json:"id"`
	Content       string      `json:"content"`
	Author        adoIdentity `json:"author"`
	CommentType   string      `json:"commentType"`
	PublishedDate time.Time   `json:"publishedDate"`
	IsDeleted     bool        `json:"isDeleted"`
}

// adoIdentity represents a user identity in ADO.
type adoIdentity struct {
	DisplayName string `json:"displayName"`
	ID          string `json:"id"`
	UniqueName  string `json:"uniqueName"`
}

// adoError represents an error response from the ADO API.
type adoError struct {
	Message   string `json:"message"`
	TypeKey   string `json:"typeKey"`
	ErrorCode int    `json:"errorCode"`
}

// adoThreadList is the envelope for the threads list API response.
type adoThreadList struct {
	Value []adoThread `json:"value"`
	Count int         `json:"count"`
}

// adoPullRequestList is the envelope for the pull requests list API response.
type adoPullRequestList struct {
	Value []adoPullRequest `json:"value"`
	Count int              `json:"count"`
}

// adoConnectionData is the response from the connectiondata endpoint.
type adoConnectionData struct {
	AuthenticatedUser struct {
		ID                  string `json:"id"`
		ProviderDisplayName string `json:"providerDisplayName"`
		Properties          struct {
			Account struct {
				Value string `json:"$value"`
			} `json:"Account"`
		} `json:"properties"`
	} `json:"authenticatedUser"`
}
