package provider

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/backend.go -package=mocks . Backend

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrUnauthorized is returned when the platform rejects the access token.
// Callers treat it as fatal: retrying with the same credential cannot succeed.
var ErrUnauthorized = errors.New("platform rejected credentials")

// Backend is the interface to a code-review platform.
// Implementations handle provider-specific API calls for the watcher:
// identifying the user, listing assigned merge requests, reading notes and
// posting a note back.
type Backend interface {
	// Name returns the short identifier for this backend (e.g., "gitlab", "github").
	Name() string

	// MatchesURL returns true if the given URL belongs to this backend's hosting service.
	MatchesURL(url string) bool

	// CurrentUser returns the authenticated user.
	CurrentUser(ctx context.Context) (*User, error)

	// ListAssignedMRs returns the open merge requests assigned to the user,
	// in the order the platform returns them.
	ListAssignedMRs(ctx context.Context, user *User) ([]MergeRequest, error)

	// ListNotes returns all discussion notes on a merge request in ascending
	// creation order.
	ListNotes(ctx context.Context, mr *MergeRequest) ([]Note, error)

	// PostNote posts a general comment on a merge request.
	PostNote(ctx context.Context, mr *MergeRequest, body string) error
}

// User identifies the authenticated platform account.
type User struct {
	ID       int64
	Username string
	Name     string
}

// MergeRequest contains the metadata the watcher needs about one MR.
type MergeRequest struct {
	// ID is the platform-global identifier, unique across projects.
	ID int64
	// IID is the project-scoped number shown to users (e.g., !42 or #42).
	IID int64
	// Project is the project path or numeric ID used for API routing.
	Project string
	Title   string
	WebURL  string
}

// Key returns the state-store key for the MR.
func (mr *MergeRequest) Key() string {
	return strconv.FormatInt(mr.ID, 10)
}

// Note is a single discussion comment on a merge request.
type Note struct {
	ID int64
	// Author is the display name of the note author.
	Author    string
	Body      string
	CreatedAt time.Time
	// System marks platform-generated notes (label changes, pushes).
	System bool
}
