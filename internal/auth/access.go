package auth

import (
	"context"

	"github.com/sydlexius/massaction/internal/host"
)

// RightName is the host profile right that governs the bridge.
const RightName = "pluginmassive_action_api"

// Right bits on RightName.
const (
	// RightRead allows using the API and the console.
	RightRead = 1
	// RightUpdate allows changing the bridge's settings and API clients.
	RightUpdate = 2
)

// Access is the request-scoped identity and authorization state. It is
// built once by the access middleware and passed to the bridge explicitly.
type Access struct {
	SessionToken string   `json:"-"`
	UserID       int      `json:"user_id"`
	UserName     string   `json:"user_name"`
	ProfileID    int      `json:"profile_id"`
	ProfileName  string   `json:"profile_name"`
	Rights       int      `json:"rights"`
	RemoteIP     string   `json:"remote_ip"`
	ClientIDs    []string `json:"client_ids,omitempty"`
}

// Can reports whether the profile holds every bit of right.
func (a *Access) Can(right int) bool {
	return a != nil && a.Rights&right == right
}

// Session returns the host session the caller acts under.
func (a *Access) Session() host.Session {
	if a == nil {
		return host.Session{}
	}
	return host.Session{Token: a.SessionToken}
}

// Identity is a short label for logs and job ownership.
func (a *Access) Identity() string {
	if a == nil {
		return ""
	}
	if a.UserName != "" {
		return a.UserName
	}
	return a.RemoteIP
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying a.
func NewContext(ctx context.Context, a *Access) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// FromContext returns the Access stored in ctx, if any.
func FromContext(ctx context.Context) (*Access, bool) {
	a, ok := ctx.Value(contextKey{}).(*Access)
	return a, ok && a != nil
}
