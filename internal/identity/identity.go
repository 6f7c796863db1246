// internal/identity/identity.go

package identity

import (
	"context"
	"errors"
)

// PrincipalID is the authentication-layer identity of a user. Direct
// messages are keyed by it.
type PrincipalID string

// ProfileID is the social-graph identity of a user. Group membership,
// channel messages and call logs are keyed by it. The two id spaces are
// distinct types on purpose: passing one where the other is expected is a
// compile error, not a runtime bug.
type ProfileID string

func (p PrincipalID) String() string { return string(p) }
func (p ProfileID) String() string   { return string(p) }

// ErrNotFound is returned when no profile row exists for the given key.
var ErrNotFound = errors.New("identity: profile not found")

// Profile is the display identity resolved for either key
type Profile struct {
	ID          ProfileID   `json:"id" db:"id"`
	PrincipalID PrincipalID `json:"principal_id" db:"principal_id"`
	Username    string      `json:"username" db:"username"`
	DisplayName string      `json:"display_name" db:"display_name"`
	AvatarURL   *string     `json:"avatar_url,omitempty" db:"avatar_url"`
}

// Name returns the best available display string for the profile
func (p *Profile) Name() string {
	if p == nil {
		return ""
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}

// Resolver looks up display profiles by either identity key. Batch variants
// issue a single query; callers building lists must use them instead of
// looping over the single-row lookups.
type Resolver interface {
	ByPrincipal(ctx context.Context, id PrincipalID) (*Profile, error)
	ByPrincipals(ctx context.Context, ids []PrincipalID) (map[PrincipalID]*Profile, error)
	ByProfile(ctx context.Context, id ProfileID) (*Profile, error)
	ByProfiles(ctx context.Context, ids []ProfileID) (map[ProfileID]*Profile, error)
}
