// internal/identity/postgres.go

package identity

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

type postgresResolver struct {
	db *sqlx.DB
}

// NewPostgresResolver creates a Resolver backed by the profiles table
func NewPostgresResolver(db *sqlx.DB) Resolver {
	return &postgresResolver{db: db}
}

func (r *postgresResolver) ByPrincipal(ctx context.Context, id PrincipalID) (*Profile, error) {
	query := `
        SELECT id, principal_id, username, display_name, avatar_url
        FROM profiles
        WHERE principal_id = $1`

	var profile Profile
	if err := r.db.GetContext(ctx, &profile, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &profile, nil
}

func (r *postgresResolver) ByProfile(ctx context.Context, id ProfileID) (*Profile, error) {
	query := `
        SELECT id, principal_id, username, display_name, avatar_url
        FROM profiles
        WHERE id = $1`

	var profile Profile
	if err := r.db.GetContext(ctx, &profile, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// ByPrincipals resolves a batch of principal ids in one query. Ids with no
// profile row are simply absent from the result map.
func (r *postgresResolver) ByPrincipals(ctx context.Context, ids []PrincipalID) (map[PrincipalID]*Profile, error) {
	result := make(map[PrincipalID]*Profile, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`
        SELECT id, principal_id, username, display_name, avatar_url
        FROM profiles
        WHERE principal_id IN (?)`, ids)
	if err != nil {
		return nil, err
	}

	var profiles []Profile
	if err := r.db.SelectContext(ctx, &profiles, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	for i := range profiles {
		p := profiles[i]
		result[p.PrincipalID] = &p
	}
	return result, nil
}

// ByProfiles resolves a batch of profile ids in one query
func (r *postgresResolver) ByProfiles(ctx context.Context, ids []ProfileID) (map[ProfileID]*Profile, error) {
	result := make(map[ProfileID]*Profile, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`
        SELECT id, principal_id, username, display_name, avatar_url
        FROM profiles
        WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}

	var profiles []Profile
	if err := r.db.SelectContext(ctx, &profiles, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	for i := range profiles {
		p := profiles[i]
		result[p.ID] = &p
	}
	return result, nil
}
