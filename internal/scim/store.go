package scim

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Store defines resource persistence. All queries are tenant-scoped by
// endpoint id; group membership writes happen inside the same transaction
// as the owning resource so a group is never observed with a partial member
// set.
type Store interface {
	Create(ctx context.Context, r *Resource, members []Member) error
	Get(ctx context.Context, endpointID, resourceType, scimID string) (*Resource, error)
	Update(ctx context.Context, r *Resource, members []Member, replaceMembers bool) error
	Delete(ctx context.Context, endpointID, resourceType, scimID string) error
	List(ctx context.Context, endpointID, resourceType string, f *Filter, offset, limit int) ([]Resource, int, error)
	// FindConflict returns the scimId of a resource in the tenant whose
	// attribute equals value case-insensitively, excluding excludeScimID.
	// Empty when there is no conflict.
	FindConflict(ctx context.Context, endpointID, resourceType, attribute, value, excludeScimID string) (string, error)
	Members(ctx context.Context, groupResourceID string) ([]Member, error)
}

type sqlStore struct {
	db *sqlx.DB
}

// NewStore creates a new resource store.
func NewStore(db *sqlx.DB) Store {
	return &sqlStore{db: db}
}

const uniqueViolation = "23505"

func translateUnique(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

const resourceColumns = `id, endpoint_id, resource_type, scim_id, external_id,
	user_name, display_name, active, payload, version, created_at, updated_at`

func (s *sqlStore) Create(ctx context.Context, r *Resource, members []Member) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRowxContext(ctx,
		`INSERT INTO resources (endpoint_id, resource_type, scim_id, external_id,
			user_name, display_name, active, payload, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		r.EndpointID, r.Type, r.ScimID, r.ExternalID,
		r.UserName, r.DisplayName, r.Active, r.Payload, r.Version, r.CreatedAt, r.UpdatedAt,
	).Scan(&r.ID)
	if err != nil {
		return translateUnique(err)
	}

	if err := s.insertMembers(ctx, tx, r, members); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) Get(ctx context.Context, endpointID, resourceType, scimID string) (*Resource, error) {
	var r Resource
	err := s.db.GetContext(ctx, &r,
		`SELECT `+resourceColumns+` FROM resources
		 WHERE endpoint_id = $1 AND resource_type = $2 AND scim_id = $3`,
		endpointID, resourceType, scimID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *sqlStore) Update(ctx context.Context, r *Resource, members []Member, replaceMembers bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE resources
		 SET external_id = $1, user_name = $2, display_name = $3, active = $4,
		     payload = $5, version = $6, updated_at = $7
		 WHERE id = $8`,
		r.ExternalID, r.UserName, r.DisplayName, r.Active,
		r.Payload, r.Version, r.UpdatedAt, r.ID)
	if err != nil {
		return translateUnique(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	if replaceMembers {
		// Membership is always delete + recreate, never mutated in place.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM resource_members WHERE group_resource_id = $1`, r.ID); err != nil {
			return err
		}
		if err := s.insertMembers(ctx, tx, r, members); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// insertMembers writes the member set, resolving each member value to an
// internal resource id best effort: unresolved references persist with a
// null member_resource_id.
func (s *sqlStore) insertMembers(ctx context.Context, tx *sqlx.Tx, r *Resource, members []Member) error {
	for _, m := range members {
		var memberID sql.NullString
		err := tx.QueryRowxContext(ctx,
			`SELECT id FROM resources WHERE endpoint_id = $1 AND scim_id = $2`,
			r.EndpointID, m.Value,
		).Scan(&memberID.String)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		default:
			memberID.Valid = true
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO resource_members (group_resource_id, member_resource_id, value, type, display)
			 VALUES ($1, $2, $3, $4, $5)`,
			r.ID, memberID, m.Value, m.Type, m.Display); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) Delete(ctx context.Context, endpointID, resourceType, scimID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM resources
		 WHERE endpoint_id = $1 AND resource_type = $2 AND scim_id = $3`,
		endpointID, resourceType, scimID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// filterColumns maps canonical filter attributes to their predicate SQL.
var filterColumns = map[string]string{
	"userName":    `user_name = $3`,
	"displayName": `display_name = $3`,
	"externalId":  `lower(external_id) = lower($3)`,
	"id":          `scim_id = $3`,
	"active":      `active = ($3 = 'true')`,
}

func (s *sqlStore) List(ctx context.Context, endpointID, resourceType string, f *Filter, offset, limit int) ([]Resource, int, error) {
	where := `endpoint_id = $1 AND resource_type = $2`
	args := []any{endpointID, resourceType}
	if f != nil {
		pred, ok := filterColumns[f.Attribute]
		if !ok {
			return nil, 0, InvalidFilter("unsupported filter attribute: " + f.Attribute)
		}
		where += ` AND ` + pred
		args = append(args, f.Value)
	}

	var total int
	if err := s.db.GetContext(ctx, &total,
		`SELECT count(*) FROM resources WHERE `+where, args...); err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		return nil, total, nil
	}

	query := fmt.Sprintf(
		`SELECT `+resourceColumns+` FROM resources WHERE `+where+
			` ORDER BY created_at LIMIT $%d OFFSET $%d`,
		len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var out []Resource
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// conflictColumns maps uniqueness attributes to their predicate SQL. citext
// columns compare case-insensitively by themselves.
var conflictColumns = map[string]string{
	"userName":    `user_name = $3`,
	"displayName": `display_name = $3`,
	"externalId":  `lower(external_id) = lower($3)`,
}

func (s *sqlStore) FindConflict(ctx context.Context, endpointID, resourceType, attribute, value, excludeScimID string) (string, error) {
	pred, ok := conflictColumns[attribute]
	if !ok {
		return "", fmt.Errorf("not a uniqueness attribute: %s", attribute)
	}
	var scimID string
	err := s.db.GetContext(ctx, &scimID,
		`SELECT scim_id FROM resources
		 WHERE endpoint_id = $1 AND resource_type = $2 AND `+pred+` AND scim_id <> $4
		 LIMIT 1`,
		endpointID, resourceType, value, excludeScimID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return scimID, nil
}

func (s *sqlStore) Members(ctx context.Context, groupResourceID string) ([]Member, error) {
	var out []Member
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, group_resource_id, member_resource_id, value, type, display, created_at
		 FROM resource_members WHERE group_resource_id = $1 ORDER BY created_at`,
		groupResourceID)
	return out, err
}
