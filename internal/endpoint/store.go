package endpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Store errors.
var (
	ErrNotFound  = errors.New("endpoint not found")
	ErrNameTaken = errors.New("endpoint name already in use")
)

// Store defines endpoint persistence. Deleting an endpoint cascades to its
// resources and members and nulls the endpoint on its request logs; both
// happen at the schema level.
type Store interface {
	Create(ctx context.Context, e *Endpoint) error
	Get(ctx context.Context, id string) (*Endpoint, error)
	List(ctx context.Context) ([]Endpoint, error)
	Update(ctx context.Context, e *Endpoint) error
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context, id string) (Stats, error)
}

type sqlStore struct {
	db *sqlx.DB
}

// NewStore creates a new endpoint store.
func NewStore(db *sqlx.DB) Store {
	return &sqlStore{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (s *sqlStore) Create(ctx context.Context, e *Endpoint) error {
	cfg, err := json.Marshal(e.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	err = s.db.QueryRowxContext(ctx,
		`INSERT INTO endpoints (name, display_name, description, config, active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		e.Name, e.DisplayName, e.Description, cfg, e.Active,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrNameTaken
	}
	return err
}

func (s *sqlStore) Get(ctx context.Context, id string) (*Endpoint, error) {
	var e Endpoint
	err := s.db.GetContext(ctx, &e,
		`SELECT id, name, display_name, description, config, active, created_at, updated_at
		 FROM endpoints WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := e.decodeConfig(); err != nil {
		return nil, fmt.Errorf("decode config for endpoint %s: %w", id, err)
	}
	return &e, nil
}

func (s *sqlStore) List(ctx context.Context) ([]Endpoint, error) {
	var out []Endpoint
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, name, display_name, description, config, active, created_at, updated_at
		 FROM endpoints ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if err := out[i].decodeConfig(); err != nil {
			return nil, fmt.Errorf("decode config for endpoint %s: %w", out[i].ID, err)
		}
	}
	return out, nil
}

func (s *sqlStore) Update(ctx context.Context, e *Endpoint) error {
	cfg, err := json.Marshal(e.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE endpoints
		 SET display_name = $1, description = $2, config = $3, active = $4, updated_at = now()
		 WHERE id = $5`,
		e.DisplayName, e.Description, cfg, e.Active, e.ID)
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

func (s *sqlStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id = $1`, id)
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

func (s *sqlStore) Stats(ctx context.Context, id string) (Stats, error) {
	var st Stats
	err := s.db.GetContext(ctx, &st,
		`SELECT
			(SELECT count(*) FROM resources WHERE endpoint_id = $1 AND resource_type = 'User')  AS users,
			(SELECT count(*) FROM resources WHERE endpoint_id = $1 AND resource_type = 'Group') AS groups,
			(SELECT count(*) FROM request_logs WHERE endpoint_id = $1)                          AS request_logs`,
		id)
	return st, err
}
