package requestlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
)

// ErrNotFound is returned when a log entry does not exist.
var ErrNotFound = errors.New("request log entry not found")

// Entry is one captured tenant request. Bodies are stored verbatim apart
// from truncation; the Authorization header is redacted before persistence.
type Entry struct {
	ID              string         `json:"id" db:"id"`
	EndpointID      *string        `json:"endpointId" db:"endpoint_id"`
	Method          string         `json:"method" db:"method"`
	URL             string         `json:"url" db:"url"`
	Status          int            `json:"status" db:"status"`
	DurationMS      int64          `json:"durationMs" db:"duration_ms"`
	RequestHeaders  types.JSONText `json:"requestHeaders" db:"request_headers"`
	RequestBody     *string        `json:"requestBody" db:"request_body"`
	ResponseHeaders types.JSONText `json:"responseHeaders" db:"response_headers"`
	ResponseBody    *string        `json:"responseBody" db:"response_body"`
	ErrorMessage    *string        `json:"errorMessage" db:"error_message"`
	ErrorStack      *string        `json:"errorStack" db:"error_stack"`
	Identifier      *string        `json:"identifier" db:"identifier"`
	CreatedAt       time.Time      `json:"createdAt" db:"created_at"`
	Keepalive       bool           `json:"keepalive" db:"-"`
}

// keepalive marks the provisioning engines' periodic connectivity probes: a
// successful filtered GET that names no resource of interest.
func (e *Entry) keepalive() bool {
	return e.Method == "GET" &&
		e.Status < 400 &&
		(e.Identifier == nil || *e.Identifier == "") &&
		strings.Contains(e.URL, "filter=")
}

// ListFilter narrows an admin log listing.
type ListFilter struct {
	Page          int
	PageSize      int
	EndpointID    string
	Method        string
	Status        int
	HideKeepalive bool
	Search        string
	Since         *time.Time
	Until         *time.Time
}

// Store defines request-log persistence.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
	List(ctx context.Context, f ListFilter) ([]Entry, int, error)
	Get(ctx context.Context, id string) (*Entry, error)
	Clear(ctx context.Context, endpointID string) (int64, error)
}

type sqlStore struct {
	db *sqlx.DB
}

// NewStore creates a new request-log store.
func NewStore(db *sqlx.DB) Store {
	return &sqlStore{db: db}
}

func (s *sqlStore) Insert(ctx context.Context, e *Entry) error {
	return s.db.QueryRowxContext(ctx,
		`INSERT INTO request_logs (endpoint_id, method, url, status, duration_ms,
			request_headers, request_body, response_headers, response_body,
			error_message, error_stack, identifier)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id, created_at`,
		e.EndpointID, e.Method, e.URL, e.Status, e.DurationMS,
		e.RequestHeaders, e.RequestBody, e.ResponseHeaders, e.ResponseBody,
		e.ErrorMessage, e.ErrorStack, e.Identifier,
	).Scan(&e.ID, &e.CreatedAt)
}

const logColumns = `id, endpoint_id, method, url, status, duration_ms,
	request_headers, request_body, response_headers, response_body,
	error_message, error_stack, identifier, created_at`

func (s *sqlStore) List(ctx context.Context, f ListFilter) ([]Entry, int, error) {
	where := []string{"true"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.EndpointID != "" {
		where = append(where, "endpoint_id = "+arg(f.EndpointID))
	}
	if f.Method != "" {
		where = append(where, "method = "+arg(strings.ToUpper(f.Method)))
	}
	if f.Status != 0 {
		where = append(where, "status = "+arg(f.Status))
	}
	if f.Since != nil {
		where = append(where, "created_at >= "+arg(*f.Since))
	}
	if f.Until != nil {
		where = append(where, "created_at <= "+arg(*f.Until))
	}
	if f.Search != "" {
		p := arg("%" + f.Search + "%")
		where = append(where, fmt.Sprintf(
			"(url ILIKE %s OR identifier ILIKE %s OR request_body ILIKE %s)", p, p, p))
	}
	if f.HideKeepalive {
		where = append(where,
			`NOT (method = 'GET' AND status < 400
				AND coalesce(identifier, '') = ''
				AND url LIKE '%filter=%')`)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.GetContext(ctx, &total,
		`SELECT count(*) FROM request_logs WHERE `+cond, args...); err != nil {
		return nil, 0, err
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	size := f.PageSize
	if size < 1 {
		size = 50
	}
	if size > 200 {
		size = 200
	}
	query := fmt.Sprintf(
		`SELECT `+logColumns+` FROM request_logs WHERE `+cond+
			` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		len(args)+1, len(args)+2)
	args = append(args, size, (page-1)*size)

	var out []Entry
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, 0, err
	}
	for i := range out {
		out[i].Keepalive = out[i].keepalive()
	}
	return out, total, nil
}

func (s *sqlStore) Get(ctx context.Context, id string) (*Entry, error) {
	var e Entry
	err := s.db.GetContext(ctx, &e,
		`SELECT `+logColumns+` FROM request_logs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Keepalive = e.keepalive()
	return &e, nil
}

func (s *sqlStore) Clear(ctx context.Context, endpointID string) (int64, error) {
	query := `DELETE FROM request_logs`
	var args []any
	if endpointID != "" {
		query += ` WHERE endpoint_id = $1`
		args = append(args, endpointID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
