package database

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// schema is executed at startup. Every statement is idempotent so restarts
// are safe. citext gives case-insensitive uniqueness at the index level;
// the unique partial indexes are what turn racing inserts into a
// unique-violation instead of a duplicate row.
var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS citext`,
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,

	`CREATE TABLE IF NOT EXISTS endpoints (
		id           uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		name         citext NOT NULL UNIQUE,
		display_name text NOT NULL DEFAULT '',
		description  text NOT NULL DEFAULT '',
		config       jsonb NOT NULL DEFAULT '{}',
		active       boolean NOT NULL DEFAULT true,
		created_at   timestamptz NOT NULL DEFAULT now(),
		updated_at   timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS resources (
		id            uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		endpoint_id   uuid NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
		resource_type text NOT NULL,
		scim_id       text NOT NULL,
		external_id   text,
		user_name     citext,
		display_name  citext,
		active        boolean NOT NULL DEFAULT true,
		payload       jsonb NOT NULL DEFAULT '{}',
		version       integer NOT NULL DEFAULT 1,
		created_at    timestamptz NOT NULL DEFAULT now(),
		updated_at    timestamptz NOT NULL DEFAULT now(),
		UNIQUE (endpoint_id, scim_id)
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS resources_user_name_uniq
		ON resources (endpoint_id, user_name)
		WHERE resource_type = 'User' AND user_name IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS resources_display_name_uniq
		ON resources (endpoint_id, display_name)
		WHERE resource_type = 'Group' AND display_name IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS resources_external_id_uniq
		ON resources (endpoint_id, resource_type, lower(external_id))
		WHERE external_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS resource_members (
		id                 uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		group_resource_id  uuid NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
		member_resource_id uuid REFERENCES resources(id) ON DELETE SET NULL,
		value              text NOT NULL,
		type               text NOT NULL DEFAULT 'User',
		display            text NOT NULL DEFAULT '',
		created_at         timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS resource_members_group_idx
		ON resource_members (group_resource_id)`,

	`CREATE TABLE IF NOT EXISTS request_logs (
		id               uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		endpoint_id      uuid REFERENCES endpoints(id) ON DELETE SET NULL,
		method           text NOT NULL,
		url              text NOT NULL,
		status           integer,
		duration_ms      bigint,
		request_headers  jsonb NOT NULL DEFAULT '{}',
		request_body     text,
		response_headers jsonb,
		response_body    text,
		error_message    text,
		error_stack      text,
		identifier       text,
		created_at       timestamptz NOT NULL DEFAULT now()
	)`,
	`ALTER TABLE request_logs ADD COLUMN IF NOT EXISTS error_stack text`,
	`CREATE INDEX IF NOT EXISTS request_logs_endpoint_idx
		ON request_logs (endpoint_id, created_at DESC)`,
}

// Migrate applies the schema. Safe to call on every start.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
