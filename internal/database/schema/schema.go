// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package schema holds the DDL for the artifact repository tables and
// applies it idempotently at startup.
package schema

import (
	"context"
	"database/sql"

	"github.com/juju/errors"

	"github.com/go-glare/glare/internal/database"
)

// statements is the full schema, ordered so foreign keys resolve. The
// UNIQUE constraint on artifact_blob is the blob upload lease arbiter:
// a second concurrent insert for the same slot fails the constraint.
var statements = []string{`
CREATE TABLE IF NOT EXISTS artifact (
    id            TEXT PRIMARY KEY,
    type_name     TEXT NOT NULL,
    name          TEXT NOT NULL,
    version       TEXT NOT NULL,
    version_sort  TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    visibility    TEXT NOT NULL DEFAULT 'private',
    status        TEXT NOT NULL DEFAULT 'queued',
    owner         TEXT NOT NULL,
    lock_version  INTEGER NOT NULL DEFAULT 1,
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL,
    activated_at  TEXT
)`, `
CREATE INDEX IF NOT EXISTS idx_artifact_catalog
    ON artifact (type_name, status, visibility, owner)`, `
CREATE INDEX IF NOT EXISTS idx_artifact_name_version
    ON artifact (type_name, name, version_sort)`, `
CREATE TABLE IF NOT EXISTS artifact_property (
    id            TEXT PRIMARY KEY,
    artifact_id   TEXT NOT NULL REFERENCES artifact (id) ON DELETE CASCADE,
    name          TEXT NOT NULL,
    container     TEXT NOT NULL DEFAULT 'scalar',
    key_name      TEXT NOT NULL DEFAULT '',
    position      INTEGER NOT NULL DEFAULT -1,
    string_value  TEXT,
    int_value     INTEGER,
    numeric_value REAL,
    bool_value    INTEGER
)`, `
CREATE INDEX IF NOT EXISTS idx_property_artifact
    ON artifact_property (artifact_id, name)`, `
CREATE INDEX IF NOT EXISTS idx_property_lookup
    ON artifact_property (name, key_name)`, `
CREATE TABLE IF NOT EXISTS artifact_blob (
    id           TEXT PRIMARY KEY,
    artifact_id  TEXT NOT NULL REFERENCES artifact (id) ON DELETE CASCADE,
    name         TEXT NOT NULL,
    key_name     TEXT NOT NULL DEFAULT '',
    is_dict      INTEGER NOT NULL DEFAULT 0,
    url          TEXT,
    size         INTEGER,
    checksum     TEXT,
    external     INTEGER NOT NULL DEFAULT 0,
    status       TEXT NOT NULL,
    content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
    CONSTRAINT uniq_blob_slot UNIQUE (artifact_id, name, key_name)
)`, `
CREATE INDEX IF NOT EXISTS idx_blob_status ON artifact_blob (status)`, `
CREATE TABLE IF NOT EXISTS artifact_tag (
    id          TEXT PRIMARY KEY,
    artifact_id TEXT NOT NULL REFERENCES artifact (id) ON DELETE CASCADE,
    value       TEXT NOT NULL,
    CONSTRAINT uniq_artifact_tag UNIQUE (artifact_id, value)
)`,
}

// Ensure applies the schema, creating any missing tables and indices.
func Ensure(ctx context.Context, runner database.TxnRunner) error {
	return errors.Annotate(runner.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return errors.Annotatef(err, "applying schema statement %q", stmt[:40])
			}
		}
		return nil
	}), "ensuring database schema")
}
