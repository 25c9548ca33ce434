// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package state is the persistence gateway for artifacts. It owns the
// durable record: transactional CRUD, name/version uniqueness, the
// optimistic lock token, blob slot leases and keyset-paged listing.
package state

import (
	"context"
	"time"

	"github.com/canonical/sqlair"
	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/go-glare/glare/core/semversion"
	"github.com/go-glare/glare/domain"
	"github.com/go-glare/glare/domain/artifact"
	arterrors "github.com/go-glare/glare/domain/artifact/errors"
	"github.com/go-glare/glare/internal/database"
)

// ReadScope describes who is reading, for visibility scoping.
type ReadScope struct {
	Tenant    string
	Admin     bool
	Anonymous bool
}

// State implements the artifact persistence gateway over SQLite.
type State struct {
	*domain.StateBase
}

// NewState returns a State over the given transaction runner.
func NewState(runner database.TxnRunner) *State {
	return &State{StateBase: domain.NewStateBase(runner)}
}

func newID() string {
	return uuid.NewString()
}

// visibleTo reports whether the loaded artifact may be seen by the
// reader. Deleted artifacts are invisible to everyone; deactivated
// artifacts only to their owner and admins.
func visibleTo(af *artifact.Artifact, scope ReadScope) bool {
	if af.Status == artifact.StatusDeleted {
		return false
	}
	if scope.Admin {
		return true
	}
	if !scope.Anonymous && scope.Tenant != "" && af.Owner == scope.Tenant {
		return true
	}
	return af.Visibility == artifact.VisibilityPublic && af.Status != artifact.StatusDeactivated
}

// Create inserts a new artifact record with its properties and tags in
// one transaction. A live artifact with the same (type, name, version,
// owner) is a Conflict.
func (st *State) Create(ctx context.Context, af *artifact.Artifact) error {
	row, err := rowForArtifact(af)
	if err != nil {
		return errors.Trace(err)
	}

	insertStmt, err := st.Prepare(`
INSERT INTO artifact (id, type_name, name, version, version_sort, description,
                      visibility, status, owner, lock_version, created_at,
                      updated_at, activated_at)
VALUES ($artifactRow.*)`, artifactRow{})
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(st.Runner().Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		if err := st.checkUnique(ctx, tx, af); err != nil {
			return errors.Trace(err)
		}
		if err := tx.Query(ctx, insertStmt, row).Run(); err != nil {
			if database.IsConstraintError(err) {
				return errors.Annotatef(arterrors.Conflict, "artifact %q", af.ID)
			}
			return errors.Trace(err)
		}
		if err := st.insertProperties(ctx, tx, af.ID, af.Properties); err != nil {
			return errors.Trace(err)
		}
		if err := st.insertTags(ctx, tx, af.ID, af.Tags); err != nil {
			return errors.Trace(err)
		}
		return nil
	}))
}

// checkUnique enforces the name/version uniqueness invariants inside
// the mutation transaction: per owner among live artifacts, and
// globally among public ones.
func (st *State) checkUnique(ctx context.Context, tx *sqlair.TX, af *artifact.Artifact) error {
	type uniqArgs struct {
		ID       string `db:"id"`
		TypeName string `db:"type_name"`
		Name     string `db:"name"`
		Version  string `db:"version"`
		Owner    string `db:"owner"`
	}
	args := uniqArgs{
		ID:       af.ID,
		TypeName: af.TypeName,
		Name:     af.Name,
		Version:  af.Version,
		Owner:    af.Owner,
	}

	ownerStmt, err := st.Prepare(`
SELECT COUNT(*) AS &countResult.count
FROM   artifact
WHERE  type_name = $uniqArgs.type_name
AND    name = $uniqArgs.name
AND    version = $uniqArgs.version
AND    owner = $uniqArgs.owner
AND    status != 'deleted'
AND    id != $uniqArgs.id`, uniqArgs{}, countResult{})
	if err != nil {
		return errors.Trace(err)
	}
	var count countResult
	if err := tx.Query(ctx, ownerStmt, args).Get(&count); err != nil {
		return errors.Trace(err)
	}
	if count.Count > 0 {
		return errors.Annotatef(arterrors.Conflict,
			"artifact with name %q and version %q already exists", af.Name, af.Version)
	}

	if af.Visibility != artifact.VisibilityPublic {
		return nil
	}
	publicStmt, err := st.Prepare(`
SELECT COUNT(*) AS &countResult.count
FROM   artifact
WHERE  type_name = $uniqArgs.type_name
AND    name = $uniqArgs.name
AND    version = $uniqArgs.version
AND    visibility = 'public'
AND    status != 'deleted'
AND    id != $uniqArgs.id`, uniqArgs{}, countResult{})
	if err != nil {
		return errors.Trace(err)
	}
	if err := tx.Query(ctx, publicStmt, args).Get(&count); err != nil {
		return errors.Trace(err)
	}
	if count.Count > 0 {
		return errors.Annotatef(arterrors.Conflict,
			"public artifact with name %q and version %q already exists", af.Name, af.Version)
	}
	return nil
}

func rowForArtifact(af *artifact.Artifact) (artifactRow, error) {
	version, err := semversion.Parse(af.Version)
	if err != nil {
		return artifactRow{}, errors.Trace(err)
	}
	row := artifactRow{
		ID:          af.ID,
		TypeName:    af.TypeName,
		Name:        af.Name,
		Version:     version.String(),
		VersionSort: version.SortKey(),
		Description: af.Description,
		Visibility:  string(af.Visibility),
		Status:      string(af.Status),
		Owner:       af.Owner,
		LockVersion: af.LockVersion,
		CreatedAt:   af.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:   af.UpdatedAt.UTC().Format(timeFormat),
	}
	if af.ActivatedAt != nil {
		row.ActivatedAt.String = af.ActivatedAt.UTC().Format(timeFormat)
		row.ActivatedAt.Valid = true
	}
	return row, nil
}

func (st *State) insertProperties(ctx context.Context, tx *sqlair.TX, artifactID string, props map[string]any) error {
	insertStmt, err := st.Prepare(`
INSERT INTO artifact_property (id, artifact_id, name, container, key_name,
                               position, string_value, int_value,
                               numeric_value, bool_value)
VALUES ($propertyRow.*)`, propertyRow{})
	if err != nil {
		return errors.Trace(err)
	}
	for name, value := range props {
		for _, row := range propertyRowsFor(artifactID, name, value, newID) {
			if err := tx.Query(ctx, insertStmt, row).Run(); err != nil {
				return errors.Annotatef(err, "inserting property %q", name)
			}
		}
	}
	return nil
}

func (st *State) insertTags(ctx context.Context, tx *sqlair.TX, artifactID string, tags []string) error {
	insertStmt, err := st.Prepare(`
INSERT INTO artifact_tag (id, artifact_id, value)
VALUES ($tagRow.*)`, tagRow{})
	if err != nil {
		return errors.Trace(err)
	}
	for _, tag := range tags {
		row := tagRow{ID: newID(), ArtifactID: artifactID, Value: tag}
		if err := tx.Query(ctx, insertStmt, row).Run(); err != nil {
			if database.IsConstraintError(err) {
				return errors.Annotatef(arterrors.BadRequest, "duplicate tag %q", tag)
			}
			return errors.Trace(err)
		}
	}
	return nil
}

// Get loads the full artifact record. Records outside the reader's
// visibility scope surface ArtifactNotFound, never Forbidden.
func (st *State) Get(ctx context.Context, id string, scope ReadScope) (*artifact.Artifact, error) {
	var af *artifact.Artifact
	err := st.Runner().Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		loaded, err := st.loadArtifact(ctx, tx, id)
		if err != nil {
			return errors.Trace(err)
		}
		af = loaded
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !visibleTo(af, scope) {
		return nil, errors.Annotatef(arterrors.ArtifactNotFound, "artifact %q", id)
	}
	return af, nil
}

func (st *State) loadArtifact(ctx context.Context, tx *sqlair.TX, id string) (*artifact.Artifact, error) {
	arg := idArg{ID: id}

	rowStmt, err := st.Prepare(`
SELECT &artifactRow.* FROM artifact WHERE id = $idArg.id`, idArg{}, artifactRow{})
	if err != nil {
		return nil, errors.Trace(err)
	}
	var row artifactRow
	if err := tx.Query(ctx, rowStmt, arg).Get(&row); err != nil {
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil, errors.Annotatef(arterrors.ArtifactNotFound, "artifact %q", id)
		}
		return nil, errors.Trace(err)
	}
	af, err := row.toArtifact()
	if err != nil {
		return nil, errors.Trace(err)
	}

	propStmt, err := st.Prepare(`
SELECT &propertyRow.*
FROM   artifact_property
WHERE  artifact_id = $idArg.id
ORDER BY name, position`, idArg{}, propertyRow{})
	if err != nil {
		return nil, errors.Trace(err)
	}
	var props []propertyRow
	if err := tx.Query(ctx, propStmt, arg).GetAll(&props); err != nil && !errors.Is(err, sqlair.ErrNoRows) {
		return nil, errors.Trace(err)
	}
	foldProperties(props, af)

	blobStmt, err := st.Prepare(`
SELECT &blobRow.*
FROM   artifact_blob
WHERE  artifact_id = $idArg.id`, idArg{}, blobRow{})
	if err != nil {
		return nil, errors.Trace(err)
	}
	var blobs []blobRow
	if err := tx.Query(ctx, blobStmt, arg).GetAll(&blobs); err != nil && !errors.Is(err, sqlair.ErrNoRows) {
		return nil, errors.Trace(err)
	}
	foldBlobs(blobs, af)

	tagStmt, err := st.Prepare(`
SELECT &tagRow.*
FROM   artifact_tag
WHERE  artifact_id = $idArg.id
ORDER BY value`, idArg{}, tagRow{})
	if err != nil {
		return nil, errors.Trace(err)
	}
	var tags []tagRow
	if err := tx.Query(ctx, tagStmt, arg).GetAll(&tags); err != nil && !errors.Is(err, sqlair.ErrNoRows) {
		return nil, errors.Trace(err)
	}
	for _, t := range tags {
		af.Tags = append(af.Tags, t.Value)
	}
	return af, nil
}

// Update persists a mutated artifact. The artifact carries the lock
// token it was read at; a concurrent writer that moved the token
// surfaces StaleWrite. touched names the custom attributes whose
// property rows must be rewritten.
func (st *State) Update(ctx context.Context, af *artifact.Artifact, touched []string) error {
	row, err := rowForArtifact(af)
	if err != nil {
		return errors.Trace(err)
	}

	updateStmt, err := st.Prepare(`
UPDATE artifact
SET    name = $artifactRow.name,
       version = $artifactRow.version,
       version_sort = $artifactRow.version_sort,
       description = $artifactRow.description,
       visibility = $artifactRow.visibility,
       status = $artifactRow.status,
       updated_at = $artifactRow.updated_at,
       activated_at = $artifactRow.activated_at,
       lock_version = lock_version + 1
WHERE  id = $artifactRow.id
AND    lock_version = $artifactRow.lock_version`, artifactRow{})
	if err != nil {
		return errors.Trace(err)
	}

	deleteProp, err := st.Prepare(`
DELETE FROM artifact_property
WHERE  artifact_id = $propertyRow.artifact_id
AND    name = $propertyRow.name`, propertyRow{})
	if err != nil {
		return errors.Trace(err)
	}

	err = st.Runner().Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		if err := st.checkUnique(ctx, tx, af); err != nil {
			return errors.Trace(err)
		}

		var outcome sqlair.Outcome
		if err := tx.Query(ctx, updateStmt, row).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		affected, err := outcome.Result().RowsAffected()
		if err != nil {
			return errors.Trace(err)
		}
		if affected == 0 {
			// Distinguish a stale token from a vanished artifact.
			if _, err := st.loadArtifact(ctx, tx, af.ID); err != nil {
				return errors.Trace(err)
			}
			return errors.Annotatef(arterrors.StaleWrite, "artifact %q", af.ID)
		}

		touchedProps := make(map[string]any, len(touched))
		for _, name := range touched {
			arg := propertyRow{ArtifactID: af.ID, Name: name}
			if err := tx.Query(ctx, deleteProp, arg).Run(); err != nil {
				return errors.Trace(err)
			}
			if value, ok := af.Properties[name]; ok && value != nil {
				touchedProps[name] = value
			}
		}
		return errors.Trace(st.insertProperties(ctx, tx, af.ID, touchedProps))
	})
	if err != nil {
		return errors.Trace(err)
	}
	af.LockVersion++
	return nil
}

// MarkDeleted moves the artifact to status deleted, flips its blob
// slots to pending_delete and drops properties and tags. The record
// itself stays until the bytes are reclaimed.
func (st *State) MarkDeleted(ctx context.Context, id string) error {
	arg := idArg{ID: id}

	statusStmt, err := st.Prepare(`
UPDATE artifact SET status = 'deleted' WHERE id = $idArg.id`, idArg{})
	if err != nil {
		return errors.Trace(err)
	}
	blobStmt, err := st.Prepare(`
UPDATE artifact_blob SET status = 'pending_delete'
WHERE  artifact_id = $idArg.id`, idArg{})
	if err != nil {
		return errors.Trace(err)
	}
	propStmt, err := st.Prepare(`
DELETE FROM artifact_property WHERE artifact_id = $idArg.id`, idArg{})
	if err != nil {
		return errors.Trace(err)
	}
	tagStmt, err := st.Prepare(`
DELETE FROM artifact_tag WHERE artifact_id = $idArg.id`, idArg{})
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(st.Runner().Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, statusStmt, arg).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		if affected, err := outcome.Result().RowsAffected(); err != nil {
			return errors.Trace(err)
		} else if affected == 0 {
			return errors.Annotatef(arterrors.ArtifactNotFound, "artifact %q", id)
		}
		if err := tx.Query(ctx, blobStmt, arg).Run(); err != nil {
			return errors.Trace(err)
		}
		if err := tx.Query(ctx, propStmt, arg).Run(); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(tx.Query(ctx, tagStmt, arg).Run())
	}))
}

// PurgeArtifact removes the artifact row once its blobs are reclaimed.
func (st *State) PurgeArtifact(ctx context.Context, id string) error {
	stmt, err := st.Prepare(`
DELETE FROM artifact WHERE id = $idArg.id AND status = 'deleted'`, idArg{})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(st.Runner().Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, idArg{ID: id}).Run())
	}))
}

// ReplaceTags atomically swaps the artifact's tag set.
func (st *State) ReplaceTags(ctx context.Context, id string, tags []string, updatedAt time.Time) error {
	deleteStmt, err := st.Prepare(`
DELETE FROM artifact_tag WHERE artifact_id = $idArg.id`, idArg{})
	if err != nil {
		return errors.Trace(err)
	}
	touchStmt, err := st.Prepare(`
UPDATE artifact SET updated_at = $artifactRow.updated_at
WHERE  id = $artifactRow.id`, artifactRow{})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(st.Runner().Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		if err := tx.Query(ctx, deleteStmt, idArg{ID: id}).Run(); err != nil {
			return errors.Trace(err)
		}
		if err := st.insertTags(ctx, tx, id, tags); err != nil {
			return errors.Trace(err)
		}
		touch := artifactRow{ID: id, UpdatedAt: updatedAt.UTC().Format(timeFormat)}
		return errors.Trace(tx.Query(ctx, touchStmt, touch).Run())
	}))
}
