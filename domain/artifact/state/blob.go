// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"
	"database/sql"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	arterrors "github.com/go-glare/glare/domain/artifact/errors"
	"github.com/go-glare/glare/internal/database"
)

// BlobCommit carries the metadata recorded when a blob upload
// finalizes.
type BlobCommit struct {
	URL         string
	Size        int64
	Checksum    string
	ContentType string
	External    bool
	UpdatedAt   time.Time
}

// PendingBlob is one blob slot awaiting byte reclamation.
type PendingBlob struct {
	ID         string
	ArtifactID string
	URL        string
	External   bool
}

// BeginBlobUpload acquires the upload lease for a slot by inserting
// the row in status saving. The slot's unique constraint arbitrates
// races: the loser surfaces SlotBusy. The returned lease id finalizes
// or aborts the upload.
func (st *State) BeginBlobUpload(ctx context.Context, artifactID, name, key string, isDict bool) (string, error) {
	row := blobRow{
		ID:         newID(),
		ArtifactID: artifactID,
		Name:       name,
		KeyName:    key,
		IsDict:     isDict,
		Status:     "saving",
	}
	insertStmt, err := st.Prepare(`
INSERT INTO artifact_blob (id, artifact_id, name, key_name, is_dict, url,
                           size, checksum, external, status, content_type)
VALUES ($blobRow.*)`, blobRow{})
	if err != nil {
		return "", errors.Trace(err)
	}
	err = st.Runner().Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		if err := tx.Query(ctx, insertStmt, row).Run(); err != nil {
			if database.IsConstraintError(err) {
				return errors.Annotatef(arterrors.SlotBusy, "blob %q", name)
			}
			return errors.Trace(err)
		}
		return nil
	})
	if err != nil {
		return "", errors.Trace(err)
	}
	return row.ID, nil
}

// FinalizeBlobUpload commits an upload lease: saving -> active, with
// the size, checksum and content type recorded.
func (st *State) FinalizeBlobUpload(ctx context.Context, leaseID string, commit BlobCommit) error {
	row := blobRow{
		ID:          leaseID,
		URL:         sql.NullString{String: commit.URL, Valid: commit.URL != ""},
		Size:        sql.NullInt64{Int64: commit.Size, Valid: true},
		Checksum:    sql.NullString{String: commit.Checksum, Valid: true},
		External:    commit.External,
		ContentType: commit.ContentType,
	}
	updateStmt, err := st.Prepare(`
UPDATE artifact_blob
SET    url = $blobRow.url,
       size = $blobRow.size,
       checksum = $blobRow.checksum,
       external = $blobRow.external,
       content_type = $blobRow.content_type,
       status = 'active'
WHERE  id = $blobRow.id
AND    status = 'saving'`, blobRow{})
	if err != nil {
		return errors.Trace(err)
	}
	touchStmt, err := st.Prepare(`
UPDATE artifact
SET    updated_at = $artifactRow.updated_at
WHERE  id = (SELECT artifact_id FROM artifact_blob WHERE id = $artifactRow.id)`, artifactRow{})
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(st.Runner().Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, updateStmt, row).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		if affected, err := outcome.Result().RowsAffected(); err != nil {
			return errors.Trace(err)
		} else if affected == 0 {
			return errors.Annotatef(arterrors.BlobNotFound, "lease %q", leaseID)
		}
		touch := artifactRow{ID: leaseID, UpdatedAt: commit.UpdatedAt.UTC().Format(timeFormat)}
		return errors.Trace(tx.Query(ctx, touchStmt, touch).Run())
	}))
}

// AbortBlobUpload releases an upload lease, returning the slot to
// absent. Aborting an already finalized or vanished lease is a no-op.
func (st *State) AbortBlobUpload(ctx context.Context, leaseID string) error {
	stmt, err := st.Prepare(`
DELETE FROM artifact_blob WHERE id = $idArg.id AND status = 'saving'`, idArg{})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(st.Runner().Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, idArg{ID: leaseID}).Run())
	}))
}

// ListPendingBlobs returns blob slots in pending_delete, oldest rows
// first, capped at limit. The sweeper reclaims their bytes.
func (st *State) ListPendingBlobs(ctx context.Context, limit int) ([]PendingBlob, error) {
	type limitArg struct {
		Limit int `db:"limit"`
	}
	stmt, err := st.Prepare(`
SELECT &blobRow.*
FROM   artifact_blob
WHERE  status = 'pending_delete'
LIMIT  $limitArg.limit`, limitArg{}, blobRow{})
	if err != nil {
		return nil, errors.Trace(err)
	}
	var rows []blobRow
	err = st.Runner().Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		if err := tx.Query(ctx, stmt, limitArg{Limit: limit}).GetAll(&rows); err != nil &&
			!errors.Is(err, sqlair.ErrNoRows) {
			return errors.Trace(err)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	out := make([]PendingBlob, len(rows))
	for i, row := range rows {
		out[i] = PendingBlob{
			ID:         row.ID,
			ArtifactID: row.ArtifactID,
			External:   row.External,
		}
		if row.URL.Valid {
			out[i].URL = row.URL.String
		}
	}
	return out, nil
}

// PurgeBlob removes a reclaimed blob row.
func (st *State) PurgeBlob(ctx context.Context, blobID string) error {
	stmt, err := st.Prepare(`
DELETE FROM artifact_blob WHERE id = $idArg.id`, idArg{})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(st.Runner().Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, idArg{ID: blobID}).Run())
	}))
}

// PurgeDeletedArtifacts removes deleted artifact rows that no longer
// hold blob slots, returning the number purged.
func (st *State) PurgeDeletedArtifacts(ctx context.Context) (int, error) {
	stmt, err := st.Prepare(`
DELETE FROM artifact
WHERE  status = 'deleted'
AND    NOT EXISTS (SELECT 1 FROM artifact_blob b WHERE b.artifact_id = artifact.id)`)
	if err != nil {
		return 0, errors.Trace(err)
	}
	var purged int64
	err = st.Runner().Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, stmt).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		n, err := outcome.Result().RowsAffected()
		if err != nil {
			return errors.Trace(err)
		}
		purged = n
		return nil
	})
	return int(purged), errors.Trace(err)
}
