// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"database/sql"
	"time"

	"github.com/juju/errors"

	"github.com/go-glare/glare/domain/artifact"
)

// timeFormat is the storage format for timestamps. The fraction is
// fixed width so the byte ordering of stored values matches time
// ordering, which keyset pagination and range filters rely on.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const (
	containerScalar = "scalar"
	containerList   = "list"
	containerDict   = "dict"
)

type artifactRow struct {
	ID          string         `db:"id"`
	TypeName    string         `db:"type_name"`
	Name        string         `db:"name"`
	Version     string         `db:"version"`
	VersionSort string         `db:"version_sort"`
	Description string         `db:"description"`
	Visibility  string         `db:"visibility"`
	Status      string         `db:"status"`
	Owner       string         `db:"owner"`
	LockVersion int64          `db:"lock_version"`
	CreatedAt   string         `db:"created_at"`
	UpdatedAt   string         `db:"updated_at"`
	ActivatedAt sql.NullString `db:"activated_at"`
}

func (r artifactRow) toArtifact() (*artifact.Artifact, error) {
	createdAt, err := time.Parse(timeFormat, r.CreatedAt)
	if err != nil {
		return nil, errors.Annotatef(err, "artifact %q created_at", r.ID)
	}
	updatedAt, err := time.Parse(timeFormat, r.UpdatedAt)
	if err != nil {
		return nil, errors.Annotatef(err, "artifact %q updated_at", r.ID)
	}
	af := &artifact.Artifact{
		ID:          r.ID,
		TypeName:    r.TypeName,
		Name:        r.Name,
		Version:     r.Version,
		Owner:       r.Owner,
		Visibility:  artifact.Visibility(r.Visibility),
		Status:      artifact.Status(r.Status),
		Description: r.Description,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
		LockVersion: r.LockVersion,
		Properties:  make(map[string]any),
		Blobs:       make(map[string]*artifact.Blob),
		BlobDicts:   make(map[string]map[string]*artifact.Blob),
	}
	if r.ActivatedAt.Valid {
		t, err := time.Parse(timeFormat, r.ActivatedAt.String)
		if err != nil {
			return nil, errors.Annotatef(err, "artifact %q activated_at", r.ID)
		}
		af.ActivatedAt = &t
	}
	return af, nil
}

type propertyRow struct {
	ID           string          `db:"id"`
	ArtifactID   string          `db:"artifact_id"`
	Name         string          `db:"name"`
	Container    string          `db:"container"`
	KeyName      string          `db:"key_name"`
	Position     int64           `db:"position"`
	StringValue  sql.NullString  `db:"string_value"`
	IntValue     sql.NullInt64   `db:"int_value"`
	NumericValue sql.NullFloat64 `db:"numeric_value"`
	BoolValue    sql.NullBool    `db:"bool_value"`
}

// value returns the typed value held by the row: exactly one of the
// typed columns is set; an all-null row is an explicit null scalar.
func (r propertyRow) value() any {
	switch {
	case r.IntValue.Valid:
		return r.IntValue.Int64
	case r.NumericValue.Valid:
		return r.NumericValue.Float64
	case r.BoolValue.Valid:
		return r.BoolValue.Bool
	case r.StringValue.Valid:
		return r.StringValue.String
	}
	return nil
}

// propertyRowsFor flattens one attribute value into EAV rows. Scalars
// produce a single row, lists one row per element (ordered by
// position) and maps one row per entry.
func propertyRowsFor(artifactID, name string, value any, newID func() string) []propertyRow {
	base := func() propertyRow {
		return propertyRow{
			ID:         newID(),
			ArtifactID: artifactID,
			Name:       name,
			Container:  containerScalar,
			Position:   -1,
		}
	}
	switch tv := value.(type) {
	case []any:
		rows := make([]propertyRow, 0, len(tv))
		for i, item := range tv {
			row := base()
			row.Container = containerList
			row.Position = int64(i)
			row.setValue(item)
			rows = append(rows, row)
		}
		return rows
	case map[string]any:
		rows := make([]propertyRow, 0, len(tv))
		for key, item := range tv {
			row := base()
			row.Container = containerDict
			row.KeyName = key
			row.setValue(item)
			rows = append(rows, row)
		}
		return rows
	}
	row := base()
	row.setValue(value)
	return []propertyRow{row}
}

func (r *propertyRow) setValue(value any) {
	switch tv := value.(type) {
	case int64:
		r.IntValue = sql.NullInt64{Int64: tv, Valid: true}
	case float64:
		r.NumericValue = sql.NullFloat64{Float64: tv, Valid: true}
	case bool:
		r.BoolValue = sql.NullBool{Bool: tv, Valid: true}
	case string:
		r.StringValue = sql.NullString{String: tv, Valid: true}
	}
}

// foldProperties reassembles attribute values from EAV rows. List rows
// must arrive ordered by position.
func foldProperties(rows []propertyRow, af *artifact.Artifact) {
	for _, row := range rows {
		switch row.Container {
		case containerList:
			list, _ := af.Properties[row.Name].([]any)
			af.Properties[row.Name] = append(list, row.value())
		case containerDict:
			m, ok := af.Properties[row.Name].(map[string]any)
			if !ok {
				m = make(map[string]any)
				af.Properties[row.Name] = m
			}
			m[row.KeyName] = row.value()
		default:
			af.Properties[row.Name] = row.value()
		}
	}
}

type blobRow struct {
	ID          string         `db:"id"`
	ArtifactID  string         `db:"artifact_id"`
	Name        string         `db:"name"`
	KeyName     string         `db:"key_name"`
	IsDict      bool           `db:"is_dict"`
	URL         sql.NullString `db:"url"`
	Size        sql.NullInt64  `db:"size"`
	Checksum    sql.NullString `db:"checksum"`
	External    bool           `db:"external"`
	Status      string         `db:"status"`
	ContentType string         `db:"content_type"`
}

func (r blobRow) toBlob() *artifact.Blob {
	b := &artifact.Blob{
		ID:          r.ID,
		ContentType: r.ContentType,
		External:    r.External,
		Status:      artifact.BlobStatus(r.Status),
	}
	if r.URL.Valid {
		b.URL = r.URL.String
	}
	if r.Size.Valid {
		n := r.Size.Int64
		b.Size = &n
	}
	if r.Checksum.Valid {
		s := r.Checksum.String
		b.Checksum = &s
	}
	return b
}

func foldBlobs(rows []blobRow, af *artifact.Artifact) {
	for _, row := range rows {
		blob := row.toBlob()
		if !row.IsDict {
			af.Blobs[row.Name] = blob
			continue
		}
		m, ok := af.BlobDicts[row.Name]
		if !ok {
			m = make(map[string]*artifact.Blob)
			af.BlobDicts[row.Name] = m
		}
		m[row.KeyName] = blob
	}
}

type tagRow struct {
	ID         string `db:"id"`
	ArtifactID string `db:"artifact_id"`
	Value      string `db:"value"`
}

type idArg struct {
	ID string `db:"id"`
}

type countResult struct {
	Count int64 `db:"count"`
}
