// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors

import "github.com/juju/errors"

const (
	// TypeNotFound is raised when the requested artifact type is not
	// registered.
	TypeNotFound = errors.ConstError("artifact type not found")

	// ArtifactNotFound is raised when the artifact does not exist or is
	// not visible to the caller. Foreign private artifacts surface this
	// error, never Forbidden, so existence is not leaked.
	ArtifactNotFound = errors.ConstError("artifact not found")

	// BlobNotFound is raised when the addressed blob slot holds no data.
	BlobNotFound = errors.ConstError("blob not found")

	// BadRequest is raised for malformed input: unknown attributes,
	// invalid patch shapes, invalid filter or sort parameters, or values
	// failing validation.
	BadRequest = errors.ConstError("bad request")

	// Forbidden is raised when the lifecycle, mutability or
	// authorization rules deny the mutation to this caller.
	Forbidden = errors.ConstError("forbidden")

	// Conflict is raised on a name/version uniqueness violation, a
	// repeated blob upload, or a stale concurrent update.
	Conflict = errors.ConstError("conflict")

	// StaleWrite is raised by the state layer when the artifact's
	// version token moved under a concurrent writer. The service
	// surfaces it as Conflict.
	StaleWrite = errors.ConstError("stale write")

	// SlotBusy is raised when a blob upload races an in-flight upload
	// to the same slot.
	SlotBusy = errors.ConstError("blob slot busy")

	// TooLarge is raised when an uploaded blob exceeds the slot's
	// max_blob_size cap.
	TooLarge = errors.ConstError("blob too large")

	// UnsupportedMediaType is raised when the request body carries the
	// wrong content type.
	UnsupportedMediaType = errors.ConstError("unsupported media type")
)
