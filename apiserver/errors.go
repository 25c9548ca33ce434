// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"encoding/json"
	"net/http"

	"github.com/juju/errors"

	arterrors "github.com/go-glare/glare/domain/artifact/errors"
)

// errorResponse is the error envelope of every non-2xx JSON response.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ServerErrorAndStatus maps a service error onto its HTTP status. All
// handlers go through this single mapping; none invent statuses ad
// hoc.
func ServerErrorAndStatus(err error) (string, int) {
	switch {
	case errors.Is(err, arterrors.TypeNotFound),
		errors.Is(err, arterrors.ArtifactNotFound),
		errors.Is(err, arterrors.BlobNotFound):
		return err.Error(), http.StatusNotFound
	case errors.Is(err, arterrors.BadRequest):
		return err.Error(), http.StatusBadRequest
	case errors.Is(err, arterrors.Forbidden):
		return err.Error(), http.StatusForbidden
	case errors.Is(err, arterrors.Conflict),
		errors.Is(err, arterrors.SlotBusy),
		errors.Is(err, arterrors.StaleWrite):
		return err.Error(), http.StatusConflict
	case errors.Is(err, arterrors.TooLarge):
		return err.Error(), http.StatusRequestEntityTooLarge
	case errors.Is(err, arterrors.UnsupportedMediaType):
		return err.Error(), http.StatusUnsupportedMediaType
	}
	return "internal server error", http.StatusInternalServerError
}

// sendJSONError renders err through the status mapping.
func sendJSONError(w http.ResponseWriter, req *http.Request, err error) {
	message, status := ServerErrorAndStatus(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("returning error from %s %s: %s", req.Method, req.URL, errors.Details(err))
	} else {
		logger.Debugf("returning error from %s %s: %v", req.Method, req.URL, err)
	}
	sendStatusAndJSON(w, status, errorResponse{
		Error: errorBody{Message: message, Code: status},
	})
}

// sendStatusAndJSON writes a JSON response body with the given status.
func sendStatusAndJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("writing response body: %v", err)
	}
}
