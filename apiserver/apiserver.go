// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package apiserver exposes the artifact repository over HTTP: schema
// discovery, the artifact catalog with its lifecycle operations, tag
// endpoints and blob streaming, plus the Prometheus scrape endpoint.
package apiserver

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/go-glare/glare/domain/artifact"
	arterrors "github.com/go-glare/glare/domain/artifact/errors"
	"github.com/go-glare/glare/domain/artifact/service"
	"github.com/go-glare/glare/internal/jsonpatch"
)

var logger = loggo.GetLogger("glare.apiserver")

// Content types accepted by the mutating endpoints.
const (
	contentTypeJSON     = "application/json"
	contentTypePatch    = "application/json-patch+json"
	contentTypeSchema   = "application/schema+json"
	contentTypeLocation = "application/vnd+openstack.glare-custom-location+json"
)

// Server is the HTTP front end over the lifecycle engine.
type Server struct {
	service        *service.Service
	router         *mux.Router
	metrics        *metrics
	allowAnonymous bool
}

// Config holds the server's construction parameters.
type Config struct {
	Service        *service.Service
	AllowAnonymous bool
}

// NewServer builds the routed handler surface.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.NotValidf("nil Service")
	}
	s := &Server{
		service:        cfg.Service,
		metrics:        newMetrics(),
		allowAnonymous: cfg.AllowAnonymous,
	}
	s.router = s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.router.ServeHTTP(w, req)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.metrics.instrument)

	r.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/").Subrouter()
	api.Use(s.authenticate)

	api.HandleFunc("/schemas", s.handleSchemas).Methods(http.MethodGet)
	api.HandleFunc("/schemas/{type}", s.handleSchema).Methods(http.MethodGet)

	api.HandleFunc("/artifacts/{type}", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/artifacts/{type}", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/artifacts/{type}/{id}", s.handleShow).Methods(http.MethodGet)
	api.HandleFunc("/artifacts/{type}/{id}", s.handlePatch).Methods(http.MethodPatch)
	api.HandleFunc("/artifacts/{type}/{id}", s.handleDelete).Methods(http.MethodDelete)

	// The tags routes must register before the blob routes so the
	// literal segment wins over the {blob} variable.
	api.HandleFunc("/artifacts/{type}/{id}/tags", s.handleTagsGet).Methods(http.MethodGet)
	api.HandleFunc("/artifacts/{type}/{id}/tags", s.handleTagsPut).Methods(http.MethodPut)
	api.HandleFunc("/artifacts/{type}/{id}/tags", s.handleTagsClear).Methods(http.MethodDelete)

	api.HandleFunc("/artifacts/{type}/{id}/{blob}", s.handleBlobDownload).Methods(http.MethodGet)
	api.HandleFunc("/artifacts/{type}/{id}/{blob}", s.handleBlobUpload).Methods(http.MethodPut)
	api.HandleFunc("/artifacts/{type}/{id}/{blob}/{key}", s.handleBlobDownload).Methods(http.MethodGet)
	api.HandleFunc("/artifacts/{type}/{id}/{blob}/{key}", s.handleBlobUpload).Methods(http.MethodPut)

	// Subrouters do not inherit the handler from the root router, and
	// every API route lives on the subrouter.
	r.MethodNotAllowedHandler = s.methodNotAllowed(r)
	api.MethodNotAllowedHandler = s.methodNotAllowed(r)
	return r
}

// methodNotAllowed answers 405 with the Allow header listing the
// methods the matched path does accept.
func (s *Server) methodNotAllowed(router *mux.Router) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var allowed []string
		for _, method := range []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete,
		} {
			probe := req.Clone(req.Context())
			probe.Method = method
			var match mux.RouteMatch
			if router.Match(probe, &match) && match.MatchErr == nil {
				allowed = append(allowed, method)
			}
		}
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		sendStatusAndJSON(w, http.StatusMethodNotAllowed, errorResponse{
			Error: errorBody{
				Message: fmt.Sprintf("method %s is not allowed", req.Method),
				Code:    http.StatusMethodNotAllowed,
			},
		})
	})
}

// requireContentType enforces the declared media type, ignoring
// parameters such as charset.
func requireContentType(req *http.Request, want string) error {
	media, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil || media != want {
		return errors.Annotatef(arterrors.UnsupportedMediaType, "expected %s", want)
	}
	return nil
}

func (s *Server) handleSchemas(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", contentTypeSchema)
	sendSchemaJSON(w, http.StatusOK, map[string]any{
		"schemas": s.service.Registry().ListTypes(),
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, req *http.Request) {
	typeName := mux.Vars(req)["type"]
	d, err := s.service.Registry().GetType(typeName)
	if err != nil {
		sendJSONError(w, req, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeSchema)
	sendSchemaJSON(w, http.StatusOK, map[string]any{
		"schemas": map[string]any{typeName: d.Schema()},
	})
}

// sendSchemaJSON writes a schema envelope without resetting the content
// type set by the caller.
func sendSchemaJSON(w http.ResponseWriter, status int, body any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("writing schema response: %v", err)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, req *http.Request) {
	typeName := mux.Vars(req)["type"]
	if err := requireContentType(req, contentTypeJSON); err != nil {
		sendJSONError(w, req, err)
		return
	}
	body, err := decodeObject(req.Body)
	if err != nil {
		sendJSONError(w, req, err)
		return
	}
	af, err := s.service.Create(req.Context(), callerFrom(req.Context()), typeName, body)
	if err != nil {
		sendJSONError(w, req, err)
		return
	}
	s.sendArtifact(w, typeName, http.StatusCreated, af)
}

// decodeObject decodes a JSON object body with numbers kept lossless.
func decodeObject(r io.Reader) (map[string]any, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return nil, errors.Annotatef(arterrors.BadRequest, "malformed request body: %v", err)
	}
	obj, ok := normalizeJSON(raw).(map[string]any)
	if !ok {
		return nil, errors.Annotatef(arterrors.BadRequest, "request body must be a JSON object")
	}
	return obj, nil
}

// normalizeJSON converts json.Number values into int64 where lossless,
// float64 otherwise, recursively.
func normalizeJSON(v any) any {
	switch tv := v.(type) {
	case json.Number:
		if n, err := tv.Int64(); err == nil {
			return n
		}
		f, _ := tv.Float64()
		return f
	case []any:
		for i, item := range tv {
			tv[i] = normalizeJSON(item)
		}
		return tv
	case map[string]any:
		for key, item := range tv {
			tv[key] = normalizeJSON(item)
		}
		return tv
	}
	return v
}

func (s *Server) handleShow(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	af, err := s.service.Get(req.Context(), callerFrom(req.Context()), vars["type"], vars["id"])
	if err != nil {
		sendJSONError(w, req, err)
		return
	}
	s.sendArtifact(w, vars["type"], http.StatusOK, af)
}

func (s *Server) handlePatch(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	if err := requireContentType(req, contentTypePatch); err != nil {
		sendJSONError(w, req, err)
		return
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		sendJSONError(w, req, errors.Annotatef(arterrors.BadRequest, "reading request body: %v", err))
		return
	}
	ops, err := jsonpatch.Parse(body)
	if err != nil {
		sendJSONError(w, req, errors.Annotatef(arterrors.BadRequest, "%v", err))
		return
	}
	af, err := s.service.Update(req.Context(), callerFrom(req.Context()), vars["type"], vars["id"], ops)
	if err != nil {
		sendJSONError(w, req, err)
		return
	}
	s.sendArtifact(w, vars["type"], http.StatusOK, af)
}

func (s *Server) handleDelete(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	err := s.service.Delete(req.Context(), callerFrom(req.Context()), vars["type"], vars["id"])
	if err != nil {
		sendJSONError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleList(w http.ResponseWriter, req *http.Request) {
	typeName := mux.Vars(req)["type"]
	page, err := s.service.List(req.Context(), callerFrom(req.Context()), typeName, req.URL.Query())
	if err != nil {
		sendJSONError(w, req, err)
		return
	}

	d, err := s.service.Registry().GetType(typeName)
	if err != nil {
		sendJSONError(w, req, err)
		return
	}
	rendered := make([]map[string]any, len(page.Artifacts))
	for i, af := range page.Artifacts {
		rendered[i] = service.Render(d, af)
	}
	envelope := map[string]any{
		typeName: rendered,
		"first":  listLink(req.URL, typeName, ""),
		"schema": "/schemas/" + typeName,
	}
	if page.Full && len(page.Artifacts) > 0 {
		last := page.Artifacts[len(page.Artifacts)-1]
		envelope["next"] = listLink(req.URL, typeName, last.ID)
	}
	sendStatusAndJSON(w, http.StatusOK, envelope)
}

// listLink rebuilds the listing URL, without any marker for the first
// page link, or with the given marker for the next page link.
func listLink(u *url.URL, typeName, marker string) string {
	query := u.Query()
	query.Del("marker")
	if marker != "" {
		query.Set("marker", marker)
	}
	link := "/artifacts/" + typeName
	if encoded := query.Encode(); encoded != "" {
		link += "?" + encoded
	}
	return link
}

func (s *Server) handleTagsGet(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	tags, err := s.service.Tags(req.Context(), callerFrom(req.Context()), vars["type"], vars["id"])
	if err != nil {
		sendJSONError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (s *Server) handleTagsPut(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	if err := requireContentType(req, contentTypeJSON); err != nil {
		sendJSONError(w, req, err)
		return
	}
	var body struct {
		Tags *[]string `json:"tags"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		sendJSONError(w, req, errors.Annotatef(arterrors.BadRequest, "malformed request body: %v", err))
		return
	}
	if body.Tags == nil {
		sendJSONError(w, req, errors.Annotatef(arterrors.BadRequest, `request body must carry a "tags" list`))
		return
	}
	tags, err := s.service.ReplaceTags(req.Context(), callerFrom(req.Context()), vars["type"], vars["id"], *body.Tags)
	if err != nil {
		sendJSONError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (s *Server) handleTagsClear(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	err := s.service.ClearTags(req.Context(), callerFrom(req.Context()), vars["type"], vars["id"])
	if err != nil {
		sendJSONError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBlobUpload(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	who := callerFrom(req.Context())

	rawType := req.Header.Get("Content-Type")
	if rawType == "" {
		sendJSONError(w, req, errors.Annotatef(arterrors.BadRequest, "blob upload requires a Content-Type header"))
		return
	}
	media, _, err := mime.ParseMediaType(rawType)
	if err != nil {
		sendJSONError(w, req, errors.Annotatef(arterrors.BadRequest, "malformed Content-Type %q", rawType))
		return
	}

	var af *artifact.Artifact
	if media == contentTypeLocation {
		var body struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.URL == "" {
			sendJSONError(w, req, errors.Annotatef(arterrors.BadRequest, `request body must carry a "url"`))
			return
		}
		af, err = s.service.AddBlobLocation(req.Context(), who,
			vars["type"], vars["id"], vars["blob"], vars["key"], body.URL)
	} else {
		af, err = s.service.UploadBlob(req.Context(), who,
			vars["type"], vars["id"], vars["blob"], vars["key"], media, req.Body)
	}
	if err != nil {
		sendJSONError(w, req, err)
		return
	}
	s.sendArtifact(w, vars["type"], http.StatusOK, af)
}

func (s *Server) handleBlobDownload(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	rc, blob, err := s.service.DownloadBlob(req.Context(), callerFrom(req.Context()),
		vars["type"], vars["id"], vars["blob"], vars["key"])
	if err != nil {
		sendJSONError(w, req, err)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", blob.ContentType)
	if blob.Checksum != nil {
		w.Header().Set("Content-MD5", *blob.Checksum)
	}
	if blob.Size != nil {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", *blob.Size))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logger.Errorf("streaming blob for %s %s: %v", req.Method, req.URL, err)
	}
}

func (s *Server) sendArtifact(w http.ResponseWriter, typeName string, status int, af *artifact.Artifact) {
	d, err := s.service.Registry().GetType(typeName)
	if err != nil {
		sendStatusAndJSON(w, http.StatusInternalServerError, errorResponse{
			Error: errorBody{Message: "internal server error", Code: http.StatusInternalServerError},
		})
		return
	}
	sendStatusAndJSON(w, status, service.Render(d, af))
}
