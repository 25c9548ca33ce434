// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package domain provides the shared plumbing for domain state
// implementations: a base type that caches prepared sqlair statements
// against the transaction runner.
package domain

import (
	"sync"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	"github.com/go-glare/glare/internal/database"
)

// StateBase is embedded by state types to share statement preparation
// and the transaction runner.
type StateBase struct {
	runner database.TxnRunner

	mu    sync.RWMutex
	cache map[string]*sqlair.Statement
}

// NewStateBase returns a StateBase over the given runner.
func NewStateBase(runner database.TxnRunner) *StateBase {
	return &StateBase{
		runner: runner,
		cache:  make(map[string]*sqlair.Statement),
	}
}

// Runner exposes the transaction runner to the embedding state.
func (s *StateBase) Runner() database.TxnRunner {
	return s.runner
}

// Prepare returns a cached sqlair statement for the query, preparing
// and caching it on first use. The query text is the cache key, so
// callers must pass the same type samples for the same text.
func (s *StateBase) Prepare(query string, typeSamples ...any) (*sqlair.Statement, error) {
	s.mu.RLock()
	if stmt, ok := s.cache[query]; ok {
		s.mu.RUnlock()
		return stmt, nil
	}
	s.mu.RUnlock()

	stmt, err := sqlair.Prepare(query, typeSamples...)
	if err != nil {
		return nil, errors.Annotate(err, "preparing statement")
	}

	s.mu.Lock()
	s.cache[query] = stmt
	s.mu.Unlock()
	return stmt, nil
}
