// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package sweeper reclaims blob bytes left behind by deleted
// artifacts. Deletion marks blob rows pending_delete; the sweeper
// periodically deletes the stored bytes and purges the rows, then
// removes artifact rows with no slots left.
package sweeper

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"

	"github.com/go-glare/glare/domain/artifact/state"
	"github.com/go-glare/glare/internal/blobstore"
)

var logger = loggo.GetLogger("glare.sweeper")

// batchSize caps how many pending slots one pass reclaims.
const batchSize = 100

// BlobPurger is the state surface the sweeper drives.
type BlobPurger interface {
	ListPendingBlobs(ctx context.Context, limit int) ([]state.PendingBlob, error)
	PurgeBlob(ctx context.Context, blobID string) error
	PurgeDeletedArtifacts(ctx context.Context) (int, error)
}

// Config holds the sweeper's dependencies.
type Config struct {
	State    BlobPurger
	Store    blobstore.Store
	Clock    clock.Clock
	Interval time.Duration
}

// Validate returns an error if the config is not complete.
func (c Config) Validate() error {
	if c.State == nil {
		return errors.NotValidf("nil State")
	}
	if c.Store == nil {
		return errors.NotValidf("nil Store")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Interval <= 0 {
		return errors.NotValidf("non-positive Interval")
	}
	return nil
}

type sweeper struct {
	tomb   tomb.Tomb
	config Config
}

// NewWorker starts a sweeper from config.
func NewWorker(config Config) (worker.Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &sweeper{config: config}
	w.tomb.Go(w.loop)
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *sweeper) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *sweeper) Wait() error {
	return w.tomb.Wait()
}

func (w *sweeper) loop() error {
	timer := w.config.Clock.NewTimer(w.config.Interval)
	defer timer.Stop()
	for {
		select {
		case <-w.tomb.Dying():
			return tomb.ErrDying
		case <-timer.Chan():
			if err := w.sweep(); err != nil {
				// Not fatal; the next pass retries.
				logger.Errorf("sweep pass failed: %v", err)
			}
			timer.Reset(w.config.Interval)
		}
	}
}

// sweep runs one reclamation pass.
func (w *sweeper) sweep() error {
	ctx := w.tomb.Context(context.Background())
	pending, err := w.config.State.ListPendingBlobs(ctx, batchSize)
	if err != nil {
		return errors.Trace(err)
	}
	for _, blob := range pending {
		if !blob.External && blob.URL != "" {
			if err := w.config.Store.Delete(ctx, blob.URL); err != nil {
				logger.Errorf("deleting bytes for blob %q: %v", blob.ID, err)
				continue
			}
		}
		if err := w.config.State.PurgeBlob(ctx, blob.ID); err != nil {
			logger.Errorf("purging blob row %q: %v", blob.ID, err)
		}
	}
	purged, err := w.config.State.PurgeDeletedArtifacts(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if len(pending) > 0 || purged > 0 {
		logger.Debugf("reclaimed %d blob(s), purged %d artifact(s)", len(pending), purged)
	}
	return nil
}
