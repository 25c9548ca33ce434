// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// glared is the artifact repository server. It serves the artifact
// catalog, schema discovery and blob storage over HTTP, backed by
// SQLite and a filesystem or S3 blob store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/juju/worker/v4"

	"github.com/go-glare/glare/apiserver"
	"github.com/go-glare/glare/domain/artifact/service"
	"github.com/go-glare/glare/domain/artifact/state"
	"github.com/go-glare/glare/internal/artifacttype"
	"github.com/go-glare/glare/internal/blobstore"
	"github.com/go-glare/glare/internal/config"
	"github.com/go-glare/glare/internal/database"
	"github.com/go-glare/glare/internal/database/schema"
	"github.com/go-glare/glare/internal/notify"
	"github.com/go-glare/glare/internal/sweeper"
)

var logger = loggo.GetLogger("glare.cmd")

// Exit codes.
const (
	exitOK         = 0
	exitRuntime    = 1
	exitCreation   = 2
	exitStoreSetup = 3
)

func main() {
	os.Exit(Main(os.Args[1:]))
}

// Main runs the server and returns the process exit code.
func Main(args []string) int {
	flags := gnuflag.NewFlagSetWithFlagKnownAs("glared", gnuflag.ContinueOnError, "option")
	var (
		configPath  string
		bindAddress string
		dbPath      string
		storeRoot   string
		verbose     bool
	)
	flags.StringVar(&configPath, "config", "", "path to the YAML configuration file")
	flags.StringVar(&bindAddress, "bind-address", "", "address to listen on (overrides the config)")
	flags.StringVar(&dbPath, "db", "", "path to the SQLite database (overrides the config)")
	flags.StringVar(&storeRoot, "store-root", "", "root directory of the filesystem blob store (overrides the config)")
	flags.BoolVar(&verbose, "verbose", false, "log at debug level")
	if err := flags.Parse(true, args); err != nil {
		if err == gnuflag.ErrHelp {
			return exitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return exitCreation
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCreation
	}
	if bindAddress != "" {
		cfg.BindAddress = bindAddress
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if storeRoot != "" {
		cfg.StoreRoot = storeRoot
	}

	if err := configureLogging(cfg, verbose); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCreation
	}
	if err := run(cfg); err != nil {
		code := exitRuntime
		if errors.Is(err, errCreation) {
			code = exitCreation
		} else if errors.Is(err, errStoreSetup) {
			code = exitStoreSetup
		}
		logger.Errorf("%v", err)
		return code
	}
	return exitOK
}

const (
	errCreation   = errors.ConstError("creation failed")
	errStoreSetup = errors.ConstError("store setup failed")
)

func configureLogging(cfg config.Config, verbose bool) error {
	spec := cfg.LoggingConfig
	if spec == "" {
		spec = "<root>=INFO"
		if verbose {
			spec = "<root>=DEBUG"
		}
	}
	return errors.Annotate(loggo.ConfigureLoggers(spec), "configuring logging")
}

func run(cfg config.Config) error {
	ctx := context.Background()

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return errors.WithType(err, errCreation)
	}
	defer func() { _ = db.Close() }()
	runner := database.NewTxnRunner(db, clock.WallClock)
	if err := schema.Ensure(ctx, runner); err != nil {
		return errors.WithType(err, errCreation)
	}

	registry, err := buildRegistry()
	if err != nil {
		return errors.WithType(err, errCreation)
	}
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return errors.WithType(err, errStoreSetup)
	}

	st := state.NewState(runner)
	hub := notify.NewHub()
	svc := service.NewService(st, registry, store, notify.NewNotifier(hub), clock.WallClock, service.Params{
		DefaultPageSize:   cfg.DefaultPageSize,
		MaxPageSize:       cfg.MaxPageSize,
		MaxBlobSize:       cfg.MaxBlobSize,
		DelayedBlobDelete: cfg.DelayedBlobDelete,
	})

	server, err := apiserver.NewServer(apiserver.Config{
		Service:        svc,
		AllowAnonymous: cfg.AllowAnonymous,
	})
	if err != nil {
		return errors.WithType(err, errCreation)
	}

	var sweep worker.Worker
	if cfg.DelayedBlobDelete {
		sweep, err = sweeper.NewWorker(sweeper.Config{
			State:    st,
			Store:    store,
			Clock:    clock.WallClock,
			Interval: cfg.SweepInterval,
		})
		if err != nil {
			return errors.WithType(err, errCreation)
		}
		defer func() {
			sweep.Kill()
			if err := sweep.Wait(); err != nil {
				logger.Errorf("stopping sweeper: %v", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:    cfg.BindAddress,
		Handler: server,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()
	logger.Infof("serving artifact repository on %s", cfg.BindAddress)

	select {
	case sig := <-shutdown:
		logger.Infof("received %s, shutting down", sig)
		stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(stopCtx); err != nil {
			return errors.Annotate(err, "shutting down")
		}
		return nil
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return errors.Annotate(err, "serving")
		}
		return nil
	}
}

// buildRegistry assembles the enabled artifact types.
func buildRegistry() (*artifacttype.Registry, error) {
	descriptors := append(artifacttype.BuiltinTypes(), artifacttype.SampleArtifact())
	return artifacttype.New(descriptors...)
}

func buildStore(ctx context.Context, cfg config.Config) (blobstore.Store, error) {
	switch cfg.Store {
	case config.StoreS3:
		return blobstore.NewS3Store(ctx, blobstore.S3Config{
			Endpoint:       cfg.S3Endpoint,
			Region:         cfg.S3Region,
			Bucket:         cfg.S3Bucket,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			ForcePathStyle: cfg.S3ForcePathStyle,
		})
	default:
		return blobstore.NewFileStore(cfg.StoreRoot)
	}
}
