// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config loads and validates the glared server configuration
// from a YAML file, applying defaults through schema coercion.
package config

import (
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v2"
)

// Store backend names.
const (
	StoreFS = "fs"
	StoreS3 = "s3"
)

// Defaults applied when the file omits a key.
const (
	DefaultBindAddress   = ":9494"
	DefaultDBPath        = "glare.db"
	DefaultStoreRoot     = "blobs"
	DefaultPageSize      = 25
	MaxPageSize          = 1000
	DefaultMaxBlobSize   = 10485760
	DefaultSweepInterval = time.Minute
)

// Config is the validated server configuration.
type Config struct {
	BindAddress string
	DBPath      string

	Store     string
	StoreRoot string

	S3Endpoint       string
	S3Region         string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3ForcePathStyle bool

	DefaultPageSize   int
	MaxPageSize       int
	MaxBlobSize       int64
	DelayedBlobDelete bool
	SweepInterval     time.Duration

	AllowAnonymous bool
	LoggingConfig  string
}

var configChecker = schema.FieldMap(schema.Fields{
	"bind-address":        schema.String(),
	"db-path":             schema.String(),
	"store":               schema.OneOf(schema.Const(StoreFS), schema.Const(StoreS3)),
	"store-root":          schema.String(),
	"s3-endpoint":         schema.String(),
	"s3-region":           schema.String(),
	"s3-bucket":           schema.String(),
	"s3-access-key":       schema.String(),
	"s3-secret-key":       schema.String(),
	"s3-force-path-style": schema.Bool(),
	"default-page-size":   schema.ForceInt(),
	"max-page-size":       schema.ForceInt(),
	"max-blob-size":       schema.ForceInt(),
	"delayed-blob-delete": schema.Bool(),
	"sweep-interval":      schema.TimeDuration(),
	"allow-anonymous":     schema.Bool(),
	"logging-config":      schema.String(),
}, schema.Defaults{
	"bind-address":        DefaultBindAddress,
	"db-path":             DefaultDBPath,
	"store":               StoreFS,
	"store-root":          DefaultStoreRoot,
	"s3-endpoint":         "",
	"s3-region":           "",
	"s3-bucket":           "",
	"s3-access-key":       "",
	"s3-secret-key":       "",
	"s3-force-path-style": false,
	"default-page-size":   DefaultPageSize,
	"max-page-size":       MaxPageSize,
	"max-blob-size":       DefaultMaxBlobSize,
	"delayed-blob-delete": false,
	"sweep-interval":      DefaultSweepInterval,
	"allow-anonymous":     false,
	"logging-config":      "",
})

// Default returns the configuration with every default applied.
func Default() (Config, error) {
	return coerce(map[string]any{})
}

// Load reads path and returns the validated configuration. A missing
// file is an error; pass an empty path for pure defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Annotatef(err, "reading config %q", path)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, errors.Annotatef(err, "parsing config %q", path)
	}
	cfg, err := coerce(doc)
	return cfg, errors.Annotatef(err, "validating config %q", path)
}

func coerce(doc map[string]any) (Config, error) {
	coerced, err := configChecker.Coerce(doc, nil)
	if err != nil {
		return Config{}, errors.Trace(err)
	}
	m := coerced.(map[string]any)
	cfg := Config{
		BindAddress:       m["bind-address"].(string),
		DBPath:            m["db-path"].(string),
		Store:             m["store"].(string),
		StoreRoot:         m["store-root"].(string),
		S3Endpoint:        m["s3-endpoint"].(string),
		S3Region:          m["s3-region"].(string),
		S3Bucket:          m["s3-bucket"].(string),
		S3AccessKey:       m["s3-access-key"].(string),
		S3SecretKey:       m["s3-secret-key"].(string),
		S3ForcePathStyle:  m["s3-force-path-style"].(bool),
		DefaultPageSize:   m["default-page-size"].(int),
		MaxPageSize:       m["max-page-size"].(int),
		MaxBlobSize:       int64(m["max-blob-size"].(int)),
		DelayedBlobDelete: m["delayed-blob-delete"].(bool),
		SweepInterval:     m["sweep-interval"].(time.Duration),
		AllowAnonymous:    m["allow-anonymous"].(bool),
		LoggingConfig:     m["logging-config"].(string),
	}
	return cfg, errors.Trace(cfg.Validate())
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.DefaultPageSize <= 0 {
		return errors.NotValidf("default-page-size %d", c.DefaultPageSize)
	}
	if c.MaxPageSize < c.DefaultPageSize {
		return errors.NotValidf("max-page-size %d below default-page-size %d",
			c.MaxPageSize, c.DefaultPageSize)
	}
	if c.MaxBlobSize <= 0 {
		return errors.NotValidf("max-blob-size %d", c.MaxBlobSize)
	}
	if c.Store == StoreS3 && c.S3Bucket == "" {
		return errors.NotValidf("s3 store without s3-bucket")
	}
	if c.DelayedBlobDelete && c.SweepInterval <= 0 {
		return errors.NotValidf("sweep-interval %s", c.SweepInterval)
	}
	return nil
}
