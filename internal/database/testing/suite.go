// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package testing provides a base suite that opens a fresh in-memory
// database with the full schema applied for every test.
package testing

import (
	"context"
	"database/sql"

	"github.com/juju/clock"
	jujutesting "github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/go-glare/glare/internal/database"
	"github.com/go-glare/glare/internal/database/schema"
)

// DBSuite opens a private in-memory SQLite database with the artifact
// schema applied in SetUpTest, and closes it in TearDownTest.
type DBSuite struct {
	jujutesting.IsolationSuite

	DB     *sql.DB
	Runner database.TxnRunner
}

func (s *DBSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)

	db, err := database.Open(":memory:")
	c.Assert(err, jc.ErrorIsNil)
	s.DB = db
	s.Runner = database.NewTxnRunner(db, clock.WallClock)

	err = schema.Ensure(context.Background(), s.Runner)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *DBSuite) TearDownTest(c *gc.C) {
	if s.DB != nil {
		_ = s.DB.Close()
		s.DB = nil
	}
	s.IsolationSuite.TearDownTest(c)
}

// Exec applies a raw statement to the test database, failing the test
// on error.
func (s *DBSuite) Exec(c *gc.C, stmt string, args ...any) {
	_, err := s.DB.Exec(stmt, args...)
	c.Assert(err, jc.ErrorIsNil)
}
