// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"bytes"
	"database/sql"
	"fmt"
	"text/tabwriter"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

// DumpTable writes the contents of the given tables to the test log.
// Debugging aid only.
func DumpTable(c *gc.C, db *sql.DB, tables ...string) {
	for _, table := range tables {
		rows, err := db.Query(fmt.Sprintf("SELECT * FROM %q", table))
		c.Assert(err, jc.ErrorIsNil)

		cols, err := rows.Columns()
		c.Assert(err, jc.ErrorIsNil)

		buffer := new(bytes.Buffer)
		writer := tabwriter.NewWriter(buffer, 0, 8, 4, ' ', 0)
		for _, col := range cols {
			fmt.Fprintf(writer, "%s\t", col)
		}
		fmt.Fprintln(writer)

		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		for rows.Next() {
			c.Assert(rows.Scan(ptrs...), jc.ErrorIsNil)
			for _, val := range vals {
				fmt.Fprintf(writer, "%v\t", val)
			}
			fmt.Fprintln(writer)
		}
		c.Assert(rows.Err(), jc.ErrorIsNil)
		_ = rows.Close()
		c.Assert(writer.Flush(), jc.ErrorIsNil)
		c.Logf("TABLE %s:\n%s", table, buffer.String())
	}
}
