// Package driver defines the database execution interface the migration
// runner applies steps through.
package driver

import (
	"context"
	"time"

	"github.com/receiptvault/schemactl/revision"
)

// Entry is one row of the applied-revision log.
type Entry struct {
	RevisionID string    `db:"revision_id"`
	Checksum   string    `db:"checksum"`
	AppliedAt  time.Time `db:"applied_at"`
}

// Driver executes migration steps against a live database.
//
// Apply runs the step's script and moves the applied-revision pointer in
// the same transaction, so a crash can never desynchronize the pointer
// from the schema. Current returns revision.Root when nothing has been
// applied yet.
type Driver interface {
	Current(ctx context.Context) (string, error)
	Apply(ctx context.Context, step revision.Step) error
	Log(ctx context.Context) ([]Entry, error)
}
