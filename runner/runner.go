// Package runner drives schema transitions: it resolves the path from
// the applied-revision pointer to a target, snapshots the schema first,
// and applies each step in its own transaction, stopping at the first
// failure. Partial progress is intentional and recorded accurately by
// the pointer, so re-invoking the same command resumes where the
// previous run stopped.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/receiptvault/schemactl/backup"
	"github.com/receiptvault/schemactl/config"
	"github.com/receiptvault/schemactl/driver"
	"github.com/receiptvault/schemactl/revision"
)

// TargetRoot is the CLI-facing token for "the state before any revision"
// as a down target. The empty target means the default: chain head for
// Up, one step back for Down.
const TargetRoot = "root"

// Backuper is the snapshot dependency; satisfied by *backup.Engine.
type Backuper interface {
	Backup(ctx context.Context, params config.Params) (backup.Record, error)
}

type Runner struct {
	catalog *revision.Catalog
	driver  driver.Driver
	params  config.Params
	backups Backuper
	log     *slog.Logger
}

type Option func(*Runner)

// WithBackups enables the pre-migration snapshot. Without it the runner
// behaves as if backups were suppressed on every invocation.
func WithBackups(backups Backuper) Option {
	return func(r *Runner) {
		r.backups = backups
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(r *Runner) {
		r.log = log
	}
}

func New(catalog *revision.Catalog, drv driver.Driver, params config.Params, options ...Option) *Runner {
	r := &Runner{
		catalog: catalog,
		driver:  drv,
		params:  params,
		log:     slog.Default(),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Options control a single Up or Down invocation.
type Options struct {
	// Target revision id; empty means the default target. TargetRoot
	// names the pre-first-revision state for Down.
	Target string
	// SkipBackup suppresses the pre-migration snapshot.
	SkipBackup bool
}

// Result reports what one invocation did.
type Result struct {
	From    string
	To      string
	Applied []revision.Step
	Backup  *backup.Record
}

// Up migrates forward to the target (default: chain head).
func (r *Runner) Up(ctx context.Context, opts Options) (Result, error) {
	current, err := r.driver.Current(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read current revision failed: %w", err)
	}
	target := opts.Target
	if target == "" {
		head, headErr := r.catalog.Head()
		if headErr != nil {
			return Result{}, headErr
		}
		target = head.ID
	} else if target == TargetRoot {
		return Result{}, fmt.Errorf("cannot migrate up to %q: %w", TargetRoot, revision.ErrUnknownRevision)
	}
	path, err := r.catalog.ResolvePath(current, target)
	if err != nil {
		return Result{}, err
	}
	if err := wantDirection(path, revision.Up, current, target); err != nil {
		return Result{}, err
	}
	return r.apply(ctx, current, path, opts.SkipBackup)
}

// Down migrates backward to the target (default: one step back).
// TargetRoot reverts everything.
func (r *Runner) Down(ctx context.Context, opts Options) (Result, error) {
	current, err := r.driver.Current(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read current revision failed: %w", err)
	}
	if current == revision.Root {
		r.log.Info("nothing to revert")
		return Result{From: current, To: current}, nil
	}
	target := opts.Target
	switch target {
	case "":
		rev, getErr := r.catalog.Get(current)
		if getErr != nil {
			return Result{}, getErr
		}
		target = rev.ParentID
	case TargetRoot:
		target = revision.Root
	}
	path, err := r.catalog.ResolvePath(current, target)
	if err != nil {
		return Result{}, err
	}
	if err := wantDirection(path, revision.Down, current, target); err != nil {
		return Result{}, err
	}
	return r.apply(ctx, current, path, opts.SkipBackup)
}

// apply is the shared tail of Up and Down: optional snapshot, then the
// per-step transactional loop. The backup happens before any schema
// change; a backup failure aborts the whole operation with no step
// applied.
func (r *Runner) apply(ctx context.Context, current string, path []revision.Step, skipBackup bool) (Result, error) {
	result := Result{From: current, To: current}
	if len(path) == 0 {
		r.log.Info("already at target revision", "revision", current)
		return result, nil
	}
	if !skipBackup && r.backups != nil {
		record, backupErr := r.backups.Backup(ctx, r.params)
		if backupErr != nil {
			return result, backupErr
		}
		result.Backup = &record
	}
	for _, step := range path {
		if step.Direction == revision.Down && step.Revision.Irreversible {
			return result, &IrreversibleError{
				RevisionID: step.Revision.ID,
				Reason:     step.Revision.Reason,
			}
		}
		if err := r.driver.Apply(ctx, step); err != nil {
			return result, &StepError{
				RevisionID: step.Revision.ID,
				Direction:  step.Direction,
				Err:        err,
			}
		}
		result.Applied = append(result.Applied, step)
		if step.Direction == revision.Up {
			result.To = step.Revision.ID
		} else {
			result.To = step.Revision.ParentID
		}
	}
	return result, nil
}

// Current reads the applied-revision pointer. Read-only.
func (r *Runner) Current(ctx context.Context) (string, error) {
	return r.driver.Current(ctx)
}

// HistoryEntry pairs a catalog revision with its applied state.
type HistoryEntry struct {
	Revision  revision.Revision
	Applied   bool
	AppliedAt time.Time
}

// History lists the whole chain root to head, marking which revisions
// the database reports as applied. Read-only.
func (r *Runner) History(ctx context.Context) ([]HistoryEntry, error) {
	entries, err := r.driver.Log(ctx)
	if err != nil {
		return nil, err
	}
	applied := make(map[string]driver.Entry, len(entries))
	for _, entry := range entries {
		applied[entry.RevisionID] = entry
	}
	history := make([]HistoryEntry, 0, r.catalog.Len())
	for rev := range r.catalog.All() {
		entry, ok := applied[rev.ID]
		history = append(history, HistoryEntry{
			Revision:  rev,
			Applied:   ok,
			AppliedAt: entry.AppliedAt,
		})
	}
	return history, nil
}

// Drift is a mismatch between a catalog script and what the applied log
// recorded when that revision ran.
type Drift struct {
	RevisionID string
	Stored     string
	Computed   string
}

// Verify compares applied-log checksums against the catalog. Read-only;
// returns one drift per corrupted or unknown applied revision.
func (r *Runner) Verify(ctx context.Context) ([]Drift, error) {
	entries, err := r.driver.Log(ctx)
	if err != nil {
		return nil, err
	}
	var drifts []Drift
	for _, entry := range entries {
		rev, getErr := r.catalog.Get(entry.RevisionID)
		if getErr != nil {
			drifts = append(drifts, Drift{RevisionID: entry.RevisionID, Stored: entry.Checksum})
			continue
		}
		if rev.Checksum != entry.Checksum {
			drifts = append(drifts, Drift{
				RevisionID: entry.RevisionID,
				Stored:     entry.Checksum,
				Computed:   rev.Checksum,
			})
		}
	}
	return drifts, nil
}

func wantDirection(path []revision.Step, want revision.Direction, current, target string) error {
	for _, step := range path {
		if step.Direction != want {
			return fmt.Errorf(
				"target %q is %s of current %q; use the %s command",
				target, relation(want), current, step.Direction,
			)
		}
	}
	return nil
}

func relation(want revision.Direction) string {
	if want == revision.Up {
		return "an ancestor"
	}
	return "a descendant"
}
