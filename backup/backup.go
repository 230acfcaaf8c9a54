// Package backup produces and manages point-in-time schema dumps using
// the database engine's native tooling. Dumps are plain files under a
// backups directory, named by environment, database and creation time;
// they are independent of migration bookkeeping.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/receiptvault/schemactl/config"
)

const timestampLayout = "20060102_150405"

var (
	ErrBackupNotFound = errors.New("backup not found")
	ErrNegativeKeep   = errors.New("keep must be a non-negative integer")
)

// DumpError reports a failed pg_dump or psql invocation, carrying the
// tool's exit status and captured stderr.
type DumpError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *DumpError) Error() string {
	msg := fmt.Sprintf("%s failed with exit status %d", e.Tool, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *DumpError) Unwrap() error {
	return e.Err
}

// Record describes one immutable dump file.
type Record struct {
	Path        string
	Environment string
	CreatedAt   time.Time
}

// CommandRunner executes the dump tooling. The process implementation
// lives in exec.go; tests substitute fakes.
type CommandRunner interface {
	Run(ctx context.Context, extraEnv []string, name string, args ...string) (stderr string, err error)
}

type Engine struct {
	dir string
	run CommandRunner
	now func() time.Time
	log *slog.Logger
}

func NewEngine(dir string, options ...Option) *Engine {
	e := &Engine{
		dir: dir,
		run: execRunner{},
		now: time.Now,
		log: slog.Default(),
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// Backup dumps the environment's full schema to a new file and returns
// its record. The record is returned only after pg_dump reports success
// and the output file is non-empty; on any failure the partial file is
// removed.
func (e *Engine) Backup(ctx context.Context, params config.Params) (Record, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return Record{}, fmt.Errorf("create backups directory failed: %w", err)
	}
	createdAt := e.now()
	path := filepath.Join(e.dir, fmt.Sprintf(
		"%s_%s_%s.sql",
		params.Environment, params.Database, createdAt.Format(timestampLayout),
	))
	e.log.Info("creating backup", "environment", params.Environment, "file", path)
	stderr, err := e.run.Run(ctx,
		[]string{"PGPASSWORD=" + params.Password},
		"pg_dump",
		"-h", params.Host,
		"-p", params.Port,
		"-U", params.User,
		"-d", params.Database,
		"-f", path,
		"--no-owner",
		"--no-acl",
	)
	if err != nil {
		_ = os.Remove(path)
		return Record{}, &DumpError{Tool: "pg_dump", ExitCode: exitCode(err), Stderr: stderr, Err: err}
	}
	info, statErr := os.Stat(path)
	if statErr != nil || info.Size() == 0 {
		_ = os.Remove(path)
		return Record{}, &DumpError{Tool: "pg_dump", Stderr: "dump produced no output", Err: statErr}
	}
	return Record{Path: path, Environment: params.Environment, CreatedAt: createdAt}, nil
}

// List returns the environment's records, most recent first.
func (e *Engine) List(environment string) ([]Record, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backups directory failed: %w", err)
	}
	var records []Record
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		record, ok := parseRecord(e.dir, entry.Name(), environment)
		if !ok {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].Path > records[j].Path
	})
	return records, nil
}

// Restore replaces the environment's live schema content with the dump
// at path. Destructive; callers confirm intent before getting here.
func (e *Engine) Restore(ctx context.Context, params config.Params, path string) error {
	if filepath.Ext(path) != ".sql" {
		return fmt.Errorf("%s is not a schema dump: %w", path, ErrBackupNotFound)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%s: %w", path, ErrBackupNotFound)
	}
	e.log.Info("restoring backup", "environment", params.Environment, "file", path)
	stderr, err := e.run.Run(ctx,
		[]string{"PGPASSWORD=" + params.Password},
		"psql",
		"-h", params.Host,
		"-p", params.Port,
		"-U", params.User,
		"-d", params.Database,
		"-v", "ON_ERROR_STOP=1",
		"-f", path,
	)
	if err != nil {
		return &DumpError{Tool: "psql", ExitCode: exitCode(err), Stderr: stderr, Err: err}
	}
	return nil
}

// Cleanup deletes all but the keep most recent records for the
// environment and returns the deleted records. keep = 0 deletes all.
func (e *Engine) Cleanup(environment string, keep int) ([]Record, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep %d: %w", keep, ErrNegativeKeep)
	}
	records, err := e.List(environment)
	if err != nil {
		return nil, err
	}
	if len(records) <= keep {
		return nil, nil
	}
	stale := records[keep:]
	for _, record := range stale {
		e.log.Info("removing old backup", "file", record.Path)
		if err := os.Remove(record.Path); err != nil {
			return nil, fmt.Errorf("remove old backup failed: %w", err)
		}
	}
	return stale, nil
}

// parseRecord recovers a record from a "<env>_<database>_<timestamp>.sql"
// filename. Environment names never contain underscores; the timestamp
// is the fixed-width tail.
func parseRecord(dir, name, environment string) (Record, bool) {
	base, isDump := strings.CutSuffix(name, ".sql")
	if !isDump || !strings.HasPrefix(base, environment+"_") {
		return Record{}, false
	}
	if len(base) < len(timestampLayout) {
		return Record{}, false
	}
	createdAt, err := time.Parse(timestampLayout, base[len(base)-len(timestampLayout):])
	if err != nil {
		return Record{}, false
	}
	return Record{
		Path:        filepath.Join(dir, name),
		Environment: environment,
		CreatedAt:   createdAt,
	}, true
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
