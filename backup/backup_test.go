package backup_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/receiptvault/schemactl/backup"
	"github.com/receiptvault/schemactl/config"
)

// -- testing double for the dump tooling ----------

type runnerCall struct {
	name     string
	args     []string
	extraEnv []string
}

type fakeRunner struct {
	calls    []runnerCall
	dump     string // content written to the -f target on success
	stderr   string
	err      error
}

func (f *fakeRunner) Run(_ context.Context, extraEnv []string, name string, args ...string) (string, error) {
	f.calls = append(f.calls, runnerCall{name: name, args: args, extraEnv: extraEnv})
	if f.err != nil {
		return f.stderr, f.err
	}
	if i := slices.Index(args, "-f"); i >= 0 && i+1 < len(args) {
		if writeErr := os.WriteFile(args[i+1], []byte(f.dump), 0o644); writeErr != nil {
			return "", writeErr
		}
	}
	return "", nil
}

func devParams() config.Params {
	return config.Params{
		Environment: "dev",
		Host:        "localhost",
		Port:        "5432",
		Database:    "receipts",
		User:        "postgres",
		Password:    "hunter2",
	}
}

func fixedClock(stamp string) func() time.Time {
	parsed, err := time.Parse("20060102_150405", stamp)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return parsed }
}

func TestBackup(t *testing.T) {
	t.Parallel()

	t.Run("success returns a record for a non-empty dump", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		run := &fakeRunner{dump: "CREATE TABLE receipt ();"}
		engine := backup.NewEngine(dir,
			backup.WithCommandRunner(run),
			backup.WithClock(fixedClock("20260825_093000")),
		)

		record, err := engine.Backup(context.Background(), devParams())
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "dev_receipts_20260825_093000.sql"), record.Path)
		assert.Equal(t, "dev", record.Environment)
		assert.FileExists(t, record.Path)

		require.Len(t, run.calls, 1)
		call := run.calls[0]
		assert.Equal(t, "pg_dump", call.name)
		assert.Contains(t, call.args, "--no-owner")
		assert.Contains(t, call.args, "--no-acl")
		assert.Contains(t, call.extraEnv, "PGPASSWORD=hunter2")
	})

	t.Run("non-zero exit surfaces a DumpError and leaves no file", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		run := &fakeRunner{err: errors.New("connection refused"), stderr: "pg_dump: error: connection refused"}
		engine := backup.NewEngine(dir,
			backup.WithCommandRunner(run),
			backup.WithClock(fixedClock("20260825_093000")),
		)

		_, err := engine.Backup(context.Background(), devParams())
		var dumpErr *backup.DumpError
		require.ErrorAs(t, err, &dumpErr)
		assert.Equal(t, "pg_dump", dumpErr.Tool)
		assert.Contains(t, dumpErr.Stderr, "connection refused")

		entries, readErr := os.ReadDir(dir)
		require.NoError(t, readErr)
		assert.Empty(t, entries)
	})

	t.Run("empty dump output is a failure", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		engine := backup.NewEngine(dir,
			backup.WithCommandRunner(&fakeRunner{dump: ""}),
			backup.WithClock(fixedClock("20260825_093000")),
		)

		_, err := engine.Backup(context.Background(), devParams())
		var dumpErr *backup.DumpError
		require.ErrorAs(t, err, &dumpErr)

		entries, readErr := os.ReadDir(dir)
		require.NoError(t, readErr)
		assert.Empty(t, entries)
	})
}

func writeDump(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("-- dump\n"), 0o644))
}

func TestList(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeDump(t, dir, "dev_receipts_20260820_120000.sql")
	writeDump(t, dir, "dev_receipts_20260825_090000.sql")
	writeDump(t, dir, "dev_receipts_20260101_000000.sql")
	writeDump(t, dir, "prod_receipts_20260825_100000.sql") // other environment
	writeDump(t, dir, "not-a-dump.txt")

	engine := backup.NewEngine(dir)
	records, err := engine.List("dev")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, filepath.Join(dir, "dev_receipts_20260825_090000.sql"), records[0].Path)
	assert.Equal(t, filepath.Join(dir, "dev_receipts_20260820_120000.sql"), records[1].Path)
	assert.Equal(t, filepath.Join(dir, "dev_receipts_20260101_000000.sql"), records[2].Path)
	assert.True(t, records[0].CreatedAt.After(records[1].CreatedAt))
}

func TestListMissingDirectory(t *testing.T) {
	t.Parallel()
	engine := backup.NewEngine(filepath.Join(t.TempDir(), "absent"))
	records, err := engine.List("dev")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCleanup(t *testing.T) {
	t.Parallel()

	seed := func(t *testing.T) (string, *backup.Engine) {
		dir := t.TempDir()
		for _, stamp := range []string{
			"20260801_010000", "20260802_010000", "20260803_010000",
			"20260804_010000", "20260805_010000",
		} {
			writeDump(t, dir, "dev_receipts_"+stamp+".sql")
		}
		return dir, backup.NewEngine(dir)
	}

	t.Run("keeps the N most recent", func(t *testing.T) {
		t.Parallel()
		dir, engine := seed(t)
		removed, err := engine.Cleanup("dev", 2)
		require.NoError(t, err)
		assert.Len(t, removed, 3)

		remaining, err := engine.List("dev")
		require.NoError(t, err)
		require.Len(t, remaining, 2)
		assert.Equal(t, filepath.Join(dir, "dev_receipts_20260805_010000.sql"), remaining[0].Path)
		assert.Equal(t, filepath.Join(dir, "dev_receipts_20260804_010000.sql"), remaining[1].Path)

		// immediately re-running removes nothing
		removed, err = engine.Cleanup("dev", 2)
		require.NoError(t, err)
		assert.Empty(t, removed)
	})

	t.Run("keep zero deletes everything", func(t *testing.T) {
		t.Parallel()
		_, engine := seed(t)
		removed, err := engine.Cleanup("dev", 0)
		require.NoError(t, err)
		assert.Len(t, removed, 5)
	})

	t.Run("negative keep is rejected", func(t *testing.T) {
		t.Parallel()
		_, engine := seed(t)
		_, err := engine.Cleanup("dev", -1)
		assert.ErrorIs(t, err, backup.ErrNegativeKeep)
	})
}

func TestRestore(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		engine := backup.NewEngine(t.TempDir(), backup.WithCommandRunner(&fakeRunner{}))
		err := engine.Restore(context.Background(), devParams(), "/nowhere/dev_receipts_20260825_093000.sql")
		assert.ErrorIs(t, err, backup.ErrBackupNotFound)
	})

	t.Run("refuses files that are not schema dumps", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := filepath.Join(dir, "dump.tar")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		engine := backup.NewEngine(dir, backup.WithCommandRunner(&fakeRunner{}))
		err := engine.Restore(context.Background(), devParams(), path)
		assert.ErrorIs(t, err, backup.ErrBackupNotFound)
	})

	t.Run("feeds the dump to psql", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeDump(t, dir, "dev_receipts_20260825_093000.sql")
		run := &fakeRunner{}
		engine := backup.NewEngine(dir, backup.WithCommandRunner(run))

		path := filepath.Join(dir, "dev_receipts_20260825_093000.sql")
		require.NoError(t, engine.Restore(context.Background(), devParams(), path))

		require.Len(t, run.calls, 1)
		call := run.calls[0]
		assert.Equal(t, "psql", call.name)
		assert.Contains(t, call.args, path)
		assert.Contains(t, call.args, "ON_ERROR_STOP=1")
	})

	t.Run("psql failure surfaces a DumpError", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeDump(t, dir, "dev_receipts_20260825_093000.sql")
		run := &fakeRunner{err: errors.New("syntax error"), stderr: "psql: syntax error"}
		engine := backup.NewEngine(dir, backup.WithCommandRunner(run))

		err := engine.Restore(context.Background(), devParams(), filepath.Join(dir, "dev_receipts_20260825_093000.sql"))
		var dumpErr *backup.DumpError
		require.ErrorAs(t, err, &dumpErr)
		assert.Equal(t, "psql", dumpErr.Tool)
	})
}
