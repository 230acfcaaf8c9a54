// Command schemactl evolves the receiptvault Postgres schema: it applies
// and reverts chain-ordered revisions, snapshots the schema before every
// destructive change, and manages the resulting backup files.
package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/receiptvault/schemactl/backup"
	"github.com/receiptvault/schemactl/runner"
)

// Exit codes; scripts driving schemactl branch on these.
const (
	exitFailure      = 1
	exitUsage        = 2
	exitBackupFailed = 3
	exitStepFailed   = 4
	exitIrreversible = 5
)

// errUsage marks operator mistakes (bad flags, unknown environments) as
// distinct from runtime failures.
var errUsage = errors.New("invalid arguments")

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)
	root := newRootCommand(log)
	if err := root.Execute(); err != nil {
		log.Error("schemactl failed", "error", err)
		os.Exit(exitStatus(err))
	}
}

func exitStatus(err error) int {
	var irreversibleErr *runner.IrreversibleError
	var stepErr *runner.StepError
	var dumpErr *backup.DumpError
	switch {
	case errors.As(err, &irreversibleErr):
		return exitIrreversible
	case errors.As(err, &stepErr):
		return exitStepFailed
	case errors.As(err, &dumpErr):
		return exitBackupFailed
	case errors.Is(err, errUsage), errors.Is(err, backup.ErrNegativeKeep):
		return exitUsage
	default:
		return exitFailure
	}
}
