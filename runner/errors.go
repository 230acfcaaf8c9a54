package runner

import (
	"fmt"

	"github.com/receiptvault/schemactl/revision"
)

// StepError reports the revision whose script failed. Steps committed
// before it stay applied; the pointer still names the last success.
type StepError struct {
	RevisionID string
	Direction  revision.Direction
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration step %s (%s) failed: %v", e.RevisionID, e.Direction, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// IrreversibleError reports a down migration across a revision that
// deliberately disallows downgrades. Distinct from StepError so an
// operator can tell "broken script" from "downgrade disallowed".
type IrreversibleError struct {
	RevisionID string
	Reason     string
}

func (e *IrreversibleError) Error() string {
	msg := fmt.Sprintf("revision %s is irreversible", e.RevisionID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}
