// Package revision models the ordered history of schema migrations as a
// single parent-linked chain and resolves application paths between
// arbitrary points of that chain.
package revision

import "errors"

// Root marks the state before any revision has been applied. It is used
// both as the parent of the first revision and as a migration target.
const Root = ""

var (
	ErrUnknownRevision     = errors.New("unknown revision")
	ErrDisconnectedHistory = errors.New("disconnected history")
	ErrEmptyHistory        = errors.New("empty history")
)

type Direction rune

const (
	Up   Direction = 'u'
	Down Direction = 'd'
)

func (d Direction) String() string {
	if d == Down {
		return "down"
	}
	return "up"
}

// Revision is one migration unit. Ordering is determined solely by the
// parent linkage; the numeric filename prefix is cosmetic.
type Revision struct {
	ID       string
	ParentID string // Root for the first revision
	UpSQL    string
	DownSQL  string // empty when the revision is irreversible

	// Irreversible revisions refuse to be migrated down past. Reason is
	// the rationale shown to the operator.
	Irreversible bool
	Reason       string

	Checksum string
}

// Reversible reports whether the revision carries a usable down script.
func (r Revision) Reversible() bool {
	return !r.Irreversible
}

// Step is one unit of work in a resolved migration path.
type Step struct {
	Revision  Revision
	Direction Direction
}

// SQL returns the script the step executes.
func (s Step) SQL() string {
	if s.Direction == Down {
		return s.Revision.DownSQL
	}
	return s.Revision.UpSQL
}
