package revision

import (
	"fmt"
	"iter"
)

// Catalog is the immutable, validated revision chain. It is built once
// from a set of revisions and answers all ordering questions in memory,
// without touching the filesystem or the database.
type Catalog struct {
	byID  map[string]Revision
	order []string // root..head
	index map[string]int
}

func New(revisions []Revision) (*Catalog, error) {
	c := &Catalog{
		byID:  make(map[string]Revision, len(revisions)),
		index: make(map[string]int, len(revisions)),
	}
	if len(revisions) == 0 {
		return c, nil
	}
	children := make(map[string]string, len(revisions))
	var root string
	for _, rev := range revisions {
		if rev.ID == Root {
			return nil, fmt.Errorf("revision with empty id: %w", ErrDisconnectedHistory)
		}
		if _, exists := c.byID[rev.ID]; exists {
			return nil, fmt.Errorf("duplicate revision %q: %w", rev.ID, ErrDisconnectedHistory)
		}
		c.byID[rev.ID] = rev
		if rev.ParentID == Root {
			if root != "" {
				return nil, fmt.Errorf("multiple root revisions %q and %q: %w", root, rev.ID, ErrDisconnectedHistory)
			}
			root = rev.ID
			continue
		}
		if prev, exists := children[rev.ParentID]; exists {
			return nil, fmt.Errorf("revisions %q and %q share parent %q: %w", prev, rev.ID, rev.ParentID, ErrDisconnectedHistory)
		}
		children[rev.ParentID] = rev.ID
	}
	if root == "" {
		return nil, fmt.Errorf("no root revision: %w", ErrDisconnectedHistory)
	}
	for id := root; id != ""; id = children[id] {
		if _, exists := c.byID[id]; !exists {
			return nil, fmt.Errorf("revision %q references missing parent chain member: %w", id, ErrDisconnectedHistory)
		}
		c.index[id] = len(c.order)
		c.order = append(c.order, id)
	}
	if len(c.order) != len(c.byID) {
		return nil, fmt.Errorf("%d of %d revisions unreachable from root %q: %w",
			len(c.byID)-len(c.order), len(c.byID), root, ErrDisconnectedHistory)
	}
	return c, nil
}

func (c *Catalog) Len() int {
	return len(c.order)
}

func (c *Catalog) Get(id string) (Revision, error) {
	rev, exists := c.byID[id]
	if !exists {
		return Revision{}, fmt.Errorf("revision %q: %w", id, ErrUnknownRevision)
	}
	return rev, nil
}

// Head returns the latest revision, the one no other revision names as
// its parent.
func (c *Catalog) Head() (Revision, error) {
	if len(c.order) == 0 {
		return Revision{}, ErrEmptyHistory
	}
	return c.byID[c.order[len(c.order)-1]], nil
}

// All enumerates revisions from root to head. The sequence is
// re-enumerable and has no side effects.
func (c *Catalog) All() iter.Seq[Revision] {
	return func(yield func(Revision) bool) {
		for _, id := range c.order {
			if !yield(c.byID[id]) {
				return
			}
		}
	}
}

// ResolvePath returns the ordered steps transforming the schema at
// currentID into the schema at targetID. A forward path applies up
// scripts in chain order; a backward path applies down scripts in
// reverse chain order. Either id may be Root.
func (c *Catalog) ResolvePath(currentID, targetID string) ([]Step, error) {
	cur, err := c.position(currentID)
	if err != nil {
		return nil, err
	}
	tgt, err := c.position(targetID)
	if err != nil {
		return nil, err
	}
	switch {
	case tgt > cur:
		steps := make([]Step, 0, tgt-cur)
		for i := cur + 1; i <= tgt; i++ {
			steps = append(steps, Step{Revision: c.byID[c.order[i]], Direction: Up})
		}
		return steps, nil
	case tgt < cur:
		steps := make([]Step, 0, cur-tgt)
		for i := cur; i > tgt; i-- {
			steps = append(steps, Step{Revision: c.byID[c.order[i]], Direction: Down})
		}
		return steps, nil
	default:
		return nil, nil
	}
}

func (c *Catalog) position(id string) (int, error) {
	if id == Root {
		return -1, nil
	}
	if _, exists := c.byID[id]; !exists {
		return 0, fmt.Errorf("revision %q: %w", id, ErrUnknownRevision)
	}
	pos, exists := c.index[id]
	if !exists {
		return 0, fmt.Errorf("revision %q is not on the chain: %w", id, ErrDisconnectedHistory)
	}
	return pos, nil
}
