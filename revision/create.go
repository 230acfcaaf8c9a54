package revision

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
)

const upTemplate = `-- revision: %s
-- parent: %s

-- TODO: forward migration statements
`

const downTemplate = `-- revision: %s

-- TODO: reverse migration statements
`

// Create appends a new templated revision pair to dir, linked to the
// current head of the catalog so the single-chain invariant holds. It
// returns the paths of the written up and down scripts.
func Create(dir string, catalog *Catalog, message string) (string, string, error) {
	slug := slugify(message)
	if slug == "" {
		return "", "", errors.New("create needs a non-empty message")
	}
	parent := rootParent
	sequence := 1
	if head, err := catalog.Head(); err == nil {
		parent = head.ID
		sequence = headSequence(head.ID) + 1
	}
	id := fmt.Sprintf("%03d_%s", sequence, slug)
	if _, err := catalog.Get(id); err == nil {
		return "", "", fmt.Errorf("revision %q already exists", id)
	}
	upPath := filepath.Join(dir, id+upSuffix)
	downPath := filepath.Join(dir, id+downSuffix)
	if err := os.WriteFile(upPath, fmt.Appendf(nil, upTemplate, id, parent), 0o644); err != nil {
		return "", "", fmt.Errorf("write up script failed: %w", err)
	}
	if err := os.WriteFile(downPath, fmt.Appendf(nil, downTemplate, id), 0o644); err != nil {
		return "", "", fmt.Errorf("write down script failed: %w", err)
	}
	return upPath, downPath, nil
}

func headSequence(id string) int {
	digits, _, _ := strings.Cut(id, "_")
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

func slugify(message string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(message)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
