package revision

import (
	"bufio"
	"fmt"
	"io/fs"
	"strings"
)

const (
	upSuffix   = "_up.sql"
	downSuffix = "_down.sql"

	headerRevision     = "revision"
	headerParent       = "parent"
	headerIrreversible = "irreversible"

	// value of the parent header naming the start of the chain
	rootParent = "root"
)

// Load builds a catalog from a migrations directory. Every revision is a
// NNN_slug_up.sql file with a matching NNN_slug_down.sql; identity and
// linkage come from the "-- revision:" and "-- parent:" headers, never
// from the filename. A missing down file, or one carrying an
// "-- irreversible:" header, marks the revision irreversible.
func Load(fsys fs.FS) (*Catalog, error) {
	var revisions []Revision
	if err := fs.WalkDir(
		fsys, ".", func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), upSuffix) {
				return nil
			}
			rev, parseErr := parseRevision(fsys, path)
			if parseErr != nil {
				return fmt.Errorf("parse %s: %w", path, parseErr)
			}
			revisions = append(revisions, rev)
			return nil
		},
	); err != nil {
		return nil, fmt.Errorf("scan migrations failed: %w", err)
	}
	catalog, err := New(revisions)
	if err != nil {
		return nil, fmt.Errorf("build revision catalog failed: %w", err)
	}
	return catalog, nil
}

func parseRevision(fsys fs.FS, upPath string) (Revision, error) {
	upBytes, err := fs.ReadFile(fsys, upPath)
	if err != nil {
		return Revision{}, fmt.Errorf("read up script failed: %w", err)
	}
	upHeaders := parseHeaders(string(upBytes))
	id := upHeaders[headerRevision]
	if id == "" {
		return Revision{}, fmt.Errorf("missing %q header", headerRevision)
	}
	parent, exists := upHeaders[headerParent]
	if !exists {
		return Revision{}, fmt.Errorf("missing %q header", headerParent)
	}
	if strings.EqualFold(parent, rootParent) {
		parent = Root
	}
	rev := Revision{
		ID:       id,
		ParentID: parent,
		UpSQL:    string(upBytes),
	}
	downPath := strings.TrimSuffix(upPath, upSuffix) + downSuffix
	downBytes, readDownErr := fs.ReadFile(fsys, downPath)
	if readDownErr != nil {
		rev.Irreversible = true
		rev.Reason = "no down script provided"
		rev.Checksum = checksum(rev.UpSQL, "")
		return rev, nil
	}
	downHeaders := parseHeaders(string(downBytes))
	if reason, irreversible := downHeaders[headerIrreversible]; irreversible {
		rev.Irreversible = true
		rev.Reason = reason
	} else {
		rev.DownSQL = string(downBytes)
	}
	rev.Checksum = checksum(rev.UpSQL, string(downBytes))
	return rev, nil
}

// parseHeaders reads the leading "-- key: value" comment block of a
// migration script. The block ends at the first non-comment line.
func parseHeaders(script string) map[string]string {
	headers := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(script))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}
		key, value, found := strings.Cut(strings.TrimPrefix(line, "--"), ":")
		if !found {
			continue
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return headers
}
