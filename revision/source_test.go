package revision_test

import (
	"os"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/receiptvault/schemactl/revision"
)

func script(lines ...string) *fstest.MapFile {
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	return &fstest.MapFile{Data: []byte(content)}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("builds the chain from headers, not filenames", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{
			// filename prefixes deliberately contradict the linkage
			"900_first_up.sql":    script("-- revision: first", "-- parent: root", "CREATE TABLE t (id INT);"),
			"900_first_down.sql":  script("-- revision: first", "DROP TABLE t;"),
			"100_second_up.sql":   script("-- revision: second", "-- parent: first", "ALTER TABLE t ADD COLUMN n INT;"),
			"100_second_down.sql": script("-- revision: second", "ALTER TABLE t DROP COLUMN n;"),
		}
		catalog, err := revision.Load(fsys)
		require.NoError(t, err)
		require.Equal(t, 2, catalog.Len())

		head, err := catalog.Head()
		require.NoError(t, err)
		assert.Equal(t, "second", head.ID)

		first, err := catalog.Get("first")
		require.NoError(t, err)
		assert.Equal(t, revision.Root, first.ParentID)
		assert.True(t, first.Reversible())
		assert.Contains(t, first.DownSQL, "DROP TABLE t;")
		assert.NotEmpty(t, first.Checksum)
	})

	t.Run("missing down file marks the revision irreversible", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{
			"001_only_up.sql": script("-- revision: only", "-- parent: root", "SELECT 1;"),
		}
		catalog, err := revision.Load(fsys)
		require.NoError(t, err)
		only, err := catalog.Get("only")
		require.NoError(t, err)
		assert.True(t, only.Irreversible)
		assert.Equal(t, "no down script provided", only.Reason)
		assert.Empty(t, only.DownSQL)
	})

	t.Run("irreversible header carries the rationale", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{
			"001_enum_up.sql":   script("-- revision: enum", "-- parent: root", "ALTER TYPE p ADD VALUE 'x';"),
			"001_enum_down.sql": script("-- revision: enum", "-- irreversible: enum values cannot be removed"),
		}
		catalog, err := revision.Load(fsys)
		require.NoError(t, err)
		enum, err := catalog.Get("enum")
		require.NoError(t, err)
		assert.True(t, enum.Irreversible)
		assert.Equal(t, "enum values cannot be removed", enum.Reason)
		assert.Empty(t, enum.DownSQL)
	})

	t.Run("missing revision header fails", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{
			"001_bad_up.sql": script("-- parent: root", "SELECT 1;"),
		}
		_, err := revision.Load(fsys)
		assert.ErrorContains(t, err, "revision")
	})

	t.Run("missing parent header fails", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{
			"001_bad_up.sql": script("-- revision: bad", "SELECT 1;"),
		}
		_, err := revision.Load(fsys)
		assert.ErrorContains(t, err, "parent")
	})

	t.Run("malformed chain fails with disconnected history", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{
			"001_a_up.sql": script("-- revision: a", "-- parent: root", "SELECT 1;"),
			"002_b_up.sql": script("-- revision: b", "-- parent: missing", "SELECT 2;"),
		}
		_, err := revision.Load(fsys)
		assert.ErrorIs(t, err, revision.ErrDisconnectedHistory)
	})

	t.Run("non-sql files are ignored", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{
			"README.md":         script("# migrations"),
			"001_a_up.sql":      script("-- revision: a", "-- parent: root", "SELECT 1;"),
			"001_a_down.sql":    script("-- revision: a", "SELECT -1;"),
			"notes/draft.sql":   script("SELECT 'not a migration';"),
			"001_a_up.sql.bak":  script("SELECT 'backup copy';"),
			"header_only.fails": script("-- revision: x"),
		}
		catalog, err := revision.Load(fsys)
		require.NoError(t, err)
		assert.Equal(t, 1, catalog.Len())
	})
}

// The repository's own migration chain must always load.
func TestLoadShippedMigrations(t *testing.T) {
	t.Parallel()
	catalog, err := revision.Load(os.DirFS("../migrations"))
	require.NoError(t, err)
	require.Equal(t, 7, catalog.Len())

	head, err := catalog.Head()
	require.NoError(t, err)
	assert.Equal(t, "007_fix_user_identity_pkey", head.ID)

	enum, err := catalog.Get("004_add_identity_providers")
	require.NoError(t, err)
	assert.True(t, enum.Irreversible)
	assert.NotEmpty(t, enum.Reason)

	var ids []string
	for rev := range catalog.All() {
		ids = append(ids, rev.ID)
	}
	assert.Equal(t, []string{
		"001_initial_schema",
		"002_user_identity",
		"003_conflicting_schema",
		"004_add_identity_providers",
		"005_purchased_item_unit",
		"006_receipt_shop_id_int",
		"007_fix_user_identity_pkey",
	}, ids)
}
