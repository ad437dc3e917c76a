package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lakehouse/metacoord/catalog"
	"github.com/lakehouse/metacoord/config"
	"github.com/lakehouse/metacoord/fs"
	"github.com/lakehouse/metacoord/log"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeMetastore) {
	t.Helper()
	cat := newFakeMetastore()
	c := New(cat, fs.LocalDriver{}, config.Default(), log.New())
	return c, cat
}

func TestBeginQueryIsIdempotentPerQueryID(t *testing.T) {
	c, _ := newTestCoordinator(t)
	a := c.BeginQuery("q1", "alice")
	b := c.BeginQuery("q1", "alice")
	require.Same(t, a, b)

	c.CleanupQuery("q1")
	d := c.BeginQuery("q1", "alice")
	require.NotSame(t, a, d)
}

// Ordinary table/partition action submissions are C1/C6's shared
// submissions (§4.8): they keep the transaction in SHARED, so a read
// immediately afterward still sees the transaction's own buffered action
// (§1(a), §4.2's get_table-from-action-log contract) rather than being
// rejected.
func TestSharedSubmissionKeepsTransactionReadable(t *testing.T) {
	c, cat := newTestCoordinator(t)
	tx := c.BeginQuery("q1", "alice")

	key := catalog.Key{SchemaName: "db", TableName: "t"}
	cat.tables[key] = catalog.Table{SchemaName: "db", TableName: "t"}

	_, err := tx.GetTable(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, Shared, tx.State())

	altered := catalog.Table{SchemaName: "db", TableName: "t", Owner: "alice"}
	require.NoError(t, tx.PutTableAction(key, &Action{Kind: Alter, Identity: "alice", Table: altered}))
	require.Equal(t, Shared, tx.State())

	got, err := tx.GetTable(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Owner)
}

// Administrative ops (create_database, drop_database) are the only ones
// that drive the transaction EXCLUSIVE, and once there, further reads are
// rejected with UnsupportedMix (§4.2, §4.8).
func TestAdministrativeOpGoesExclusiveAndRejectsFurtherReads(t *testing.T) {
	c, _ := newTestCoordinator(t)
	tx := c.BeginQuery("q1", "alice")

	require.NoError(t, tx.CreateDatabase(context.Background(), catalog.Schema{Name: "newdb"}))
	require.Equal(t, Exclusive, tx.State())

	_, err := tx.GetTable(context.Background(), catalog.Key{SchemaName: "db", TableName: "t"})
	require.True(t, Is(err, UnsupportedMix))
}

func TestCreateDatabaseRequiresEmptyState(t *testing.T) {
	c, _ := newTestCoordinator(t)
	tx := c.BeginQuery("q1", "alice")

	key := catalog.Key{SchemaName: "db", TableName: "t"}
	require.NoError(t, tx.PutTableAction(key, &Action{Kind: Add, Identity: "alice", Table: catalog.Table{SchemaName: "db", TableName: "t"}}))
	require.Equal(t, Shared, tx.State())

	err := tx.CreateDatabase(context.Background(), catalog.Schema{Name: "newdb"})
	require.True(t, Is(err, UnsupportedMix))
}

// Once an administrative op has claimed EXCLUSIVE access, no further shared
// submission may be buffered (§3 invariant 4, reverse direction).
func TestSharedSubmissionRejectedAfterExclusive(t *testing.T) {
	c, _ := newTestCoordinator(t)
	tx := c.BeginQuery("q1", "alice")

	require.NoError(t, tx.CreateDatabase(context.Background(), catalog.Schema{Name: "newdb"}))
	require.Equal(t, Exclusive, tx.State())

	key := catalog.Key{SchemaName: "db", TableName: "t"}
	err := tx.PutTableAction(key, &Action{Kind: Add, Identity: "alice", Table: catalog.Table{SchemaName: "db", TableName: "t"}})
	require.True(t, Is(err, UnsupportedMix))
}

func TestCommitHappyPathReachesFinishedAndRejectsRepeat(t *testing.T) {
	c, cat := newTestCoordinator(t)
	tx := c.BeginQuery("q1", "alice")

	dir := t.TempDir()
	target := filepath.Join(dir, "t")
	key := catalog.Key{SchemaName: "db", TableName: "t"}
	table := catalog.Table{SchemaName: "db", TableName: "t", Storage: catalog.StorageDescriptor{Location: target}}

	require.NoError(t, tx.PutTableAction(key, &Action{Kind: Add, Identity: "alice", Table: table}))
	require.NoError(t, tx.Commit(context.Background()))
	require.Equal(t, Finished, tx.State())

	_, err := cat.GetTable(context.Background(), key)
	require.NoError(t, err)

	info, err := os.Stat(target)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	err = tx.Commit(context.Background())
	require.True(t, Is(err, AlreadyFinished))
}

func TestCommitFailureRollsBackAndStillReachesFinished(t *testing.T) {
	c, cat := newTestCoordinator(t)
	tx := c.BeginQuery("q1", "alice")

	dir := t.TempDir()
	target := filepath.Join(dir, "t")
	require.NoError(t, os.Mkdir(target, 0o755))

	key := catalog.Key{SchemaName: "db", TableName: "t"}
	table := catalog.Table{SchemaName: "db", TableName: "t", Storage: catalog.StorageDescriptor{Location: target}}

	require.NoError(t, tx.PutTableAction(key, &Action{Kind: Add, Identity: "alice", Table: table}))

	err := tx.Commit(context.Background())
	require.Error(t, err)
	require.Equal(t, Finished, tx.State())

	_, getErr := cat.GetTable(context.Background(), key)
	require.Error(t, getErr)
}

func TestRollbackScrubsStagingAndReachesFinished(t *testing.T) {
	c, _ := newTestCoordinator(t)
	tx := c.BeginQuery("q1", "alice")

	dir := t.TempDir()
	staging := filepath.Join(dir, "staging")
	require.NoError(t, os.MkdirAll(staging, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "q1_0001"), []byte("x"), 0o644))

	_, err := tx.DeclareIntent(StageAndMove, staging, catalog.Key{SchemaName: "db", TableName: "t"})
	require.NoError(t, err)

	require.NoError(t, tx.Rollback(context.Background()))
	require.Equal(t, Finished, tx.State())

	_, statErr := os.Stat(filepath.Join(staging, "q1_0001"))
	require.True(t, os.IsNotExist(statErr), "tagged staged file must be scrubbed on rollback")

	err = tx.Rollback(context.Background())
	require.True(t, Is(err, AlreadyFinished))
}
