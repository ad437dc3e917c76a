package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lakehouse/metacoord/catalog"
	"github.com/lakehouse/metacoord/config"
	"github.com/lakehouse/metacoord/fs"
	"github.com/lakehouse/metacoord/log"
	"github.com/lakehouse/metacoord/metrics"
)

func newTestCommitter(t *testing.T) (*committer, *fakeMetastore, string) {
	t.Helper()
	dir := t.TempDir()
	cat := newFakeMetastore()
	orch := fs.New(fs.LocalDriver{}, 4, log.New())
	cfg := config.Default()
	c := newCommitter(cat, orch, cfg, log.New(), metrics.New(), nil)
	return c, cat, dir
}

// Scenario 1: table create with an existing path.
func TestScenarioCreateTableWithExistingPath(t *testing.T) {
	c, cat, dir := newTestCommitter(t)
	target := filepath.Join(dir, "new_t")
	require.NoError(t, os.Mkdir(target, 0o755))

	actions := newActionLog()
	table := catalog.Table{SchemaName: "db", TableName: "t", Storage: catalog.StorageDescriptor{Location: target}}
	require.NoError(t, actions.PutTableAction(table.Key(), &Action{Kind: Add, Identity: "alice", Table: table}))

	err := c.Prepare(context.Background(), actions, "q1")
	require.ErrorIs(t, err, fs.ErrPathAlreadyExists)

	_, getErr := cat.GetTable(context.Background(), table.Key())
	require.Error(t, getErr, "catalog must have no row for db.t")

	info, statErr := os.Stat(target)
	require.NoError(t, statErr)
	require.True(t, info.IsDir(), "pre-existing directory must be untouched")
}

// Scenario 2: insert into an unpartitioned table.
func TestScenarioInsertIntoUnpartitionedTable(t *testing.T) {
	c, cat, dir := newTestCommitter(t)
	tableDir := filepath.Join(dir, "t")
	staging := filepath.Join(tableDir, "_staging_q2")
	require.NoError(t, os.MkdirAll(staging, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "f_q2_0001"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "f_q2_0002"), []byte("b"), 0o644))

	rowCount := int64(10)
	tableKey := catalog.Key{SchemaName: "db", TableName: "t"}
	cat.tableStats[tableKey] = catalog.Statistics{Basic: catalog.BasicStatistics{RowCount: &rowCount}}

	table := catalog.Table{SchemaName: "db", TableName: "t", Storage: catalog.StorageDescriptor{Location: tableDir}}

	newRowCount, newFileCount := int64(5), int64(2)
	actions := newActionLog()
	require.NoError(t, actions.PutTableAction(tableKey, &Action{
		Kind: InsertExisting, Identity: "alice", Table: table,
		InsertFiles: []string{filepath.Join(staging, "f_q2_0001"), filepath.Join(staging, "f_q2_0002")},
		StatisticsUpdate: catalog.Statistics{Basic: catalog.BasicStatistics{RowCount: &newRowCount, FileCount: &newFileCount}},
	}))

	require.NoError(t, c.Prepare(context.Background(), actions, "q2"))
	require.NoError(t, c.Wait())
	require.NoError(t, c.Apply(context.Background()))

	_, err := os.Stat(filepath.Join(tableDir, "f_q2_0001"))
	require.NoError(t, err, "file must land under the table directory with its original name")
	_, err = os.Stat(filepath.Join(tableDir, "f_q2_0002"))
	require.NoError(t, err)

	stats := cat.tableStats[tableKey]
	require.Equal(t, int64(15), *stats.Basic.RowCount)
}

// Scenario 3: insert then a metastore failure during stats update.
func TestScenarioInsertThenMetastoreFailureRollsBackFiles(t *testing.T) {
	c, cat, dir := newTestCommitter(t)
	tableDir := filepath.Join(dir, "t")
	staging := filepath.Join(tableDir, "_staging_q2")
	require.NoError(t, os.MkdirAll(staging, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "f_q2_0001"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "f_q2_0002"), []byte("b"), 0o644))
	cat.corruptedStats = false

	tableKey := catalog.Key{SchemaName: "db", TableName: "t"}
	table := catalog.Table{SchemaName: "db", TableName: "t", Storage: catalog.StorageDescriptor{Location: tableDir}}

	actions := newActionLog()
	require.NoError(t, actions.PutTableAction(tableKey, &Action{
		Kind: InsertExisting, Identity: "alice", Table: table,
		InsertFiles: []string{filepath.Join(staging, "f_q2_0001"), filepath.Join(staging, "f_q2_0002")},
	}))

	require.NoError(t, c.Prepare(context.Background(), actions, "q2"))
	require.NoError(t, c.Wait())

	// Simulate a catalog failure during the apply phase's stats update by
	// injecting a Metastore that always fails UpdateTableStatistics.
	failing := &failingStatsMetastore{fakeMetastore: cat}
	c.cat = failing

	err := c.Apply(context.Background())
	require.Error(t, err)

	errs := c.Undo(context.Background())
	require.Empty(t, errs)

	_, err = os.Stat(filepath.Join(tableDir, "f_q2_0001"))
	require.True(t, os.IsNotExist(err), "files must be cleaned back out of the table directory")
	_, err = os.Stat(filepath.Join(tableDir, "f_q2_0002"))
	require.True(t, os.IsNotExist(err))

	stats := cat.tableStats[tableKey]
	require.Nil(t, stats.Basic.RowCount, "catalog stats must be unchanged")
}

type failingStatsMetastore struct {
	*fakeMetastore
}

func (f *failingStatsMetastore) UpdateTableStatistics(ctx context.Context, key catalog.Key, stats catalog.Statistics, merge bool) error {
	return catalog.NewError(catalog.CatalogErr, "injected failure")
}

// Scenario 5: in-place ALTER when current location equals new location.
func TestScenarioAlterInPlaceUsesTempDirectory(t *testing.T) {
	c, cat, dir := newTestCommitter(t)
	loc := filepath.Join(dir, "t")
	require.NoError(t, os.Mkdir(loc, 0o755))

	tableKey := catalog.Key{SchemaName: "db", TableName: "t"}
	cat.tables[tableKey] = catalog.Table{
		SchemaName: "db", TableName: "t",
		Columns: []catalog.Column{{Name: "a", Type: "int"}},
		Storage: catalog.StorageDescriptor{Location: loc},
	}

	next := catalog.Table{
		SchemaName: "db", TableName: "t",
		Columns: []catalog.Column{{Name: "a", Type: "int"}, {Name: "b", Type: "string"}},
		Storage: catalog.StorageDescriptor{Location: loc},
	}

	actions := newActionLog()
	require.NoError(t, actions.PutTableAction(tableKey, &Action{Kind: Alter, Identity: "alice", QueryID: "q5", Table: next}))

	require.NoError(t, c.Prepare(context.Background(), actions, "q5"))
	require.NoError(t, c.Wait())
	require.NoError(t, c.Apply(context.Background()))

	newLocInfo, err := os.Stat(loc)
	require.NoError(t, err)
	require.True(t, newLocInfo.IsDir(), "new directory must have been materialized at the original location")

	require.NoError(t, c.Irreversible(context.Background()))
	require.NoError(t, c.Finish(context.Background(), newIntentRegistry(), []string{"q5"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), "_temp_", "the temp sibling must be deleted on finish")
	}
}

// Scenario 6: concurrent external drop observed during apply.
func TestScenarioConcurrentExternalDropDuringApply(t *testing.T) {
	c, cat, dir := newTestCommitter(t)
	loc := filepath.Join(dir, "t")
	require.NoError(t, os.Mkdir(loc, 0o755))

	tableKey := catalog.Key{SchemaName: "db", TableName: "t"}
	cat.tables[tableKey] = catalog.Table{SchemaName: "db", TableName: "t", Storage: catalog.StorageDescriptor{Location: loc}}

	next := catalog.Table{SchemaName: "db", TableName: "t", Storage: catalog.StorageDescriptor{Location: loc}}
	actions := newActionLog()
	require.NoError(t, actions.PutTableAction(tableKey, &Action{Kind: Alter, Identity: "alice", QueryID: "q6", Table: next}))

	require.NoError(t, c.Prepare(context.Background(), actions, "q6"))
	require.NoError(t, c.Wait())

	// External actor drops the table between prepare and apply.
	delete(cat.tables, tableKey)

	err := c.Apply(context.Background())
	require.Error(t, err)
	require.True(t, Is(err, TransactionConflict))

	errs := c.Undo(context.Background())
	require.Empty(t, errs)
}

// Scenario 4: row-level delete on a partitioned ACID table.
func TestScenarioDeleteRowsOnPartitionedAcidTable(t *testing.T) {
	c, cat, dir := newTestCommitter(t)

	tableKey := catalog.Key{SchemaName: "db", TableName: "p"}
	interlock := newACIDInterlock(cat, log.New())
	_, err := interlock.Begin(context.Background(), tableKey, catalog.LockDelete, time.Hour)
	require.NoError(t, err)
	defer interlock.Commit(context.Background())
	c.interlock = interlock

	rc1, rc2, rcTable := int64(100), int64(50), int64(150)
	cat.partStats["db"+"p"+"1"] = catalog.Statistics{Basic: catalog.BasicStatistics{RowCount: &rc1}}
	cat.partStats["db"+"p"+"2"] = catalog.Statistics{Basic: catalog.BasicStatistics{RowCount: &rc2}}
	cat.tableStats[tableKey] = catalog.Statistics{Basic: catalog.BasicStatistics{RowCount: &rcTable}}

	delta1 := filepath.Join(dir, "p", "d=1", "delete_delta_0000001_0000001_0000")
	delta2 := filepath.Join(dir, "p", "d=2", "delete_delta_0000001_0000001_0000")
	require.NoError(t, os.MkdirAll(delta1, 0o755))
	require.NoError(t, os.MkdirAll(delta2, 0o755))

	table := catalog.Table{SchemaName: "db", TableName: "p", PartitionColumns: []string{"d"}}
	cat.tables[tableKey] = table
	actions := newActionLog()
	require.NoError(t, actions.PutTableAction(tableKey, &Action{
		Kind: DeleteRows, Identity: "alice", Table: table,
		RowDeltas: []RowDelta{
			{PartitionValues: []string{"1"}, RowCount: 3, DeltaDir: delta1},
			{PartitionValues: []string{"2"}, RowCount: 1, DeltaDir: delta2},
		},
	}))

	require.NoError(t, c.Prepare(context.Background(), actions, "q4"))
	require.NoError(t, c.Wait())
	require.NoError(t, c.Apply(context.Background()))

	got1 := cat.partStats["db"+"p"+"1"]
	require.Equal(t, int64(97), *got1.Basic.RowCount)
	got2 := cat.partStats["db"+"p"+"2"]
	require.Equal(t, int64(49), *got2.Basic.RowCount)
	gotTable := cat.tableStats[tableKey]
	require.Equal(t, int64(146), *gotTable.Basic.RowCount)

	_, statErr := os.Stat(delta1)
	require.NoError(t, statErr, "delta directory must survive a successful commit")

	require.Greater(t, cat.nextWriteID.Load(), int64(0), "write id must have been allocated")
}
