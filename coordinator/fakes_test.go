package coordinator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lakehouse/metacoord/catalog"
)

// fakeMetastore is a minimal in-memory catalog.Metastore used across
// coordinator package tests. It is not a general-purpose test double: each
// method does just enough to exercise the coordinator logic under test.
type fakeMetastore struct {
	mu sync.Mutex

	tables     map[catalog.Key]catalog.Table
	partitions map[catalog.Key]map[string]catalog.Partition
	tableStats map[catalog.Key]catalog.Statistics
	partStats  map[string]catalog.Statistics

	nextTxnID   atomic.Int64
	nextWriteID atomic.Int64

	heartbeats int
	locks      []catalog.Key

	createTableErr error
	corruptedStats bool
}

func newFakeMetastore() *fakeMetastore {
	return &fakeMetastore{
		tables:     map[catalog.Key]catalog.Table{},
		partitions: map[catalog.Key]map[string]catalog.Partition{},
		tableStats: map[catalog.Key]catalog.Statistics{},
		partStats:  map[string]catalog.Statistics{},
	}
}

func (f *fakeMetastore) GetDatabase(ctx context.Context, name string) (*catalog.Schema, error) {
	return &catalog.Schema{Name: name}, nil
}
func (f *fakeMetastore) CreateDatabase(ctx context.Context, s catalog.Schema) error { return nil }
func (f *fakeMetastore) DropDatabase(ctx context.Context, name string, deleteData bool) error {
	return nil
}

func (f *fakeMetastore) GetTable(ctx context.Context, key catalog.Key) (*catalog.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[key]
	if !ok {
		return nil, catalog.NewError(catalog.TableNotFound, "no table %s.%s", key.SchemaName, key.TableName)
	}
	return &t, nil
}

func (f *fakeMetastore) CreateTable(ctx context.Context, t catalog.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createTableErr != nil {
		return f.createTableErr
	}
	key := t.Key()
	if _, ok := f.tables[key]; ok {
		return catalog.NewError(catalog.AlreadyExists, "table %s.%s already exists", key.SchemaName, key.TableName)
	}
	f.tables[key] = t
	return nil
}

func (f *fakeMetastore) ReplaceTable(ctx context.Context, t catalog.Table, useTransaction bool, txnID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := t.Key()
	if _, ok := f.tables[key]; !ok {
		return catalog.NewError(catalog.TableNotFound, "no table %s.%s", key.SchemaName, key.TableName)
	}
	f.tables[key] = t
	return nil
}

func (f *fakeMetastore) DropTable(ctx context.Context, key catalog.Key, deleteData bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tables[key]; !ok {
		return catalog.NewError(catalog.TableNotFound, "no table %s.%s", key.SchemaName, key.TableName)
	}
	delete(f.tables, key)
	return nil
}

func (f *fakeMetastore) AddPartitions(ctx context.Context, key catalog.Key, partitions []catalog.Partition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.partitions[key] == nil {
		f.partitions[key] = map[string]catalog.Partition{}
	}
	for _, p := range partitions {
		name := catalog.PartitionValuesKey(p.Values)
		if _, ok := f.partitions[key][name]; ok {
			return catalog.NewError(catalog.AlreadyExists, "partition %s already exists", name)
		}
		f.partitions[key][name] = p
	}
	return nil
}

func (f *fakeMetastore) AlterPartition(ctx context.Context, p catalog.Partition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := catalog.Key{SchemaName: p.SchemaName, TableName: p.TableName}
	if f.partitions[key] == nil {
		f.partitions[key] = map[string]catalog.Partition{}
	}
	f.partitions[key][catalog.PartitionValuesKey(p.Values)] = p
	return nil
}

func (f *fakeMetastore) DropPartition(ctx context.Context, key catalog.PartitionKey, deleteData bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.partitions[key.Table] == nil {
		return catalog.NewError(catalog.PartitionNotFound, "no partition %s", key.Values)
	}
	delete(f.partitions[key.Table], key.Values)
	return nil
}

func (f *fakeMetastore) GetPartition(ctx context.Context, key catalog.PartitionKey) (*catalog.Partition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.partitions[key.Table][key.Values]
	if !ok {
		return nil, catalog.NewError(catalog.PartitionNotFound, "no partition %s", key.Values)
	}
	return &p, nil
}

func (f *fakeMetastore) GetPartitionNamesByFilter(ctx context.Context, key catalog.Key, filter string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name := range f.partitions[key] {
		out = append(out, name)
	}
	return out, nil
}

func (f *fakeMetastore) GetPartitionsByNames(ctx context.Context, key catalog.Key, names []string) ([]catalog.Partition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []catalog.Partition
	for _, name := range names {
		if p, ok := f.partitions[key][name]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeMetastore) GetTableStatistics(ctx context.Context, key catalog.Key) (*catalog.Statistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.corruptedStats {
		return nil, catalog.NewError(catalog.CorruptedStatistics, "corrupted")
	}
	s := f.tableStats[key]
	return &s, nil
}

func (f *fakeMetastore) UpdateTableStatistics(ctx context.Context, key catalog.Key, stats catalog.Statistics, merge bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if merge {
		f.tableStats[key] = Merge(f.tableStats[key], stats)
	} else {
		f.tableStats[key] = stats
	}
	return nil
}

func (f *fakeMetastore) GetPartitionStatistics(ctx context.Context, key catalog.PartitionKey) (*catalog.Statistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.partStats[key.Table.SchemaName+key.Table.TableName+key.Values]
	return &s, nil
}

func (f *fakeMetastore) UpdatePartitionStatistics(ctx context.Context, key catalog.PartitionKey, stats catalog.Statistics, merge bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key.Table.SchemaName + key.Table.TableName + key.Values
	if merge {
		f.partStats[k] = Merge(f.partStats[k], stats)
	} else {
		f.partStats[k] = stats
	}
	return nil
}

func (f *fakeMetastore) OpenTransaction(ctx context.Context) (int64, error) {
	return f.nextTxnID.Add(1), nil
}
func (f *fakeMetastore) CommitTransaction(ctx context.Context, txnID int64) error { return nil }
func (f *fakeMetastore) AbortTransaction(ctx context.Context, txnID int64) error  { return nil }
func (f *fakeMetastore) AcquireTableWriteLock(ctx context.Context, txnID int64, key catalog.Key, op catalog.LockOperation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks = append(f.locks, key)
	return nil
}
func (f *fakeMetastore) AllocateWriteID(ctx context.Context, txnID int64, key catalog.Key) (int64, error) {
	return f.nextWriteID.Add(1), nil
}
func (f *fakeMetastore) SendTransactionHeartbeat(ctx context.Context, txnID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}
func (f *fakeMetastore) GetValidWriteIDs(ctx context.Context, keys []catalog.Key, txnID int64) (map[catalog.Key][]int64, error) {
	out := map[catalog.Key][]int64{}
	for _, k := range keys {
		out[k] = []int64{txnID}
	}
	return out, nil
}

var _ catalog.Metastore = (*fakeMetastore)(nil)
