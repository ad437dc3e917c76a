// Package catalog defines the external collaborator contracts the
// coordinator consumes: the relational metadata store ("Metastore") and the
// domain types (Schema, Table, Partition, Statistics) that flow through it.
// Nothing in this package talks to a network; concrete wire clients live in
// sibling packages (catalogsql for a reference SQL-backed implementation).
package catalog

import "context"

// Schema is a named namespace that may own a location.
type Schema struct {
	Name     string
	Location string // empty if the catalog does not track one
}

// Column is a single data or partition column.
type Column struct {
	Name string
	Type string
}

// StorageDescriptor locates a table or partition's data files and the format
// they're written in.
type StorageDescriptor struct {
	Location string
	Format   string
}

// Table is the full metadata record for one table.
type Table struct {
	SchemaName       string
	TableName        string
	Columns          []Column
	PartitionColumns []string
	Storage          StorageDescriptor
	Owner            string
	Parameters       map[string]string
	// WriteID is set only for transactional tables mid-operation; see §4.6.
	WriteID *int64
}

// Key identifies a table independent of its contents.
type Key struct {
	SchemaName string
	TableName  string
}

func (t Table) Key() Key { return Key{t.SchemaName, t.TableName} }

// Managed reports whether the catalog owns this table's directory, i.e. the
// table's storage location was not explicitly supplied by the caller.
func (t Table) Managed() bool { return t.Storage.Location == "" }

// Partition is the metadata record for one partition of a partitioned table.
type Partition struct {
	SchemaName string
	TableName  string
	Values     []string
	Storage    StorageDescriptor
	Parameters map[string]string
}

// PartitionKey identifies a partition by its owning table and ordered values.
type PartitionKey struct {
	Table  Key
	Values string // joined by PartitionValuesKey
}

// partitionValueSep is the ASCII unit separator, chosen because it cannot
// appear in a partition value supplied through any supported catalog.
const partitionValueSep = "\x1f"

// PartitionValuesKey joins ordered partition values with partitionValueSep
// into the single string a Metastore implementation keys partitions by
// (e.g. values ["1", "2"] become "1\x1f2"; column names are not included).
func PartitionValuesKey(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += partitionValueSep
		}
		out += v
	}
	return out
}

// BasicStatistics are the coarse, table- or partition-level counters. Each
// field is optional (nil means "unknown", not "zero") per §3/§4.4.
type BasicStatistics struct {
	RowCount     *int64
	FileCount    *int64
	InMemoryBytes *int64
	OnDiskBytes  *int64
}

// ColumnStatistics holds a small set of per-column summary values; the exact
// shape is opaque to the coordinator, which only merges the map.
type ColumnStatistics struct {
	DistinctValuesCount *int64
	NullsCount          *int64
	MinValue            string
	MaxValue            string
}

// Statistics bundles the basic and per-column statistics for a table or
// partition. See coordinator.Merge for the combination rules (§4.4).
type Statistics struct {
	Basic   BasicStatistics
	Columns map[string]ColumnStatistics
}

// Metastore is the wire contract to the external relational catalog. The
// coordinator only ever calls this interface; concrete implementations (a
// reference SQL-backed one lives in catalogsql) own the RPC/transport
// concerns entirely.
type Metastore interface {
	GetDatabase(ctx context.Context, name string) (*Schema, error)
	CreateDatabase(ctx context.Context, s Schema) error
	DropDatabase(ctx context.Context, name string, deleteData bool) error

	GetTable(ctx context.Context, key Key) (*Table, error)
	CreateTable(ctx context.Context, t Table) error
	ReplaceTable(ctx context.Context, t Table, useTransaction bool, txnID int64) error
	DropTable(ctx context.Context, key Key, deleteData bool) error

	AddPartitions(ctx context.Context, key Key, partitions []Partition) error
	AlterPartition(ctx context.Context, p Partition) error
	DropPartition(ctx context.Context, key PartitionKey, deleteData bool) error
	GetPartition(ctx context.Context, key PartitionKey) (*Partition, error)
	GetPartitionNamesByFilter(ctx context.Context, key Key, filter string) ([]string, error)
	GetPartitionsByNames(ctx context.Context, key Key, names []string) ([]Partition, error)

	GetTableStatistics(ctx context.Context, key Key) (*Statistics, error)
	UpdateTableStatistics(ctx context.Context, key Key, stats Statistics, merge bool) error
	GetPartitionStatistics(ctx context.Context, key PartitionKey) (*Statistics, error)
	UpdatePartitionStatistics(ctx context.Context, key PartitionKey, stats Statistics, merge bool) error

	OpenTransaction(ctx context.Context) (int64, error)
	CommitTransaction(ctx context.Context, txnID int64) error
	AbortTransaction(ctx context.Context, txnID int64) error
	AcquireTableWriteLock(ctx context.Context, txnID int64, key Key, op LockOperation) error
	AllocateWriteID(ctx context.Context, txnID int64, key Key) (int64, error)
	SendTransactionHeartbeat(ctx context.Context, txnID int64) error
	GetValidWriteIDs(ctx context.Context, keys []Key, txnID int64) (map[Key][]int64, error)
}

// TableLister is an optional Metastore capability for enumerating every
// table name in a schema. get_all_tables is unsupported against a Metastore
// that doesn't implement it.
type TableLister interface {
	ListTables(ctx context.Context, schema string) ([]string, error)
}

// LockOperation names the kind of write a table write-lock is held for.
type LockOperation int

const (
	LockInsert LockOperation = iota
	LockDelete
	LockUpdate
)
