package coordinator

import "github.com/lakehouse/metacoord/catalog"

// Kind discriminates the seven action variants named in §3. Code dispatches
// on Kind rather than on dynamic subclassing (§9 "Polymorphic actions").
type Kind int

const (
	Add Kind = iota
	Drop
	DropPreserveData
	Alter
	InsertExisting
	DeleteRows
	Update
)

func (k Kind) String() string {
	switch k {
	case Add:
		return "ADD"
	case Drop:
		return "DROP"
	case DropPreserveData:
		return "DROP_PRESERVE_DATA"
	case Alter:
		return "ALTER"
	case InsertExisting:
		return "INSERT_EXISTING"
	case DeleteRows:
		return "DELETE_ROWS"
	case Update:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

// RowDelta is one partition's (or, for an unpartitioned table, the table's)
// contribution to a buffered DELETE_ROWS/UPDATE action: the ACID delta
// directory it wrote and the row-count adjustment it implies (§4.5).
type RowDelta struct {
	PartitionValues []string // nil/empty for an unpartitioned table
	RowCount        int64
	DeltaDir        string
	StatementID     int
}

// Action is a single buffered mutation on a table or partition key. Payloads
// are immutable snapshots captured at submission time (§3 "Ownership").
type Action struct {
	Kind     Kind
	Identity string
	QueryID  string

	// Table is always populated (table actions carry the full new/altered
	// definition; partition actions carry the owning table's key via
	// Table.SchemaName/Table.TableName).
	Table catalog.Table

	// Partition is populated for partition-scoped actions.
	Partition catalog.Partition
	isPartitionAction bool

	// StatisticsUpdate and MergeStatistics carry the payload for an
	// UPDATE_STATISTICS op the committer will enqueue; see statistics.go.
	StatisticsUpdate catalog.Statistics
	MergeStatistics  bool

	// InsertFiles names the staged files for an INSERT_EXISTING action,
	// already tagged with the owning query id per §6 "File-name tagging".
	InsertFiles []string

	// RowDeltas carries per-partition (or whole-table) row adjustments for
	// DELETE_ROWS/UPDATE.
	RowDeltas []RowDelta

	// IgnoreExisting mirrors the create-table `ignore_existing` flag (§4.5
	// apply phase, add_table_ops).
	IgnoreExisting bool
}

// TableKey returns the table this action is ultimately filed under, whether
// the action itself is table- or partition-scoped.
func (a *Action) TableKey() catalog.Key {
	return catalog.Key{SchemaName: a.Table.SchemaName, TableName: a.Table.TableName}
}

// IsPartitionAction reports whether this action targets a partition rather
// than the table itself.
func (a *Action) IsPartitionAction() bool { return a.isPartitionAction }
