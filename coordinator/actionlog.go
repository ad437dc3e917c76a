package coordinator

import (
	"github.com/lakehouse/metacoord/catalog"
)

// actionLog is the in-memory, per-transaction record of intended table and
// partition mutations (C1). Order of iteration is insertion order, matching
// §4.1 ("deterministic order (insertion order is acceptable)").
type actionLog struct {
	tables     map[catalog.Key]*Action
	tableOrder []catalog.Key

	partitions     *partitionActionIndex
	partitionOrder []partitionOrderKey
}

type partitionOrderKey struct {
	table  catalog.Key
	values []string
}

func newActionLog() *actionLog {
	return &actionLog{
		tables:     map[catalog.Key]*Action{},
		partitions: newPartitionActionIndex(),
	}
}

// PutTableAction inserts or transitions the action buffered against key,
// enforcing §4.1's Table-Action-Transition Table and the per-key identity
// check (§3 invariant).
func (l *actionLog) PutTableAction(key catalog.Key, next *Action) error {
	prior, ok := l.tables[key]
	if !ok {
		l.tables[key] = next
		l.tableOrder = append(l.tableOrder, key)
		return nil
	}
	if prior.Identity != next.Identity {
		return newErr(DifferentIdentity, "table %s.%s: action submitted by %q conflicts with pending action from %q",
			key.SchemaName, key.TableName, next.Identity, prior.Identity)
	}
	if err := tableTransition(prior.Kind, next.Kind); err != nil {
		return annotateTransition(err, key.SchemaName+"."+key.TableName, prior.Kind, next.Kind)
	}
	l.tables[key] = next
	return nil
}

// GetTableAction returns the currently buffered action for key, if any.
func (l *actionLog) GetTableAction(key catalog.Key) (*Action, bool) {
	a, ok := l.tables[key]
	return a, ok
}

// IterTableActions visits buffered table actions in insertion order. fn
// returning false stops iteration early.
func (l *actionLog) IterTableActions(fn func(catalog.Key, *Action) bool) {
	for _, k := range l.tableOrder {
		a, ok := l.tables[k]
		if !ok {
			continue // transitioned away (shouldn't happen: transitions mutate in place)
		}
		if !fn(k, a) {
			return
		}
	}
}

// PutPartitionAction inserts or transitions the action buffered against
// (table, values), enforcing §4.1's Partition-Action-Transition Table.
func (l *actionLog) PutPartitionAction(table catalog.Key, values []string, next *Action) error {
	prior, ok := l.partitions.get(table, values)
	if !ok {
		l.partitions.put(table, values, next)
		l.partitionOrder = append(l.partitionOrder, partitionOrderKey{table: table, values: values})
		return nil
	}
	if prior.Identity != next.Identity {
		return newErr(DifferentIdentity, "partition %s.%s%v: action submitted by %q conflicts with pending action from %q",
			table.SchemaName, table.TableName, values, next.Identity, prior.Identity)
	}
	if err := partitionTransition(prior.Kind, next.Kind); err != nil {
		return annotateTransition(err, partitionLabel(table, values), prior.Kind, next.Kind)
	}
	l.partitions.put(table, values, next)
	return nil
}

// GetPartitionAction returns the currently buffered action for
// (table, values), if any.
func (l *actionLog) GetPartitionAction(table catalog.Key, values []string) (*Action, bool) {
	return l.partitions.get(table, values)
}

// IterPartitionActions visits buffered partition actions in insertion order.
func (l *actionLog) IterPartitionActions(fn func(catalog.Key, []string, *Action) bool) {
	for _, k := range l.partitionOrder {
		a, ok := l.partitions.get(k.table, k.values)
		if !ok {
			continue
		}
		if !fn(k.table, k.values, a) {
			return
		}
	}
}

// HasTableActionsInSchema reports whether any table action is buffered
// against the given schema, used by get_all_tables's §4.2 guard.
func (l *actionLog) HasTableActionsInSchema(schema string) bool {
	for _, k := range l.tableOrder {
		if k.SchemaName == schema {
			if _, ok := l.tables[k]; ok {
				return true
			}
		}
	}
	return false
}

func partitionLabel(table catalog.Key, values []string) string {
	return table.SchemaName + "." + table.TableName + " partition " + joinValues(values)
}

func joinValues(values []string) string {
	out := "["
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out + "]"
}

func annotateTransition(err error, label string, prior, next Kind) error {
	if e, ok := err.(*Error); ok && e.Code == UnsupportedSequence {
		return newErr(UnsupportedSequence, "%s: cannot apply %s after pending %s", label, next, prior)
	}
	return err
}

// tableTransition implements §4.1's Table-Action-Transition Table exactly.
// The "—" cell (DROP -> ADD) is the spec's resolved Open Question: treated as
// UnsupportedSequence like every other forbidden cell (§9).
func tableTransition(prior, next Kind) error {
	switch prior {
	case Add, Alter, InsertExisting, DeleteRows, Update:
		if next == Add {
			return newErr(TableAlreadyExists, "table already has a pending %s action", prior)
		}
		return newErr(UnsupportedSequence, "unsupported transition")
	case Drop:
		if next == Alter {
			return nil // "ok (recreate)"
		}
		return newErr(UnsupportedSequence, "unsupported transition")
	case DropPreserveData:
		return newErr(UnsupportedSequence, "unsupported transition")
	default:
		return newErr(UnsupportedSequence, "unsupported transition")
	}
}

// partitionTransition implements §4.1's Partition-Action-Transition Table.
func partitionTransition(prior, next Kind) error {
	switch prior {
	case Add, Alter, InsertExisting:
		if next == Add {
			return newErr(PartitionAlreadyExists, "partition already has a pending %s action", prior)
		}
		return newErr(UnsupportedSequence, "unsupported transition")
	case Drop, DropPreserveData:
		if next == Alter {
			return nil // "ok (recreate)"
		}
		return newErr(UnsupportedSequence, "unsupported transition")
	default:
		return newErr(UnsupportedSequence, "unsupported transition")
	}
}
