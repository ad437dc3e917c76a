package coordinator

import (
	"github.com/cespare/xxhash/v2"

	"github.com/lakehouse/metacoord/catalog"
)

// partitionEntry is one bucket chain link, mirroring the teacher's generic
// hash map (separate chaining + an explicit equality check to
// resolve collisions, rather than requiring the key type to be Go-comparable).
type partitionEntry struct {
	table  catalog.Key
	values []string
	action *Action
	next   *partitionEntry
}

// partitionActionIndex is a hash map from (table, partition values) to the
// pending Action on that partition, keyed by an xxhash digest of the table
// name and values, so partition-value tuples of any length are streamed into
// the hash instead of being built into a string-concatenation map key.
type partitionActionIndex struct {
	buckets map[uint64]*partitionEntry
	size    int
}

func newPartitionActionIndex() *partitionActionIndex {
	return &partitionActionIndex{buckets: map[uint64]*partitionEntry{}}
}

func hashPartitionKey(table catalog.Key, values []string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(table.SchemaName)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(table.TableName)
	for _, v := range values {
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(v)
	}
	return h.Sum64()
}

func sameValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (idx *partitionActionIndex) get(table catalog.Key, values []string) (*Action, bool) {
	for e := idx.buckets[hashPartitionKey(table, values)]; e != nil; e = e.next {
		if e.table == table && sameValues(e.values, values) {
			return e.action, true
		}
	}
	return nil, false
}

func (idx *partitionActionIndex) put(table catalog.Key, values []string, action *Action) {
	h := hashPartitionKey(table, values)
	for e := idx.buckets[h]; e != nil; e = e.next {
		if e.table == table && sameValues(e.values, values) {
			e.action = action
			return
		}
	}
	idx.buckets[h] = &partitionEntry{table: table, values: values, action: action, next: idx.buckets[h]}
	idx.size++
}

// iter visits entries in insertion order is NOT guaranteed here; callers that
// need deterministic commit order use actionLog's separate ordered index
// (see actionlog.go) instead of ranging this map directly.
func (idx *partitionActionIndex) iter(fn func(table catalog.Key, values []string, a *Action) bool) {
	for _, head := range idx.buckets {
		for e := head; e != nil; e = e.next {
			if fn(e.table, e.values, e.action) {
				return
			}
		}
	}
}
