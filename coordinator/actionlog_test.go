package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lakehouse/metacoord/catalog"
)

func tableAction(kind Kind, identity string) *Action {
	return &Action{Kind: kind, Identity: identity, Table: catalog.Table{SchemaName: "db", TableName: "t"}}
}

func TestTableActionTransitions(t *testing.T) {
	allKinds := []Kind{Add, Drop, Alter, InsertExisting, DeleteRows, Update}

	cases := []struct {
		prior, next Kind
		wantCode    ErrCode
		wantOK      bool
	}{
		{Add, Add, TableAlreadyExists, false},
		{Alter, Add, TableAlreadyExists, false},
		{InsertExisting, Add, TableAlreadyExists, false},
		{DeleteRows, Add, TableAlreadyExists, false},
		{Update, Add, TableAlreadyExists, false},
		{Drop, Alter, 0, true},
		{Drop, Add, UnsupportedSequence, false},
		{Drop, Drop, UnsupportedSequence, false},
		{Alter, Alter, UnsupportedSequence, false},
		{InsertExisting, InsertExisting, UnsupportedSequence, false},
	}

	for _, tc := range cases {
		key := catalog.Key{SchemaName: "db", TableName: "t"}
		log := newActionLog()
		require.NoError(t, log.PutTableAction(key, tableAction(tc.prior, "alice")))
		err := log.PutTableAction(key, tableAction(tc.next, "alice"))
		if tc.wantOK {
			require.NoError(t, err, "prior=%s next=%s", tc.prior, tc.next)
		} else {
			require.Error(t, err, "prior=%s next=%s", tc.prior, tc.next)
			require.True(t, Is(err, tc.wantCode), "prior=%s next=%s got %v", tc.prior, tc.next, err)
		}
	}

	_ = allKinds
}

func TestTableActionDifferentIdentityRejected(t *testing.T) {
	key := catalog.Key{SchemaName: "db", TableName: "t"}
	log := newActionLog()
	require.NoError(t, log.PutTableAction(key, tableAction(Add, "alice")))
	err := log.PutTableAction(key, tableAction(Alter, "bob"))
	require.Error(t, err)
	require.True(t, Is(err, DifferentIdentity))
}

func TestTableActionFreshKeyAlwaysOK(t *testing.T) {
	for _, k := range []Kind{Add, Drop, Alter, InsertExisting, DeleteRows, Update} {
		log := newActionLog()
		key := catalog.Key{SchemaName: "db", TableName: "t"}
		require.NoError(t, log.PutTableAction(key, tableAction(k, "alice")))
	}
}

func partitionAction(kind Kind, identity string) *Action {
	return &Action{Kind: kind, Identity: identity, isPartitionAction: true,
		Table:     catalog.Table{SchemaName: "db", TableName: "t"},
		Partition: catalog.Partition{SchemaName: "db", TableName: "t", Values: []string{"1"}}}
}

func TestPartitionActionTransitions(t *testing.T) {
	cases := []struct {
		prior, next Kind
		wantCode    ErrCode
		wantOK      bool
	}{
		{Add, Add, PartitionAlreadyExists, false},
		{Alter, Add, PartitionAlreadyExists, false},
		{InsertExisting, Add, PartitionAlreadyExists, false},
		{Drop, Alter, 0, true},
		{DropPreserveData, Alter, 0, true},
		{Drop, Add, UnsupportedSequence, false},
		{DropPreserveData, Add, UnsupportedSequence, false},
	}

	table := catalog.Key{SchemaName: "db", TableName: "t"}
	values := []string{"1"}
	for _, tc := range cases {
		log := newActionLog()
		require.NoError(t, log.PutPartitionAction(table, values, partitionAction(tc.prior, "alice")))
		err := log.PutPartitionAction(table, values, partitionAction(tc.next, "alice"))
		if tc.wantOK {
			require.NoError(t, err, "prior=%s next=%s", tc.prior, tc.next)
		} else {
			require.Error(t, err)
			require.True(t, Is(err, tc.wantCode), "prior=%s next=%s got %v", tc.prior, tc.next, err)
		}
	}
}

func TestRecreateDroppedPartitionPreservesIdentityCheck(t *testing.T) {
	table := catalog.Key{SchemaName: "db", TableName: "t"}
	values := []string{"1"}
	log := newActionLog()
	require.NoError(t, log.PutPartitionAction(table, values, partitionAction(Drop, "alice")))
	err := log.PutPartitionAction(table, values, partitionAction(Alter, "mallory"))
	require.Error(t, err)
	require.True(t, Is(err, DifferentIdentity))
}

func TestIterationOrderIsInsertionOrder(t *testing.T) {
	log := newActionLog()
	var keys []catalog.Key
	for i, name := range []string{"c", "a", "b"} {
		k := catalog.Key{SchemaName: "db", TableName: name}
		keys = append(keys, k)
		require.NoError(t, log.PutTableAction(k, tableAction(Add, "alice")))
		_ = i
	}
	var seen []catalog.Key
	log.IterTableActions(func(k catalog.Key, a *Action) bool {
		seen = append(seen, k)
		return true
	})
	require.Equal(t, keys, seen)
}
