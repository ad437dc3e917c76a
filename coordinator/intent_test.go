package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lakehouse/metacoord/catalog"
)

func TestDeclareIntentAssignsUniqueIDs(t *testing.T) {
	r := newIntentRegistry()
	log := newActionLog()
	target := catalog.Key{SchemaName: "db", TableName: "t"}

	id1, err := r.DeclareIntent(StageAndMove, "alice", "q1", "/staging/q1", target, log)
	require.NoError(t, err)
	id2, err := r.DeclareIntent(StageAndMove, "alice", "q1", "/staging/q1b", target, log)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
	require.Len(t, r.All(), 2)
}

func TestDeclareIntentDirectToExistingRejectedWithPendingPartitionAction(t *testing.T) {
	r := newIntentRegistry()
	log := newActionLog()
	target := catalog.Key{SchemaName: "db", TableName: "t"}
	require.NoError(t, log.PutPartitionAction(target, []string{"1"}, partitionAction(Add, "alice")))

	_, err := r.DeclareIntent(DirectToExisting, "alice", "q1", "/t", target, log)
	require.Error(t, err)
	require.True(t, Is(err, UnsupportedDirectWrite))
}

func TestDeclareIntentDirectToExistingOKWithoutPendingPartitionActions(t *testing.T) {
	r := newIntentRegistry()
	log := newActionLog()
	target := catalog.Key{SchemaName: "db", TableName: "t"}

	_, err := r.DeclareIntent(DirectToExisting, "alice", "q1", "/t", target, log)
	require.NoError(t, err)
}

func TestDropIntentRemovesAndRejectsUnknown(t *testing.T) {
	r := newIntentRegistry()
	log := newActionLog()
	target := catalog.Key{SchemaName: "db", TableName: "t"}

	id, err := r.DeclareIntent(StageAndMove, "alice", "q1", "/staging/q1", target, log)
	require.NoError(t, err)
	require.NoError(t, r.DropIntent(id))
	require.Empty(t, r.All())

	err = r.DropIntent(id)
	require.Error(t, err)
	require.True(t, Is(err, UnknownDeclaration))

	err = r.DropIntent("bogus")
	require.Error(t, err)
	require.True(t, Is(err, UnknownDeclaration))
}
