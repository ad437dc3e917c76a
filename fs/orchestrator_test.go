package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lakehouse/metacoord/log"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, string) {
	t.Helper()
	dir := t.TempDir()
	return New(LocalDriver{}, 4, log.New()), dir
}

func TestRenameDirectoryFailsIfTargetExists(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.Mkdir(src, 0o755))
	require.NoError(t, os.Mkdir(dst, 0o755))

	err := o.RenameDirectory(context.Background(), src, dst)
	require.ErrorIs(t, err, ErrPathAlreadyExists)

	_, statErr := os.Stat(src)
	require.NoError(t, statErr, "source must remain intact on failure")
}

func TestRenameDirectoryCreatesMissingParent(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "nested", "deep", "dst")
	require.NoError(t, os.Mkdir(src, 0o755))

	require.NoError(t, o.RenameDirectory(context.Background(), src, dst))
	info, err := os.Stat(dst)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestScrubByQueryIDsOnlyTouchesTaggedFiles(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "q1_0001"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0002_q2"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated"), []byte("c"), 0o644))

	require.NoError(t, o.ScrubByQueryIDs(context.Background(), dir, []string{"q1"}, false))

	_, err := os.Stat(filepath.Join(dir, "q1_0001"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "0002_q2"))
	require.NoError(t, err, "other transactions' files must survive")
	_, err = os.Stat(filepath.Join(dir, "unrelated"))
	require.NoError(t, err)
}

func TestScrubByQueryIDsDeletesEmptyDeltaDirRegardlessOfPolicy(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	delta := filepath.Join(dir, "delete_delta_0000005_0000005_0000")
	require.NoError(t, os.Mkdir(delta, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(delta, "q1_bucket0"), []byte("x"), 0o644))

	require.NoError(t, o.ScrubByQueryIDs(context.Background(), dir, []string{"q1"}, false))

	_, err := os.Stat(delta)
	require.True(t, os.IsNotExist(err), "empty delta dir must be removed even with delete_empty_directories=false")
}

func TestScrubByQueryIDsSkipsReservedDirectories(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	hidden := filepath.Join(dir, ".coordinator")
	require.NoError(t, os.Mkdir(hidden, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hidden, "q1_file"), []byte("x"), 0o644))

	require.NoError(t, o.ScrubByQueryIDs(context.Background(), dir, []string{"q1"}, true))

	_, err := os.Stat(filepath.Join(hidden, "q1_file"))
	require.NoError(t, err, "reserved directories must never be descended into")
}

func TestAbortUndoRemovesEveryCleanupTarget(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.Mkdir(a, 0o755))
	require.NoError(t, os.Mkdir(b, 0o755))
	o.PushCleanupOnAbort(a, true)
	o.PushCleanupOnAbort(b, true)

	errs := o.RunAbortUndo(context.Background())
	require.Empty(t, errs)
	_, errA := os.Stat(a)
	_, errB := os.Stat(b)
	require.True(t, os.IsNotExist(errA))
	require.True(t, os.IsNotExist(errB))
}
