package fs

import (
	"context"
	"path"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/lakehouse/metacoord/log"
	"github.com/lakehouse/metacoord/metrics"
)

// deltaDirPattern matches ACID delta directories, which are always eligible
// for empty-directory cleanup regardless of the delete_empty_directories
// policy (§4.3, §9 "Directory delete of empty delta folders").
var deltaDirPattern = regexp.MustCompile(`^(delete_)?delta_\d+_\d+_\d+$`)

// reservedPrefix marks directories the orchestrator itself owns (e.g. a
// staging directory's bookkeeping subdir); recursive delete never descends
// into them.
const reservedPrefix = "."

// UndoKind names the three undo task stacks the committer maintains.
type UndoKind int

const (
	CleanupOnAbort UndoKind = iota
	RenameBackOnAbort
	DeleteOnFinish
)

// Task is a single undo/finish action queued during prepare.
type Task struct {
	Kind UndoKind
	// For CleanupOnAbort/DeleteOnFinish: the path to remove.
	// For RenameBackOnAbort: rename Dst back to Src.
	Src, Dst string
	Recursive bool
}

// Orchestrator is the filesystem side of a single coordinator transaction:
// staging, async renames, and the three undo/finish task stacks.
type Orchestrator struct {
	driver Driver
	logger log.Logger

	maxConcurrency int

	mu        sync.Mutex
	cleanup   []Task // LIFO: cleanup-on-abort
	renameBack []Task // LIFO: rename-back-on-abort
	deleteOnFinish []Task // LIFO: delete-on-finish

	cancelled atomic.Bool
	groups    []*errgroup.Group
}

// New returns an Orchestrator bounded to maxConcurrency simultaneous
// filesystem operations (the "filesystem" executor pool of §5).
func New(driver Driver, maxConcurrency int, logger log.Logger) *Orchestrator {
	return &Orchestrator{driver: driver, maxConcurrency: maxConcurrency, logger: logger}
}

// RenameDirectory performs the synchronous, at-most-once directory rename
// described in §4.3: fails PathAlreadyExists if dst exists, creates dst's
// parent if missing. Callers are responsible for pushing the matching undo
// task (RenameBackOnAbort or CleanupOnAbort) immediately after a successful
// call.
func (o *Orchestrator) RenameDirectory(ctx context.Context, src, dst string) error {
	exists, err := o.driver.Exists(ctx, dst)
	if err != nil {
		return wrap("exists", dst, err)
	}
	if exists {
		return &Error{Op: "rename", Path: dst, Err: ErrPathAlreadyExists}
	}
	if err := o.driver.Mkdirs(ctx, path.Dir(dst)); err != nil {
		return wrap("mkdirs", path.Dir(dst), err)
	}
	ok, err := o.driver.Rename(ctx, src, dst)
	if err != nil {
		return wrap("rename", src, err)
	}
	if !ok {
		return &Error{Op: "rename", Path: src, Err: ErrPathAlreadyExists}
	}
	return nil
}

// Materialize creates dst if it doesn't already exist; returns (created,
// error). Used for ADD table/partition whose target is missing (§4.5).
func (o *Orchestrator) Materialize(ctx context.Context, dst string) (bool, error) {
	exists, err := o.driver.Exists(ctx, dst)
	if err != nil {
		return false, wrap("exists", dst, err)
	}
	if exists {
		return false, nil
	}
	if err := o.driver.Mkdirs(ctx, dst); err != nil {
		return false, wrap("mkdirs", dst, err)
	}
	return true, nil
}

// MaterializeExclusive creates dst, failing with ErrPathAlreadyExists if it is
// already there. Used by ADD table/partition, where an existing target means
// someone else's data is in the way rather than an idempotent retry (§4.5,
// §8 Scenario 1).
func (o *Orchestrator) MaterializeExclusive(ctx context.Context, dst string) error {
	exists, err := o.driver.Exists(ctx, dst)
	if err != nil {
		return wrap("exists", dst, err)
	}
	if exists {
		return &Error{Op: "materialize", Path: dst, Err: ErrPathAlreadyExists}
	}
	if err := o.driver.Mkdirs(ctx, dst); err != nil {
		return wrap("mkdirs", dst, err)
	}
	return nil
}

// PushCleanupOnAbort queues deletion of a path we just materialized, run in
// LIFO order if the transaction aborts.
func (o *Orchestrator) PushCleanupOnAbort(pathToDelete string, recursive bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cleanup = append(o.cleanup, Task{Kind: CleanupOnAbort, Src: pathToDelete, Recursive: recursive})
}

// PushRenameBackOnAbort queues reversal of a staging rename: on abort, dst is
// renamed back to src.
func (o *Orchestrator) PushRenameBackOnAbort(src, dst string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.renameBack = append(o.renameBack, Task{Kind: RenameBackOnAbort, Src: src, Dst: dst})
}

// PushDeleteOnFinish queues deletion of an obsoleted directory, run only
// after a successful commit.
func (o *Orchestrator) PushDeleteOnFinish(pathToDelete string, recursive bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleteOnFinish = append(o.deleteOnFinish, Task{Kind: DeleteOnFinish, Src: pathToDelete, Recursive: recursive})
}

// ScheduleRenames launches one goroutine per file on the bounded pool,
// renaming each staged file from stagingDir into targetDir under the same
// name (INSERT_EXISTING, §4.3/§4.5). Call Wait to block until all are done;
// a commit failure should call Cancel first so in-flight renames
// short-circuit before starting more. Safe to call more than once per
// transaction (a multi-partition or multi-table insert schedules one batch
// per partition/table); each call's futures are tracked independently and
// Wait awaits every one of them.
func (o *Orchestrator) ScheduleRenames(ctx context.Context, stagingDir, targetDir string, files []string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxConcurrency)

	o.mu.Lock()
	o.groups = append(o.groups, g)
	o.mu.Unlock()

	for _, f := range files {
		file := f
		g.Go(func() error {
			if o.cancelled.Load() {
				return nil
			}
			src := path.Join(stagingDir, file)
			dst := path.Join(targetDir, file)
			_, err := o.driver.Rename(gctx, src, dst)
			if err != nil {
				metrics.ObserveRename("error")
				return wrap("rename", src, err)
			}
			metrics.ObserveRename("ok")
			return nil
		})
	}
}

// Cancel flips the shared cancellation flag so no further renames start;
// futures already in flight are allowed to finish (§5 "Cancellation").
func (o *Orchestrator) Cancel() {
	o.cancelled.Store(true)
}

// Wait blocks until every scheduled rename future has resolved, across every
// call to ScheduleRenames made so far (the "wait_for_async_renames" phase of
// §4.5). The first error, if any, is returned; every group is still awaited
// before returning, so a failure in an early batch never leaves a later
// batch's renames unawaited.
func (o *Orchestrator) Wait() error {
	o.mu.Lock()
	groups := append([]*errgroup.Group(nil), o.groups...)
	o.mu.Unlock()

	var first error
	for _, g := range groups {
		if err := g.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RunAbortUndo executes the cleanup-on-abort tasks and then the
// rename-back-on-abort tasks, each stack in LIFO order, best-effort: every
// task runs even if an earlier one fails, and all errors are collected rather
// than short-circuiting (§4.5's undo phase must not leave a cleanup task
// unrun because an earlier one failed). Cleanup goes first so that a
// directory materialized where a renamed one used to live is gone before the
// rename back into that location.
func (o *Orchestrator) RunAbortUndo(ctx context.Context) []error {
	o.Cancel()
	var errs []error

	o.mu.Lock()
	renameBack := append([]Task(nil), o.renameBack...)
	cleanup := append([]Task(nil), o.cleanup...)
	o.mu.Unlock()

	for i := len(cleanup) - 1; i >= 0; i-- {
		t := cleanup[i]
		if _, err := o.driver.Delete(ctx, t.Src, t.Recursive); err != nil {
			errs = append(errs, wrap("cleanup", t.Src, err))
		}
		metrics.ObserveUndoTask("cleanup")
	}
	for i := len(renameBack) - 1; i >= 0; i-- {
		t := renameBack[i]
		if _, err := o.driver.Rename(ctx, t.Dst, t.Src); err != nil {
			errs = append(errs, wrap("rename-back", t.Dst, err))
		}
		metrics.ObserveUndoTask("rename_back")
	}
	return errs
}

// RunFinish executes delete-on-finish tasks in LIFO order after a successful
// commit. Errors are returned but, per §4.5/§7, the caller is expected to log
// rather than fail the commit on them (unless test-mode asks otherwise).
func (o *Orchestrator) RunFinish(ctx context.Context) []error {
	o.mu.Lock()
	tasks := append([]Task(nil), o.deleteOnFinish...)
	o.mu.Unlock()

	var errs []error
	for i := len(tasks) - 1; i >= 0; i-- {
		t := tasks[i]
		if _, err := o.driver.Delete(ctx, t.Src, t.Recursive); err != nil {
			errs = append(errs, wrap("delete-on-finish", t.Src, err))
		}
		metrics.ObserveUndoTask("delete_on_finish")
	}
	return errs
}

// ScrubByQueryIDs recursively deletes files under root whose name starts or
// ends with one of queryIDs, leaving every other writer's files untouched
// (§4.3 "Recursive delete", the Testable Property about cross-transaction
// isolation). Empty directories are removed only if deleteEmptyDirectories is
// true or the directory name matches the ACID delta pattern. Directories
// whose name starts with reservedPrefix are skipped entirely.
func (o *Orchestrator) ScrubByQueryIDs(ctx context.Context, root string, queryIDs []string, deleteEmptyDirectories bool) error {
	entries, err := o.driver.List(ctx, root)
	if err != nil {
		return wrap("list", root, err)
	}

	empty := true
	for _, e := range entries {
		name := path.Base(e.Path)
		if strings.HasPrefix(name, reservedPrefix) {
			empty = false
			continue
		}
		if e.IsDir {
			if err := o.ScrubByQueryIDs(ctx, e.Path, queryIDs, deleteEmptyDirectories); err != nil {
				return err
			}
			stillThere, err := o.driver.Exists(ctx, e.Path)
			if err != nil {
				return wrap("exists", e.Path, err)
			}
			if stillThere {
				empty = false
			}
			continue
		}
		if matchesAnyQueryID(name, queryIDs) {
			if _, err := o.driver.Delete(ctx, e.Path, false); err != nil {
				return wrap("delete", e.Path, err)
			}
		} else {
			empty = false
		}
	}

	if root == "" {
		return nil
	}
	if empty && (deleteEmptyDirectories || deltaDirPattern.MatchString(path.Base(root))) {
		if _, err := o.driver.Delete(ctx, root, false); err != nil {
			return wrap("delete", root, err)
		}
	}
	return nil
}

func matchesAnyQueryID(name string, queryIDs []string) bool {
	for _, q := range queryIDs {
		if strings.HasPrefix(name, q) || strings.HasSuffix(name, q) {
			return true
		}
	}
	return false
}
