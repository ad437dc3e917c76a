// Package coordinator implements the semi-transactional metadata/filesystem
// coordinator: one Transaction per query id, buffering catalog mutations and
// staged file moves until commit, with best-effort undo on failure.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/lakehouse/metacoord/catalog"
	"github.com/lakehouse/metacoord/config"
	"github.com/lakehouse/metacoord/fs"
	"github.com/lakehouse/metacoord/log"
	"github.com/lakehouse/metacoord/metrics"
)

// Coordinator hands out one Transaction per query id and holds the
// collaborators every Transaction is built from. It has no lock of its own
// beyond the map guard: once a Transaction exists, all serialization happens
// on that Transaction's own mutex (§5).
type Coordinator struct {
	cat    catalog.Metastore
	driver fs.Driver
	cfg    *config.Config
	logger log.Logger

	mu           sync.Mutex
	transactions map[string]*Transaction
}

// New returns a Coordinator backed by cat and driver, using cfg for every
// tunable named in §6.
func New(cat catalog.Metastore, driver fs.Driver, cfg *config.Config, logger log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New()
	}
	return &Coordinator{
		cat:          cat,
		driver:       driver,
		cfg:          cfg,
		logger:       logger,
		transactions: map[string]*Transaction{},
	}
}

// BeginQuery returns the Transaction for queryID, creating it the first time
// it's seen (§4.8: a fresh query starts in EMPTY). Calling it again for the
// same queryID before CleanupQuery returns the same Transaction.
func (c *Coordinator) BeginQuery(queryID, identity string) *Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.transactions[queryID]; ok {
		return t
	}

	orch := fs.New(c.driver, c.cfg.MaxConcurrentFilesystemOps, c.logger)
	actions := newActionLog()
	t := &Transaction{
		queryID:  queryID,
		identity: identity,
		cat:      c.cat,
		orch:     orch,
		cfg:      c.cfg,
		logger:   c.logger,
		metrics:  metrics.New(),
		actions:  actions,
		intents:  newIntentRegistry(),
		view:     newReadView(c.cat, actions, c.logger),
	}
	t.commit = newCommitter(c.cat, orch, c.cfg, c.logger, t.metrics, nil)
	c.transactions[queryID] = t
	return t
}

// CleanupQuery discards all state held for queryID, whether or not commit or
// rollback was ever called (§6 `cleanup_query`) — a client that abandons a
// query must still be able to reclaim it.
func (c *Coordinator) CleanupQuery(queryID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.transactions, queryID)
}

// Transaction is one query's buffered view of the catalog and filesystem:
// the action log, read view, filesystem orchestrator, committer, intent
// registry and, once a DML op opens one, the ACID interlock. Every exported
// method takes the Transaction's mutex, serializing state transitions and
// action-log updates exactly as §5 requires.
type Transaction struct {
	mu sync.Mutex

	queryID  string
	identity string
	state    State

	cat    catalog.Metastore
	orch   *fs.Orchestrator
	cfg    *config.Config
	logger log.Logger
	metrics metrics.Metrics

	actions   *actionLog
	view      *readView
	commit    *committer
	intents   *intentRegistry
	interlock *acidInterlock
}

// QueryID returns the query id this transaction was begun with.
func (t *Transaction) QueryID() string { return t.queryID }

// Metrics returns this transaction's per-transaction timers and counters
// (commit-phase durations, stats-update counts), for caller-side logging
// once Commit has returned. Safe to call at any point in the lifecycle; the
// values simply accumulate as the relevant phases run.
func (t *Transaction) Metrics() metrics.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metrics
}

// State returns the transaction's current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// GetTable is C2's get_table: the action log's pending payload if one is
// buffered, else the catalog's.
func (t *Transaction) GetTable(ctx context.Context, key catalog.Key) (*catalog.Table, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := requireReadable(t.state); err != nil {
		return nil, err
	}
	tbl, err := t.view.GetTable(ctx, key)
	if err != nil {
		return nil, err
	}
	t.state = transitionForRead(t.state)
	return tbl, nil
}

// GetAllTables is C2's get_all_tables. It fails UnsupportedWithPendingDdl if
// any table action is buffered in schema, and fails outright against a
// Metastore that doesn't implement catalog.TableLister.
func (t *Transaction) GetAllTables(ctx context.Context, schema string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := requireReadable(t.state); err != nil {
		return nil, err
	}
	lister, ok := t.cat.(catalog.TableLister)
	if !ok {
		return nil, fmt.Errorf("coordinator: metastore does not support listing tables")
	}
	out, err := t.view.GetAllTables(ctx, schema, lister.ListTables)
	if err != nil {
		return nil, err
	}
	t.state = transitionForRead(t.state)
	return out, nil
}

// GetPartitionNamesByFilter is C2's get_partition_names_by_filter.
func (t *Transaction) GetPartitionNamesByFilter(ctx context.Context, key catalog.Key, filter string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := requireReadable(t.state); err != nil {
		return nil, err
	}
	out, err := t.view.GetPartitionNamesByFilter(ctx, key, filter)
	if err != nil {
		return nil, err
	}
	t.state = transitionForRead(t.state)
	return out, nil
}

// GetPartitionsByNames is C2's get_partitions_by_names.
func (t *Transaction) GetPartitionsByNames(ctx context.Context, key catalog.Key, names []string) ([]catalog.Partition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := requireReadable(t.state); err != nil {
		return nil, err
	}
	out, err := t.view.GetPartitionsByNames(ctx, key, names)
	if err != nil {
		return nil, err
	}
	t.state = transitionForRead(t.state)
	return out, nil
}

// GetTableStatistics is C2's get_table_statistics.
func (t *Transaction) GetTableStatistics(ctx context.Context, key catalog.Key) (*catalog.Statistics, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := requireReadable(t.state); err != nil {
		return nil, err
	}
	out, err := t.view.GetTableStatistics(ctx, key)
	if err != nil {
		return nil, err
	}
	t.state = transitionForRead(t.state)
	return out, nil
}

// GetPartitionStatistics is C2's get_partition_statistics.
func (t *Transaction) GetPartitionStatistics(ctx context.Context, key catalog.PartitionKey) (*catalog.Statistics, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := requireReadable(t.state); err != nil {
		return nil, err
	}
	out, err := t.view.GetPartitionStatistics(ctx, key)
	if err != nil {
		return nil, err
	}
	t.state = transitionForRead(t.state)
	return out, nil
}

// ValidWriteIDs returns the snapshot's valid_write_ids list for keys,
// lazily fetched and cached by the ACID interlock on first call (§4.6).
// Only meaningful once BeginInsert/BeginDelete/BeginUpdate has opened a
// transaction.
func (t *Transaction) ValidWriteIDs(ctx context.Context, keys []catalog.Key) (map[catalog.Key][]int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := requireReadable(t.state); err != nil {
		return nil, err
	}
	if t.interlock == nil {
		return nil, newErr(TransactionConflict, "no open ACID transaction for query %s", t.queryID)
	}
	out, err := t.interlock.ValidWriteIDs(ctx, keys)
	if err != nil {
		return nil, err
	}
	t.state = transitionForRead(t.state)
	return out, nil
}

// PutTableAction is C1's put_table_action: buffers a table-scoped mutation,
// enforcing the identity check and the table transition table (§4.1).
func (t *Transaction) PutTableAction(key catalog.Key, action *Action) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := requireSharedSubmittable(t.state); err != nil {
		return err
	}
	if err := t.actions.PutTableAction(key, action); err != nil {
		return err
	}
	t.state = transitionForSharedSubmission(t.state)
	return nil
}

// PutPartitionAction is C1's put_partition_action: buffers a
// partition-scoped mutation, enforcing the identity check and the partition
// transition table (§4.1). It fails UnsupportedDirectWrite when a
// DIRECT_TO_EXISTING intent already targets the table.
func (t *Transaction) PutPartitionAction(table catalog.Key, values []string, action *Action) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := requireSharedSubmittable(t.state); err != nil {
		return err
	}
	for _, intent := range t.intents.All() {
		if intent.Mode == DirectToExisting && intent.TargetTable == table {
			return newErr(UnsupportedDirectWrite, "table %s.%s has a DIRECT_TO_EXISTING intent; partition actions are unsupported", table.SchemaName, table.TableName)
		}
	}
	if err := t.actions.PutPartitionAction(table, values, action); err != nil {
		return err
	}
	t.state = transitionForSharedSubmission(t.state)
	return nil
}

// DeclareIntent is C7's declare_intent.
func (t *Transaction) DeclareIntent(mode WriteMode, stagingRoot string, target catalog.Key) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := requireActive(t.state); err != nil {
		return "", err
	}
	return t.intents.DeclareIntent(mode, t.identity, t.queryID, stagingRoot, target, t.actions)
}

// DropIntent is C7's drop_intent.
func (t *Transaction) DropIntent(declarationID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.intents.DropIntent(declarationID)
}

// BeginInsert is C6's begin_insert: opens a catalog transaction, acquires
// the table write lock, allocates a write id, and starts the heartbeat.
func (t *Transaction) BeginInsert(ctx context.Context, table catalog.Key) (int64, error) {
	return t.beginAcid(ctx, table, catalog.LockInsert)
}

// BeginDelete is C6's begin_delete.
func (t *Transaction) BeginDelete(ctx context.Context, table catalog.Key) (int64, error) {
	return t.beginAcid(ctx, table, catalog.LockDelete)
}

// BeginUpdate is C6's begin_update.
func (t *Transaction) BeginUpdate(ctx context.Context, table catalog.Key) (int64, error) {
	return t.beginAcid(ctx, table, catalog.LockUpdate)
}

func (t *Transaction) beginAcid(ctx context.Context, table catalog.Key, op catalog.LockOperation) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := requireSharedSubmittable(t.state); err != nil {
		return 0, err
	}
	if t.interlock == nil {
		t.interlock = newACIDInterlock(t.cat, t.logger)
	}
	writeID, err := t.interlock.Begin(ctx, table, op, t.cfg.HiveTransactionHeartbeatInterval)
	if err != nil {
		return 0, err
	}
	t.state = transitionForSharedSubmission(t.state)
	return writeID, nil
}

// CreateDatabase is an administrative op (§4.8): it requires EMPTY and
// transitions straight to EXCLUSIVE, bypassing the action log entirely since
// there is no undo story for a database-level DDL call.
func (t *Transaction) CreateDatabase(ctx context.Context, s catalog.Schema) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Empty {
		return newErr(UnsupportedMix, "create_database requires an EMPTY transaction")
	}
	if err := t.cat.CreateDatabase(ctx, s); err != nil {
		return err
	}
	t.state = Exclusive
	return nil
}

// DropDatabase is the administrative-op analogue of CreateDatabase.
func (t *Transaction) DropDatabase(ctx context.Context, name string, deleteData bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Empty {
		return newErr(UnsupportedMix, "drop_database requires an EMPTY transaction")
	}
	if err := t.cat.DropDatabase(ctx, name, deleteData); err != nil {
		return err
	}
	t.state = Exclusive
	return nil
}

// Commit runs the full §4.5 commit pipeline (prepare, wait, apply,
// irreversible, finish), the §4.6 ACID commit, and on failure the §4.7
// rollback scrub. A call after FINISHED fails AlreadyFinished; no other
// state is rejected, so a commit in EMPTY runs the pipeline over an empty
// action log and reaches FINISHED.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Finished {
		return newErr(AlreadyFinished, "query %s already finished", t.queryID)
	}

	t.commit.interlock = t.interlock

	if err := t.runCommitPipeline(ctx); err != nil {
		if t.interlock != nil {
			t.interlock.Abort(ctx)
		}
		t.intents.RollbackIntents(ctx, t.orch, t.cat, []string{t.queryID}, t.cfg.SkipTargetCleanupOnRollback)
		t.state = Finished
		return err
	}

	if t.interlock != nil {
		if err := t.interlock.Commit(ctx); err != nil {
			t.state = Finished
			return err
		}
	}

	t.state = Finished
	return nil
}

// runCommitPipeline executes prepare/wait/apply/irreversible/finish in order,
// undoing on any prepare/wait/apply failure (§4.5). Irreversible and finish
// phase failures are reported but never undone, matching the "drop and scrub
// failures are logged, not rolled back" rule.
func (t *Transaction) runCommitPipeline(ctx context.Context) error {
	if err := t.commit.Prepare(ctx, t.actions, t.queryID); err != nil {
		t.commit.Undo(ctx)
		return err
	}
	if err := t.commit.Wait(); err != nil {
		t.commit.Undo(ctx)
		return err
	}
	if err := t.commit.Apply(ctx); err != nil {
		t.commit.Undo(ctx)
		return err
	}
	if err := t.commit.Irreversible(ctx); err != nil {
		return err
	}
	return t.commit.Finish(ctx, t.intents, []string{t.queryID})
}

// Rollback is §4.8's rollback: scrubs every declared intent per its mode,
// aborts any open ACID transaction, and moves to FINISHED. It never touches
// the committer, since nothing has been applied to the catalog yet.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Finished {
		return newErr(AlreadyFinished, "query %s already finished", t.queryID)
	}

	errs := t.intents.RollbackIntents(ctx, t.orch, t.cat, []string{t.queryID}, t.cfg.SkipTargetCleanupOnRollback)
	if t.interlock != nil {
		t.interlock.Abort(ctx)
	}
	t.state = Finished

	// §7: rollback never surfaces filesystem scrub residues to the caller;
	// they are logged with a reason instead, matching the finish phase
	// (committer.go's Finish).
	for _, e := range errs {
		t.logger.Warnf("rollback scrub error (non-fatal): %v", e)
	}
	return nil
}
