package coordinator

import (
	"context"
	"fmt"
	"path"

	"golang.org/x/sync/errgroup"

	"github.com/lakehouse/metacoord/catalog"
	"github.com/lakehouse/metacoord/config"
	"github.com/lakehouse/metacoord/fs"
	"github.com/lakehouse/metacoord/log"
	"github.com/lakehouse/metacoord/metrics"
)

// addTableOp is a queued catalog create-table call.
type addTableOp struct {
	table          catalog.Table
	ignoreExisting bool
	queryID        string
}

// alterTableOp is a queued catalog replace-table call; old is the
// pre-transaction snapshot, kept so Undo can restore it.
type alterTableOp struct {
	old            catalog.Table
	next           catalog.Table
	useTransaction bool
	txnID          int64
}

// alterPartitionOp is the partition analogue of alterTableOp.
type alterPartitionOp struct {
	old  catalog.Partition
	next catalog.Partition
}

// writeIDOp updates a table's write id after an INSERT_EXISTING inside an
// ACID transaction (§4.5 "also queue a write-id update").
type writeIDOp struct {
	table   catalog.Table
	txnID   int64
	writeID int64
}

// updateStatsOp is a queued statistics write; partitionKey nil means a
// table-scoped update.
type updateStatsOp struct {
	table        catalog.Key
	partitionKey *catalog.PartitionKey
	stats        catalog.Statistics
	merge        bool
}

// irreversibleOp is a queued drop-table/drop-partition call: once it runs
// there is no undo path (§4.5 "Irreversible phase").
type irreversibleOp struct {
	table        catalog.Key
	partitionKey *catalog.PartitionKey
	deleteData   bool
	description  string
}

// partitionAdder buffers partitions to add for one table and remembers which
// ones actually landed, so Undo can drop exactly those (§9 "Cyclic references
// between coordinator and partition-adder": a plain object owned by the
// committer, holding only the catalog client and its own created list).
type partitionAdder struct {
	cat     catalog.Metastore
	table   catalog.Key
	pending []catalog.Partition
	created []catalog.Partition
}

func (p *partitionAdder) add(part catalog.Partition) { p.pending = append(p.pending, part) }

// apply adds p.pending to the catalog in fixed-size batches, tolerating a
// batch failure when the partition is already present with this query id
// (idempotent retry), and recording everything that actually landed in
// p.created so Undo only drops what this transaction added.
func (p *partitionAdder) apply(ctx context.Context, batchSize int, queryID string) error {
	for start := 0; start < len(p.pending); start += batchSize {
		end := start + batchSize
		if end > len(p.pending) {
			end = len(p.pending)
		}
		batch := p.pending[start:end]
		if err := p.cat.AddPartitions(ctx, p.table, batch); err != nil {
			if !catalog.IsAlreadyExists(err) {
				return err
			}
			for _, part := range batch {
				existing, getErr := p.cat.GetPartition(ctx, catalog.PartitionKey{Table: p.table, Values: catalog.PartitionValuesKey(part.Values)})
				if getErr != nil || existing == nil || existing.Parameters["query_id"] != queryID {
					return err
				}
			}
		}
		p.created = append(p.created, batch...)
	}
	return nil
}

// undo drops every partition this adder's apply call actually created.
func (p *partitionAdder) undo(ctx context.Context) []error {
	var errs []error
	for i := len(p.created) - 1; i >= 0; i-- {
		part := p.created[i]
		key := catalog.PartitionKey{Table: p.table, Values: catalog.PartitionValuesKey(part.Values)}
		if err := p.cat.DropPartition(ctx, key, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// committer runs the single-threaded prepare/wait/apply/irreversible/finish
// schedule over one transaction's action log (C5, §4.5 — "the heart of the
// design").
type committer struct {
	cat       catalog.Metastore
	orch      *fs.Orchestrator
	cfg       *config.Config
	logger    log.Logger
	metrics   metrics.Metrics
	interlock *acidInterlock // nil unless an ACID transaction is open

	addTableOps       []addTableOp
	alterTableOps     []alterTableOp
	writeIDOps        []writeIDOp
	alterPartitionOps []alterPartitionOp
	updateStatsOps    []updateStatsOp
	irreversibleOps   []irreversibleOp

	adders     map[catalog.Key]*partitionAdder
	adderOrder []catalog.Key

	succeededAddTables   []catalog.Key
	succeededAlterTables []alterTableOp
	succeededAlterParts  []alterPartitionOp

	queryID string
}

func newCommitter(cat catalog.Metastore, orch *fs.Orchestrator, cfg *config.Config, logger log.Logger, m metrics.Metrics, interlock *acidInterlock) *committer {
	if m == nil {
		m = metrics.New()
	}
	return &committer{
		cat: cat, orch: orch, cfg: cfg, logger: logger, metrics: m, interlock: interlock,
		adders: map[catalog.Key]*partitionAdder{},
	}
}

func (c *committer) adderFor(table catalog.Key) *partitionAdder {
	a, ok := c.adders[table]
	if !ok {
		a = &partitionAdder{cat: c.cat, table: table}
		c.adders[table] = a
		c.adderOrder = append(c.adderOrder, table)
	}
	return a
}

// Prepare walks log and dispatches each buffered action per §4.5's "Prepare
// phase" rules, populating the committer's queues and the orchestrator's
// undo task stacks. queryID tags every filesystem/catalog side effect this
// transaction produces.
func (c *committer) Prepare(ctx context.Context, actions *actionLog, queryID string) error {
	ctx, end := startPhase(ctx, "prepare")
	var prepErr error
	defer func() { end(prepErr) }()

	timer := c.metrics.Timer(metrics.CommitPrepare)
	timer.Start()
	defer timer.Stop()

	c.queryID = queryID

	actions.IterTableActions(func(key catalog.Key, a *Action) bool {
		if err := c.prepareTableAction(ctx, a, queryID); err != nil {
			prepErr = err
			return false
		}
		return true
	})
	if prepErr != nil {
		return prepErr
	}

	actions.IterPartitionActions(func(table catalog.Key, values []string, a *Action) bool {
		if err := c.preparePartitionAction(ctx, a, queryID); err != nil {
			prepErr = err
			return false
		}
		return true
	})
	return prepErr
}

func (c *committer) prepareTableAction(ctx context.Context, a *Action, queryID string) error {
	switch a.Kind {
	case Add:
		return c.prepareAddTable(ctx, a, queryID)
	case Alter:
		return c.prepareAlterTable(ctx, a)
	case Drop:
		c.irreversibleOps = append(c.irreversibleOps, irreversibleOp{
			table:       a.TableKey(),
			deleteData:  a.Table.Managed(),
			description: fmt.Sprintf("drop table %s.%s", a.Table.SchemaName, a.Table.TableName),
		})
		return nil
	case InsertExisting:
		return c.prepareInsertExistingTable(ctx, a, queryID)
	case DeleteRows, Update:
		return c.prepareRowAction(ctx, a)
	default:
		return newErr(ConflictingAction, "unexpected table action kind %s", a.Kind)
	}
}

// prepareAddTable materializes the table's location exclusively, failing
// PathAlreadyExists if anything already occupies it, and pushes
// cleanup-on-abort. An ADD action carries no separate current location, so
// there is no no-op case for a target that is already in place.
func (c *committer) prepareAddTable(ctx context.Context, a *Action, queryID string) error {
	// A table without a location (Managed()) gets no directory here; an
	// explicit location that already exists fails PathAlreadyExists
	// (§8 Scenario 1).
	if a.Table.Storage.Location != "" {
		if err := c.orch.MaterializeExclusive(ctx, a.Table.Storage.Location); err != nil {
			return err
		}
		c.orch.PushCleanupOnAbort(a.Table.Storage.Location, true)
	}
	c.addTableOps = append(c.addTableOps, addTableOp{table: a.Table, ignoreExisting: a.IgnoreExisting, queryID: queryID})
	c.updateStatsOps = append(c.updateStatsOps, updateStatsOp{table: a.TableKey(), stats: a.StatisticsUpdate, merge: false})
	return nil
}

const tempDirSuffix = "_temp_"

// prepareAlterTable implements §4.5's ALTER-table rule, including the
// in-place rename-to-temp dance used when the new location equals the old one
// (Scenario 5).
func (c *committer) prepareAlterTable(ctx context.Context, a *Action) error {
	old, err := c.cat.GetTable(ctx, a.TableKey())
	if err != nil {
		if catalog.IsTableNotFound(err) {
			return newErr(TransactionConflict, "table %s.%s no longer exists", a.TableKey().SchemaName, a.TableKey().TableName)
		}
		return err
	}

	oldLoc, newLoc := old.Storage.Location, a.Table.Storage.Location
	if oldLoc == newLoc && oldLoc != "" {
		tmp := path.Join(path.Dir(oldLoc), tempDirSuffix+path.Base(oldLoc)+"_"+a.QueryID)
		if err := c.orch.RenameDirectory(ctx, oldLoc, tmp); err != nil {
			return err
		}
		c.orch.PushRenameBackOnAbort(oldLoc, tmp)
		c.orch.PushDeleteOnFinish(tmp, true)
		if _, err := c.orch.Materialize(ctx, newLoc); err != nil {
			return err
		}
		c.orch.PushCleanupOnAbort(newLoc, true)
	} else {
		if !c.cfg.SkipDeletionForAlter && oldLoc != "" {
			c.orch.PushDeleteOnFinish(oldLoc, true)
		}
		if oldLoc != newLoc && newLoc != "" {
			if err := c.orch.RenameDirectory(ctx, oldLoc, newLoc); err != nil {
				return err
			}
			c.orch.PushCleanupOnAbort(newLoc, true)
		}
	}

	txnID := int64(0)
	useTxn := false
	if c.interlock != nil && c.interlock.Open() {
		txnID, useTxn = c.interlock.TransactionID(), true
	}
	c.alterTableOps = append(c.alterTableOps, alterTableOp{old: *old, next: a.Table, useTransaction: useTxn, txnID: txnID})
	c.updateStatsOps = append(c.updateStatsOps, updateStatsOp{table: a.TableKey(), stats: a.StatisticsUpdate, merge: false})
	return nil
}

// prepareInsertExistingTable implements §4.5's INSERT_EXISTING-table rule.
func (c *committer) prepareInsertExistingTable(ctx context.Context, a *Action, queryID string) error {
	target := a.Table.Storage.Location
	current := target
	if len(a.InsertFiles) > 0 {
		current = path.Dir(a.InsertFiles[0])
	}

	if current != target && current != "" {
		names := make([]string, len(a.InsertFiles))
		for i, f := range a.InsertFiles {
			names[i] = path.Base(f)
			c.orch.PushCleanupOnAbort(path.Join(target, names[i]), false)
		}
		c.orch.ScheduleRenames(ctx, current, target, names)
	} else {
		if err := c.orch.ScrubByQueryIDs(ctx, target, []string{queryID}, false); err != nil {
			return err
		}
	}

	c.updateStatsOps = append(c.updateStatsOps, updateStatsOp{table: a.TableKey(), stats: a.StatisticsUpdate, merge: true})

	if c.interlock != nil && c.interlock.Open() {
		writeID, err := c.cat.AllocateWriteID(ctx, c.interlock.TransactionID(), a.TableKey())
		if err != nil {
			return err
		}
		c.writeIDOps = append(c.writeIDOps, writeIDOp{table: a.Table, txnID: c.interlock.TransactionID(), writeID: writeID})
	}
	return nil
}

// prepareRowAction implements §4.5's DELETE_ROWS/UPDATE rule: requires an
// open ACID transaction, pushes a cleanup task per delta directory, and
// enqueues the resulting row-count-adjusted stats (Scenario 4).
func (c *committer) prepareRowAction(ctx context.Context, a *Action) error {
	if c.interlock == nil || !c.interlock.Open() {
		return newErr(TransactionConflict, "DELETE_ROWS/UPDATE requires an active ACID transaction")
	}

	for _, d := range a.RowDeltas {
		c.orch.PushCleanupOnAbort(d.DeltaDir, true)
	}

	tableStats, err := c.cat.GetTableStatistics(ctx, a.TableKey())
	if err != nil {
		tableStats, err = safeStatistics(tableStats, err, c.logger.Warnf)
		if err != nil {
			return err
		}
	}

	var totalDelta int64
	for _, d := range a.RowDeltas {
		delta := -d.RowCount
		totalDelta += delta
		if len(d.PartitionValues) == 0 {
			continue
		}
		pKey := catalog.PartitionKey{Table: a.TableKey(), Values: catalog.PartitionValuesKey(d.PartitionValues)}
		partStats, err := c.cat.GetPartitionStatistics(ctx, pKey)
		if err != nil {
			partStats, err = safeStatistics(partStats, err, c.logger.Warnf)
			if err != nil {
				return err
			}
		}
		adjusted := WithAdjustedRowCount(*partStats, delta)
		c.updateStatsOps = append(c.updateStatsOps, updateStatsOp{table: a.TableKey(), partitionKey: &pKey, stats: adjusted, merge: false})

		if a.Kind == DeleteRows {
			c.alterPartitionOps = append(c.alterPartitionOps, alterPartitionOp{
				old:  catalog.Partition{SchemaName: a.TableKey().SchemaName, TableName: a.TableKey().TableName, Values: d.PartitionValues},
				next: catalog.Partition{SchemaName: a.TableKey().SchemaName, TableName: a.TableKey().TableName, Values: d.PartitionValues, Parameters: a.Partition.Parameters},
			})
		}
	}

	adjustedTable := WithAdjustedRowCount(*tableStats, totalDelta)
	c.updateStatsOps = append(c.updateStatsOps, updateStatsOp{table: a.TableKey(), stats: adjustedTable, merge: false})

	if c.interlock.Open() {
		writeID, err := c.cat.AllocateWriteID(ctx, c.interlock.TransactionID(), a.TableKey())
		if err != nil {
			return err
		}
		c.writeIDOps = append(c.writeIDOps, writeIDOp{table: a.Table, txnID: c.interlock.TransactionID(), writeID: writeID})
	}
	return nil
}

func (c *committer) preparePartitionAction(ctx context.Context, a *Action, queryID string) error {
	table := a.TableKey()
	switch a.Kind {
	case Add:
		target := a.Partition.Storage.Location
		if target != "" {
			if err := c.orch.MaterializeExclusive(ctx, target); err != nil {
				return err
			}
			c.orch.PushCleanupOnAbort(target, true)
		}
		c.adderFor(table).add(a.Partition)
		return nil

	case Drop, DropPreserveData:
		c.irreversibleOps = append(c.irreversibleOps, irreversibleOp{
			table:        table,
			partitionKey: &catalog.PartitionKey{Table: table, Values: catalog.PartitionValuesKey(a.Partition.Values)},
			deleteData:   a.Kind == Drop,
			description:  fmt.Sprintf("drop partition %s.%s%v", table.SchemaName, table.TableName, a.Partition.Values),
		})
		return nil

	case Alter:
		key := catalog.PartitionKey{Table: table, Values: catalog.PartitionValuesKey(a.Partition.Values)}
		old, err := c.cat.GetPartition(ctx, key)
		if err != nil {
			if catalog.IsPartitionNotFound(err) {
				return newErr(TransactionConflict, "partition %s no longer exists", key.Values)
			}
			return err
		}
		oldLoc, newLoc := old.Storage.Location, a.Partition.Storage.Location
		if oldLoc == newLoc && oldLoc != "" {
			tmp := path.Join(path.Dir(oldLoc), tempDirSuffix+path.Base(oldLoc)+"_"+queryID)
			if err := c.orch.RenameDirectory(ctx, oldLoc, tmp); err != nil {
				return err
			}
			c.orch.PushRenameBackOnAbort(oldLoc, tmp)
			c.orch.PushDeleteOnFinish(tmp, true)
			if _, err := c.orch.Materialize(ctx, newLoc); err != nil {
				return err
			}
			c.orch.PushCleanupOnAbort(newLoc, true)
		} else {
			if !c.cfg.SkipDeletionForAlter && oldLoc != "" {
				c.orch.PushDeleteOnFinish(oldLoc, true)
			}
			if oldLoc != newLoc && newLoc != "" {
				if err := c.orch.RenameDirectory(ctx, oldLoc, newLoc); err != nil {
					return err
				}
				c.orch.PushCleanupOnAbort(newLoc, true)
			}
		}
		c.alterPartitionOps = append(c.alterPartitionOps, alterPartitionOp{old: *old, next: a.Partition})
		c.updateStatsOps = append(c.updateStatsOps, updateStatsOp{table: table, partitionKey: &key, stats: a.StatisticsUpdate, merge: false})
		return nil

	case InsertExisting:
		target := a.Partition.Storage.Location
		current := target
		if len(a.InsertFiles) > 0 {
			current = path.Dir(a.InsertFiles[0])
		}
		if current != target && current != "" {
			names := make([]string, len(a.InsertFiles))
			for i, f := range a.InsertFiles {
				names[i] = path.Base(f)
				c.orch.PushCleanupOnAbort(path.Join(target, names[i]), false)
			}
			c.orch.ScheduleRenames(ctx, current, target, names)
		}
		key := catalog.PartitionKey{Table: table, Values: catalog.PartitionValuesKey(a.Partition.Values)}
		c.updateStatsOps = append(c.updateStatsOps, updateStatsOp{table: table, partitionKey: &key, stats: a.StatisticsUpdate, merge: true})
		return nil

	default:
		return newErr(ConflictingAction, "unexpected partition action kind %s", a.Kind)
	}
}

// Wait blocks until every scheduled async rename has resolved, the "Wait
// phase" of §4.5.
func (c *committer) Wait() error {
	timer := c.metrics.Timer(metrics.CommitWait)
	timer.Start()
	defer timer.Stop()
	return c.orch.Wait()
}

// Apply runs the catalog apply phase in the fixed order mandated by §4.5.
func (c *committer) Apply(ctx context.Context) error {
	ctx, end := startPhase(ctx, "apply")
	var applyErr error
	defer func() { end(applyErr) }()

	timer := c.metrics.Timer(metrics.CommitApply)
	timer.Start()
	defer timer.Stop()

	applyErr = c.applyLocked(ctx)
	return applyErr
}

func (c *committer) applyLocked(ctx context.Context) error {
	if err := c.applyAddTableOps(ctx); err != nil {
		return err
	}
	if err := c.applyAlterTableOps(ctx); err != nil {
		return err
	}
	if err := c.applyWriteIDOps(ctx); err != nil {
		return err
	}
	if err := c.applyAlterPartitionOps(ctx); err != nil {
		return err
	}
	if err := c.applyAddPartitionOps(ctx); err != nil {
		return err
	}
	return c.applyUpdateStatsOps(ctx)
}

func (c *committer) applyAddTableOps(ctx context.Context) error {
	for _, op := range c.addTableOps {
		err := c.cat.CreateTable(ctx, op.table)
		if err == nil {
			c.succeededAddTables = append(c.succeededAddTables, op.table.Key())
			continue
		}
		if !catalog.IsAlreadyExists(err) {
			return err
		}
		existing, getErr := c.cat.GetTable(ctx, op.table.Key())
		if getErr != nil {
			return getErr
		}
		if op.ignoreExisting {
			continue
		}
		if existing.Parameters["query_id"] == op.queryID && sameSchema(existing.Columns, op.table.Columns) {
			continue
		}
		if !sameSchema(existing.Columns, op.table.Columns) {
			return newErr(TransactionConflict, "table %s.%s schema mismatch with concurrently created table", op.table.SchemaName, op.table.TableName)
		}
		return err
	}
	return nil
}

func sameSchema(a, b []catalog.Column) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Type != b[i].Type {
			return false
		}
	}
	return true
}

func (c *committer) applyAlterTableOps(ctx context.Context) error {
	for _, op := range c.alterTableOps {
		if err := c.cat.ReplaceTable(ctx, op.next, op.useTransaction, op.txnID); err != nil {
			if catalog.IsTableNotFound(err) {
				return newErr(TransactionConflict, "table %s.%s no longer exists", op.next.SchemaName, op.next.TableName)
			}
			return err
		}
		c.succeededAlterTables = append(c.succeededAlterTables, op)
	}
	return nil
}

func (c *committer) applyWriteIDOps(ctx context.Context) error {
	for _, op := range c.writeIDOps {
		t := op.table
		t.WriteID = &op.writeID
		if err := c.cat.ReplaceTable(ctx, t, true, op.txnID); err != nil {
			return err
		}
	}
	return nil
}

func (c *committer) applyAlterPartitionOps(ctx context.Context) error {
	for _, op := range c.alterPartitionOps {
		if err := c.cat.AlterPartition(ctx, op.next); err != nil {
			return err
		}
		c.succeededAlterParts = append(c.succeededAlterParts, op)
	}
	return nil
}

func (c *committer) applyAddPartitionOps(ctx context.Context) error {
	for _, table := range c.adderOrder {
		if err := c.adders[table].apply(ctx, c.cfg.PartitionCommitBatchSize, c.queryID); err != nil {
			return err
		}
	}
	return nil
}

// applyUpdateStatsOps runs every queued stats update on the bounded update
// pool (inline if MaxConcurrentMetastoreUpdates == 1), collecting all errors
// into one aggregate rather than failing fast (§4.5 apply step 5).
func (c *committer) applyUpdateStatsOps(ctx context.Context) error {
	if len(c.updateStatsOps) == 0 {
		return nil
	}
	counter := c.metrics.Counter(metrics.StatsUpdates)

	if c.cfg.InlineMetastoreUpdates() {
		var errs []error
		for _, op := range c.updateStatsOps {
			if err := c.applyOneStatsOp(ctx, op); err != nil {
				errs = append(errs, err)
			}
			counter.Incr()
		}
		return aggregateErrors(errs)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrentMetastoreUpdates)
	errCh := make(chan error, len(c.updateStatsOps))
	for _, op := range c.updateStatsOps {
		op := op
		g.Go(func() error {
			if err := c.applyOneStatsOp(gctx, op); err != nil {
				errCh <- err
			}
			counter.Incr()
			return nil
		})
	}
	_ = g.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return aggregateErrors(errs)
}

func (c *committer) applyOneStatsOp(ctx context.Context, op updateStatsOp) error {
	var err error
	if op.partitionKey != nil {
		err = c.cat.UpdatePartitionStatistics(ctx, *op.partitionKey, op.stats, op.merge)
	} else {
		err = c.cat.UpdateTableStatistics(ctx, op.table, op.stats, op.merge)
	}
	if catalog.IsCorruptedStatistics(err) {
		c.logger.Warnf("stats update for %v returned corrupted-statistics; treating as empty", op.table)
		return nil
	}
	return err
}

func aggregateErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	e := newErr(ConflictingAction, "%d statistics update(s) failed", len(errs))
	for i, err := range errs {
		if i == 0 {
			e.Message = err.Error()
		}
		e.AddSuppressed(err)
	}
	return e
}

// Undo reverses everything Apply already committed, in the reverse-dependency
// order specified by §4.5: stats (no compensating action exists, so this
// step is a no-op placeholder kept for ordering clarity) → add-partition →
// add-table → alter-partition → alter-table → filesystem cleanup/rename-back.
func (c *committer) Undo(ctx context.Context) []error {
	var errs []error

	for i := len(c.adderOrder) - 1; i >= 0; i-- {
		errs = append(errs, c.adders[c.adderOrder[i]].undo(ctx)...)
	}

	for i := len(c.succeededAddTables) - 1; i >= 0; i-- {
		if err := c.cat.DropTable(ctx, c.succeededAddTables[i], true); err != nil {
			errs = append(errs, err)
		}
	}

	for i := len(c.succeededAlterParts) - 1; i >= 0; i-- {
		op := c.succeededAlterParts[i]
		if err := c.cat.AlterPartition(ctx, op.old); err != nil {
			errs = append(errs, err)
		}
	}

	for i := len(c.succeededAlterTables) - 1; i >= 0; i-- {
		op := c.succeededAlterTables[i]
		if err := c.cat.ReplaceTable(ctx, op.old, op.useTransaction, op.txnID); err != nil {
			errs = append(errs, err)
		}
	}

	c.orch.Cancel()
	_ = c.orch.Wait()
	errs = append(errs, c.orch.RunAbortUndo(ctx)...)
	return errs
}

// Irreversible runs the drop ops queued during prepare. Failures are
// collected, never undone; if every queued op was a drop and all of them
// failed, the commit is reported as a pure drop failure (§4.5).
func (c *committer) Irreversible(ctx context.Context) error {
	_, end := startPhase(ctx, "irreversible")
	var err error
	defer func() { end(err) }()

	if len(c.irreversibleOps) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrentMetastoreDrops)
	results := make([]error, len(c.irreversibleOps))
	for i, op := range c.irreversibleOps {
		i, op := i, op
		g.Go(func() error {
			if op.partitionKey != nil {
				results[i] = c.cat.DropPartition(gctx, *op.partitionKey, op.deleteData)
			} else {
				results[i] = c.cat.DropTable(gctx, op.table, op.deleteData)
			}
			return nil
		})
	}
	_ = g.Wait()

	var failures []error
	for i, r := range results {
		if r != nil {
			failures = append(failures, fmt.Errorf("%s: %w", c.irreversibleOps[i].description, r))
		}
	}
	if len(failures) == 0 {
		return nil
	}
	onlyDrops := len(c.addTableOps)+len(c.alterTableOps)+len(c.writeIDOps)+
		len(c.alterPartitionOps)+len(c.updateStatsOps)+len(c.adderOrder) == 0
	if onlyDrops && len(failures) == len(c.irreversibleOps) {
		agg := newErr(ConflictingAction, "all %d drop operation(s) failed", len(failures))
		for _, f := range failures {
			agg.AddSuppressed(f)
		}
		err = agg
		return err
	}
	for _, f := range failures {
		c.logger.Warnf("irreversible drop failed (not retried, not fatal): %v", f)
	}
	return nil
}

// Finish always runs after Irreversible, even on partial failure: it executes
// delete-on-finish tasks, then scrubs every STAGE_AND_MOVE intent's staging
// root. Errors are logged unless cfg.FinishPhaseErrorsFatal is set (§4.5/§7).
func (c *committer) Finish(ctx context.Context, intents *intentRegistry, queryIDs []string) error {
	_, end := startPhase(ctx, "finish")
	var finishErr error
	defer func() { end(finishErr) }()

	var errs []error
	errs = append(errs, c.orch.RunFinish(ctx)...)
	errs = append(errs, intents.FinishScrub(ctx, c.orch, queryIDs)...)

	if len(errs) == 0 {
		return nil
	}
	for _, e := range errs {
		c.logger.Warnf("finish-phase cleanup error (non-fatal): %v", e)
	}
	if c.cfg.FinishPhaseErrorsFatal {
		agg := newErr(ConflictingAction, "%d finish-phase error(s)", len(errs))
		for _, e := range errs {
			agg.AddSuppressed(e)
		}
		finishErr = agg
		return finishErr
	}
	return nil
}
