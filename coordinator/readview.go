package coordinator

import (
	"context"
	"sync"

	"github.com/gobwas/glob"
	gi "github.com/yashtewari/glob-intersection"

	"github.com/lakehouse/metacoord/catalog"
	"github.com/lakehouse/metacoord/log"
)

// readView answers catalog-read entry points by consulting the buffered
// action log before falling through to the catalog (§4.2). It carries no
// state of its own beyond the collaborators it was built with, except the
// small bookkeeping needed for the filter-overlap warning below.
type readView struct {
	store log.Logger
	cat   catalog.Metastore
	log   *actionLog

	mu          sync.Mutex
	seenFilters map[catalog.Key][]string
}

func newReadView(cat catalog.Metastore, log_ *actionLog, logger log.Logger) *readView {
	return &readView{store: logger, cat: cat, log: log_, seenFilters: map[catalog.Key][]string{}}
}

// warnOnOverlappingFilter logs a warning, on every call, for each distinct
// filter string issued earlier against the same table within one
// transaction that could match a common partition name with filter — e.g.
// one read scoped to "d=2024-*" and a second
// scoped to "d=2024-01-*" — since a caller reasoning about either read in
// isolation may not realize they overlap. This never blocks the read; it is
// a diagnostic aid, not a new invariant (§9 names no such rejection).
func (r *readView) warnOnOverlappingFilter(key catalog.Key, filter string) {
	if filter == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, prior := range r.seenFilters[key] {
		if prior == filter {
			continue
		}
		if overlap, err := gi.NonEmpty(prior, filter); err == nil && overlap {
			r.store.WithField("table", key.TableName).Warnf(
				"partition filters %q and %q against %s.%s may match overlapping partitions", prior, filter, key.SchemaName, key.TableName)
		}
	}
	r.seenFilters[key] = append(r.seenFilters[key], filter)
}

// GetTable returns the action log's table payload if a pending action
// exists, nil if that action is a DROP, otherwise delegates to the catalog.
func (r *readView) GetTable(ctx context.Context, key catalog.Key) (*catalog.Table, error) {
	if a, ok := r.log.GetTableAction(key); ok {
		if a.Kind == Drop || a.Kind == DropPreserveData {
			return nil, nil
		}
		t := a.Table
		return &t, nil
	}
	return r.cat.GetTable(ctx, key)
}

// GetAllTables fails UnsupportedWithPendingDdl when the action log has table
// actions in schema; otherwise it delegates to list.
func (r *readView) GetAllTables(ctx context.Context, schema string, list func(context.Context, string) ([]string, error)) ([]string, error) {
	if r.log.HasTableActionsInSchema(schema) {
		return nil, newErr(UnsupportedWithPendingDdl, "schema %s has pending table actions; get_all_tables is unsupported mid-transaction", schema)
	}
	return list(ctx, schema)
}

// GetPartitionNamesByFilter delegates for the base list, then reconciles it
// against buffered partition actions: drops DROP/DROP_PRESERVE names, keeps
// everything else, and appends ADD names whose values match filter.
func (r *readView) GetPartitionNamesByFilter(ctx context.Context, key catalog.Key, filter string) ([]string, error) {
	r.warnOnOverlappingFilter(key, filter)

	base, err := r.cat.GetPartitionNamesByFilter(ctx, key, filter)
	if err != nil {
		return nil, err
	}

	g, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}

	dropped := map[string]bool{}
	var added []string
	r.log.IterPartitionActions(func(table catalog.Key, values []string, a *Action) bool {
		if table != key {
			return true
		}
		name := catalog.PartitionValuesKey(values)
		switch a.Kind {
		case Drop, DropPreserveData:
			dropped[name] = true
		case Add:
			if g == nil || g.Match(name) {
				added = append(added, name)
			}
		}
		return true
	})

	out := make([]string, 0, len(base)+len(added))
	for _, name := range base {
		if !dropped[name] {
			out = append(out, name)
		}
	}
	out = append(out, added...)
	return out, nil
}

// compileFilter compiles filter with gobwas/glob, treating an empty filter
// as "match everything" (nil glob).
func compileFilter(filter string) (glob.Glob, error) {
	if filter == "" {
		return nil, nil
	}
	g, err := glob.Compile(filter)
	if err != nil {
		return nil, newErr(ConflictingAction, "invalid partition filter %q: %v", filter, err)
	}
	return g, nil
}

// GetPartitionsByNames mixes the action log and the catalog: for each
// requested name with a pending non-drop action, returns that action's
// Partition payload as buffered (with the storage location it carries; no
// staging location is substituted), skips names with a pending drop, and
// delegates the rest.
func (r *readView) GetPartitionsByNames(ctx context.Context, key catalog.Key, names []string) ([]catalog.Partition, error) {
	var fromLog []catalog.Partition
	var remaining []string
	seen := map[string]catalog.Partition{}

	for _, name := range names {
		values := splitPartitionValues(name)
		if a, ok := r.log.GetPartitionAction(key, values); ok {
			if a.Kind == Drop || a.Kind == DropPreserveData {
				continue
			}
			seen[name] = a.Partition
			continue
		}
		remaining = append(remaining, name)
	}

	if len(remaining) > 0 {
		delegated, err := r.cat.GetPartitionsByNames(ctx, key, remaining)
		if err != nil {
			return nil, err
		}
		for _, p := range delegated {
			seen[catalog.PartitionValuesKey(p.Values)] = p
		}
	}

	for _, name := range names {
		if p, ok := seen[name]; ok {
			fromLog = append(fromLog, p)
		}
	}
	return fromLog, nil
}

// GetTableStatistics returns the merged statistics carried by a pending
// ADD/ALTER/INSERT_EXISTING/DELETE_ROWS/UPDATE action if present, else
// delegates to the catalog.
func (r *readView) GetTableStatistics(ctx context.Context, key catalog.Key) (*catalog.Statistics, error) {
	if a, ok := r.log.GetTableAction(key); ok {
		switch a.Kind {
		case Add, Alter, InsertExisting, DeleteRows, Update:
			s := a.StatisticsUpdate
			return &s, nil
		case Drop, DropPreserveData:
			return nil, nil
		}
	}
	return readOrEmptyTableStats(ctx, r.cat, key)
}

// GetPartitionStatistics is the partition-scoped analogue of
// GetTableStatistics.
func (r *readView) GetPartitionStatistics(ctx context.Context, key catalog.PartitionKey) (*catalog.Statistics, error) {
	values := splitPartitionValues(key.Values)
	if a, ok := r.log.GetPartitionAction(key.Table, values); ok {
		switch a.Kind {
		case Add, Alter, InsertExisting, DeleteRows, Update:
			s := a.StatisticsUpdate
			return &s, nil
		case Drop, DropPreserveData:
			return nil, nil
		}
	}
	s, err := r.cat.GetPartitionStatistics(ctx, key)
	if err != nil {
		if catalog.IsCorruptedStatistics(err) {
			return &catalog.Statistics{}, nil
		}
		return nil, err
	}
	return s, nil
}

func readOrEmptyTableStats(ctx context.Context, cat catalog.Metastore, key catalog.Key) (*catalog.Statistics, error) {
	s, err := cat.GetTableStatistics(ctx, key)
	if err != nil {
		if catalog.IsCorruptedStatistics(err) {
			return &catalog.Statistics{}, nil
		}
		return nil, err
	}
	return s, nil
}

// splitPartitionValues is the inverse of catalog.PartitionValuesKey.
func splitPartitionValues(name string) []string {
	if name == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(name); i++ {
		if name[i] == '\x1f' {
			out = append(out, name[start:i])
			start = i + 1
		}
	}
	out = append(out, name[start:])
	return out
}
