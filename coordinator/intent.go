package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tchap/go-patricia/v2/patricia"

	"github.com/lakehouse/metacoord/catalog"
	"github.com/lakehouse/metacoord/fs"
)

// WriteMode names how a writer intends to land its output (§4.7).
type WriteMode int

const (
	StageAndMove WriteMode = iota
	DirectToNew
	DirectToExisting
)

func (m WriteMode) String() string {
	switch m {
	case StageAndMove:
		return "STAGE_AND_MOVE"
	case DirectToNew:
		return "DIRECT_TO_NEW"
	case DirectToExisting:
		return "DIRECT_TO_EXISTING"
	default:
		return "UNKNOWN"
	}
}

// Intent is one declared write intent registered via DeclareIntent.
type Intent struct {
	DeclarationID string
	Mode          WriteMode
	Identity      string
	QueryID       string
	StagingRoot   string
	TargetTable   catalog.Key
}

// intentRegistry tracks declared write intents by declaration id and by
// staging root; the patricia trie keyed by staging root lets DeclareIntent
// reject a second intent for the same root. Rollback and finish scrubbing
// visit every declared intent (§4.7).
type intentRegistry struct {
	trie     *patricia.Trie
	byID     map[string]*Intent
	sequence atomic.Uint64
}

func newIntentRegistry() *intentRegistry {
	return &intentRegistry{
		trie: patricia.NewTrie(),
		byID: map[string]*Intent{},
	}
}

// DeclareIntent registers a new write intent and returns its declaration id.
// DIRECT_TO_EXISTING is rejected with UnsupportedDirectWrite whenever the
// target table already has any pending partition action logged, uniformly
// regardless of which side of the commit the conflict would land on (§9).
// staging_root must be unique within the transaction (§3 invariant 5): a
// second DeclareIntent for a root already registered would otherwise
// silently replace the earlier intent's trie entry, dropping it from
// rollback scrub coverage.
func (r *intentRegistry) DeclareIntent(mode WriteMode, identity, queryID, stagingRoot string, target catalog.Key, log *actionLog) (string, error) {
	if r.trie.Get(patricia.Prefix(stagingRoot)) != nil {
		return "", newErr(ConflictingAction, "staging root %q already has a declared intent for this transaction", stagingRoot)
	}

	if mode == DirectToExisting {
		hasPending := false
		log.IterPartitionActions(func(table catalog.Key, _ []string, _ *Action) bool {
			if table == target {
				hasPending = true
				return false
			}
			return true
		})
		if hasPending {
			return "", newErr(UnsupportedDirectWrite, "table %s.%s has pending partition actions; DIRECT_TO_EXISTING writes are unsupported", target.SchemaName, target.TableName)
		}
	}

	seq := r.sequence.Add(1)
	id := fmt.Sprintf("%s-%d", queryID, seq)
	intent := &Intent{
		DeclarationID: id,
		Mode:          mode,
		Identity:      identity,
		QueryID:       queryID,
		StagingRoot:   stagingRoot,
		TargetTable:   target,
	}
	r.byID[id] = intent
	r.trie.Insert(patricia.Prefix(stagingRoot), intent)
	return id, nil
}

// DropIntent removes a declared intent without any filesystem side effects.
func (r *intentRegistry) DropIntent(declarationID string) error {
	intent, ok := r.byID[declarationID]
	if !ok {
		return newErr(UnknownDeclaration, "no declared intent %q", declarationID)
	}
	delete(r.byID, declarationID)
	r.trie.Delete(patricia.Prefix(intent.StagingRoot))
	return nil
}

// All returns every currently-declared intent, in an unspecified order.
func (r *intentRegistry) All() []*Intent {
	out := make([]*Intent, 0, len(r.byID))
	for _, intent := range r.byID {
		out = append(out, intent)
	}
	return out
}

// RollbackIntents scrubs filesystem state for every declared intent per its
// mode (§4.8's rollback, delegating the per-mode policy named in §4.7):
//   - STAGE_AND_MOVE, DIRECT_TO_NEW: recursively delete files tagged with one
//     of queryIDs under StagingRoot, then clean empty directories. DIRECT_TO_NEW
//     is skipped entirely when skipTargetCleanup is true.
//   - DIRECT_TO_EXISTING: scrub the base directory and every partition
//     location outside it (fetched from the catalog in batches of 10) by
//     query id, but never delete the directory itself.
func (r *intentRegistry) RollbackIntents(ctx context.Context, orch *fs.Orchestrator, cat catalog.Metastore, queryIDs []string, skipTargetCleanup bool) []error {
	var errs []error
	for _, intent := range r.All() {
		switch intent.Mode {
		case StageAndMove:
			if err := orch.ScrubByQueryIDs(ctx, intent.StagingRoot, queryIDs, true); err != nil {
				errs = append(errs, err)
			}
		case DirectToNew:
			if skipTargetCleanup {
				continue
			}
			if err := orch.ScrubByQueryIDs(ctx, intent.StagingRoot, queryIDs, true); err != nil {
				errs = append(errs, err)
			}
		case DirectToExisting:
			if err := r.scrubDirectToExisting(ctx, orch, cat, intent, queryIDs); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// FinishScrub implements the finish-phase scrub named in §4.5: after a
// successful commit, every STAGE_AND_MOVE intent's staging root is
// recursively scrubbed by this transaction's query ids, unconditionally (no
// skipTargetCleanup gate — that only applies to rollback's DIRECT_TO_NEW case).
func (r *intentRegistry) FinishScrub(ctx context.Context, orch *fs.Orchestrator, queryIDs []string) []error {
	var errs []error
	for _, intent := range r.All() {
		if intent.Mode != StageAndMove {
			continue
		}
		if err := orch.ScrubByQueryIDs(ctx, intent.StagingRoot, queryIDs, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

const partitionLocationBatchSize = 10

func (r *intentRegistry) scrubDirectToExisting(ctx context.Context, orch *fs.Orchestrator, cat catalog.Metastore, intent *Intent, queryIDs []string) error {
	if err := orch.ScrubByQueryIDs(ctx, intent.StagingRoot, queryIDs, false); err != nil {
		return err
	}

	table, err := cat.GetTable(ctx, intent.TargetTable)
	if err != nil || table == nil || len(table.PartitionColumns) == 0 {
		return err
	}

	names, err := cat.GetPartitionNamesByFilter(ctx, intent.TargetTable, "")
	if err != nil {
		return err
	}

	for start := 0; start < len(names); start += partitionLocationBatchSize {
		end := start + partitionLocationBatchSize
		if end > len(names) {
			end = len(names)
		}
		batch := names[start:end]
		partitions, err := cat.GetPartitionsByNames(ctx, intent.TargetTable, batch)
		if err != nil {
			return err
		}
		for _, p := range partitions {
			if p.Storage.Location == "" || p.Storage.Location == intent.StagingRoot {
				continue
			}
			if err := orch.ScrubByQueryIDs(ctx, p.Storage.Location, queryIDs, false); err != nil {
				return err
			}
		}
	}
	return nil
}
