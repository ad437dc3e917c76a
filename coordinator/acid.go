package coordinator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lakehouse/metacoord/catalog"
	"github.com/lakehouse/metacoord/log"
)

// acidInterlock is the per-transaction ACID lifecycle (C6, §4.6): it opens
// the catalog transaction, acquires the table write lock, allocates the
// write id, and keeps the transaction alive with a heartbeat until commit or
// abort.
type acidInterlock struct {
	cat    catalog.Metastore
	logger log.Logger

	txnID         int64
	open          bool
	heartbeatStop context.CancelFunc
	heartbeatDone chan struct{}

	mu            sync.Mutex
	validWriteIDs map[catalog.Key][]int64
	fetched       bool
}

func newACIDInterlock(cat catalog.Metastore, logger log.Logger) *acidInterlock {
	return &acidInterlock{cat: cat, logger: logger}
}

// Begin opens a catalog transaction, acquires key's write lock for op, and
// allocates a write id, then starts a heartbeat goroutine that pings the
// catalog at half of heartbeatInterval until Commit or Abort is called.
func (a *acidInterlock) Begin(ctx context.Context, key catalog.Key, op catalog.LockOperation, heartbeatInterval time.Duration) (writeID int64, err error) {
	a.txnID, err = a.cat.OpenTransaction(ctx)
	if err != nil {
		return 0, err
	}
	if err := a.cat.AcquireTableWriteLock(ctx, a.txnID, key, op); err != nil {
		_ = a.cat.AbortTransaction(ctx, a.txnID)
		return 0, err
	}
	writeID, err = a.cat.AllocateWriteID(ctx, a.txnID, key)
	if err != nil {
		_ = a.cat.AbortTransaction(ctx, a.txnID)
		return 0, err
	}
	a.open = true
	a.startHeartbeat(heartbeatInterval / 2)
	return writeID, nil
}

// startHeartbeat runs a heartbeat loop paced by a rate.Limiter at one event
// per period, stopping as soon as the returned cancel func is called.
func (a *acidInterlock) startHeartbeat(period time.Duration) {
	if period <= 0 {
		period = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.heartbeatStop = cancel
	a.heartbeatDone = make(chan struct{})

	limiter := rate.NewLimiter(rate.Every(period), 1)
	go func() {
		defer close(a.heartbeatDone)
		// consume the initial burst token immediately so the first wait
		// actually blocks for a full period before the first heartbeat.
		_ = limiter.Wait(ctx)
		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if err := a.cat.SendTransactionHeartbeat(ctx, a.txnID); err != nil {
				a.logger.WithField("txn_id", a.txnID).Warnf("transaction heartbeat failed: %v", err)
			}
		}
	}()
}

// stopHeartbeat cancels and waits for the heartbeat goroutine to exit before
// the final commit/abort call, so no heartbeat races the transaction's close
// (§4.6 "cancels the heartbeat" happens-before "calls commit/abort").
func (a *acidInterlock) stopHeartbeat() {
	if a.heartbeatStop == nil {
		return
	}
	a.heartbeatStop()
	<-a.heartbeatDone
	a.heartbeatStop = nil
}

// Commit stops the heartbeat then commits the catalog transaction. Any error
// is surfaced to the caller (§4.6).
func (a *acidInterlock) Commit(ctx context.Context) error {
	if !a.open {
		return nil
	}
	a.stopHeartbeat()
	a.open = false
	return a.cat.CommitTransaction(ctx, a.txnID)
}

// Abort stops the heartbeat then aborts the catalog transaction. Abort
// errors are logged and swallowed (§4.6).
func (a *acidInterlock) Abort(ctx context.Context) {
	if !a.open {
		return
	}
	a.stopHeartbeat()
	a.open = false
	if err := a.cat.AbortTransaction(ctx, a.txnID); err != nil {
		a.logger.WithField("txn_id", a.txnID).Warnf("abort_transaction failed: %v", err)
	}
}

// ValidWriteIDs lazily fetches and caches the valid-write-id snapshot needed
// for a transactional read, on first call within the transaction (§4.6).
func (a *acidInterlock) ValidWriteIDs(ctx context.Context, keys []catalog.Key) (map[catalog.Key][]int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fetched {
		return a.validWriteIDs, nil
	}
	ids, err := a.cat.GetValidWriteIDs(ctx, keys, a.txnID)
	if err != nil {
		return nil, err
	}
	a.validWriteIDs = ids
	a.fetched = true
	return ids, nil
}

// TransactionID returns the open catalog transaction id, or 0 if none is open.
func (a *acidInterlock) TransactionID() int64 { return a.txnID }

// Open reports whether a catalog transaction is currently open.
func (a *acidInterlock) Open() bool { return a.open }
