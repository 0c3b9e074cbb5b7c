// Package syncer drains the transaction queue against the remote system of
// record. It is the only component that submits queued sales, and it never
// runs more than one drain pass at a time.
package syncer

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"kasirsync/agent/internal/domain"
	"kasirsync/agent/internal/localstore"
	"kasirsync/agent/internal/netmon"
	"kasirsync/agent/internal/remote"
)

// ErrSyncInProgress is returned to a manual force-sync that lands while a
// drain pass is already running. The request is coalesced into one follow-up
// pass rather than run concurrently.
var ErrSyncInProgress = errors.New("sync already in progress")

// Submitter is the remote submission endpoint. *remote.Client implements it.
type Submitter interface {
	SubmitSale(ctx context.Context, tx domain.OfflineTransaction) (*domain.SaleSubmissionResponse, error)
}

type Orchestrator struct {
	store       localstore.Store
	monitor     *netmon.Monitor
	submitter   Submitter
	interval    time.Duration
	settleDelay time.Duration
	maxAttempts int
	now         func() time.Time

	// trigger is buffered at 1: any number of overlapping activation signals
	// collapse into at most one queued drain pass.
	trigger chan struct{}
	// drainMu is the in-progress guard; it is only ever TryLocked, never
	// waited on, so a trigger can be rejected but never blocked.
	drainMu sync.Mutex
}

func New(store localstore.Store, monitor *netmon.Monitor, submitter Submitter, interval time.Duration, settleDelay time.Duration, maxAttempts int) *Orchestrator {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxAttempts < 1 {
		maxAttempts = 8
	}
	return &Orchestrator{
		store:       store,
		monitor:     monitor,
		submitter:   submitter,
		interval:    interval,
		settleDelay: settleDelay,
		maxAttempts: maxAttempts,
		now:         time.Now,
		trigger:     make(chan struct{}, 1),
	}
}

// Nudge signals that a drain pass should run soon. Safe to call from any
// goroutine; signals arriving while one is already queued are dropped.
func (o *Orchestrator) Nudge() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run reacts to reconnections, the periodic timer, and nudges until ctx is
// cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	var wasOnline atomic.Bool
	unsubscribe := o.monitor.Subscribe(func(status domain.NetworkStatus) {
		if !status.IsOnline {
			wasOnline.Store(false)
			return
		}
		if !wasOnline.Swap(true) {
			// Settle delay: a link that just flapped up may not hold; give it
			// a beat before pushing queued sales through it.
			time.AfterFunc(o.settleDelay, o.Nudge)
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.drain(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
				log.Printf("[syncer] periodic drain: %v", err)
			}
		case <-o.trigger:
			if _, err := o.drain(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
				log.Printf("[syncer] triggered drain: %v", err)
			}
		}
	}
}

// SyncNow is the manual force-sync entry point.
func (o *Orchestrator) SyncNow(ctx context.Context) (domain.SyncResult, error) {
	return o.drain(ctx)
}

func (o *Orchestrator) drain(ctx context.Context) (domain.SyncResult, error) {
	if !o.monitor.Status().IsOnline {
		// Offline pass is a no-op, not an error, and leaves the last-attempt
		// marker untouched.
		return domain.SyncResult{}, nil
	}

	if !o.drainMu.TryLock() {
		o.Nudge()
		return domain.SyncResult{}, ErrSyncInProgress
	}
	defer o.drainMu.Unlock()

	pending, err := o.collectPending(ctx)
	if err != nil {
		return domain.SyncResult{}, err
	}

	if err := o.store.SetScalar(ctx, domain.ScalarLastSyncAttempt, o.now().UTC().Format(time.RFC3339)); err != nil {
		log.Printf("[syncer] record last sync attempt: %v", err)
	}

	var result domain.SyncResult
	for i, tx := range pending {
		if !o.monitor.Status().IsOnline {
			// Connectivity dropped mid-pass. In-flight work has already
			// resolved; everything not yet started waits for the next pass.
			result.Skipped = len(pending) - i
			log.Printf("[syncer] went offline mid-drain, deferring %d transactions", result.Skipped)
			break
		}

		resp, submitErr := o.submitter.SubmitSale(ctx, tx)
		attempts := tx.SyncAttempts + 1

		var upd localstore.StatusUpdate
		if submitErr != nil {
			upd = localstore.StatusUpdate{
				Status:       domain.TxStatusFailed,
				SyncAttempts: attempts,
				Retryable:    remote.IsRetryable(submitErr),
				LastError:    submitErr.Error(),
			}
		} else {
			upd = localstore.StatusUpdate{
				Status:       domain.TxStatusSynced,
				SyncAttempts: attempts,
			}
			if resp.Duplicate {
				log.Printf("[syncer] %s was already on the ledger as %s", tx.ID, resp.TransactionID)
			}
		}

		if updErr := o.store.UpdateTransactionStatus(ctx, tx.ID, upd); updErr != nil {
			// Contained to this item; the pass keeps going.
			log.Printf("[syncer] update %s: %v", tx.ID, updErr)
			result.Failed++
			continue
		}

		if submitErr != nil {
			log.Printf("[syncer] submit %s failed (attempt %d): %v", tx.ID, attempts, submitErr)
			result.Failed++
		} else {
			result.Success++
		}
	}

	return result, nil
}

// collectPending lists the queue oldest first and re-arms failed transactions
// that are still worth retrying: transient failures under the attempt cap.
// Rejected submissions and exhausted transactions stay failed until an
// operator re-arms or clears them.
func (o *Orchestrator) collectPending(ctx context.Context) ([]domain.OfflineTransaction, error) {
	queued, err := o.store.ListPendingTransactions(ctx)
	if err != nil {
		return nil, err
	}

	pending := make([]domain.OfflineTransaction, 0, len(queued))
	for _, tx := range queued {
		switch tx.Status {
		case domain.TxStatusPending:
			pending = append(pending, tx)
		case domain.TxStatusFailed:
			if !tx.Retryable || tx.SyncAttempts >= o.maxAttempts {
				continue
			}
			upd := localstore.StatusUpdate{
				Status:       domain.TxStatusPending,
				SyncAttempts: tx.SyncAttempts,
				Retryable:    true,
			}
			if err := o.store.UpdateTransactionStatus(ctx, tx.ID, upd); err != nil {
				log.Printf("[syncer] re-arm %s: %v", tx.ID, err)
				continue
			}
			tx.Status = domain.TxStatusPending
			tx.LastError = ""
			pending = append(pending, tx)
		}
	}
	return pending, nil
}
