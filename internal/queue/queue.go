// Package queue captures completed sales into the durable local store,
// online or offline alike, and tracks their lifecycle until the orchestrator
// reconciles them with the remote ledger.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kasirsync/agent/internal/domain"
	"kasirsync/agent/internal/localstore"
	"kasirsync/agent/internal/netmon"
	"kasirsync/agent/internal/xid"
)

var ErrNotFailed = errors.New("transaction is not failed")

type Queue struct {
	store        localstore.Store
	monitor      *netmon.Monitor
	syncInterval time.Duration
	// nudge pokes the orchestrator's trigger channel; non-blocking, may be nil
	// until the orchestrator is wired in.
	nudge func()
	now   func() time.Time
}

func New(store localstore.Store, monitor *netmon.Monitor, syncInterval time.Duration) *Queue {
	return &Queue{
		store:        store,
		monitor:      monitor,
		syncInterval: syncInterval,
		now:          time.Now,
	}
}

// SetNudge wires the opportunistic sync-after-enqueue signal.
func (q *Queue) SetNudge(nudge func()) {
	q.nudge = nudge
}

// Enqueue validates the sale, computes line and transaction totals, persists
// the transaction as pending, and returns its locally generated id. Succeeds
// whenever the local store accepts the write; whether the network is up plays
// no part. As a side effect it nudges the orchestrator when currently online.
func (q *Queue) Enqueue(ctx context.Context, req domain.SaleRequest) (string, error) {
	if len(req.Items) == 0 {
		return "", fmt.Errorf("%w: no items", localstore.ErrInvalidSale)
	}
	if !domain.ValidPaymentMethod(req.PaymentMethod) {
		return "", fmt.Errorf("%w: unknown payment method %q", localstore.ErrInvalidSale, req.PaymentMethod)
	}
	if req.DiscountCents < 0 {
		return "", fmt.Errorf("%w: negative discount", localstore.ErrInvalidSale)
	}

	var subtotal int64
	items := make([]domain.SaleItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Qty <= 0 || item.UnitPriceCents < 0 {
			return "", fmt.Errorf("%w: bad quantity or price for %q", localstore.ErrInvalidSale, item.ProductID)
		}
		item.LineTotalCents = item.UnitPriceCents * int64(item.Qty)
		subtotal += item.LineTotalCents
		items = append(items, item)
	}

	total := subtotal - req.DiscountCents
	if total < 0 {
		total = 0
	}

	tx := domain.OfflineTransaction{
		ID:            xid.New("txn"),
		Items:         items,
		SubtotalCents: subtotal,
		DiscountCents: req.DiscountCents,
		TotalCents:    total,
		PaymentMethod: req.PaymentMethod,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		CustomerEmail: req.CustomerEmail,
		StaffID:       req.StaffID,
		StaffName:     req.StaffName,
		Timestamp:     q.now().UTC(),
		Status:        domain.TxStatusPending,
		SyncAttempts:  0,
	}

	if err := q.store.PutTransaction(ctx, tx); err != nil {
		return "", fmt.Errorf("persist transaction: %w", err)
	}

	if q.nudge != nil && q.monitor.Status().IsOnline {
		q.nudge()
	}
	return tx.ID, nil
}

// Stats reports queue depth for the operator display.
func (q *Queue) Stats(ctx context.Context) (domain.QueueStats, error) {
	pending, err := q.store.ListPendingTransactions(ctx)
	if err != nil {
		return domain.QueueStats{}, err
	}

	var stats domain.QueueStats
	for _, tx := range pending {
		switch tx.Status {
		case domain.TxStatusPending:
			stats.PendingCount++
		case domain.TxStatusFailed:
			stats.FailedCount++
		}
	}

	if raw, err := q.store.GetScalar(ctx, domain.ScalarLastSyncAttempt); err == nil {
		if last, perr := time.Parse(time.RFC3339, raw); perr == nil {
			last = last.UTC()
			stats.LastSyncAttempt = &last
			next := last.Add(q.syncInterval)
			stats.NextSyncAttempt = &next
		}
	} else if !errors.Is(err, localstore.ErrNotFound) {
		return domain.QueueStats{}, err
	}
	return stats, nil
}

// ClearFailed drops every failed transaction by marking it synced. This is the
// operator's explicit "give up" action; nothing in the agent calls it on its
// own.
func (q *Queue) ClearFailed(ctx context.Context) (int, error) {
	return q.store.ClearFailedTransactions(ctx)
}

// RetryFailed re-arms one failed transaction to pending so the next drain pass
// picks it up again. The error message is cleared; the attempt count is kept.
func (q *Queue) RetryFailed(ctx context.Context, id string) error {
	tx, err := q.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if tx.Status != domain.TxStatusFailed {
		return ErrNotFailed
	}
	err = q.store.UpdateTransactionStatus(ctx, id, localstore.StatusUpdate{
		Status:       domain.TxStatusPending,
		SyncAttempts: tx.SyncAttempts,
		Retryable:    true,
	})
	if err != nil {
		return err
	}
	if q.nudge != nil && q.monitor.Status().IsOnline {
		q.nudge()
	}
	return nil
}
