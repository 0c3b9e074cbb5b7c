// Package redisstore backs the local store with a terminal-local Redis
// configured for on-disk persistence. Transactions are JSON values keyed by
// id, with a sorted set over capture time preserving FIFO order.
package redisstore

import (
	"context"
	"encoding/json"
	"sync"

	redis "github.com/redis/go-redis/v9"

	"kasirsync/agent/internal/domain"
	"kasirsync/agent/internal/localstore"
)

const (
	txKeyPrefix     = "pos:tx:"
	txIndexKey      = "pos:tx:index"
	productsKey     = "pos:products"
	scalarKeyPrefix = "pos:scalar:"
)

type Store struct {
	client *redis.Client

	// Serializes read-modify-write cycles on transaction records. The agent
	// is the only writer of its local Redis, so a process-local mutex is
	// enough to keep partial updates from interleaving.
	writeMu sync.Mutex
}

func New(addr string, password string, db int) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Store{client: client}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) PutTransaction(ctx context.Context, tx domain.OfflineTransaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, txKeyPrefix+tx.ID, payload, 0)
		pipe.ZAdd(ctx, txIndexKey, redis.Z{
			Score:  float64(tx.Timestamp.UnixNano()),
			Member: tx.ID,
		})
		return nil
	})
	return err
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.OfflineTransaction, error) {
	val, err := s.client.Get(ctx, txKeyPrefix+id).Result()
	if err == redis.Nil {
		return nil, localstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var tx domain.OfflineTransaction
	if err := json.Unmarshal([]byte(val), &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) ListPendingTransactions(ctx context.Context) ([]domain.OfflineTransaction, error) {
	ids, err := s.client.ZRange(ctx, txIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.OfflineTransaction{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = txKeyPrefix + id
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	transactions := make([]domain.OfflineTransaction, 0, len(values))
	for _, val := range values {
		raw, ok := val.(string)
		if !ok {
			// Index entry whose record was deleted out of band; skip it.
			continue
		}
		var tx domain.OfflineTransaction
		if err := json.Unmarshal([]byte(raw), &tx); err != nil {
			return nil, err
		}
		if tx.Status == domain.TxStatusSynced {
			continue
		}
		transactions = append(transactions, tx)
	}
	return transactions, nil
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, id string, upd localstore.StatusUpdate) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	tx.Status = upd.Status
	tx.SyncAttempts = upd.SyncAttempts
	tx.Retryable = upd.Retryable
	tx.LastError = upd.LastError

	payload, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, txKeyPrefix+id, payload, 0).Err()
}

func (s *Store) ClearFailedTransactions(ctx context.Context) (int, error) {
	pending, err := s.ListPendingTransactions(ctx)
	if err != nil {
		return 0, err
	}

	cleared := 0
	for _, tx := range pending {
		if tx.Status != domain.TxStatusFailed {
			continue
		}
		err := s.UpdateTransactionStatus(ctx, tx.ID, localstore.StatusUpdate{
			Status:       domain.TxStatusSynced,
			SyncAttempts: tx.SyncAttempts,
			Retryable:    tx.Retryable,
			LastError:    tx.LastError,
		})
		if err != nil {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}

func (s *Store) ReplaceProductCache(ctx context.Context, products []domain.OfflineProduct) error {
	payload, err := json.Marshal(products)
	if err != nil {
		return err
	}
	// A single SET swaps the whole snapshot; readers never see a partial
	// catalog.
	return s.client.Set(ctx, productsKey, payload, 0).Err()
}

func (s *Store) ListCachedProducts(ctx context.Context) ([]domain.OfflineProduct, error) {
	val, err := s.client.Get(ctx, productsKey).Result()
	if err == redis.Nil {
		return []domain.OfflineProduct{}, nil
	}
	if err != nil {
		return nil, err
	}

	var products []domain.OfflineProduct
	if err := json.Unmarshal([]byte(val), &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetCachedProduct(ctx context.Context, id string) (*domain.OfflineProduct, error) {
	products, err := s.ListCachedProducts(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, localstore.ErrNotFound
}

func (s *Store) GetScalar(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, scalarKeyPrefix+key).Result()
	if err == redis.Nil {
		return "", localstore.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *Store) SetScalar(ctx context.Context, key string, value string) error {
	return s.client.Set(ctx, scalarKeyPrefix+key, value, 0).Err()
}
