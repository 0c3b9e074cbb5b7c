// Package postgres backs the local store with a terminal-local PostgreSQL
// instance, the usual setup for counters that already run one for reporting.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirsync/agent/internal/domain"
	"kasirsync/agent/internal/localstore"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS offline_transactions (
			id             TEXT PRIMARY KEY,
			items          JSONB NOT NULL,
			subtotal_cents BIGINT NOT NULL,
			discount_cents BIGINT NOT NULL,
			total_cents    BIGINT NOT NULL,
			payment_method TEXT NOT NULL,
			customer_name  TEXT NOT NULL DEFAULT '',
			customer_phone TEXT NOT NULL DEFAULT '',
			customer_email TEXT NOT NULL DEFAULT '',
			staff_id       TEXT NOT NULL DEFAULT '',
			staff_name     TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL,
			status         TEXT NOT NULL,
			sync_attempts  INT NOT NULL DEFAULT 0,
			retryable      BOOLEAN NOT NULL DEFAULT false,
			last_error     TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS offline_transactions_status_idx
			ON offline_transactions (status, created_at);
		CREATE TABLE IF NOT EXISTS product_cache (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			sku          TEXT NOT NULL,
			barcode      TEXT NOT NULL DEFAULT '',
			price_cents  BIGINT NOT NULL,
			stock        INT NOT NULL,
			category     TEXT NOT NULL DEFAULT '',
			brand        TEXT NOT NULL DEFAULT '',
			description  TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT '',
			last_updated TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS sync_scalars (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

func (s *Store) PutTransaction(ctx context.Context, tx domain.OfflineTransaction) error {
	items, err := json.Marshal(tx.Items)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO offline_transactions (
			id, items, subtotal_cents, discount_cents, total_cents, payment_method,
			customer_name, customer_phone, customer_email, staff_id, staff_name,
			created_at, status, sync_attempts, retryable, last_error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			sync_attempts = EXCLUDED.sync_attempts,
			retryable = EXCLUDED.retryable,
			last_error = EXCLUDED.last_error
	`, tx.ID, items, tx.SubtotalCents, tx.DiscountCents, tx.TotalCents, tx.PaymentMethod,
		tx.CustomerName, tx.CustomerPhone, tx.CustomerEmail, tx.StaffID, tx.StaffName,
		tx.Timestamp, tx.Status, tx.SyncAttempts, tx.Retryable, tx.LastError)
	return err
}

const txColumns = `
	id, items, subtotal_cents, discount_cents, total_cents, payment_method,
	customer_name, customer_phone, customer_email, staff_id, staff_name,
	created_at, status, sync_attempts, retryable, last_error
`

func scanTransaction(row interface{ Scan(...any) error }) (*domain.OfflineTransaction, error) {
	var tx domain.OfflineTransaction
	var items []byte
	err := row.Scan(&tx.ID, &items, &tx.SubtotalCents, &tx.DiscountCents, &tx.TotalCents,
		&tx.PaymentMethod, &tx.CustomerName, &tx.CustomerPhone, &tx.CustomerEmail,
		&tx.StaffID, &tx.StaffName, &tx.Timestamp, &tx.Status, &tx.SyncAttempts,
		&tx.Retryable, &tx.LastError)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &tx.Items); err != nil {
		return nil, err
	}
	tx.Timestamp = tx.Timestamp.UTC()
	return &tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.OfflineTransaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+txColumns+`
		FROM offline_transactions
		WHERE id = $1
	`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, localstore.ErrNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (s *Store) ListPendingTransactions(ctx context.Context) ([]domain.OfflineTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txColumns+`
		FROM offline_transactions
		WHERE status <> $1
		ORDER BY created_at, id
	`, domain.TxStatusSynced)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.OfflineTransaction, 0, 32)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transactions, nil
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, id string, upd localstore.StatusUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE offline_transactions
		SET status = $2, sync_attempts = $3, retryable = $4, last_error = $5
		WHERE id = $1
	`, id, upd.Status, upd.SyncAttempts, upd.Retryable, upd.LastError)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return localstore.ErrNotFound
	}
	return nil
}

func (s *Store) ClearFailedTransactions(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE offline_transactions
		SET status = $1
		WHERE status = $2
	`, domain.TxStatusSynced, domain.TxStatusFailed)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) ReplaceProductCache(ctx context.Context, products []domain.OfflineProduct) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	if _, err := dbTx.ExecContext(ctx, `DELETE FROM product_cache`); err != nil {
		return err
	}
	for _, p := range products {
		_, err := dbTx.ExecContext(ctx, `
			INSERT INTO product_cache (
				id, name, sku, barcode, price_cents, stock,
				category, brand, description, status, last_updated
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, p.ID, p.Name, p.SKU, p.Barcode, p.PriceCents, p.Stock,
			p.Category, p.Brand, p.Description, p.Status, p.LastUpdated)
		if err != nil {
			return err
		}
	}
	return dbTx.Commit()
}

func (s *Store) ListCachedProducts(ctx context.Context) ([]domain.OfflineProduct, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, sku, barcode, price_cents, stock,
		       category, brand, description, status, last_updated
		FROM product_cache
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.OfflineProduct, 0, 128)
	for rows.Next() {
		var p domain.OfflineProduct
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &p.Barcode, &p.PriceCents, &p.Stock,
			&p.Category, &p.Brand, &p.Description, &p.Status, &p.LastUpdated); err != nil {
			return nil, err
		}
		p.LastUpdated = p.LastUpdated.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetCachedProduct(ctx context.Context, id string) (*domain.OfflineProduct, error) {
	var p domain.OfflineProduct
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, sku, barcode, price_cents, stock,
		       category, brand, description, status, last_updated
		FROM product_cache
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.SKU, &p.Barcode, &p.PriceCents, &p.Stock,
		&p.Category, &p.Brand, &p.Description, &p.Status, &p.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, localstore.ErrNotFound
		}
		return nil, err
	}
	p.LastUpdated = p.LastUpdated.UTC()
	return &p, nil
}

func (s *Store) GetScalar(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM sync_scalars WHERE key = $1
	`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", localstore.ErrNotFound
		}
		return "", err
	}
	return value, nil
}

func (s *Store) SetScalar(ctx context.Context, key string, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_scalars (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	return err
}
