package postgres

import (
	"context"
	"errors"
	"fmt"

	"storefront-fulfillment/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type inventoryRepository struct {
	db *pgxpool.Pool
	tx domain.TransactionManager
}

func NewInventoryRepository(db *pgxpool.Pool) domain.InventoryRepository {
	return &inventoryRepository{db: db, tx: NewTransactionManager(db)}
}

func (r *inventoryRepository) GetMany(ctx context.Context, productIDs []string) (map[string]domain.InventoryRecord, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT product_id, stock, sold, version, updated_at
		FROM inventory
		WHERE product_id = ANY($1)`, productIDs)
	if err != nil {
		return nil, storageErr("get_inventory", err)
	}
	defer rows.Close()

	out := make(map[string]domain.InventoryRecord, len(productIDs))
	for rows.Next() {
		var rec domain.InventoryRecord
		if err := rows.Scan(&rec.ProductID, &rec.Stock, &rec.Sold, &rec.Version, &rec.UpdatedAt); err != nil {
			return nil, storageErr("get_inventory", err)
		}
		out[rec.ProductID] = rec
	}
	return out, storageErr("get_inventory", rows.Err())
}

// CompareAndSwap applies every update or none. An update whose row no longer
// holds the expected counters fails the whole set with a conflict.
func (r *inventoryRepository) CompareAndSwap(ctx context.Context, updates []domain.InventoryUpdate) error {
	return r.tx.Do(ctx, func(txCtx context.Context) error {
		q := conn(txCtx, r.db)
		for _, u := range updates {
			tag, err := q.Exec(txCtx, `
				UPDATE inventory
				SET stock = $4, sold = $5, version = version + 1, updated_at = NOW()
				WHERE product_id = $1 AND stock = $2 AND sold = $3`,
				u.ProductID, u.ExpectedStock, u.ExpectedSold, u.Stock, u.Sold)
			if err != nil {
				return storageErr("cas_inventory", err)
			}
			if tag.RowsAffected() == 1 {
				continue
			}

			var exists bool
			if err := q.QueryRow(txCtx, `SELECT EXISTS (SELECT 1 FROM inventory WHERE product_id = $1)`, u.ProductID).Scan(&exists); err != nil {
				return storageErr("cas_inventory", err)
			}
			if !exists {
				return fmt.Errorf("%w: product %s", domain.ErrNotFound, u.ProductID)
			}
			return fmt.Errorf("%w: product %s changed since read", domain.ErrConcurrencyConflict, u.ProductID)
		}
		return nil
	})
}

func (r *inventoryRepository) ListLowStock(ctx context.Context, threshold, limit int) ([]domain.InventoryRecord, error) {
	// LIMIT NULL is no limit.
	var rowLimit any
	if limit > 0 {
		rowLimit = limit
	}
	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT product_id, stock, sold, version, updated_at
		FROM inventory
		WHERE stock <= $1
		ORDER BY stock, product_id
		LIMIT $2`, threshold, rowLimit)
	if err != nil {
		return nil, storageErr("low_stock", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.InventoryRecord, error) {
		var rec domain.InventoryRecord
		err := row.Scan(&rec.ProductID, &rec.Stock, &rec.Sold, &rec.Version, &rec.UpdatedAt)
		return rec, err
	})
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, storageErr("low_stock", err)
	}
	return out, nil
}
