package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-fulfillment/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const orderColumns = `id, user_id, items, total_amount, approval_status, delivery_status,
	refund_requested, refund_status, refund_reason, refund_evidence_url,
	refund_requested_at, refund_resolved_at, version, created_at, updated_at`

type orderRepository struct {
	db *pgxpool.Pool
}

func NewOrderRepository(db *pgxpool.Pool) domain.OrderRepository {
	return &orderRepository{db: db}
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var rec domain.OrderRecord
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Items, &rec.TotalAmount, &rec.ApprovalStatus, &rec.DeliveryStatus,
		&rec.RefundRequested, &rec.RefundStatus, &rec.RefundReason, &rec.RefundEvidenceURL,
		&rec.RefundRequestedAt, &rec.RefundResolvedAt, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return domain.OrderFromRecord(rec)
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(conn(ctx, r.db).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, storageErr("get_order "+id, err)
	}
	return order, nil
}

// Update writes the fulfillment columns guarded by the read version.
func (r *orderRepository) Update(ctx context.Context, order *domain.Order) error {
	rec := order.Record()
	q := conn(ctx, r.db)

	var version int64
	err := q.QueryRow(ctx, `
		UPDATE orders SET
			approval_status = $3,
			delivery_status = $4,
			refund_requested = $5,
			refund_status = $6,
			refund_reason = $7,
			refund_evidence_url = $8,
			refund_requested_at = $9,
			refund_resolved_at = $10,
			updated_at = $11,
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version`,
		rec.ID, rec.Version,
		rec.ApprovalStatus, rec.DeliveryStatus,
		rec.RefundRequested, rec.RefundStatus, rec.RefundReason, rec.RefundEvidenceURL,
		rec.RefundRequestedAt, rec.RefundResolvedAt, rec.UpdatedAt,
	).Scan(&version)
	if err == nil {
		order.Version = version
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return storageErr("update_order", err)
	}

	var current int64
	if err := q.QueryRow(ctx, `SELECT version FROM orders WHERE id = $1`, rec.ID).Scan(&current); err != nil {
		return storageErr("update_order "+rec.ID, err)
	}
	return fmt.Errorf("%w: order %s is at version %d, expected %d", domain.ErrConcurrencyConflict, rec.ID, current, rec.Version)
}

func (r *orderRepository) Query(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, int64, error) {
	where, args := orderWhere(filter)
	q := conn(ctx, r.db)

	var total int64
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, storageErr("count_orders", err)
	}

	order := ` ORDER BY created_at DESC, id`
	if filter.Sort == domain.SortByID {
		order = ` ORDER BY id`
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}
	args = append(args, limit, offset)
	sql := `SELECT ` + orderColumns + ` FROM orders` + where + order +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, storageErr("query_orders", err)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, storageErr("query_orders", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storageErr("query_orders", err)
	}
	return out, total, nil
}

// orderWhere builds the WHERE clause of filter with positional args.
func orderWhere(filter domain.OrderFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if len(filter.Approval) > 0 {
		add("approval_status = ANY($%d)", toStrings(filter.Approval))
	}
	if len(filter.Delivery) > 0 {
		add("delivery_status = ANY($%d)", toStrings(filter.Delivery))
	}
	if len(filter.ExcludeDelivery) > 0 {
		add("NOT (delivery_status = ANY($%d))", toStrings(filter.ExcludeDelivery))
	}
	if filter.RefundStatus != "" {
		add("refund_status = $%d", string(filter.RefundStatus))
	}
	if filter.CreatedFrom != nil {
		add("created_at >= $%d", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		add("created_at < $%d", *filter.CreatedTo)
	}
	if filter.AfterID != "" && filter.Sort == domain.SortByID {
		add("id > $%d", filter.AfterID)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func toStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func (r *orderRepository) EvidenceURLs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `SELECT refund_evidence_url FROM orders WHERE refund_evidence_url IS NOT NULL AND refund_evidence_url <> ''`)
	if err != nil {
		return nil, storageErr("evidence_urls", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, storageErr("evidence_urls", err)
		}
		out[url] = struct{}{}
	}
	return out, storageErr("evidence_urls", rows.Err())
}

func (r *orderRepository) CreateOrderHistory(ctx context.Context, history *domain.OrderHistory) error {
	err := conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO order_history (order_id, field, previous_status, new_status, reason, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		history.OrderID, history.Field, history.PreviousStatus, history.NewStatus, history.Reason, history.CreatedBy,
	).Scan(&history.ID, &history.CreatedAt)
	return storageErr("create_history", err)
}

func (r *orderRepository) GetOrderHistory(ctx context.Context, orderID string) ([]domain.OrderHistory, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT id, order_id, field, previous_status, new_status, reason, created_by, created_at
		FROM order_history
		WHERE order_id = $1
		ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, storageErr("get_history", err)
	}
	defer rows.Close()

	var history []domain.OrderHistory
	for rows.Next() {
		var (
			h         domain.OrderHistory
			createdAt time.Time
		)
		if err := rows.Scan(&h.ID, &h.OrderID, &h.Field, &h.PreviousStatus, &h.NewStatus, &h.Reason, &h.CreatedBy, &createdAt); err != nil {
			return nil, storageErr("get_history", err)
		}
		h.CreatedAt = createdAt
		history = append(history, h)
	}
	return history, storageErr("get_history", rows.Err())
}
