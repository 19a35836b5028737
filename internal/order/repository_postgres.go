package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/wichananm65/pet-shop-checkout/internal/domain"
)

// Schema creates the order history table.
const Schema = `CREATE TABLE IF NOT EXISTS orders (
    "orderID"       TEXT PRIMARY KEY,
    "orderCode"     TEXT NOT NULL,
    subject         TEXT NOT NULL,
    items           JSONB NOT NULL,
    "shippingFee"   NUMERIC(14,2) NOT NULL,
    "discountFee"   NUMERIC(14,2) NOT NULL,
    "grandTotal"    NUMERIC(14,2) NOT NULL,
    "couponCode"    TEXT NOT NULL DEFAULT '',
    "paymentMethod" TEXT NOT NULL,
    recipient       JSONB NOT NULL,
    address         JSONB NOT NULL,
    note            TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    "createdAt"     TIMESTAMPTZ NOT NULL,
    "updatedAt"     TIMESTAMPTZ NOT NULL
)`

const orderColumns = `"orderID", "orderCode", subject, items, "shippingFee", "discountFee", "grandTotal", "couponCode", "paymentMethod", recipient, address, note, status, "createdAt", "updatedAt"`

const (
	saveOrderQuery = `INSERT INTO orders (` + orderColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
        ON CONFLICT ("orderID") DO UPDATE SET status = EXCLUDED.status, "updatedAt" = EXCLUDED."updatedAt"`

	listByIDsQuery = `SELECT ` + orderColumns + `
        FROM orders
        WHERE "orderID" = ANY($1::text[])
        ORDER BY array_position($1::text[], "orderID")`

	listBySubjectQuery = `SELECT ` + orderColumns + `
        FROM orders
        WHERE subject = $1
        ORDER BY "createdAt" DESC`

	updateStatusQuery = `UPDATE orders SET status = $2, "updatedAt" = $3 WHERE "orderID" = $1`
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the orders table when it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, Schema)
	return err
}

func (r *PostgresRepository) Save(ctx context.Context, ord Order) (Order, error) {
	itemsJSON, err := json.Marshal(ord.Items)
	if err != nil {
		return Order{}, err
	}
	recipientJSON, err := json.Marshal(ord.Recipient)
	if err != nil {
		return Order{}, err
	}
	addressJSON, err := json.Marshal(ord.Address)
	if err != nil {
		return Order{}, err
	}

	_, err = r.db.ExecContext(ctx, saveOrderQuery,
		ord.ID, ord.Code, ord.Subject, itemsJSON, ord.ShippingFee, ord.DiscountFee, ord.GrandTotal,
		ord.CouponCode, ord.PaymentMethod, recipientJSON, addressJSON, ord.Note, ord.Status,
		ord.CreatedAt, ord.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	return ord, nil
}

// ListByIDs returns orders matching ids, ordered like ids.
func (r *PostgresRepository) ListByIDs(ctx context.Context, ids []string) ([]Order, error) {
	if len(ids) == 0 {
		return []Order{}, nil
	}
	rows, err := r.db.QueryContext(ctx, listByIDsQuery, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (r *PostgresRepository) ListBySubject(ctx context.Context, subject string) ([]Order, error) {
	rows, err := r.db.QueryContext(ctx, listBySubjectQuery, subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id, status string, updatedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, updateStatusQuery, id, status, updatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanOrders(rows *sql.Rows) ([]Order, error) {
	orders := make([]Order, 0)
	for rows.Next() {
		var ord Order
		var itemsJSON, recipientJSON, addressJSON []byte
		if err := rows.Scan(&ord.ID, &ord.Code, &ord.Subject, &itemsJSON, &ord.ShippingFee, &ord.DiscountFee, &ord.GrandTotal,
			&ord.CouponCode, &ord.PaymentMethod, &recipientJSON, &addressJSON, &ord.Note, &ord.Status,
			&ord.CreatedAt, &ord.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(itemsJSON, &ord.Items); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(recipientJSON, &ord.Recipient); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(addressJSON, &ord.Address); err != nil {
			return nil, err
		}
		orders = append(orders, ord)
	}
	return orders, rows.Err()
}
