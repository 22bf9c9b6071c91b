package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"nikarya-store/internal/models"
)

// OrderStatusUpdate carries the fields a provider notification may set on an order group
type OrderStatusUpdate struct {
	Status        models.PaymentStatus
	TransactionID string
	PaymentType   string
	PaidAt        *time.Time
}

const orderColumns = `
	id, order_ref, user_id, customer_name, customer_email, customer_phone,
	product_id, product_name, quantity, unit_price, total_price, payment_status,
	gateway_name, payment_method, transaction_id, payment_code, payment_type,
	payment_deadline, paid_at, promo_code, discount_amount, original_total,
	download_count, created_at, updated_at`

// CreateOrders inserts every row of one checkout atomically
func (db *DB) CreateOrders(ctx context.Context, orders []models.Order) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO orders (
			order_ref, user_id, customer_name, customer_email, customer_phone,
			product_id, product_name, quantity, unit_price, total_price, payment_status,
			gateway_name, payment_method, transaction_id, payment_code, payment_type,
			payment_deadline, promo_code, discount_amount, original_total
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare order insert: %w", err)
	}
	defer stmt.Close()

	for i := range orders {
		o := &orders[i]
		result, err := stmt.ExecContext(ctx,
			o.OrderRef, nullInt64(o.UserID), o.CustomerName, o.CustomerEmail, o.CustomerPhone,
			o.ProductID, o.ProductName, o.Quantity, o.UnitPrice, o.TotalPrice, o.PaymentStatus,
			o.GatewayName, nullString(o.PaymentMethod), nullString(o.TransactionID), nullString(o.PaymentCode), nullString(o.PaymentType),
			nullTime(o.PaymentDeadline), nullString(o.PromoCode), o.DiscountAmount, o.OriginalTotal,
		)
		if err != nil {
			return fmt.Errorf("insert order row for product %d: %w", o.ProductID, err)
		}
		o.ID, _ = result.LastInsertId()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit orders: %w", err)
	}
	return nil
}

// GetOrdersByRef returns every row sharing the order reference
func (db *DB) GetOrdersByRef(ctx context.Context, orderRef string) ([]models.Order, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE order_ref = ? ORDER BY id", orderRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, ErrNotFound
	}
	return orders, nil
}

// GetOrderGroupStatus reads the current status of an order group inside tx.
// Rows of a group always share one status; if they ever diverge the terminal one wins.
func (db *DB) GetOrderGroupStatus(ctx context.Context, tx *sql.Tx, orderRef string) (models.PaymentStatus, error) {
	rows, err := db.cmd(tx).QueryContext(ctx, "SELECT DISTINCT payment_status FROM orders WHERE order_ref = ?", orderRef)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var current models.PaymentStatus
	found := false
	for rows.Next() {
		var s models.PaymentStatus
		if err := rows.Scan(&s); err != nil {
			return "", err
		}
		if !found || s.IsTerminal() {
			current = s
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if !found {
		return "", ErrNotFound
	}
	return current, nil
}

// UpdateOrderGroupStatus assigns the new status to every row of the group in one statement.
// The first confirmation timestamp is preserved on repeated writes.
func (db *DB) UpdateOrderGroupStatus(ctx context.Context, tx *sql.Tx, orderRef string, upd OrderStatusUpdate) (int64, error) {
	result, err := db.cmd(tx).ExecContext(ctx, `
		UPDATE orders SET
			payment_status = ?,
			transaction_id = COALESCE(NULLIF(?, ''), transaction_id),
			payment_type = COALESCE(NULLIF(?, ''), payment_type),
			paid_at = COALESCE(paid_at, ?),
			updated_at = CURRENT_TIMESTAMP
		WHERE order_ref = ?
	`, upd.Status, upd.TransactionID, upd.PaymentType, nullTime(upd.PaidAt), orderRef)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// IncrementDownloadCount bumps the counter of a paid row and returns the product file URL
func (db *DB) IncrementDownloadCount(ctx context.Context, orderRef string, productID int64) (string, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE orders SET download_count = download_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE order_ref = ? AND product_id = ? AND payment_status = ?
	`, orderRef, productID, models.PaymentPaid)
	if err != nil {
		return "", err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return "", ErrNotFound
	}

	var fileURL sql.NullString
	err = db.QueryRowContext(ctx, "SELECT file_url FROM products WHERE id = ?", productID).Scan(&fileURL)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return fileURL.String, nil
}

// ListOverdueOrderRefs returns unpaid groups whose payment deadline is before cutoff
func (db *DB) ListOverdueOrderRefs(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT order_ref, payment_deadline FROM orders
		WHERE payment_status IN (?, ?) AND payment_deadline IS NOT NULL
		ORDER BY id
	`, models.PaymentPending, models.PaymentPendingManual)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// deadlines may carry different zone offsets, so compare in Go
	seen := make(map[string]bool)
	var refs []string
	for rows.Next() {
		var ref string
		var deadline sql.NullTime
		if err := rows.Scan(&ref, &deadline); err != nil {
			return nil, err
		}
		if seen[ref] || !deadline.Valid || !deadline.Time.Before(cutoff) {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
		if limit > 0 && len(refs) >= limit {
			break
		}
	}
	return refs, rows.Err()
}

func scanOrder(rows *sql.Rows) (*models.Order, error) {
	var o models.Order
	var userID sql.NullInt64
	var name, email, phone, productName, gateway, method, txID, code, payType, promo sql.NullString
	var deadline, paidAt sql.NullTime

	err := rows.Scan(
		&o.ID, &o.OrderRef, &userID, &name, &email, &phone,
		&o.ProductID, &productName, &o.Quantity, &o.UnitPrice, &o.TotalPrice, &o.PaymentStatus,
		&gateway, &method, &txID, &code, &payType,
		&deadline, &paidAt, &promo, &o.DiscountAmount, &o.OriginalTotal,
		&o.DownloadCount, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if userID.Valid {
		o.UserID = &userID.Int64
	}
	o.CustomerName = name.String
	o.CustomerEmail = email.String
	o.CustomerPhone = phone.String
	o.ProductName = productName.String
	o.GatewayName = gateway.String
	o.PaymentMethod = method.String
	o.TransactionID = txID.String
	o.PaymentCode = code.String
	o.PaymentType = payType.String
	o.PromoCode = promo.String
	if deadline.Valid {
		o.PaymentDeadline = &deadline.Time
	}
	if paidAt.Valid {
		o.PaidAt = &paidAt.Time
	}
	return &o, nil
}
