package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"nikarya-store/internal/models"
)

// ErrPromoQuotaExceeded is returned when recording a usage would exceed a promo limit
var ErrPromoQuotaExceeded = errors.New("promo usage limit reached")

// CreatePromo inserts a promo under its normalized code
func (db *DB) CreatePromo(ctx context.Context, p *models.Promo) error {
	p.Code = models.NormalizePromoCode(p.Code)
	if p.Scope == "" {
		p.Scope = models.ScopeAll
	}

	var globalLimit, perUserLimit sql.NullInt64
	if p.GlobalUsageLimit != nil {
		globalLimit = sql.NullInt64{Int64: int64(*p.GlobalUsageLimit), Valid: true}
	}
	if p.PerUserUsageLimit != nil {
		perUserLimit = sql.NullInt64{Int64: int64(*p.PerUserUsageLimit), Valid: true}
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO promos (
			code, description, discount_type, discount_value, max_discount_cap, min_order_amount,
			start_date, end_date, global_usage_limit, per_user_usage_limit, scope, scope_ref_id, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Code, nullString(p.Description), p.DiscountType, p.DiscountValue.String(),
		nullInt64(p.MaxDiscountCap), nullInt64(p.MinOrderAmount),
		nullTime(p.StartDate), nullTime(p.EndDate), globalLimit, perUserLimit,
		p.Scope, nullInt64(p.ScopeRefID), p.IsActive)
	if err != nil {
		return fmt.Errorf("insert promo %s: %w", p.Code, err)
	}
	p.ID, _ = result.LastInsertId()
	return nil
}

// GetPromoByCode looks a promo up by its normalized code
func (db *DB) GetPromoByCode(ctx context.Context, code string) (*models.Promo, error) {
	var p models.Promo
	var description sql.NullString
	var maxCap, minOrder, globalLimit, perUserLimit, scopeRef sql.NullInt64
	var start, end sql.NullTime

	err := db.QueryRowContext(ctx, `
		SELECT id, code, description, discount_type, discount_value, max_discount_cap, min_order_amount,
			start_date, end_date, global_usage_limit, per_user_usage_limit, scope, scope_ref_id, is_active, created_at
		FROM promos WHERE code = ?
	`, models.NormalizePromoCode(code)).Scan(
		&p.ID, &p.Code, &description, &p.DiscountType, &p.DiscountValue, &maxCap, &minOrder,
		&start, &end, &globalLimit, &perUserLimit, &p.Scope, &scopeRef, &p.IsActive, &p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Description = description.String
	if maxCap.Valid {
		p.MaxDiscountCap = &maxCap.Int64
	}
	if minOrder.Valid {
		p.MinOrderAmount = &minOrder.Int64
	}
	if start.Valid {
		p.StartDate = &start.Time
	}
	if end.Valid {
		p.EndDate = &end.Time
	}
	if globalLimit.Valid {
		v := int(globalLimit.Int64)
		p.GlobalUsageLimit = &v
	}
	if perUserLimit.Valid {
		v := int(perUserLimit.Int64)
		p.PerUserUsageLimit = &v
	}
	if scopeRef.Valid {
		p.ScopeRefID = &scopeRef.Int64
	}
	return &p, nil
}

// CountPromoUsage counts every recorded use of a promo
func (db *DB) CountPromoUsage(ctx context.Context, promoID int64) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM promo_usages WHERE promo_id = ?", promoID).Scan(&n)
	return n, err
}

// CountPromoUsageByIdentity counts uses of a promo by one buyer: user id when set, else guest email
func (db *DB) CountPromoUsageByIdentity(ctx context.Context, promoID int64, id models.Identity) (int, error) {
	clause, args := identityFilter("", id)
	var n int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM promo_usages WHERE promo_id = ? AND "+clause,
		append([]interface{}{promoID}, args...)...).Scan(&n)
	return n, err
}

// RecordPromoUsage appends a ledger row only while both the global and the per-identity
// limits still have room. The check and the insert are one statement, so concurrent
// finalizations cannot overshoot a limit. Recording the same order twice is a no-op.
func (db *DB) RecordPromoUsage(ctx context.Context, u *models.PromoUsage) error {
	id := models.Identity{UserID: u.UserID, Email: u.GuestEmail}
	clause, identityArgs := identityFilter("u.", id)

	var guestEmail sql.NullString
	if u.UserID == nil {
		guestEmail = nullString(strings.ToLower(strings.TrimSpace(u.GuestEmail)))
	}

	args := []interface{}{nullInt64(u.UserID), guestEmail, u.OrderRef, u.DiscountAmount, u.PromoID}
	args = append(args, identityArgs...)

	result, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO promo_usages (promo_id, user_id, guest_email, order_ref, discount_amount)
		SELECT p.id, ?, ?, ?, ?
		FROM promos p
		WHERE p.id = ?
		  AND (p.global_usage_limit IS NULL
		       OR (SELECT COUNT(*) FROM promo_usages u WHERE u.promo_id = p.id) < p.global_usage_limit)
		  AND (p.per_user_usage_limit IS NULL
		       OR (SELECT COUNT(*) FROM promo_usages u WHERE u.promo_id = p.id AND `+clause+`) < p.per_user_usage_limit)
	`, args...)
	if err != nil {
		return fmt.Errorf("record promo usage: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 1 {
		u.ID, _ = result.LastInsertId()
		return nil
	}

	var exists int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM promo_usages WHERE promo_id = ? AND order_ref = ?", u.PromoID, u.OrderRef).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}
	return ErrPromoQuotaExceeded
}

func identityFilter(prefix string, id models.Identity) (string, []interface{}) {
	if id.UserID != nil {
		return prefix + "user_id = ?", []interface{}{*id.UserID}
	}
	return prefix + "user_id IS NULL AND LOWER(" + prefix + "guest_email) = ?", []interface{}{strings.ToLower(strings.TrimSpace(id.Email))}
}
