package database

import (
	"context"
	"database/sql"
	"strings"

	"nikarya-store/internal/models"
)

// CreateProduct inserts a catalog product
func (db *DB) CreateProduct(ctx context.Context, p *models.Product) error {
	result, err := db.ExecContext(ctx, `
		INSERT INTO products (name, price, category_id, is_active, file_url)
		VALUES (?, ?, ?, ?, ?)
	`, p.Name, p.Price, nullInt64(p.CategoryID), p.IsActive, nullString(p.FileURL))
	if err != nil {
		return err
	}
	p.ID, _ = result.LastInsertId()
	return nil
}

// GetProduct returns a product by id regardless of its active flag
func (db *DB) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	rows, err := db.QueryContext(ctx, "SELECT id, name, price, category_id, is_active, file_url, created_at FROM products WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanProduct(rows)
}

// GetActiveProductsByIDs returns the active products among ids, keyed by id.
// Unknown or inactive ids are silently absent from the result.
func (db *DB) GetActiveProductsByIDs(ctx context.Context, ids []int64) (map[int64]models.Product, error) {
	products := make(map[int64]models.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := "SELECT id, name, price, category_id, is_active, file_url, created_at FROM products WHERE is_active = 1 AND id IN (" +
		strings.Join(placeholders, ",") + ")"
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products[p.ID] = *p
	}
	return products, rows.Err()
}

func scanProduct(rows *sql.Rows) (*models.Product, error) {
	var p models.Product
	var categoryID sql.NullInt64
	var fileURL sql.NullString
	if err := rows.Scan(&p.ID, &p.Name, &p.Price, &categoryID, &p.IsActive, &fileURL, &p.CreatedAt); err != nil {
		return nil, err
	}
	if categoryID.Valid {
		p.CategoryID = &categoryID.Int64
	}
	p.FileURL = fileURL.String
	return &p, nil
}
