package database

import (
	"context"
	"database/sql"
	"fmt"

	"nikarya-store/internal/models"
)

const paymentConfigColumns = `id, gateway_name, display_name, merchant_code, api_key, secret_key, mode, is_production, is_active, updated_at`

// GetActivePaymentConfig returns the single active gateway configuration
func (db *DB) GetActivePaymentConfig(ctx context.Context) (*models.PaymentGatewayConfig, error) {
	row := db.QueryRowContext(ctx, "SELECT "+paymentConfigColumns+" FROM payment_gateway_configs WHERE is_active = 1 ORDER BY updated_at DESC, id DESC LIMIT 1")
	return scanPaymentConfig(row)
}

// GetPaymentConfigByGateway returns the configuration row of a provider, active or not.
// Webhook verification uses it so late callbacks still verify after the admin switches gateways.
func (db *DB) GetPaymentConfigByGateway(ctx context.Context, gatewayName string) (*models.PaymentGatewayConfig, error) {
	row := db.QueryRowContext(ctx, "SELECT "+paymentConfigColumns+" FROM payment_gateway_configs WHERE gateway_name = ?", gatewayName)
	return scanPaymentConfig(row)
}

// SavePaymentConfig upserts a provider row; an active row deactivates every other row
func (db *DB) SavePaymentConfig(ctx context.Context, cfg *models.PaymentGatewayConfig) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if cfg.IsActive {
		if _, err := tx.ExecContext(ctx, "UPDATE payment_gateway_configs SET is_active = 0 WHERE gateway_name != ?", cfg.GatewayName); err != nil {
			return fmt.Errorf("deactivate gateways: %w", err)
		}
	}

	mode := cfg.Mode
	if mode == "" {
		mode = models.ModeGateway
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_gateway_configs (gateway_name, display_name, merchant_code, api_key, secret_key, mode, is_production, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(gateway_name) DO UPDATE SET
			display_name = excluded.display_name,
			merchant_code = excluded.merchant_code,
			api_key = excluded.api_key,
			secret_key = excluded.secret_key,
			mode = excluded.mode,
			is_production = excluded.is_production,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`, cfg.GatewayName, cfg.DisplayName, cfg.MerchantCode, cfg.APIKey, cfg.SecretKey, mode, cfg.IsProduction, cfg.IsActive)
	if err != nil {
		return fmt.Errorf("save payment config %s: %w", cfg.GatewayName, err)
	}

	return tx.Commit()
}

func scanPaymentConfig(row *sql.Row) (*models.PaymentGatewayConfig, error) {
	var cfg models.PaymentGatewayConfig
	var display, merchant, apiKey, secret sql.NullString

	err := row.Scan(&cfg.ID, &cfg.GatewayName, &display, &merchant, &apiKey, &secret,
		&cfg.Mode, &cfg.IsProduction, &cfg.IsActive, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.DisplayName = display.String
	cfg.MerchantCode = merchant.String
	cfg.APIKey = apiKey.String
	cfg.SecretKey = secret.String
	return &cfg, nil
}

// GetActiveManualMethods returns the enabled transfer destinations in display order
func (db *DB) GetActiveManualMethods(ctx context.Context) ([]models.ManualPaymentMethod, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, provider_name, type, account_name, account_number, instructions, is_active, sort_order
		FROM manual_payment_methods
		WHERE is_active = 1
		ORDER BY sort_order ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	methods := []models.ManualPaymentMethod{}
	for rows.Next() {
		var m models.ManualPaymentMethod
		var typ, accName, accNumber, instructions sql.NullString
		if err := rows.Scan(&m.ID, &m.ProviderName, &typ, &accName, &accNumber, &instructions, &m.IsActive, &m.SortOrder); err != nil {
			return nil, err
		}
		m.Type = typ.String
		m.AccountName = accName.String
		m.AccountNumber = accNumber.String
		m.Instructions = instructions.String
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

// CreateManualMethod inserts a transfer destination
func (db *DB) CreateManualMethod(ctx context.Context, m *models.ManualPaymentMethod) error {
	typ := m.Type
	if typ == "" {
		typ = "bank"
	}
	result, err := db.ExecContext(ctx, `
		INSERT INTO manual_payment_methods (provider_name, type, account_name, account_number, instructions, is_active, sort_order)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ProviderName, typ, m.AccountName, m.AccountNumber, nullString(m.Instructions), m.IsActive, m.SortOrder)
	if err != nil {
		return err
	}
	m.ID, _ = result.LastInsertId()
	m.Type = typ
	return nil
}
