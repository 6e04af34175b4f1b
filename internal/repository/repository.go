// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite", "":
		db, err = openSQLite(cfg)
		cfg.Driver = "sqlite"
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// TRANSACTIONS
// ============================================================================

// SaveTransaction stores a transaction. A resubmitted id replaces the row.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidInput)
	}
	if !tx.Amount.Valid {
		return fmt.Errorf("%w: transaction_amount is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, transaction_date, amount, channel, payment_mode, gateway_bank,
			payer_email, payer_mobile, card_brand, payer_device, payer_browser,
			payee_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			transaction_date = excluded.transaction_date,
			amount = excluded.amount,
			channel = excluded.channel,
			payment_mode = excluded.payment_mode,
			gateway_bank = excluded.gateway_bank,
			payer_email = excluded.payer_email,
			payer_mobile = excluded.payer_mobile,
			card_brand = excluded.card_brand,
			payer_device = excluded.payer_device,
			payer_browser = excluded.payer_browser,
			payee_id = excluded.payee_id
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.Date, tx.Amount.Decimal.String(),
		tx.Channel, tx.PaymentMode, tx.GatewayBank,
		tx.PayerEmail, tx.PayerMobile, tx.CardBrand,
		tx.PayerDevice, tx.Browser, tx.PayeeID,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save transaction %s: %w", tx.ID, err)
	}
	return nil
}

const transactionColumns = `
	id, COALESCE(transaction_date, ''), amount, channel, payment_mode,
	COALESCE(gateway_bank, ''), COALESCE(payer_email, ''), COALESCE(payer_mobile, ''),
	COALESCE(card_brand, ''), COALESCE(payer_device, ''), COALESCE(payer_browser, ''),
	payee_id`

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", txID, err)
	}
	return tx, nil
}

// ListTransactions returns every stored transaction in insertion order.
func (r *SQLRepository) ListTransactions(ctx context.Context) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var amount string
	err := s.Scan(
		&tx.ID, &tx.Date, &amount, &tx.Channel, &tx.PaymentMode,
		&tx.GatewayBank, &tx.PayerEmail, &tx.PayerMobile,
		&tx.CardBrand, &tx.PayerDevice, &tx.Browser,
		&tx.PayeeID,
	)
	if err != nil {
		return nil, err
	}
	if amount != "" {
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
		}
		tx.Amount = decimal.NewNullDecimal(d)
	}
	return &tx, nil
}

// ============================================================================
// RULES
// ============================================================================

const ruleUpsert = `
	INSERT INTO rules (
		id, name, description, conditions, event_type, event_message,
		event_score, priority, active, seq, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		description = excluded.description,
		conditions = excluded.conditions,
		event_type = excluded.event_type,
		event_message = excluded.event_message,
		event_score = excluded.event_score,
		priority = excluded.priority,
		active = excluded.active,
		updated_at = excluded.updated_at
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLRepository) saveRule(ctx context.Context, db execer, rule *domain.Rule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	_, err = db.ExecContext(ctx, r.rebind(ruleUpsert),
		rule.ID, rule.Name, rule.Description, string(conditions),
		rule.Event.Type, rule.Event.Params.Message, rule.Event.Params.Score,
		rule.Priority, boolToInt(rule.Active), rule.Sequence,
		rule.CreatedAt.UTC(), rule.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save rule %s: %w", rule.ID, err)
	}
	return nil
}

// SaveRule inserts or updates a rule definition.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	return r.saveRule(ctx, r.db, rule)
}

// ListRules returns every rule in creation order.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	query := `
		SELECT id, name, COALESCE(description, ''), conditions, event_type,
			   COALESCE(event_message, ''), event_score, priority, active, seq,
			   created_at, updated_at
		FROM rules
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		var rule domain.Rule
		var conditions string
		var active int
		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Description, &conditions, &rule.Event.Type,
			&rule.Event.Params.Message, &rule.Event.Params.Score, &rule.Priority,
			&active, &rule.Sequence, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
			return nil, fmt.Errorf("failed to decode conditions of rule %s: %w", rule.ID, err)
		}
		rule.Active = active != 0
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// DeleteRule removes a rule.
func (r *SQLRepository) DeleteRule(ctx context.Context, ruleID string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM rules WHERE id = ?`), ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", ruleID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceRules swaps the whole rule set in one database transaction.
func (r *SQLRepository) ReplaceRules(ctx context.Context, rules []*domain.Rule) error {
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	if _, err := dbtx.ExecContext(ctx, `DELETE FROM rules`); err != nil {
		return fmt.Errorf("failed to clear rules: %w", err)
	}
	for _, rule := range rules {
		if err := r.saveRule(ctx, dbtx, rule); err != nil {
			return err
		}
	}
	return dbtx.Commit()
}

// ============================================================================
// DETECTIONS
// ============================================================================

// SaveDetection stores the latest verdict for a transaction.
func (r *SQLRepository) SaveDetection(ctx context.Context, result *domain.DetectionResult) error {
	matched, err := json.Marshal(result.MatchedRuleIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal matched rules: %w", err)
	}
	warnings, err := json.Marshal(result.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	query := `
		INSERT INTO detections (
			transaction_id, is_fraud, fraud_score, fraud_reason, fraud_source,
			matched_rule_ids, rule_version, warnings, evaluated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			is_fraud = excluded.is_fraud,
			fraud_score = excluded.fraud_score,
			fraud_reason = excluded.fraud_reason,
			fraud_source = excluded.fraud_source,
			matched_rule_ids = excluded.matched_rule_ids,
			rule_version = excluded.rule_version,
			warnings = excluded.warnings,
			evaluated_at = excluded.evaluated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		result.TransactionID, boolToInt(result.IsFraud), result.FraudScore,
		result.FraudReason, string(result.FraudSource), string(matched),
		int64(result.RuleVersion), string(warnings), result.EvaluatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save detection %s: %w", result.TransactionID, err)
	}
	return nil
}

const detectionColumns = `
	transaction_id, is_fraud, fraud_score, fraud_reason, COALESCE(fraud_source, ''),
	matched_rule_ids, rule_version, COALESCE(warnings, ''), evaluated_at`

// GetDetection retrieves the verdict for a transaction.
func (r *SQLRepository) GetDetection(ctx context.Context, txID string) (*domain.DetectionResult, error) {
	query := `SELECT ` + detectionColumns + ` FROM detections WHERE transaction_id = ?`

	result, err := scanDetection(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get detection %s: %w", txID, err)
	}
	return result, nil
}

// ListDetections returns every stored verdict, oldest first.
func (r *SQLRepository) ListDetections(ctx context.Context) ([]*domain.DetectionResult, error) {
	query := `SELECT ` + detectionColumns + ` FROM detections ORDER BY evaluated_at, transaction_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}
	defer rows.Close()

	var results []*domain.DetectionResult
	for rows.Next() {
		result, err := scanDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

func scanDetection(s scanner) (*domain.DetectionResult, error) {
	var result domain.DetectionResult
	var isFraud int
	var source, matched, warnings string
	var version int64
	err := s.Scan(
		&result.TransactionID, &isFraud, &result.FraudScore, &result.FraudReason,
		&source, &matched, &version, &warnings, &result.EvaluatedAt,
	)
	if err != nil {
		return nil, err
	}
	result.IsFraud = isFraud != 0
	result.FraudSource = domain.Source(source)
	result.RuleVersion = uint64(version)

	result.MatchedRuleIDs = []string{}
	if err := json.Unmarshal([]byte(matched), &result.MatchedRuleIDs); err != nil {
		return nil, fmt.Errorf("failed to decode matched rules: %w", err)
	}
	if warnings != "" && warnings != "null" {
		if err := json.Unmarshal([]byte(warnings), &result.Warnings); err != nil {
			return nil, fmt.Errorf("failed to decode warnings: %w", err)
		}
	}
	return &result, nil
}

// ============================================================================
// FRAUD REPORTS
// ============================================================================

// SaveReport stores a fraud report. Resubmission replaces the earlier report.
func (r *SQLRepository) SaveReport(ctx context.Context, report *domain.FraudReport) error {
	var isFraud sql.NullInt64
	if report.IsFraud != nil {
		isFraud = sql.NullInt64{Int64: int64(boolToInt(*report.IsFraud)), Valid: true}
	}

	query := `
		INSERT INTO fraud_reports (
			transaction_id, reporting_entity_id, fraud_details, is_fraud, reported_at
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			reporting_entity_id = excluded.reporting_entity_id,
			fraud_details = excluded.fraud_details,
			is_fraud = excluded.is_fraud,
			reported_at = excluded.reported_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		report.TransactionID, report.ReportingEntityID, report.FraudDetails,
		isFraud, report.ReportedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save report %s: %w", report.TransactionID, err)
	}
	return nil
}

// ListReports returns every stored report.
func (r *SQLRepository) ListReports(ctx context.Context) ([]*domain.FraudReport, error) {
	query := `
		SELECT transaction_id, reporting_entity_id, COALESCE(fraud_details, ''),
			   is_fraud, reported_at
		FROM fraud_reports
		ORDER BY reported_at, transaction_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []*domain.FraudReport
	for rows.Next() {
		var report domain.FraudReport
		var isFraud sql.NullInt64
		if err := rows.Scan(
			&report.TransactionID, &report.ReportingEntityID, &report.FraudDetails,
			&isFraud, &report.ReportedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		if isFraud.Valid {
			v := isFraud.Int64 != 0
			report.IsFraud = &v
		}
		reports = append(reports, &report)
	}
	return reports, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
