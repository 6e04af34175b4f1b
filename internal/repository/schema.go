package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    transaction_date TEXT,
    amount TEXT NOT NULL,
    channel TEXT NOT NULL,
    payment_mode TEXT NOT NULL,
    gateway_bank TEXT,
    payer_email TEXT,
    payer_mobile TEXT,
    card_brand TEXT,
    payer_device TEXT,
    payer_browser TEXT,
    payee_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_payee ON transactions(payee_id);
CREATE INDEX IF NOT EXISTS idx_transactions_payer ON transactions(payer_email);
CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at);
`

// schemaRules stores rule definitions. seq is the creation order used to
// break priority ties and must survive restarts.
const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    conditions TEXT NOT NULL,
    event_type TEXT NOT NULL,
    event_message TEXT,
    event_score REAL NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    seq BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_order ON rules(priority, seq);
`

const schemaDetections = `
CREATE TABLE IF NOT EXISTS detections (
    transaction_id TEXT PRIMARY KEY,
    is_fraud INTEGER NOT NULL,
    fraud_score REAL NOT NULL,
    fraud_reason TEXT NOT NULL,
    fraud_source TEXT,
    matched_rule_ids TEXT NOT NULL,
    rule_version BIGINT NOT NULL,
    warnings TEXT,
    evaluated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_detections_evaluated ON detections(evaluated_at);
CREATE INDEX IF NOT EXISTS idx_detections_fraud ON detections(is_fraud);
`

// schemaFraudReports holds ground truth. transaction_id is a weak reference:
// reports may arrive before or without a transaction.
const schemaFraudReports = `
CREATE TABLE IF NOT EXISTS fraud_reports (
    transaction_id TEXT PRIMARY KEY,
    reporting_entity_id TEXT NOT NULL,
    fraud_details TEXT,
    is_fraud INTEGER,
    reported_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaRules,
		schemaDetections,
		schemaFraudReports,
	}
}
