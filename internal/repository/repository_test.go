package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "harrier-test.db"),
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	exerciseRepository(t, repo)
}

func TestSQLiteInMemory(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "mysql"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLRepository{driver: "postgres"}
	got := pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?")
	if got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Errorf("unexpected rebind: %s", got)
	}

	lite := &SQLRepository{driver: "sqlite"}
	if q := "SELECT ?"; lite.rebind(q) != q {
		t.Error("sqlite queries must be left unchanged")
	}
}

func TestPostgresDSN(t *testing.T) {
	got := postgresDSN(domain.RepositoryConfig{PostgresUser: "u", PostgresPassword: "p"})
	want := "host=localhost port=5432 user=u password=p dbname=harrier sslmode=disable"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	override := "postgres://x@db/harrier"
	if got := postgresDSN(domain.RepositoryConfig{PostgresDSN: override, PostgresHost: "ignored"}); got != override {
		t.Errorf("expected DSN override, got %q", got)
	}
}

// exerciseRepository runs the behaviour shared by every driver.
func exerciseRepository(t *testing.T, repo *SQLRepository) {
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:          "tx-001",
			Date:        "2024-03-01",
			Amount:      decimal.NewNullDecimal(decimal.RequireFromString("12000.50")),
			Channel:     "web",
			PaymentMode: "card",
			PayerEmail:  "payer@example.com",
			PayeeID:     "payee-001",
		}
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		got, err := repo.GetTransaction(ctx, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if !got.Amount.Decimal.Equal(tx.Amount.Decimal) {
			t.Errorf("expected amount %s, got %s", tx.Amount.Decimal, got.Amount.Decimal)
		}
		if got.Date != tx.Date || got.PayerEmail != tx.PayerEmail || got.GatewayBank != "" {
			t.Errorf("unexpected transaction: %+v", got)
		}
	})

	t.Run("TransactionResubmission", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:          "tx-001",
			Amount:      decimal.NewNullDecimal(decimal.NewFromInt(5)),
			Channel:     "mobile",
			PaymentMode: "upi",
			PayeeID:     "payee-001",
		}
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}
		got, _ := repo.GetTransaction(ctx, "tx-001")
		if got.Channel != "mobile" {
			t.Errorf("expected replaced row, got %+v", got)
		}

		txs, err := repo.ListTransactions(ctx)
		if err != nil {
			t.Fatalf("ListTransactions failed: %v", err)
		}
		if len(txs) != 1 {
			t.Errorf("expected 1 transaction, got %d", len(txs))
		}
	})

	t.Run("TransactionNotFound", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("Rules", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Second)
		rule := &domain.Rule{
			ID:   "rule-1",
			Name: "Large Amount",
			Conditions: domain.Condition{All: []domain.Condition{
				{Fact: "transaction_amount", Operator: "greaterThan", Value: 10000.0},
			}},
			Event:     domain.RuleEvent{Type: domain.EventFraud, Params: domain.EventParams{Message: "big", Score: 0.7}},
			Priority:  10,
			Active:    true,
			Sequence:  1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		rule.Active = false
		rule.Priority = 3
		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule update failed: %v", err)
		}

		rules, err := repo.ListRules(ctx)
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		if len(rules) != 1 {
			t.Fatalf("expected 1 rule, got %d", len(rules))
		}
		got := rules[0]
		if got.Active || got.Priority != 3 || got.Sequence != 1 {
			t.Errorf("unexpected rule: %+v", got)
		}
		if len(got.Conditions.All) != 1 || got.Conditions.All[0].Operator != "greaterThan" {
			t.Errorf("conditions not round-tripped: %+v", got.Conditions)
		}
		if got.Event.Params.Score != 0.7 {
			t.Errorf("expected score 0.7, got %v", got.Event.Params.Score)
		}
	})

	t.Run("ReplaceRules", func(t *testing.T) {
		now := time.Now().UTC()
		replacement := []*domain.Rule{
			{ID: "rule-a", Name: "A", Event: domain.RuleEvent{Type: "review"}, Sequence: 2, Active: true, CreatedAt: now, UpdatedAt: now,
				Conditions: domain.Condition{Any: []domain.Condition{{Fact: "payee_id", Operator: "equal", Value: "x"}}}},
			{ID: "rule-b", Name: "B", Event: domain.RuleEvent{Type: "fraud"}, Sequence: 3, CreatedAt: now, UpdatedAt: now,
				Conditions: domain.Condition{All: []domain.Condition{{Fact: "payee_id", Operator: "in", Value: []any{"x", "y"}}}}},
		}
		if err := repo.ReplaceRules(ctx, replacement); err != nil {
			t.Fatalf("ReplaceRules failed: %v", err)
		}

		rules, _ := repo.ListRules(ctx)
		if len(rules) != 2 || rules[0].ID != "rule-a" || rules[1].ID != "rule-b" {
			t.Fatalf("unexpected rules after replace: %+v", rules)
		}
	})

	t.Run("DeleteRule", func(t *testing.T) {
		if err := repo.DeleteRule(ctx, "rule-a"); err != nil {
			t.Fatalf("DeleteRule failed: %v", err)
		}
		if err := repo.DeleteRule(ctx, "rule-a"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("Detections", func(t *testing.T) {
		result := &domain.DetectionResult{
			TransactionID:  "tx-001",
			IsFraud:        true,
			FraudScore:     0.7,
			FraudReason:    "big",
			FraudSource:    domain.RuleSource("rule-1"),
			MatchedRuleIDs: []string{"rule-1"},
			RuleVersion:    4,
			Warnings:       []string{"rule rule-2: fact payer_device missing"},
			EvaluatedAt:    time.Now().UTC(),
		}
		if err := repo.SaveDetection(ctx, result); err != nil {
			t.Fatalf("SaveDetection failed: %v", err)
		}

		got, err := repo.GetDetection(ctx, "tx-001")
		if err != nil {
			t.Fatalf("GetDetection failed: %v", err)
		}
		if !got.IsFraud || got.FraudSource != result.FraudSource || got.RuleVersion != 4 {
			t.Errorf("unexpected detection: %+v", got)
		}
		if len(got.MatchedRuleIDs) != 1 || len(got.Warnings) != 1 {
			t.Errorf("slices not round-tripped: %+v", got)
		}

		clean := &domain.DetectionResult{
			TransactionID:  "tx-002",
			FraudReason:    domain.ReasonNoRule,
			MatchedRuleIDs: []string{},
			EvaluatedAt:    time.Now().UTC(),
		}
		if err := repo.SaveDetection(ctx, clean); err != nil {
			t.Fatalf("SaveDetection failed: %v", err)
		}
		got, _ = repo.GetDetection(ctx, "tx-002")
		if got.FraudSource != "" || got.MatchedRuleIDs == nil || got.Warnings != nil {
			t.Errorf("unexpected clean detection: %+v", got)
		}

		all, err := repo.ListDetections(ctx)
		if err != nil {
			t.Fatalf("ListDetections failed: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("expected 2 detections, got %d", len(all))
		}

		if _, err := repo.GetDetection(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("Reports", func(t *testing.T) {
		legit := false
		reports := []*domain.FraudReport{
			{TransactionID: "tx-001", ReportingEntityID: "bank-1", FraudDetails: "chargeback", ReportedAt: time.Now().UTC()},
			{TransactionID: "unknown-tx", ReportingEntityID: "bank-1", IsFraud: &legit, ReportedAt: time.Now().UTC().Add(time.Second)},
		}
		for _, r := range reports {
			if err := repo.SaveReport(ctx, r); err != nil {
				t.Fatalf("SaveReport failed: %v", err)
			}
		}
		// Resubmission replaces.
		if err := repo.SaveReport(ctx, reports[0]); err != nil {
			t.Fatalf("SaveReport resubmission failed: %v", err)
		}

		got, err := repo.ListReports(ctx)
		if err != nil {
			t.Fatalf("ListReports failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 reports, got %d", len(got))
		}
		if got[0].IsFraud != nil || got[0].FraudDetails != "chargeback" {
			t.Errorf("unexpected first report: %+v", got[0])
		}
		if got[1].IsFraud == nil || *got[1].IsFraud {
			t.Errorf("expected explicit is_fraud=false, got %+v", got[1])
		}
	})
}
