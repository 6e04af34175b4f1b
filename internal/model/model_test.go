package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
)

func TestBusScorer(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	_, err := Serve(ctx, b, func(ctx context.Context, tx *domain.Transaction) (Response, error) {
		if tx.ID == "broken" {
			return Response{}, errors.New("feature store unavailable")
		}
		if tx.ID == "slow" {
			time.Sleep(200 * time.Millisecond)
		}
		score, _ := tx.Amount.Decimal.Div(decimal.NewFromInt(1000)).Float64()
		return Response{Score: score, Reason: "amount ratio"}, nil
	})
	if err != nil {
		t.Fatalf("serve failed: %v", err)
	}

	scorer := NewBusScorer(b, 0.5)
	tx := func(id string, amount int64) *domain.Transaction {
		return &domain.Transaction{ID: id, Amount: decimal.NewNullDecimal(decimal.NewFromInt(amount))}
	}

	t.Run("ThresholdApplied", func(t *testing.T) {
		rctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		v, err := scorer.Score(rctx, tx("a", 800))
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}
		if !v.IsFraud || v.Score != 0.8 || v.Reason != "amount ratio" {
			t.Errorf("unexpected verdict %+v", v)
		}

		v, _ = scorer.Score(rctx, tx("b", 100))
		if v.IsFraud {
			t.Error("0.1 is below the threshold")
		}
	})

	t.Run("ModelError", func(t *testing.T) {
		rctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		if _, err := scorer.Score(rctx, tx("broken", 1)); err == nil {
			t.Error("expected model error")
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		rctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		_, err := scorer.Score(rctx, tx("slow", 1))
		if !errors.Is(err, domain.ErrModelTimeout) {
			t.Errorf("expected ErrModelTimeout, got %v", err)
		}
	})
}
