// Package velocity derives per-payer frequency facts from cache counters.
package velocity

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Derived fact names.
const (
	FactPayerEmailCount  = "payer_txn_count"
	FactPayerMobileCount = "payer_mobile_txn_count"
)

// Service counts transactions per payer within a fixed window.
type Service struct {
	cache  domain.Cache
	window time.Duration
}

// NewService creates a new velocity service.
func NewService(cache domain.Cache, window time.Duration) *Service {
	if window <= 0 {
		window = time.Hour
	}
	return &Service{cache: cache, window: window}
}

// Enrich records tx and adds its payer counts to facts. The count includes
// tx itself. Counter failures leave the fact missing so rules that need it
// do not match.
func (s *Service) Enrich(ctx context.Context, tx *domain.Transaction, facts map[string]any) {
	s.observe(ctx, tx.ID, "payer_email", tx.PayerEmail, FactPayerEmailCount, facts)
	s.observe(ctx, tx.ID, "payer_mobile", tx.PayerMobile, FactPayerMobileCount, facts)
}

func (s *Service) observe(ctx context.Context, txID, kind, value, fact string, facts map[string]any) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return
	}

	count, err := s.cache.IncrementCounter(ctx, "velocity:"+kind+":"+value, s.window)
	if err != nil {
		slog.Warn("velocity counter failed", "transaction_id", txID, "kind", kind, "error", err)
		return
	}
	facts[fact] = count
}

// Window returns the counting window.
func (s *Service) Window() time.Duration {
	return s.window
}
