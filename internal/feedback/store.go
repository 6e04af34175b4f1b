// Package feedback keeps predicted verdicts and reported ground truth in
// separate id-keyed maps and joins them on read.
package feedback

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// prediction is a verdict plus the transaction dimensions metrics group by.
type prediction struct {
	tx     domain.Transaction
	result domain.DetectionResult
	seq    uint64
}

// Store holds both sides of the evaluation join. Writes for different ids
// do not interfere; a resubmission for an id replaces the previous value.
type Store struct {
	predMu    sync.RWMutex
	predicted map[string]*prediction
	predSeq   uint64

	repMu    sync.RWMutex
	reported map[string]domain.FraudReport

	publish func(ctx context.Context, r *domain.FraudReport)
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		predicted: make(map[string]*prediction),
		reported:  make(map[string]domain.FraudReport),
		now:       time.Now,
	}
}

// OnReport registers a hook that receives every accepted report, used for
// asynchronous persistence.
func (s *Store) OnReport(fn func(ctx context.Context, r *domain.FraudReport)) {
	s.publish = fn
}

// Record stores the verdict emitted for tx.
func (s *Store) Record(tx *domain.Transaction, result *domain.DetectionResult) {
	s.predMu.Lock()
	defer s.predMu.Unlock()
	s.predSeq++
	s.predicted[tx.ID] = &prediction{tx: *tx, result: *result, seq: s.predSeq}
}

// Prediction returns the stored verdict for an id.
func (s *Store) Prediction(txID string) (*domain.DetectionResult, bool) {
	s.predMu.RLock()
	defer s.predMu.RUnlock()
	p, ok := s.predicted[txID]
	if !ok {
		return nil, false
	}
	r := p.result
	return &r, true
}

// Report records ground truth. Reports for unknown ids are accepted and
// join later if a verdict arrives. Resubmitting the same report is
// idempotent. Reporting never triggers rescoring.
func (s *Store) Report(ctx context.Context, r domain.FraudReport) domain.Ack {
	ack := domain.Ack{TransactionID: r.TransactionID}
	if err := r.Validate(); err != nil {
		ack.FailureCode = domain.AckMissingField
		metrics.ReportsReceived.WithLabelValues("false").Inc()
		return ack
	}
	if r.ReportedAt.IsZero() {
		r.ReportedAt = s.now().UTC()
	}

	s.repMu.Lock()
	s.reported[r.TransactionID] = r
	s.repMu.Unlock()

	if s.publish != nil {
		s.publish(ctx, &r)
	}

	metrics.ReportsReceived.WithLabelValues("true").Inc()
	slog.Debug("fraud report recorded",
		"transaction_id", r.TransactionID,
		"reporting_entity_id", r.ReportingEntityID,
		"is_fraud", r.Fraudulent(),
	)
	ack.Acknowledged = true
	ack.FailureCode = domain.AckOK
	return ack
}

// Reported returns the report for an id.
func (s *Store) Reported(txID string) (*domain.FraudReport, bool) {
	s.repMu.RLock()
	defer s.repMu.RUnlock()
	r, ok := s.reported[txID]
	if !ok {
		return nil, false
	}
	return &r, true
}

// Records joins every prediction with its report, in the order predictions
// were first recorded. Reports without a prediction are not included.
func (s *Store) Records() []domain.EvaluationRecord {
	s.predMu.RLock()
	preds := make([]*prediction, 0, len(s.predicted))
	for _, p := range s.predicted {
		preds = append(preds, p)
	}
	s.predMu.RUnlock()

	sort.Slice(preds, func(i, j int) bool { return preds[i].seq < preds[j].seq })

	s.repMu.RLock()
	defer s.repMu.RUnlock()

	records := make([]domain.EvaluationRecord, 0, len(preds))
	for _, p := range preds {
		rec := domain.EvaluationRecord{
			TransactionID: p.tx.ID,
			Amount:        p.tx.Amount.Decimal,
			Channel:       p.tx.Channel,
			PaymentMode:   p.tx.PaymentMode,
			GatewayBank:   p.tx.GatewayBank,
			PayeeID:       p.tx.PayeeID,
			PayerEmail:    p.tx.PayerEmail,
			Predicted:     p.result.IsFraud,
			FraudScore:    p.result.FraudScore,
			FraudSource:   p.result.FraudSource,
		}
		if ts, ok := p.tx.Time(); ok {
			rec.Date = &ts
		}
		if r, ok := s.reported[p.tx.ID]; ok {
			fraud := r.Fraudulent()
			rec.Reported = &fraud
		}
		records = append(records, rec)
	}
	return records
}

// Counts returns the sizes of both maps.
func (s *Store) Counts() (predicted, reported int) {
	s.predMu.RLock()
	predicted = len(s.predicted)
	s.predMu.RUnlock()
	s.repMu.RLock()
	reported = len(s.reported)
	s.repMu.RUnlock()
	return predicted, reported
}

// Restore loads persisted state. Transactions without a stored verdict are
// skipped.
func (s *Store) Restore(txs []*domain.Transaction, results []*domain.DetectionResult, reports []*domain.FraudReport) {
	byID := make(map[string]*domain.DetectionResult, len(results))
	for _, r := range results {
		byID[r.TransactionID] = r
	}
	for _, tx := range txs {
		if r, ok := byID[tx.ID]; ok {
			s.Record(tx, r)
		}
	}

	s.repMu.Lock()
	defer s.repMu.Unlock()
	for _, r := range reports {
		s.reported[r.TransactionID] = *r
	}
}
