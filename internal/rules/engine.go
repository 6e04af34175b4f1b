// Package rules holds the rule store and the engine that scores
// transactions against a rule snapshot.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/condition"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/tadp"
)

// ModelScorer is the external fallback consulted when no rule matches.
type ModelScorer interface {
	Score(ctx context.Context, tx *domain.Transaction) (*domain.ModelVerdict, error)
}

// Engine evaluates snapshots and aggregates matches into verdicts.
type Engine struct {
	processor    *tadp.Processor
	scorer       ModelScorer
	modelTimeout time.Duration
}

// NewEngine creates an engine. scorer may be nil.
func NewEngine(scorer ModelScorer, modelTimeout time.Duration) *Engine {
	if modelTimeout <= 0 {
		modelTimeout = 200 * time.Millisecond
	}
	return &Engine{
		processor:    tadp.NewProcessor(),
		scorer:       scorer,
		modelTimeout: modelTimeout,
	}
}

// Score evaluates tx against the snapshot using the transaction's own fields.
func (e *Engine) Score(ctx context.Context, tx *domain.Transaction, snap *Snapshot) (*domain.DetectionResult, error) {
	return e.ScoreFacts(ctx, tx, tx.Facts(), snap)
}

// ScoreFacts evaluates a prepared fact map, which may include derived facts.
// The only errors are a missing snapshot and cancellation of ctx while the
// model fallback is running.
func (e *Engine) ScoreFacts(ctx context.Context, tx *domain.Transaction, facts map[string]any, snap *Snapshot) (*domain.DetectionResult, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil snapshot", domain.ErrSnapshotCorrupted)
	}
	start := time.Now()

	input := &tadp.DecisionInput{
		TxID:        tx.ID,
		RuleVersion: snap.Version(),
	}

	for _, r := range snap.Rules() {
		var w condition.Warnings
		matched := condition.Evaluate(r.Tree, facts, &w)
		for _, msg := range w {
			input.Warnings = append(input.Warnings, "rule "+r.Rule.ID+": "+msg)
		}
		if !matched {
			continue
		}
		metrics.RuleMatches.WithLabelValues(r.Rule.ID).Inc()
		input.Matches = append(input.Matches, tadp.Match{
			RuleID:    r.Rule.ID,
			EventType: r.Rule.Event.Type,
			Message:   r.Rule.Event.Params.Message,
			Score:     r.Rule.Event.Params.Score,
		})
	}
	if n := len(input.Warnings); n > 0 {
		metrics.MissingFacts.Add(float64(n))
	}

	if len(input.Matches) == 0 && e.scorer != nil {
		verdict, err := e.fallback(ctx, tx)
		if err != nil {
			return nil, err
		}
		input.Model = verdict
	}

	result := e.processor.Process(input)
	metrics.DetectionDuration.Observe(float64(time.Since(start).Microseconds()) / 1000)
	return result, nil
}

// fallback asks the model under the engine timeout. Timeouts and model
// errors degrade to a nil verdict; cancellation of the caller's ctx is
// returned as an error.
func (e *Engine) fallback(ctx context.Context, tx *domain.Transaction) (*domain.ModelVerdict, error) {
	mctx, cancel := context.WithTimeout(ctx, e.modelTimeout)
	defer cancel()

	verdict, err := e.scorer.Score(mctx, tx)
	if err == nil {
		metrics.ModelFallbacks.WithLabelValues("ok").Inc()
		return verdict, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	status := "error"
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrModelTimeout) {
		status = "timeout"
		err = fmt.Errorf("%w: %v", domain.ErrModelTimeout, err)
	}
	metrics.ModelFallbacks.WithLabelValues(status).Inc()
	slog.Warn("model fallback unavailable, using rule-only verdict",
		"transaction_id", tx.ID,
		"error", err,
	)
	return nil, nil
}
