// Package detection runs transactions through the rule engine, one at a
// time or as a concurrent batch, and records the emitted verdicts.
package detection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/feedback"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/tadp"
	"github.com/opensource-finance/harrier/internal/velocity"
)

// Options holds the optional collaborators of a Pipeline.
type Options struct {
	// Workers bounds batch concurrency. Zero means 4 per CPU.
	Workers int

	// Velocity derives per-payer frequency facts.
	Velocity *velocity.Service

	// Cache holds recent verdicts for lookups.
	Cache     domain.Cache
	ResultTTL time.Duration

	// Bus receives a DetectionEvent for every verdict.
	Bus domain.EventBus

	// Repo serves lookups of verdicts that left the cache.
	Repo domain.Repository
}

// Pipeline scores transactions against the current rule snapshot.
type Pipeline struct {
	store    *rules.Store
	engine   *rules.Engine
	feedback *feedback.Store
	opts     Options
	tracer   trace.Tracer
}

// NewPipeline creates a pipeline. fb may be nil when verdicts need not be
// kept for quality metrics.
func NewPipeline(store *rules.Store, engine *rules.Engine, fb *feedback.Store, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 4 * runtime.GOMAXPROCS(0)
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 24 * time.Hour
	}
	return &Pipeline{
		store:    store,
		engine:   engine,
		feedback: fb,
		opts:     opts,
		tracer:   otel.Tracer("harrier-detection"),
	}
}

// DetectOne validates and scores a single transaction. Validation failures
// return a *domain.ValidationError and no result.
func (p *Pipeline) DetectOne(ctx context.Context, tx *domain.Transaction) (*domain.DetectionResult, error) {
	ctx, span := p.tracer.Start(ctx, "detection.realtime",
		trace.WithAttributes(attribute.String("transaction.id", tx.ID)))
	defer span.End()

	if err := tx.Validate(); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	snap := p.store.Snapshot()
	if err := snap.Verify(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "corrupted snapshot")
		return nil, err
	}

	result, err := p.score(ctx, tx, snap)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring failed")
		return nil, err
	}
	p.emit(ctx, tx, result)
	span.SetAttributes(
		attribute.Bool("detection.is_fraud", result.IsFraud),
		attribute.Float64("detection.score", result.FraudScore),
		attribute.Int64("rules.version", int64(result.RuleVersion)),
	)
	return result, nil
}

// score evaluates tx against snap. Callers emit the verdict.
func (p *Pipeline) score(ctx context.Context, tx *domain.Transaction, snap *rules.Snapshot) (*domain.DetectionResult, error) {
	facts := tx.Facts()
	if p.opts.Velocity != nil {
		p.opts.Velocity.Enrich(ctx, tx, facts)
	}

	return p.engine.ScoreFacts(ctx, tx, facts, snap)
}

// emit stores the verdict. Cache and bus failures are logged; the verdict
// has already been produced and is returned regardless.
func (p *Pipeline) emit(ctx context.Context, tx *domain.Transaction, result *domain.DetectionResult) {
	outcome := "clean"
	if result.IsFraud {
		outcome = "fraud"
	}
	metrics.Detections.WithLabelValues(outcome, sourceKind(result.FraudSource)).Inc()
	slog.Debug("detection emitted",
		"transaction_id", tx.ID,
		"is_fraud", result.IsFraud,
		"score", result.FraudScore,
		"flagging_rule", tadp.FlaggingRule(result),
		"rule_version", result.RuleVersion,
	)

	if p.feedback != nil {
		p.feedback.Record(tx, result)
	}

	if p.opts.Cache != nil {
		if err := p.opts.Cache.SetResult(ctx, result, p.opts.ResultTTL); err != nil {
			slog.Warn("failed to cache detection result", "transaction_id", tx.ID, "error", err)
		}
	}

	if p.opts.Bus != nil {
		payload, err := json.Marshal(domain.DetectionEvent{Transaction: tx, Result: result})
		if err != nil {
			slog.Error("failed to marshal detection event", "transaction_id", tx.ID, "error", err)
			return
		}
		if err := p.opts.Bus.Publish(ctx, domain.TopicDetection, payload); err != nil {
			slog.Warn("failed to publish detection event", "transaction_id", tx.ID, "error", err)
		}
	}
}

func sourceKind(s domain.Source) string {
	switch {
	case s == "":
		return "none"
	case s == domain.SourceModel:
		return "model"
	default:
		return "rule"
	}
}

// Lookup returns a previously emitted verdict from the cache, the
// repository, or the in-memory feedback store, in that order.
func (p *Pipeline) Lookup(ctx context.Context, txID string) (*domain.DetectionResult, error) {
	if p.opts.Cache != nil {
		result, err := p.opts.Cache.GetResult(ctx, txID)
		if err != nil {
			slog.Warn("cache lookup failed", "transaction_id", txID, "error", err)
		} else if result != nil {
			return result, nil
		}
	}

	if p.opts.Repo != nil {
		result, err := p.opts.Repo.GetDetection(ctx, txID)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("repository lookup failed", "transaction_id", txID, "error", err)
		}
	}

	if p.feedback != nil {
		if result, ok := p.feedback.Prediction(txID); ok {
			return result, nil
		}
	}
	return nil, &domain.NotFoundError{Kind: "detection", ID: txID}
}
