// Package worker persists verdicts and fraud reports published on the
// event bus, keeping storage latency off the detection path.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// Sink is the subset of the repository the worker writes to.
type Sink interface {
	SaveTransaction(ctx context.Context, tx *domain.Transaction) error
	SaveDetection(ctx context.Context, result *domain.DetectionResult) error
	SaveReport(ctx context.Context, report *domain.FraudReport) error
}

// Worker subscribes to detection and report topics and writes each event
// to the sink.
type Worker struct {
	bus  domain.EventBus
	sink Sink

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new persistence worker.
func NewWorker(bus domain.EventBus, sink Sink) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the detection and report topics.
func (w *Worker) Start() error {
	handlers := map[string]domain.MessageHandler{
		domain.TopicDetection:   w.handleDetection,
		domain.TopicFraudReport: w.handleReport,
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, topic := range []string{domain.TopicDetection, domain.TopicFraudReport} {
		sub, err := w.bus.Subscribe(w.ctx, topic, w.instrument(topic, handlers[topic]))
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("persistence worker started", "topics", len(w.subscriptions))
	return nil
}

func (w *Worker) instrument(topic string, h domain.MessageHandler) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		if err := h(ctx, msg); err != nil {
			metrics.ProjectionErrors.WithLabelValues(topic).Inc()
			return err
		}
		return nil
	}
}

func (w *Worker) handleDetection(ctx context.Context, msg *domain.Message) error {
	var evt domain.DetectionEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return fmt.Errorf("failed to parse detection event %s: %w", msg.ID, err)
	}
	if evt.Transaction == nil || evt.Result == nil {
		return fmt.Errorf("incomplete detection event %s", msg.ID)
	}

	if err := w.sink.SaveTransaction(ctx, evt.Transaction); err != nil {
		return err
	}
	if err := w.sink.SaveDetection(ctx, evt.Result); err != nil {
		return err
	}

	slog.Debug("detection persisted",
		"transaction_id", evt.Result.TransactionID,
		"is_fraud", evt.Result.IsFraud,
	)
	return nil
}

func (w *Worker) handleReport(ctx context.Context, msg *domain.Message) error {
	var report domain.FraudReport
	if err := json.Unmarshal(msg.Payload, &report); err != nil {
		return fmt.Errorf("failed to parse fraud report %s: %w", msg.ID, err)
	}
	if err := w.sink.SaveReport(ctx, &report); err != nil {
		return err
	}

	slog.Debug("fraud report persisted", "transaction_id", report.TransactionID)
	return nil
}

// Stop unsubscribes from all topics.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("persistence worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscription_count"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
