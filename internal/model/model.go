// Package model adapts an external scoring model to the rule engine's
// fallback interface using request-reply on the event bus.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Request is sent to the model service.
type Request struct {
	Transaction *domain.Transaction `json:"transaction"`
}

// Response is expected back. IsFraud may be omitted, in which case the
// scorer applies its threshold to Score.
type Response struct {
	IsFraud *bool   `json:"is_fraud,omitempty"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// BusScorer asks a model service subscribed to domain.TopicModelScore.
type BusScorer struct {
	bus       domain.EventBus
	topic     string
	threshold float64
}

// NewBusScorer creates a scorer. A zero threshold defaults to 0.5.
func NewBusScorer(bus domain.EventBus, threshold float64) *BusScorer {
	if threshold <= 0 {
		threshold = 0.5
	}
	return &BusScorer{bus: bus, topic: domain.TopicModelScore, threshold: threshold}
}

// Score sends tx and waits for the model's answer until ctx is done.
func (s *BusScorer) Score(ctx context.Context, tx *domain.Transaction) (*domain.ModelVerdict, error) {
	payload, err := json.Marshal(Request{Transaction: tx})
	if err != nil {
		return nil, fmt.Errorf("failed to encode model request: %w", err)
	}

	reply, err := s.bus.Request(ctx, s.topic, payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", domain.ErrModelTimeout, err)
		}
		return nil, fmt.Errorf("model request failed: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode model response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("model error: %s", resp.Error)
	}

	verdict := &domain.ModelVerdict{
		IsFraud: resp.Score >= s.threshold,
		Score:   resp.Score,
		Reason:  resp.Reason,
	}
	if resp.IsFraud != nil {
		verdict.IsFraud = *resp.IsFraud
	}
	if verdict.Reason == "" {
		verdict.Reason = fmt.Sprintf("model score %.2f", resp.Score)
	}
	return verdict, nil
}

// Serve subscribes fn as the model on the bus. It is used by tests and by
// deployments that embed a scorer in-process.
func Serve(ctx context.Context, bus domain.EventBus, fn func(ctx context.Context, tx *domain.Transaction) (Response, error)) (domain.Subscription, error) {
	return bus.Subscribe(ctx, domain.TopicModelScore, func(ctx context.Context, msg *domain.Message) error {
		var req Request
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return fmt.Errorf("failed to decode model request: %w", err)
		}
		resp, err := fn(ctx, req.Transaction)
		if err != nil {
			resp = Response{Error: err.Error()}
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		return bus.Reply(ctx, msg, data)
	})
}
