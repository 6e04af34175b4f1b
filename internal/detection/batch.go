package detection

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Item is one batch entry. Err is set when the entry could not be decoded.
type Item struct {
	Transaction *domain.Transaction
	Err         *domain.ItemError
}

// Outcome is the result of one batch entry: a verdict or an item error.
type Outcome struct {
	Key    string
	Result *domain.DetectionResult
	Err    *domain.ItemError
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Err != nil {
		return json.Marshal(struct {
			Error *domain.ItemError `json:"error"`
		}{o.Err})
	}
	return json.Marshal(o.Result)
}

// BatchResult holds outcomes in input order.
type BatchResult struct {
	Outcomes    []Outcome
	RuleVersion uint64
}

// ByID maps keys to outcomes. When an id repeats, the later input wins.
func (b *BatchResult) ByID() map[string]Outcome {
	out := make(map[string]Outcome, len(b.Outcomes))
	for _, o := range b.Outcomes {
		out[o.Key] = o
	}
	return out
}

// Counts returns the number of verdicts and item errors.
func (b *BatchResult) Counts() (ok, failed int) {
	for _, o := range b.Outcomes {
		if o.Err != nil {
			failed++
		} else {
			ok++
		}
	}
	return ok, failed
}

// Key returns the output key of the item at index i: its transaction id, or
// "#<i>" when it has none.
func Key(tx *domain.Transaction, i int) string {
	if tx != nil && tx.ID != "" {
		return tx.ID
	}
	return "#" + strconv.Itoa(i)
}

// DetectBatch scores every item against one snapshot taken at batch start
// and records the verdicts once all items are done. Items fail independently. On cancellation, finished items keep their
// verdicts and the rest get a cancelled item error. The only returned error
// is a corrupted snapshot.
func (p *Pipeline) DetectBatch(ctx context.Context, items []Item) (*BatchResult, error) {
	ctx, span := p.tracer.Start(ctx, "detection.batch",
		trace.WithAttributes(attribute.Int("batch.size", len(items))))
	defer span.End()

	snap := p.store.Snapshot()
	if err := snap.Verify(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "corrupted snapshot")
		return nil, err
	}
	metrics.BatchSize.Observe(float64(len(items)))

	out := &BatchResult{
		Outcomes:    make([]Outcome, len(items)),
		RuleVersion: snap.Version(),
	}

	workers := min(p.opts.Workers, len(items))
	var next atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1) - 1)
				if i >= len(items) {
					return
				}
				out.Outcomes[i] = p.detectItem(ctx, i, items[i], snap)
			}
		}()
	}
	wg.Wait()

	// Verdicts are recorded in input order so a repeated id keeps the
	// later item, matching ByID. Finished items are kept on cancellation.
	emitCtx := context.WithoutCancel(ctx)
	for i, o := range out.Outcomes {
		if o.Result != nil {
			p.emit(emitCtx, items[i].Transaction, o.Result)
		}
	}

	ok, failed := out.Counts()
	span.SetAttributes(
		attribute.Int("batch.ok", ok),
		attribute.Int("batch.failed", failed),
		attribute.Int64("rules.version", int64(snap.Version())),
	)
	return out, nil
}

func (p *Pipeline) detectItem(ctx context.Context, i int, item Item, snap *rules.Snapshot) Outcome {
	o := Outcome{Key: Key(item.Transaction, i)}
	switch {
	case item.Err != nil:
		o.Err = item.Err
	case item.Transaction == nil:
		o.Err = &domain.ItemError{Code: domain.ItemDecode, Message: "empty item"}
	case ctx.Err() != nil:
		o.Err = cancelled(ctx)
	default:
		if err := item.Transaction.Validate(); err != nil {
			o.Err = &domain.ItemError{Code: domain.ItemValidation, Message: err.Error()}
			break
		}
		result, err := p.score(ctx, item.Transaction, snap)
		switch {
		case err == nil:
			o.Result = result
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			o.Err = cancelled(ctx)
		default:
			o.Err = &domain.ItemError{Code: domain.ItemInternal, Message: err.Error()}
		}
	}

	status := "ok"
	if o.Err != nil {
		status = o.Err.Code
	}
	metrics.BatchItems.WithLabelValues(status).Inc()
	return o
}

func cancelled(ctx context.Context) *domain.ItemError {
	msg := "batch cancelled"
	if err := ctx.Err(); err != nil {
		msg = err.Error()
	}
	return &domain.ItemError{Code: domain.ItemCancelled, Message: msg}
}
