// Package quality measures detection accuracy against reported ground truth.
package quality

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Confusion is a confusion matrix with derived scores.
type Confusion struct {
	TP         int     `json:"tp"`
	FP         int     `json:"fp"`
	FN         int     `json:"fn"`
	TN         int     `json:"tn"`
	Precision  float64 `json:"precision"`
	Recall     float64 `json:"recall"`
	F1         float64 `json:"f1"`
	Evaluated  int     `json:"evaluated"`
	Unreported int     `json:"unreported"`
}

// ConfusionMatrix counts records that carry both a prediction and a report.
// Unreported records are excluded, not treated as negatives.
func ConfusionMatrix(records []domain.EvaluationRecord) Confusion {
	var c Confusion
	for i := range records {
		r := &records[i]
		if r.Reported == nil {
			c.Unreported++
			continue
		}
		switch {
		case r.Predicted && *r.Reported:
			c.TP++
		case r.Predicted:
			c.FP++
		case *r.Reported:
			c.FN++
		default:
			c.TN++
		}
	}
	c.Evaluated = c.TP + c.FP + c.FN + c.TN
	c.Precision = ratio(c.TP, c.TP+c.FP)
	c.Recall = ratio(c.TP, c.TP+c.FN)
	if sum := c.Precision + c.Recall; sum > 0 {
		c.F1 = 2 * c.Precision * c.Recall / sum
	}
	return c
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// Dimension is a transaction attribute breakdowns group by.
type Dimension string

const (
	DimensionChannel     Dimension = "channel"
	DimensionPaymentMode Dimension = "payment_mode"
	DimensionGatewayBank Dimension = "gateway_bank"
	DimensionPayee       Dimension = "payee_id"
)

// Unknown is the group key for records without a value for the dimension.
const Unknown = "unknown"

// ParseDimension validates a dimension name.
func ParseDimension(s string) (Dimension, error) {
	switch d := Dimension(s); d {
	case DimensionChannel, DimensionPaymentMode, DimensionGatewayBank, DimensionPayee:
		return d, nil
	}
	return "", &domain.ValidationError{
		Fields: []string{"dimension"},
		Reason: fmt.Sprintf("unknown dimension %q", s),
	}
}

func (d Dimension) value(r *domain.EvaluationRecord) string {
	var v string
	switch d {
	case DimensionChannel:
		v = r.Channel
	case DimensionPaymentMode:
		v = r.PaymentMode
	case DimensionGatewayBank:
		v = r.GatewayBank
	case DimensionPayee:
		v = r.PayeeID
	}
	if v == "" {
		return Unknown
	}
	return v
}

// Counts holds predicted-fraud and reported-fraud tallies.
type Counts struct {
	Predicted int `json:"predicted"`
	Reported  int `json:"reported"`
	Total     int `json:"total"`
}

func (c *Counts) add(r *domain.EvaluationRecord) {
	c.Total++
	if r.Predicted {
		c.Predicted++
	}
	if r.Reported != nil && *r.Reported {
		c.Reported++
	}
}

// GroupBy tallies records per value of the dimension.
func GroupBy(records []domain.EvaluationRecord, d Dimension) map[string]Counts {
	out := make(map[string]Counts)
	for i := range records {
		key := d.value(&records[i])
		c := out[key]
		c.add(&records[i])
		out[key] = c
	}
	return out
}

// Granularity is a time bucket width.
type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// ParseGranularity validates a granularity name.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case Day, Week, Month:
		return g, nil
	}
	return "", &domain.ValidationError{
		Fields: []string{"granularity"},
		Reason: fmt.Sprintf("unknown granularity %q", s),
	}
}

// Start truncates t to the beginning of its bucket in UTC. Weeks start on
// Monday.
func (g Granularity) Start(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch g {
	case Week:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return day
}

// Label formats a bucket start for display.
func (g Granularity) Label(start time.Time) string {
	switch g {
	case Week:
		y, w := start.ISOWeek()
		return fmt.Sprintf("%d-W%02d", y, w)
	case Month:
		return start.Format("2006-01")
	}
	return start.Format("2006-01-02")
}

// Bucket is one point of a time series.
type Bucket struct {
	Start time.Time `json:"start"`
	Label string    `json:"bucket"`
	Counts
}

// TimeBucket tallies records per time bucket, in chronological order.
// Records without a date are skipped.
func TimeBucket(records []domain.EvaluationRecord, g Granularity) []Bucket {
	byStart := make(map[time.Time]*Bucket)
	for i := range records {
		r := &records[i]
		if r.Date == nil {
			continue
		}
		start := g.Start(*r.Date)
		b, ok := byStart[start]
		if !ok {
			b = &Bucket{Start: start, Label: g.Label(start)}
			byStart[start] = b
		}
		b.add(r)
	}

	out := make([]Bucket, 0, len(byStart))
	for _, b := range byStart {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
