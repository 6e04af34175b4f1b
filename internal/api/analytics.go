package api

import (
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/quality"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// ListTransactions handles GET /transactions: joined prediction and report
// rows, most recently scored first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	records, ok := h.selectRecords(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit, err := intParam(q, "limit", defaultPageSize)
	if err == nil && (limit < 1 || limit > maxPageSize) {
		err = &domain.ValidationError{Fields: []string{"limit"}, Reason: "limit must be within [1, 1000]"}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := intParam(q, "offset", 0)
	if err == nil && offset < 0 {
		err = &domain.ValidationError{Fields: []string{"offset"}, Reason: "offset must be non-negative"}
	}
	if err != nil {
		writeError(w, err)
		return
	}

	slices.Reverse(records)
	total := len(records)
	start := min(offset, total)
	end := min(start+limit, total)
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  total,
		"limit":  limit,
		"offset": offset,
		"items":  records[start:end],
	})
}

// Confusion handles GET /analytics/confusion.
func (h *Handler) Confusion(w http.ResponseWriter, r *http.Request) {
	records, ok := h.selectRecords(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, quality.ConfusionMatrix(records))
}

// breakdownRow is one dimension value in a breakdown response.
type breakdownRow struct {
	Value string `json:"value"`
	quality.Counts
}

// Breakdown handles GET /analytics/breakdown?dimension=.
func (h *Handler) Breakdown(w http.ResponseWriter, r *http.Request) {
	dim, err := quality.ParseDimension(r.URL.Query().Get("dimension"))
	if err != nil {
		writeError(w, err)
		return
	}
	records, ok := h.selectRecords(w, r)
	if !ok {
		return
	}

	groups := quality.GroupBy(records, dim)
	rows := make([]breakdownRow, 0, len(groups))
	for v, c := range groups {
		rows = append(rows, breakdownRow{Value: v, Counts: c})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Total != rows[j].Total {
			return rows[i].Total > rows[j].Total
		}
		return rows[i].Value < rows[j].Value
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"dimension": dim,
		"groups":    rows,
	})
}

// TimeSeries handles GET /analytics/timeseries?granularity=. Granularity
// defaults to month.
func (h *Handler) TimeSeries(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("granularity")
	if name == "" {
		name = string(quality.Month)
	}
	g, err := quality.ParseGranularity(name)
	if err != nil {
		writeError(w, err)
		return
	}
	records, ok := h.selectRecords(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"granularity": g,
		"buckets":     quality.TimeBucket(records, g),
	})
}

// selectRecords joins the feedback store and applies the request's filters.
func (h *Handler) selectRecords(w http.ResponseWriter, r *http.Request) ([]domain.EvaluationRecord, bool) {
	criteria, err := parseCriteria(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	records, err := criteria.Apply(h.feedback.Records())
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return records, true
}

func parseCriteria(q url.Values) (*quality.Criteria, error) {
	c := &quality.Criteria{
		Search: q.Get("search"),
		Payer:  q.Get("payer"),
		Payee:  q.Get("payee"),
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &c.From}, {"to", &c.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		ts, err := domain.ParseDate(v)
		if err != nil {
			return nil, &domain.ValidationError{Fields: []string{p.name}, Reason: err.Error()}
		}
		*p.dst = &ts
	}
	if expr := q.Get("filter"); expr != "" {
		f, err := quality.NewFilter(expr)
		if err != nil {
			return nil, err
		}
		c.Filter = f
	}
	return c, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &domain.ValidationError{Fields: []string{name}, Reason: "must be an integer"}
	}
	return n, nil
}
