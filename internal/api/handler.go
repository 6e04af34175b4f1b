package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/harrier/internal/detection"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/feedback"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline *detection.Pipeline
	rules    *rules.Store
	feedback *feedback.Store
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	worker   *worker.Worker
	version  string
	maxBody  int64
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	return &Handler{
		pipeline: deps.Pipeline,
		rules:    deps.Rules,
		feedback: deps.Feedback,
		repo:     deps.Repo,
		cache:    deps.Cache,
		bus:      deps.Bus,
		worker:   deps.Worker,
		version:  deps.Version,
		maxBody:  maxBody,
	}
}

// RuleVersionHeader carries the snapshot version a batch was scored against.
const RuleVersionHeader = "X-Rule-Version"

// errorBody is the error response shape.
type errorBody struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
	Path   string   `json:"path,omitempty"`
}

// DetectRealtime handles POST /detection/realtime.
func (h *Handler) DetectRealtime(w http.ResponseWriter, r *http.Request) {
	var tx domain.Transaction
	if !h.decode(w, r, &tx) {
		return
	}

	result, err := h.pipeline.DetectOne(r.Context(), &tx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DetectBatch handles POST /detection/batch. The body is an array of
// transactions or a single transaction. Elements are decoded one by one so a
// malformed element fails alone.
func (h *Handler) DetectBatch(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if !h.decode(w, r, &raw) {
		return
	}

	elems, err := splitBatch(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	items := make([]detection.Item, len(elems))
	for i, elem := range elems {
		items[i] = decodeItem(elem)
	}

	result, err := h.pipeline.DetectBatch(r.Context(), items)
	if err != nil {
		writeError(w, err)
		return
	}

	ok, failed := result.Counts()
	slog.Info("batch scored",
		"items", len(items),
		"ok", ok,
		"failed", failed,
		"rule_version", result.RuleVersion,
		"trace_id", GetTraceID(r.Context()),
	)
	w.Header().Set(RuleVersionHeader, strconv.FormatUint(result.RuleVersion, 10))
	writeJSON(w, http.StatusOK, result.ByID())
}

func splitBatch(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty request body")
	}
	switch trimmed[0] {
	case '{':
		return []json.RawMessage{trimmed}, nil
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, fmt.Errorf("invalid batch: %w", err)
		}
		return elems, nil
	default:
		return nil, errors.New("batch must be a JSON array or object")
	}
}

// decodeItem decodes one batch element. When decoding fails, the id is
// still recovered if the element carries a readable transaction_id.
func decodeItem(elem json.RawMessage) detection.Item {
	var tx domain.Transaction
	err := json.Unmarshal(elem, &tx)
	if err == nil {
		return detection.Item{Transaction: &tx}
	}

	var probe struct {
		ID string `json:"transaction_id"`
	}
	_ = json.Unmarshal(elem, &probe)
	return detection.Item{
		Transaction: &domain.Transaction{ID: probe.ID},
		Err:         &domain.ItemError{Code: domain.ItemDecode, Message: err.Error()},
	}
}

// Report handles POST /detection/report.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	var report domain.FraudReport
	if !h.decode(w, r, &report) {
		return
	}

	ack := h.feedback.Report(r.Context(), report)
	if !ack.Acknowledged {
		writeJSON(w, http.StatusUnprocessableEntity, ack)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// GetDetection handles GET /detection/{transaction_id}.
func (h *Handler) GetDetection(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "transaction_id")
	result, err := h.pipeline.Lookup(r.Context(), txID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(r.Context()) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(r.Context()) })
	}
	if h.bus != nil {
		check("event_bus", func() error { return h.bus.Ping(r.Context()) })
	}

	resp := map[string]any{
		"version":      h.version,
		"rule_version": h.rules.Snapshot().Version(),
		"checks":       checks,
	}
	if h.worker != nil {
		stats := h.worker.GetStats()
		check("worker", func() error {
			if stats.SubscriptionCount == 0 {
				return errors.New("not subscribed")
			}
			return nil
		})
		resp["worker"] = stats
	}
	resp["status"] = status

	writeJSON(w, http.StatusOK, resp)
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.Snapshot().Verify(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// decode reads a size-limited JSON body into v. It writes a 400 and returns
// false when the body is not valid JSON.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := h.readJSON(w, r, v); err != nil {
		writeDecodeError(w, err)
		return false
	}
	return true
}

func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(v)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
		return
	}
	msg := "invalid JSON request body"
	if errors.Is(err, io.EOF) {
		msg = "empty request body"
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// writeError maps domain errors to HTTP responses.
func writeError(w http.ResponseWriter, err error) {
	var (
		validation *domain.ValidationError
		structural *domain.StructuralError
		notFound   *domain.NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Fields: validation.Fields})
	case errors.As(err, &structural):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Path: structural.Path})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
