package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ListRules returns every rule, active or not, in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	snap := h.rules.Snapshot()
	list := h.rules.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules":   list,
		"count":   len(list),
		"version": snap.Version(),
	})
}

// GetRule returns one rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule adds a rule. It takes effect for detections that start after
// the response.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var draft domain.RuleDraft
	if !h.decodeDraft(w, r, &draft) {
		return
	}

	rule, err := h.rules.Add(r.Context(), draft)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule applies a partial patch to a rule.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var patch domain.RuleDraft
	if !h.decodeDraft(w, r, &patch) {
		return
	}

	rule, err := h.rules.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// decodeDraft reads a rule body. Well-formed JSON whose values have the
// wrong type is a 422: a structural error inside conditions, a validation
// error elsewhere.
func (h *Handler) decodeDraft(w http.ResponseWriter, r *http.Request, d *domain.RuleDraft) bool {
	err := h.readJSON(w, r, d)
	if err == nil {
		return true
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		writeError(w, draftTypeError(typeErr))
		return false
	}
	writeDecodeError(w, err)
	return false
}

func draftTypeError(e *json.UnmarshalTypeError) error {
	reason := fmt.Sprintf("expected %s, got %s", e.Type, e.Value)
	if e.Field == "conditions" || strings.HasPrefix(e.Field, "conditions.") {
		return &domain.StructuralError{Path: e.Field, Reason: reason}
	}
	return &domain.ValidationError{Fields: []string{e.Field}, Reason: reason}
}

// DeleteRule removes a rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetRuleActive handles PUT /rules/{id}/active with {"active": bool}.
func (h *Handler) SetRuleActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.Active == nil {
		writeError(w, &domain.ValidationError{Fields: []string{"active"}, Reason: "required field missing"})
		return
	}

	rule, err := h.rules.SetActive(r.Context(), chi.URLParam(r, "id"), *req.Active)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// SetRulePriority handles PUT /rules/{id}/priority with {"priority": n}.
func (h *Handler) SetRulePriority(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Priority *float64 `json:"priority"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.Priority == nil {
		writeError(w, &domain.ValidationError{Fields: []string{"priority"}, Reason: "required field missing"})
		return
	}
	p := *req.Priority
	if p < 0 || p != math.Trunc(p) || p > math.MaxInt32 {
		writeError(w, &domain.ValidationError{Fields: []string{"priority"}, Reason: "priority must be a non-negative integer"})
		return
	}

	rule, err := h.rules.Reprioritize(r.Context(), chi.URLParam(r, "id"), int(p))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}
