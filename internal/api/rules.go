package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const defaultVersion = "1.0.0"

// ListRules returns the rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.Engine.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule returns one loaded rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	for _, rule := range h.Engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}
	writeError(w, http.StatusNotFound, "rule not found")
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Version     string            `json:"version,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Weight      float64           `json:"weight"`
	Enabled     bool              `json:"enabled"`
}

// CreateRule compiles and stores a rule. POST /rules/reload applies it.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeError(w, http.StatusBadRequest, "id, name, and expression are required")
		return
	}
	if req.Version == "" {
		req.Version = defaultVersion
	}

	rule := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Expression:  req.Expression,
		Bands:       req.Bands,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}
	if err := h.Engine.ValidateRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid CEL expression: "+err.Error())
		return
	}
	if err := h.Store.SaveRuleConfig(r.Context(), rule); err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("rule created", "rule_id", rule.ID, "version", rule.Version)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "rule stored; POST /rules/reload to apply",
	})
}

// ReloadRules replaces the engine's rules with the stored ones.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	stored, err := h.Store.ListRuleConfigs(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.Engine.ReloadRules(stored); err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("rules reloaded", "count", h.Engine.RulesCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded",
		"count":   h.Engine.RulesCount(),
	})
}

// TypologyRequest is the request body for creating or updating a typology.
type TypologyRequest struct {
	ID             string                      `json:"id"`
	Name           string                      `json:"name"`
	Description    string                      `json:"description,omitempty"`
	Version        string                      `json:"version,omitempty"`
	Rules          []domain.TypologyRuleWeight `json:"rules"`
	AlertThreshold float64                     `json:"alertThreshold"`
	Enabled        bool                        `json:"enabled"`
}

// ListTypologies returns the loaded typologies.
func (h *Handler) ListTypologies(w http.ResponseWriter, r *http.Request) {
	loaded := h.Typologies.GetLoadedTypologies()
	writeJSON(w, http.StatusOK, map[string]any{
		"typologies": loaded,
		"count":      len(loaded),
	})
}

// GetTypology returns one loaded typology.
func (h *Handler) GetTypology(w http.ResponseWriter, r *http.Request) {
	typologyID := chi.URLParam(r, "id")
	for _, t := range h.Typologies.GetLoadedTypologies() {
		if t.ID == typologyID {
			writeJSON(w, http.StatusOK, t)
			return
		}
	}
	writeError(w, http.StatusNotFound, "typology not found")
}

// checkTypology reports the first problem with req, or "".
func (h *Handler) checkTypology(req *TypologyRequest) string {
	if req.ID == "" || req.Name == "" {
		return "id and name are required"
	}
	if len(req.Rules) == 0 {
		return "at least one rule is required"
	}

	loaded := make(map[string]bool)
	for _, rule := range h.Engine.GetLoadedRules() {
		loaded[rule.ID] = true
	}
	var total float64
	for _, rw := range req.Rules {
		switch {
		case rw.RuleID == "":
			return "ruleId cannot be empty"
		case !loaded[rw.RuleID]:
			return fmt.Sprintf("rule %q is not loaded in the rule engine", rw.RuleID)
		case rw.Weight < 0 || rw.Weight > 1:
			return "rule weight must be between 0 and 1"
		}
		total += rw.Weight
	}
	if total < 0.99 || total > 1.01 {
		slog.Warn("typology weights do not sum to 1",
			"typology_id", req.ID,
			"total_weight", total,
		)
	}
	if req.AlertThreshold <= 0 || req.AlertThreshold > 1 {
		return "alertThreshold must be in (0, 1]"
	}
	return ""
}

func (h *Handler) saveTypology(w http.ResponseWriter, r *http.Request, req *TypologyRequest, status int) {
	if msg := h.checkTypology(req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Version == "" {
		req.Version = defaultVersion
	}
	t := &domain.Typology{
		ID:             req.ID,
		Name:           req.Name,
		Description:    req.Description,
		Version:        req.Version,
		Rules:          req.Rules,
		AlertThreshold: req.AlertThreshold,
		Enabled:        req.Enabled,
	}
	if err := h.Store.SaveTypology(r.Context(), t); err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("typology saved", "typology_id", t.ID, "version", t.Version)
	writeJSON(w, status, map[string]any{
		"typology": t,
		"message":  "typology stored; POST /typologies/reload to apply",
	})
}

// CreateTypology validates and stores a typology.
func (h *Handler) CreateTypology(w http.ResponseWriter, r *http.Request) {
	var req TypologyRequest
	if !decode(w, r, &req) {
		return
	}
	h.saveTypology(w, r, &req, http.StatusCreated)
}

// UpdateTypology replaces the stored typology named in the path.
func (h *Handler) UpdateTypology(w http.ResponseWriter, r *http.Request) {
	var req TypologyRequest
	if !decode(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")
	h.saveTypology(w, r, &req, http.StatusOK)
}

// DeleteTypology disables a typology and reloads the engine.
func (h *Handler) DeleteTypology(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	typologyID := chi.URLParam(r, "id")

	if err := h.Store.DeleteTypology(ctx, typologyID); err != nil {
		writeDomainError(w, err)
		return
	}
	stored, err := h.Store.ListTypologies(ctx)
	if err != nil {
		slog.Error("failed to reload typologies after delete", "error", err)
	} else {
		h.Typologies.ReloadTypologies(stored)
	}

	slog.Info("typology deleted", "typology_id", typologyID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "typology deleted and engine reloaded",
	})
}

// ReloadTypologies replaces the engine's typologies with the stored ones.
func (h *Handler) ReloadTypologies(w http.ResponseWriter, r *http.Request) {
	stored, err := h.Store.ListTypologies(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.Typologies.ReloadTypologies(stored)

	slog.Info("typologies reloaded", "count", h.Typologies.TypologyCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "typologies reloaded",
		"count":   h.Typologies.TypologyCount(),
	})
}
