package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vigilops/vigil-core/internal/data"
	"github.com/vigilops/vigil-core/internal/rules"
)

type RuleHandler struct {
	Rules  data.AlertRuleModel
	Engine *rules.Engine
}

func NewRuleHandler(repo data.AlertRuleModel, engine *rules.Engine) *RuleHandler {
	return &RuleHandler{Rules: repo, Engine: engine}
}

type ruleRequest struct {
	Name            string          `json:"name"`
	Enabled         *bool           `json:"enabled"`
	Conditions      json.RawMessage `json:"conditions"`
	Actions         json.RawMessage `json:"actions"`
	CooldownSeconds int             `json:"cooldown_seconds"`
}

// toRecord validates the request by hydrating it the same way the
// engine will; a rule the engine would skip is rejected up front.
func (req ruleRequest) toRecord() (*data.AlertRuleRecord, error) {
	if req.Name == "" {
		return nil, errors.New("name is required")
	}
	if req.CooldownSeconds < 0 {
		return nil, errors.New("cooldown_seconds must be >= 0")
	}

	rec := &data.AlertRuleRecord{
		Name:            req.Name,
		Enabled:         true,
		ConditionsJSON:  req.Conditions,
		ActionsJSON:     req.Actions,
		CooldownSeconds: req.CooldownSeconds,
	}
	if req.Enabled != nil {
		rec.Enabled = *req.Enabled
	}

	if _, err := rules.FromRecord(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GET /api/v1/rules
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.Rules.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "rule lookup failed")
		return
	}
	if list == nil {
		list = []*data.AlertRuleRecord{}
	}
	respondJSON(w, http.StatusOK, list)
}

// GET /api/v1/rules/{rule_id}
func (h *RuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}

	rec, err := h.Rules.GetByID(r.Context(), id)
	if errors.Is(err, data.ErrRecordNotFound) {
		respondError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "rule lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// POST /api/v1/rules
func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	rec, err := req.toRecord()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.Rules.Create(r.Context(), rec); err != nil {
		respondError(w, http.StatusInternalServerError, "rule create failed")
		return
	}

	h.refresh(r)
	respondJSON(w, http.StatusCreated, rec)
}

// PUT /api/v1/rules/{rule_id}
func (h *RuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	rec, err := req.toRecord()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec.ID = id

	if err := h.Rules.Update(r.Context(), rec); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "rule not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "rule update failed")
		return
	}

	h.refresh(r)
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// DELETE /api/v1/rules/{rule_id}
func (h *RuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}

	if err := h.Rules.Delete(r.Context(), id); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "rule not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "rule delete failed")
		return
	}

	h.refresh(r)
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// refresh reloads the engine so the mutation takes effect now, not at
// the next auto-refresh tick.
func (h *RuleHandler) refresh(r *http.Request) {
	if h.Engine == nil {
		return
	}
	if err := h.Engine.Refresh(r.Context()); err != nil {
		log.Printf("[WARN] RuleHandler: engine refresh failed: %v", err)
	}
}

func ruleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "rule_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id")
		return uuid.Nil, false
	}
	return id, true
}
