package http

import (
	"errors"
	"net/http"
	"strings"

	"conti/internal/core"
	"conti/internal/services"
)

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.svc.ListTemplates(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]templateJSON, 0, len(templates))
	for _, t := range templates {
		out = append(out, toTemplate(t))
	}
	writeJSON(w, http.StatusOK, out)
}

type templateRequest struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Payer       string `json:"payer"`
	TriggerDay  int    `json:"trigger_day"`
	Category    string `json:"category"`
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.svc.CreateTemplate(r.Context(), services.NewTemplate{
		Description: req.Description,
		Amount:      amount,
		Payer:       strings.TrimSpace(req.Payer),
		TriggerDay:  req.TriggerDay,
		Category:    strings.TrimSpace(req.Category),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTemplate(t))
}

type templatePatchRequest struct {
	Description *string `json:"description"`
	Amount      *string `json:"amount"`
	Payer       *string `json:"payer"`
	TriggerDay  *int    `json:"trigger_day"`
	Category    *string `json:"category"`
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templatePatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	patch := services.TemplatePatch{
		Description: req.Description,
		Payer:       req.Payer,
		TriggerDay:  req.TriggerDay,
		Category:    req.Category,
	}
	if req.Amount != nil {
		amount, err := parseAmount("amount", *req.Amount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		patch.Amount = &amount
	}
	t, err := s.svc.UpdateTemplate(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplate(t))
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteTemplate(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type templateFailureJSON struct {
	TemplateID  string `json:"template_id"`
	Description string `json:"description"`
	Error       string `json:"error"`
}

// handleMaterialize runs the scheduler for the current period. Templates
// that failed are listed next to the created charges with a 207 status.
func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.MaterializeDue(r.Context())
	body := struct {
		materializeJSON
		Failures []templateFailureJSON `json:"failures,omitempty"`
	}{materializeJSON: materializeJSON{Created: toCharges(res.Created), Skipped: res.Skipped}}

	var pf *core.PartialFailure
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, body)
	case errors.As(err, &pf):
		for _, f := range pf.Failures {
			body.Failures = append(body.Failures, templateFailureJSON{
				TemplateID:  f.TemplateID,
				Description: f.Description,
				Error:       f.Err.Error(),
			})
		}
		writeJSON(w, http.StatusMultiStatus, body)
	default:
		writeError(w, r, err)
	}
}
