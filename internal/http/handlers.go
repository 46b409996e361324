package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"conti/internal/core"
	"conti/internal/services"
)

func requester(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(requesterHeader))
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.svc.Members(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]memberJSON, 0, len(members))
	for _, m := range members {
		out = append(out, memberJSON{ID: m.ID, Name: m.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePeriod(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.LoadCurrentPeriod(r.Context(), requester(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriod(p))
}

type rentRequest struct {
	Total            string            `json:"total"`
	Payer            string            `json:"payer"`
	HousingAllowance map[string]string `json:"housing_allowance"`
}

func (s *Server) handleUpdateRent(w http.ResponseWriter, r *http.Request) {
	var req rentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	total, err := parseNonNegativeAmount("rent_total", req.Total)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rent := core.RentTerms{
		Total:            total,
		Payer:            strings.TrimSpace(req.Payer),
		HousingAllowance: make(map[string]core.Money, len(req.HousingAllowance)),
	}
	for member, raw := range req.HousingAllowance {
		amount, err := parseNonNegativeAmount("housing_allowance", raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		rent.HousingAllowance[member] = amount
	}
	account, err := s.svc.UpdateRent(r.Context(), requester(r), rent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(account))
}

type chargeRequest struct {
	Kind          string   `json:"kind"`
	Description   string   `json:"description"`
	Amount        string   `json:"amount"`
	Payer         string   `json:"payer"`
	Beneficiaries []string `json:"beneficiaries"`
	OccurredAt    string   `json:"occurred_at"`
	Category      string   `json:"category"`
}

func (s *Server) handleAddCharge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	occurred, err := parseDate("occurred_at", req.OccurredAt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	kind := core.ChargeKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if kind == "" {
		kind = core.Variable
	}
	c, err := s.svc.AddChargeInstance(r.Context(), services.NewCharge{
		Kind:          kind,
		Description:   req.Description,
		Amount:        amount,
		Payer:         strings.TrimSpace(req.Payer),
		Beneficiaries: req.Beneficiaries,
		OccurredAt:    occurred,
		Category:      strings.TrimSpace(req.Category),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCharge(c))
}

// chargeEdit carries the editable fields of a fixed charge. Set fields are
// applied in order: amount, payer, day.
type chargeEdit struct {
	Amount *string `json:"amount"`
	Payer  *string `json:"payer"`
	Day    *int    `json:"day"`
}

func (s *Server) handleEditCharge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req chargeEdit
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Amount == nil && req.Payer == nil && req.Day == nil {
		writeError(w, r, &core.ValidationError{Field: "body", Err: errors.New("nothing to update")})
		return
	}

	ctx := r.Context()
	var (
		c   core.ChargeInstance
		err error
	)
	if req.Amount != nil {
		amount, perr := parseAmount("amount", *req.Amount)
		if perr != nil {
			writeError(w, r, perr)
			return
		}
		if c, err = s.svc.UpdateChargeAmount(ctx, id, amount); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.Payer != nil {
		if c, err = s.svc.UpdateChargePayer(ctx, id, strings.TrimSpace(*req.Payer)); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.Day != nil {
		if c, err = s.svc.UpdateChargeDay(ctx, id, *req.Day); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toCharge(c))
}

func (s *Server) handleDeleteCharge(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteChargeInstance(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adjustmentRequest struct {
	Debtor   string `json:"debtor"`
	Creditor string `json:"creditor"`
	Amount   string `json:"amount"`
}

type closeRequest struct {
	Adjustments []adjustmentRequest `json:"adjustments"`
	FixedEdits  map[string]string   `json:"fixed_edits"`
}

// decodeClose reads an optional close body. An empty body closes the month
// as-is.
func decodeClose(w http.ResponseWriter, r *http.Request) (services.CloseRequest, error) {
	var req closeRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		return services.CloseRequest{}, err
	}
	out := services.CloseRequest{}
	for _, a := range req.Adjustments {
		amount, err := parseAmount("adjustment", a.Amount)
		if err != nil {
			return services.CloseRequest{}, err
		}
		out.Adjustments = append(out.Adjustments, core.Adjustment{
			Debtor:   strings.TrimSpace(a.Debtor),
			Creditor: strings.TrimSpace(a.Creditor),
			Amount:   amount,
		})
	}
	if len(req.FixedEdits) > 0 {
		out.FixedEdits = make(map[string]core.Money, len(req.FixedEdits))
		for id, raw := range req.FixedEdits {
			amount, err := parseAmount("fixed_edits", raw)
			if err != nil {
				return services.CloseRequest{}, err
			}
			out.FixedEdits[id] = amount
		}
	}
	return out, nil
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	req, err := decodeClose(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	next, err := s.svc.CloseMonth(r.Context(), requester(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriod(next))
}

func (s *Server) handleCloseMonth(w http.ResponseWriter, r *http.Request) {
	month, err := core.ParseMonthKey(r.PathValue("month"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := decodeClose(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	closed, err := s.svc.CloseMonthKey(r.Context(), month, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(closed))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	pb, err := s.svc.GetPersonalBalance(r.Context(), requester(r), r.PathValue("member"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalance(pb))
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	debts, err := s.svc.GetSimplifiedTransfers(r.Context(), requester(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDebts(debts))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.svc.ListHistory(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]accountJSON, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccount(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistoricalAccount(w http.ResponseWriter, r *http.Request) {
	month, err := core.ParseMonthKey(r.PathValue("month"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := s.svc.GetHistoricalAccount(r.Context(), month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(a))
}
