package http

import (
	"encoding/json"
	"net/http"
	"time"

	"paisa/internal/core"
	"paisa/internal/services"
)

// templateResponse is the wire shape of a template. Status is derived from
// the next occurrence, never stored.
type templateResponse struct {
	ID             int64    `json:"id"`
	OwnerID        string   `json:"owner_id"`
	Type           string   `json:"type"`
	AmountPaise    int64    `json:"amount_paise"`
	Category       string   `json:"category"`
	Description    string   `json:"description,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	GoalID         *int64   `json:"goal_id,omitempty"`
	Frequency      string   `json:"frequency"`
	AnchorDate     string   `json:"anchor_date"`
	NextOccurrence *string  `json:"next_occurrence,omitempty"`
	EndDate        *string  `json:"end_date,omitempty"`
	Status         string   `json:"status"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

func toTemplateResponse(t core.Template) templateResponse {
	resp := templateResponse{
		ID:          t.ID,
		OwnerID:     t.OwnerID,
		Type:        string(t.Type),
		AmountPaise: t.Amount.Paise,
		Category:    t.Category,
		Description: t.Description,
		Tags:        t.Tags,
		GoalID:      t.GoalID,
		Frequency:   string(t.Frequency),
		AnchorDate:  t.AnchorDate.Format(dateLayout),
		Status:      "ended",
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   t.UpdatedAt.Format(time.RFC3339),
	}
	if t.NextOccurrence != nil {
		next := t.NextOccurrence.Format(dateLayout)
		resp.NextOccurrence = &next
		resp.Status = "active"
	}
	if t.EndDate != nil {
		end := t.EndDate.Format(dateLayout)
		resp.EndDate = &end
	}
	return resp
}

type entryResponse struct {
	ID          int64    `json:"id"`
	OwnerID     string   `json:"owner_id"`
	Type        string   `json:"type"`
	AmountPaise int64    `json:"amount_paise"`
	Category    string   `json:"category"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	GoalID      *int64   `json:"goal_id,omitempty"`
	Date        string   `json:"date"`
	TemplateID  *int64   `json:"template_id,omitempty"`
}

func toEntryResponse(e core.Entry) entryResponse {
	return entryResponse{
		ID:          e.ID,
		OwnerID:     e.OwnerID,
		Type:        string(e.Type),
		AmountPaise: e.Amount.Paise,
		Category:    e.Category,
		Description: e.Description,
		Tags:        e.Tags,
		GoalID:      e.GoalID,
		Date:        e.Date.Format(dateLayout),
		TemplateID:  e.TemplateID,
	}
}

type createTemplateRequest struct {
	Type        string   `json:"type"`
	Amount      string   `json:"amount"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	GoalID      *int64   `json:"goal_id"`
	Frequency   string   `json:"frequency"`
	AnchorDate  string   `json:"anchor_date"`
	EndDate     string   `json:"end_date"`
}

type updateTemplateRequest struct {
	Type        *string  `json:"type"`
	Amount      *string  `json:"amount"`
	Category    *string  `json:"category"`
	Description *string  `json:"description"`
	Tags        []string `json:"tags"`
	GoalID      *int64   `json:"goal_id"`
	Frequency   *string  `json:"frequency"`
	AnchorDate  *string  `json:"anchor_date"`
	EndDate     *string  `json:"end_date"`
	ClearEnd    bool     `json:"clear_end"`
}

// handleTemplates dispatches /api/templates by method: POST creates, GET
// without id lists, GET with id fetches one, PUT edits, DELETE removes.
func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createTemplate(w, r)
	case http.MethodGet:
		s.listOrGetTemplate(w, r)
	case http.MethodPut:
		s.updateTemplate(w, r)
	case http.MethodDelete:
		s.deleteTemplate(w, r)
	default:
		methodNotAllowed(w, "GET, POST, PUT, DELETE")
	}
}

func (s *Server) createTemplate(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req createTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	in, err := req.toInput()
	if err != nil {
		writeError(w, r, err)
		return
	}

	tmpl, err := s.templates.Create(r.Context(), owner, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTemplateResponse(*tmpl))
}

func (req createTemplateRequest) toInput() (services.CreateTemplateInput, error) {
	in := services.CreateTemplateInput{
		Type:        core.EntryType(req.Type),
		Category:    req.Category,
		Description: req.Description,
		Tags:        req.Tags,
		GoalID:      req.GoalID,
		Frequency:   core.Frequency(req.Frequency),
	}

	paise, err := core.ParseDecimalToPaise(req.Amount)
	if err != nil {
		return in, err
	}
	in.Amount = core.Money{Paise: paise}

	anchor, err := parseDate(req.AnchorDate)
	if err != nil {
		return in, &core.ValidationError{Field: "anchor_date", Reason: "must be YYYY-MM-DD"}
	}
	in.AnchorDate = anchor

	if req.EndDate != "" {
		end, err := parseDate(req.EndDate)
		if err != nil {
			return in, &core.ValidationError{Field: "end_date", Reason: "must be YYYY-MM-DD"}
		}
		in.EndDate = &end
	}
	return in, nil
}

func (s *Server) listOrGetTemplate(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("id") == "" {
		templates, err := s.templates.ListTemplates(r.Context(), owner)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]templateResponse, 0, len(templates))
		for _, t := range templates {
			out = append(out, toTemplateResponse(t))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	id, ok := templateID(w, r)
	if !ok {
		return
	}
	// The list is owner-scoped already; fetch through it to keep a single
	// read path.
	templates, err := s.templates.ListTemplates(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	for _, t := range templates {
		if t.ID == id {
			writeJSON(w, http.StatusOK, toTemplateResponse(t))
			return
		}
	}
	writeError(w, r, core.ErrNotFound)
}

func (s *Server) updateTemplate(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	id, ok := templateID(w, r)
	if !ok {
		return
	}

	var req updateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	in, err := req.toInput()
	if err != nil {
		writeError(w, r, err)
		return
	}

	tmpl, err := s.templates.Update(r.Context(), owner, id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateResponse(*tmpl))
}

func (req updateTemplateRequest) toInput() (services.UpdateTemplateInput, error) {
	in := services.UpdateTemplateInput{
		Tags:     req.Tags,
		GoalID:   req.GoalID,
		ClearEnd: req.ClearEnd,
	}

	if req.Type != nil {
		t := core.EntryType(*req.Type)
		in.Type = &t
	}
	if req.Amount != nil {
		paise, err := core.ParseDecimalToPaise(*req.Amount)
		if err != nil {
			return in, err
		}
		in.Amount = &core.Money{Paise: paise}
	}
	in.Category = req.Category
	in.Description = req.Description
	if req.Frequency != nil {
		f := core.Frequency(*req.Frequency)
		in.Frequency = &f
	}
	if req.AnchorDate != nil {
		anchor, err := parseDate(*req.AnchorDate)
		if err != nil {
			return in, &core.ValidationError{Field: "anchor_date", Reason: "must be YYYY-MM-DD"}
		}
		in.AnchorDate = &anchor
	}
	if req.EndDate != nil {
		end, err := parseDate(*req.EndDate)
		if err != nil {
			return in, &core.ValidationError{Field: "end_date", Reason: "must be YYYY-MM-DD"}
		}
		in.EndDate = &end
	}
	return in, nil
}

func (s *Server) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	id, ok := templateID(w, r)
	if !ok {
		return
	}

	if err := s.templates.Delete(r.Context(), owner, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCancelTemplate ends a template's schedule without touching the
// entries it already generated.
func (s *Server) handleCancelTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	id, ok := templateID(w, r)
	if !ok {
		return
	}

	tmpl, err := s.templates.Cancel(r.Context(), owner, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateResponse(*tmpl))
}

// handleListEntries lists the entries a template has generated.
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	id, ok := templateID(w, r)
	if !ok {
		return
	}

	entries, err := s.templates.ListInstances(r.Context(), owner, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}
