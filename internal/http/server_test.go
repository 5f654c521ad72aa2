package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"paisa/internal/core"
	"paisa/internal/services"
)

// fakeTemplateAPI keeps templates in memory with the same ownership and
// lifecycle rules the real service enforces.
type fakeTemplateAPI struct {
	nextID    int64
	templates map[int64]core.Template
	entries   map[int64][]core.Entry
}

func newFakeTemplateAPI() *fakeTemplateAPI {
	return &fakeTemplateAPI{
		templates: make(map[int64]core.Template),
		entries:   make(map[int64][]core.Entry),
	}
}

func (f *fakeTemplateAPI) Create(ctx context.Context, ownerID string, in services.CreateTemplateInput) (*core.Template, error) {
	f.nextID++
	anchor := in.AnchorDate
	t := core.Template{
		ID:             f.nextID,
		OwnerID:        ownerID,
		Type:           in.Type,
		Amount:         in.Amount,
		Category:       in.Category,
		Description:    in.Description,
		Tags:           in.Tags,
		GoalID:         in.GoalID,
		Frequency:      in.Frequency,
		AnchorDate:     anchor,
		NextOccurrence: &anchor,
		EndDate:        in.EndDate,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	f.templates[t.ID] = t
	return &t, nil
}

func (f *fakeTemplateAPI) owned(ownerID string, id int64) (core.Template, error) {
	t, ok := f.templates[id]
	if !ok || t.OwnerID != ownerID {
		return core.Template{}, core.ErrNotFound
	}
	return t, nil
}

func (f *fakeTemplateAPI) Update(ctx context.Context, ownerID string, id int64, in services.UpdateTemplateInput) (*core.Template, error) {
	t, err := f.owned(ownerID, id)
	if err != nil {
		return nil, err
	}
	if in.Category != nil {
		t.Category = *in.Category
	}
	if in.Amount != nil {
		t.Amount = *in.Amount
	}
	f.templates[id] = t
	return &t, nil
}

func (f *fakeTemplateAPI) Cancel(ctx context.Context, ownerID string, id int64) (*core.Template, error) {
	t, err := f.owned(ownerID, id)
	if err != nil {
		return nil, err
	}
	if t.NextOccurrence == nil {
		return nil, core.ErrAlreadyEnded
	}
	now := time.Now()
	t.NextOccurrence = nil
	t.EndDate = &now
	f.templates[id] = t
	return &t, nil
}

func (f *fakeTemplateAPI) Delete(ctx context.Context, ownerID string, id int64) error {
	if _, err := f.owned(ownerID, id); err != nil {
		return err
	}
	delete(f.templates, id)
	return nil
}

func (f *fakeTemplateAPI) ListTemplates(ctx context.Context, ownerID string) ([]core.Template, error) {
	var out []core.Template
	for _, t := range f.templates {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTemplateAPI) ListInstances(ctx context.Context, ownerID string, templateID int64) ([]core.Entry, error) {
	if _, err := f.owned(ownerID, templateID); err != nil {
		return nil, err
	}
	return f.entries[templateID], nil
}

type fakeSweeper struct {
	report services.RunReport
	calls  int
}

func (f *fakeSweeper) RunSweep(ctx context.Context) (services.RunReport, error) {
	f.calls++
	return f.report, nil
}

func newTestServer(t *testing.T) (*Server, *fakeTemplateAPI, *fakeSweeper) {
	t.Helper()
	api := newFakeTemplateAPI()
	sweeper := &fakeSweeper{report: services.RunReport{
		SweepID:   "sweep-1",
		Timestamp: time.Now(),
		Due:       3,
		Succeeded: 2,
		Failed:    1,
		Failures: []services.SweepFailure{
			{TemplateID: 7, OwnerID: "alice", Reason: "storage unavailable"},
		},
	}}
	return NewServer(":0", api, sweeper), api, sweeper
}

func doRequest(s *Server, method, target, owner, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateTemplateEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	body := `{"type":"expense","amount":"450.00","category":"rent","frequency":"monthly","anchor_date":"2025-03-10"}`
	rec := doRequest(s, http.MethodPost, "/api/templates", "alice", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp templateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "active" {
		t.Errorf("status = %q, want active", resp.Status)
	}
	if resp.AmountPaise != 45000 {
		t.Errorf("amount_paise = %d, want 45000", resp.AmountPaise)
	}
	if resp.NextOccurrence == nil || *resp.NextOccurrence != "2025-03-10" {
		t.Errorf("next_occurrence = %v, want anchor date", resp.NextOccurrence)
	}
}

func TestCreateRequiresOwnerHeader(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/templates", "", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	s, _, _ := newTestServer(t)

	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"bad amount", `{"type":"expense","amount":"abc","category":"rent","frequency":"monthly","anchor_date":"2025-03-10"}`, "amount"},
		{"bad anchor", `{"type":"expense","amount":"10","category":"rent","frequency":"monthly","anchor_date":"10/03/2025"}`, "anchor_date"},
		{"bad frequency", `{"type":"expense","amount":"10","category":"rent","frequency":"fortnightly","anchor_date":"2025-03-10"}`, "frequency"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(s, http.MethodPost, "/api/templates", "alice", tc.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422 (body %s)", rec.Code, rec.Body.String())
			}
			var resp errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode error response: %v", err)
			}
			if resp.Field != tc.field {
				t.Errorf("field = %q, want %q", resp.Field, tc.field)
			}
		})
	}
}

func TestCancelEndpointLifecycle(t *testing.T) {
	s, _, _ := newTestServer(t)

	body := `{"type":"expense","amount":"99","category":"gym","frequency":"weekly","anchor_date":"2025-03-07"}`
	rec := doRequest(s, http.MethodPost, "/api/templates", "alice", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created templateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doRequest(s, http.MethodPost, "/api/templates/cancel?id=1", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var cancelled templateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &cancelled); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cancelled.Status != "ended" || cancelled.NextOccurrence != nil {
		t.Errorf("cancelled template = %+v, want ended with no next occurrence", cancelled)
	}

	// Cancelling twice is a conflict.
	rec = doRequest(s, http.MethodPost, "/api/templates/cancel?id=1", "alice", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", rec.Code)
	}

	// Another owner cannot see the template at all.
	rec = doRequest(s, http.MethodPost, "/api/templates/cancel?id=1", "bob", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign cancel status = %d, want 404", rec.Code)
	}
}

func TestGetUnknownTemplate(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/templates?id=42", "alice", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListEntriesEndpoint(t *testing.T) {
	s, api, _ := newTestServer(t)

	body := `{"type":"income","amount":"1500","category":"salary","frequency":"monthly","anchor_date":"2025-01-01"}`
	if rec := doRequest(s, http.MethodPost, "/api/templates", "alice", body); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	id := int64(1)
	api.entries[1] = []core.Entry{
		{ID: 10, OwnerID: "alice", Type: core.Income, Amount: core.Money{Paise: 150000}, Category: "salary", Date: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), TemplateID: &id},
	}

	rec := doRequest(s, http.MethodGet, "/api/templates/entries?id=1", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var entries []entryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Date != "2025-01-01" {
		t.Fatalf("entries = %+v, want one dated 2025-01-01", entries)
	}
}

func TestSweepEndpoint(t *testing.T) {
	s, _, sweeper := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/sweep", "alice", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", rec.Code)
	}

	rec = doRequest(s, http.MethodPost, "/api/sweep", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if sweeper.calls != 1 {
		t.Errorf("sweeper calls = %d, want 1", sweeper.calls)
	}

	var resp sweepResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Due != 3 || resp.Succeeded != 2 || resp.Failed != 1 {
		t.Errorf("report = %+v, want due=3 succeeded=2 failed=1", resp)
	}
	if len(resp.Failures) != 1 || resp.Failures[0].Reason != "storage unavailable" {
		t.Errorf("failures = %+v", resp.Failures)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
