package http

import (
	"net/http"
	"time"

	"paisa/internal/services"
)

type sweepResponse struct {
	SweepID   string         `json:"sweep_id"`
	Timestamp string         `json:"timestamp"`
	Due       int            `json:"due"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Skipped   int            `json:"skipped"`
	Failures  []sweepFailure `json:"failures,omitempty"`
}

type sweepFailure struct {
	TemplateID int64  `json:"template_id"`
	OwnerID    string `json:"owner_id"`
	Reason     string `json:"reason"`
}

func toSweepResponse(report services.RunReport) sweepResponse {
	resp := sweepResponse{
		SweepID:   report.SweepID,
		Timestamp: report.Timestamp.Format(time.RFC3339),
		Due:       report.Due,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
		Skipped:   report.Skipped,
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, sweepFailure{
			TemplateID: f.TemplateID,
			OwnerID:    f.OwnerID,
			Reason:     f.Reason,
		})
	}
	return resp
}

// handleSweep runs a sweep immediately, outside the regular schedule, and
// returns its report. Useful after restoring a backlog or in tests.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	if s.sweeps == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "sweep not configured"})
		return
	}

	report, err := s.sweeps.RunSweep(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepResponse(report))
}
