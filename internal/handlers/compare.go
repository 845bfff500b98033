package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jaydeelew/compareintel/internal/credits"
	"github.com/jaydeelew/compareintel/internal/identity"
	"github.com/jaydeelew/compareintel/internal/models"
	"github.com/jaydeelew/compareintel/internal/orchestrator"
)

type CompareHandler struct {
	orch      *orchestrator.Orchestrator
	gate      *credits.Gate
	jwtSecret string
}

func NewCompareHandler(orch *orchestrator.Orchestrator, gate *credits.Gate, jwtSecret string) *CompareHandler {
	return &CompareHandler{orch: orch, gate: gate, jwtSecret: jwtSecret}
}

func (h *CompareHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/compare", h.handleCompare)
	mux.HandleFunc("/v1/credits", h.handleCredits)
}

// sseSink writes stream events in text/event-stream framing. Headers go out
// lazily on the first event, so pre-stream failures can still use an
// ordinary status code.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSESink(w http.ResponseWriter) *sseSink {
	flusher, _ := w.(http.Flusher)
	return &sseSink{w: w, flusher: flusher}
}

func (s *sseSink) Send(ev models.ChunkEvent) error {
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func (h *CompareHandler) handleCompare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var req models.ComparisonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	id := identity.FromRequest(r, req.Fingerprint, h.jwtSecret)
	now := clientNow(r)

	err := h.orch.Run(r.Context(), req, id, now, newSSESink(w))
	if err == nil {
		return
	}

	var failure *orchestrator.RunFailure
	if errors.As(err, &failure) {
		status := http.StatusBadRequest
		if failure.Kind == orchestrator.FailureAdmission {
			status = http.StatusPaymentRequired
		}
		writeJSONError(w, status, failure.Message)
		return
	}
	writeJSONError(w, http.StatusInternalServerError, "Internal error")
}

func (h *CompareHandler) handleCredits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	id := identity.FromRequest(r, r.URL.Query().Get("fingerprint"), h.jwtSecret)
	dec, err := h.gate.Remaining(r.Context(), id, clientNow(r))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to read credits")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"remaining": dec.Remaining,
		"allocated": dec.Allocated,
		"tier":      id.Tier,
	})
}

// clientNow returns the current time in the caller's timezone, taken from
// the X-Timezone-Offset header (minutes east of UTC). Daily credit resets
// roll over at the caller's local midnight.
func clientNow(r *http.Request) time.Time {
	now := time.Now()
	if v := r.Header.Get("X-Timezone-Offset"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes >= -14*60 && minutes <= 14*60 {
			return now.In(time.FixedZone("client", minutes*60))
		}
	}
	return now
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
