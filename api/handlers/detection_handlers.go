package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"ancla-aem/core/auth"
	"ancla-aem/core/detection"
	"ancla-aem/core/store"
	"ancla-aem/core/utils"
)

type DetectionHandler struct {
	scanner *detection.Scanner
	audits  store.AuditStore
	logger  *utils.Logger
}

func NewDetectionHandler(scanner *detection.Scanner, audits store.AuditStore, logger *utils.Logger) *DetectionHandler {
	return &DetectionHandler{scanner: scanner, audits: audits, logger: logger}
}

// Run triggers a detection pass. Without an explicit range the
// configured trailing window is scanned.
func (h *DetectionHandler) Run(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)
	from := strings.TrimSpace(payload.From)
	to := strings.TrimSpace(payload.To)
	var created int
	var err error
	if from != "" && to != "" {
		created, err = h.scanner.Analyze(r.Context(), from, to)
	} else {
		created, err = h.scanner.RunWindow(r.Context())
	}
	if err != nil {
		h.logger.Errorf("detection: manual run failed: %v", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if sess := auth.SessionFromContext(r.Context()); sess != nil {
		_ = h.audits.Append(r.Context(), sess.Username, "detection.run", strconv.Itoa(created))
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": created})
}
