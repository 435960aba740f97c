package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"ancla-aem/core/store"
	"ancla-aem/core/utils"
)

type LedgerHandler struct {
	ledger  store.LedgerStore
	catalog store.CatalogStore
	logger  *utils.Logger
}

func NewLedgerHandler(ledger store.LedgerStore, catalog store.CatalogStore, logger *utils.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, catalog: catalog, logger: logger}
}

func (h *LedgerHandler) Get(w http.ResponseWriter, r *http.Request) {
	employeeID, _ := strconv.ParseInt(r.URL.Query().Get("employee_id"), 10, 64)
	workDate := strings.TrimSpace(r.URL.Query().Get("work_date"))
	if employeeID <= 0 || workDate == "" {
		http.Error(w, "ledger.keyRequired", http.StatusBadRequest)
		return
	}
	rec, err := h.ledger.Get(r.Context(), employeeID, workDate)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "ledger.notFound", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *LedgerHandler) ListStatuses(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.ListStatuses(r.Context())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
