package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseIntDefault(raw string, def int) int {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return def
	}
	v, err := strconv.Atoi(clean)
	if err != nil {
		return def
	}
	return v
}
