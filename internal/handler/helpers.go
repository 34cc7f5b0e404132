package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/chatrelay/internal/logger"
)

// errorResponse mirrors the socket error frame shape ({"error": ...}), so a
// client sees one error format whether it failed over HTTP or over the socket.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// queryInt reads a numeric query parameter, falling back on absent or
// unparseable values. Range checks stay with the caller.
func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
