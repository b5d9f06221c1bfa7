package handlers

import (
	"encoding/json"
	"net/http"

	"reportserver/src/scheduler"
)

// StatusProvider reports the state of the report poller.
type StatusProvider interface {
	Stats() scheduler.Stats
}

type Handler struct {
	Poller StatusProvider
}

func NewHandler(poller StatusProvider) *Handler {
	return &Handler{Poller: poller}
}

func (h *Handler) respond(w http.ResponseWriter, _ *http.Request, data interface{}, status int) {
	res, err := json.Marshal(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(res)
}
