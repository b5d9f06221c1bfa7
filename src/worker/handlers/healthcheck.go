package handlers

import (
	"fmt"
	"net/http"
)

func Healthcheck(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "Im alive!")
}

// Status answers 200 while the poller runs and 503 once it stopped.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	stats := h.Poller.Stats()
	status := http.StatusOK
	if !stats.Running {
		status = http.StatusServiceUnavailable
	}
	h.respond(w, r, stats, status)
}
