package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"reportserver/src/repositories"
	"reportserver/src/services"
	"reportserver/src/utils"
)

type Handler struct {
	Service services.ReportJobServiceI
	Logger  *logrus.Logger
}

func NewHandler(service services.ReportJobServiceI, logger *logrus.Logger) *Handler {
	return &Handler{Service: service, Logger: logger}
}

func (h *Handler) respond(w http.ResponseWriter, _ *http.Request, data interface{}, status int) {
	res, err := json.Marshal(data)
	if err != nil {
		h.HandleErrors(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(res)
}

func (h *Handler) HandleErrors(w http.ResponseWriter, err error) {
	var httpErr *utils.HTTPError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		utils.WriteError(w, utils.NewHTTPError(http.StatusGatewayTimeout, "Request timed out"))
	case errors.As(err, &httpErr):
		utils.WriteError(w, httpErr)
	case errors.Is(err, repositories.ErrJobNotFound):
		utils.WriteError(w, utils.NotFound("report job not found"))
	case errors.Is(err, services.ErrInvalidJob):
		utils.WriteError(w, utils.UnprocessableEntity(err.Error()))
	default:
		h.Logger.WithError(err).Error("Unhandled error")
		utils.WriteError(w, err)
	}
}

// tenantID reads the owning tenant from the X-Tenant-ID header.
func tenantID(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(utils.TenantHeader)
	if raw == "" {
		return uuid.Nil, utils.BadRequest("missing " + utils.TenantHeader + " header")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, utils.BadRequest("invalid " + utils.TenantHeader + " header")
	}
	return id, nil
}
