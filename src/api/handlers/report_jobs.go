package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"reportserver/src/schemas"
	"reportserver/src/services"
	"reportserver/src/utils"
)

const requestTimeout = 10 * time.Second

func (h *Handler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	return utils.WithLogger(ctx, h.Logger), cancel
}

// jobIdentity reads the tenant header and the {id} URL parameter.
func jobIdentity(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	tenant, err := tenantID(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, utils.BadRequest("invalid report job id")
	}
	return tenant, id, nil
}

func (h *Handler) ListReportJobs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	tenant, err := tenantID(r)
	if err != nil {
		h.HandleErrors(w, err)
		return
	}
	jobs, err := h.Service.ListJobs(ctx, tenant)
	if err != nil {
		h.HandleErrors(w, err)
		return
	}
	h.respond(w, r, jobs, http.StatusOK)
}

func (h *Handler) GetReportJob(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	tenant, id, err := jobIdentity(r)
	if err != nil {
		h.HandleErrors(w, err)
		return
	}
	job, err := h.Service.GetJob(ctx, tenant, id)
	if err != nil {
		h.HandleErrors(w, err)
		return
	}
	h.respond(w, r, job, http.StatusOK)
}

func (h *Handler) CreateReportJob(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	tenant, err := tenantID(r)
	if err != nil {
		h.HandleErrors(w, err)
		return
	}

	var req schemas.CreateReportJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.HandleErrors(w, utils.BadRequest("invalid request body"))
		return
	}
	req.TenantID = tenant

	job, err := h.Service.CreateJob(ctx, &req)
	if err != nil {
		h.HandleErrors(w, err)
		return
	}
	h.respond(w, r, job, http.StatusCreated)
}

func (h *Handler) UpdateReportJob(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	tenant, id, err := jobIdentity(r)
	if err != nil {
		h.HandleErrors(w, err)
		return
	}

	var req schemas.UpdateReportJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.HandleErrors(w, utils.BadRequest("invalid request body"))
		return
	}
	req.TenantID = tenant
	req.ID = id

	job, err := h.Service.UpdateJob(ctx, &req)
	if err != nil {
		h.HandleErrors(w, err)
		return
	}
	h.respond(w, r, job, http.StatusOK)
}

func (h *Handler) DeactivateReportJob(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	tenant, id, err := jobIdentity(r)
	if err != nil {
		h.HandleErrors(w, err)
		return
	}
	job, err := h.Service.DeactivateJob(ctx, tenant, id)
	if err != nil {
		h.HandleErrors(w, err)
		return
	}
	h.respond(w, r, job, http.StatusOK)
}

func (h *Handler) ReactivateReportJob(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	tenant, id, err := jobIdentity(r)
	if err != nil {
		h.HandleErrors(w, err)
		return
	}
	job, err := h.Service.ReactivateJob(ctx, tenant, id)
	if err != nil {
		h.HandleErrors(w, err)
		return
	}
	h.respond(w, r, job, http.StatusOK)
}

func (h *Handler) ListDataSources(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, map[string][]string{"data_sources": services.DataSources()}, http.StatusOK)
}
