package dispatch

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/reliefops/reliefops/internal/platform/httpx"
	"github.com/reliefops/reliefops/internal/shared"
)

// Handler wires HTTP endpoints for demand requests and dispatch tasks.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs dispatch handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers dispatch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/requests", func(r chi.Router) {
		r.Get("/", h.listRequests)
		r.Post("/", h.createRequest)
		r.Get("/{id}", h.getRequest)
		r.Get("/{id}/logs", h.listLogs)
		r.Post("/{id}/audit", h.audit)
		r.Get("/{id}/allocation-suggestion", h.suggest)
		r.Post("/{id}/confirm-delivery", h.confirm)
	})
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", h.listTasks)
		r.Post("/", h.createTask)
		r.Get("/{id}", h.getTask)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("dispatch request failed", slog.String("op", op), slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	return httpx.Validate(h.validator, target)
}

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var body CreateRequestBody
	if err := h.decode(r, &body); err != nil {
		h.fail(w, r, "create_request", err)
		return
	}
	input, err := body.input()
	if err != nil {
		h.fail(w, r, "create_request", err)
		return
	}
	req, err := h.service.CreateRequest(r.Context(), input)
	if err != nil {
		h.fail(w, r, "create_request", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, req)
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	items, page, err := h.service.ListRequests(r.Context(), RequestFilter{
		Status:   Status(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status")))),
		Page:     httpx.QueryInt(r, "page", 1),
		PageSize: httpx.QueryInt(r, "page_size", 0),
	})
	if err != nil {
		h.fail(w, r, "list_requests", err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.Page[DemandRequest]{Items: items, Pagination: page})
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "get_request", err)
		return
	}
	req, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get_request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "list_logs", err)
		return
	}
	logs, err := h.service.ListStatusLog(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list_logs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, logs)
}

func (h *Handler) audit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "audit", err)
		return
	}
	var body AuditBody
	if err := h.decode(r, &body); err != nil {
		h.fail(w, r, "audit", err)
		return
	}
	req, err := h.service.Audit(r.Context(), id, AuditInput{
		Action:     body.Action,
		Remark:     body.Remark,
		OperatorID: body.OperatorID,
	})
	if err != nil {
		h.fail(w, r, "audit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) suggest(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "suggest", err)
		return
	}
	plan, err := h.service.SuggestAllocation(r.Context(), id)
	if err != nil {
		h.fail(w, r, "suggest", err)
		return
	}
	httpx.JSON(w, http.StatusOK, plan.Lines)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "confirm_delivery", err)
		return
	}
	var body ConfirmBody
	if err := httpx.DecodeOptionalJSON(r, &body); err != nil {
		h.fail(w, r, "confirm_delivery", err)
		return
	}
	if err := httpx.Validate(h.validator, &body); err != nil {
		h.fail(w, r, "confirm_delivery", err)
		return
	}
	req, err := h.service.ConfirmDelivery(r.Context(), id, ConfirmInput{OperatorID: body.OperatorID, Remark: body.Remark})
	if err != nil {
		h.fail(w, r, "confirm_delivery", err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	var body CreateTaskBody
	if err := h.decode(r, &body); err != nil {
		h.fail(w, r, "create_task", err)
		return
	}
	task, err := h.service.CreateDispatchTask(r.Context(), body.input())
	if err != nil {
		h.fail(w, r, "create_task", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, CreateTaskResponse{TaskID: task.ID, Code: task.Code})
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	requestID, err := httpx.QueryInt64(r, "request_id")
	if err != nil {
		h.fail(w, r, "list_tasks", err)
		return
	}
	items, page, err := h.service.ListTasks(r.Context(), TaskFilter{
		RequestID: requestID,
		Page:      httpx.QueryInt(r, "page", 1),
		PageSize:  httpx.QueryInt(r, "page_size", 0),
	})
	if err != nil {
		h.fail(w, r, "list_tasks", err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.Page[DispatchTask]{Items: items, Pagination: page})
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "get_task", err)
		return
	}
	task, err := h.service.GetTask(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get_task", err)
		return
	}
	httpx.JSON(w, http.StatusOK, task)
}
