package inventory

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/reliefops/reliefops/internal/platform/httpx"
	"github.com/reliefops/reliefops/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/materials", func(r chi.Router) {
		r.Get("/", h.listMaterials)
		r.Post("/", h.createMaterial)
		r.Get("/{id}", h.getMaterial)
		r.Put("/{id}", h.updateMaterial)
		r.Delete("/{id}", h.deleteMaterial)
	})
	r.Post("/inbound", h.inbound)
	r.Post("/outbound", h.outbound)
	r.Post("/transfer", h.transfer)
	r.Get("/inventory", h.listRecords)
	r.Get("/inventory/{id}", h.getRecord)
	r.Get("/movements", h.listMovements)
	r.Get("/movements/export", h.exportMovements)
	r.Get("/stats", h.summary)
	r.Get("/reconcile", h.reconcile)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("stock request failed", slog.String("op", op), slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	return httpx.Validate(h.validator, target)
}

func (h *Handler) listMaterials(w http.ResponseWriter, r *http.Request) {
	items, page, err := h.service.ListMaterials(r.Context(), MaterialFilter{
		Search:   r.URL.Query().Get("q"),
		Page:     httpx.QueryInt(r, "page", 1),
		PageSize: httpx.QueryInt(r, "page_size", 0),
	})
	if err != nil {
		h.fail(w, r, "list_materials", err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.Page[MaterialListItem]{Items: items, Pagination: page})
}

func (h *Handler) createMaterial(w http.ResponseWriter, r *http.Request) {
	var req MaterialRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "create_material", err)
		return
	}
	m, err := h.service.CreateMaterial(r.Context(), req.input())
	if err != nil {
		h.fail(w, r, "create_material", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) getMaterial(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "get_material", err)
		return
	}
	m, err := h.service.GetMaterial(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get_material", err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) updateMaterial(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "update_material", err)
		return
	}
	var req MaterialRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "update_material", err)
		return
	}
	m, err := h.service.UpdateMaterial(r.Context(), id, req.input())
	if err != nil {
		h.fail(w, r, "update_material", err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) deleteMaterial(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "delete_material", err)
		return
	}
	operatorID, err := httpx.QueryInt64(r, "operator_id")
	if err != nil {
		h.fail(w, r, "delete_material", err)
		return
	}
	if err := h.service.DeleteMaterial(r.Context(), id, operatorID); err != nil {
		h.fail(w, r, "delete_material", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) inbound(w http.ResponseWriter, r *http.Request) {
	var req InboundRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "inbound", err)
		return
	}
	rec, err := h.service.Inbound(r.Context(), InboundInput{
		Code:       req.Code,
		MaterialID: req.MaterialID,
		Location:   req.Location,
		Qty:        req.Quantity,
		OperatorID: req.OperatorID,
		Remark:     req.Remark,
	})
	if err != nil {
		h.fail(w, r, "inbound", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) outbound(w http.ResponseWriter, r *http.Request) {
	var req OutboundRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "outbound", err)
		return
	}
	rec, err := h.service.Outbound(r.Context(), OutboundInput{
		MaterialID: req.MaterialID,
		Location:   req.Location,
		Qty:        req.Quantity,
		OperatorID: req.OperatorID,
		Remark:     req.Remark,
	})
	if err != nil {
		h.fail(w, r, "outbound", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "transfer", err)
		return
	}
	res, err := h.service.Transfer(r.Context(), TransferInput{
		MaterialID: req.MaterialID,
		From:       req.FromLocation,
		To:         req.ToLocation,
		Qty:        req.Quantity,
		OperatorID: req.OperatorID,
		Remark:     req.Remark,
	})
	if err != nil {
		h.fail(w, r, "transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	materialID, err := httpx.QueryInt64(r, "material_id")
	if err != nil {
		h.fail(w, r, "list_inventory", err)
		return
	}
	records, page, err := h.service.ListRecords(r.Context(), RecordFilter{
		MaterialID: materialID,
		Page:       httpx.QueryInt(r, "page", 1),
		PageSize:   httpx.QueryInt(r, "page_size", 0),
	})
	if err != nil {
		h.fail(w, r, "list_inventory", err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.Page[Record]{Items: records, Pagination: page})
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "get_inventory", err)
		return
	}
	rec, err := h.service.GetRecord(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get_inventory", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) movementFilter(r *http.Request) (MovementFilter, error) {
	materialID, err := httpx.QueryInt64(r, "material_id")
	if err != nil {
		return MovementFilter{}, err
	}
	inventoryID, err := httpx.QueryInt64(r, "inventory_id")
	if err != nil {
		return MovementFilter{}, err
	}
	return MovementFilter{
		MaterialID:  materialID,
		InventoryID: inventoryID,
		Type:        MovementType(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("type")))),
		Ref:         r.URL.Query().Get("ref"),
		Limit:       httpx.QueryInt(r, "limit", 0),
	}, nil
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	filter, err := h.movementFilter(r)
	if err != nil {
		h.fail(w, r, "list_movements", err)
		return
	}
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list_movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) exportMovements(w http.ResponseWriter, r *http.Request) {
	filter, err := h.movementFilter(r)
	if err != nil {
		h.fail(w, r, "export_movements", err)
		return
	}
	var buf bytes.Buffer
	n, err := h.service.ExportMovements(r.Context(), filter, &buf)
	if err != nil {
		h.fail(w, r, "export_movements", err)
		return
	}
	name := fmt.Sprintf("stock-movements-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Warn("write movement export", slog.Int("rows", n), slog.Any("error", err))
	}
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.service.Summary(r.Context())
	if err != nil {
		h.fail(w, r, "summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summaries)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Reconcile(r.Context())
	if err != nil {
		h.fail(w, r, "reconcile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
