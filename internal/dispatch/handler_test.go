package dispatch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/reliefops/reliefops/internal/allocation"
	"github.com/reliefops/reliefops/internal/platform/httpx"
)

func newTestRouter(t *testing.T) (http.Handler, *fixture) {
	t.Helper()
	f := newFixture(t)
	r := chi.NewRouter()
	r.Route("/dispatch", NewHandler(discardLogger(), f.svc).MountRoutes)
	return r, f
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	return problem
}

func TestHandlerRequestLifecycle(t *testing.T) {
	h, f := newTestRouter(t)
	stock := f.stock(t, "Depot L", 100)

	rec := doJSON(t, h, http.MethodPost, "/dispatch/requests",
		fmt.Sprintf(`{"material_id":%d,"quantity":40,"priority":"Critical","target_area":"Hill camp"}`, f.material.ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var req DemandRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &req))
	require.Equal(t, UrgencyL3, req.UrgencyLevel)
	require.Equal(t, StatusPending, req.Status)
	base := fmt.Sprintf("/dispatch/requests/%d", req.ID)

	rec = doJSON(t, h, http.MethodGet, base+"/allocation-suggestion", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "InvalidStateTransition", decodeProblem(t, rec).Kind)

	rec = doJSON(t, h, http.MethodPost, base+"/audit", `{"action":"APPROVE","remark":"verified"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, base+"/audit", `{"action":"approve"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	problem := decodeProblem(t, rec)
	require.Equal(t, "InvalidStateTransition", problem.Kind)
	require.False(t, problem.Retryable)

	rec = doJSON(t, h, http.MethodGet, base+"/allocation-suggestion", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var lines []allocation.Line
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lines))
	require.Equal(t, []allocation.Line{{InventoryID: stock.ID, Location: "Depot L", Quantity: 40}}, lines)

	rec = doJSON(t, h, http.MethodPost, "/dispatch/tasks",
		fmt.Sprintf(`{"request_id":%d,"allocations":[{"inventory_id":%d,"quantity":41}]}`, req.ID, stock.ID))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "AllocationExceedsRequest", decodeProblem(t, rec).Kind)

	rec = doJSON(t, h, http.MethodPost, "/dispatch/tasks",
		fmt.Sprintf(`{"request_id":%d,"allocations":[{"inventory_id":%d,"quantity":40}]}`, req.ID, stock.ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created CreateTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotZero(t, created.TaskID)
	require.NotEmpty(t, created.Code)

	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/dispatch/tasks/%d", created.TaskID), "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Confirmation carries no body; a chunked empty request must still work.
	confirm := httptest.NewRequest(http.MethodPost, base+"/confirm-delivery", strings.NewReader(""))
	confirm.ContentLength = -1
	confirm.TransferEncoding = []string{"chunked"}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, confirm)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &req))
	require.Equal(t, StatusCompleted, req.Status)

	rec = doJSON(t, h, http.MethodGet, base+"/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []StatusLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 4)
}

func TestHandlerRejectsBadBodies(t *testing.T) {
	h, f := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/dispatch/requests",
		fmt.Sprintf(`{"material_id":%d,"quantity":5,"urgency":"whenever"}`, f.material.ID))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Validation", decodeProblem(t, rec).Kind)

	rec = doJSON(t, h, http.MethodPost, "/dispatch/requests", `{"material_id":999,"quantity":5,"urgency":"L1"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/dispatch/tasks", `{"request_id":1,"allocations":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/dispatch/requests/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/dispatch/tasks/77", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerInsufficientStockIsRetryable(t *testing.T) {
	h, f := newTestRouter(t)
	stock := f.stock(t, "Depot L", 10)
	req := f.approved(t, 30)

	rec := doJSON(t, h, http.MethodPost, "/dispatch/tasks",
		fmt.Sprintf(`{"request_id":%d,"allocations":[{"inventory_id":%d,"quantity":30}]}`, req.ID, stock.ID))
	require.Equal(t, http.StatusConflict, rec.Code)
	problem := decodeProblem(t, rec)
	require.Equal(t, "InsufficientStock", problem.Kind)
	require.True(t, problem.Retryable)
}
