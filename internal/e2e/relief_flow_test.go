package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/reliefops/reliefops/internal/allocation"
	"github.com/reliefops/reliefops/internal/app"
	"github.com/reliefops/reliefops/internal/dispatch"
	"github.com/reliefops/reliefops/internal/inventory"
	jobmetrics "github.com/reliefops/reliefops/internal/jobs"
	"github.com/reliefops/reliefops/internal/observability"
	"github.com/reliefops/reliefops/internal/shared"
	"github.com/reliefops/reliefops/jobs"
)

// inlineQueue runs published events through the worker handlers
// synchronously, standing in for redis and the asynq server.
type inlineQueue struct {
	mu       sync.Mutex
	lowStock *jobs.LowStockAlertJob
	notify   *jobs.NotifyLogisticsJob
	errs     []error
}

func (q *inlineQueue) PublishLowStock(ctx context.Context, evt inventory.LowStockEvent) error {
	task, err := jobs.NewLowStockAlertTask(evt)
	if err != nil {
		return err
	}
	q.record(q.lowStock.Handle(ctx, task))
	return nil
}

func (q *inlineQueue) PublishTaskCreated(ctx context.Context, evt dispatch.TaskCreatedEvent) error {
	task, err := jobs.NewNotifyLogisticsTask(evt)
	if err != nil {
		return err
	}
	q.record(q.notify.Handle(ctx, task))
	return nil
}

func (q *inlineQueue) record(err error) {
	if err == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.errs = append(q.errs, err)
}

type stack struct {
	router     http.Handler
	queue      *inlineQueue
	jobMetrics *prometheus.Registry
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()
	reg := prometheus.NewRegistry()
	jm := jobmetrics.NewMetrics(reg)
	queue := &inlineQueue{}

	ledger := inventory.NewService(inventory.NewMemoryRepository(), shared.SlogAuditor{Logger: logger}, shared.NewMemoryIdempotency(),
		inventory.ServiceConfig{AlertThreshold: 10}, queue, logger).WithRecorder(metrics)
	deskRepo := dispatch.NewMemoryRepository()
	desk := dispatch.NewService(deskRepo, dispatch.NewInventoryAdapter(ledger), queue, shared.SlogAuditor{Logger: logger}, logger).
		WithRecorder(metrics)

	queue.lowStock = jobs.NewLowStockAlertJob(ledger, logger, jm)
	queue.notify = jobs.NewNotifyLogisticsJob(deskRepo, logger, jm)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           &app.Config{StoreDriver: app.StoreDriverMemory},
		InventoryHandler: inventory.NewHandler(logger, ledger),
		DispatchHandler:  dispatch.NewHandler(logger, desk),
		Metrics:          metrics,
	})
	return &stack{router: router, queue: queue, jobMetrics: reg}
}

func (s *stack) do(t *testing.T, method, path, body string, want int, out any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != want {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, want, rec.Code, rec.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func TestReliefFlowFromReceiptToDelivery(t *testing.T) {
	s := newStack(t)

	var material inventory.Material
	s.do(t, http.MethodPost, "/api/v1/stock/materials", `{"name":"Water purification tablets","unit":"box"}`, http.StatusCreated, &material)

	var north, south inventory.Record
	s.do(t, http.MethodPost, "/api/v1/stock/inbound",
		fmt.Sprintf(`{"material_id":%d,"location":"Depot North","quantity":50,"code":"RCV-1"}`, material.ID), http.StatusOK, &north)
	s.do(t, http.MethodPost, "/api/v1/stock/inbound",
		fmt.Sprintf(`{"material_id":%d,"location":"Depot South","quantity":100}`, material.ID), http.StatusOK, &south)
	s.do(t, http.MethodPost, "/api/v1/stock/inbound",
		fmt.Sprintf(`{"material_id":%d,"location":"Depot North","quantity":50,"code":"RCV-1"}`, material.ID), http.StatusConflict, nil)

	// Drops Depot North below its threshold of 10.
	s.do(t, http.MethodPost, "/api/v1/stock/outbound",
		fmt.Sprintf(`{"material_id":%d,"location":"Depot North","quantity":45}`, material.ID), http.StatusOK, &north)
	if north.Available() != 5 {
		t.Fatalf("expected 5 available at Depot North, got %d", north.Available())
	}

	var req dispatch.DemandRequest
	s.do(t, http.MethodPost, "/api/v1/dispatch/requests",
		fmt.Sprintf(`{"material_id":%d,"quantity":80,"urgency_level":"L3","target_area":"River camp"}`, material.ID), http.StatusCreated, &req)
	base := fmt.Sprintf("/api/v1/dispatch/requests/%d", req.ID)
	s.do(t, http.MethodPost, base+"/audit", `{"action":"approve"}`, http.StatusOK, nil)

	var lines []allocation.Line
	s.do(t, http.MethodGet, base+"/allocation-suggestion", "", http.StatusOK, &lines)
	if len(lines) != 1 || lines[0].InventoryID != south.ID || lines[0].Quantity != 80 {
		t.Fatalf("unexpected suggestion: %+v", lines)
	}

	body, err := json.Marshal(map[string]any{"request_id": req.ID, "allocations": lines})
	if err != nil {
		t.Fatalf("marshal allocations: %v", err)
	}
	var created dispatch.CreateTaskResponse
	s.do(t, http.MethodPost, "/api/v1/dispatch/tasks", string(body), http.StatusCreated, &created)
	s.do(t, http.MethodPost, "/api/v1/dispatch/tasks", string(body), http.StatusConflict, nil)

	s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/stock/inventory/%d", south.ID), "", http.StatusOK, &south)
	if south.Quantity != 100 || south.LockedQuantity != 80 {
		t.Fatalf("expected 80 of 100 locked at Depot South, got %+v", south)
	}

	s.do(t, http.MethodPost, base+"/confirm-delivery", "", http.StatusOK, &req)
	if req.Status != dispatch.StatusCompleted {
		t.Fatalf("expected completed request, got %s", req.Status)
	}
	s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/stock/inventory/%d", south.ID), "", http.StatusOK, &south)
	if south.Quantity != 20 || south.LockedQuantity != 0 {
		t.Fatalf("expected 20 on hand and nothing locked after shipping, got %+v", south)
	}

	var report inventory.ReconcileReport
	s.do(t, http.MethodGet, "/api/v1/stock/reconcile", "", http.StatusOK, &report)
	if !report.Clean() {
		t.Fatalf("ledger drifted: %+v", report.Drift)
	}

	if len(s.queue.errs) > 0 {
		t.Fatalf("background handlers failed: %v", s.queue.errs)
	}

	families, err := s.jobMetrics.Gather()
	if err != nil {
		t.Fatalf("gather job metrics: %v", err)
	}
	if got := metricValue(t, families, "reliefops_low_stock_alerts_total", map[string]string{"material": strconv.FormatInt(material.ID, 10)}); got != 1 {
		t.Fatalf("expected one low stock alert, got %v", got)
	}
	if got := metricValue(t, families, "reliefops_logistics_notifications_total", map[string]string{"urgency": "L3"}); got != 1 {
		t.Fatalf("expected one logistics notification, got %v", got)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `reliefops_dispatch_commits_total{outcome="committed"} 1`) {
		t.Fatalf("expected one committed dispatch in /metrics, got:\n%s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `reliefops_dispatch_commits_total{outcome="rejected"} 1`) {
		t.Fatalf("expected the repeated task to be counted as rejected")
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if !hasLabels(metric, labels) {
				continue
			}
			switch fam.GetType() {
			case dto.MetricType_COUNTER:
				return metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				return metric.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range metric.GetLabel() {
		val, ok := labels[lp.GetName()]
		if !ok {
			continue
		}
		if lp.GetValue() != val {
			return false
		}
		matched++
	}
	return matched == len(labels)
}
