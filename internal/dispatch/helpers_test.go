package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reliefops/reliefops/internal/inventory"
	"github.com/reliefops/reliefops/internal/shared"
)

type captureEvents struct {
	mu     sync.Mutex
	events []TaskCreatedEvent
	err    error
}

func (c *captureEvents) PublishTaskCreated(_ context.Context, evt TaskCreatedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return c.err
}

type captureRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *captureRecorder) ObserveCommit(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = make(map[string]int)
	}
	c.outcomes[outcome]++
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	ledger   *inventory.Service
	events   *captureEvents
	material inventory.Material
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := inventory.NewService(inventory.NewMemoryRepository(), nil, shared.NewMemoryIdempotency(), inventory.ServiceConfig{}, nil, discardLogger())
	m, err := ledger.CreateMaterial(context.Background(), inventory.MaterialInput{Name: "Tent 4p", Unit: "piece"})
	require.NoError(t, err)

	repo := NewMemoryRepository()
	events := &captureEvents{}
	svc := NewService(repo, NewInventoryAdapter(ledger), events, nil, discardLogger())
	return &fixture{svc: svc, repo: repo, ledger: ledger, events: events, material: m}
}

func (f *fixture) stock(t *testing.T, location string, qty int64) inventory.Record {
	t.Helper()
	rec, err := f.ledger.Inbound(context.Background(), inventory.InboundInput{MaterialID: f.material.ID, Location: location, Qty: qty})
	require.NoError(t, err)
	return rec
}

func (f *fixture) record(t *testing.T, id int64) inventory.Record {
	t.Helper()
	rec, err := f.ledger.GetRecord(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func (f *fixture) approved(t *testing.T, qty int64) DemandRequest {
	t.Helper()
	ctx := context.Background()
	req, err := f.svc.CreateRequest(ctx, CreateRequestInput{MaterialID: f.material.ID, Quantity: qty, Urgency: UrgencyL2, TargetArea: "North camp"})
	require.NoError(t, err)
	req, err = f.svc.Audit(ctx, req.ID, AuditInput{Action: "approve"})
	require.NoError(t, err)
	return req
}

// requestIn drives a fresh request into the given status through the public
// operations.
func (f *fixture) requestIn(t *testing.T, status Status) DemandRequest {
	t.Helper()
	ctx := context.Background()
	switch status {
	case StatusPending:
		req, err := f.svc.CreateRequest(ctx, CreateRequestInput{MaterialID: f.material.ID, Quantity: 5, Urgency: UrgencyL1})
		require.NoError(t, err)
		return req
	case StatusRejected:
		req := f.requestIn(t, StatusPending)
		req, err := f.svc.Audit(ctx, req.ID, AuditInput{Action: "reject", Remark: "duplicate"})
		require.NoError(t, err)
		return req
	case StatusApproved:
		return f.approved(t, 5)
	case StatusDispatching:
		rec := f.stock(t, "Depot "+string(status), 5)
		req := f.approved(t, 5)
		_, err := f.svc.CreateDispatchTask(ctx, CreateTaskInput{RequestID: req.ID, Allocations: []Allocation{{InventoryID: rec.ID, Quantity: 5}}})
		require.NoError(t, err)
		req, err = f.svc.GetRequest(ctx, req.ID)
		require.NoError(t, err)
		return req
	case StatusCompleted:
		req := f.requestIn(t, StatusDispatching)
		req, err := f.svc.ConfirmDelivery(ctx, req.ID, ConfirmInput{})
		require.NoError(t, err)
		return req
	}
	t.Fatalf("unknown status %s", status)
	return DemandRequest{}
}
