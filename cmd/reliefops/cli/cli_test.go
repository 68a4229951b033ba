package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/reliefops/reliefops/internal/inventory"
	"github.com/reliefops/reliefops/jobs"
)

type stubReconciler struct {
	report inventory.ReconcileReport
	err    error
}

func (s stubReconciler) Reconcile(context.Context) (inventory.ReconcileReport, error) {
	return s.report, s.err
}

func TestReconcileCommandJSONClean(t *testing.T) {
	c, err := NewLedgerCLI(stubReconciler{report: inventory.ReconcileReport{Records: 3, Movements: 9}})
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	code := c.ReconcileCommand(context.Background(), ReconcileOptions{JSONOutput: true, Stdout: stdout, Stderr: stderr})
	require.Zero(t, code)
	require.Empty(t, stderr.String())

	var summary ReconcileSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.True(t, summary.OK)
	require.Equal(t, 3, summary.Records)
	require.Equal(t, 9, summary.Movements)
}

func TestReconcileCommandReportsDrift(t *testing.T) {
	c, err := NewLedgerCLI(stubReconciler{report: inventory.ReconcileReport{
		Records: 2,
		Drift: []inventory.Drift{
			{InventoryID: 9, StoredQty: 5, ReplayedQty: 4},
			{InventoryID: 2, StoredLocked: 1},
		},
	}})
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	code := c.ReconcileCommand(context.Background(), ReconcileOptions{Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, ExitDrift, code)
	require.Contains(t, stdout.String(), "2 record(s) drifted")
	require.Less(t, bytes.Index(stdout.Bytes(), []byte("inventory 2:")), bytes.Index(stdout.Bytes(), []byte("inventory 9:")))
}

func TestReconcileCommandError(t *testing.T) {
	c, err := NewLedgerCLI(stubReconciler{err: errors.New("snapshot failed")})
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	code := c.ReconcileCommand(context.Background(), ReconcileOptions{Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "snapshot failed")
}

func TestNewLedgerCLIRequiresReconciler(t *testing.T) {
	_, err := NewLedgerCLI(nil)
	require.Error(t, err)
}

type stubEnqueuer struct {
	tasks []*asynq.Task
}

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (s *stubEnqueuer) Close() error { return nil }

type stubInspector map[string]*asynq.QueueInfo

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := s[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func (stubInspector) Close() error { return nil }

func TestJobsTrigger(t *testing.T) {
	enq := &stubEnqueuer{}
	c := &JobsCLI{client: enq, now: func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }}

	info, err := c.Trigger(context.Background(), jobs.TaskLedgerReconcile)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskLedgerReconcile, info.Type)
	require.Len(t, enq.tasks, 1)

	var payload jobs.LedgerReconcilePayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.True(t, payload.RequestedAt.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))

	_, err = c.Trigger(context.Background(), "unknown")
	require.ErrorContains(t, err, "unsupported job")
}

func TestJobsInspectQueues(t *testing.T) {
	c := &JobsCLI{inspector: stubInspector{
		jobs.QueueDefault: {Queue: jobs.QueueDefault, Pending: 4, Retry: 1},
	}}

	stats, err := c.InspectQueues()
	require.NoError(t, err)
	require.Equal(t, []QueueStats{
		{Queue: jobs.QueueCritical},
		{Queue: jobs.QueueDefault, Pending: 4, Retry: 1},
	}, stats)
}
