package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reliefops/reliefops/internal/shared"
)

func TestMemoryTxRollbackDiscardsWrites(t *testing.T) {
	svc, repo, m := newTestService(t)
	ctx := context.Background()

	a, err := svc.Inbound(ctx, InboundInput{MaterialID: m.ID, Location: "A", Qty: 10})
	require.NoError(t, err)

	boom := errors.New("disk full")
	repo.beforeSave = func(rec Record) error {
		if rec.Location == "B" {
			return boom
		}
		return nil
	}
	_, err = svc.Transfer(ctx, TransferInput{MaterialID: m.ID, From: "A", To: "B", Qty: 4})
	require.ErrorIs(t, err, boom)
	repo.beforeSave = nil

	after, err := svc.GetRecord(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, a, after)

	movements, err := svc.ListMovements(ctx, MovementFilter{MaterialID: m.ID})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Zero(t, repo.rows.Held())
}

func TestMemoryRollbackForgetsReservedRecords(t *testing.T) {
	svc, repo, m := newTestService(t)
	ctx := context.Background()

	_, err := svc.Transfer(ctx, TransferInput{MaterialID: m.ID, From: "Zeta", To: "Alpha", Qty: 3})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	records, err := svc.Query(ctx, m.ID)
	require.NoError(t, err)
	require.Empty(t, records)
	require.Empty(t, repo.reserved)
	require.Zero(t, repo.rows.Held())

	require.NoError(t, svc.DeleteMaterial(ctx, m.ID, 0))
}

func TestMemoryReservationSurvivesOtherRollback(t *testing.T) {
	_, repo, m := newTestService(t)
	ctx := context.Background()

	entered := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if _, err := tx.EnsureRecordForUpdate(ctx, m.ID, "Alpha", 10); err != nil {
				return err
			}
			close(entered)
			time.Sleep(20 * time.Millisecond)
			return errors.New("abort")
		})
	}()
	<-entered

	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.EnsureRecordForUpdate(ctx, m.ID, "Alpha", 10)
		if err != nil {
			return err
		}
		rec.Quantity = 4
		if _, err := tx.SaveRecord(ctx, rec); err != nil {
			return err
		}
		return tx.InsertMovement(ctx, Movement{Type: MovementInbound, MaterialID: m.ID, InventoryID: rec.ID, Location: "Alpha", Quantity: 4})
	})
	require.NoError(t, err)
	require.EqualError(t, <-done, "abort")

	require.Empty(t, repo.reserved)
	require.Len(t, repo.byKey, 1)
	require.ErrorIs(t, repo.DeleteMaterial(ctx, m.ID), ErrMaterialInUse)
}

func TestMemoryLockWaitHonoursDeadline(t *testing.T) {
	_, repo, m := newTestService(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if _, err := tx.EnsureRecordForUpdate(ctx, m.ID, "A", DefaultAlertThreshold); err != nil {
				return err
			}
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := repo.WithTx(waitCtx, func(ctx context.Context, tx TxRepository) error {
		_, err := tx.EnsureRecordForUpdate(ctx, m.ID, "A", DefaultAlertThreshold)
		return err
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)
	records, err := repo.RecordsByMaterial(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestMemorySnapshotSkipsUncommittedRecords(t *testing.T) {
	_, repo, m := newTestService(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			rec, err := tx.EnsureRecordForUpdate(ctx, m.ID, "A", DefaultAlertThreshold)
			if err != nil {
				return err
			}
			rec.Quantity = 50
			if _, err := tx.SaveRecord(ctx, rec); err != nil {
				return err
			}
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	records, err := repo.RecordsByMaterial(ctx, m.ID)
	require.NoError(t, err)
	require.Empty(t, records)

	close(release)
	require.NoError(t, <-done)
	records, err = repo.RecordsByMaterial(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, int64(50), records[0].Quantity)
}

func TestMemorySaveRejectsBrokenInvariant(t *testing.T) {
	_, repo, m := newTestService(t)
	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.EnsureRecordForUpdate(ctx, m.ID, "A", DefaultAlertThreshold)
		if err != nil {
			return err
		}
		rec.LockedQuantity = 1
		_, err = tx.SaveRecord(ctx, rec)
		return err
	})
	require.Error(t, err)
	require.Zero(t, repo.rows.Held())
}
