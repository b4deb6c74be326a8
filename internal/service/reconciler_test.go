package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryuqq/fileflow/config"
	"github.com/ryuqq/fileflow/internal/data"
	"github.com/ryuqq/fileflow/internal/domain/model"
)

func reconcilerTestConfig() config.ReconcilerConfig {
	return config.ReconcilerConfig{
		Interval:  time.Minute,
		BatchSize: 100,
		LockKey:   "fileflow:lock:reconciler",
	}
}

func newTestReconcilerService(t *testing.T, repo *stubOperationRepo, lock *fakeLock) *ReconcilerService {
	t.Helper()
	ops := newTestOperationService(t, repo, nil)
	svc, err := NewReconcilerService(ReconcilerServiceOptions{
		Operations:   ops,
		Repo:         repo,
		Lock:         lock,
		Config:       reconcilerTestConfig(),
		LockConfig:   config.LockConfig{Wait: time.Second, Lease: 30 * time.Second},
		TimeProvider: data.NewFixedTimeProvider(serviceTestNow),
	})
	require.NoError(t, err)
	return svc
}

func overdueSession(t *testing.T) *model.Operation {
	t.Helper()
	deadline := serviceTestNow.Add(-time.Minute)
	op, err := model.NewOperation(sessionRequest(deadline), serviceTestNow.Add(-time.Hour))
	require.NoError(t, err)
	op.PollEvents()
	return op
}

func TestNewReconcilerService_Validation(t *testing.T) {
	repo := newStubOperationRepo()
	ops := newTestOperationService(t, repo, nil)

	_, err := NewReconcilerService(ReconcilerServiceOptions{Repo: repo, Lock: newFakeLock()})
	assert.Error(t, err)

	_, err = NewReconcilerService(ReconcilerServiceOptions{Operations: ops, Lock: newFakeLock()})
	assert.Error(t, err)

	_, err = NewReconcilerService(ReconcilerServiceOptions{Operations: ops, Repo: repo})
	assert.Error(t, err)
}

func TestReconcilerService_ExpiresOverdueSessions(t *testing.T) {
	repo := newStubOperationRepo()
	first := overdueSession(t)
	second := overdueSession(t)
	repo.ops[first.ID] = first
	repo.ops[second.ID] = second
	repo.expiredOps = []*model.Operation{first, second}

	svc := newTestReconcilerService(t, repo, newFakeLock())

	result, err := svc.RunSweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Success)
	assert.Equal(t, model.StatusExpired, first.Status)
	assert.Equal(t, model.StatusExpired, second.Status)
}

func TestReconcilerService_ToleratesVanishedSession(t *testing.T) {
	repo := newStubOperationRepo()
	ghost := overdueSession(t)
	// Listed by the sweep query but deleted before Expire ran.
	repo.expiredOps = []*model.Operation{ghost}

	svc := newTestReconcilerService(t, repo, newFakeLock())

	result, err := svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
}

func TestReconcilerService_SettledSessionIsNoop(t *testing.T) {
	repo := newStubOperationRepo()
	settled := overdueSession(t)
	require.NoError(t, settled.Start(serviceTestNow))
	require.NoError(t, settled.Complete("done", serviceTestNow))
	settled.PollEvents()
	repo.ops[settled.ID] = settled
	repo.expiredOps = []*model.Operation{settled}

	svc := newTestReconcilerService(t, repo, newFakeLock())

	result, err := svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, model.StatusCompleted, settled.Status)
}

func TestReconcilerService_SkipsWhenLockHeldElsewhere(t *testing.T) {
	repo := newStubOperationRepo()
	repo.expiredOps = []*model.Operation{overdueSession(t)}

	lock := newFakeLock()
	lock.denyAll = true
	svc := newTestReconcilerService(t, repo, lock)

	result, err := svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Total)
}
