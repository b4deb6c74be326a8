package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ryuqq/fileflow/config"
	"github.com/ryuqq/fileflow/internal/core"
	"github.com/ryuqq/fileflow/internal/data"
	"github.com/ryuqq/fileflow/internal/domain/model"
	"github.com/ryuqq/fileflow/internal/mocks"
	"github.com/ryuqq/fileflow/internal/observability/notify"
	"github.com/ryuqq/fileflow/internal/service/failurenotifier"
)

// fakeLock is an in-process core.DistributedLock for sweep tests.
type fakeLock struct {
	mu       sync.Mutex
	held     map[string]bool
	denyAll  bool
	unlocked []string
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: map[string]bool{}}
}

func (l *fakeLock) TryLock(ctx context.Context, key string, wait, lease time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.denyAll || l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLock) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	l.unlocked = append(l.unlocked, key)
	return nil
}

func (l *fakeLock) IsHeld(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}

func reaperTestConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:   time.Minute,
		StuckAfter: 10 * time.Minute,
		BatchSize:  100,
		LockKey:    "fileflow:lock:reaper",
	}
}

func newZombie(t *testing.T, status model.OperationStatus, attempts, maxAttempts int) *model.Operation {
	t.Helper()
	op, err := model.NewOperation(&model.CreateOperationRequest{
		Kind:        model.KindExternalDownload,
		Payload:     json.RawMessage(`{"url":"https://example.com"}`),
		MaxAttempts: maxAttempts,
	}, serviceTestNow.Add(-time.Hour))
	require.NoError(t, err)
	op.PollEvents()
	op.Status = status
	op.AttemptCount = attempts
	return op
}

func newTestReaperService(t *testing.T, repo *stubOperationRepo, lock *fakeLock, notifier *failurenotifier.Service) *ReaperService {
	t.Helper()
	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:            repo,
		Lock:            lock,
		Config:          reaperTestConfig(),
		LockConfig:      config.LockConfig{Wait: time.Second, Lease: 30 * time.Second},
		TimeProvider:    data.NewFixedTimeProvider(serviceTestNow),
		FailureNotifier: notifier,
	})
	require.NoError(t, err)
	return svc
}

func TestNewReaperService_Validation(t *testing.T) {
	_, err := NewReaperService(ReaperServiceOptions{Lock: newFakeLock()})
	assert.Error(t, err)

	_, err = NewReaperService(ReaperServiceOptions{Repo: newStubOperationRepo()})
	assert.Error(t, err)
}

func TestReaperService_RequeuesWithBudgetLeft(t *testing.T) {
	repo := newStubOperationRepo()
	zombie := newZombie(t, model.StatusProcessing, 1, 3)
	repo.ops[zombie.ID] = zombie
	repo.staleOps = []*model.Operation{zombie}

	svc := newTestReaperService(t, repo, newFakeLock(), nil)

	result, err := svc.RunSweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, model.StatusQueued, zombie.Status)
	assert.Equal(t, 2, zombie.AttemptCount)
	// The requeue commits an outbox row like any other transition.
	require.Len(t, repo.lastOutbox, 1)
	assert.Equal(t, string(model.EventOperationRequeued), repo.lastOutbox[0].EventType)
}

func TestReaperService_TimesOutExhaustedZombie(t *testing.T) {
	repo := newStubOperationRepo()
	zombie := newZombie(t, model.StatusProcessing, 3, 3)
	repo.ops[zombie.ID] = zombie
	repo.staleOps = []*model.Operation{zombie}

	var mu sync.Mutex
	var received []notify.OperationFailurePayload
	notifier := failurenotifier.NewService(failurenotifier.Options{
		Sinks: []failurenotifier.SinkRegistration{
			{
				Name: "capture",
				Sink: notify.SinkFunc(func(ctx context.Context, payload notify.OperationFailurePayload) error {
					mu.Lock()
					defer mu.Unlock()
					received = append(received, payload)
					return nil
				}),
			},
		},
	})

	svc := newTestReaperService(t, repo, newFakeLock(), notifier)

	result, err := svc.RunSweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Success)
	assert.Equal(t, model.StatusTimeout, zombie.Status)
	require.NotNil(t, zombie.LastError)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, zombie.ID, received[0].OperationID)
	assert.Equal(t, string(model.StatusTimeout), received[0].Status)
	assert.Equal(t, "timeout", received[0].ErrorClass)
	assert.Equal(t, notify.SeverityCritical, received[0].Severity)
}

func TestReaperService_SkipsWhenLockHeldElsewhere(t *testing.T) {
	repo := newStubOperationRepo()
	repo.staleOps = []*model.Operation{newZombie(t, model.StatusQueued, 0, 3)}

	lock := newFakeLock()
	lock.denyAll = true
	svc := newTestReaperService(t, repo, lock, nil)

	result, err := svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Total)
	assert.Zero(t, repo.updateCalled)
}

func TestReaperService_ReleasesLockAfterSweep(t *testing.T) {
	repo := newStubOperationRepo()
	lock := newFakeLock()
	svc := newTestReaperService(t, repo, lock, nil)

	_, err := svc.RunSweep(context.Background())
	require.NoError(t, err)

	assert.False(t, lock.IsHeld("fileflow:lock:reaper"))
	assert.Contains(t, lock.unlocked, "fileflow:lock:reaper")
}

func TestReaperService_LockProtocol(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockOperationRepository(ctrl)
	lock := mocks.NewMockDistributedLock(ctrl)

	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:         repo,
		Lock:         lock,
		Config:       reaperTestConfig(),
		LockConfig:   config.LockConfig{Wait: time.Second, Lease: 30 * time.Second},
		TimeProvider: data.NewFixedTimeProvider(serviceTestNow),
	})
	require.NoError(t, err)

	// The lock is taken with the configured wait and lease, and released even
	// when the batch query fails.
	gomock.InOrder(
		lock.EXPECT().
			TryLock(gomock.Any(), "fileflow:lock:reaper", time.Second, 30*time.Second).
			Return(true, nil),
		repo.EXPECT().
			FindStale(gomock.Any(), core.StaleQuery{
				Statuses:  []model.OperationStatus{model.StatusQueued, model.StatusProcessing},
				StuckFor:  10 * time.Minute,
				BatchSize: 100,
			}).
			Return(nil, errors.New("db down")),
		lock.EXPECT().
			Unlock(gomock.Any(), "fileflow:lock:reaper").
			Return(nil),
	)

	_, err = svc.RunSweep(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestReaperService_ToleratesConcurrentTransition(t *testing.T) {
	repo := newStubOperationRepo()
	zombie := newZombie(t, model.StatusProcessing, 1, 3)
	repo.ops[zombie.ID] = zombie
	repo.staleOps = []*model.Operation{zombie}
	// A worker woke up and transitioned the row first.
	repo.updateErr = model.ErrConcurrentTransition

	svc := newTestReaperService(t, repo, newFakeLock(), nil)

	result, err := svc.RunSweep(context.Background())
	// Losing the race counts as a failed row but not a sweep error.
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
}
