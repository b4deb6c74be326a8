package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryuqq/fileflow/config"
	"github.com/ryuqq/fileflow/internal/core"
	"github.com/ryuqq/fileflow/internal/data"
	"github.com/ryuqq/fileflow/internal/domain/model"
)

var serviceTestNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// stubOperationRepo is an in-memory core.OperationRepository for service tests.
type stubOperationRepo struct {
	ops map[string]*model.Operation

	createCalled   int
	existing       *model.Operation
	updateCalled   int
	updateErr      error
	lastOutbox     []*model.OutboxMessage
	lastPrevStatus model.OperationStatus
	staleOps       []*model.Operation
	expiredOps     []*model.Operation
	listQuery      core.ListQuery
	listOps        []*model.Operation
}

func newStubOperationRepo() *stubOperationRepo {
	return &stubOperationRepo{ops: map[string]*model.Operation{}}
}

func (r *stubOperationRepo) CreateOrGet(ctx context.Context, params core.TransitionParams) (core.CreateOutcome, error) {
	r.createCalled++
	r.lastOutbox = params.Outbox
	if r.existing != nil {
		return core.CreateOutcome{Operation: r.existing, Created: false}, nil
	}
	r.ops[params.Operation.ID] = params.Operation
	return core.CreateOutcome{Operation: params.Operation, Created: true}, nil
}

func (r *stubOperationRepo) GetByID(ctx context.Context, id string) (*model.Operation, error) {
	op, ok := r.ops[id]
	if !ok {
		return nil, model.ErrOperationNotFound
	}
	return op, nil
}

func (r *stubOperationRepo) Update(ctx context.Context, expectedStatus model.OperationStatus, params core.TransitionParams) error {
	r.updateCalled++
	r.lastPrevStatus = expectedStatus
	r.lastOutbox = params.Outbox
	if r.updateErr != nil {
		return r.updateErr
	}
	r.ops[params.Operation.ID] = params.Operation
	return nil
}

func (r *stubOperationRepo) FindStale(ctx context.Context, q core.StaleQuery) ([]*model.Operation, error) {
	return r.staleOps, nil
}

func (r *stubOperationRepo) FindExpiredSessions(ctx context.Context, now time.Time, batchSize int) ([]*model.Operation, error) {
	return r.expiredOps, nil
}

func (r *stubOperationRepo) List(ctx context.Context, q core.ListQuery) ([]*model.Operation, error) {
	r.listQuery = q
	return r.listOps, nil
}

// stubCache records session mirror writes and deletes.
type stubCache struct {
	sets    map[string][]byte
	ttls    map[string]time.Duration
	deletes []string
	setErr  error
}

func newStubCache() *stubCache {
	return &stubCache{sets: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *stubCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.sets[key] = value
	c.ttls[key] = ttl
	return nil
}

func (c *stubCache) Delete(ctx context.Context, key string) (bool, error) {
	c.deletes = append(c.deletes, key)
	_, ok := c.sets[key]
	delete(c.sets, key)
	return ok, nil
}

// stubClock is a movable test clock for exercising backoff windows.
type stubClock struct {
	now time.Time
}

func (c *stubClock) Now() time.Time { return c.now }

func sessionConfig() config.SessionConfig {
	return config.SessionConfig{KeyPrefix: "fileflow:session:", DefaultTTL: 30 * time.Minute}
}

func newTestOperationService(t *testing.T, repo *stubOperationRepo, cache *stubCache) *OperationService {
	t.Helper()
	opts := OperationServiceOptions{
		Repo:         repo,
		Session:      sessionConfig(),
		TimeProvider: data.NewFixedTimeProvider(serviceTestNow),
	}
	if cache != nil {
		opts.Cache = cache
	}
	svc, err := NewOperationService(opts)
	require.NoError(t, err)
	return svc
}

func downloadRequest() *model.CreateOperationRequest {
	return &model.CreateOperationRequest{
		Kind:    model.KindExternalDownload,
		Payload: json.RawMessage(`{"url":"https://example.com/file.bin"}`),
	}
}

func sessionRequest(deadline time.Time) *model.CreateOperationRequest {
	return &model.CreateOperationRequest{
		Kind:     model.KindUploadSession,
		Payload:  json.RawMessage(`{"tenant_id":"t-1","file_name":"a.bin","file_size":10,"storage_key":"k"}`),
		Deadline: &deadline,
	}
}

func TestNewOperationService_RequiresRepo(t *testing.T) {
	_, err := NewOperationService(OperationServiceOptions{})
	assert.Error(t, err)
}

func TestDestinationForKind(t *testing.T) {
	assert.Equal(t, "upload-sessions", DestinationForKind(model.KindUploadSession))
	assert.Equal(t, "upload-sessions", DestinationForKind(model.KindMultipartUploadSession))
	assert.Equal(t, "external-downloads", DestinationForKind(model.KindExternalDownload))
	assert.Equal(t, "transform-requests", DestinationForKind(model.KindTransformRequest))
	assert.Equal(t, "operations", DestinationForKind(model.OperationKind("other")))
}

func TestOperationService_CreateOrGet(t *testing.T) {
	repo := newStubOperationRepo()
	svc := newTestOperationService(t, repo, nil)

	outcome, err := svc.CreateOrGet(context.Background(), downloadRequest())
	require.NoError(t, err)

	assert.True(t, outcome.Created)
	assert.Equal(t, model.StatusQueued, outcome.Operation.Status)

	// The enqueued event commits as an outbox row with the insert.
	require.Len(t, repo.lastOutbox, 1)
	assert.Equal(t, string(model.EventOperationEnqueued), repo.lastOutbox[0].EventType)
	assert.Equal(t, "external-downloads", repo.lastOutbox[0].Destination)
}

func TestOperationService_CreateOrGet_IdempotentMatch(t *testing.T) {
	repo := newStubOperationRepo()
	existing, err := model.NewOperation(downloadRequest(), serviceTestNow)
	require.NoError(t, err)
	repo.existing = existing

	cache := newStubCache()
	svc := newTestOperationService(t, repo, cache)

	outcome, err := svc.CreateOrGet(context.Background(), downloadRequest())
	require.NoError(t, err)

	assert.False(t, outcome.Created)
	assert.Equal(t, existing.ID, outcome.Operation.ID)
	// No mirror write for a matched duplicate.
	assert.Empty(t, cache.sets)
}

func TestOperationService_CreateOrGet_MirrorsSession(t *testing.T) {
	repo := newStubOperationRepo()
	cache := newStubCache()
	svc := newTestOperationService(t, repo, cache)

	deadline := serviceTestNow.Add(20 * time.Minute)
	outcome, err := svc.CreateOrGet(context.Background(), sessionRequest(deadline))
	require.NoError(t, err)

	key := "fileflow:session:" + outcome.Operation.ID
	require.Contains(t, cache.sets, key)
	// TTL tracks the deadline, not the default.
	assert.Equal(t, 20*time.Minute, cache.ttls[key])
}

func TestOperationService_CreateOrGet_MirrorFailureIsNotFatal(t *testing.T) {
	repo := newStubOperationRepo()
	cache := newStubCache()
	cache.setErr = errors.New("cache down")
	svc := newTestOperationService(t, repo, cache)

	outcome, err := svc.CreateOrGet(context.Background(), sessionRequest(serviceTestNow.Add(time.Hour)))
	require.NoError(t, err)
	assert.True(t, outcome.Created)
}

func TestOperationService_StartCompleteLifecycle(t *testing.T) {
	repo := newStubOperationRepo()
	svc := newTestOperationService(t, repo, nil)

	outcome, err := svc.CreateOrGet(context.Background(), downloadRequest())
	require.NoError(t, err)
	id := outcome.Operation.ID

	op, err := svc.Start(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, op.Status)
	assert.Equal(t, model.StatusQueued, repo.lastPrevStatus)
	require.Len(t, repo.lastOutbox, 1)
	assert.Equal(t, string(model.EventOperationStarted), repo.lastOutbox[0].EventType)

	op, err = svc.Complete(context.Background(), id, "s3://bucket/key")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, op.Status)
	assert.Equal(t, model.StatusProcessing, repo.lastPrevStatus)
}

func TestOperationService_Complete_DropsSessionMirror(t *testing.T) {
	repo := newStubOperationRepo()
	cache := newStubCache()
	svc := newTestOperationService(t, repo, cache)

	outcome, err := svc.CreateOrGet(context.Background(), sessionRequest(serviceTestNow.Add(time.Hour)))
	require.NoError(t, err)
	id := outcome.Operation.ID

	_, err = svc.Start(context.Background(), id)
	require.NoError(t, err)
	_, err = svc.Complete(context.Background(), id, "done")
	require.NoError(t, err)

	assert.Contains(t, cache.deletes, "fileflow:session:"+id)
}

func TestOperationService_Fail_RequeuesThenTerminal(t *testing.T) {
	repo := newStubOperationRepo()
	clock := &stubClock{now: serviceTestNow}
	svc, err := NewOperationService(OperationServiceOptions{
		Repo:         repo,
		TimeProvider: clock,
	})
	require.NoError(t, err)

	req := downloadRequest()
	req.MaxAttempts = 2
	outcome, err := svc.CreateOrGet(context.Background(), req)
	require.NoError(t, err)
	id := outcome.Operation.ID

	_, err = svc.Start(context.Background(), id)
	require.NoError(t, err)

	op, err := svc.Fail(context.Background(), id, "downstream 503")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, op.Status)
	require.NotNil(t, op.NextRetryAt)

	// The requeue's outbox row is deferred to the retry schedule, so the
	// consumer never sees it before the backoff window ends.
	require.Len(t, repo.lastOutbox, 1)
	assert.Equal(t, string(model.EventOperationRequeued), repo.lastOutbox[0].EventType)
	assert.Equal(t, op.NextRetryAt.UTC(), repo.lastOutbox[0].AvailableAt)

	// Starting again before the window ends is rejected.
	_, err = svc.Start(context.Background(), id)
	assert.ErrorIs(t, err, model.ErrRetryBackoffPending)

	clock.now = *op.NextRetryAt
	_, err = svc.Start(context.Background(), id)
	require.NoError(t, err)

	op, err = svc.Fail(context.Background(), id, "downstream 503 again")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, op.Status)
}

func TestOperationService_Start_InvalidTransition(t *testing.T) {
	repo := newStubOperationRepo()
	svc := newTestOperationService(t, repo, nil)

	outcome, err := svc.CreateOrGet(context.Background(), downloadRequest())
	require.NoError(t, err)
	id := outcome.Operation.ID

	_, err = svc.Start(context.Background(), id)
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), id)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestOperationService_Start_ConcurrentTransition(t *testing.T) {
	repo := newStubOperationRepo()
	svc := newTestOperationService(t, repo, nil)

	outcome, err := svc.CreateOrGet(context.Background(), downloadRequest())
	require.NoError(t, err)

	repo.updateErr = model.ErrConcurrentTransition
	_, err = svc.Start(context.Background(), outcome.Operation.ID)
	assert.ErrorIs(t, err, model.ErrConcurrentTransition)
}

func TestOperationService_Expire(t *testing.T) {
	repo := newStubOperationRepo()
	cache := newStubCache()
	svc := newTestOperationService(t, repo, cache)

	outcome, err := svc.CreateOrGet(context.Background(), sessionRequest(serviceTestNow.Add(time.Minute)))
	require.NoError(t, err)
	id := outcome.Operation.ID

	op, err := svc.Expire(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, op.Status)
	assert.Contains(t, cache.deletes, "fileflow:session:"+id)

	// Second expire is a no-op, not an error.
	updates := repo.updateCalled
	op, err = svc.Expire(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, op.Status)
	assert.Equal(t, updates, repo.updateCalled)
}

func TestOperationService_Expire_LosesRaceGracefully(t *testing.T) {
	repo := newStubOperationRepo()
	svc := newTestOperationService(t, repo, nil)

	outcome, err := svc.CreateOrGet(context.Background(), sessionRequest(serviceTestNow.Add(time.Minute)))
	require.NoError(t, err)

	repo.updateErr = model.ErrConcurrentTransition
	_, err = svc.Expire(context.Background(), outcome.Operation.ID)
	assert.NoError(t, err)
}

func TestOperationService_Expire_NotFound(t *testing.T) {
	repo := newStubOperationRepo()
	svc := newTestOperationService(t, repo, nil)

	_, err := svc.Expire(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrOperationNotFound)
}

func TestOperationService_RegisterPart(t *testing.T) {
	repo := newStubOperationRepo()
	svc := newTestOperationService(t, repo, nil)

	deadline := serviceTestNow.Add(time.Hour)
	outcome, err := svc.CreateOrGet(context.Background(), &model.CreateOperationRequest{
		Kind:     model.KindMultipartUploadSession,
		Payload:  json.RawMessage(`{"tenant_id":"t-1","file_name":"v.mp4","file_size":100,"storage_key":"k","upload_id":"u","total_parts":2}`),
		Deadline: &deadline,
	})
	require.NoError(t, err)

	op, err := svc.RegisterPart(context.Background(), outcome.Operation.ID, model.CompletedPart{PartNumber: 1, ETag: "e1"})
	require.NoError(t, err)

	payload, err := model.SessionPayload(op)
	require.NoError(t, err)
	assert.Len(t, payload.UploadedParts, 1)
	require.Len(t, repo.lastOutbox, 1)
	assert.Equal(t, string(model.EventPartUploaded), repo.lastOutbox[0].EventType)
}

func TestOperationService_List(t *testing.T) {
	repo := newStubOperationRepo()
	repo.listOps = []*model.Operation{{ID: "a"}, {ID: "b"}}
	svc := newTestOperationService(t, repo, nil)

	q := core.ListQuery{Statuses: []model.OperationStatus{model.StatusFailed}, Limit: 10}
	ops, err := svc.List(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, ops, 2)
	assert.Equal(t, q.Statuses, repo.listQuery.Statuses)
}
