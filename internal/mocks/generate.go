// Package mocks holds gomock-generated doubles for the core ports.
//
// Regenerate after changing an interface in internal/core:
//
//	go generate ./internal/mocks
package mocks

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=operation_repository_mock.go github.com/ryuqq/fileflow/internal/core OperationRepository
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=outbox_repository_mock.go github.com/ryuqq/fileflow/internal/core OutboxRepository
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=queue_publisher_mock.go github.com/ryuqq/fileflow/internal/core QueuePublisher
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=cache_repository_mock.go github.com/ryuqq/fileflow/internal/core CacheRepository
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=distributed_lock_mock.go github.com/ryuqq/fileflow/internal/core DistributedLock
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=expiration_events_mock.go github.com/ryuqq/fileflow/internal/core ExpirationEvents
