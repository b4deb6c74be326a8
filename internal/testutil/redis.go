package testutil

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SetupTestRedis returns a client bound to a reserved test database on the
// local test Redis, flushed before use. Tests skip when no Redis answers
// unless TEST_REQUIRE_REDIS / TEST_REQUIRE_INFRA is set.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	addr, ok := findTestRedis(t)
	if !ok {
		if requireRedis() {
			t.Fatal("redis required but not available for testing")
		}
		t.Skip("redis not available for testing")
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   reserveRedisDB(t, addr),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		closeQuiet(t, "redis client", client)
		if requireRedis() {
			t.Fatalf("redis required but not available at %s: %v", addr, err)
		}
		t.Skipf("redis not available at %s: %v", addr, err)
	}

	client.FlushDB(ctx)
	return client
}

// findTestRedis probes REDIS_ADDR, then the common CI addresses, then the
// local compose port.
func findTestRedis(t TestingTB) (string, bool) {
	t.Helper()

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr, redisAnswers(t, addr)
	}
	for _, addr := range []string{"redis:6379", "localhost:6379", "localhost:56379"} {
		if redisAnswers(t, addr) {
			return addr, true
		}
	}
	return "localhost:56379", false
}

func redisAnswers(t TestingTB, addr string) bool {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer closeQuiet(t, "redis probe client", client)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Logf("redis not available at %s: %v", addr, err)
		return false
	}
	return true
}

// reserveRedisDB picks a database index in [1..15] for this test package so
// concurrent packages flushing their DBs never collide. Reservations live as
// SETNX locks in DB 0, which test flushes never touch. TEST_REDIS_DB
// overrides the selection.
func reserveRedisDB(t TestingTB, addr string) int {
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
		t.Logf("invalid TEST_REDIS_DB=%q, auto-selecting", v)
	}

	meta := redis.NewClient(&redis.Options{Addr: addr, DB: 0})
	defer closeQuiet(t, "redis meta client", meta)

	token := fmt.Sprintf("%d:%d", os.Getpid(), time.Now().UnixNano())
	for i := 1; i <= 15; i++ {
		lockKey := fmt.Sprintf("fileflow:testutil:db_lock:%d", i)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		ok, err := meta.SetNX(ctx, lockKey, token, 30*time.Minute).Result()
		cancel()
		if err != nil || !ok {
			continue
		}

		onCleanup(t, func() { releaseRedisDB(t, addr, lockKey) })
		t.Logf("using redis db=%d for tests at %s", i, addr)
		return i
	}

	t.Logf("all redis db reservations taken at %s, falling back to db=1", addr)
	return 1
}

func releaseRedisDB(t TestingTB, addr, lockKey string) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 0})
	defer closeQuiet(t, "redis release client", client)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Del(ctx, lockKey).Err(); err != nil {
		t.Logf("warning: release redis db lock %s: %v", lockKey, err)
	}
}
