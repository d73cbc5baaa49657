package lock

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	testRedisClient    *redis.Client
	testRedisContainer testcontainers.Container
	skipIntegration    bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, lock integration tests will be skipped: %v\n", containerErr)
		skipIntegration = true
	} else {
		host, err := testRedisContainer.Host(ctx)
		port, perr := testRedisContainer.MappedPort(ctx, "6379")
		if err != nil || perr != nil {
			fmt.Printf("Failed to resolve container endpoint: %v %v\n", err, perr)
			skipIntegration = true
		} else {
			testRedisClient = redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
			if err := testRedisClient.Ping(ctx).Err(); err != nil {
				fmt.Printf("Failed to ping redis: %v\n", err)
				skipIntegration = true
			}
		}
	}

	code := m.Run()

	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testRedisContainer != nil {
		_ = testRedisContainer.Terminate(ctx)
	}
	os.Exit(code)
}

func requireRedis(t *testing.T) *Manager {
	t.Helper()
	if skipIntegration {
		t.Skip("docker not available")
	}
	return New(testRedisClient, "agentchaos-test:run-lock:")
}

func TestAcquireIsExclusivePerScenario(t *testing.T) {
	m := requireRedis(t)
	ctx := context.Background()

	lease, err := m.Acquire(ctx, t.Name(), 30*time.Second)
	require.NoError(t, err)
	defer func() { _ = lease.Release(ctx) }()

	_, err = m.Acquire(ctx, t.Name(), 30*time.Second)
	assert.ErrorIs(t, err, ErrHeld)

	// A different scenario id is unaffected.
	other, err := m.Acquire(ctx, t.Name()+"-other", 30*time.Second)
	require.NoError(t, err)
	_ = other.Release(ctx)
}

func TestReleaseAllowsReacquire(t *testing.T) {
	m := requireRedis(t)
	ctx := context.Background()

	lease, err := m.Acquire(ctx, t.Name(), 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))

	again, err := m.Acquire(ctx, t.Name(), 30*time.Second)
	require.NoError(t, err)
	_ = again.Release(ctx)
}

func TestReleaseDoesNotStealSuccessorLease(t *testing.T) {
	m := requireRedis(t)
	ctx := context.Background()

	first, err := m.Acquire(ctx, t.Name(), 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, first.Release(ctx))

	second, err := m.Acquire(ctx, t.Name(), 30*time.Second)
	require.NoError(t, err)

	// Releasing the stale first lease again must not delete the second
	// holder's key.
	require.NoError(t, first.Release(ctx))
	_, err = m.Acquire(ctx, t.Name(), 30*time.Second)
	assert.ErrorIs(t, err, ErrHeld)

	_ = second.Release(ctx)
}

func TestExtendPushesExpiry(t *testing.T) {
	m := requireRedis(t)
	ctx := context.Background()

	lease, err := m.Acquire(ctx, t.Name(), time.Second)
	require.NoError(t, err)
	require.NoError(t, lease.Extend(ctx, 30*time.Second))
	_ = lease.Release(ctx)

	// Extending a released lease reports the loss.
	err = lease.Extend(ctx, time.Second)
	assert.ErrorIs(t, err, ErrHeld)
}
