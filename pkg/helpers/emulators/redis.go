package emulators

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testRedisImage = "redis:7-alpine"
	testRedisPort  = "6379"
)

func GetDefaultRedisImageContainer() ImageContainer {
	return ImageContainer{
		EmulatorImage:    testRedisImage,
		EmulatorGRPCPort: testRedisPort,
	}
}

// SetupRedisContainer starts a Redis server. The container is terminated on
// test cleanup.
func SetupRedisContainer(t *testing.T, ctx context.Context, cfg ImageContainer) *EmulatorConnection {
	t.Helper()
	addr := startContainer(t, ctx, "Redis", testcontainers.ContainerRequest{
		Image:      cfg.EmulatorImage,
		WaitingFor: wait.ForLog("Ready to accept connections"),
	}, cfg.EmulatorGRPCPort)
	return &EmulatorConnection{EmulatorAddress: addr}
}
