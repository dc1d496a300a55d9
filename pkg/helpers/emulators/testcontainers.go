// Package emulators starts throwaway containers for integration tests.
package emulators

import (
	"context"
	"fmt"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"google.golang.org/api/option"
)

// ImageContainer names the image of an emulator and the ports it listens on.
type ImageContainer struct {
	EmulatorImage    string
	EmulatorHTTPPort string
	EmulatorGRPCPort string
}

// GCImageContainer is an ImageContainer for a Google Cloud emulator.
type GCImageContainer struct {
	ImageContainer
	ProjectID string
	// SetEnvVariables exports the emulator host variable the Google client
	// libraries look for.
	SetEnvVariables bool
}

// EmulatorConnection tells a test how to reach a started emulator.
type EmulatorConnection struct {
	EmulatorAddress string
	ClientOptions   []option.ClientOption
}

// googleConnection is the connection of a Google Cloud emulator at addr.
func googleConnection(addr string) *EmulatorConnection {
	return &EmulatorConnection{
		EmulatorAddress: addr,
		ClientOptions:   []option.ClientOption{option.WithEndpoint(addr), option.WithoutAuthentication()},
	}
}

// startContainer runs req, registers its termination with t and returns the
// host:port the given container port is mapped to.
func startContainer(t *testing.T, ctx context.Context, name string, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	req.ExposedPorts = []string{fmt.Sprintf("%s/tcp", port)}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err, "failed to start %s container", name)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate %s container: %v", name, err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)
	addr := fmt.Sprintf("%s:%s", host, mapped.Port())
	t.Logf("%s container started, listening on: %s", name, addr)
	return addr
}

// gcloudEmulatorCmd starts the named gcloud emulator on port.
func gcloudEmulatorCmd(emulator, projectID, port string) []string {
	return []string{"gcloud", "beta", "emulators", emulator, "start",
		fmt.Sprintf("--project=%s", projectID),
		fmt.Sprintf("--host-port=0.0.0.0:%s", port)}
}
