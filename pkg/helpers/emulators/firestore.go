package emulators

import (
	"context"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testFirestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	testFirestoreEmulatorPort  = "8080"
)

type FirestoreConfig struct {
	GCImageContainer
}

func GetDefaultFirestoreConfig(projectID string) FirestoreConfig {
	return FirestoreConfig{
		GCImageContainer: GCImageContainer{
			ImageContainer: ImageContainer{
				EmulatorImage:    testFirestoreEmulatorImage,
				EmulatorGRPCPort: testFirestoreEmulatorPort,
			},
			ProjectID:       projectID,
			SetEnvVariables: true,
		},
	}
}

// SetupFirestoreEmulator starts the Firestore emulator. The container is
// terminated on test cleanup.
func SetupFirestoreEmulator(t *testing.T, ctx context.Context, cfg FirestoreConfig) *EmulatorConnection {
	t.Helper()
	addr := startContainer(t, ctx, "Firestore emulator", testcontainers.ContainerRequest{
		Image:      cfg.EmulatorImage,
		Cmd:        gcloudEmulatorCmd("firestore", cfg.ProjectID, cfg.EmulatorGRPCPort),
		WaitingFor: wait.ForListeningPort(nat.Port(cfg.EmulatorGRPCPort)),
	}, cfg.EmulatorGRPCPort)

	if cfg.SetEnvVariables {
		t.Setenv("FIRESTORE_EMULATOR_HOST", addr)
	}
	return googleConnection(addr)
}
