package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timour/order-saga-orchestrator/internal/config"
	"github.com/timour/order-saga-orchestrator/internal/discovery/inmem"
	"github.com/timour/order-saga-orchestrator/internal/logger"
)

func testApp(registry *inmem.Registry) *App {
	return &App{
		config: config.Config{
			ServiceName: "saga-orchestrator",
			InstanceID:  "saga-orchestrator-1",
			AdminAddr:   ":8090",
		},
		log:      logger.NewLogger("app-test"),
		registry: registry,
	}
}

func TestRegisterWithDiscovery_RegistersAndIsDiscoverable(t *testing.T) {
	registry := inmem.NewRegistry()
	a := testApp(registry)

	require.NoError(t, a.registerWithDiscovery(context.Background()))
	assert.True(t, a.registered)

	addrs, err := registry.Discover(context.Background(), "saga-orchestrator")
	require.NoError(t, err)
	assert.Equal(t, []string{":8090"}, addrs)
}

func TestRegisterWithDiscovery_NilRegistryIsNoOp(t *testing.T) {
	a := testApp(nil)

	require.NoError(t, a.registerWithDiscovery(context.Background()))
	assert.False(t, a.registered)
}

func TestDeregisterFromDiscovery_RemovesInstance(t *testing.T) {
	registry := inmem.NewRegistry()
	a := testApp(registry)
	require.NoError(t, a.registerWithDiscovery(context.Background()))

	a.deregisterFromDiscovery(context.Background())

	_, err := registry.Discover(context.Background(), "saga-orchestrator")
	assert.Error(t, err)
}

func TestDeregisterFromDiscovery_NeverRegisteredIsNoOp(t *testing.T) {
	registry := inmem.NewRegistry()
	a := testApp(registry)

	a.deregisterFromDiscovery(context.Background())
}
