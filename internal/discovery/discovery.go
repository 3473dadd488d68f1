package discovery

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Registry is how the orchestrator registers itself so operators can find
// running instances. The orchestrator is the only registrant — it has no
// peers to discover, so Discover/HealthCheck exist for symmetry with the
// Consul-backed implementation and for tests.
type Registry interface {
	Register(ctx context.Context, instanceID, serviceName, hostPort string) error
	Deregister(ctx context.Context, instanceID, serviceName string) error
	Discover(ctx context.Context, serviceName string) ([]string, error)
	HealthCheck(instanceID, serviceName string) error
}

// GenerateInstanceID builds a unique instance id: serviceName + random suffix.
func GenerateInstanceID(serviceName string) string {
	return fmt.Sprintf("%s-%d", serviceName, rand.New(rand.NewSource(time.Now().UnixNano())).Int())
}
