// Package config loads the orchestrator's process configuration from the
// environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"

	"github.com/timour/order-saga-orchestrator/internal/discovery"
)

// Config holds every tunable the orchestrator reads from its environment.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"saga-orchestrator"`
	InstanceID  string `env:"INSTANCE_ID"`

	DatabaseURL string `env:"DATABASE_URL"`

	PollIntervalMS         int `env:"POLL_INTERVAL_MS" envDefault:"5000"`
	MaxRetryAttempts       int `env:"MAX_RETRY_ATTEMPTS" envDefault:"5"`
	RetryBaseDelayMS       int `env:"RETRY_BASE_DELAY_MS" envDefault:"1000"`
	RetryBackoffMultiplier int `env:"RETRY_BACKOFF_MULTIPLIER" envDefault:"4"`
	ClaimBatchSize         int `env:"CLAIM_BATCH_SIZE" envDefault:"10"`

	OrdersServiceURL    string `env:"ORDERS_SERVICE_URL" envDefault:"http://localhost:8081"`
	InventoryServiceURL string `env:"INVENTORY_SERVICE_URL" envDefault:"http://localhost:8082"`
	PaymentsServiceURL  string `env:"PAYMENTS_SERVICE_URL" envDefault:"http://localhost:8083"`

	AdminAddr  string `env:"ADMIN_ADDR" envDefault:":8090"`
	ConsulAddr string `env:"CONSUL_ADDR"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
}

// Load parses Config from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = discovery.GenerateInstanceID(cfg.ServiceName)
	}
	return cfg, nil
}
