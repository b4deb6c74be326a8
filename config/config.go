package config

import (
	"os"
	"strings"
)

// AppConfig is the root configuration, assembled from the per-concern
// structs in database.go, services.go, and observability.go. Values come
// from environment variables via github.com/caarlos0/env.
type AppConfig struct {
	// IsDev switches development-mode behaviour such as log level.
	IsDev bool `env:"DEV" envDefault:"false"`

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Services selects which workers this instance runs, comma-delimited:
	// outbox-publisher, reaper, session-reconciler, expiration-listener.
	Services string `env:"SERVICES" envDefault:"outbox-publisher,reaper,session-reconciler,expiration-listener"`

	Outbox     OutboxConfig
	Reaper     ReaperConfig
	Reconciler ReconcilerConfig
	Session    SessionConfig
	Lock       LockConfig
	Queue      QueueConfig

	Observability ObservabilityConfig `envPrefix:"OBSERVABILITY_"`
}

// Sanitize normalises every sub-config after env parsing.
func (c *AppConfig) Sanitize() {
	c.Outbox.Sanitize()
	c.Reaper.Sanitize()
	c.Reconciler.Sanitize()
	c.Session.Sanitize()
	c.Lock.Sanitize()
	c.Queue.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode also honours APP_ENV=development for setups that do not
// set DEV explicitly.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices parses the Services field into a mode set.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsOutboxPublisherEnabled reports whether this instance runs the outbox
// publisher. An unparseable Services value enables nothing.
func (c *AppConfig) IsOutboxPublisherEnabled() bool {
	return c.hasMode(ServiceModeOutboxPublisher)
}

func (c *AppConfig) IsReaperEnabled() bool {
	return c.hasMode(ServiceModeReaper)
}

func (c *AppConfig) IsSessionReconcilerEnabled() bool {
	return c.hasMode(ServiceModeSessionReconciler)
}

func (c *AppConfig) IsExpirationListenerEnabled() bool {
	return c.hasMode(ServiceModeExpirationListener)
}

func (c *AppConfig) hasMode(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}
