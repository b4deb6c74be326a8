package config

import (
	"strings"
	"time"
)

const observabilityDefaultName = "fileflow"

// ObservabilityConfig groups metrics emission and alert fan-out settings.
// Env vars nest under OBSERVABILITY_ via the prefix on AppConfig.
type ObservabilityConfig struct {
	Metrics       ObservabilityMetricsConfig       `envPrefix:"METRICS_"`
	Notifications ObservabilityNotificationsConfig `envPrefix:"NOTIFICATIONS_"`
}

// Sanitize normalises the metrics and notification sub-configs.
func (c *ObservabilityConfig) Sanitize() {
	c.Metrics.Sanitize()
	c.Notifications.Sanitize()
}

// ObservabilityMetricsConfig controls StatsD metrics emission.
type ObservabilityMetricsConfig struct {
	Enabled       bool   `env:"ENABLED"        envDefault:"false"`
	StatsdAddress string `env:"STATSD_ADDRESS" envDefault:"127.0.0.1:8125"`
}

// Sanitize disables metrics when no address survives trimming.
func (c *ObservabilityMetricsConfig) Sanitize() {
	c.StatsdAddress = strings.TrimSpace(c.StatsdAddress)
	if c.StatsdAddress == "" {
		c.Enabled = false
	}
}

// IsEnabled reports whether metrics emission is active after sanitisation.
func (c *ObservabilityMetricsConfig) IsEnabled() bool {
	return c.Enabled && c.StatsdAddress != ""
}

// ObservabilityNotificationsConfig controls outbound failure notifications.
type ObservabilityNotificationsConfig struct {
	Enabled    bool                        `env:"ENABLED"     envDefault:"false"`
	Timeout    time.Duration               `env:"TIMEOUT"     envDefault:"5s"`
	RetryLimit int                         `env:"RETRY_LIMIT" envDefault:"3"`
	Slack      SlackNotificationConfig     `envPrefix:"SLACK_"`
	PagerDuty  PagerDutyNotificationConfig `envPrefix:"PAGERDUTY_"`
}

// Sanitize normalises notification settings. Sinks missing their delivery
// target, and every sink when the master switch is off, end up disabled.
func (c *ObservabilityNotificationsConfig) Sanitize() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	c.RetryLimit = max(c.RetryLimit, 0)

	c.Slack.sanitize()
	c.PagerDuty.sanitize()

	c.Slack.Enabled = c.Slack.Enabled && c.Enabled && c.Slack.WebhookURL != ""
	c.PagerDuty.Enabled = c.PagerDuty.Enabled && c.Enabled && c.PagerDuty.RoutingKey != ""
}

// SlackNotificationConfig configures the Slack webhook sink.
type SlackNotificationConfig struct {
	Enabled    bool   `env:"ENABLED"     envDefault:"false"`
	WebhookURL string `env:"WEBHOOK_URL"`
	Channel    string `env:"CHANNEL"`
	Username   string `env:"USERNAME"    envDefault:"fileflow"`
}

func (c *SlackNotificationConfig) sanitize() {
	c.WebhookURL = strings.TrimSpace(c.WebhookURL)
	c.Channel = strings.TrimSpace(c.Channel)
	if strings.TrimSpace(c.Username) == "" {
		c.Username = observabilityDefaultName
	}
}

// PagerDutyNotificationConfig configures the PagerDuty events sink.
type PagerDutyNotificationConfig struct {
	Enabled    bool   `env:"ENABLED"     envDefault:"false"`
	RoutingKey string `env:"ROUTING_KEY"`
	Source     string `env:"SOURCE"      envDefault:"fileflow"`
	Component  string `env:"COMPONENT"   envDefault:"fileflow"`
}

func (c *PagerDutyNotificationConfig) sanitize() {
	c.RoutingKey = strings.TrimSpace(c.RoutingKey)
	if c.Source = strings.TrimSpace(c.Source); c.Source == "" {
		c.Source = observabilityDefaultName
	}
	if c.Component = strings.TrimSpace(c.Component); c.Component == "" {
		c.Component = observabilityDefaultName
	}
}
