package config

import "nanabot/internal/relay"

// Defaults returns the built-in configuration. It is not valid on its own:
// the bot token and target channel must come from the file or environment.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Relay: RelayConfig{
			Persona:            relay.DefaultPersona,
			SettleDelayMs:      int(relay.DefaultSettleDelay.Milliseconds()),
			CallTimeoutSeconds: int(relay.DefaultCallTimeout.Seconds()),
		},
		Ingress: IngressConfig{
			Enabled:            true,
			Host:               "",
			Port:               5000,
			MaxBodyBytes:       1 << 20,
			RateLimitPerMinute: 120,
			Burst:              10,
		},
		Audit: AuditConfig{
			Enabled: false,
			DBPath:  "~/.nanabot/audit.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
		},
	}
}
