package config

import (
	"fmt"
	"strconv"
	"strings"

	"nanabot/internal/domain"
)

// Environment variables read by ApplyEnv.
const (
	EnvToken             = "DISCORD_TOKEN"
	EnvGuildID           = "DISCORD_GUILD_ID"
	EnvTargetChannelID   = "TARGET_CHANNEL_ID"
	EnvTargetChannelName = "TARGET_CHANNEL_NAME"
	EnvLogChannelID      = "LOG_CHANNEL_ID"
	EnvPort              = "PORT"
	EnvSecret            = "LOG_SECRET"
	EnvIngressEnabled    = "INGRESS_ENABLED"
	EnvRulesFile         = "RULES_FILE"
	EnvSettleDelayMs     = "SETTLE_DELAY_MS"
	EnvLogLevel          = "LOG_LEVEL"
	EnvAuditDB           = "AUDIT_DB"
	EnvMetricsEnabled    = "METRICS_ENABLED"
)

// ApplyEnv overlays environment settings onto cfg. Unset or empty variables
// leave the current value alone.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(name)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	strs := []struct {
		name string
		dst  *string
	}{
		{EnvToken, &cfg.Discord.Token},
		{EnvGuildID, &cfg.Discord.GuildID},
		{EnvTargetChannelID, &cfg.Relay.TargetChannelID},
		{EnvTargetChannelName, &cfg.Relay.TargetChannelName},
		{EnvLogChannelID, &cfg.Ingress.LogChannelID},
		{EnvSecret, &cfg.Ingress.Secret},
		{EnvRulesFile, &cfg.Relay.RulesFile},
		{EnvLogLevel, &cfg.General.LogLevel},
	}
	for _, s := range strs {
		if v, ok := get(s.name); ok {
			*s.dst = v
		}
	}
	cfg.General.LogLevel = strings.ToLower(cfg.General.LogLevel)

	if v, ok := get(EnvPort); ok {
		n, err := parseEnvInt(EnvPort, v)
		if err != nil {
			return err
		}
		cfg.Ingress.Port = n
	}
	if v, ok := get(EnvSettleDelayMs); ok {
		n, err := parseEnvInt(EnvSettleDelayMs, v)
		if err != nil {
			return err
		}
		cfg.Relay.SettleDelayMs = n
	}
	if v, ok := get(EnvIngressEnabled); ok {
		b, err := parseEnvBool(EnvIngressEnabled, v)
		if err != nil {
			return err
		}
		cfg.Ingress.Enabled = b
	}
	if v, ok := get(EnvMetricsEnabled); ok {
		b, err := parseEnvBool(EnvMetricsEnabled, v)
		if err != nil {
			return err
		}
		cfg.Metrics.Enabled = b
	}
	if v, ok := get(EnvAuditDB); ok {
		cfg.Audit.Enabled = true
		cfg.Audit.DBPath = v
	}
	return nil
}

func parseEnvInt(name, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", domain.ErrConfig, name, v)
	}
	return n, nil
}

func parseEnvBool(name, v string) (bool, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean, got %q", domain.ErrConfig, name, v)
	}
	return b, nil
}
