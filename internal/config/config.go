package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"nanabot/internal/domain"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for nanabot. Every field can come from the
// optional JSON file; the environment overrides the file.
type Config struct {
	General GeneralConfig `json:"general"`
	Discord DiscordConfig `json:"discord"`
	Relay   RelayConfig   `json:"relay"`
	Ingress IngressConfig `json:"ingress"`
	Audit   AuditConfig   `json:"audit"`
	Metrics MetricsConfig `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" validate:"oneof=debug info warn error"`
}

type DiscordConfig struct {
	Token   string `json:"token" validate:"required"`
	GuildID string `json:"guildId,omitempty" validate:"omitempty,numeric"` // optional: ignore other guilds
}

// RelayConfig configures the delete-and-repost pipeline. The target channel is
// given either by id or, for older deployments, by name.
type RelayConfig struct {
	TargetChannelID    string `json:"targetChannelId,omitempty" validate:"omitempty,numeric"`
	TargetChannelName  string `json:"targetChannelName,omitempty"`
	Persona            string `json:"persona" validate:"required,max=80"`
	RulesFile          string `json:"rulesFile,omitempty"`
	SettleDelayMs      int    `json:"settleDelayMs" validate:"gte=0,lte=10000"`
	CallTimeoutSeconds int    `json:"callTimeoutSeconds" validate:"gte=1,lte=120"`
}

// IngressConfig configures the HTTP log bridge.
type IngressConfig struct {
	Enabled            bool   `json:"enabled"`
	Host               string `json:"host"`
	Port               int    `json:"port" validate:"gte=1,lte=65535"`
	LogChannelID       string `json:"logChannelId,omitempty" validate:"omitempty,numeric"`
	Secret             string `json:"secret,omitempty"`
	MaxBodyBytes       int64  `json:"maxBodyBytes" validate:"gte=1"`
	RateLimitPerMinute int    `json:"rateLimitPerMinute" validate:"gte=0"` // 0 = unthrottled
	Burst              int    `json:"burst" validate:"gte=0"`
}

// AuditConfig configures the optional SQLite journal of relay outcomes.
type AuditConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

// MetricsConfig exposes Prometheus text metrics on the ingress server.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"startswith=/"`
}

// Route returns the relay's target route.
func (c *Config) Route() domain.Route {
	return domain.Route{ID: c.Relay.TargetChannelID, Name: c.Relay.TargetChannelName}
}

// LogRoute returns the ingress destination route.
func (c *Config) LogRoute() domain.Route {
	return domain.Route{ID: c.Ingress.LogChannelID}
}

// SettleDelay returns the pause between delete and repost.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Relay.SettleDelayMs) * time.Millisecond
}

// CallTimeout returns the bound on each external call.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Relay.CallTimeoutSeconds) * time.Second
}

// Addr returns the ingress listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Ingress.Host, c.Ingress.Port)
}

// DefaultConfigDir returns the default config directory (~/.nanabot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nanabot"
	}
	return filepath.Join(home, ".nanabot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load builds the configuration from the JSON file at path (skipped when path
// is empty) and the process environment, then validates it.
func Load(path string) (*Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment lookup.
func LoadWith(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		var err error
		if cfg, err = readFile(path, lookup); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)
	cfg.Relay.RulesFile = ExpandPath(cfg.Relay.RulesFile)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile parses the JSON file at path over Defaults without applying the
// environment overlay or validating. Used by `config set` to edit partial
// files. ${VAR} references are expanded from the process environment.
func ReadFile(path string) (*Config, error) {
	return readFile(path, os.LookupEnv)
}

func readFile(path string, lookup func(string) (string, bool)) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data), lookup))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the value lookup returns for VAR
// (os.LookupEnv when nil). Supports default values: ${VAR:-default} uses
// "default" when VAR is unset or empty.
func ExpandEnvVars(input string, lookup func(string) (string, bool)) string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := lookup(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg as indented JSON, creating the directory if needed.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON paths (relay.persona) rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the config has valid values. The returned error wraps
// domain.ErrConfig.
func Validate(cfg *Config) error {
	var errs []string

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", domain.ErrConfig, err)
		}
		for _, fe := range verrs {
			errs = append(errs, describe(fe))
		}
	}

	if cfg.Relay.TargetChannelID == "" && cfg.Relay.TargetChannelName == "" {
		errs = append(errs, "relay: one of targetChannelId (TARGET_CHANNEL_ID) or targetChannelName (TARGET_CHANNEL_NAME) is required")
	}
	if cfg.Ingress.Enabled && cfg.Ingress.LogChannelID == "" {
		errs = append(errs, "ingress.logChannelId (LOG_CHANNEL_ID) is required when the log ingress is enabled")
	}
	if cfg.Ingress.Enabled && cfg.Ingress.LogChannelID != "" && cfg.Ingress.LogChannelID == cfg.Relay.TargetChannelID {
		errs = append(errs, "ingress.logChannelId must differ from relay.targetChannelId")
	}
	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: config validation errors:\n  - %s", domain.ErrConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	path := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		if path == "discord.token" {
			return "discord.token (DISCORD_TOKEN) is required"
		}
		return path + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", path, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte", "lte", "max":
		return fmt.Sprintf("%s out of range (%s %s)", path, fe.Tag(), fe.Param())
	case "numeric":
		return path + " must be a numeric channel/guild id"
	default:
		return fmt.Sprintf("%s failed %q validation", path, fe.Tag()+paramSuffix(fe.Param()))
	}
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
