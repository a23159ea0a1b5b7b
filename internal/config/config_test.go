package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nanabot/internal/domain"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func validConfig() *Config {
	cfg := Defaults()
	cfg.Discord.Token = "bot-token-1234567890"
	cfg.Relay.TargetChannelID = "111"
	cfg.Ingress.LogChannelID = "222"
	return cfg
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_DefaultsAloneInvalid(t *testing.T) {
	err := Validate(Defaults())
	if err == nil {
		t.Fatal("defaults have no token or channel and must not validate")
	}
	if !errors.Is(err, domain.ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
	for _, want := range []string{"DISCORD_TOKEN", "TARGET_CHANNEL_ID", "LOG_CHANNEL_ID"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestValidate_TargetByName(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.TargetChannelID = ""
	cfg.Relay.TargetChannelName = "nana"
	if err := Validate(cfg); err != nil {
		t.Fatalf("name-only target should be valid: %v", err)
	}
}

func TestValidate_NonNumericChannelID(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.TargetChannelID = "general"
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "relay.targetChannelId") {
		t.Fatalf("expected targetChannelId error, got %v", err)
	}
}

func TestValidate_IngressDisabledNeedsNoLogChannel(t *testing.T) {
	cfg := validConfig()
	cfg.Ingress.Enabled = false
	cfg.Ingress.LogChannelID = ""
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_LogChannelSameAsTarget(t *testing.T) {
	cfg := validConfig()
	cfg.Ingress.LogChannelID = cfg.Relay.TargetChannelID
	if err := Validate(cfg); err == nil {
		t.Fatal("log channel equal to relay target should be rejected")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.Ingress.Port = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port 0")
	}

	cfg.Ingress.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.General.LogLevel = "loud"
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "general.logLevel must be one of") {
		t.Fatalf("expected logLevel error, got %v", err)
	}
}

func TestValidate_SettleDelayBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.SettleDelayMs = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("negative settle delay should be rejected")
	}
	cfg.Relay.SettleDelayMs = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("zero settle delay should be valid: %v", err)
	}
}

func TestValidate_AuditNeedsPath(t *testing.T) {
	cfg := validConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DBPath = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for audit without dbPath")
	}
}

// --- Env ---

func TestLoadWith_EnvOnly(t *testing.T) {
	cfg, err := LoadWith("", envMap(map[string]string{
		EnvToken:           "tok",
		EnvTargetChannelID: "111",
		EnvLogChannelID:    "222",
		EnvSecret:          "s3cret",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Discord.Token != "tok" || cfg.Ingress.Secret != "s3cret" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.Ingress.Port != 5000 {
		t.Errorf("expected default port 5000, got %d", cfg.Ingress.Port)
	}
	if cfg.Route().ID != "111" || cfg.LogRoute().ID != "222" {
		t.Errorf("unexpected routes %v %v", cfg.Route(), cfg.LogRoute())
	}
}

func TestLoadWith_MissingTokenFails(t *testing.T) {
	_, err := LoadWith("", envMap(map[string]string{
		EnvTargetChannelID: "111",
		EnvLogChannelID:    "222",
	}))
	if !errors.Is(err, domain.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestApplyEnv_Port(t *testing.T) {
	cfg := Defaults()
	if err := ApplyEnv(cfg, envMap(map[string]string{EnvPort: "8081"})); err != nil {
		t.Fatal(err)
	}
	if cfg.Ingress.Port != 8081 || cfg.Addr() != ":8081" {
		t.Errorf("got port %d addr %q", cfg.Ingress.Port, cfg.Addr())
	}
}

func TestApplyEnv_BadPort(t *testing.T) {
	err := ApplyEnv(Defaults(), envMap(map[string]string{EnvPort: "http"}))
	if !errors.Is(err, domain.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestApplyEnv_EmptyValuesIgnored(t *testing.T) {
	cfg := Defaults()
	cfg.Discord.Token = "from-file"
	if err := ApplyEnv(cfg, envMap(map[string]string{EnvToken: "  ", EnvPort: ""})); err != nil {
		t.Fatal(err)
	}
	if cfg.Discord.Token != "from-file" || cfg.Ingress.Port != 5000 {
		t.Errorf("empty env values should not override: %+v", cfg)
	}
}

func TestApplyEnv_Toggles(t *testing.T) {
	cfg := Defaults()
	err := ApplyEnv(cfg, envMap(map[string]string{
		EnvIngressEnabled: "false",
		EnvMetricsEnabled: "true",
		EnvAuditDB:        "/tmp/audit.db",
		EnvLogLevel:       "DEBUG",
		EnvSettleDelayMs:  "0",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ingress.Enabled || !cfg.Metrics.Enabled || !cfg.Audit.Enabled {
		t.Errorf("toggles not applied: %+v", cfg)
	}
	if cfg.Audit.DBPath != "/tmp/audit.db" || cfg.General.LogLevel != "debug" || cfg.SettleDelay() != 0 {
		t.Errorf("unexpected values: %+v", cfg)
	}
}

func TestApplyEnv_BadBool(t *testing.T) {
	if err := ApplyEnv(Defaults(), envMap(map[string]string{EnvIngressEnabled: "maybe"})); err == nil {
		t.Fatal("expected error for invalid bool")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	original := validConfig()
	original.Relay.Persona = "Echo"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadWith(path, envMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Relay.Persona != "Echo" {
		t.Fatalf("expected 'Echo', got %q", loaded.Relay.Persona)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, validConfig()); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadWith(path, envMap(map[string]string{EnvTargetChannelID: "999"}))
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Relay.TargetChannelID != "999" {
		t.Errorf("env should override file, got %q", loaded.Relay.TargetChannelID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := LoadWith("/nonexistent/path/config.json", envMap(nil)); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestReadFile_PartialFileNotValidated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.json")
	if err := os.WriteFile(path, []byte(`{"relay":{"persona":"Echo"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if cfg.Relay.Persona != "Echo" {
		t.Errorf("expected persona from file, got %q", cfg.Relay.Persona)
	}
	if cfg.Ingress.Port != 5000 {
		t.Errorf("defaults should fill missing fields, got port %d", cfg.Ingress.Port)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	if _, err := LoadWith(path, envMap(nil)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_FileEnvExpansion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
  "discord": {"token": "${NANABOT_TEST_TOKEN}"},
  "relay": {"targetChannelId": "111", "persona": "${NANABOT_TEST_PERSONA:-Nana}"},
  "ingress": {"logChannelId": "222"}
}`
	os.WriteFile(path, []byte(data), 0o644)

	cfg, err := LoadWith(path, envMap(map[string]string{"NANABOT_TEST_TOKEN": "expanded-token"}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Discord.Token != "expanded-token" {
		t.Errorf("got token %q", cfg.Discord.Token)
	}
	if cfg.Relay.Persona != "Nana" {
		t.Errorf("got persona %q", cfg.Relay.Persona)
	}
	// Unset fields keep their defaults.
	if cfg.Ingress.Port != 5000 || cfg.Relay.CallTimeoutSeconds != 10 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoad_FileExpansionIgnoresProcessEnv(t *testing.T) {
	t.Setenv("NANABOT_TEST_PERSONA", "FromProcess")
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
  "discord": {"token": "tok"},
  "relay": {"targetChannelId": "111", "persona": "${NANABOT_TEST_PERSONA:-Nana}"},
  "ingress": {"logChannelId": "222"}
}`
	os.WriteFile(path, []byte(data), 0o644)

	cfg, err := LoadWith(path, envMap(nil))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Relay.Persona != "Nana" {
		t.Errorf("file expansion should read the injected env only, got %q", cfg.Relay.Persona)
	}
}

func TestExpandEnvVars_KeepsUnknown(t *testing.T) {
	if got := ExpandEnvVars("${NANABOT_SURELY_UNSET_VAR}", envMap(nil)); got != "${NANABOT_SURELY_UNSET_VAR}" {
		t.Errorf("got %q", got)
	}
}

func TestExpandEnvVars_NilLookupUsesProcessEnv(t *testing.T) {
	t.Setenv("NANABOT_TEST_EXPAND", "yes")
	if got := ExpandEnvVars("a=${NANABOT_TEST_EXPAND}", nil); got != "a=yes" {
		t.Errorf("got %q", got)
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	val, err := GetByPath(Defaults(), "relay.persona")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "NanaWebhook" {
		t.Fatalf("expected 'NanaWebhook', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	if _, err := GetByPath(Defaults(), "nonexistent.path"); err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_String(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "relay.persona", "Echo"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Relay.Persona != "Echo" {
		t.Fatalf("expected 'Echo', got %q", cfg.Relay.Persona)
	}
}

func TestSetByPath_NumericLookingID(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "relay.targetChannelId", "123456789012345678"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Relay.TargetChannelID != "123456789012345678" {
		t.Fatalf("got %q", cfg.Relay.TargetChannelID)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "ingress.enabled", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if cfg.Ingress.Enabled {
		t.Fatal("expected ingress.enabled=false")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "ingress.port", "8080"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Ingress.Port != 8080 {
		t.Fatalf("expected 8080, got %d", cfg.Ingress.Port)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Ingress.Secret = "hunter2"

	sanitized := Sanitize(cfg)

	if sanitized.Discord.Token == cfg.Discord.Token {
		t.Fatal("discord token should be masked")
	}
	if !strings.HasPrefix(sanitized.Discord.Token, "bot-") {
		t.Errorf("mask should keep a prefix, got %q", sanitized.Discord.Token)
	}
	if sanitized.Ingress.Secret != "***" {
		t.Errorf("secret should be masked, got %q", sanitized.Ingress.Secret)
	}
	if cfg.Discord.Token != "bot-token-1234567890" {
		t.Error("Sanitize must not modify the original")
	}
}

func TestMaskString(t *testing.T) {
	if maskString("short") != "***" {
		t.Error("short strings should be fully masked")
	}
	if got := maskString("abcdefghijkl"); got != "abcd****ijkl" {
		t.Errorf("got %q", got)
	}
}
