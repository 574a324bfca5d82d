package config

import (
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_WaitSec_TooLow(t *testing.T) {
	cfg := Defaults()
	cfg.WaitSec = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for waitSec=0")
	}
}

func TestValidate_WaitSec_TooHigh(t *testing.T) {
	cfg := Defaults()
	cfg.WaitSec = 999
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for waitSec=999")
	}
}

func TestValidate_WaitSec_Boundary(t *testing.T) {
	cfg := Defaults()

	cfg.WaitSec = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("waitSec=1 should be valid: %v", err)
	}

	cfg.WaitSec = 300
	if err := Validate(cfg); err != nil {
		t.Fatalf("waitSec=300 should be valid: %v", err)
	}
}

func TestValidate_AccountWaitSec(t *testing.T) {
	cfg := Defaults()
	bad := 0
	cfg.Accounts = map[string]AccountOverride{"work": {WaitSec: &bad}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for accounts.work.waitSec=0")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestValidate_InvalidMetricsPort(t *testing.T) {
	cfg := Defaults()
	cfg.Metrics.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Metrics.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_InvalidPipelineMode(t *testing.T) {
	cfg := Defaults()
	cfg.Pipeline.Mode = "invalid"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid pipeline mode")
	}
}

func TestValidate_WebhookModeRequiresURL(t *testing.T) {
	cfg := Defaults()
	cfg.Pipeline.Mode = "webhook"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for webhook mode without URL")
	}

	cfg.Pipeline.WebhookURL = "http://localhost:9000/reply"
	if err := Validate(cfg); err != nil {
		t.Fatalf("webhook mode with URL should be valid: %v", err)
	}
}

func TestValidate_InvalidPairingInterval(t *testing.T) {
	cfg := Defaults()
	cfg.Pairing.ScanIntervalSec = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for scanIntervalSec=0")
	}
}

func TestValidate_InvalidRetentionDays(t *testing.T) {
	cfg := Defaults()
	cfg.Journal.RetentionDays = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for retentionDays=0")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.IP = "192.168.1.50:18888"
	original.Token = "test-token"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.IP != "192.168.1.50:18888" {
		t.Fatalf("expected '192.168.1.50:18888', got %q", loaded.IP)
	}
	if loaded.Token != "test-token" {
		t.Fatalf("expected 'test-token', got %q", loaded.Token)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"ip": "192.168.1.50:18888"}`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WaitSec != 30 {
		t.Fatalf("expected default waitSec=30, got %d", cfg.WaitSec)
	}
	if !cfg.Enabled {
		t.Fatal("expected default enabled=true")
	}
	if cfg.Pipeline.Mode != "echo" {
		t.Fatalf("expected default pipeline mode 'echo', got %q", cfg.Pipeline.Mode)
	}
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
ip: "192.168.1.50:18888"
token: yaml-token
accounts:
  work:
    waitSec: 60
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.IP != "192.168.1.50:18888" {
		t.Fatalf("expected ip from yaml, got %q", cfg.IP)
	}
	acct := cfg.Resolve("work")
	if acct.WaitSec != 60 {
		t.Fatalf("expected work waitSec=60, got %d", acct.WaitSec)
	}
	if acct.Token != "yaml-token" {
		t.Fatalf("expected inherited token, got %q", acct.Token)
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	// Invalid: waitSec=0
	content := `{"waitSec": 0}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for waitSec=0")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_WHISPLAY_TOKEN", "env-secret")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"ip": "192.168.1.50:18888",
		"token": "${TEST_WHISPLAY_TOKEN}"
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Token != "env-secret" {
		t.Fatalf("expected token 'env-secret', got %q", cfg.Token)
	}
}

// --- Resolve / ListAccounts ---

func TestResolve_TopLevelOnly(t *testing.T) {
	cfg := Defaults()
	cfg.IP = "192.168.1.50:18888"
	cfg.Token = "top-token"
	cfg.Emoji = "✨"

	acct := cfg.Resolve("default")
	if acct.ID != "default" {
		t.Fatalf("expected id 'default', got %q", acct.ID)
	}
	if acct.BaseURL != "192.168.1.50:18888" {
		t.Fatalf("unexpected base url %q", acct.BaseURL)
	}
	if acct.Token != "top-token" || acct.Emoji != "✨" {
		t.Fatal("top-level fields should flow through")
	}
	if acct.WaitSec != 30 {
		t.Fatalf("expected waitSec=30, got %d", acct.WaitSec)
	}
	if !acct.Enabled {
		t.Fatal("expected enabled=true")
	}
}

func TestResolve_OverrideWinsPerField(t *testing.T) {
	cfg := Defaults()
	cfg.IP = "192.168.1.50:18888"
	cfg.Token = "top-token"

	ip := "10.0.0.9:18888"
	wait := 60
	cfg.Accounts = map[string]AccountOverride{
		"work": {IP: &ip, WaitSec: &wait},
	}

	acct := cfg.Resolve("work")
	if acct.BaseURL != "10.0.0.9:18888" {
		t.Fatalf("override ip should win, got %q", acct.BaseURL)
	}
	if acct.WaitSec != 60 {
		t.Fatalf("override waitSec should win, got %d", acct.WaitSec)
	}
	if acct.Token != "top-token" {
		t.Fatalf("unset fields should inherit, got token %q", acct.Token)
	}
}

func TestResolve_ExplicitDisableSticks(t *testing.T) {
	cfg := Defaults()
	cfg.IP = "192.168.1.50:18888"

	off := false
	cfg.Accounts = map[string]AccountOverride{"spare": {Enabled: &off}}

	if cfg.Resolve("spare").Enabled {
		t.Fatal("explicit enabled=false should override the top-level true")
	}
}

func TestResolve_UnknownIDFallsBack(t *testing.T) {
	cfg := Defaults()
	cfg.IP = "192.168.1.50:18888"

	acct := cfg.Resolve("never-configured")
	if acct.BaseURL != "192.168.1.50:18888" {
		t.Fatalf("unknown id should resolve to top-level fields, got %q", acct.BaseURL)
	}
	if acct.ID != "never-configured" {
		t.Fatalf("resolved id should be preserved, got %q", acct.ID)
	}
}

func TestResolve_EmptyIDUsesDefault(t *testing.T) {
	cfg := Defaults()
	if got := cfg.Resolve("").ID; got != DefaultAccountID {
		t.Fatalf("expected %q, got %q", DefaultAccountID, got)
	}
}

func TestListAccounts_EmptyMapYieldsDefault(t *testing.T) {
	cfg := Defaults()
	ids := cfg.ListAccounts()
	if len(ids) != 1 || ids[0] != DefaultAccountID {
		t.Fatalf("expected [%q], got %v", DefaultAccountID, ids)
	}
}

func TestListAccounts_Sorted(t *testing.T) {
	cfg := Defaults()
	cfg.Accounts = map[string]AccountOverride{
		"zeta": {}, "alpha": {}, "mid": {},
	}
	ids := cfg.ListAccounts()
	want := []string{"alpha", "mid", "zeta"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d ids, got %d", len(want), len(ids))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "pairing.logDir")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "~/.whisplayim/logs" {
		t.Fatalf("expected '~/.whisplayim/logs', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "ip", "192.168.1.99:18888"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.IP != "192.168.1.99:18888" {
		t.Fatalf("expected '192.168.1.99:18888', got %q", cfg.IP)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "journal.enabled", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if cfg.Journal.Enabled {
		t.Fatal("expected journal.enabled=false")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "waitSec", "45"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.WaitSec != 45 {
		t.Fatalf("expected 45, got %d", cfg.WaitSec)
	}
}

func TestSetByPath_NestedAccountField(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "accounts.work.waitSec", "60"); err != nil {
		t.Fatalf("set nested: %v", err)
	}
	acct := cfg.Resolve("work")
	if acct.WaitSec != 60 {
		t.Fatalf("expected 60, got %d", acct.WaitSec)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Token = "device-token-1234567890"
	tok := "account-token-1234567890"
	cfg.Accounts = map[string]AccountOverride{"work": {Token: &tok}}
	cfg.Pipeline.WebhookToken = "webhook-token-1234567890"

	sanitized := Sanitize(cfg)

	if sanitized.Token == cfg.Token {
		t.Fatal("top-level token should be masked")
	}
	if *sanitized.Accounts["work"].Token == tok {
		t.Fatal("account token should be masked")
	}
	if sanitized.Pipeline.WebhookToken == cfg.Pipeline.WebhookToken {
		t.Fatal("webhook token should be masked")
	}
	// Verify original is untouched
	if cfg.Token != "device-token-1234567890" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Token = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Token != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Token)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	// Check some known paths exist
	for _, expected := range []string{"waitSec", "general.logLevel", "pairing.logDir", "journal.enabled"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_DEVICE_TOKEN", "tok-abc123")
	result := ExpandEnvVars(`{"token": "${TEST_DEVICE_TOKEN}"}`)
	expected := `{"token": "tok-abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	// Ensure the var is unset
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	expected := `{"port": "8080"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	result := ExpandEnvVars(`{"port": "${MY_PORT:-8080}"}`)
	expected := `{"port": "9090"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_MultipleVars(t *testing.T) {
	t.Setenv("HOST", "localhost")
	t.Setenv("PORT", "3000")
	result := ExpandEnvVars(`"${HOST}:${PORT}"`)
	expected := `"localhost:3000"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	expected := `"fallback"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_NoVarsInInput(t *testing.T) {
	input := `{"key": "value", "number": 42}`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change, got %q", result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

// --- Defaults ---

func TestDefaults_ReturnsValidConfig(t *testing.T) {
	cfg := Defaults()
	if cfg == nil {
		t.Fatal("defaults returned nil")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.WaitSec != 30 {
		t.Fatalf("default waitSec should be 30, got %d", cfg.WaitSec)
	}
	if cfg.Pairing.ScanIntervalSec != 5 {
		t.Fatalf("default scan interval should be 5s, got %d", cfg.Pairing.ScanIntervalSec)
	}
}
