package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/switchboardlabs/switchboard/internal/policy"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFullDocument(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "switchboard.yaml", `
logging:
  level: debug
  format: json
metrics:
  enabled: true
queue:
  store: sqlite
  sqlitePath: /tmp/queues.db
  queues:
    outbound:
      batchSize: 5
      interval: 2s
      maxWait: 30s
models:
  claude-main:
    supportsTools: true
    supportsVision: true
    reasoningLevel: 3
    inputPrice: 3.0
    outputPrice: 15.0
    avgResponseMillis: 2500
routing:
  agents:
    main:
      mode: smart
      accounts: [claude-main]
      pinSessions: true
policies:
  default:
    type: monitor
    sourceTagging: true
  bindings:
    - channel: telegram
      account: work
      policy:
        type: filter
        denyKeywords: [spam]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != ":9090" {
		t.Fatalf("metrics defaults not applied: %+v", cfg.Metrics)
	}
	if cfg.Queue.Store != "sqlite" || cfg.Queue.SQLitePath != "/tmp/queues.db" {
		t.Fatalf("queue = %+v", cfg.Queue)
	}

	spec := cfg.Queue.Queues["outbound"]
	batch := spec.BatchConfig()
	if batch.BatchSize != 5 || batch.Interval != 2*time.Second || batch.MaxWait != 30*time.Second {
		t.Fatalf("batch config = %+v", batch)
	}

	info := cfg.Models["claude-main"].ModelInfo()
	if !info.SupportsTools || info.ReasoningLevel != 3 || info.AvgResponseTime != 2500*time.Millisecond {
		t.Fatalf("model info = %+v", info)
	}

	agent := cfg.Routing.Agents["main"].RoutingConfig()
	if string(agent.Mode) != "smart" || !agent.PinSessions {
		t.Fatalf("routing = %+v", agent)
	}

	def, err := cfg.Policies.Default.ChannelPolicy()
	if err != nil {
		t.Fatalf("default policy: %v", err)
	}
	if def.Type() != policy.TypeMonitor {
		t.Fatalf("default policy type = %s", def.Type())
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "min.yaml", "logging:\n  level: info\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Queue.Store != "file" || cfg.Queue.DataDir != "data/queues" {
		t.Fatalf("queue defaults = %+v", cfg.Queue)
	}
	if cfg.Metrics.Addr != ":9090" {
		t.Fatalf("metrics addr = %q", cfg.Metrics.Addr)
	}
}

func TestLoadIncludeMerges(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
logging:
  level: info
  format: json
queue:
  store: none
`)
	path := writeConfig(t, dir, "main.yaml", `
$include: base.yaml
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// The including file wins on conflicts; untouched keys survive the merge.
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q, include must not override the including file", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" || cfg.Queue.Store != "none" {
		t.Fatalf("merged values lost: logging=%+v queue=%+v", cfg.Logging, cfg.Queue)
	}
}

func TestIncludeDirectiveSurvivesEnvExpansion(t *testing.T) {
	// The directive key shares env reference syntax; expansion must leave it
	// alone even when a variable with that name exists.
	t.Setenv("include", "boom")
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", "queue:\n  store: none\n")
	path := writeConfig(t, dir, "main.yaml", "$include: base.yaml\nlogging:\n  level: info\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Queue.Store != "none" {
		t.Fatalf("included values missing: %+v", cfg.Queue)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "$include: b.yaml\n")
	path := writeConfig(t, dir, "b.yaml", "$include: a.yaml\n")

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("err = %v, want include cycle error", err)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("SWB_TEST_LEVEL", "warn")
	dir := t.TempDir()
	path := writeConfig(t, dir, "env.yaml", "logging:\n  level: ${SWB_TEST_LEVEL}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadJSON5(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "cfg.json5", `{
  // comments are allowed in json5
  logging: {level: "info"},
  queue: {store: "none"},
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Queue.Store != "none" {
		t.Fatalf("queue store = %q", cfg.Queue.Store)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "bad.yaml", "loggingg:\n  level: info\n")
	if _, err := Load(path); err == nil {
		t.Fatal("unknown top-level field must be rejected")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file must error")
	}
	if _, err := Load("   "); err == nil {
		t.Fatal("blank path must error")
	}
}

func TestValidateRejectsBadStore(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Queue.Store = "redis"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "queue.store") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateRejectsUnknownModelAccount(t *testing.T) {
	cfg := &Config{
		Routing: RoutingConfig{Agents: map[string]AgentRouting{
			"main": {Mode: "smart", Accounts: []string{"ghost"}},
		}},
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "unknown model account") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateRejectsBindingWithoutChannel(t *testing.T) {
	cfg := &Config{
		Policies: PoliciesConfig{Bindings: []PolicyBinding{
			{Policy: PolicySpec{Type: "echo"}},
		}},
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "channel is required") {
		t.Fatalf("err = %v", err)
	}
}

func TestPolicySpecUnknownType(t *testing.T) {
	spec := PolicySpec{Type: "teleport"}
	if _, err := spec.ChannelPolicy(); err == nil || !strings.Contains(err.Error(), "unknown policy type") {
		t.Fatalf("err = %v", err)
	}
}

func TestPolicySpecDisable(t *testing.T) {
	off := false
	spec := PolicySpec{Type: "echo", Enabled: &off}
	p, err := spec.ChannelPolicy()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Enabled() {
		t.Fatal("enabled: false must disable the policy")
	}
}

func TestPolicySpecScheduledWeekdays(t *testing.T) {
	spec := PolicySpec{Type: "scheduled", Weekdays: []string{"Mon", "wednesday", "FRI"}}
	p, err := spec.ChannelPolicy()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	sched, ok := p.(policy.Scheduled)
	if !ok {
		t.Fatalf("policy type = %T", p)
	}
	if len(sched.Weekdays) != 3 || sched.Weekdays[0] != time.Monday || sched.Weekdays[2] != time.Friday {
		t.Fatalf("weekdays = %v", sched.Weekdays)
	}

	spec.Weekdays = []string{"blursday"}
	if _, err := spec.ChannelPolicy(); err == nil {
		t.Fatal("unknown weekday must be rejected")
	}
}

func TestDurationUnmarshal(t *testing.T) {
	raw := map[string]any{"queue": map[string]any{
		"queues": map[string]any{"q": map[string]any{"interval": "90s"}},
	}}
	cfg, err := decodeRaw(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := time.Duration(cfg.Queue.Queues["q"].Interval); got != 90*time.Second {
		t.Fatalf("interval = %v", got)
	}

	raw = map[string]any{"queue": map[string]any{
		"queues": map[string]any{"q": map[string]any{"interval": "fast"}},
	}}
	if _, err := decodeRaw(raw); err == nil {
		t.Fatal("malformed duration must error")
	}
}
