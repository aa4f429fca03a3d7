package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/switchboardlabs/switchboard/internal/observability"
	"github.com/switchboardlabs/switchboard/internal/policy"
	"github.com/switchboardlabs/switchboard/internal/queue"
	"github.com/switchboardlabs/switchboard/internal/routing"
)

// Duration decodes YAML duration strings like "5s" or "2m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the root configuration document.
type Config struct {
	Logging  observability.LogConfig `yaml:"logging"`
	Metrics  MetricsConfig           `yaml:"metrics"`
	Queue    QueueConfig             `yaml:"queue"`
	Routing  RoutingConfig           `yaml:"routing"`
	Models   map[string]ModelSpec    `yaml:"models"`
	Policies PoliciesConfig          `yaml:"policies"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// QueueConfig selects the persistence backend and per-queue batch settings.
type QueueConfig struct {
	// Store is "file", "sqlite", or "none".
	Store string `yaml:"store"`
	// DataDir holds JSON snapshots for the file store.
	DataDir string `yaml:"dataDir"`
	// SQLitePath is the database file for the sqlite store.
	SQLitePath string `yaml:"sqlitePath"`
	// Queues configures batch dispatch per queue name.
	Queues map[string]QueueSpec `yaml:"queues"`
}

// QueueSpec is the config-file shape of one queue's batch settings.
type QueueSpec struct {
	BatchSize int      `yaml:"batchSize"`
	Interval  Duration `yaml:"interval"`
	MaxWait   Duration `yaml:"maxWait"`
}

// BatchConfig converts to the queue package's runtime type.
func (s QueueSpec) BatchConfig() queue.BatchConfig {
	return queue.BatchConfig{
		BatchSize: s.BatchSize,
		Interval:  time.Duration(s.Interval),
		MaxWait:   time.Duration(s.MaxWait),
	}
}

// RoutingConfig holds per-agent routing tables.
type RoutingConfig struct {
	Agents map[string]AgentRouting `yaml:"agents"`
}

// AgentRouting is the config-file shape of one agent's routing setup.
type AgentRouting struct {
	Mode           string          `yaml:"mode"`
	Accounts       []string        `yaml:"accounts"`
	DefaultAccount string          `yaml:"defaultAccount"`
	PinSessions    bool            `yaml:"pinSessions"`
	Weights        routing.Weights `yaml:"weights"`
}

// RoutingConfig converts to the routing package's runtime type.
func (a AgentRouting) RoutingConfig() routing.Config {
	return routing.Config{
		Mode:           routing.Mode(a.Mode),
		Accounts:       a.Accounts,
		DefaultAccount: a.DefaultAccount,
		PinSessions:    a.PinSessions,
		Weights:        a.Weights,
	}
}

// ModelSpec is the static capability/pricing record for one model account.
type ModelSpec struct {
	ContextWindow     int     `yaml:"contextWindow"`
	SupportsTools     bool    `yaml:"supportsTools"`
	SupportsVision    bool    `yaml:"supportsVision"`
	ReasoningLevel    int     `yaml:"reasoningLevel"`
	InputPrice        float64 `yaml:"inputPrice"`
	OutputPrice       float64 `yaml:"outputPrice"`
	AvgResponseMillis int     `yaml:"avgResponseMillis"`
}

// ModelInfo converts to the routing package's runtime type.
func (s ModelSpec) ModelInfo() routing.ModelInfo {
	return routing.ModelInfo{
		ContextWindow:   s.ContextWindow,
		SupportsTools:   s.SupportsTools,
		SupportsVision:  s.SupportsVision,
		ReasoningLevel:  s.ReasoningLevel,
		InputPrice:      s.InputPrice,
		OutputPrice:     s.OutputPrice,
		AvgResponseTime: time.Duration(s.AvgResponseMillis) * time.Millisecond,
	}
}

// PoliciesConfig binds policies to channels and accounts.
type PoliciesConfig struct {
	// Default applies when no binding matches.
	Default  *PolicySpec     `yaml:"default"`
	Bindings []PolicyBinding `yaml:"bindings"`
}

// PolicyBinding associates one policy with a channel and optional account.
type PolicyBinding struct {
	Channel string     `yaml:"channel"`
	Account string     `yaml:"account"`
	Agent   string     `yaml:"agent"`
	Policy  PolicySpec `yaml:"policy"`
}

// RouteRuleSpec is the config-file shape of one smart-route rule.
type RouteRuleSpec struct {
	Keywords   []string `yaml:"keywords"`
	Sentiment  string   `yaml:"sentiment"`
	MinLength  int      `yaml:"minLength"`
	MaxLength  int      `yaml:"maxLength"`
	SenderType string   `yaml:"senderType"`
	Target     string   `yaml:"target"`
}

// AutoApproveSpec is one moderation auto-approve rule.
type AutoApproveSpec struct {
	Senders []string `yaml:"senders"`
}

// PolicySpec is the flat config-file shape of a channel policy. Type selects
// the variant; only that variant's fields are read.
type PolicySpec struct {
	Type    string `yaml:"type"`
	Enabled *bool  `yaml:"enabled"`

	// private
	Encrypted bool `yaml:"encrypted"`
	AllowPeek bool `yaml:"allowPeek"`

	// monitor
	SourceTagging bool   `yaml:"sourceTagging"`
	TagTemplate   string `yaml:"tagTemplate"`

	// listen-only
	RequireMention bool     `yaml:"requireMention"`
	WatchKeywords  []string `yaml:"watchKeywords"`

	// filter
	DenyKeywords     []string `yaml:"denyKeywords"`
	AllowKeywords    []string `yaml:"allowKeywords"`
	DenySenders      []string `yaml:"denySenders"`
	AllowSenders     []string `yaml:"allowSenders"`
	ActiveFrom       string   `yaml:"activeFrom"`
	ActiveUntil      string   `yaml:"activeUntil"`
	MatchMode        string   `yaml:"matchMode"`
	OnFilteredAction string   `yaml:"onFilteredAction"`
	ForwardTargets   []string `yaml:"forwardTargets"`

	// scheduled
	Weekdays       []string `yaml:"weekdays"`
	StartTime      string   `yaml:"startTime"`
	EndTime        string   `yaml:"endTime"`
	Holidays       []string `yaml:"holidays"`
	CronExpr       string   `yaml:"cronExpr"`
	OffHoursTarget string   `yaml:"offHoursTarget"`

	// forward / broadcast
	Targets        []string `yaml:"targets"`
	FilterKeywords []string `yaml:"filterKeywords"`
	Prefix         string   `yaml:"prefix"`
	DelaySeconds   int      `yaml:"delaySeconds"`

	// smart-route
	Rules         []RouteRuleSpec `yaml:"rules"`
	DefaultTarget string          `yaml:"defaultTarget"`

	// round-robin
	Channels []string `yaml:"channels"`

	// queue
	QueueID  string `yaml:"queueId"`
	Priority string `yaml:"priority"`

	// moderate
	SensitiveWords []string          `yaml:"sensitiveWords"`
	AutoApprove    []AutoApproveSpec `yaml:"autoApprove"`
}

// weekdayNames accepts both long and three-letter day names.
var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(names))
	for _, name := range names {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		out = append(out, wd)
	}
	return out, nil
}

// ChannelPolicy converts the spec to the typed policy union. Unknown types
// are a configuration error, not a runtime fallback.
func (s PolicySpec) ChannelPolicy() (policy.ChannelPolicy, error) {
	p, err := s.build()
	if err != nil {
		return nil, err
	}
	if s.Enabled != nil && !*s.Enabled {
		p = policy.Disable(p)
	}
	return p, nil
}

func (s PolicySpec) build() (policy.ChannelPolicy, error) {
	switch policy.Type(strings.ToLower(strings.TrimSpace(s.Type))) {
	case policy.TypePrivate:
		return policy.Private{Encrypted: s.Encrypted, AllowPeek: s.AllowPeek}, nil
	case policy.TypeMonitor:
		return policy.Monitor{SourceTagging: s.SourceTagging, TagTemplate: s.TagTemplate}, nil
	case policy.TypeListenOnly:
		return policy.ListenOnly{RequireMention: s.RequireMention, WatchKeywords: s.WatchKeywords}, nil
	case policy.TypeFilter:
		return policy.Filter{
			DenyKeywords:     s.DenyKeywords,
			AllowKeywords:    s.AllowKeywords,
			DenySenders:      s.DenySenders,
			AllowSenders:     s.AllowSenders,
			ActiveFrom:       s.ActiveFrom,
			ActiveUntil:      s.ActiveUntil,
			MatchMode:        s.MatchMode,
			OnFilteredAction: s.OnFilteredAction,
			ForwardTargets:   s.ForwardTargets,
		}, nil
	case policy.TypeScheduled:
		weekdays, err := parseWeekdays(s.Weekdays)
		if err != nil {
			return nil, err
		}
		return policy.Scheduled{
			Weekdays:       weekdays,
			StartTime:      s.StartTime,
			EndTime:        s.EndTime,
			Holidays:       s.Holidays,
			CronExpr:       s.CronExpr,
			OffHoursTarget: s.OffHoursTarget,
		}, nil
	case policy.TypeForward:
		return policy.Forward{
			Targets:        s.Targets,
			FilterKeywords: s.FilterKeywords,
			Prefix:         s.Prefix,
			DelaySeconds:   s.DelaySeconds,
		}, nil
	case policy.TypeSmartRoute:
		rules := make([]policy.RouteRule, 0, len(s.Rules))
		for _, r := range s.Rules {
			rules = append(rules, policy.RouteRule{
				Keywords:   r.Keywords,
				Sentiment:  r.Sentiment,
				MinLength:  r.MinLength,
				MaxLength:  r.MaxLength,
				SenderType: r.SenderType,
				Target:     r.Target,
			})
		}
		return policy.SmartRoute{Rules: rules, DefaultTarget: s.DefaultTarget}, nil
	case policy.TypeBroadcast:
		return policy.Broadcast{Targets: s.Targets, Prefix: s.Prefix}, nil
	case policy.TypeRoundRobin:
		return policy.RoundRobin{Channels: s.Channels}, nil
	case policy.TypeQueue:
		return policy.Queue{QueueID: s.QueueID, Priority: s.Priority}, nil
	case policy.TypeModerate:
		rules := make([]policy.AutoApproveRule, 0, len(s.AutoApprove))
		for _, r := range s.AutoApprove {
			rules = append(rules, policy.AutoApproveRule{Senders: r.Senders})
		}
		return policy.Moderate{SensitiveWords: s.SensitiveWords, AutoApprove: rules}, nil
	case policy.TypeEcho:
		return policy.Echo{}, nil
	default:
		return nil, fmt.Errorf("unknown policy type %q", s.Type)
	}
}

// applyDefaults fills zero-value config sections in place.
func (c *Config) applyDefaults() {
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Queue.Store == "" {
		c.Queue.Store = "file"
	}
	if c.Queue.DataDir == "" {
		c.Queue.DataDir = "data/queues"
	}
	if c.Queue.SQLitePath == "" {
		c.Queue.SQLitePath = "data/queues.db"
	}
}

// Validate checks the whole document after decode, returning a structured
// error for the first problem found.
func (c *Config) Validate() error {
	switch c.Queue.Store {
	case "file", "sqlite", "none":
	default:
		return fmt.Errorf("queue.store must be file, sqlite, or none; got %q", c.Queue.Store)
	}

	for agentID, agent := range c.Routing.Agents {
		cfg := agent.RoutingConfig()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("routing.agents.%s: %w", agentID, err)
		}
		for _, account := range cfg.Accounts {
			if _, ok := c.Models[account]; !ok {
				return fmt.Errorf("routing.agents.%s references unknown model account %q", agentID, account)
			}
		}
	}

	if c.Policies.Default != nil {
		if _, err := c.Policies.Default.ChannelPolicy(); err != nil {
			return fmt.Errorf("policies.default: %w", err)
		}
	}
	for i, binding := range c.Policies.Bindings {
		if strings.TrimSpace(binding.Channel) == "" {
			return fmt.Errorf("policies.bindings[%d]: channel is required", i)
		}
		if _, err := binding.Policy.ChannelPolicy(); err != nil {
			return fmt.Errorf("policies.bindings[%d]: %w", i, err)
		}
	}
	return nil
}
