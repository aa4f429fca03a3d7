// Package policy implements the per-channel message policy engine: a typed
// registry of channel policies and the decision engine that evaluates them.
package policy

import "time"

// Type identifies a policy variant.
type Type string

const (
	TypePrivate    Type = "private"
	TypeMonitor    Type = "monitor"
	TypeListenOnly Type = "listen-only"
	TypeFilter     Type = "filter"
	TypeScheduled  Type = "scheduled"
	TypeForward    Type = "forward"
	TypeSmartRoute Type = "smart-route"
	TypeBroadcast  Type = "broadcast"
	TypeRoundRobin Type = "round-robin"
	TypeQueue      Type = "queue"
	TypeModerate   Type = "moderate"
	TypeEcho       Type = "echo"
)

// ChannelPolicy is the closed union of policy variants. Exactly one struct in
// this package implements it per variant; the sealed marker keeps external
// packages from adding variants, so Evaluate's switch stays exhaustive.
type ChannelPolicy interface {
	Type() Type
	Enabled() bool
	sealedPolicy()
}

// base carries the shared enabled flag. The field is inverted so a zero
// policy literal is active; use Disable to turn a policy off without
// unbinding it.
type base struct {
	Disabled bool
}

func (b base) Enabled() bool { return !b.Disabled }
func (base) sealedPolicy()   {}

// Disable returns a copy of p with the enabled flag cleared.
func Disable(p ChannelPolicy) ChannelPolicy {
	switch v := p.(type) {
	case Private:
		v.Disabled = true
		return v
	case Monitor:
		v.Disabled = true
		return v
	case ListenOnly:
		v.Disabled = true
		return v
	case Filter:
		v.Disabled = true
		return v
	case Scheduled:
		v.Disabled = true
		return v
	case Forward:
		v.Disabled = true
		return v
	case SmartRoute:
		v.Disabled = true
		return v
	case Broadcast:
		v.Disabled = true
		return v
	case RoundRobin:
		v.Disabled = true
		return v
	case Queue:
		v.Disabled = true
		return v
	case Moderate:
		v.Disabled = true
		return v
	case Echo:
		v.Disabled = true
		return v
	default:
		return p
	}
}

// Private always allows; encryption and peek flags travel as metadata only.
type Private struct {
	base
	Encrypted bool
	AllowPeek bool
}

func (Private) Type() Type { return TypePrivate }

// Monitor always allows and can annotate the message with a source tag.
type Monitor struct {
	base
	// SourceTagging enables tag prefixing.
	SourceTagging bool
	// TagTemplate supports {channel}, {account}, and {peer} substitution.
	// Empty uses DefaultTagTemplate. Unknown tokens are left untouched.
	TagTemplate string
}

// DefaultTagTemplate is used when a Monitor policy enables tagging without
// supplying a template.
const DefaultTagTemplate = "[{channel}:{account}] "

func (Monitor) Type() Type { return TypeMonitor }

// ListenOnly unconditionally denies the reply path. RequireMention and
// WatchKeywords only gate whether the message is recorded; they never flip
// the deny.
type ListenOnly struct {
	base
	RequireMention bool
	WatchKeywords  []string
}

func (ListenOnly) Type() Type { return TypeListenOnly }

// Filter combines keyword, sender, and time-of-day checks. With no rules
// configured the filter allows everything.
type Filter struct {
	base
	DenyKeywords  []string
	AllowKeywords []string
	DenySenders   []string
	AllowSenders  []string
	// ActiveFrom/ActiveUntil bound a daily window in "HH:MM"; both must be
	// set for the time check to apply. Windows may wrap past midnight.
	ActiveFrom  string
	ActiveUntil string
	// MatchMode is "all" (AND) or "any" (OR, the default for any other value).
	MatchMode string
	// OnFilteredAction "forward" adds ForwardTargets to deny results.
	OnFilteredAction string
	ForwardTargets   []string
}

func (Filter) Type() Type { return TypeFilter }

// Scheduled allows only inside a weekday set and daily time window, outside
// a holiday list. A deny is a one-shot permanent decision for that message.
type Scheduled struct {
	base
	// Weekdays restricts allowed days. Empty means every day.
	Weekdays []time.Weekday
	// StartTime/EndTime bound the daily window in "HH:MM"; both must be set
	// for the window check to apply.
	StartTime string
	EndTime   string
	// Holidays are dates in "2006-01-02" that always deny.
	Holidays []string
	// CronExpr, when set, is an additional cron-expression gate evaluated at
	// the context timestamp.
	CronExpr string
	// OffHoursTarget, when set, is forwarded to on deny.
	OffHoursTarget string
}

func (Scheduled) Type() Type { return TypeScheduled }

// Forward denies the local reply and redirects the message to Targets,
// unless FilterKeywords are configured and none match.
type Forward struct {
	base
	Targets []string
	// FilterKeywords limit forwarding to matching messages.
	FilterKeywords []string
	// Prefix, when set, is prepended to the forwarded message.
	Prefix string
	// DelaySeconds is surfaced as metadata for the dispatcher to honor.
	DelaySeconds int
}

func (Forward) Type() Type { return TypeForward }

// RouteRule is one smart-route rule. A rule matches only when every present
// condition matches.
type RouteRule struct {
	Keywords  []string
	Sentiment string
	MinLength int
	// MaxLength 0 means unbounded.
	MaxLength  int
	SenderType string
	Target     string
}

// SmartRoute evaluates an ordered rule list; the first matching rule's target
// wins, then DefaultTarget, then a plain allow.
type SmartRoute struct {
	base
	Rules         []RouteRule
	DefaultTarget string
}

func (SmartRoute) Type() Type { return TypeSmartRoute }

// Broadcast mirrors Forward semantics against a fixed target list.
type Broadcast struct {
	base
	Targets []string
	Prefix  string
}

func (Broadcast) Type() Type { return TypeBroadcast }

// RoundRobin forwards to Channels[floor(timestamp) mod len(Channels)].
type RoundRobin struct {
	base
	Channels []string
}

func (RoundRobin) Type() Type { return TypeRoundRobin }

// Queue allows the message and signals, via result metadata, that it should
// be enqueued. The engine never enqueues; the integrator does.
type Queue struct {
	base
	QueueID  string
	Priority string
}

func (Queue) Type() Type { return TypeQueue }

// AutoApproveRule lists senders a Moderate policy approves without review.
type AutoApproveRule struct {
	Senders []string
}

// Moderate denies messages containing sensitive words and flags them for
// moderation; auto-approved senders allow with a distinct reason.
type Moderate struct {
	base
	SensitiveWords []string
	AutoApprove    []AutoApproveRule
}

func (Moderate) Type() Type { return TypeModerate }

// Echo always allows with the message unchanged. Diagnostic use only.
type Echo struct {
	base
}

func (Echo) Type() Type { return TypeEcho }

// Context is the ephemeral per-message input to Evaluate. Created per
// invocation by the caller; never persisted.
type Context struct {
	AgentID    string
	ChannelID  string
	AccountID  string
	Message    string
	SenderID   string
	SenderType string
	IsGroup    bool
	// Timestamp is the only clock the engine consults; evaluation is a pure
	// function of the policy and this context.
	Timestamp time.Time
	Metadata  map[string]any
}

// BoolMeta reads a boolean metadata flag, absent keys reading false.
func (c Context) BoolMeta(key string) bool {
	v, ok := c.Metadata[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Result is the outcome of one evaluation, consumed once by the caller.
type Result struct {
	Allow              bool
	Reason             string
	PolicyType         Type
	TransformedMessage string
	ForwardTargets     []string
	Metadata           map[string]any
}

// WithMeta returns the result with one metadata entry added, allocating the
// map on first use.
func (r Result) WithMeta(key string, value any) Result {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any, 2)
	}
	r.Metadata[key] = value
	return r
}

// Result metadata keys set by the engine.
const (
	// MetaEnqueue marks a message the integrator should hand to the queue.
	MetaEnqueue = "enqueue"
	// MetaQueueID names the destination queue for MetaEnqueue results.
	MetaQueueID = "queueId"
	// MetaQueuePriority carries the configured priority for MetaEnqueue results.
	MetaQueuePriority = "queuePriority"
	// MetaRecord marks listen-only messages that should be recorded.
	MetaRecord = "record"
	// MetaDelaySeconds carries a forward delay for the dispatcher to honor.
	MetaDelaySeconds = "delaySeconds"
	// MetaRequiresModeration flags messages held for human review.
	MetaRequiresModeration = "requiresModeration"
	// MetaEncrypted and MetaAllowPeek pass through Private policy flags.
	MetaEncrypted = "encrypted"
	MetaAllowPeek = "allowPeek"
	// MetaMentioned is read from Context metadata by listen-only policies.
	MetaMentioned = "mentioned"
)
