package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/switchboardlabs/switchboard/internal/observability"
)

// Engine evaluates channel policies. Evaluation is a pure function of the
// policy and the context; the only clock it consults is Context.Timestamp.
type Engine struct {
	logger *observability.Logger
	cron   *gronx.Gronx
}

// NewEngine returns a policy engine. logger may be nil.
func NewEngine(logger *observability.Logger) *Engine {
	return &Engine{
		logger: logger.WithFields("component", "policy"),
		cron:   gronx.New(),
	}
}

// Evaluate applies one policy to one message context. It never panics on
// malformed variant config: absent fields behave as "no constraint".
func (e *Engine) Evaluate(p ChannelPolicy, ctx Context) Result {
	if p == nil {
		return Result{Allow: true, Reason: "no policy bound"}
	}
	if !p.Enabled() {
		return Result{Allow: true, Reason: "policy disabled", PolicyType: p.Type()}
	}

	switch v := p.(type) {
	case Private:
		return e.evalPrivate(v)
	case Monitor:
		return e.evalMonitor(v, ctx)
	case ListenOnly:
		return e.evalListenOnly(v, ctx)
	case Filter:
		return e.evalFilter(v, ctx)
	case Scheduled:
		return e.evalScheduled(v, ctx)
	case Forward:
		return e.evalForward(v, ctx)
	case SmartRoute:
		return e.evalSmartRoute(v, ctx)
	case Broadcast:
		return e.evalBroadcast(v, ctx)
	case RoundRobin:
		return e.evalRoundRobin(v, ctx)
	case Queue:
		return e.evalQueue(v)
	case Moderate:
		return e.evalModerate(v, ctx)
	case Echo:
		return Result{Allow: true, Reason: "echo", PolicyType: TypeEcho}
	default:
		// Only reachable through corrupt wire data; the sealed union keeps
		// this branch dead for in-process policies.
		e.logger.Warn(context.Background(), "unsupported policy type", "type", string(p.Type()))
		return Result{
			Allow:      true,
			Reason:     fmt.Sprintf("unsupported policy type %q", p.Type()),
			PolicyType: p.Type(),
		}
	}
}

func (e *Engine) evalPrivate(p Private) Result {
	r := Result{Allow: true, Reason: "private channel", PolicyType: TypePrivate}
	r = r.WithMeta(MetaEncrypted, p.Encrypted)
	r = r.WithMeta(MetaAllowPeek, p.AllowPeek)
	return r
}

func (e *Engine) evalMonitor(p Monitor, ctx Context) Result {
	r := Result{Allow: true, Reason: "monitored", PolicyType: TypeMonitor}
	if p.SourceTagging {
		tmpl := p.TagTemplate
		if tmpl == "" {
			tmpl = DefaultTagTemplate
		}
		r.TransformedMessage = renderTag(tmpl, ctx) + ctx.Message
	}
	return r
}

func (e *Engine) evalListenOnly(p ListenOnly, ctx Context) Result {
	record := true
	if p.RequireMention && !ctx.BoolMeta(MetaMentioned) {
		record = false
	}
	if record && len(p.WatchKeywords) > 0 && !containsAny(ctx.Message, p.WatchKeywords) {
		record = false
	}
	// Recording is independent of the deny; the reply path is always closed.
	r := Result{Allow: false, Reason: "listen-only channel", PolicyType: TypeListenOnly}
	return r.WithMeta(MetaRecord, record)
}

func (e *Engine) evalFilter(p Filter, ctx Context) Result {
	var checks []bool
	if len(p.DenyKeywords) > 0 {
		checks = append(checks, !containsAny(ctx.Message, p.DenyKeywords))
	}
	if len(p.AllowKeywords) > 0 {
		checks = append(checks, containsAny(ctx.Message, p.AllowKeywords))
	}
	if len(p.DenySenders) > 0 {
		checks = append(checks, !containsFold(p.DenySenders, ctx.SenderID))
	}
	if len(p.AllowSenders) > 0 {
		checks = append(checks, containsFold(p.AllowSenders, ctx.SenderID))
	}
	if from, ok1 := parseClock(p.ActiveFrom); ok1 {
		if until, ok2 := parseClock(p.ActiveUntil); ok2 {
			checks = append(checks, inDailyWindow(ctx.Timestamp, from, until))
		}
	}

	allow := true
	if len(checks) > 0 {
		if strings.EqualFold(p.MatchMode, "all") {
			for _, c := range checks {
				allow = allow && c
			}
		} else {
			allow = false
			for _, c := range checks {
				allow = allow || c
			}
		}
	}

	r := Result{Allow: allow, PolicyType: TypeFilter}
	if allow {
		r.Reason = "filter passed"
		return r
	}
	r.Reason = "filter rejected"
	if strings.EqualFold(p.OnFilteredAction, "forward") && len(p.ForwardTargets) > 0 {
		r.ForwardTargets = append([]string(nil), p.ForwardTargets...)
	}
	return r
}

func (e *Engine) evalScheduled(p Scheduled, ctx Context) Result {
	allow := true

	if len(p.Weekdays) > 0 {
		found := false
		for _, wd := range p.Weekdays {
			if ctx.Timestamp.Weekday() == wd {
				found = true
				break
			}
		}
		allow = allow && found
	}

	if from, ok1 := parseClock(p.StartTime); ok1 {
		if until, ok2 := parseClock(p.EndTime); ok2 {
			allow = allow && inDailyWindow(ctx.Timestamp, from, until)
		}
	}

	if allow && len(p.Holidays) > 0 {
		day := ctx.Timestamp.Format("2006-01-02")
		for _, h := range p.Holidays {
			if strings.TrimSpace(h) == day {
				allow = false
				break
			}
		}
	}

	if allow && p.CronExpr != "" {
		due, err := e.cron.IsDue(p.CronExpr, ctx.Timestamp)
		if err != nil {
			// Malformed cron config never denies on its own; the remaining
			// schedule checks already passed.
			e.logger.Warn(context.Background(), "invalid cron expression", "expr", p.CronExpr, "error", err)
		} else {
			allow = due
		}
	}

	if allow {
		return Result{Allow: true, Reason: "inside schedule", PolicyType: TypeScheduled}
	}
	r := Result{Allow: false, Reason: "outside schedule", PolicyType: TypeScheduled}
	if target := strings.TrimSpace(p.OffHoursTarget); target != "" {
		r.ForwardTargets = []string{target}
	}
	return r
}

func (e *Engine) evalForward(p Forward, ctx Context) Result {
	if len(p.FilterKeywords) > 0 && !containsAny(ctx.Message, p.FilterKeywords) {
		return Result{Allow: true, Reason: "no forward keyword matched", PolicyType: TypeForward}
	}
	r := Result{
		Allow:          false,
		Reason:         "forwarded",
		PolicyType:     TypeForward,
		ForwardTargets: append([]string(nil), p.Targets...),
	}
	if p.Prefix != "" {
		r.TransformedMessage = p.Prefix + ctx.Message
	}
	if p.DelaySeconds > 0 {
		r = r.WithMeta(MetaDelaySeconds, p.DelaySeconds)
	}
	return r
}

func (e *Engine) evalSmartRoute(p SmartRoute, ctx Context) Result {
	for _, rule := range p.Rules {
		if ruleMatches(rule, ctx) {
			return Result{
				Allow:          false,
				Reason:         "smart-route rule matched",
				PolicyType:     TypeSmartRoute,
				ForwardTargets: []string{rule.Target},
			}
		}
	}
	if target := strings.TrimSpace(p.DefaultTarget); target != "" {
		return Result{
			Allow:          false,
			Reason:         "smart-route default target",
			PolicyType:     TypeSmartRoute,
			ForwardTargets: []string{target},
		}
	}
	return Result{Allow: true, Reason: "no route matched", PolicyType: TypeSmartRoute}
}

// ruleMatches reports whether every present condition of the rule matches.
func ruleMatches(rule RouteRule, ctx Context) bool {
	if len(rule.Keywords) > 0 && !containsAny(ctx.Message, rule.Keywords) {
		return false
	}
	if rule.Sentiment != "" && !strings.EqualFold(rule.Sentiment, sentimentOf(ctx.Message)) {
		return false
	}
	if rule.MinLength > 0 && len(ctx.Message) < rule.MinLength {
		return false
	}
	if rule.MaxLength > 0 && len(ctx.Message) > rule.MaxLength {
		return false
	}
	if rule.SenderType != "" && !strings.EqualFold(rule.SenderType, ctx.SenderType) {
		return false
	}
	return rule.Target != ""
}

func (e *Engine) evalBroadcast(p Broadcast, ctx Context) Result {
	r := Result{
		Allow:          false,
		Reason:         "broadcast",
		PolicyType:     TypeBroadcast,
		ForwardTargets: append([]string(nil), p.Targets...),
	}
	if p.Prefix != "" {
		r.TransformedMessage = p.Prefix + ctx.Message
	}
	return r
}

func (e *Engine) evalRoundRobin(p RoundRobin, ctx Context) Result {
	if len(p.Channels) == 0 {
		return Result{Allow: false, Reason: "no channels configured", PolicyType: TypeRoundRobin}
	}
	idx := int(ctx.Timestamp.Unix()%int64(len(p.Channels)))
	if idx < 0 {
		idx += len(p.Channels)
	}
	return Result{
		Allow:          false,
		Reason:         "round-robin",
		PolicyType:     TypeRoundRobin,
		ForwardTargets: []string{p.Channels[idx]},
	}
}

func (e *Engine) evalQueue(p Queue) Result {
	r := Result{Allow: true, Reason: "queued for batch delivery", PolicyType: TypeQueue}
	r = r.WithMeta(MetaEnqueue, true)
	r = r.WithMeta(MetaQueueID, p.QueueID)
	r = r.WithMeta(MetaQueuePriority, p.Priority)
	return r
}

func (e *Engine) evalModerate(p Moderate, ctx Context) Result {
	for _, word := range p.SensitiveWords {
		if word != "" && strings.Contains(strings.ToLower(ctx.Message), strings.ToLower(word)) {
			r := Result{Allow: false, Reason: "sensitive content", PolicyType: TypeModerate}
			return r.WithMeta(MetaRequiresModeration, true)
		}
	}
	for _, rule := range p.AutoApprove {
		if containsFold(rule.Senders, ctx.SenderID) {
			return Result{Allow: true, Reason: "auto-approved sender", PolicyType: TypeModerate}
		}
	}
	return Result{Allow: true, Reason: "moderation passed", PolicyType: TypeModerate}
}

// renderTag substitutes {channel}, {account}, and {peer} tokens. Unknown
// tokens are left untouched.
func renderTag(tmpl string, ctx Context) string {
	replacer := strings.NewReplacer(
		"{channel}", ctx.ChannelID,
		"{account}", ctx.AccountID,
		"{peer}", ctx.SenderID,
	)
	return replacer.Replace(tmpl)
}

// containsAny reports whether the message contains any keyword,
// case-insensitively. Empty keywords never match.
func containsAny(message string, keywords []string) bool {
	lower := strings.ToLower(message)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// containsFold reports whether values contains s, case-insensitively.
func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), s) {
			return true
		}
	}
	return false
}

// clockMinutes is a time of day in minutes since midnight.
type clockMinutes int

// parseClock parses "HH:MM". Malformed values report ok=false, which drops
// the corresponding check rather than failing the evaluation.
func parseClock(s string) (clockMinutes, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return clockMinutes(t.Hour()*60 + t.Minute()), true
}

// inDailyWindow reports whether ts falls inside [from, until]. Windows where
// until < from wrap past midnight.
func inDailyWindow(ts time.Time, from, until clockMinutes) bool {
	now := clockMinutes(ts.Hour()*60 + ts.Minute())
	if from <= until {
		return now >= from && now <= until
	}
	return now >= from || now <= until
}

// sentimentOf is a coarse keyword heuristic good enough for routing rules;
// it classifies a message as "positive", "negative", or "neutral".
func sentimentOf(message string) string {
	lower := strings.ToLower(message)
	positive := []string{"thanks", "thank you", "great", "love", "awesome", "good", "nice", "perfect"}
	negative := []string{"angry", "terrible", "hate", "awful", "broken", "bad", "worst", "refund", "complaint"}

	var pos, neg int
	for _, w := range positive {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negative {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	switch {
	case pos > neg:
		return "positive"
	case neg > pos:
		return "negative"
	default:
		return "neutral"
	}
}
