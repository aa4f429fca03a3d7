package policy

import (
	"reflect"
	"testing"
	"time"
)

func testEngine() *Engine {
	return NewEngine(nil)
}

func testContext(message string) Context {
	return Context{
		AgentID:   "main",
		ChannelID: "telegram",
		AccountID: "acct-1",
		Message:   message,
		SenderID:  "user-1",
		Timestamp: time.Date(2026, 3, 4, 14, 30, 0, 0, time.UTC), // Wednesday
	}
}

func TestEvaluateNilPolicy(t *testing.T) {
	result := testEngine().Evaluate(nil, testContext("hi"))
	if !result.Allow {
		t.Fatalf("nil policy should allow, got %+v", result)
	}
}

func TestEvaluateDisabledPolicy(t *testing.T) {
	p := Disable(Filter{DenyKeywords: []string{"hi"}})
	result := testEngine().Evaluate(p, testContext("hi there"))
	if !result.Allow {
		t.Fatalf("disabled policy should allow, got %+v", result)
	}
	if result.Reason != "policy disabled" {
		t.Fatalf("unexpected reason %q", result.Reason)
	}
}

func TestEvaluateIsPure(t *testing.T) {
	engine := testEngine()
	p := Filter{DenyKeywords: []string{"spam"}, MatchMode: "all"}
	ctx := testContext("some spam message")

	first := engine.Evaluate(p, ctx)
	second := engine.Evaluate(p, ctx)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical inputs gave different results:\n%+v\n%+v", first, second)
	}
}

func TestPrivateAlwaysAllows(t *testing.T) {
	result := testEngine().Evaluate(Private{Encrypted: true, AllowPeek: false}, testContext("hello"))
	if !result.Allow {
		t.Fatalf("private must allow, got %+v", result)
	}
	if enc, _ := result.Metadata[MetaEncrypted].(bool); !enc {
		t.Fatalf("expected encrypted metadata, got %+v", result.Metadata)
	}
}

func TestMonitorSourceTagging(t *testing.T) {
	tests := []struct {
		name     string
		policy   Monitor
		expected string
	}{
		{
			name:     "default template",
			policy:   Monitor{SourceTagging: true},
			expected: "[telegram:acct-1] hello",
		},
		{
			name:     "custom template with peer",
			policy:   Monitor{SourceTagging: true, TagTemplate: "({peer}@{channel}) "},
			expected: "(user-1@telegram) hello",
		},
		{
			name:     "unknown tokens untouched",
			policy:   Monitor{SourceTagging: true, TagTemplate: "{nope}{channel} "},
			expected: "{nope}telegram hello",
		},
		{
			name:     "tagging off",
			policy:   Monitor{},
			expected: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := testEngine().Evaluate(tt.policy, testContext("hello"))
			if !result.Allow {
				t.Fatalf("monitor must allow")
			}
			if result.TransformedMessage != tt.expected {
				t.Fatalf("transformed = %q, want %q", result.TransformedMessage, tt.expected)
			}
		})
	}
}

func TestListenOnlyAlwaysDenies(t *testing.T) {
	engine := testEngine()

	result := engine.Evaluate(ListenOnly{}, testContext("anything"))
	if result.Allow {
		t.Fatalf("listen-only must deny the reply path")
	}
	if record, _ := result.Metadata[MetaRecord].(bool); !record {
		t.Fatalf("unconstrained listen-only should record")
	}

	// Mention required but absent: still denied, just not recorded.
	result = engine.Evaluate(ListenOnly{RequireMention: true}, testContext("no mention here"))
	if result.Allow {
		t.Fatalf("listen-only must deny regardless of recording gates")
	}
	if record, _ := result.Metadata[MetaRecord].(bool); record {
		t.Fatalf("should not record without mention")
	}

	ctx := testContext("hey bot")
	ctx.Metadata = map[string]any{MetaMentioned: true}
	result = engine.Evaluate(ListenOnly{RequireMention: true}, ctx)
	if record, _ := result.Metadata[MetaRecord].(bool); !record {
		t.Fatalf("mentioned message should record")
	}

	result = engine.Evaluate(ListenOnly{WatchKeywords: []string{"incident"}}, testContext("all quiet"))
	if record, _ := result.Metadata[MetaRecord].(bool); record {
		t.Fatalf("should not record without watch keyword")
	}
}

func TestFilterMatchModes(t *testing.T) {
	tests := []struct {
		name    string
		policy  Filter
		message string
		sender  string
		allow   bool
	}{
		{
			name:    "no rules default allow",
			policy:  Filter{MatchMode: "all"},
			message: "anything",
			allow:   true,
		},
		{
			name:    "deny keyword all mode",
			policy:  Filter{MatchMode: "all", DenyKeywords: []string{"x"}},
			message: "contains x here",
			allow:   false,
		},
		{
			name:    "deny keyword absent",
			policy:  Filter{MatchMode: "all", DenyKeywords: []string{"spam"}},
			message: "clean message",
			allow:   true,
		},
		{
			name:    "all mode needs every check",
			policy:  Filter{MatchMode: "all", AllowKeywords: []string{"order"}, DenyKeywords: []string{"spam"}},
			message: "new order with spam",
			allow:   false,
		},
		{
			name:    "any mode needs one check",
			policy:  Filter{MatchMode: "any", AllowKeywords: []string{"order"}, AllowSenders: []string{"vip"}},
			message: "new order",
			sender:  "user-1",
			allow:   true,
		},
		{
			name:    "allow sender",
			policy:  Filter{MatchMode: "all", AllowSenders: []string{"user-1"}},
			message: "hello",
			sender:  "user-1",
			allow:   true,
		},
		{
			name:    "deny sender",
			policy:  Filter{MatchMode: "all", DenySenders: []string{"user-1"}},
			message: "hello",
			sender:  "user-1",
			allow:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(tt.message)
			if tt.sender != "" {
				ctx.SenderID = tt.sender
			}
			result := testEngine().Evaluate(tt.policy, ctx)
			if result.Allow != tt.allow {
				t.Fatalf("allow = %v, want %v (%+v)", result.Allow, tt.allow, result)
			}
		})
	}
}

func TestFilterTimeWindow(t *testing.T) {
	p := Filter{MatchMode: "all", ActiveFrom: "09:00", ActiveUntil: "17:00"}

	inside := testContext("hi")
	inside.Timestamp = time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	if result := testEngine().Evaluate(p, inside); !result.Allow {
		t.Fatalf("14:00 should be inside 09:00-17:00")
	}

	outside := testContext("hi")
	outside.Timestamp = time.Date(2026, 3, 4, 20, 0, 0, 0, time.UTC)
	if result := testEngine().Evaluate(p, outside); result.Allow {
		t.Fatalf("20:00 should be outside 09:00-17:00")
	}

	// Overnight window wraps past midnight.
	night := Filter{MatchMode: "all", ActiveFrom: "22:00", ActiveUntil: "06:00"}
	late := testContext("hi")
	late.Timestamp = time.Date(2026, 3, 4, 23, 30, 0, 0, time.UTC)
	if result := testEngine().Evaluate(night, late); !result.Allow {
		t.Fatalf("23:30 should be inside 22:00-06:00")
	}
}

func TestFilterForwardOnDeny(t *testing.T) {
	p := Filter{
		MatchMode:        "all",
		DenyKeywords:     []string{"spam"},
		OnFilteredAction: "forward",
		ForwardTargets:   []string{"moderation"},
	}
	result := testEngine().Evaluate(p, testContext("spam here"))
	if result.Allow {
		t.Fatalf("expected deny")
	}
	if len(result.ForwardTargets) != 1 || result.ForwardTargets[0] != "moderation" {
		t.Fatalf("forward targets = %v", result.ForwardTargets)
	}
}

func TestScheduledWindow(t *testing.T) {
	p := Scheduled{
		Weekdays:  []time.Weekday{time.Monday, time.Wednesday, time.Friday},
		StartTime: "09:00",
		EndTime:   "18:00",
	}
	engine := testEngine()

	inside := testContext("hi") // Wednesday 14:30
	if result := engine.Evaluate(p, inside); !result.Allow {
		t.Fatalf("inside schedule should allow: %+v", result)
	}

	lateNight := testContext("hi")
	lateNight.Timestamp = time.Date(2026, 3, 4, 22, 0, 0, 0, time.UTC)
	if result := engine.Evaluate(p, lateNight); result.Allow {
		t.Fatalf("22:00 should deny")
	}

	sunday := testContext("hi")
	sunday.Timestamp = time.Date(2026, 3, 8, 14, 0, 0, 0, time.UTC)
	if result := engine.Evaluate(p, sunday); result.Allow {
		t.Fatalf("Sunday should deny")
	}
}

func TestScheduledHolidayAndForward(t *testing.T) {
	p := Scheduled{
		StartTime:      "09:00",
		EndTime:        "18:00",
		Holidays:       []string{"2026-03-04"},
		OffHoursTarget: "voicemail",
	}
	result := testEngine().Evaluate(p, testContext("hi"))
	if result.Allow {
		t.Fatalf("holiday should deny even inside hours")
	}
	if len(result.ForwardTargets) != 1 || result.ForwardTargets[0] != "voicemail" {
		t.Fatalf("expected off-hours forward target, got %v", result.ForwardTargets)
	}
}

func TestScheduledCronExpr(t *testing.T) {
	// Every minute of March matches; January does not.
	p := Scheduled{CronExpr: "* * * 3 *"}
	engine := testEngine()

	if result := engine.Evaluate(p, testContext("hi")); !result.Allow {
		t.Fatalf("March timestamp should pass cron gate: %+v", result)
	}

	january := testContext("hi")
	january.Timestamp = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	if result := engine.Evaluate(p, january); result.Allow {
		t.Fatalf("January timestamp should fail cron gate")
	}

	// A malformed expression drops the check instead of denying.
	broken := Scheduled{CronExpr: "not a cron"}
	if result := engine.Evaluate(broken, testContext("hi")); !result.Allow {
		t.Fatalf("malformed cron should not deny: %+v", result)
	}
}

func TestForwardKeywordGate(t *testing.T) {
	p := Forward{Targets: []string{"ops"}, FilterKeywords: []string{"urgent"}}
	engine := testEngine()

	// No keyword match: allow normally, no forward.
	result := engine.Evaluate(p, testContext("routine report"))
	if !result.Allow {
		t.Fatalf("non-matching message should allow: %+v", result)
	}
	if len(result.ForwardTargets) != 0 {
		t.Fatalf("no forward targets expected, got %v", result.ForwardTargets)
	}

	result = engine.Evaluate(p, testContext("URGENT: disk full"))
	if result.Allow {
		t.Fatalf("matching message should deny and forward")
	}
	if len(result.ForwardTargets) != 1 || result.ForwardTargets[0] != "ops" {
		t.Fatalf("forward targets = %v", result.ForwardTargets)
	}
}

func TestForwardPrefixAndDelay(t *testing.T) {
	p := Forward{Targets: []string{"ops"}, Prefix: "[fwd] ", DelaySeconds: 30}
	result := testEngine().Evaluate(p, testContext("hello"))
	if result.TransformedMessage != "[fwd] hello" {
		t.Fatalf("transformed = %q", result.TransformedMessage)
	}
	if delay, _ := result.Metadata[MetaDelaySeconds].(int); delay != 30 {
		t.Fatalf("delay metadata = %v", result.Metadata[MetaDelaySeconds])
	}
}

func TestSmartRouteRules(t *testing.T) {
	p := SmartRoute{
		Rules: []RouteRule{
			{Keywords: []string{"billing"}, Target: "finance"},
			{Sentiment: "negative", Target: "support"},
			{MinLength: 500, Target: "triage"},
		},
		DefaultTarget: "general",
	}
	engine := testEngine()

	tests := []struct {
		message string
		target  string
	}{
		{"question about billing", "finance"},
		{"this is terrible and broken", "support"},
		{"hello there", "general"},
	}
	for _, tt := range tests {
		result := engine.Evaluate(p, testContext(tt.message))
		if result.Allow {
			t.Fatalf("%q: routed messages deny the local path", tt.message)
		}
		if len(result.ForwardTargets) != 1 || result.ForwardTargets[0] != tt.target {
			t.Fatalf("%q routed to %v, want %s", tt.message, result.ForwardTargets, tt.target)
		}
	}

	// All present conditions must match for a rule to fire.
	strict := SmartRoute{Rules: []RouteRule{{Keywords: []string{"billing"}, SenderType: "admin", Target: "finance"}}}
	result := engine.Evaluate(strict, testContext("billing question"))
	if !result.Allow {
		t.Fatalf("rule with unmatched sender type should not fire: %+v", result)
	}
}

func TestBroadcastForwardsToAllTargets(t *testing.T) {
	p := Broadcast{Targets: []string{"a", "b", "c"}, Prefix: ">> "}
	result := testEngine().Evaluate(p, testContext("announcement"))
	if result.Allow {
		t.Fatalf("broadcast mirrors forward semantics")
	}
	if len(result.ForwardTargets) != 3 {
		t.Fatalf("targets = %v", result.ForwardTargets)
	}
	if result.TransformedMessage != ">> announcement" {
		t.Fatalf("transformed = %q", result.TransformedMessage)
	}
}

func TestRoundRobinDeterministic(t *testing.T) {
	p := RoundRobin{Channels: []string{"a", "b", "c"}}
	engine := testEngine()
	ctx := testContext("hi")

	first := engine.Evaluate(p, ctx)
	second := engine.Evaluate(p, ctx)
	if !reflect.DeepEqual(first.ForwardTargets, second.ForwardTargets) {
		t.Fatalf("same timestamp must pick the same target: %v vs %v",
			first.ForwardTargets, second.ForwardTargets)
	}

	want := p.Channels[int(ctx.Timestamp.Unix()%3)]
	if first.ForwardTargets[0] != want {
		t.Fatalf("target = %s, want %s", first.ForwardTargets[0], want)
	}
}

func TestRoundRobinEmptyChannels(t *testing.T) {
	result := testEngine().Evaluate(RoundRobin{}, testContext("hi"))
	if result.Allow {
		t.Fatalf("empty channel list must deny")
	}
	if result.Reason != "no channels configured" {
		t.Fatalf("reason = %q", result.Reason)
	}
}

func TestQueuePolicySignalsEnqueue(t *testing.T) {
	p := Queue{QueueID: "outbound", Priority: "high"}
	result := testEngine().Evaluate(p, testContext("deliver later"))
	if !result.Allow {
		t.Fatalf("queue policy allows: %+v", result)
	}
	if enqueue, _ := result.Metadata[MetaEnqueue].(bool); !enqueue {
		t.Fatalf("expected enqueue metadata")
	}
	if id, _ := result.Metadata[MetaQueueID].(string); id != "outbound" {
		t.Fatalf("queue id = %q", id)
	}
}

func TestModerate(t *testing.T) {
	p := Moderate{
		SensitiveWords: []string{"forbidden"},
		AutoApprove:    []AutoApproveRule{{Senders: []string{"trusted-user"}}},
	}
	engine := testEngine()

	result := engine.Evaluate(p, testContext("this is Forbidden content"))
	if result.Allow {
		t.Fatalf("sensitive word must deny")
	}
	if flagged, _ := result.Metadata[MetaRequiresModeration].(bool); !flagged {
		t.Fatalf("expected moderation flag")
	}

	ctx := testContext("hello")
	ctx.SenderID = "trusted-user"
	result = engine.Evaluate(p, ctx)
	if !result.Allow || result.Reason != "auto-approved sender" {
		t.Fatalf("trusted sender: %+v", result)
	}

	result = engine.Evaluate(p, testContext("hello"))
	if !result.Allow || result.Reason != "moderation passed" {
		t.Fatalf("clean message: %+v", result)
	}
}

func TestEcho(t *testing.T) {
	result := testEngine().Evaluate(Echo{}, testContext("ping"))
	if !result.Allow || result.TransformedMessage != "" {
		t.Fatalf("echo allows unchanged: %+v", result)
	}
}

func TestSentimentOf(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"thanks, this is great", "positive"},
		{"this is terrible and broken", "negative"},
		{"the meeting is at noon", "neutral"},
	}
	for _, tt := range tests {
		if got := sentimentOf(tt.message); got != tt.want {
			t.Errorf("sentimentOf(%q) = %s, want %s", tt.message, got, tt.want)
		}
	}
}
