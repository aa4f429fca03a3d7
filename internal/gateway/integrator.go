// Package gateway composes the policy engine, model router, and message
// queue behind the single gate function channel adapters call.
package gateway

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/switchboardlabs/switchboard/internal/channels"
	"github.com/switchboardlabs/switchboard/internal/observability"
	"github.com/switchboardlabs/switchboard/internal/policy"
	"github.com/switchboardlabs/switchboard/internal/queue"
	"github.com/switchboardlabs/switchboard/internal/routing"
)

// Binding associates a channel/account pair with an agent.
type Binding struct {
	AgentID   string
	ChannelID string
	AccountID string
}

// Direction distinguishes the inbound and outbound gates.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Integrator wires inbound and outbound message handling to the policy
// engine and dispatches the side effects a decision asks for: forwards
// through channel senders and queue handoffs through the message queue.
type Integrator struct {
	policies *policy.Registry
	engine   *policy.Engine
	queues   *queue.Manager
	router   *routing.Router
	senders  *channels.Registry

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	now     func() time.Time
}

// Options carries the collaborators an Integrator composes. Policies and
// Engine are required; the rest may be nil, disabling the matching side
// effects.
type Options struct {
	Policies *policy.Registry
	Engine   *policy.Engine
	Queues   *queue.Manager
	Router   *routing.Router
	Senders  *channels.Registry
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
}

// New creates an Integrator.
func New(opts Options) *Integrator {
	return &Integrator{
		policies: opts.Policies,
		engine:   opts.Engine,
		queues:   opts.Queues,
		router:   opts.Router,
		senders:  opts.Senders,
		logger:   opts.Logger.WithFields("component", "gateway"),
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		now:      time.Now,
	}
}

// DefaultQueueID receives queue-policy messages whose policy does not name a
// queue.
const DefaultQueueID = "outbound"

// MetaFromQueue marks a check made while draining a queue. A queue-policy
// result seen under this flag is delivered instead of re-enqueued, which
// would otherwise loop forever.
const MetaFromQueue = "fromQueue"

// CheckInbound gates one inbound message. It never panics past this
// boundary: an internal failure fails closed with allow=false and a reason.
func (i *Integrator) CheckInbound(ctx context.Context, binding Binding, message string, meta map[string]any) policy.Result {
	return i.check(ctx, DirectionInbound, binding, message, meta)
}

// CheckOutbound gates one outbound message with the same semantics as
// CheckInbound.
func (i *Integrator) CheckOutbound(ctx context.Context, binding Binding, message string, meta map[string]any) policy.Result {
	return i.check(ctx, DirectionOutbound, binding, message, meta)
}

func (i *Integrator) check(ctx context.Context, dir Direction, binding Binding, message string, meta map[string]any) (result policy.Result) {
	defer func() {
		if r := recover(); r != nil {
			// Fail closed: adapters surface a generic rejection, internals
			// go to the log only.
			i.logger.Error(ctx, "policy check panicked", "direction", string(dir), "panic", fmt.Sprint(r))
			result = policy.Result{Allow: false, Reason: "internal policy failure"}
		}
	}()

	ctx, span := i.tracer.Start(ctx, "gateway.check",
		attribute.String("direction", string(dir)),
		attribute.String("channel", binding.ChannelID),
		attribute.String("agent", binding.AgentID),
	)
	defer func() { observability.EndSpan(span, nil) }()

	bound := i.policies.Resolve(binding.ChannelID, binding.AccountID)

	pctx := policy.Context{
		AgentID:   binding.AgentID,
		ChannelID: binding.ChannelID,
		AccountID: binding.AccountID,
		Message:   message,
		Timestamp: i.now(),
		Metadata:  meta,
	}
	if sender, ok := meta["senderId"].(string); ok {
		pctx.SenderID = sender
	}
	if senderType, ok := meta["senderType"].(string); ok {
		pctx.SenderType = senderType
	}
	if group, ok := meta["isGroup"].(bool); ok {
		pctx.IsGroup = group
	}

	result = i.engine.Evaluate(bound, pctx)
	i.metrics.RecordDecision(string(result.PolicyType), result.Allow)
	i.logger.Debug(ctx, "policy decision",
		"direction", string(dir),
		"policy_type", string(result.PolicyType),
		"allow", result.Allow,
		"reason", result.Reason,
	)

	if len(result.ForwardTargets) > 0 {
		i.dispatchForwards(ctx, binding, result, message)
	}
	if enqueue, _ := result.Metadata[policy.MetaEnqueue].(bool); enqueue {
		if fromQueue, _ := meta[MetaFromQueue].(bool); !fromQueue {
			i.enqueue(ctx, binding, result, message)
		}
	}
	return result
}

// dispatchForwards delivers the (possibly transformed) message to each
// forward target. Delivery errors are logged and recorded but never change
// the policy decision.
func (i *Integrator) dispatchForwards(ctx context.Context, binding Binding, result policy.Result, original string) {
	if i.senders == nil {
		i.logger.Warn(ctx, "forward targets with no sender registry", "targets", fmt.Sprint(result.ForwardTargets))
		return
	}

	text := result.TransformedMessage
	if text == "" {
		text = original
	}

	for _, target := range result.ForwardTargets {
		channelID, _ := channels.Normalize(target)
		err := i.senders.Send(ctx, channels.Message{
			ChannelID: channelID,
			AccountID: binding.AccountID,
			Text:      text,
		})
		i.metrics.RecordForward(string(result.PolicyType), err)
		if err != nil {
			i.logger.Warn(ctx, "forward dispatch failed", "target", target, "error", err)
		}
	}
}

// enqueue hands a queue-policy message to the message queue.
func (i *Integrator) enqueue(ctx context.Context, binding Binding, result policy.Result, message string) {
	if i.queues == nil {
		i.logger.Warn(ctx, "queue policy with no queue manager configured")
		return
	}

	queueID, _ := result.Metadata[policy.MetaQueueID].(string)
	if queueID == "" {
		queueID = DefaultQueueID
	}
	rawPriority, _ := result.Metadata[policy.MetaQueuePriority].(string)

	id := i.queues.Enqueue(queueID, queue.Message{
		ChannelID:  binding.ChannelID,
		AccountID:  binding.AccountID,
		AgentID:    binding.AgentID,
		Content:    message,
		Priority:   queue.ParsePriority(rawPriority),
		MaxRetries: 3,
	})
	i.logger.Debug(ctx, "message enqueued", "queue", queueID, "id", id)
}

// RouteModel resolves the model account for one agent turn. It is a thin
// pass-through to the router that adds tracing; callers that need failover
// work directly with the score list on the selection.
func (i *Integrator) RouteModel(ctx context.Context, req routing.SelectRequest) (routing.Selection, error) {
	if i.router == nil {
		return routing.Selection{}, fmt.Errorf("model routing is not configured")
	}

	ctx, span := i.tracer.Start(ctx, "gateway.route_model",
		attribute.String("agent", req.AgentID),
	)
	sel, err := i.router.Select(ctx, req)
	observability.EndSpan(span, err)
	return sel, err
}
