// Package channels defines the channel identifier space and the sender
// boundary the gateway dispatches forwards and auto-replies through.
// Concrete wire adapters live outside the core and register themselves here.
package channels

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ChannelID identifies a supported chat channel.
type ChannelID string

const (
	ChannelTelegram ChannelID = "telegram"
	ChannelWhatsApp ChannelID = "whatsapp"
	ChannelDiscord  ChannelID = "discord"
	ChannelSlack    ChannelID = "slack"
	ChannelLine     ChannelID = "line"
	ChannelSignal   ChannelID = "signal"
	ChannelIMessage ChannelID = "imessage"
	ChannelWeb      ChannelID = "web"
	ChannelAPI      ChannelID = "api"
)

// knownChannels is the set of ids accepted by Normalize.
var knownChannels = map[ChannelID]bool{
	ChannelTelegram: true,
	ChannelWhatsApp: true,
	ChannelDiscord:  true,
	ChannelSlack:    true,
	ChannelLine:     true,
	ChannelSignal:   true,
	ChannelIMessage: true,
	ChannelWeb:      true,
	ChannelAPI:      true,
}

// Normalize lower-cases and validates a raw channel id. Unknown ids are
// returned as-is with ok=false so callers can decide whether to accept
// adapter-defined channels.
func Normalize(raw string) (ChannelID, bool) {
	id := ChannelID(strings.ToLower(strings.TrimSpace(raw)))
	return id, knownChannels[id]
}

// Message is an outbound payload handed to a channel adapter.
type Message struct {
	ChannelID ChannelID
	AccountID string
	ChatID    string
	Text      string
}

// Sender delivers messages on one channel. Implementations wrap the actual
// platform SDKs and may block on network I/O.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, msg Message) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Registry maps channel ids to their registered senders.
type Registry struct {
	mu      sync.RWMutex
	senders map[ChannelID]Sender
}

// NewRegistry returns an empty sender registry.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[ChannelID]Sender)}
}

// Register installs a sender for a channel, replacing any previous one.
func (r *Registry) Register(id ChannelID, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[id] = sender
}

// Get returns the sender for a channel id.
func (r *Registry) Get(id ChannelID) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sender, ok := r.senders[id]
	return sender, ok
}

// Send delivers a message through the registered sender for its channel.
func (r *Registry) Send(ctx context.Context, msg Message) error {
	sender, ok := r.Get(msg.ChannelID)
	if !ok {
		return fmt.Errorf("no sender registered for channel %q", msg.ChannelID)
	}
	return sender.Send(ctx, msg)
}

// Channels returns the registered channel ids in sorted order.
func (r *Registry) Channels() []ChannelID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ChannelID, 0, len(r.senders))
	for id := range r.senders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
