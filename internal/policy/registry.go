package policy

import (
	"sort"
	"strings"
	"sync"
)

// Registry stores channel policies keyed by "channelId" or
// "channelId:accountId", plus an optional process-wide default.
//
// Policies are stored and returned by value, so a reader always sees a
// consistent snapshot of one policy object even while another goroutine
// replaces the entry.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]ChannelPolicy
	fallback ChannelPolicy
}

// NewRegistry returns an empty registry with no default policy.
func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]ChannelPolicy)}
}

// Key builds a registry key from a channel id and optional account id.
func Key(channelID, accountID string) string {
	channelID = strings.TrimSpace(channelID)
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return channelID
	}
	return channelID + ":" + accountID
}

// Set binds a policy to a key, replacing any existing binding.
func (r *Registry) Set(key string, p ChannelPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[key] = p
}

// Delete removes a binding. Removing an absent key is a no-op.
func (r *Registry) Delete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.policies, key)
}

// SetDefault installs the process-wide default returned when no key matches.
func (r *Registry) SetDefault(p ChannelPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = p
}

// Get returns the policy bound to an exact key, or nil.
func (r *Registry) Get(key string) ChannelPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policies[key]
}

// Resolve looks up the policy for a channel/account pair: the account-scoped
// binding wins over the channel binding, which wins over the default. Returns
// nil when nothing is bound.
func (r *Registry) Resolve(channelID, accountID string) ChannelPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if accountID != "" {
		if p, ok := r.policies[Key(channelID, accountID)]; ok {
			return p
		}
	}
	if p, ok := r.policies[Key(channelID, "")]; ok {
		return p
	}
	return r.fallback
}

// Keys returns all bound keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.policies))
	for k := range r.policies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
