package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/switchboardlabs/switchboard/internal/observability"
)

// Mode selects how accounts are chosen for an agent. The mode is fixed at
// configuration time and never changes mid-session.
type Mode string

const (
	// ModeManual always returns the configured default account.
	ModeManual Mode = "manual"
	// ModeSmart scores all configured accounts per request.
	ModeSmart Mode = "smart"
)

// Config is the per-agent routing configuration.
type Config struct {
	Mode Mode
	// Accounts is the ordered candidate list; order breaks score ties and
	// decides the fail-safe fallback.
	Accounts []string
	// DefaultAccount is returned verbatim in manual mode.
	DefaultAccount string
	// PinSessions keeps a previously chosen account for the session.
	PinSessions bool
	Weights     Weights
}

// Validate reports configuration errors without touching process state.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeManual:
		if strings.TrimSpace(c.DefaultAccount) == "" {
			return fmt.Errorf("manual mode requires a default account")
		}
	case ModeSmart:
		if len(c.Accounts) == 0 {
			return fmt.Errorf("smart mode requires at least one account")
		}
		if !c.Weights.IsZero() {
			if err := c.Weights.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown routing mode %q", c.Mode)
	}
	return nil
}

// LookupFunc resolves model metadata for one account. Returning nil info or
// an error both mark the account unavailable; the router treats the two
// identically.
type LookupFunc func(ctx context.Context, accountID string) (*ModelInfo, error)

// SessionStore persists session pins. The router decides pin values but
// never owns their persistence.
type SessionStore interface {
	PinnedAccount(sessionID string) (string, bool)
	Pin(sessionID, accountID string)
}

// MemorySessionStore is an in-process SessionStore.
type MemorySessionStore struct {
	mu   sync.RWMutex
	pins map[string]string
}

// NewMemorySessionStore returns an empty pin store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{pins: make(map[string]string)}
}

// PinnedAccount returns the pinned account for a session.
func (s *MemorySessionStore) PinnedAccount(sessionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pins[sessionID]
	return id, ok
}

// Pin records the chosen account for a session.
func (s *MemorySessionStore) Pin(sessionID, accountID string) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[sessionID] = accountID
}

// Selection is the routing decision for one agent turn.
type Selection struct {
	AccountID string
	Reason    string
	// Scores holds the full score list from smart mode, ordered by the
	// configured account list. Empty in manual mode.
	Scores []AccountScore
}

// Selection reason strings. Callers branch on these rather than on errors.
const (
	ReasonManual   = "manual mode"
	ReasonPinned   = "session pin"
	ReasonScored   = "highest score"
	ReasonFailsafe = "fail-safe fallback"
)

// ErrNoAccountAvailable reports that every configured account is unavailable.
var ErrNoAccountAvailable = errors.New("no account available")

// ErrAgentNotConfigured reports a Select call for an unknown agent.
var ErrAgentNotConfigured = errors.New("agent has no routing configuration")

// Router selects model accounts per agent turn.
type Router struct {
	mu       sync.RWMutex
	configs  map[string]Config
	lookup   LookupFunc
	sessions SessionStore
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewRouter creates a router. lookup is required; sessions, logger, and
// metrics may be nil (nil sessions disables pinning).
func NewRouter(lookup LookupFunc, sessions SessionStore, logger *observability.Logger, metrics *observability.Metrics) *Router {
	return &Router{
		configs:  make(map[string]Config),
		lookup:   lookup,
		sessions: sessions,
		logger:   logger.WithFields("component", "routing"),
		metrics:  metrics,
	}
}

// Configure installs the routing configuration for an agent.
func (r *Router) Configure(agentID string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("routing config for agent %q: %w", agentID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[agentID] = cfg
	return nil
}

// SelectRequest carries the inputs for one selection.
type SelectRequest struct {
	AgentID string
	Message string
	Session SessionContext
	// Reevaluate forces scoring even when a valid session pin exists.
	Reevaluate bool
}

// Select chooses the account for one agent turn.
//
// Smart mode resolves all account metadata concurrently, waits for every
// lookup, scores available accounts, honors a still-valid session pin, and
// otherwise picks the highest total score with ties broken by configured
// order. When no account is available it falls back to the first configured
// account rather than failing, so a degraded pool still answers.
func (r *Router) Select(ctx context.Context, req SelectRequest) (Selection, error) {
	r.mu.RLock()
	cfg, ok := r.configs[req.AgentID]
	r.mu.RUnlock()
	if !ok {
		return Selection{}, fmt.Errorf("%w: %s", ErrAgentNotConfigured, req.AgentID)
	}

	if cfg.Mode == ModeManual {
		r.metrics.RecordSelection(req.AgentID, string(ModeManual), "manual")
		return Selection{AccountID: cfg.DefaultAccount, Reason: ReasonManual}, nil
	}

	scores := r.scoreAll(ctx, req, cfg)
	for _, s := range scores {
		r.metrics.RecordAccountScore(req.AgentID, s.AccountID, s.TotalScore)
	}

	if sel, ok := r.pinnedSelection(req, cfg, scores); ok {
		r.metrics.RecordSelection(req.AgentID, string(ModeSmart), "pinned")
		return sel, nil
	}

	best := -1
	for i, s := range scores {
		if !s.Available {
			continue
		}
		// Strictly greater keeps the earliest configured account on ties.
		if best == -1 || s.TotalScore > scores[best].TotalScore {
			best = i
		}
	}

	if best == -1 {
		// Deliberate availability-over-correctness fallback; alert on the
		// failsafe metric to catch a silently degraded account pool.
		r.logger.Warn(ctx, "all accounts unavailable, using fail-safe fallback",
			"agent", req.AgentID, "account", cfg.Accounts[0])
		r.metrics.RecordFailsafe()
		r.metrics.RecordSelection(req.AgentID, string(ModeSmart), "failsafe")
		return Selection{AccountID: cfg.Accounts[0], Reason: ReasonFailsafe, Scores: scores}, nil
	}

	chosen := scores[best]
	r.pin(cfg, req.Session.SessionID, chosen.AccountID)
	r.metrics.RecordSelection(req.AgentID, string(ModeSmart), "scored")
	return Selection{AccountID: chosen.AccountID, Reason: ReasonScored, Scores: scores}, nil
}

// scoreAll resolves metadata for every configured account concurrently and
// scores them. Scoring starts only after all lookups complete; a failed
// lookup yields an unavailable zero score for that account.
func (r *Router) scoreAll(ctx context.Context, req SelectRequest, cfg Config) []AccountScore {
	infos := make([]*ModelInfo, len(cfg.Accounts))

	var wg sync.WaitGroup
	for i, accountID := range cfg.Accounts {
		wg.Add(1)
		go func(i int, accountID string) {
			defer wg.Done()
			info, err := r.lookup(ctx, accountID)
			if err != nil {
				r.logger.Warn(ctx, "model lookup failed", "account", accountID, "error", err)
				return
			}
			infos[i] = info
		}(i, accountID)
	}
	wg.Wait()

	scores := make([]AccountScore, len(cfg.Accounts))
	for i, accountID := range cfg.Accounts {
		if infos[i] == nil {
			scores[i] = AccountScore{AccountID: accountID, Available: false}
			continue
		}
		scores[i] = Score(req.Message, req.Session, accountID, *infos[i], cfg.Weights)
	}
	return scores
}

// pinnedSelection returns the pinned account when pinning applies: pinning
// enabled, a pin exists, the pin still references a configured account that
// scored available, and the caller did not force re-evaluation. A stale pin
// is ignored, never an error.
func (r *Router) pinnedSelection(req SelectRequest, cfg Config, scores []AccountScore) (Selection, bool) {
	if !cfg.PinSessions || req.Reevaluate {
		return Selection{}, false
	}

	pinned := req.Session.PinnedAccountID
	if pinned == "" && r.sessions != nil {
		pinned, _ = r.sessions.PinnedAccount(req.Session.SessionID)
	}
	if pinned == "" {
		return Selection{}, false
	}

	for _, s := range scores {
		if s.AccountID == pinned && s.Available {
			return Selection{AccountID: pinned, Reason: ReasonPinned, Scores: scores}, true
		}
	}
	return Selection{}, false
}

func (r *Router) pin(cfg Config, sessionID, accountID string) {
	if cfg.PinSessions && r.sessions != nil {
		r.sessions.Pin(sessionID, accountID)
	}
}

// Failover returns the next-highest-scoring available account that is not
// failedID, searching forward through the ranked list and wrapping around
// once. It returns ErrNoAccountAvailable only when every account is
// unavailable.
func Failover(failedID string, scores []AccountScore) (string, error) {
	if len(scores) == 0 {
		return "", ErrNoAccountAvailable
	}

	ranked := make([]AccountScore, len(scores))
	copy(ranked, scores)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].TotalScore > ranked[j].TotalScore
	})

	start := 0
	for i, s := range ranked {
		if s.AccountID == failedID {
			start = i
			break
		}
	}

	for offset := 1; offset <= len(ranked); offset++ {
		candidate := ranked[(start+offset)%len(ranked)]
		if candidate.AccountID == failedID || !candidate.Available {
			continue
		}
		return candidate.AccountID, nil
	}
	return "", ErrNoAccountAvailable
}
