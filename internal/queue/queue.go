// Package queue implements a priority-ordered, persisted message queue with
// timer-driven batch dispatch and retry-with-requeue.
package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/switchboardlabs/switchboard/internal/observability"
)

// Priority orders messages within a queue. Urgent dispatches first.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// rank maps priorities to sort order; lower dispatches first. Unknown values
// sort with normal.
func (p Priority) rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// ParsePriority normalizes a raw priority string, defaulting to normal.
func ParsePriority(raw string) Priority {
	switch Priority(raw) {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return Priority(raw)
	default:
		return PriorityNormal
	}
}

// Message is one unit of queued work. The queue owns it exclusively while
// pending or processing; ownership transfers to the handler for the duration
// of one batch call.
type Message struct {
	ID         string            `json:"id"`
	ChannelID  string            `json:"channelId"`
	AccountID  string            `json:"accountId,omitempty"`
	AgentID    string            `json:"agentId,omitempty"`
	Content    string            `json:"content"`
	Priority   Priority          `json:"priority"`
	CreatedAt  time.Time         `json:"createdAt"`
	ExpiresAt  time.Time         `json:"expiresAt,omitempty"`
	RetryCount int               `json:"retryCount"`
	MaxRetries int               `json:"maxRetries"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// expired reports whether the message's expiry has passed at now.
func (m Message) expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

// BatchConfig configures batch dispatch for one queue.
type BatchConfig struct {
	// BatchSize caps messages per handler call. Defaults to 10.
	BatchSize int `yaml:"batchSize" json:"batchSize"`
	// Interval is the dispatch tick. Defaults to 5s.
	Interval time.Duration `yaml:"interval" json:"interval"`
	// MaxWait bounds the handler call duration via context deadline.
	// Zero means no deadline.
	MaxWait time.Duration `yaml:"maxWait" json:"maxWait"`
}

func (c BatchConfig) withDefaults() BatchConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	return c
}

// Handler processes one batch. A non-nil error fails the whole batch; there
// are no partial-success semantics.
type Handler func(ctx context.Context, batch []Message) error

// Stats is a point-in-time snapshot of one queue.
type Stats struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
	// AvgProcessingTime is the mean of enqueue-to-completion durations,
	// recomputed from completion timestamps on every read.
	AvgProcessingTime time.Duration
}

// FailedMessage pairs an exhausted message with its terminal error.
type FailedMessage struct {
	Message Message
	Err     string
}

type completion struct {
	createdAt   time.Time
	completedAt time.Time
}

// workQueue is the per-name queue state. All mutable fields share one mutex;
// the handler runs outside it.
type workQueue struct {
	mu         sync.Mutex
	name       string
	pending    []Message
	processing map[string]Message
	completed  map[string]completion
	failed     map[string]FailedMessage
	handler    Handler
	cfg        BatchConfig
	inFlight   bool
	stop       chan struct{}
}

// Manager owns all named queues, their dispatch loops, and their persistence.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*workQueue

	store   Store
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time

	stopped bool
}

// NewManager creates a queue manager. store is required (use NewNullStore to
// disable persistence); logger and metrics may be nil.
func NewManager(store Store, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		queues:  make(map[string]*workQueue),
		store:   store,
		logger:  logger.WithFields("component", "queue"),
		metrics: metrics,
		now:     time.Now,
	}
}

// ensureQueue returns the named queue, loading its persisted snapshot on
// first reference. Corrupt or missing snapshots load as empty.
func (m *Manager) ensureQueue(name string) *workQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[name]; ok {
		return q
	}

	q := &workQueue{
		name:       name,
		processing: make(map[string]Message),
		completed:  make(map[string]completion),
		failed:     make(map[string]FailedMessage),
		cfg:        BatchConfig{}.withDefaults(),
	}
	if pending, err := m.store.Load(name); err != nil {
		m.logger.Warn(context.Background(), "queue snapshot load failed, starting empty",
			"queue", name, "error", err)
	} else {
		q.pending = pending
		sortPending(q.pending)
	}
	m.queues[name] = q
	m.metrics.SetQueueDepth(name, len(q.pending))
	return q
}

// Enqueue inserts a message, assigning an id and creation time when unset.
// Already-expired messages are dropped with a log line, not an error. The
// returned id identifies the message in stats and the failed set.
//
// The persisted snapshot write is fire-and-forget: the caller does not block
// on durability, and a failed write never rolls back the in-memory insert.
func (m *Manager) Enqueue(name string, msg Message) string {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	if msg.Priority == "" {
		msg.Priority = PriorityNormal
	}

	q := m.ensureQueue(name)

	if msg.expired(m.now()) {
		m.logger.Info(context.Background(), "dropping expired message on enqueue",
			"queue", name, "id", msg.ID)
		m.metrics.RecordEnqueue(name, "expired")
		return msg.ID
	}

	q.mu.Lock()
	q.pending = append(q.pending, msg)
	sortPending(q.pending)
	snapshot := snapshotPending(q.pending)
	depth := len(q.pending)
	q.mu.Unlock()

	m.metrics.RecordEnqueue(name, "accepted")
	m.metrics.SetQueueDepth(name, depth)
	go m.persist(name, snapshot)
	return msg.ID
}

// RegisterHandler installs the batch handler and dispatch schedule for a
// queue, replacing any prior registration and cancelling its timer. After
// Stop the manager is dead and registration is a no-op; the manager mutex
// serializes the check against Stop so no loop outlives it.
func (m *Manager) RegisterHandler(name string, handler Handler, cfg BatchConfig) {
	q := m.ensureQueue(name)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}

	q.mu.Lock()
	if q.stop != nil {
		close(q.stop)
	}
	q.handler = handler
	q.cfg = cfg.withDefaults()
	stop := make(chan struct{})
	q.stop = stop
	interval := q.cfg.Interval
	q.mu.Unlock()

	go m.dispatchLoop(q, interval, stop)
}

// dispatchLoop drives batch dispatch on a fixed tick until stop closes.
func (m *Manager) dispatchLoop(q *workQueue, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.dispatchOnce(q)
		}
	}
}

// dispatchOnce pulls and processes one batch. A dispatch still in flight
// when the next tick fires is skipped, not queued. The handler runs without
// the queue mutex held.
func (m *Manager) dispatchOnce(q *workQueue) {
	q.mu.Lock()
	if q.inFlight || q.handler == nil {
		q.mu.Unlock()
		return
	}

	now := m.now()
	batch := make([]Message, 0, q.cfg.BatchSize)
	remaining := q.pending[:0]
	for _, msg := range q.pending {
		if msg.expired(now) {
			m.metrics.RecordQueueOutcome(q.name, "expired")
			continue
		}
		if len(batch) < q.cfg.BatchSize {
			q.processing[msg.ID] = msg
			batch = append(batch, msg)
			continue
		}
		remaining = append(remaining, msg)
	}
	q.pending = remaining

	if len(batch) == 0 {
		q.mu.Unlock()
		return
	}
	q.inFlight = true
	handler := q.handler
	maxWait := q.cfg.MaxWait
	snapshot := snapshotPending(q.pending)
	q.mu.Unlock()

	m.persist(q.name, snapshot)
	m.metrics.SetQueueDepth(q.name, len(snapshot))

	ctx := context.Background()
	if maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxWait)
		defer cancel()
	}

	start := m.now()
	err := handler(ctx, append([]Message(nil), batch...))
	m.metrics.ObserveBatch(q.name, m.now().Sub(start).Seconds())

	q.mu.Lock()
	if err == nil {
		for _, msg := range batch {
			delete(q.processing, msg.ID)
			q.completed[msg.ID] = completion{createdAt: msg.CreatedAt, completedAt: m.now()}
			m.metrics.RecordQueueOutcome(q.name, "completed")
		}
	} else {
		m.logger.Warn(ctx, "batch handler failed", "queue", q.name,
			"batch_size", len(batch), "error", err)
		for _, msg := range batch {
			delete(q.processing, msg.ID)
			if msg.RetryCount < msg.MaxRetries {
				msg.RetryCount++
				// Requeue at the front of its tier: the stable sort keys on
				// (priority, createdAt), and a retried message predates
				// anything enqueued since.
				q.pending = append([]Message{msg}, q.pending...)
				m.metrics.RecordQueueOutcome(q.name, "retried")
			} else {
				q.failed[msg.ID] = FailedMessage{Message: msg, Err: err.Error()}
				m.metrics.RecordQueueOutcome(q.name, "failed")
			}
		}
		sortPending(q.pending)
	}
	q.inFlight = false
	snapshot = snapshotPending(q.pending)
	depth := len(q.pending)
	q.mu.Unlock()

	m.persist(q.name, snapshot)
	m.metrics.SetQueueDepth(q.name, depth)
}

// Stats returns a snapshot of one queue's counters.
func (m *Manager) Stats(name string) Stats {
	q := m.ensureQueue(name)
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{
		Pending:    len(q.pending),
		Processing: len(q.processing),
		Completed:  len(q.completed),
		Failed:     len(q.failed),
	}
	if len(q.completed) > 0 {
		var total time.Duration
		for _, c := range q.completed {
			total += c.completedAt.Sub(c.createdAt)
		}
		stats.AvgProcessingTime = total / time.Duration(len(q.completed))
	}
	return stats
}

// Failed returns the terminal failures recorded for a queue.
func (m *Manager) Failed(name string) []FailedMessage {
	q := m.ensureQueue(name)
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]FailedMessage, 0, len(q.failed))
	for _, f := range q.failed {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Message.ID < out[j].Message.ID })
	return out
}

// Pending returns a copy of the pending messages in dispatch order.
func (m *Manager) Pending(name string) []Message {
	q := m.ensureQueue(name)
	q.mu.Lock()
	defer q.mu.Unlock()
	return snapshotPending(q.pending)
}

// Stop cancels all dispatch timers. Safe to call multiple times.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	for _, q := range m.queues {
		q.mu.Lock()
		if q.stop != nil {
			close(q.stop)
			q.stop = nil
		}
		q.mu.Unlock()
	}
}

// persist writes the pending snapshot through the store. Failures are logged
// and never propagate; in-memory state stays the source of truth for the
// process lifetime.
func (m *Manager) persist(name string, pending []Message) {
	if err := m.store.Save(name, pending); err != nil {
		m.logger.Error(context.Background(), "queue snapshot write failed",
			"queue", name, "error", err)
	}
}

// sortPending orders by priority rank, then creation time ascending (FIFO
// within a tier).
func sortPending(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Priority.rank() != msgs[j].Priority.rank() {
			return msgs[i].Priority.rank() < msgs[j].Priority.rank()
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

func snapshotPending(msgs []Message) []Message {
	return append([]Message(nil), msgs...)
}
