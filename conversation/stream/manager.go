package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"dental-lab-admin/chatkit/conversation/models"
	"dental-lab-admin/chatkit/pkg/logger"
	"dental-lab-admin/chatkit/pkg/metrics"
)

// State is the manager's lifecycle position.
type State string

const (
	// StateIdle means no channel exists yet.
	StateIdle State = "idle"
	// StateConnecting means a dial is in flight or a reconnect is pending.
	StateConnecting State = "connecting"
	// StateOpen means the channel is live and acknowledged.
	StateOpen State = "open"
	// StateClosed means the channel ended, either by server end event or by
	// teardown.
	StateClosed State = "closed"
)

// DefaultReconnectDelay is the fixed wait before re-dialing after a
// transport error. Retries are unconditional and indefinite; availability is
// preferred over backoff sophistication.
const DefaultReconnectDelay = 3 * time.Second

// Sink receives batches of genuinely new messages in arrival order. It is
// only invoked with non-empty batches.
type Sink func(batch []models.Message)

// Config wires a Manager.
type Config struct {
	Dialer         Dialer
	Sink           Sink
	ReconnectDelay time.Duration
	Logger         *logger.Logger
	Metrics        *metrics.StreamMetrics
}

// Manager owns one conversation's live stream session: the channel handle,
// the connected flag, the seen-id set and the resume high-water mark. A
// Manager is created when a conversation is opened and torn down when it
// changes or the owning view goes away; the seen set is never shared across
// conversations.
type Manager struct {
	cfg Config
	log *logger.Logger

	mu             sync.Mutex
	ctx            context.Context
	conversationID string
	state          State
	connected      bool
	ch             Channel
	seen           map[int64]struct{}
	hwm            int64
	generation     int
	reconnect      *time.Timer
	done           bool
}

// NewManager creates a stream manager in the Idle state.
func NewManager(cfg Config) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	log := cfg.Logger
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Manager{
		cfg:   cfg,
		log:   log.WithComponent("stream"),
		state: StateIdle,
	}
}

// Open transitions Idle -> Connecting for the given conversation, seeding
// the dedupe set and resume cursor from already-displayed messages. It never
// opens a second concurrent channel: if a channel handle is live or a dial
// is in flight the call is a no-op.
func (m *Manager) Open(ctx context.Context, conversationID string, seed []models.Message) {
	m.mu.Lock()
	if m.done || m.ch != nil || m.state == StateConnecting {
		m.mu.Unlock()
		return
	}
	m.ctx = ctx
	m.conversationID = conversationID
	m.seen = make(map[int64]struct{}, len(seed))
	m.hwm = 0
	for _, msg := range seed {
		m.seen[msg.ID] = struct{}{}
		if msg.ID > m.hwm {
			m.hwm = msg.ID
		}
	}
	m.state = StateConnecting
	gen := m.generation
	m.mu.Unlock()

	go m.dial(gen)
}

// Close tears the session down: synchronously closes any open channel,
// clears the handle and connected flag, and cancels a pending reconnect.
// Reconnect attempts that already fired observe the bumped generation and
// stand down, so updates never leak into the next conversation's view.
func (m *Manager) Close() {
	m.mu.Lock()
	m.generation++
	m.done = true
	m.state = StateClosed
	m.connected = false
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	ch := m.ch
	m.ch = nil
	m.seen = nil
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the channel is live and acknowledged.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// HighWaterMark returns the resume cursor: the greatest message id observed
// so far. It never decreases within a session.
func (m *Manager) HighWaterMark() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hwm
}

// MarkSent records a locally-sent message id so a reconnecting stream does
// not redeliver it. Returns false if the id was already known.
func (m *Manager) MarkSent(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done || m.seen == nil {
		return false
	}
	if _, dup := m.seen[id]; dup {
		return false
	}
	m.seen[id] = struct{}{}
	if id > m.hwm {
		m.hwm = id
	}
	return true
}

func (m *Manager) dial(gen int) {
	m.mu.Lock()
	if m.generation != gen || m.done {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	conversationID := m.conversationID
	resume := m.hwm
	m.mu.Unlock()

	ch, err := m.cfg.Dialer.Dial(ctx, conversationID, resume)
	if err != nil {
		m.log.Warn("stream dial failed",
			"conversation_id", conversationID,
			"resume_from", resume,
			"error", err.Error(),
		)
		m.scheduleReconnect(gen)
		return
	}

	m.mu.Lock()
	if m.generation != gen || m.done {
		m.mu.Unlock()
		ch.Close()
		return
	}
	m.ch = ch
	m.mu.Unlock()

	go m.pump(gen, ch)
}

// pump consumes channel events until the channel ends.
func (m *Manager) pump(gen int, ch Channel) {
	for ev := range ch.Events() {
		switch ev.Kind {
		case KindConnected:
			m.onConnected(gen)
		case KindData:
			m.onData(gen, ev.Payload)
		case KindEnd:
			m.onEnd(gen, ch)
			return
		}
	}
	if err := ch.Err(); err != nil {
		m.onError(gen, err)
	}
}

// onConnected handles Connecting -> Open.
func (m *Manager) onConnected(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen || m.done {
		return
	}
	m.state = StateOpen
	m.connected = true
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.Connects.Add(context.Background(), 1)
	}
	m.log.Info("stream open", "conversation_id", m.conversationID, "resume_from", m.hwm)
}

type dataFrame struct {
	Messages []models.Record `json:"messages"`
}

// onData is the steady-state Open -> Open transition.
func (m *Manager) onData(gen int, payload []byte) {
	if string(bytes.TrimSpace(payload)) == HeartbeatSentinel {
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.Heartbeats.Add(context.Background(), 1)
		}
		return
	}

	var frame dataFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		// Malformed frames never crash the stream or close the channel.
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.FramesDropped.Add(context.Background(), 1)
		}
		m.log.Debug("dropped malformed frame", "error", err.Error())
		return
	}

	incoming := models.FromRecords(frame.Messages)

	m.mu.Lock()
	if m.generation != gen || m.done {
		m.mu.Unlock()
		return
	}
	var fresh []models.Message
	for _, msg := range incoming {
		if _, dup := m.seen[msg.ID]; dup {
			continue
		}
		m.seen[msg.ID] = struct{}{}
		if msg.ID > m.hwm {
			m.hwm = msg.ID
		}
		fresh = append(fresh, msg)
	}
	m.mu.Unlock()

	if m.cfg.Metrics != nil && len(incoming) > len(fresh) {
		m.cfg.Metrics.Duplicates.Add(context.Background(), int64(len(incoming)-len(fresh)))
	}
	if len(fresh) == 0 {
		// True no-op: the sink is not invoked for fully-duplicate batches.
		return
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.Appended.Add(context.Background(), int64(len(fresh)))
	}
	if m.cfg.Sink != nil {
		m.cfg.Sink(fresh)
	}
}

// onEnd handles the server-initiated close: Open -> Closed, no reconnect.
func (m *Manager) onEnd(gen int, ch Channel) {
	m.mu.Lock()
	if m.generation != gen || m.done {
		m.mu.Unlock()
		return
	}
	m.state = StateClosed
	m.connected = false
	if m.ch == ch {
		m.ch = nil
	}
	conversationID := m.conversationID
	m.mu.Unlock()

	ch.Close()
	m.log.Info("stream ended by server", "conversation_id", conversationID)
}

// onError handles a transport-level error: clear the connected flag and
// re-attempt after the fixed delay, resuming from the current high-water
// mark. There is no retry cap.
func (m *Manager) onError(gen int, err error) {
	m.mu.Lock()
	if m.generation != gen || m.done {
		m.mu.Unlock()
		return
	}
	m.connected = false
	m.state = StateConnecting
	conversationID := m.conversationID
	m.mu.Unlock()

	m.log.Warn("stream transport error, reconnecting",
		"conversation_id", conversationID,
		"delay", m.cfg.ReconnectDelay.String(),
		"error", err.Error(),
	)
	m.scheduleReconnect(gen)
}

// scheduleReconnect arms the owned reconnect timer. The fired timer
// re-checks the session generation before acting so teardown always wins.
func (m *Manager) scheduleReconnect(gen int) {
	m.mu.Lock()
	if m.generation != gen || m.done {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.reconnect = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		if m.generation != gen || m.done {
			m.mu.Unlock()
			return
		}
		m.reconnect = nil
		// Close the stale handle, if any, before re-dialing.
		stale := m.ch
		m.ch = nil
		m.mu.Unlock()

		if stale != nil {
			stale.Close()
		}
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.Reconnects.Add(context.Background(), 1)
		}
		m.dial(gen)
	})
	m.mu.Unlock()
}
