// Package conversation presents one order's chat thread: an id-ordered,
// deduplicated message list merged from the history load, the live stream
// and locally-sent echoes.
package conversation

import (
	"context"
	"sync"
	"time"

	"dental-lab-admin/chatkit/api"
	"dental-lab-admin/chatkit/conversation/models"
	"dental-lab-admin/chatkit/conversation/service"
	"dental-lab-admin/chatkit/conversation/stream"
	"dental-lab-admin/chatkit/identity"
	"dental-lab-admin/chatkit/pkg/errors"
	"dental-lab-admin/chatkit/pkg/logger"
	"dental-lab-admin/chatkit/pkg/metrics"
)

// Options wires a Thread.
type Options struct {
	API      *api.Client
	Resolver *identity.Resolver
	// Dialer overrides the stream transport; defaults to SSE.
	Dialer         stream.Dialer
	ReconnectDelay time.Duration
	PendingExpiry  time.Duration
	Logger         *logger.Logger
	StreamMetrics  *metrics.StreamMetrics
	ComposerMetrics *metrics.ComposerMetrics
	// OnUpdate, if set, fires after every change to the displayed list. It
	// is invoked from the stream goroutine and must not block.
	OnUpdate func()
}

// Thread is the view model for one conversation. A conversation switch means
// closing the old Thread and opening a new one; nothing is shared between
// them.
type Thread struct {
	id       string
	log      *logger.Logger
	onUpdate func()

	history  *service.HistoryService
	composer *service.Composer
	manager  *stream.Manager
	api      *api.Client

	cancel context.CancelFunc

	mu        sync.RWMutex
	messages  []models.Message
	maxID     int64
	streaming bool
	closed    bool
}

// Open loads history for the conversation and then, strictly afterwards,
// opens the live stream. History failure is not fatal: the thread starts
// empty and the stream still delivers. Open honors ctx cancellation up to
// the point the stream is handed its own lifetime; a canceled ctx before
// that returns an error and mutates nothing.
func Open(ctx context.Context, conversationID string, opts Options) (*Thread, error) {
	if conversationID == "" {
		return nil, errors.NewValidationError("no_conversation", "conversation id is required")
	}

	log := opts.Logger
	if log == nil {
		log = logger.GetGlobal()
	}
	log = log.WithConversation(conversationID)

	dialer := opts.Dialer
	if dialer == nil {
		dialer = stream.NewSSEDialer(opts.API)
	}

	t := &Thread{
		id:       conversationID,
		log:      log,
		onUpdate: opts.OnUpdate,
		api:      opts.API,
		history:  service.NewHistoryService(opts.API, log),
		composer: service.NewComposer(service.ComposerOptions{
			API:           opts.API,
			Resolver:      opts.Resolver,
			PendingExpiry: opts.PendingExpiry,
			Metrics:       opts.ComposerMetrics,
			Logger:        log,
		}),
	}
	t.manager = stream.NewManager(stream.Config{
		Dialer:         dialer,
		Sink:           t.appendBatch,
		ReconnectDelay: opts.ReconnectDelay,
		Logger:         log,
		Metrics:        opts.StreamMetrics,
	})

	// History must complete, successfully or not, before the first
	// Idle -> Connecting transition.
	seed := t.history.Load(ctx, conversationID)

	// A conversation switch during the fetch must not leak this result
	// anywhere.
	if err := ctx.Err(); err != nil {
		t.manager.Close()
		t.composer.Close()
		return nil, err
	}

	t.mu.Lock()
	t.messages = seed
	for _, m := range seed {
		if m.ID > t.maxID {
			t.maxID = m.ID
		}
	}
	t.mu.Unlock()

	// The stream requires a credential and an actor identity; without them
	// the thread stays read-only history.
	_, idErr := opts.Resolver.Resolve(ctx)
	if opts.API.Token() != "" && idErr == nil {
		streamCtx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		t.mu.Lock()
		t.streaming = true
		t.mu.Unlock()
		t.manager.Open(streamCtx, conversationID, seed)
	} else {
		log.Info("stream not opened", "reason", "no credential or identity")
	}

	return t, nil
}

// ID returns the conversation id.
func (t *Thread) ID() string { return t.id }

// Messages returns a snapshot of the displayed list. Ids are unique and
// non-decreasing.
func (t *Thread) Messages() []models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the displayed message count.
func (t *Thread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// HighWaterMark returns the greatest message id observed for this
// conversation.
func (t *Thread) HighWaterMark() int64 {
	if hwm := t.manager.HighWaterMark(); hwm > 0 {
		return hwm
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxID
}

// Connected reports whether the live channel is open and acknowledged.
func (t *Thread) Connected() bool { return t.manager.Connected() }

// StreamState exposes the manager's lifecycle state.
func (t *Thread) StreamState() stream.State { return t.manager.State() }

// Pending exposes the in-flight upload set for UI suppression.
func (t *Thread) Pending() *service.PendingSet { return t.composer.Pending() }

// DownloadURL builds the fetch URL for a message attachment.
func (t *Thread) DownloadURL(fileRef string) string { return t.api.DownloadURL(fileRef) }

// SendText submits trimmed text. Validation failures make no network call;
// transport failures leave the caller's input for manual retry. On success
// the local echo is appended (unless the stream already delivered it) and
// the resume cursor advances so a reconnect will not redeliver it.
func (t *Thread) SendText(ctx context.Context, text string) (models.Message, error) {
	msg, err := t.composer.Send(ctx, t.id, text)
	if err != nil {
		return models.Message{}, err
	}

	t.mu.RLock()
	streaming := t.streaming
	t.mu.RUnlock()

	if streaming {
		if t.manager.MarkSent(msg.ID) {
			t.appendBatch([]models.Message{msg})
		}
	} else {
		t.appendBatch([]models.Message{msg})
	}
	return msg, nil
}

// SendFiles uploads each file independently and reports per-file outcomes.
// The resulting messages arrive via the stream; the pending keys suppress
// double-counting in the meantime.
func (t *Thread) SendFiles(ctx context.Context, files []service.FileUpload) []service.FileResult {
	return t.composer.SendAttachments(ctx, t.id, files)
}

// Close tears the thread down: the channel is closed synchronously, pending
// reconnects are cancelled and late results are discarded.
func (t *Thread) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}
	t.manager.Close()
	t.composer.Close()
}

// appendBatch receives genuinely new messages from the stream manager (or a
// local echo) in arrival order. Both sources deliver non-decreasing ids, so
// the list is never re-sorted.
func (t *Thread) appendBatch(batch []models.Message) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.messages = append(t.messages, batch...)
	for _, m := range batch {
		if m.ID > t.maxID {
			t.maxID = m.ID
		}
	}
	onUpdate := t.onUpdate
	t.mu.Unlock()

	if onUpdate != nil {
		onUpdate()
	}
}
