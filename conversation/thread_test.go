package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dental-lab-admin/chatkit/api"
	"dental-lab-admin/chatkit/conversation/models"
	"dental-lab-admin/chatkit/conversation/stream"
	"dental-lab-admin/chatkit/identity"
	chaterrors "dental-lab-admin/chatkit/pkg/errors"
)

type stubChannel struct {
	events chan stream.Event

	mu     sync.Mutex
	closed bool
}

func newStubChannel() *stubChannel {
	return &stubChannel{events: make(chan stream.Event, 32)}
}

func (c *stubChannel) Events() <-chan stream.Event { return c.events }
func (c *stubChannel) Err() error                  { return nil }

func (c *stubChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubChannel) emitConnected() {
	c.events <- stream.Event{Kind: stream.KindConnected}
}

func (c *stubChannel) emitRecords(records ...models.Record) {
	payload, err := json.Marshal(map[string][]models.Record{"messages": records})
	if err != nil {
		panic(err)
	}
	c.events <- stream.Event{Kind: stream.KindData, Payload: payload}
}

type stubDialer struct {
	mu      sync.Mutex
	dials   []int64
	channel *stubChannel
}

func (d *stubDialer) Dial(_ context.Context, _ string, resumeFrom int64) (stream.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, resumeFrom)
	if d.channel == nil {
		return nil, errors.New("no channel")
	}
	return d.channel, nil
}

func (d *stubDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *stubDialer) lastResume() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.dials) == 0 {
		return -1
	}
	return d.dials[len(d.dials)-1]
}

func historyServer(t *testing.T, records string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","data":[%s]}`, records)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func adminResolver() *identity.Resolver {
	return identity.NewResolver(identity.ProviderFunc(func(context.Context) (*identity.Identity, error) {
		return &identity.Identity{ActorID: "u-1", Role: models.RoleAdmin, DisplayName: "Back office"}, nil
	}))
}

func record(id int64, text string) models.Record {
	return models.Record{
		ID:         id,
		OrderID:    "ORD-31",
		Message:    text,
		AuthorRole: "designer",
		AuthorName: "Maya",
		CreatedAt:  "2026-04-01T10:30:00Z",
	}
}

func threadIDs(t *Thread) []int64 {
	msgs := t.Messages()
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

// History holds ids 1 and 2, the stream redelivers 2 alongside new 3: the
// view shows each id exactly once and the resume cursor lands on 3.
func TestThreadMergesHistoryAndStream(t *testing.T) {
	ts := historyServer(t, `
		{"id":1,"order_id":"ORD-31","message":"first","author_role":"client","author_name":"Dr. Okafor","created_at":"2026-04-01T09:15:00Z"},
		{"id":2,"order_id":"ORD-31","message":"second","author_role":"designer","author_name":"Maya","created_at":"2026-04-01T09:20:00Z"}`)

	ch := newStubChannel()
	dialer := &stubDialer{channel: ch}

	th, err := Open(context.Background(), "ORD-31", Options{
		API:      api.NewClient(api.Options{BaseURL: ts.URL, Token: "t"}),
		Resolver: adminResolver(),
		Dialer:   dialer,
	})
	require.NoError(t, err)
	defer th.Close()

	require.Equal(t, []int64{1, 2}, threadIDs(th))
	require.Eventually(t, func() bool { return dialer.dialCount() == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, int64(2), dialer.lastResume())

	ch.emitConnected()
	require.Eventually(t, th.Connected, time.Second, 2*time.Millisecond)

	ch.emitRecords(record(2, "second"), record(3, "third"))
	require.Eventually(t, func() bool { return th.Len() == 3 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3}, threadIDs(th))
	assert.Equal(t, int64(3), th.HighWaterMark())
}

func TestThreadOpenRequiresConversationID(t *testing.T) {
	_, err := Open(context.Background(), "", Options{})
	require.Error(t, err)
	assert.True(t, chaterrors.IsValidation(err))
}

// A conversation switch cancels the previous open; a cancellation observed
// after the history fetch must not leak a live thread.
func TestThreadOpenCanceledDuringHistory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","data":[]}`))
	}))
	defer ts.Close()

	dialer := &stubDialer{channel: newStubChannel()}
	_, err := Open(ctx, "ORD-31", Options{
		API:      api.NewClient(api.Options{BaseURL: ts.URL, Token: "t"}),
		Resolver: adminResolver(),
		Dialer:   dialer,
	})
	require.ErrorIs(t, err, context.Canceled)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, dialer.dialCount())
}

func TestThreadHistoryFailureDegradesToEmpty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.Error(w, "down", http.StatusInternalServerError)
		}
	}))
	defer ts.Close()

	ch := newStubChannel()
	dialer := &stubDialer{channel: ch}
	th, err := Open(context.Background(), "ORD-31", Options{
		API:      api.NewClient(api.Options{BaseURL: ts.URL, Token: "t"}),
		Resolver: adminResolver(),
		Dialer:   dialer,
	})
	require.NoError(t, err)
	defer th.Close()

	assert.Equal(t, 0, th.Len())

	// The stream still opens and delivers despite the failed history load.
	require.Eventually(t, func() bool { return dialer.dialCount() == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, int64(0), dialer.lastResume())
	ch.emitConnected()
	ch.emitRecords(record(1, "fresh"))
	require.Eventually(t, func() bool { return th.Len() == 1 }, time.Second, 2*time.Millisecond)
}

func TestThreadWithoutIdentityStaysReadOnly(t *testing.T) {
	ts := historyServer(t, `{"id":1,"order_id":"ORD-31","message":"only","author_role":"client","author_name":"Dr. Okafor","created_at":"2026-04-01T09:15:00Z"}`)

	dialer := &stubDialer{channel: newStubChannel()}
	th, err := Open(context.Background(), "ORD-31", Options{
		API:      api.NewClient(api.Options{BaseURL: ts.URL, Token: "t"}),
		Resolver: identity.NewResolver(),
		Dialer:   dialer,
	})
	require.NoError(t, err)
	defer th.Close()

	assert.Equal(t, 1, th.Len())
	assert.Equal(t, stream.StateIdle, th.StreamState())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, dialer.dialCount())

	_, sendErr := th.SendText(context.Background(), "hello")
	require.Error(t, sendErr)
	assert.True(t, chaterrors.IsAuth(sendErr))
}

func TestThreadSendTextLocalEcho(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			w.Write([]byte(`{"status":"success","data":[]}`))
			return
		}
		w.Write([]byte(`{"status":"success","data":{"id":5}}`))
	}))
	defer ts.Close()

	ch := newStubChannel()
	dialer := &stubDialer{channel: ch}
	th, err := Open(context.Background(), "ORD-31", Options{
		API:      api.NewClient(api.Options{BaseURL: ts.URL, Token: "t"}),
		Resolver: adminResolver(),
		Dialer:   dialer,
	})
	require.NoError(t, err)
	defer th.Close()

	ch.emitConnected()
	require.Eventually(t, th.Connected, time.Second, 2*time.Millisecond)

	msg, err := th.SendText(context.Background(), "Margin looks short on 14.")
	require.NoError(t, err)
	assert.Equal(t, int64(5), msg.ID)
	assert.Equal(t, []int64{5}, threadIDs(th))
	assert.Equal(t, int64(5), th.HighWaterMark())

	// The stream echo of the sent message is filtered, not double-shown.
	ch.emitRecords(record(5, "Margin looks short on 14."), record(6, "Noted."))
	require.Eventually(t, func() bool { return th.Len() == 2 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []int64{5, 6}, threadIDs(th))
}

func TestThreadClose(t *testing.T) {
	ts := historyServer(t, ``)

	ch := newStubChannel()
	dialer := &stubDialer{channel: ch}
	th, err := Open(context.Background(), "ORD-31", Options{
		API:      api.NewClient(api.Options{BaseURL: ts.URL, Token: "t"}),
		Resolver: adminResolver(),
		Dialer:   dialer,
	})
	require.NoError(t, err)

	ch.emitConnected()
	require.Eventually(t, th.Connected, time.Second, 2*time.Millisecond)

	th.Close()
	assert.Equal(t, stream.StateClosed, th.StreamState())
	assert.False(t, th.Connected())

	// Idempotent.
	th.Close()
}

func TestThreadOnUpdate(t *testing.T) {
	ts := historyServer(t, ``)

	ch := newStubChannel()
	dialer := &stubDialer{channel: ch}

	var mu sync.Mutex
	updates := 0
	th, err := Open(context.Background(), "ORD-31", Options{
		API:      api.NewClient(api.Options{BaseURL: ts.URL, Token: "t"}),
		Resolver: adminResolver(),
		Dialer:   dialer,
		OnUpdate: func() {
			mu.Lock()
			updates++
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer th.Close()

	ch.emitConnected()
	ch.emitRecords(record(1, "one"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return updates == 1
	}, time.Second, 2*time.Millisecond)
}
