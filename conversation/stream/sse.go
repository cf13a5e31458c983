package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"dental-lab-admin/chatkit/api"
	"dental-lab-admin/chatkit/pkg/errors"
)

// SSEDialer opens server-sent-event channels against the chat backend.
type SSEDialer struct {
	// URL builds the stream endpoint with the resume cursor.
	URL func(conversationID string, resumeFrom int64) string
	// Token is the bearer credential sent on the dial request.
	Token string
	// Client is the underlying HTTP client. It must not carry a timeout;
	// the channel is long-lived.
	Client *http.Client
}

// NewSSEDialer wires an SSE dialer from the REST client's endpoint and
// credential.
func NewSSEDialer(c *api.Client) *SSEDialer {
	return &SSEDialer{
		URL:    c.StreamURL,
		Token:  c.Token(),
		Client: &http.Client{},
	}
}

// Dial implements Dialer.
func (d *SSEDialer) Dial(ctx context.Context, conversationID string, resumeFrom int64) (Channel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL(conversationID, resumeFrom), nil)
	if err != nil {
		return nil, errors.NewTransportError("stream_request", "cannot build stream request").WithCause(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if d.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.Token)
	}

	client := d.Client
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.NewTransportError("stream_unreachable", "stream endpoint unreachable").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.NewTransportError("stream_status", fmt.Sprintf("stream endpoint returned %d", resp.StatusCode))
	}

	ch := &sseChannel{
		body:   resp.Body,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	go ch.readLoop()
	return ch, nil
}

type sseChannel struct {
	body   io.ReadCloser
	events chan Event
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func (c *sseChannel) Events() <-chan Event { return c.events }

func (c *sseChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *sseChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.body.Close()
	})
	return nil
}

// readLoop parses the SSE wire format: "event:"/"data:" lines accumulated
// until a blank line dispatches one event. Comment lines (":") are ignored.
func (c *sseChannel) readLoop() {
	defer close(c.events)

	scanner := bufio.NewScanner(c.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	var data strings.Builder

	dispatch := func() {
		if eventName == "" && data.Len() == 0 {
			return
		}
		ev := Event{Kind: KindData, Payload: []byte(data.String())}
		switch eventName {
		case "connected":
			ev = Event{Kind: KindConnected}
		case "end":
			ev = Event{Kind: KindEnd}
		}
		select {
		case c.events <- ev:
		case <-c.done:
		}
		eventName = ""
		data.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	// Reader ended. Intentional Close is not a transport error.
	select {
	case <-c.done:
		return
	default:
	}
	err := scanner.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	c.mu.Lock()
	c.err = errors.NewTransportError("stream_read", "stream connection lost").WithCause(err)
	c.mu.Unlock()
}
