// Package chattest provides an in-process fake order-chat backend for tests
// and demos: the history, send, attachment and live-stream endpoints with
// controllable failure injection.
package chattest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"dental-lab-admin/chatkit/conversation/models"
)

// Options configures the fake backend.
type Options struct {
	// Token, if set, is required as a bearer credential on every request.
	Token string
	// HeartbeatInterval paces keep-alive frames on open streams. Zero
	// disables heartbeats.
	HeartbeatInterval time.Duration
	// RateLimiter, if set, is installed in front of every route.
	RateLimiter *RateLimiter
}

type frame struct {
	event string // "", "end"
	data  string
}

type subscriber struct {
	ch   chan frame
	drop chan struct{}
}

type orderThread struct {
	records []models.Record
	subs    []*subscriber
}

// Server is the fake backend. All mutation is safe for concurrent use.
type Server struct {
	opts Options
	srv  *httptest.Server

	mu          sync.Mutex
	orders      map[string]*orderThread
	files       map[string][]byte
	nextID      int64
	failHistory bool
	streamDials []int64
}

// NewServer starts a fake backend on a local listener.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:   opts,
		orders: make(map[string]*orderThread),
		files:  make(map[string][]byte),
	}

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	if opts.RateLimiter != nil {
		engine.Use(opts.RateLimiter.Middleware())
	}
	engine.Use(s.authMiddleware())

	engine.GET("/api/orders/:id/messages", s.handleHistory)
	engine.POST("/api/orders/:id/messages", s.handleSend)
	engine.POST("/api/orders/:id/attachments", s.handleUpload)
	engine.GET("/api/orders/:id/stream", s.handleStream)
	engine.GET("/api/files/:ref", s.handleDownload)

	s.srv = httptest.NewServer(engine)
	return s
}

// URL returns the backend base URL.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the backend down, ending every open stream.
func (s *Server) Close() {
	s.mu.Lock()
	for _, t := range s.orders {
		for _, sub := range t.subs {
			close(sub.drop)
		}
		t.subs = nil
	}
	s.mu.Unlock()
	s.srv.Close()
}

// FailHistory makes the history endpoint return HTTP 500 until disabled.
func (s *Server) FailHistory(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failHistory = fail
}

// StreamDials returns the resume cursors of every stream connection
// attempt, in order.
func (s *Server) StreamDials() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.streamDials))
	copy(out, s.streamDials)
	return out
}

// Post appends a message server-side and broadcasts it to open streams.
func (s *Server) Post(orderID string, role models.Role, name, text string) models.Record {
	return s.append(orderID, string(role), name, text, "")
}

// PostAttachment appends an attachment message and broadcasts it.
func (s *Server) PostAttachment(orderID string, role models.Role, name, fileRef string) models.Record {
	return s.append(orderID, string(role), name, "", fileRef)
}

// Rebroadcast redelivers existing records to open streams, duplicates the
// client is expected to filter.
func (s *Server) Rebroadcast(orderID string, ids ...int64) {
	s.mu.Lock()
	t := s.thread(orderID)
	var batch []models.Record
	for _, r := range t.records {
		for _, id := range ids {
			if r.ID == id {
				batch = append(batch, r)
			}
		}
	}
	subs := append([]*subscriber(nil), t.subs...)
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	payload := dataPayload(batch)
	for _, sub := range subs {
		sub.send(frame{data: payload})
	}
}

// EndStreams sends the server-initiated end event on every open stream for
// the order.
func (s *Server) EndStreams(orderID string) {
	s.mu.Lock()
	t := s.thread(orderID)
	subs := append([]*subscriber(nil), t.subs...)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.send(frame{event: "end"})
	}
}

// DropStreams severs every open stream for the order without an end event,
// simulating a transport failure.
func (s *Server) DropStreams(orderID string) {
	s.mu.Lock()
	t := s.thread(orderID)
	subs := t.subs
	t.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		close(sub.drop)
	}
}

// OpenStreamCount reports how many live streams the order currently has.
func (s *Server) OpenStreamCount(orderID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.thread(orderID).subs)
}

func (sub *subscriber) send(f frame) {
	select {
	case sub.ch <- f:
	case <-sub.drop:
	}
}

func (s *Server) thread(orderID string) *orderThread {
	t, ok := s.orders[orderID]
	if !ok {
		t = &orderThread{}
		s.orders[orderID] = t
	}
	return t
}

func (s *Server) append(orderID, role, name, text, fileRef string) models.Record {
	s.mu.Lock()
	s.nextID++
	rec := models.Record{
		ID:            s.nextID,
		OrderID:       orderID,
		Message:       text,
		AuthorRole:    role,
		AuthorName:    name,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		AttachmentRef: fileRef,
	}
	t := s.thread(orderID)
	t.records = append(t.records, rec)
	subs := append([]*subscriber(nil), t.subs...)
	s.mu.Unlock()

	payload := dataPayload([]models.Record{rec})
	for _, sub := range subs {
		sub.send(frame{data: payload})
	}
	return rec
}

func dataPayload(records []models.Record) string {
	b, _ := json.Marshal(struct {
		Messages []models.Record `json:"messages"`
	}{Messages: records})
	return string(b)
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.Token == "" {
			c.Next()
			return
		}
		if c.GetHeader("Authorization") != "Bearer "+s.opts.Token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status":  "error",
				"message": "invalid credential",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHistory(c *gin.Context) {
	s.mu.Lock()
	if s.failHistory {
		s.mu.Unlock()
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "history unavailable"})
		return
	}
	t := s.thread(c.Param("id"))
	records := append([]models.Record(nil), t.records...)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": records})
}

func (s *Server) handleSend(c *gin.Context) {
	var body struct {
		Message    string `json:"message"`
		AuthorRole string `json:"author_role"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "message is required"})
		return
	}
	rec := s.append(c.Param("id"), body.AuthorRole, displayName(body.AuthorRole), body.Message, "")
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{"id": rec.ID}})
}

func (s *Server) handleUpload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "file is required"})
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "unreadable file"})
		return
	}

	s.mu.Lock()
	ref := fmt.Sprintf("file-%d-%s", len(s.files)+1, header.Filename)
	s.files[ref] = content
	s.mu.Unlock()

	rec := s.append(c.Param("id"), string(models.RoleClient), "uploader", "", ref)
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{"id": rec.ID, "file_ref": ref}})
}

func (s *Server) handleDownload(c *gin.Context) {
	s.mu.Lock()
	content, ok := s.files[c.Param("ref")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "no such file"})
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", content)
}

func (s *Server) handleStream(c *gin.Context) {
	orderID := c.Param("id")
	lastID, _ := strconv.ParseInt(c.Query("last_id"), 10, 64)

	sub := &subscriber{
		ch:   make(chan frame, 32),
		drop: make(chan struct{}),
	}

	s.mu.Lock()
	s.streamDials = append(s.streamDials, lastID)
	t := s.thread(orderID)
	// Backlog past the resume cursor goes out first.
	var backlog []models.Record
	for _, r := range t.records {
		if r.ID > lastID {
			backlog = append(backlog, r)
		}
	}
	t.subs = append(t.subs, sub)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		t := s.thread(orderID)
		for i, existing := range t.subs {
			if existing == sub {
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.SSEvent("connected", "ok")
	c.Writer.Flush()

	if len(backlog) > 0 {
		c.SSEvent("message", dataPayload(backlog))
		c.Writer.Flush()
	}

	var heartbeat <-chan time.Time
	if s.opts.HeartbeatInterval > 0 {
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case f := <-sub.ch:
			if f.event == "end" {
				c.SSEvent("end", "bye")
				c.Writer.Flush()
				return
			}
			c.SSEvent("message", f.data)
			c.Writer.Flush()
		case <-heartbeat:
			c.SSEvent("message", "ping")
			c.Writer.Flush()
		case <-sub.drop:
			// Sever without an end event: transport error from the
			// client's point of view.
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func displayName(role string) string {
	switch models.Role(role) {
	case models.RoleDesigner:
		return "Designer"
	case models.RoleAdmin:
		return "Admin"
	default:
		return "Client"
	}
}
