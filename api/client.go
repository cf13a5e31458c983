package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dental-lab-admin/chatkit/conversation/models"
	"dental-lab-admin/chatkit/pkg/errors"
)

const statusSuccess = "success"

// Client talks to the order-chat REST backend. It owns no retry policy of
// its own; callers decide how failures degrade.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	tracer  trace.Tracer
}

// Options configures a Client.
type Options struct {
	// BaseURL is the backend root, e.g. https://lab.example.com
	BaseURL string
	// Token is the pre-provisioned bearer credential.
	Token string
	// Timeout bounds each request; the stream channel is dialed separately
	// and is exempt.
	Timeout time.Duration
	// HTTPClient overrides the underlying client (tests).
	HTTPClient *http.Client
}

// NewClient creates a REST client for the chat backend.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: opts.BaseURL,
		token:   opts.Token,
		http:    hc,
		tracer:  otel.Tracer("chatkit/api"),
	}
}

// Token returns the configured credential. Empty means unauthenticated.
func (c *Client) Token() string { return c.token }

// envelope is the status wrapper every endpoint responds with.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// History fetches all historical records for a conversation in server order.
func (c *Client) History(ctx context.Context, conversationID string) ([]models.Record, error) {
	ctx, span := c.tracer.Start(ctx, "chat.history",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	u := fmt.Sprintf("%s/api/orders/%s/messages", c.baseURL, url.PathEscape(conversationID))
	env, err := c.do(ctx, http.MethodGet, u, "", nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var records []models.Record
	if err := json.Unmarshal(env.Data, &records); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.NewTransportError("history_decode", "undecodable history payload").WithCause(err)
	}
	span.SetAttributes(attribute.Int("chat.history.count", len(records)))
	return records, nil
}

// SendResult is the server acknowledgment for a text send.
type SendResult struct {
	ID int64 `json:"id"`
}

// Send posts a text message and returns the server-assigned message id.
func (c *Client) Send(ctx context.Context, conversationID, text string, role models.Role) (int64, error) {
	ctx, span := c.tracer.Start(ctx, "chat.send",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	body, err := json.Marshal(map[string]string{
		"message":     text,
		"author_role": string(role),
	})
	if err != nil {
		return 0, errors.NewTransportError("send_encode", "unencodable send payload").WithCause(err)
	}

	u := fmt.Sprintf("%s/api/orders/%s/messages", c.baseURL, url.PathEscape(conversationID))
	env, err := c.do(ctx, http.MethodPost, u, "application/json", bytes.NewReader(body))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	var res SendResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, errors.NewTransportError("send_decode", "undecodable send acknowledgment").WithCause(err)
	}
	return res.ID, nil
}

// UploadResult is the server acknowledgment for an attachment upload.
type UploadResult struct {
	ID      int64  `json:"id"`
	FileRef string `json:"file_ref"`
}

// UploadAttachment posts one file as a multipart upload. Multi-file
// selections are one call per file; each is independent.
func (c *Client) UploadAttachment(ctx context.Context, conversationID, filename string, content io.Reader) (UploadResult, error) {
	ctx, span := c.tracer.Start(ctx, "chat.upload",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("chat.upload.filename", filename),
		))
	defer span.End()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return UploadResult{}, errors.NewTransportError("upload_encode", "cannot build multipart body").WithCause(err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return UploadResult{}, errors.NewTransportError("upload_read", "cannot read attachment content").WithCause(err)
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, errors.NewTransportError("upload_encode", "cannot finalize multipart body").WithCause(err)
	}

	u := fmt.Sprintf("%s/api/orders/%s/attachments", c.baseURL, url.PathEscape(conversationID))
	env, err := c.do(ctx, http.MethodPost, u, mw.FormDataContentType(), &buf)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return UploadResult{}, err
	}

	var res UploadResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return UploadResult{}, errors.NewTransportError("upload_decode", "undecodable upload acknowledgment").WithCause(err)
	}
	return res, nil
}

// DownloadURL builds the fetch URL for a previously uploaded attachment.
// The caller only constructs the request; payload interpretation is not this
// subsystem's concern.
func (c *Client) DownloadURL(fileRef string) string {
	return fmt.Sprintf("%s/api/files/%s", c.baseURL, url.PathEscape(fileRef))
}

// Download opens the binary stream for an attachment. The caller must close
// the returned body.
func (c *Client) Download(ctx context.Context, fileRef string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DownloadURL(fileRef), nil)
	if err != nil {
		return nil, errors.NewTransportError("download_request", "cannot build download request").WithCause(err)
	}
	c.decorate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NewTransportError("download_unreachable", "attachment fetch failed").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.NewTransportError("download_status", fmt.Sprintf("attachment fetch returned %d", resp.StatusCode))
	}
	return resp.Body, nil
}

// StreamURL builds the live channel URL with the resume cursor. Every
// (re)connect passes the current high-water mark so the server only
// redelivers messages with a greater id.
func (c *Client) StreamURL(conversationID string, resumeFrom int64) string {
	return fmt.Sprintf("%s/api/orders/%s/stream?last_id=%s",
		c.baseURL, url.PathEscape(conversationID), strconv.FormatInt(resumeFrom, 10))
}

func (c *Client) decorate(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
}

func (c *Client) do(ctx context.Context, method, u, contentType string, body io.Reader) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.NewTransportError("request_build", "cannot build request").WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NewTransportError("unreachable", "backend unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, errors.NewTransportError("body_read", "cannot read response body").WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.NewTransportError("status", fmt.Sprintf("backend returned %d", resp.StatusCode)).
			WithDetails(string(raw))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.NewTransportError("envelope_decode", "malformed response envelope").WithCause(err)
	}
	if env.Status != statusSuccess {
		msg := env.Message
		if msg == "" {
			msg = "backend reported failure"
		}
		return nil, errors.NewTransportError("backend_failure", msg)
	}
	return &env, nil
}
