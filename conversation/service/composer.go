package service

import (
	"context"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"dental-lab-admin/chatkit/api"
	"dental-lab-admin/chatkit/conversation/models"
	"dental-lab-admin/chatkit/identity"
	"dental-lab-admin/chatkit/pkg/errors"
	"dental-lab-admin/chatkit/pkg/logger"
	"dental-lab-admin/chatkit/pkg/metrics"
)

// Composer submits new text and file messages for a conversation.
type Composer struct {
	api      *api.Client
	resolver *identity.Resolver
	pending  *PendingSet
	metrics  *metrics.ComposerMetrics
	log      *logger.Logger
}

// ComposerOptions wires a Composer.
type ComposerOptions struct {
	API           *api.Client
	Resolver      *identity.Resolver
	PendingExpiry time.Duration
	Metrics       *metrics.ComposerMetrics
	Logger        *logger.Logger
}

// NewComposer creates a composer.
func NewComposer(opts ComposerOptions) *Composer {
	log := opts.Logger
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Composer{
		api:      opts.API,
		resolver: opts.Resolver,
		pending:  NewPendingSet(opts.PendingExpiry),
		metrics:  opts.Metrics,
		log:      log.WithComponent("composer"),
	}
}

// Pending exposes the in-flight upload set for UI suppression.
func (c *Composer) Pending() *PendingSet { return c.pending }

// Close cancels pending-set timers.
func (c *Composer) Close() { c.pending.Close() }

// validate checks the preconditions shared by text and file sends. A
// failure here means no network call was made.
func (c *Composer) validate(ctx context.Context, conversationID string) (*identity.Identity, error) {
	if conversationID == "" {
		return nil, errors.NewValidationError("no_conversation", "no active conversation")
	}
	id, err := c.resolver.Resolve(ctx)
	if err != nil {
		return nil, errors.NewAuthError("no_identity", "no actor identity available").WithCause(err)
	}
	return id, nil
}

// Send submits trimmed text. Blank input or missing conversation/identity is
// a no-op error without a network call. On success the returned Message is
// the locally-built echo carrying the server-assigned id; on failure the
// caller keeps its input and retries manually.
func (c *Composer) Send(ctx context.Context, conversationID, text string) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, errors.NewValidationError("empty_message", "message text is empty")
	}
	id, err := c.validate(ctx, conversationID)
	if err != nil {
		return models.Message{}, err
	}

	newID, err := c.api.Send(ctx, conversationID, text, id.Role)
	if err != nil {
		if c.metrics != nil {
			c.metrics.SendFailures.Add(ctx, 1)
		}
		c.log.LogError(err, "send failed", "conversation_id", conversationID)
		return models.Message{}, err
	}
	if c.metrics != nil {
		c.metrics.Sends.Add(ctx, 1)
	}

	return models.Message{
		ID:             newID,
		ConversationID: conversationID,
		AuthorRole:     id.Role,
		AuthorName:     id.DisplayName,
		Text:           text,
		SentAt:         models.FormatClock(time.Now()),
		Alignment:      id.Role.Alignment(),
	}, nil
}

// FileUpload is one attachment selected for sending.
type FileUpload struct {
	Name    string
	Content io.Reader
}

// FileResult is the per-file outcome of a multi-file send.
type FileResult struct {
	Name       string
	PendingKey string
	Result     api.UploadResult
	Err        error
}

// SendAttachment uploads one file. The pending key is registered before the
// upload starts and expires on its own schedule.
func (c *Composer) SendAttachment(ctx context.Context, conversationID string, f FileUpload) FileResult {
	res := FileResult{Name: f.Name}
	if f.Name == "" {
		res.Err = errors.NewValidationError("empty_filename", "attachment has no filename")
		return res
	}
	if _, err := c.validate(ctx, conversationID); err != nil {
		res.Err = err
		return res
	}

	res.PendingKey = c.pending.Add(f.Name, time.Now())

	out, err := c.api.UploadAttachment(ctx, conversationID, f.Name, f.Content)
	if err != nil {
		if c.metrics != nil {
			c.metrics.UploadErrors.Add(ctx, 1)
		}
		c.log.LogError(err, "attachment upload failed",
			"conversation_id", conversationID,
			"filename", f.Name,
		)
		res.Err = err
		return res
	}
	if c.metrics != nil {
		c.metrics.Uploads.Add(ctx, 1)
	}
	res.Result = out
	return res
}

// SendAttachments uploads each file independently; one failure neither
// aborts siblings already in flight nor those not yet started. Outcomes are
// reported per file in input order.
func (c *Composer) SendAttachments(ctx context.Context, conversationID string, files []FileUpload) []FileResult {
	results := make([]FileResult, len(files))
	var g errgroup.Group
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			results[i] = c.SendAttachment(ctx, conversationID, f)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
