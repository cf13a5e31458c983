package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dental-lab-admin/chatkit/api"
	"dental-lab-admin/chatkit/conversation/models"
	"dental-lab-admin/chatkit/identity"
	"dental-lab-admin/chatkit/pkg/errors"
)

func staticIdentity(role models.Role, name string) *identity.Resolver {
	return identity.NewResolver(identity.ProviderFunc(func(context.Context) (*identity.Identity, error) {
		return &identity.Identity{ActorID: "u-1", Role: role, DisplayName: name}, nil
	}))
}

func emptyIdentity() *identity.Resolver {
	return identity.NewResolver()
}

func TestComposerSendText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","data":{"id":42}}`))
	}))
	defer ts.Close()

	c := NewComposer(ComposerOptions{
		API:      api.NewClient(api.Options{BaseURL: ts.URL, Token: "t"}),
		Resolver: staticIdentity(models.RoleAdmin, "Back office"),
	})
	defer c.Close()

	msg, err := c.Send(context.Background(), "ORD-31", "  Margin looks short on 14.  ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), msg.ID)
	assert.Equal(t, "Margin looks short on 14.", msg.Text)
	assert.Equal(t, models.RoleAdmin, msg.AuthorRole)
	assert.Equal(t, "Back office", msg.AuthorName)
	assert.Equal(t, models.AlignRight, msg.Alignment)
	assert.NotEmpty(t, msg.SentAt)
}

func TestComposerSendRejectsBlankTextWithoutNetworkCall(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer ts.Close()

	c := NewComposer(ComposerOptions{
		API:      api.NewClient(api.Options{BaseURL: ts.URL, Token: "t"}),
		Resolver: staticIdentity(models.RoleAdmin, "Back office"),
	})
	defer c.Close()

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := c.Send(context.Background(), "ORD-31", text)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	}
	assert.Equal(t, int32(0), calls.Load())
}

func TestComposerSendWithoutIdentityIsAuthError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer ts.Close()

	c := NewComposer(ComposerOptions{
		API:      api.NewClient(api.Options{BaseURL: ts.URL, Token: "t"}),
		Resolver: emptyIdentity(),
	})
	defer c.Close()

	_, err := c.Send(context.Background(), "ORD-31", "hello")
	require.Error(t, err)
	assert.True(t, errors.IsAuth(err))
	assert.Equal(t, int32(0), calls.Load())
}

func TestComposerSendWithoutConversation(t *testing.T) {
	c := NewComposer(ComposerOptions{
		API:      api.NewClient(api.Options{BaseURL: "http://127.0.0.1:0", Token: "t"}),
		Resolver: staticIdentity(models.RoleClient, "Dr. Okafor"),
	})
	defer c.Close()

	_, err := c.Send(context.Background(), "", "hello")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestComposerSendFailureKeepsNoState(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer ts.Close()

	c := NewComposer(ComposerOptions{
		API:      api.NewClient(api.Options{BaseURL: ts.URL, Token: "t"}),
		Resolver: staticIdentity(models.RoleAdmin, "Back office"),
	})
	defer c.Close()

	msg, err := c.Send(context.Background(), "ORD-31", "hello")
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))
	assert.Zero(t, msg.ID)
}

func TestComposerSendAttachment(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "scan.stl", header.Filename)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","data":{"id":9,"file_ref":"f-1"}}`))
	}))
	defer ts.Close()

	c := NewComposer(ComposerOptions{
		API:           api.NewClient(api.Options{BaseURL: ts.URL, Token: "t"}),
		Resolver:      staticIdentity(models.RoleClient, "Dr. Okafor"),
		PendingExpiry: time.Minute,
	})
	defer c.Close()

	res := c.SendAttachment(context.Background(), "ORD-31", FileUpload{
		Name:    "scan.stl",
		Content: strings.NewReader("solid body"),
	})
	require.NoError(t, res.Err)
	assert.Equal(t, "f-1", res.Result.FileRef)
	assert.NotEmpty(t, res.PendingKey)
	assert.True(t, c.Pending().Contains(res.PendingKey))
}

func TestComposerSendAttachmentsPartialFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		if header.Filename == "bad.stl" {
			http.Error(w, "rejected", http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","data":{"id":9,"file_ref":"f-` + header.Filename + `"}}`))
	}))
	defer ts.Close()

	c := NewComposer(ComposerOptions{
		API:           api.NewClient(api.Options{BaseURL: ts.URL, Token: "t"}),
		Resolver:      staticIdentity(models.RoleClient, "Dr. Okafor"),
		PendingExpiry: time.Minute,
	})
	defer c.Close()

	results := c.SendAttachments(context.Background(), "ORD-31", []FileUpload{
		{Name: "a.stl", Content: strings.NewReader("a")},
		{Name: "bad.stl", Content: strings.NewReader("b")},
		{Name: "c.stl", Content: strings.NewReader("c")},
	})
	require.Len(t, results, 3)

	// Outcomes are reported in input order; the failure is isolated.
	assert.Equal(t, "a.stl", results[0].Name)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "f-a.stl", results[0].Result.FileRef)

	assert.Equal(t, "bad.stl", results[1].Name)
	assert.Error(t, results[1].Err)

	assert.Equal(t, "c.stl", results[2].Name)
	assert.NoError(t, results[2].Err)
}

func TestComposerSendAttachmentEmptyName(t *testing.T) {
	c := NewComposer(ComposerOptions{
		API:      api.NewClient(api.Options{BaseURL: "http://127.0.0.1:0", Token: "t"}),
		Resolver: staticIdentity(models.RoleClient, "Dr. Okafor"),
	})
	defer c.Close()

	res := c.SendAttachment(context.Background(), "ORD-31", FileUpload{Name: ""})
	require.Error(t, res.Err)
	assert.True(t, errors.IsValidation(res.Err))
	assert.Empty(t, res.PendingKey)
}
