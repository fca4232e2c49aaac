package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/apperrors"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/observer"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/logger"
)

const (
	sessionCookieName = "crm_session"
	idempotencyHeader = "X-Idempotency-Key"

	defaultRetryInitialInterval = 250 * time.Millisecond
	defaultRetryMaxInterval     = 3 * time.Second
	defaultRetryMaxElapsedTime  = 15 * time.Second
)

// Client talks HTTP/JSON to the CRM backend using a cookie session. It
// implements Backend and SessionChecker: a 401/403 response flips the session
// flag so subsequent calls short-circuit to the local fallback until a fresh
// session cookie is installed.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	authExpired atomic.Bool

	mu            sync.RWMutex
	sessionCookie string
}

// NewClient creates a backend client. baseURL must not end with a slash.
func NewClient(baseURL, sessionCookie string, requestTimeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: backend base URL is required", apperrors.ErrBadRequest)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("%w: invalid backend base URL: %w", apperrors.ErrBadRequest, err)
	}
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		sessionCookie: sessionCookie,
		httpClient:    &http.Client{Timeout: requestTimeout},
	}, nil
}

// SessionValid implements SessionChecker.
func (c *Client) SessionValid(_ context.Context) bool {
	return c.currentCookie() != "" && !c.authExpired.Load()
}

// RenewSession installs a fresh session cookie and clears the expired flag.
// Safe to call while the flusher is issuing requests on another goroutine.
func (c *Client) RenewSession(cookie string) {
	c.mu.Lock()
	c.sessionCookie = cookie
	c.mu.Unlock()
	c.authExpired.Store(false)
}

func (c *Client) currentCookie() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionCookie
}

// newRetryPolicy creates a new exponential backoff policy with context awareness.
func newRetryPolicy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInitialInterval
	b.MaxInterval = defaultRetryMaxInterval
	b.MaxElapsedTime = defaultRetryMaxElapsedTime
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// doJSON issues one HTTP call with retry on transient failures, decoding a
// JSON response body into out when out is non-nil. idempotencyKey is sent on
// mutating calls so a retried request cannot create a second record.
func (c *Client) doJSON(ctx context.Context, method, path, idempotencyKey string, body, out interface{}) error {
	resource := resourceLabel(path)

	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encoding %s request: %w", apperrors.ErrBadRequest, path, err)
		}
	}

	notify := func(err error, d time.Duration) {
		logger.FromContext(ctx).Warn("Retrying backend call",
			zap.String("method", method),
			zap.String("resource", resource),
			zap.Error(err),
			zap.Duration("after", d),
		)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(encoded))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: building %s request: %w", apperrors.ErrBadRequest, path, err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idempotencyKey != "" {
			req.Header.Set(idempotencyHeader, idempotencyKey)
		}
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: c.currentCookie()})

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			observer.ObserveRemoteCall(method, resource, 0, time.Since(start))
			if isTransientError(err) {
				return fmt.Errorf("%w: %s %s: %w", apperrors.ErrRemote, method, path, err)
			}
			return backoff.Permanent(fmt.Errorf("%w: %s %s: %w", apperrors.ErrRemote, method, path, err))
		}
		defer resp.Body.Close()
		observer.ObserveRemoteCall(method, resource, resp.StatusCode, time.Since(start))

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			c.authExpired.Store(true)
			observer.IncRemoteAuthExpired()
			return backoff.Permanent(fmt.Errorf("%w: %s %s returned %d", apperrors.ErrAuthExpired, method, path, resp.StatusCode))
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s %s", apperrors.ErrNotFound, method, path))
		case resp.StatusCode == http.StatusConflict:
			return backoff.Permanent(fmt.Errorf("%w: %s %s", apperrors.ErrConflict, method, path))
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s %s returned %d", apperrors.ErrRemote, method, path, resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("%w: %s %s returned %d", apperrors.ErrBadRequest, method, path, resp.StatusCode))
		}

		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: decoding %s response: %w", apperrors.ErrRemote, path, err))
		}
		return nil
	}

	return backoff.RetryNotify(operation, newRetryPolicy(ctx), notify)
}

// isTransientError checks if the error suggests a temporary issue like a
// network problem.
func isTransientError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "EOF")
}

// resourceLabel collapses a request path into a low-cardinality metric label.
func resourceLabel(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "root"
	}
	return parts[0]
}

// --- Backend implementation ---

// FindContactByIdentity looks a contact up by its Telegram user id.
func (c *Client) FindContactByIdentity(ctx context.Context, externalUserID int64) (*model.Contact, error) {
	var contact model.Contact
	err := c.doJSON(ctx, http.MethodGet, "/contacts/telegram/"+strconv.FormatInt(externalUserID, 10), "", nil, &contact)
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

// CreateContact creates the contact remotely, keyed by its external identity.
func (c *Client) CreateContact(ctx context.Context, contact *model.Contact) (*model.Contact, error) {
	var created model.Contact
	key := strconv.FormatInt(contact.ExternalUserID, 10)
	if err := c.doJSON(ctx, http.MethodPost, "/contacts", key, contact, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateContact updates the remote record behind contact.RemoteID.
func (c *Client) UpdateContact(ctx context.Context, contact *model.Contact) (*model.Contact, error) {
	if contact.RemoteID == 0 {
		return nil, fmt.Errorf("%w: contact %s has no remote id", apperrors.ErrBadRequest, contact.ID)
	}
	var updated model.Contact
	key := strconv.FormatInt(contact.ExternalUserID, 10)
	path := "/contacts/" + strconv.FormatInt(contact.RemoteID, 10)
	if err := c.doJSON(ctx, http.MethodPut, path, key, contact, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteContact removes the remote record.
func (c *Client) DeleteContact(ctx context.Context, remoteID int64) error {
	path := "/contacts/" + strconv.FormatInt(remoteID, 10)
	return c.doJSON(ctx, http.MethodDelete, path, strconv.FormatInt(remoteID, 10), nil, nil)
}

// ListContacts fetches the full remote contact collection.
func (c *Client) ListContacts(ctx context.Context) ([]model.Contact, error) {
	var contacts []model.Contact
	if err := c.doJSON(ctx, http.MethodGet, "/contacts", "", nil, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

// UpsertInteraction creates or updates the (contact, owner) interaction record.
func (c *Client) UpsertInteraction(ctx context.Context, interaction *model.Interaction) error {
	key := interaction.ContactID + ":" + strconv.FormatInt(interaction.OwnerID, 10)
	return c.doJSON(ctx, http.MethodPost, "/contacts/interactions", key, interaction, nil)
}

// ListOwners fetches the business accounts visible to the session.
func (c *Client) ListOwners(ctx context.Context) ([]model.Owner, error) {
	var owners []model.Owner
	if err := c.doJSON(ctx, http.MethodGet, "/business-accounts", "", nil, &owners); err != nil {
		return nil, err
	}
	return owners, nil
}

// ListConversations fetches the chats of one business account.
func (c *Client) ListConversations(ctx context.Context, ownerID int64) ([]model.Conversation, error) {
	var convs []model.Conversation
	path := "/business-accounts/" + strconv.FormatInt(ownerID, 10) + "/chats"
	if err := c.doJSON(ctx, http.MethodGet, path, "", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// ListMessages fetches one page of a conversation's history.
func (c *Client) ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]model.Message, error) {
	var messages []model.Message
	path := fmt.Sprintf("/business-accounts/chats/%d/messages?limit=%d&offset=%d", conversationID, limit, offset)
	if err := c.doJSON(ctx, http.MethodGet, path, "", nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// SendMessage posts an outbound text message. Fire-and-forget from the sync
// engine's perspective; failures surface to the caller for notification only.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, text string) error {
	return c.doJSON(ctx, http.MethodPost, "/business-accounts/send-message", "", sendMessageRequest{
		ChatID: conversationID,
		Text:   text,
	}, nil)
}

type sendAttachmentRequest struct {
	ChatID  int64  `json:"chat_id"`
	Caption string `json:"caption,omitempty"`
	Payload []byte `json:"payload"`
}

// SendAttachment posts an outbound photo or document.
func (c *Client) SendAttachment(ctx context.Context, conversationID int64, kind, caption string, payload []byte) error {
	path := "/business-accounts/send-photo"
	if kind == "document" {
		path = "/business-accounts/send-document"
	}
	return c.doJSON(ctx, http.MethodPost, path, "", sendAttachmentRequest{
		ChatID:  conversationID,
		Caption: caption,
		Payload: payload,
	}, nil)
}
