// Package provider implements mail provider adapters.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"helpdesk_worker/core/domain"
	"helpdesk_worker/core/port/out"
	"helpdesk_worker/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GmailAdapter implements out.EmailProviderPort for Gmail with Pub/Sub push.
type GmailAdapter struct {
	config    *oauth2.Config
	topicName string
	mailboxes out.MailboxRepository
	cb        *gobreaker.CircuitBreaker
}

// GmailConfig holds Gmail adapter configuration.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	ProjectID    string
	PubSubTopic  string
}

// NewGmailAdapter creates a new Gmail adapter. The mailbox repository is
// used to persist refreshed access tokens; it may be nil in tests.
func NewGmailAdapter(cfg *GmailConfig, mailboxes out.MailboxRepository) *GmailAdapter {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
			gmail.GmailSendScope,
			gmail.GmailModifyScope,
		},
		Endpoint: google.Endpoint,
	}

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			var nce *nonCircuitError
			return err == nil || errors.As(err, &nce)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker %s: %s -> %s", name, from.String(), to.String())
		},
	}

	return &GmailAdapter{
		config:    config,
		topicName: fmt.Sprintf("projects/%s/topics/%s", cfg.ProjectID, cfg.PubSubTopic),
		mailboxes: mailboxes,
		cb:        gobreaker.NewCircuitBreaker(cbSettings),
	}
}

// AuthURL returns the OAuth consent URL for connecting a mailbox.
func (a *GmailAdapter) AuthURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode exchanges an authorization code for tokens.
func (a *GmailAdapter) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return a.config.Exchange(ctx, code)
}

// service builds a Gmail client for the mailbox and persists the access
// token if the token source refreshed it along the way.
func (a *GmailAdapter) service(ctx context.Context, mb *domain.Mailbox) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  mb.AccessToken,
		RefreshToken: mb.RefreshToken,
		Expiry:       mb.TokenExpiry,
	}

	src := a.config.TokenSource(ctx, token)
	fresh, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh: %w", err)
	}

	if a.mailboxes != nil && fresh.AccessToken != mb.AccessToken {
		refreshToken := fresh.RefreshToken
		if refreshToken == "" {
			refreshToken = mb.RefreshToken
		}
		if err := a.mailboxes.SaveCredentials(ctx, mb.ID, fresh.AccessToken, refreshToken, fresh.Expiry); err != nil {
			logger.WithError(err).Warn("Failed to persist refreshed token for %s", mb.EmailAddress)
		}
	}

	return gmail.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(fresh)))
}

// Watch registers the Pub/Sub push subscription for the inbox.
func (a *GmailAdapter) Watch(ctx context.Context, mb *domain.Mailbox) (*domain.WatchLease, error) {
	svc, err := a.service(ctx, mb)
	if err != nil {
		return nil, err
	}

	req := &gmail.WatchRequest{
		TopicName: a.topicName,
		LabelIds:  []string{"INBOX"},
	}

	var resp *gmail.WatchResponse
	cbErr := a.execute(ctx, "Watch", func() error {
		var apiErr error
		resp, apiErr = svc.Users.Watch("me", req).Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, fmt.Errorf("watch: %w", cbErr)
	}

	return &domain.WatchLease{
		ResourceID: a.topicName,
		HistoryID:  strconv.FormatUint(resp.HistoryId, 10),
		ExpiresAt:  time.Unix(0, resp.Expiration*int64(time.Millisecond)),
	}, nil
}

// StopWatch tears the push subscription down.
func (a *GmailAdapter) StopWatch(ctx context.Context, mb *domain.Mailbox) error {
	svc, err := a.service(ctx, mb)
	if err != nil {
		return err
	}
	if err := svc.Users.Stop("me").Context(ctx).Do(); err != nil {
		return fmt.Errorf("stop watch: %w", err)
	}
	return nil
}

// ListMessagesSince returns ids of messages added after the history cursor.
// A cursor Gmail no longer recognizes (HTTP 404) maps to ErrSyncRequired.
func (a *GmailAdapter) ListMessagesSince(ctx context.Context, mb *domain.Mailbox, cursor string) ([]string, string, error) {
	svc, err := a.service(ctx, mb)
	if err != nil {
		return nil, "", err
	}

	startID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return nil, "", out.ErrSyncRequired
	}

	var resp *gmail.ListHistoryResponse
	cbErr := a.execute(ctx, "ListHistory", func() error {
		var apiErr error
		resp, apiErr = svc.Users.History.List("me").
			StartHistoryId(startID).
			HistoryTypes("messageAdded").
			LabelId("INBOX").
			Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		if apiErr, ok := cbErr.(*googleapi.Error); ok && apiErr.Code == 404 {
			return nil, "", out.ErrSyncRequired
		}
		return nil, "", fmt.Errorf("list history: %w", cbErr)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, history := range resp.History {
		for _, added := range history.MessagesAdded {
			if added.Message == nil || seen[added.Message.Id] {
				continue
			}
			seen[added.Message.Id] = true
			ids = append(ids, added.Message.Id)
		}
	}

	return ids, strconv.FormatUint(resp.HistoryId, 10), nil
}

// ListRecentMessages is the bounded fallback fetch when no usable cursor
// exists.
func (a *GmailAdapter) ListRecentMessages(ctx context.Context, mb *domain.Mailbox, limit int) ([]string, error) {
	svc, err := a.service(ctx, mb)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	var resp *gmail.ListMessagesResponse
	cbErr := a.execute(ctx, "ListMessages", func() error {
		var apiErr error
		resp, apiErr = svc.Users.Messages.List("me").
			LabelIds("INBOX").
			MaxResults(int64(limit)).
			Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, fmt.Errorf("list recent: %w", cbErr)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// GetMessage fetches one full message and flattens it to the provider-
// neutral shape.
func (a *GmailAdapter) GetMessage(ctx context.Context, mb *domain.Mailbox, messageID string) (*domain.InboundMessage, error) {
	svc, err := a.service(ctx, mb)
	if err != nil {
		return nil, err
	}

	var msg *gmail.Message
	cbErr := a.execute(ctx, "GetMessage", func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, fmt.Errorf("get message: %w", cbErr)
	}

	return a.convertMessage(msg), nil
}

func (a *GmailAdapter) convertMessage(msg *gmail.Message) *domain.InboundMessage {
	inbound := &domain.InboundMessage{
		MessageID: msg.Id,
		ThreadID:  msg.ThreadId,
		Headers:   make(map[string]string),
		Snippet:   msg.Snippet,
	}

	if msg.InternalDate > 0 {
		inbound.Internal = time.Unix(0, msg.InternalDate*int64(time.Millisecond))
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			inbound.Headers[h.Name] = h.Value
		}
		extractBody(msg.Payload, inbound)
	}

	// Keep the provider's own representation for the archive.
	if raw, err := json.Marshal(msg); err == nil {
		inbound.Raw = raw
	}

	return inbound
}

// extractBody walks the MIME tree collecting the first text and html parts.
func extractBody(part *gmail.MessagePart, inbound *domain.InboundMessage) {
	if part == nil {
		return
	}

	if part.Body != nil && part.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			switch part.MimeType {
			case "text/plain":
				if inbound.TextBody == "" {
					inbound.TextBody = string(data)
				}
			case "text/html":
				if inbound.HTMLBody == "" {
					inbound.HTMLBody = string(data)
				}
			}
		}
	}

	for _, p := range part.Parts {
		extractBody(p, inbound)
	}
}

// WasReplySent scans the thread for a sent message replying to inReplyTo.
// It backs the crash-window check in the draft lifecycle: a reply that was
// dispatched but never recorded must not be dispatched again.
func (a *GmailAdapter) WasReplySent(ctx context.Context, mb *domain.Mailbox, threadID, inReplyTo string) (*domain.SendReceipt, error) {
	svc, err := a.service(ctx, mb)
	if err != nil {
		return nil, err
	}

	var thread *gmail.Thread
	cbErr := a.execute(ctx, "GetThread", func() error {
		var apiErr error
		thread, apiErr = svc.Users.Threads.Get("me", threadID).
			Format("metadata").
			MetadataHeaders("Message-ID", "In-Reply-To").
			Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		if apiErr, ok := cbErr.(*googleapi.Error); ok && apiErr.Code == 404 {
			return nil, nil
		}
		return nil, fmt.Errorf("get thread: %w", cbErr)
	}

	rfcID := ""
	for _, m := range thread.Messages {
		if m.Id == inReplyTo && m.Payload != nil {
			rfcID = getHeader(m.Payload.Headers, "Message-ID")
			break
		}
	}
	if rfcID == "" {
		return nil, nil
	}

	for _, m := range thread.Messages {
		if m.Id == inReplyTo || m.Payload == nil {
			continue
		}
		if !hasLabel(m.LabelIds, "SENT") {
			continue
		}
		if strings.Contains(getHeader(m.Payload.Headers, "In-Reply-To"), rfcID) {
			return &domain.SendReceipt{MessageID: m.Id, ThreadID: threadID}, nil
		}
	}
	return nil, nil
}

// SendReply dispatches a threaded reply. The RFC Message-ID of the original
// is looked up so threading headers are correct even though callers track
// provider message ids.
func (a *GmailAdapter) SendReply(ctx context.Context, mb *domain.Mailbox, reply *domain.OutboundReply) (*domain.SendReceipt, error) {
	svc, err := a.service(ctx, mb)
	if err != nil {
		return nil, err
	}

	rfcID := ""
	if reply.InReplyTo != "" {
		original, err := svc.Users.Messages.Get("me", reply.InReplyTo).
			Format("metadata").
			MetadataHeaders("Message-ID").
			Context(ctx).Do()
		if err != nil {
			logger.WithError(err).Warn("Failed to resolve Message-ID for reply threading")
		} else if original.Payload != nil {
			rfcID = getHeader(original.Payload.Headers, "Message-ID")
		}
	}

	raw := buildRawReply(reply, rfcID)
	gmailMsg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString([]byte(raw)),
		ThreadId: reply.ThreadID,
	}

	var sent *gmail.Message
	cbErr := a.execute(ctx, "Send", func() error {
		var apiErr error
		sent, apiErr = svc.Users.Messages.Send("me", gmailMsg).Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, fmt.Errorf("send reply: %w", cbErr)
	}

	return &domain.SendReceipt{MessageID: sent.Id, ThreadID: sent.ThreadId}, nil
}

func buildRawReply(reply *domain.OutboundReply, rfcID string) string {
	var buf strings.Builder

	buf.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(reply.To, ", ")))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", reply.Subject))
	if rfcID != "" {
		buf.WriteString(fmt.Sprintf("In-Reply-To: %s\r\n", rfcID))
		buf.WriteString(fmt.Sprintf("References: %s\r\n", rfcID))
	}
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(reply.HTMLBody)

	return buf.String()
}

// nonCircuitError wraps client-fault errors so they do not trip the breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string { return e.err.Error() }
func (e *nonCircuitError) Unwrap() error { return e.err }

// execute runs fn through the circuit breaker. Server-side failures (5xx,
// 429) count against the breaker; client errors pass through untouched.
func (a *GmailAdapter) execute(ctx context.Context, operation string, fn func() error) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if apiErr, ok := err.(*googleapi.Error); ok {
				switch apiErr.Code {
				case 500, 502, 503, 429:
					return nil, err
				default:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	if nce, ok := err.(*nonCircuitError); ok {
		return nce.err
	}
	if err != nil {
		logger.WithField("state", a.cb.State().String()).
			Warn("Gmail %s failed: %v", operation, err)
	}
	return err
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func hasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

var _ out.EmailProviderPort = (*GmailAdapter)(nil)
