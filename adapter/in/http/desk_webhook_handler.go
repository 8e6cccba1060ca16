// Package http implements the Fiber HTTP handlers.
package http

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync/atomic"
	"time"

	"helpdesk_worker/core/port/in"
	"helpdesk_worker/core/port/out"
	"helpdesk_worker/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const defaultDedupTTL = 5 * time.Minute

// WebhookMetrics counts webhook dispositions.
type WebhookMetrics struct {
	Processed  int64
	Duplicates int64
	Errors     int64
	Queued     int64
	Direct     int64
}

// WebhookHandler receives Gmail Pub/Sub push notifications.
//
// Response contract: 401 when the push carries no authorization, 400 when
// the envelope is structurally invalid, 200 for everything else. Anything
// past structural validation is handled (or queued) on our side; returning
// an error would only make Pub/Sub redeliver a payload that will fail the
// same way again.
type WebhookHandler struct {
	inbound  in.InboundService
	producer out.MessagePublisher
	redis    *redis.Client
	dedupTTL time.Duration
	metrics  WebhookMetrics
}

func NewWebhookHandler(inbound in.InboundService, producer out.MessagePublisher, redisClient *redis.Client, dedupTTL time.Duration) *WebhookHandler {
	if dedupTTL <= 0 {
		dedupTTL = defaultDedupTTL
	}
	return &WebhookHandler{
		inbound:  inbound,
		producer: producer,
		redis:    redisClient,
		dedupTTL: dedupTTL,
	}
}

func (h *WebhookHandler) Register(app *fiber.App) {
	app.Post("/webhooks/gmail/notify", h.GmailNotify)
}

// GetMetrics returns a snapshot of the webhook counters.
func (h *WebhookHandler) GetMetrics() WebhookMetrics {
	return WebhookMetrics{
		Processed:  atomic.LoadInt64(&h.metrics.Processed),
		Duplicates: atomic.LoadInt64(&h.metrics.Duplicates),
		Errors:     atomic.LoadInt64(&h.metrics.Errors),
		Queued:     atomic.LoadInt64(&h.metrics.Queued),
		Direct:     atomic.LoadInt64(&h.metrics.Direct),
	}
}

// pushEnvelope is the Pub/Sub push wrapper.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type notificationData struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

func (h *WebhookHandler) GmailNotify(c *fiber.Ctx) error {
	if c.Get("Authorization") == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization"})
	}

	var envelope pushEnvelope
	if err := c.BodyParser(&envelope); err != nil {
		logger.WithError(err).Warn("Malformed push envelope")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed envelope"})
	}
	if envelope.Message.Data == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing message data"})
	}

	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		if data, err = base64.URLEncoding.DecodeString(envelope.Message.Data); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "message data is not valid base64"})
		}
	}

	var notif notificationData
	if err := json.Unmarshal(data, &notif); err != nil || notif.EmailAddress == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid notification data"})
	}

	ctx := c.Context()
	if h.isDuplicate(ctx, notif.EmailAddress, notif.HistoryID) {
		atomic.AddInt64(&h.metrics.Duplicates, 1)
		logger.Debug("Duplicate notification skipped: email=%s, historyId=%d",
			notif.EmailAddress, notif.HistoryID)
		return c.JSON(fiber.Map{"status": "duplicate"})
	}

	atomic.AddInt64(&h.metrics.Processed, 1)

	if h.producer != nil {
		historyID := fmt.Sprintf("%d", notif.HistoryID)
		if _, err := h.producer.PublishNotification(ctx, notif.EmailAddress, historyID); err != nil {
			logger.WithError(err).Error("Failed to queue notification for %s, processing inline", notif.EmailAddress)
			atomic.AddInt64(&h.metrics.Errors, 1)
			h.processInline(notif.EmailAddress, c.Body())
		} else {
			atomic.AddInt64(&h.metrics.Queued, 1)
		}
		return c.JSON(fiber.Map{"status": "queued"})
	}

	h.processInline(notif.EmailAddress, c.Body())
	return c.JSON(fiber.Map{"status": "accepted"})
}

// processInline handles the notification without the queue. Runs detached
// so the push endpoint can acknowledge immediately.
func (h *WebhookHandler) processInline(email string, payload []byte) {
	atomic.AddInt64(&h.metrics.Direct, 1)

	body := make([]byte, len(payload))
	copy(body, payload)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if _, err := h.inbound.HandleNotification(ctx, body); err != nil {
			logger.WithError(err).Error("Inline notification processing failed for %s", email)
			atomic.AddInt64(&h.metrics.Errors, 1)
		}
	}()
}

// isDuplicate uses a short-lived Redis key to absorb Pub/Sub redeliveries
// before they cost a provider round-trip. The durable dedup on
// (org, message id) still backstops this.
func (h *WebhookHandler) isDuplicate(ctx context.Context, email string, historyID uint64) bool {
	if h.redis == nil {
		return false
	}
	key := fmt.Sprintf("webhook:idempotent:%s:%d", email, historyID)
	ok, err := h.redis.SetNX(ctx, key, "1", h.dedupTTL).Result()
	if err != nil {
		return false
	}
	return !ok
}
