package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/alarm-dispatch/internal/provider"
	"github.com/kursadbilgin/alarm-dispatch/internal/service"
	"go.uber.org/zap"
)

const metaSubscribeMode = "subscribe"

type StatusReconciler interface {
	Reconcile(ctx context.Context, update service.StatusUpdate) service.ReconcileOutcome
}

// WebhookHandler accepts provider delivery callbacks. Every well-formed callback is
// acknowledged with 200, including ones that match no alarm or could not be applied.
type WebhookHandler struct {
	reconciler  StatusReconciler
	verifyToken string
	logger      *zap.Logger
}

func NewWebhookHandler(reconciler StatusReconciler, verifyToken string, logger *zap.Logger) (*WebhookHandler, error) {
	if reconciler == nil {
		return nil, fmt.Errorf("status reconciler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		reconciler:  reconciler,
		verifyToken: strings.TrimSpace(verifyToken),
		logger:      logger,
	}, nil
}

func RegisterWebhookRoutes(router fiber.Router, reconciler StatusReconciler, verifyToken string, logger *zap.Logger) error {
	h, err := NewWebhookHandler(reconciler, verifyToken, logger)
	if err != nil {
		return err
	}

	hooks := router.Group("/webhooks")
	hooks.Post("/twilio/status", h.TwilioStatus)
	hooks.Get("/whatsapp", h.VerifyMetaSubscription)
	hooks.Post("/whatsapp", h.MetaStatus)

	return nil
}

type metaWebhookPayload struct {
	Object string      `json:"object"`
	Entry  []metaEntry `json:"entry"`
}

type metaEntry struct {
	ID      string       `json:"id"`
	Changes []metaChange `json:"changes"`
}

type metaChange struct {
	Field string `json:"field"`
	Value struct {
		Statuses []metaStatus `json:"statuses"`
	} `json:"value"`
}

type metaStatus struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	RecipientID string      `json:"recipient_id"`
	Errors      []metaError `json:"errors"`
}

type metaError struct {
	Code      int    `json:"code"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	ErrorData struct {
		Details string `json:"details"`
	} `json:"error_data"`
}

// TwilioStatus handles the flat form callback: MessageSid, MessageStatus, ErrorCode, ErrorMessage.
func (h *WebhookHandler) TwilioStatus(c *fiber.Ctx) error {
	sid := strings.TrimSpace(c.FormValue("MessageSid"))
	if sid == "" {
		sid = strings.TrimSpace(c.FormValue("SmsSid"))
	}
	status := strings.TrimSpace(c.FormValue("MessageStatus"))
	if status == "" {
		status = strings.TrimSpace(c.FormValue("SmsStatus"))
	}
	if sid == "" || status == "" {
		return fiber.NewError(fiber.StatusBadRequest, "MessageSid and MessageStatus are required")
	}

	outcome := h.reconciler.Reconcile(requestContext(c), service.StatusUpdate{
		Source:        provider.SourceTwilio,
		CorrelationID: sid,
		RawStatus:     status,
		ErrorCode:     c.FormValue("ErrorCode"),
		ErrorMessage:  c.FormValue("ErrorMessage"),
	})
	h.logOutcome(provider.SourceTwilio, sid, outcome)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"result": string(outcome.Result)})
}

// MetaStatus handles the nested WhatsApp Cloud API payload entry[].changes[].value.statuses[].
func (h *WebhookHandler) MetaStatus(c *fiber.Ctx) error {
	var payload metaWebhookPayload
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid webhook payload")
	}
	if payload.Entry == nil {
		return fiber.NewError(fiber.StatusBadRequest, "webhook payload has no entry")
	}

	var updates []service.StatusUpdate
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, status := range change.Value.Statuses {
				if strings.TrimSpace(status.ID) == "" || strings.TrimSpace(status.Status) == "" {
					return fiber.NewError(fiber.StatusBadRequest, "status entries require id and status")
				}
				updates = append(updates, metaStatusUpdate(status))
			}
		}
	}

	ctx := requestContext(c)
	results := make([]string, 0, len(updates))
	for _, update := range updates {
		outcome := h.reconciler.Reconcile(ctx, update)
		h.logOutcome(provider.SourceMeta, update.CorrelationID, outcome)
		results = append(results, string(outcome.Result))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"results": results})
}

// VerifyMetaSubscription answers the hub.challenge handshake Meta sends when the webhook is registered.
func (h *WebhookHandler) VerifyMetaSubscription(c *fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if h.verifyToken == "" || mode != metaSubscribeMode ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		return fiber.NewError(fiber.StatusForbidden, "webhook verification failed")
	}

	return c.Status(fiber.StatusOK).SendString(challenge)
}

func metaStatusUpdate(status metaStatus) service.StatusUpdate {
	update := service.StatusUpdate{
		Source:        provider.SourceMeta,
		CorrelationID: strings.TrimSpace(status.ID),
		RawStatus:     status.Status,
	}
	if len(status.Errors) > 0 {
		e := status.Errors[0]
		if e.Code != 0 {
			update.ErrorCode = strconv.Itoa(e.Code)
		}
		update.ErrorMessage = firstNonEmpty(e.ErrorData.Details, e.Message, e.Title)
	}
	return update
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func (h *WebhookHandler) logOutcome(source provider.Source, messageID string, outcome service.ReconcileOutcome) {
	if outcome.Result == service.ReconcileApplied {
		return
	}
	h.logger.Debug("status callback acknowledged without change",
		zap.String("source", source.String()),
		zap.String("providerMessageId", messageID),
		zap.String("result", string(outcome.Result)),
	)
}
