package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"github.com/kursadbilgin/alarm-dispatch/internal/observability"
	"github.com/kursadbilgin/alarm-dispatch/internal/service"
	"github.com/kursadbilgin/alarm-dispatch/internal/transport"
)

type AlarmService interface {
	Trigger(ctx context.Context, req service.TriggerRequest) (*service.TriggerResult, error)
	Get(ctx context.Context, id string) (*service.AlarmView, error)
	Retry(ctx context.Context, id string) (*domain.Alarm, error)
}

type ChannelSettings interface {
	CurrentChannel(ctx context.Context) domain.Channel
	SetChannel(ctx context.Context, raw string) (domain.Channel, error)
}

type AlarmHandler struct {
	alarms   AlarmService
	channels ChannelSettings
}

func NewAlarmHandler(alarms AlarmService, channels ChannelSettings) (*AlarmHandler, error) {
	if alarms == nil {
		return nil, fmt.Errorf("alarm service is required")
	}
	if channels == nil {
		return nil, fmt.Errorf("channel settings are required")
	}
	return &AlarmHandler{alarms: alarms, channels: channels}, nil
}

func RegisterAlarmRoutes(router fiber.Router, alarms AlarmService, channels ChannelSettings) error {
	h, err := NewAlarmHandler(alarms, channels)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/triggers", h.Trigger)
	v1.Get("/alarms/:id", h.GetAlarm)
	v1.Post("/alarms/:id/retry", h.RetryAlarm)
	v1.Get("/settings/channel", h.GetChannel)
	v1.Put("/settings/channel", h.SetChannel)

	return nil
}

type triggerRequest struct {
	SubjectID  string  `json:"subjectId"`
	SourceID   string  `json:"sourceId"`
	Location   *string `json:"location,omitempty"`
	IsTest     bool    `json:"isTest"`
	OccurredAt string  `json:"occurredAt,omitempty"`
}

type channelRequest struct {
	Channel string `json:"channel"`
}

type alarmResponse struct {
	ID                string     `json:"id"`
	SubjectID         string     `json:"subjectId"`
	SourceID          string     `json:"sourceId"`
	Timestamp         time.Time  `json:"timestamp"`
	Location          *string    `json:"location,omitempty"`
	IsTest            bool       `json:"isTest"`
	Status            string     `json:"status"`
	NotificationSent  bool       `json:"notificationSent"`
	NotificationError *string    `json:"notificationError,omitempty"`
	AttemptCount      int        `json:"attemptCount"`
	LastAttempt       *time.Time `json:"lastAttempt,omitempty"`
	NextRetryAt       *time.Time `json:"nextRetryAt,omitempty"`
	CorrelationID     *string    `json:"correlationId,omitempty"`
	Channel           *string    `json:"channel,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type triggerResponse struct {
	alarmResponse
	Duplicate bool `json:"duplicate"`
}

type attemptResponse struct {
	ID            string     `json:"id"`
	Channel       string     `json:"channel"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retryCount"`
	CorrelationID *string    `json:"correlationId,omitempty"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
	ErrorMessage  *string    `json:"errorMessage,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type alarmViewResponse struct {
	alarmResponse
	Attempts []attemptResponse `json:"attempts"`
}

func (h *AlarmHandler) Trigger(c *fiber.Ctx) error {
	var req triggerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	occurredAt, err := parseOccurredAt(req.OccurredAt)
	if err != nil {
		return transport.HTTPError(err)
	}

	result, err := h.alarms.Trigger(requestContext(c), service.TriggerRequest{
		SubjectID:  req.SubjectID,
		SourceID:   req.SourceID,
		Location:   req.Location,
		IsTest:     req.IsTest,
		OccurredAt: occurredAt,
	})
	if err != nil {
		return transport.HTTPError(err)
	}

	status := fiber.StatusCreated
	if !result.Created {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(triggerResponse{
		alarmResponse: toAlarmResponse(result.Alarm),
		Duplicate:     !result.Created,
	})
}

func (h *AlarmHandler) GetAlarm(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	view, err := h.alarms.Get(requestContext(c), id)
	if err != nil {
		return transport.HTTPError(err)
	}

	attempts := make([]attemptResponse, 0, len(view.Attempts))
	for _, a := range view.Attempts {
		attempts = append(attempts, attemptResponse{
			ID:            a.ID,
			Channel:       a.Channel.String(),
			Status:        a.Status.String(),
			RetryCount:    a.RetryCount,
			CorrelationID: a.CorrelationID,
			SentAt:        a.SentAt,
			ErrorMessage:  a.ErrorMessage,
			CreatedAt:     a.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(alarmViewResponse{
		alarmResponse: toAlarmResponse(&view.Alarm),
		Attempts:      attempts,
	})
}

func (h *AlarmHandler) RetryAlarm(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	alarm, err := h.alarms.Retry(requestContext(c), id)
	if err != nil {
		return transport.HTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toAlarmResponse(alarm))
}

func (h *AlarmHandler) GetChannel(c *fiber.Ctx) error {
	channel := h.channels.CurrentChannel(requestContext(c))
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"channel": channel.String()})
}

func (h *AlarmHandler) SetChannel(c *fiber.Ctx) error {
	var req channelRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	channel, err := h.channels.SetChannel(requestContext(c), req.Channel)
	if err != nil {
		return transport.HTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"channel": channel.String()})
}

func parseOccurredAt(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: occurredAt must be RFC3339", domain.ErrValidation)
	}
	return t, nil
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toAlarmResponse(a *domain.Alarm) alarmResponse {
	if a == nil {
		return alarmResponse{}
	}

	resp := alarmResponse{
		ID:                a.ID,
		SubjectID:         a.SubjectID,
		SourceID:          a.SourceID,
		Timestamp:         a.Timestamp,
		Location:          a.Location,
		IsTest:            a.IsTest,
		Status:            a.Status.String(),
		NotificationSent:  a.NotificationSent,
		NotificationError: a.NotificationError,
		AttemptCount:      a.AttemptCount,
		LastAttempt:       a.LastAttempt,
		NextRetryAt:       a.NextRetryAt,
		CorrelationID:     a.CorrelationID,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
	if a.Channel != nil {
		channel := a.Channel.String()
		resp.Channel = &channel
	}
	return resp
}
