package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

type TwilioConfig struct {
	BaseURL           string
	AccountSID        string
	AuthToken         string
	From              string
	StatusCallbackURL string
	Timeout           time.Duration
}

type twilioMessageResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`

	Code    int    `json:"code"`
	Message string `json:"message"`
}

// TwilioProvider sends free text messages through the Twilio Messages API, either as
// SMS or through the WhatsApp routing prefix.
type TwilioProvider struct {
	client         *resty.Client
	channel        domain.Channel
	endpoint       string
	accountSID     string
	authToken      string
	from           string
	statusCallback string
}

func NewTwilioSMSProvider(cfg TwilioConfig) (*TwilioProvider, error) {
	return newTwilioProvider(domain.ChannelTwilioSMS, cfg, defaultTwilioClient(cfg.Timeout))
}

func NewTwilioWhatsAppProvider(cfg TwilioConfig) (*TwilioProvider, error) {
	return newTwilioProvider(domain.ChannelTwilioWhatsApp, cfg, defaultTwilioClient(cfg.Timeout))
}

func NewTwilioProviderWithClient(channel domain.Channel, cfg TwilioConfig, client *resty.Client) (*TwilioProvider, error) {
	return newTwilioProvider(channel, cfg, client)
}

func defaultTwilioClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)
	return client
}

func newTwilioProvider(channel domain.Channel, cfg TwilioConfig, client *resty.Client) (*TwilioProvider, error) {
	if channel != domain.ChannelTwilioSMS && channel != domain.ChannelTwilioWhatsApp {
		return nil, fmt.Errorf("unsupported twilio channel %q", channel)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	sid := strings.TrimSpace(cfg.AccountSID)
	token := strings.TrimSpace(cfg.AuthToken)
	if sid == "" || token == "" {
		return nil, fmt.Errorf("twilio account sid and auth token are required")
	}

	from, err := NormalizeE164(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid twilio sender number: %w", err)
	}
	if channel == domain.ChannelTwilioWhatsApp {
		from = whatsAppPrefix + from
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultTwilioBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid twilio base url: %w", err)
	}

	callback := strings.TrimSpace(cfg.StatusCallbackURL)
	if callback != "" {
		if _, err := url.ParseRequestURI(callback); err != nil {
			return nil, fmt.Errorf("invalid twilio status callback url: %w", err)
		}
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultProviderTimeout)
	}
	client.SetRetryCount(0)

	return &TwilioProvider{
		client:         client,
		channel:        channel,
		endpoint:       fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", baseURL, sid),
		accountSID:     sid,
		authToken:      token,
		from:           from,
		statusCallback: callback,
	}, nil
}

func (p *TwilioProvider) Channel() domain.Channel { return p.channel }

func (p *TwilioProvider) Send(ctx context.Context, recipient Recipient, message Message) (*Result, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	to, body, err := p.normalize(recipient, message)
	if err != nil {
		return nil, err
	}

	form := map[string]string{
		"To":   to,
		"From": p.from,
		"Body": body,
	}
	if p.statusCallback != "" {
		form["StatusCallback"] = p.statusCallback
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetBasicAuth(p.accountSID, p.authToken).
		SetFormData(form).
		Post(p.endpoint)
	if err != nil {
		return nil, requestError(p.channel, err)
	}
	if response == nil {
		return nil, &ProviderError{
			Channel:   p.channel,
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	raw := strings.TrimSpace(response.String())

	var parsed twilioMessageResponse
	_ = json.Unmarshal(response.Body(), &parsed)

	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		code := ""
		if parsed.Code > 0 {
			code = strconv.Itoa(parsed.Code)
		}
		msg := parsed.Message
		if msg == "" {
			msg = raw
		}
		return nil, statusError(p.channel, statusCode, code, msg)
	}

	if parsed.ErrorCode != nil {
		return nil, &ProviderError{
			Channel:    p.channel,
			StatusCode: statusCode,
			Code:       strconv.Itoa(*parsed.ErrorCode),
			Message:    parsed.ErrorMessage,
		}
	}
	if strings.TrimSpace(parsed.SID) == "" {
		return nil, &ProviderError{
			Channel:    p.channel,
			StatusCode: statusCode,
			Message:    "response did not include a message sid",
		}
	}

	return &Result{
		CorrelationID:      parsed.SID,
		RawStatus:          parsed.Status,
		StatusCode:         statusCode,
		Body:               raw,
		AwaitsConfirmation: p.statusCallback != "",
	}, nil
}

func (p *TwilioProvider) normalize(recipient Recipient, message Message) (string, string, error) {
	if p.channel == domain.ChannelTwilioWhatsApp {
		to, err := WhatsAppAddress(recipient.Address)
		if err != nil {
			return "", "", err
		}
		return to, CollapseWhitespace(message.Text), nil
	}

	to, err := NormalizeE164(recipient.Address)
	if err != nil {
		return "", "", err
	}
	return to, strings.TrimSpace(message.Text), nil
}
