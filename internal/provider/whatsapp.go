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

const (
	defaultProviderTimeout = 10 * time.Second

	defaultMetaBaseURL          = "https://graph.facebook.com"
	defaultMetaAPIVersion       = "v18.0"
	defaultMetaTemplateName     = "qr_template_on_m"
	defaultMetaTemplateLanguage = "en_US"
)

type MetaWhatsAppConfig struct {
	BaseURL          string
	APIVersion       string
	PhoneNumberID    string
	AccessToken      string
	TemplateName     string
	TemplateLanguage string
	Timeout          time.Duration
}

type metaTemplateRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Template         metaTemplate `json:"template"`
}

type metaTemplate struct {
	Name       string          `json:"name"`
	Language   metaLanguage    `json:"language"`
	Components []metaComponent `json:"components"`
}

type metaLanguage struct {
	Code string `json:"code"`
}

type metaComponent struct {
	Type       string          `json:"type"`
	Parameters []metaParameter `json:"parameters"`
}

type metaParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type metaSendResponse struct {
	Messages []struct {
		ID            string `json:"id"`
		MessageStatus string `json:"message_status"`
	} `json:"messages"`
	Error *metaError `json:"error"`
}

type metaError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// MetaWhatsAppProvider sends template messages through the WhatsApp Cloud API.
type MetaWhatsAppProvider struct {
	client   *resty.Client
	endpoint string
	token    string
	template string
	language string
}

func NewMetaWhatsAppProvider(cfg MetaWhatsAppConfig) (*MetaWhatsAppProvider, error) {
	client := resty.New()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return NewMetaWhatsAppProviderWithClient(cfg, client)
}

func NewMetaWhatsAppProviderWithClient(cfg MetaWhatsAppConfig, client *resty.Client) (*MetaWhatsAppProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	phoneNumberID := strings.TrimSpace(cfg.PhoneNumberID)
	if phoneNumberID == "" {
		return nil, fmt.Errorf("whatsapp phone number id is required")
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, fmt.Errorf("whatsapp access token is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultMetaBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid whatsapp base url: %w", err)
	}

	version := strings.Trim(strings.TrimSpace(cfg.APIVersion), "/")
	if version == "" {
		version = defaultMetaAPIVersion
	}
	template := strings.TrimSpace(cfg.TemplateName)
	if template == "" {
		template = defaultMetaTemplateName
	}
	language := strings.TrimSpace(cfg.TemplateLanguage)
	if language == "" {
		language = defaultMetaTemplateLanguage
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultProviderTimeout)
	}
	client.SetRetryCount(0)

	return &MetaWhatsAppProvider{
		client:   client,
		endpoint: fmt.Sprintf("%s/%s/%s/messages", baseURL, version, phoneNumberID),
		token:    token,
		template: template,
		language: language,
	}, nil
}

func (p *MetaWhatsAppProvider) Channel() domain.Channel { return domain.ChannelMetaWhatsApp }

func (p *MetaWhatsAppProvider) Send(ctx context.Context, recipient Recipient, message Message) (*Result, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	to, err := NormalizeDigits(recipient.Address)
	if err != nil {
		return nil, err
	}

	params := message.TemplateParams
	if len(params) == 0 {
		params = []string{message.Text}
	}
	parameters := make([]metaParameter, 0, len(params))
	for _, param := range params {
		parameters = append(parameters, metaParameter{Type: "text", Text: CollapseWhitespace(param)})
	}

	reqBody := metaTemplateRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template: metaTemplate{
			Name:     p.template,
			Language: metaLanguage{Code: p.language},
			Components: []metaComponent{
				{Type: "body", Parameters: parameters},
			},
		},
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(p.token).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(p.endpoint)
	if err != nil {
		return nil, requestError(p.Channel(), err)
	}
	if response == nil {
		return nil, &ProviderError{
			Channel:   p.Channel(),
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	body := strings.TrimSpace(response.String())

	var parsed metaSendResponse
	_ = json.Unmarshal(response.Body(), &parsed)

	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices || parsed.Error != nil {
		code, msg := "", body
		if parsed.Error != nil {
			code = strconv.Itoa(parsed.Error.Code)
			msg = parsed.Error.Message
		}
		return nil, statusError(p.Channel(), statusCode, code, msg)
	}

	if len(parsed.Messages) == 0 || strings.TrimSpace(parsed.Messages[0].ID) == "" {
		return nil, &ProviderError{
			Channel:    p.Channel(),
			StatusCode: statusCode,
			Message:    "response did not include a message id",
		}
	}

	rawStatus := parsed.Messages[0].MessageStatus
	if rawStatus == "" {
		rawStatus = "accepted"
	}

	return &Result{
		CorrelationID:      parsed.Messages[0].ID,
		RawStatus:          rawStatus,
		StatusCode:         statusCode,
		Body:               body,
		AwaitsConfirmation: true,
	}, nil
}
