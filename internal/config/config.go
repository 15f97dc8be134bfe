package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
)

type Config struct {
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL       string `env:"RABBITMQ_URL,required=true"`
	RedisURL          string `env:"REDIS_URL,required=true"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=8"`
	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=10"`
	RateLimitChannels string `env:"RATE_LIMIT_CHANNELS"`
	ConsumerPrefetch  int    `env:"CONSUMER_PREFETCH,default=1"`
	WorkerMetricsPort int    `env:"WORKER_METRICS_PORT,default=9091"`
	DBMaxOpenConns    int    `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns    int    `env:"DB_MAX_IDLE_CONNS,default=5"`

	SweepSchedule      string `env:"SWEEP_SCHEDULE,default=@every 1m"`
	SweepBatchSize     int    `env:"SWEEP_BATCH_SIZE,default=100"`
	SweepMaxAgeHours   int    `env:"SWEEP_MAX_AGE_HOURS,default=24"`
	SweepPublishPerSec int    `env:"SWEEP_PUBLISH_PER_SEC,default=20"`

	DuplicateWindowSeconds int    `env:"DUPLICATE_WINDOW_SECONDS,default=5"`
	ProviderTimeoutSeconds int    `env:"PROVIDER_TIMEOUT_SECONDS,default=10"`
	LateDeliveryPolicy     string `env:"LATE_DELIVERY_POLICY,default=accept"`

	WhatsAppBaseURL          string `env:"WHATSAPP_BASE_URL,default=https://graph.facebook.com"`
	WhatsAppAPIVersion       string `env:"WHATSAPP_API_VERSION,default=v18.0"`
	WhatsAppPhoneNumberID    string `env:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppAccessToken      string `env:"WHATSAPP_ACCESS_TOKEN"`
	WhatsAppTemplateName     string `env:"WHATSAPP_TEMPLATE_NAME,default=qr_template_on_m"`
	WhatsAppTemplateLanguage string `env:"WHATSAPP_TEMPLATE_LANGUAGE,default=en_US"`
	WhatsAppVerifyToken      string `env:"WHATSAPP_VERIFY_TOKEN"`

	TwilioBaseURL           string `env:"TWILIO_BASE_URL,default=https://api.twilio.com"`
	TwilioAccountSID        string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken         string `env:"TWILIO_AUTH_TOKEN"`
	TwilioSMSFrom           string `env:"TWILIO_SMS_FROM"`
	TwilioWhatsAppFrom      string `env:"TWILIO_WHATSAPP_FROM"`
	TwilioStatusCallbackURL string `env:"TWILIO_STATUS_CALLBACK_URL"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if !domain.LateDeliveryPolicy(strings.ToLower(c.LateDeliveryPolicy)).IsValid() {
		return fmt.Errorf("LATE_DELIVERY_POLICY must be accept or reject, got %q", c.LateDeliveryPolicy)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.WorkerConcurrency)
	}
	if c.DuplicateWindowSeconds < 1 {
		return fmt.Errorf("DUPLICATE_WINDOW_SECONDS must be positive, got %d", c.DuplicateWindowSeconds)
	}
	if _, err := c.ChannelRateLimits(); err != nil {
		return err
	}
	if strings.TrimSpace(c.SweepSchedule) == "" {
		return fmt.Errorf("SWEEP_SCHEDULE is required")
	}
	return nil
}

func (c *Config) Policy() domain.LateDeliveryPolicy {
	return domain.LateDeliveryPolicy(strings.ToLower(strings.TrimSpace(c.LateDeliveryPolicy)))
}

// ChannelRateLimits parses RATE_LIMIT_CHANNELS, a comma separated list of CHANNEL=perSecond
// overrides such as "META_WHATSAPP=80,TWILIO_SMS=1". Legacy channel codes are accepted.
func (c *Config) ChannelRateLimits() (map[domain.Channel]int, error) {
	limits := make(map[domain.Channel]int)
	for _, entry := range strings.Split(c.RateLimitChannels, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("RATE_LIMIT_CHANNELS entry %q must be CHANNEL=perSecond", entry)
		}
		channel, err := domain.ParseChannelFromString(name)
		if err != nil {
			return nil, fmt.Errorf("RATE_LIMIT_CHANNELS: %w", err)
		}
		perSec, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || perSec < 1 {
			return nil, fmt.Errorf("RATE_LIMIT_CHANNELS limit for %s must be a positive integer, got %q", channel, value)
		}
		limits[channel] = perSec
	}
	return limits, nil
}

func (c *Config) DuplicateWindow() time.Duration {
	return time.Duration(c.DuplicateWindowSeconds) * time.Second
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

func (c *Config) SweepMaxAge() time.Duration {
	return time.Duration(c.SweepMaxAgeHours) * time.Hour
}

// MetaWhatsAppEnabled reports whether enough credentials exist to register the Meta provider.
func (c *Config) MetaWhatsAppEnabled() bool {
	return c.WhatsAppPhoneNumberID != "" && c.WhatsAppAccessToken != ""
}

func (c *Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}
