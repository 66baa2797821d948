package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Email templates the scheduler sends.
const (
	TemplateReminder = "appointment_reminder"
	TemplateSurvey   = "post_visit_survey"
)

var ErrChannelRejected = errors.New("notification provider rejected request")

// Email is a templated message. Placeholder substitution happens at the provider.
type Email struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data"`
}

// VoiceCall asks the provider to place one follow-up call.
type VoiceCall struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Phone         string    `json:"phone"`
	PatientID     string    `json:"patient_id"`
	ProviderName  string    `json:"provider_name"`
	StartLocal    string    `json:"start_local"`
}

// Channel delivers email and voice calls. A nil error means the provider
// accepted the request; there is no delivery confirmation.
type Channel interface {
	SendEmail(ctx context.Context, msg Email) error
	PlaceVoiceCall(ctx context.Context, call VoiceCall) (callID string, err error)
}

type HTTPChannelConfig struct {
	EmailURL string
	VoiceURL string
	Token    string
	Timeout  time.Duration

	// FailureThreshold consecutive failures open the breaker for OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// HTTPChannel posts JSON to an email endpoint and a voice endpoint, each
// behind its own circuit breaker.
type HTTPChannel struct {
	cfg          HTTPChannelConfig
	httpClient   *http.Client
	emailBreaker *gobreaker.CircuitBreaker[string]
	voiceBreaker *gobreaker.CircuitBreaker[string]
	logger       zerolog.Logger
}

func NewHTTPChannel(cfg HTTPChannelConfig, logger zerolog.Logger) *HTTPChannel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}

	c := &HTTPChannel{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "notify.channel").Logger(),
	}
	c.emailBreaker = c.newBreaker("email")
	c.voiceBreaker = c.newBreaker("voice")
	return c
}

func (c *HTTPChannel) newBreaker(name string) *gobreaker.CircuitBreaker[string] {
	return gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     c.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
}

func (c *HTTPChannel) SendEmail(ctx context.Context, msg Email) error {
	_, err := c.emailBreaker.Execute(func() (string, error) {
		_, err := c.post(ctx, c.cfg.EmailURL, msg)
		return "", err
	})
	if err != nil {
		return fmt.Errorf("send email %s: %w", msg.Template, err)
	}
	return nil
}

type voiceCallResponse struct {
	CallID string `json:"call_id"`
}

func (c *HTTPChannel) PlaceVoiceCall(ctx context.Context, call VoiceCall) (string, error) {
	callID, err := c.voiceBreaker.Execute(func() (string, error) {
		body, err := c.post(ctx, c.cfg.VoiceURL, call)
		if err != nil {
			return "", err
		}
		var resp voiceCallResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("decode voice response: %w", err)
		}
		return resp.CallID, nil
	})
	if err != nil {
		return "", fmt.Errorf("place voice call: %w", err)
	}
	return callID, nil
}

func (c *HTTPChannel) post(ctx context.Context, url string, payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrChannelRejected, resp.StatusCode, string(body))
	}

	return body, nil
}

// LogChannel accepts every request and only logs it. Used when no provider
// endpoints are configured.
type LogChannel struct {
	logger zerolog.Logger
}

func NewLogChannel(logger zerolog.Logger) *LogChannel {
	return &LogChannel{logger: logger.With().Str("component", "notify.log_channel").Logger()}
}

func (c *LogChannel) SendEmail(_ context.Context, msg Email) error {
	c.logger.Info().Str("to", msg.To).Str("template", msg.Template).Msg("email accepted")
	return nil
}

func (c *LogChannel) PlaceVoiceCall(_ context.Context, call VoiceCall) (string, error) {
	callID := "log-" + uuid.NewString()
	c.logger.Info().
		Str("appointment_id", call.AppointmentID.String()).
		Str("phone", call.Phone).
		Str("call_id", callID).
		Msg("voice call accepted")
	return callID, nil
}
