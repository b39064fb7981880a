package notify

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookSink POSTs each event as JSON to a fixed URL.
type WebhookSink struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

// NewWebhookSink creates a webhook sink with retries on transport errors
// and 5xx responses.
func NewWebhookSink(url string, logger *zap.Logger) *WebhookSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookSink{client: client, url: url, logger: logger}
}

// Notify delivers e. Failures are logged, never returned.
func (s *WebhookSink) Notify(ctx context.Context, e Event) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(e).
		Post(s.url)
	if err != nil {
		s.logger.Warn("webhook delivery failed",
			zap.String("operation", e.Operation),
			zap.Error(err),
		)
		return
	}
	if resp.IsError() {
		s.logger.Warn("webhook rejected event",
			zap.String("operation", e.Operation),
			zap.Int("status_code", resp.StatusCode()),
		)
	}
}

var _ Sink = (*WebhookSink)(nil)
