package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"planhub/internal/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// HTTPWebhookClient performs outbound webhook calls. Unlike the action
// executor's fixed per-action retry, transport-level retries here use
// exponential backoff: 5xx responses and network errors are retried up
// to MaxRetries within the MaxElapsed budget, then the last status is
// reported to the executor as the action outcome.
type HTTPWebhookClient struct {
	client     *http.Client
	maxRetries int
	maxElapsed time.Duration
	logger     *logrus.Logger
}

func NewHTTPWebhookClient(cfg config.WebhookConfig, logger *logrus.Logger) *HTTPWebhookClient {
	if logger == nil {
		logger = logrus.New()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPWebhookClient{
		client:     &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
		maxElapsed: cfg.MaxElapsed,
		logger:     logger,
	}
}

func (c *HTTPWebhookClient) Call(ctx context.Context, url, method string, headers map[string]string, body string) (int, error) {
	if method == "" {
		method = http.MethodPost
	}

	policy := backoff.NewExponentialBackOff()
	if c.maxElapsed > 0 {
		policy.MaxElapsedTime = c.maxElapsed
	}
	retries := uint64(c.maxRetries)

	var lastStatus int
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, ok := headers["Content-Type"]; !ok {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			c.logger.Warnf("webhook %s %s: %v", method, url, err)
			return err
		}
		defer resp.Body.Close()
		lastStatus = resp.StatusCode

		if resp.StatusCode >= 500 {
			return fmt.Errorf("webhook %s returned %d", url, resp.StatusCode)
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx))
	if err != nil {
		return lastStatus, err
	}
	if lastStatus >= 400 {
		// 4xx are not retried; still an action failure
		return lastStatus, fmt.Errorf("webhook %s returned %d", url, lastStatus)
	}
	return lastStatus, nil
}
