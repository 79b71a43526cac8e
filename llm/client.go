// Package llm wraps calls to a language-model completion endpoint with
// bounded retries and JSON validation of the reply.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// CompleteFunc performs one raw completion call and returns the reply text.
// The production implementation is OpenAI; tests inject fakes.
type CompleteFunc func(ctx context.Context, prompt string) (string, error)

// maxExcerptLen bounds how much of a malformed reply is carried in errors.
const maxExcerptLen = 200

// Config tunes the retry behavior of the client.
type Config struct {
	// MaxRetries is the total number of attempts, not the number of
	// re-attempts. Defaults to 3.
	MaxRetries int
	// RetryDelay is the fixed pause between attempts. Zero means immediate.
	RetryDelay time.Duration
}

// Client turns a free-text completion endpoint into a validated-JSON one.
// A transport failure and an unparsable reply are indistinguishable at the
// retry level: both consume an attempt.
type Client struct {
	complete   CompleteFunc
	maxRetries int
	retryDelay time.Duration
	log        logrus.FieldLogger
}

// NewClient builds a client around the given completion function.
func NewClient(complete CompleteFunc, cfg Config, log logrus.FieldLogger) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Client{
		complete:   complete,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		log:        log,
	}
}

// Invoke sends the prompt and returns the reply as validated raw JSON.
// On exhausting all attempts the returned error carries, for parse failures,
// a truncated excerpt of the last malformed reply, and for transport
// failures, the last underlying error and the attempt count.
func (c *Client) Invoke(ctx context.Context, prompt string) (json.RawMessage, error) {
	var (
		reply        json.RawMessage
		attempt      int
		lastErr      error
		lastBadReply string
	)

	op := func() error {
		attempt++
		raw, err := c.complete(ctx, prompt)
		if err != nil {
			lastErr = err
			lastBadReply = ""
			c.log.WithError(err).WithField("attempt", attempt).Warn("llm call failed")
			return err
		}

		trimmed := strings.TrimSpace(raw)
		if !json.Valid([]byte(trimmed)) {
			lastErr = nil
			lastBadReply = trimmed
			c.log.WithField("attempt", attempt).Warn("llm returned invalid JSON")
			return fmt.Errorf("invalid JSON reply")
		}

		reply = json.RawMessage(trimmed)
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.maxRetries-1)),
		ctx,
	)
	if err := backoff.Retry(op, bo); err != nil {
		if lastBadReply != "" {
			return nil, fmt.Errorf("failed to parse JSON response: %s", excerpt(lastBadReply))
		}
		if lastErr != nil {
			return nil, fmt.Errorf("llm call failed after %d attempts: %s", attempt, lastErr)
		}
		return nil, fmt.Errorf("llm call failed after %d attempts: %s", attempt, err)
	}

	return reply, nil
}

// MaxRetries reports the configured attempt budget.
func (c *Client) MaxRetries() int { return c.maxRetries }

func excerpt(s string) string {
	runes := []rune(s)
	if len(runes) <= maxExcerptLen {
		return s
	}
	return string(runes[:maxExcerptLen]) + "..."
}
