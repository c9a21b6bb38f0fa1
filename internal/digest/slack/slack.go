// Package slack publishes digests to a Slack channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/zulandar/consortium/internal/digest"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// client abstracts the Slack API methods we use, enabling test mocks.
type client interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Publisher posts digest messages as Slack attachments.
type Publisher struct {
	client  client
	channel string
}

// New creates a Publisher using a bot token (xoxb-...).
func New(token, channel string) (*Publisher, error) {
	if token == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	return &Publisher{client: slackapi.New(token), channel: channel}, nil
}

// Name implements digest.Publisher.
func (p *Publisher) Name() string { return "slack" }

// Publish posts msg to the configured channel.
func (p *Publisher) Publish(ctx context.Context, msg digest.Message) error {
	options := []slackapi.MsgOption{
		slackapi.MsgOptionText(msg.Title, false),
		slackapi.MsgOptionAttachments(toAttachment(msg)),
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := p.client.PostMessage(p.channel, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func toAttachment(msg digest.Message) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    msg.Title,
		Text:     msg.Body,
		Color:    msg.Color,
		Fallback: msg.Title,
	}
	for _, f := range msg.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}

// retryOnRateLimit calls fn and retries on Slack rate limit errors,
// honoring RetryAfter when Slack provides it.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
