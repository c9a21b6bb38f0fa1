package slack

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/zulandar/consortium/internal/digest"
)

type mockClient struct {
	calls    int
	channels []string
	options  [][]slackapi.MsgOption
	errs     []error // returned in order; nil once exhausted
}

func (m *mockClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.calls++
	m.channels = append(m.channels, channelID)
	m.options = append(m.options, options)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", "", err
	}
	return channelID, "1234.5678", nil
}

var sample = digest.Message{
	Title: "Consortium Digest",
	Body:  "**Runs**: 2",
	Color: digest.ColorSuccess,
	Fields: []digest.Field{
		{Name: "Runs", Value: "2", Short: true},
		{Name: "Leader", Value: "claude", Short: true},
	},
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "C1"); err == nil {
		t.Error("expected error for empty token")
	}
	if _, err := New("xoxb-test", ""); err == nil {
		t.Error("expected error for empty channel")
	}
	p, err := New("xoxb-test", "C1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Name() != "slack" {
		t.Errorf("Name = %s", p.Name())
	}
}

func TestPublish_PostsToChannel(t *testing.T) {
	mc := &mockClient{}
	p := &Publisher{client: mc, channel: "C-digest"}

	if err := p.Publish(context.Background(), sample); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if mc.calls != 1 || mc.channels[0] != "C-digest" {
		t.Errorf("calls = %d channels = %v", mc.calls, mc.channels)
	}
	if len(mc.options[0]) != 2 {
		t.Errorf("options = %d, want text and attachment", len(mc.options[0]))
	}
}

func TestToAttachment(t *testing.T) {
	att := toAttachment(sample)
	if att.Title != sample.Title || att.Text != sample.Body || att.Color != digest.ColorSuccess || att.Fallback != sample.Title {
		t.Errorf("attachment = %+v", att)
	}
	if len(att.Fields) != 2 || att.Fields[1].Title != "Leader" || att.Fields[1].Value != "claude" || !att.Fields[1].Short {
		t.Errorf("fields = %+v", att.Fields)
	}
}

func TestPublish_RetriesRateLimit(t *testing.T) {
	mc := &mockClient{errs: []error{&slackapi.RateLimitedError{RetryAfter: time.Millisecond}}}
	p := &Publisher{client: mc, channel: "C1"}
	if err := p.Publish(context.Background(), sample); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if mc.calls != 2 {
		t.Errorf("calls = %d, want 2", mc.calls)
	}
}

func TestPublish_NonRateLimitErrorNotRetried(t *testing.T) {
	mc := &mockClient{errs: []error{errors.New("channel_not_found")}}
	p := &Publisher{client: mc, channel: "C1"}
	err := p.Publish(context.Background(), sample)
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("err = %v", err)
	}
	if mc.calls != 1 {
		t.Errorf("calls = %d, want 1", mc.calls)
	}
}

func TestRetryOnRateLimit_GivesUp(t *testing.T) {
	calls := 0
	err := retryOnRateLimit(context.Background(), func() error {
		calls++
		return &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != maxRetries+1 {
		t.Errorf("calls = %d, want %d", calls, maxRetries+1)
	}
}

func TestRetryOnRateLimit_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retryOnRateLimit(ctx, func() error {
		return &slackapi.RateLimitedError{RetryAfter: time.Hour}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
