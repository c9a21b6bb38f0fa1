// Package discord publishes digests to a Discord channel over the REST API.
package discord

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/zulandar/consortium/internal/digest"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries  = 3
	baseBackoff = 2 * time.Second
	maxBackoff  = 30 * time.Second
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Publisher posts digest messages as Discord embeds.
type Publisher struct {
	sess        session
	channel     string
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// New creates a Publisher for a bot token. No gateway connection is opened.
func New(token, channel string) (*Publisher, error) {
	if token == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("discord: channel is required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &Publisher{sess: s, channel: channel, baseBackoff: baseBackoff, maxBackoff: maxBackoff}, nil
}

// Name implements digest.Publisher.
func (p *Publisher) Name() string { return "discord" }

// Publish sends msg to the configured channel.
func (p *Publisher) Publish(ctx context.Context, msg digest.Message) error {
	data := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{toEmbed(msg)}}
	err := p.retryOnRateLimit(ctx, func() error {
		_, sendErr := p.sess.ChannelMessageSendComplex(p.channel, data)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

func toEmbed(msg digest.Message) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Body,
	}
	if msg.Color != "" {
		embed.Color = parseHexColor(msg.Color)
	}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return embed
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}

func (p *Publisher) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * p.baseBackoff
		if wait > p.maxBackoff {
			wait = p.maxBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
