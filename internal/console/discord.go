package console

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorEscalation = 0xCC3333
	colorHighRisk   = 0xFF9900
	colorInfo       = 0x3399FF
)

// DiscordSession is the slice of discordgo.Session the notifier uses.
type DiscordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts session escalations to one alerts channel.
type DiscordNotifier struct {
	session   DiscordSession
	channelID string
	logger    *zap.Logger
}

func NewDiscordNotifier(token, channelID string, logger *zap.Logger) (*DiscordNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}
	if channelID == "" {
		return nil, fmt.Errorf("discord alerts channel is required")
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return NewDiscordNotifierWithSession(dg, channelID, logger), nil
}

// NewDiscordNotifierWithSession creates a notifier with an injected session (for testing).
func NewDiscordNotifierWithSession(session DiscordSession, channelID string, logger *zap.Logger) *DiscordNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscordNotifier{session: session, channelID: channelID, logger: logger}
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) Notify(ctx context.Context, n Notification) error {
	embed := notificationEmbed(n)
	if _, err := d.session.ChannelMessageSendEmbed(d.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send discord embed: %w", err)
	}
	d.logger.Debug("discord notification sent",
		zap.String("kind", string(n.Kind)),
		zap.String("session_id", n.SessionID),
	)
	return nil
}

func notificationEmbed(n Notification) *discordgo.MessageEmbed {
	color := colorInfo
	switch n.Kind {
	case NotifyEscalation:
		color = colorEscalation
	case NotifyHighRiskFix:
		color = colorHighRisk
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Tenant", Value: valueOrDash(n.Tenant), Inline: true},
		{Name: "Operation", Value: valueOrDash(n.Operation), Inline: true},
		{Name: "State", Value: valueOrDash(n.State), Inline: true},
		{Name: "Session", Value: "`" + n.SessionID + "`", Inline: false},
	}
	if n.FindingID != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Finding", Value: "`" + n.FindingID + "`"})
	}

	return &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: truncateEmbed(n.Detail, 2000),
		Color:       color,
		Fields:      fields,
		Timestamp:   n.Timestamp.UTC().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: string(n.Kind)},
	}
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncateEmbed(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
