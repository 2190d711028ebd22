package gateway

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

type DiscordNotifier struct {
	Session   *discordgo.Session
	ChannelID string
}

// NewDiscordNotifier only uses the REST API; no gateway connection is opened.
func NewDiscordNotifier(token, channelID string) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	return &DiscordNotifier{Session: session, ChannelID: channelID}, nil
}

func (d *DiscordNotifier) Notify(ctx context.Context, s Summary) error {
	if d.ChannelID == "" {
		return fmt.Errorf("discord: channel ID is empty")
	}
	_, err := d.Session.ChannelMessageSend(d.ChannelID, s.Text(), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}
