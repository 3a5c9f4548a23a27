// Package discord is the Discord front-end of MindBridge: slash commands
// that let allowed members start a voice session in their voice channel,
// stop it and read its transcript.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

type Config struct {
	Token   string
	GuildID string

	// AllowedRoles restricts session commands to members with one of these
	// role IDs. Empty allows everyone.
	AllowedRoles []string
}

// Bot is a connected gateway session plus the command router it feeds.
type Bot struct {
	session *discordgo.Session
	guildID string
	router  *CommandRouter
	perms   *PermissionChecker

	closeOnce sync.Once
	closeErr  error
}

// New opens the gateway connection. Commands are uploaded by [Bot.Run].
func New(_ context.Context, cfg Config) (*Bot, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	// Voice states feed StateVoiceLocator.
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates | discordgo.IntentsGuildMessages

	b := &Bot{
		session: s,
		guildID: cfg.GuildID,
		router:  NewCommandRouter(),
		perms:   NewPermissionChecker(cfg.AllowedRoles...),
	}
	s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) { b.router.Handle(s, i) })
	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("discord: open gateway: %w", err)
	}
	return b, nil
}

func (b *Bot) GuildID() string                 { return b.guildID }
func (b *Bot) Session() *discordgo.Session     { return b.session }
func (b *Bot) Router() *CommandRouter          { return b.router }
func (b *Bot) Permissions() *PermissionChecker { return b.perms }

// Run uploads the router's commands to the guild and keeps them there until
// ctx ends.
func (b *Bot) Run(ctx context.Context) error {
	appID := b.session.State.User.ID
	cmds := b.router.ApplicationCommands()
	if _, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds); err != nil {
		return fmt.Errorf("discord: upload commands: %w", err)
	}
	slog.Info("discord commands uploaded", "guild", b.guildID, "count", len(cmds))

	<-ctx.Done()

	// An empty overwrite removes them again.
	if _, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, nil); err != nil {
		slog.Warn("discord: remove commands", "err", err)
	}
	return nil
}

// Close disconnects from the gateway. It is safe to call more than once.
func (b *Bot) Close() error {
	b.closeOnce.Do(func() {
		if err := b.session.Close(); err != nil {
			b.closeErr = fmt.Errorf("discord: close gateway: %w", err)
		}
	})
	return b.closeErr
}
