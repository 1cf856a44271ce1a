// Package discord is the Discord front-end. Text messages in the configured
// channels become phrases keyed by the author's ID and the replies are posted
// back to the same channel. Slash commands are routed through a
// [CommandRouter].
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/replica/internal/config"
	"github.com/MrWong99/replica/internal/persona"
	"github.com/MrWong99/replica/internal/session"
)

// Conversations is what the bot drives. It is satisfied by
// *persona.Persona.
type Conversations interface {
	StartConversation(ctx context.Context, userID string) error
	PushPhrase(ctx context.Context, userID, text string) error
	Drain(userID string) []string
	EndConversation(userID string) error
}

// Bot owns the Discord gateway connection.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	conv      Conversations
	router    *CommandRouter
	channels  map[string]bool
	commands  []*discordgo.ApplicationCommand
	ctx       context.Context
	closeOnce sync.Once
}

// New creates a Bot, connects to Discord, and registers the message and
// interaction handlers. ctx bounds the turns the bot runs.
func New(ctx context.Context, cfg config.DiscordConfig, conv Conversations) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	b := newBot(ctx, conv, cfg.ChannelIDs)
	b.session = s

	s.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.handleMessage(b.ctx, s, selfID(s), m.Message)
	})
	s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})

	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

func newBot(ctx context.Context, conv Conversations, channelIDs []string) *Bot {
	b := &Bot{
		conv:     conv,
		router:   NewCommandRouter(),
		channels: make(map[string]bool, len(channelIDs)),
		ctx:      ctx,
	}
	for _, id := range channelIDs {
		b.channels[id] = true
	}
	return b
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Run registers slash commands with Discord and blocks until ctx is
// cancelled, then closes the bot.
func (b *Bot) Run(ctx context.Context) error {
	if cmds := b.router.ApplicationCommands(); len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(selfID(b.session), "", cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "count", len(registered))
	}

	slog.Info("discord bot running", "channels", len(b.channels))
	<-ctx.Done()
	return b.Close()
}

// Close unregisters commands and disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.session == nil {
			return
		}
		appID := selfID(b.session)
		for _, cmd := range b.commands {
			if err := b.session.ApplicationCommandDelete(appID, "", cmd.ID); err != nil {
				slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
			}
		}
		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}

// handleMessage runs one turn for a channel message and posts the replies.
func (b *Bot) handleMessage(ctx context.Context, s Sender, self string, m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == self {
		return
	}
	if len(b.channels) > 0 && !b.channels[m.ChannelID] {
		return
	}
	user := m.Author.ID
	log := slog.With("user_id", user, "channel_id", m.ChannelID)

	if persona.IsStopCommand(m.Content) {
		if err := b.conv.EndConversation(user); err != nil && !errors.Is(err, session.ErrUnknownSession) {
			log.Warn("discord: end conversation failed", "err", err)
		}
		return
	}

	if err := b.conv.StartConversation(ctx, user); err != nil {
		log.Error("discord: start conversation failed", "err", err)
		return
	}
	if err := b.conv.PushPhrase(ctx, user, m.Content); err != nil {
		log.Error("discord: push phrase failed", "err", err)
		return
	}
	for _, reply := range b.conv.Drain(user) {
		if _, err := s.ChannelMessageSend(m.ChannelID, truncate(reply)); err != nil {
			log.Warn("discord: send reply failed", "err", err)
			return
		}
	}
}

func selfID(s *discordgo.Session) string {
	if s == nil || s.State == nil || s.State.User == nil {
		return ""
	}
	return s.State.User.ID
}
