// Package commands implements Discord slash command handlers.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/replica/internal/discord"
	"github.com/MrWong99/replica/internal/session"
	"github.com/MrWong99/replica/internal/turnlog"
)

// historyLimit is the number of turns /replica history shows.
const historyLimit = 5

// Conversations is the subset of the persona the commands need.
type Conversations interface {
	EndConversation(userID string) error
	Recent(ctx context.Context, userID string, limit int) ([]turnlog.Record, error)
}

// ConversationCommands holds the dependencies for /replica slash commands.
type ConversationCommands struct {
	conv    Conversations
	timeout time.Duration
}

// NewConversationCommands creates the command set and registers it with
// router.
func NewConversationCommands(router *discord.CommandRouter, conv Conversations) *ConversationCommands {
	cc := &ConversationCommands{conv: conv, timeout: 10 * time.Second}
	cc.Register(router)
	return cc
}

// Register registers the /replica command group with the router.
func (cc *ConversationCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("replica", cc.Definition(), func(r discord.Responder, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(r, i, "Используйте `/replica reset` или `/replica history`.")
	})
	router.RegisterHandler("replica/reset", cc.handleReset)
	router.RegisterHandler("replica/history", cc.handleHistory)
}

// Definition returns the ApplicationCommand definition for Discord.
func (cc *ConversationCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "replica",
		Description: "Управление разговором",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "reset",
				Description: "Начать разговор заново",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "history",
				Description: "Показать последние реплики",
			},
		},
	}
}

func (cc *ConversationCommands) handleReset(r discord.Responder, i *discordgo.InteractionCreate) {
	user := discord.InteractionUserID(i)
	err := cc.conv.EndConversation(user)
	switch {
	case err == nil:
		discord.RespondEphemeral(r, i, "Разговор сброшен.")
	case errors.Is(err, session.ErrUnknownSession):
		discord.RespondEphemeral(r, i, "Разговор ещё не начат.")
	default:
		slog.Warn("discord: reset failed", "user_id", user, "err", err)
		discord.RespondEphemeral(r, i, "Не удалось сбросить разговор.")
	}
}

func (cc *ConversationCommands) handleHistory(r discord.Responder, i *discordgo.InteractionCreate) {
	user := discord.InteractionUserID(i)
	ctx, cancel := context.WithTimeout(context.Background(), cc.timeout)
	defer cancel()

	recs, err := cc.conv.Recent(ctx, user, historyLimit)
	if err != nil {
		slog.Warn("discord: history failed", "user_id", user, "err", err)
		discord.RespondEphemeral(r, i, "История недоступна.")
		return
	}
	if len(recs) == 0 {
		discord.RespondEphemeral(r, i, "История пуста.")
		return
	}
	discord.RespondEphemeral(r, i, formatHistory(recs))
}

// formatHistory renders records oldest first.
func formatHistory(recs []turnlog.Record) string {
	var b strings.Builder
	for k := len(recs) - 1; k >= 0; k-- {
		rec := recs[k]
		fmt.Fprintf(&b, "> %s\n", rec.Text)
		for _, reply := range rec.Replies {
			fmt.Fprintf(&b, "%s\n", reply)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}
