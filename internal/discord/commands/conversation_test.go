package commands

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/replica/internal/discord"
	"github.com/MrWong99/replica/internal/discord/mock"
	"github.com/MrWong99/replica/internal/session"
	"github.com/MrWong99/replica/internal/turnlog"
)

type stubConv struct {
	endErr    error
	recent    []turnlog.Record
	recentErr error
	ended     []string
}

func (s *stubConv) EndConversation(userID string) error {
	s.ended = append(s.ended, userID)
	return s.endErr
}

func (s *stubConv) Recent(context.Context, string, int) ([]turnlog.Record, error) {
	return s.recent, s.recentErr
}

func subcommand(user, name string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:   discordgo.InteractionApplicationCommand,
			Member: &discordgo.Member{User: &discordgo.User{ID: user}},
			Data: discordgo.ApplicationCommandInteractionData{
				Name: "replica",
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{Name: name, Type: discordgo.ApplicationCommandOptionSubCommand},
				},
			},
		},
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"ended", nil, "Разговор сброшен."},
		{"no session", session.ErrUnknownSession, "Разговор ещё не начат."},
		{"failure", errors.New("boom"), "Не удалось сбросить разговор."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			conv := &stubConv{endErr: tt.err}
			router := discord.NewCommandRouter()
			NewConversationCommands(router, conv)

			resp := &mock.Responder{}
			router.Handle(resp, subcommand("u1", "reset"))

			if got := resp.LastContent(); got != tt.want {
				t.Errorf("response = %q, want %q", got, tt.want)
			}
			if len(conv.ended) != 1 || conv.ended[0] != "u1" {
				t.Errorf("ended = %v", conv.ended)
			}
			if resp.Responses[0].Data.Flags != discordgo.MessageFlagsEphemeral {
				t.Error("response is not ephemeral")
			}
		})
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()

	conv := &stubConv{recent: []turnlog.Record{
		{Text: "когда обед?", Replies: []string{"Обед в 13:00"}},
		{Text: "привет", Replies: []string{"Привет!", "Чем помочь?"}},
	}}
	router := discord.NewCommandRouter()
	NewConversationCommands(router, conv)

	resp := &mock.Responder{}
	router.Handle(resp, subcommand("u1", "history"))

	want := "> привет\nПривет!\nЧем помочь?\n> когда обед?\nОбед в 13:00"
	if got := resp.LastContent(); got != want {
		t.Errorf("history = %q, want %q", got, want)
	}
}

func TestHistory_EmptyAndError(t *testing.T) {
	t.Parallel()

	router := discord.NewCommandRouter()
	NewConversationCommands(router, &stubConv{})
	resp := &mock.Responder{}
	router.Handle(resp, subcommand("u1", "history"))
	if got := resp.LastContent(); got != "История пуста." {
		t.Errorf("empty history = %q", got)
	}

	router = discord.NewCommandRouter()
	NewConversationCommands(router, &stubConv{recentErr: errors.New("db down")})
	router.Handle(resp, subcommand("u1", "history"))
	if got := resp.LastContent(); got != "История недоступна." {
		t.Errorf("failed history = %q", got)
	}
}

func TestDefinition(t *testing.T) {
	t.Parallel()

	def := (&ConversationCommands{}).Definition()
	if def.Name != "replica" {
		t.Errorf("name = %q", def.Name)
	}
	var names []string
	for _, o := range def.Options {
		if o.Type != discordgo.ApplicationCommandOptionSubCommand {
			t.Errorf("option %q is not a subcommand", o.Name)
		}
		names = append(names, o.Name)
	}
	if len(names) != 2 || names[0] != "reset" || names[1] != "history" {
		t.Errorf("subcommands = %v", names)
	}
}
