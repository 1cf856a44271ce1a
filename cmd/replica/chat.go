package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MrWong99/replica/internal/persona"
)

// runner drives the application's background loops until ctx is done.
type runner interface {
	Run(ctx context.Context) error
}

// conversation is the part of the persona the console drives.
type conversation interface {
	StartConversation(ctx context.Context, userID string) error
	PushPhrase(ctx context.Context, userID, text string) error
	Drain(userID string) []string
}

func newChatCmd(configPath *string) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: `Talk to the bot in the console; \q, \exit, \quit or /stop end the chat`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := startApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer shutdown(a)

			return chat(ctx, a, a.Persona(), user, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "console", "user id of the console conversation")
	return cmd
}

// chat runs r in the background for the duration of the console session. It
// returns once the background loops have stopped.
func chat(ctx context.Context, r runner, c conversation, user string, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("background loops stopped", "err", err)
		}
	}()

	err := repl(ctx, c, user, in, out)
	cancel()
	<-done
	return err
}

// repl reads one phrase per line and prints the replies until a stop
// command, end of input or ctx is done.
func repl(ctx context.Context, c conversation, user string, in io.Reader, out io.Writer) error {
	if err := c.StartConversation(ctx, user); err != nil {
		return err
	}
	if err := printReplies(out, c.Drain(user)); err != nil {
		return err
	}

	sc := bufio.NewScanner(in)
	for {
		if _, err := fmt.Fprint(out, "> "); err != nil {
			return err
		}
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := sc.Text()
		if persona.IsStopCommand(line) {
			return nil
		}
		if err := c.PushPhrase(ctx, user, line); err != nil {
			return err
		}
		if err := printReplies(out, c.Drain(user)); err != nil {
			return err
		}
	}
}

func printReplies(out io.Writer, replies []string) error {
	for _, r := range replies {
		if _, err := fmt.Fprintln(out, r); err != nil {
			return err
		}
	}
	return nil
}
