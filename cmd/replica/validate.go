package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/replica/internal/app"
	"github.com/MrWong99/replica/internal/config"
	"github.com/MrWong99/replica/internal/order"
	"github.com/MrWong99/replica/internal/persona"
	"github.com/MrWong99/replica/pkg/types"
)

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the profile and persona content and report every problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validate(cmd.Context(), *configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", *configPath)
			return nil
		},
	}
}

// validate loads the profile, builds its providers and compiles the persona
// content without opening storage or contacting MCP servers. Orders bound to
// MCP tools count as handled.
func validate(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := app.BuildProviders(reg, cfg.Providers, nil)
	if err != nil {
		return err
	}

	deps := persona.Deps{LLM: providers.LLM, Embeddings: providers.Embeddings}
	p, err := persona.New(ctx, cfg.Persona, deps)
	if err != nil {
		return err
	}
	bound := make([]types.Anchor, 0, len(cfg.Orders))
	for _, o := range cfg.Orders {
		a := types.Anchor(o.Anchor)
		bound = append(bound, a)
		if err := p.AddEventHandler(a, order.HandlerFunc(func(context.Context, order.Turn) (string, bool, error) {
			return "", false, nil
		})); err != nil {
			return err
		}
	}
	if err := persona.RegisterDemo(p, bound...); err != nil {
		return err
	}
	return p.Validate()
}
