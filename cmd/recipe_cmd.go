package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentgate/internal/recipe"
)

func recipeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipe",
		Short: "Inspect recipe resolution",
	}
	cmd.AddCommand(recipeResolveCmd())
	return cmd
}

func recipeResolveCmd() *cobra.Command {
	var (
		input     string
		vars      []string
		overrides []string
	)
	cmd := &cobra.Command{
		Use:   "resolve <agent-id>",
		Short: "Resolve a recipe with the configured resolver and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			variables, err := parseVars(vars)
			if err != nil {
				return err
			}
			over, err := parseVars(overrides)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			g, err := buildGateway(context.Background(), cfg, false)
			if err != nil {
				return err
			}
			defer g.Close()

			res := g.resolver.Resolve(cmd.Context(), recipe.Request{
				AgentID:   recipe.NormalizeID(args[0]),
				UserInput: input,
				Variables: variables,
				Overrides: over,
			})
			data, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			if res == nil || !res.Success {
				return fmt.Errorf("resolution of %q failed", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "user input")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "template variable key=value (repeatable)")
	cmd.Flags().StringArrayVar(&overrides, "override", nil, "config override key=value (repeatable)")
	return cmd
}
