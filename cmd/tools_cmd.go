package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentgate/internal/tools"
)

func toolsCmd() *cobra.Command {
	var (
		jsonOutput bool
		withMCP    bool
	)
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools registered on this gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			g, err := buildGateway(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer g.Close()

			list := g.registry.All()
			if withMCP && len(g.mcp.Defaults()) > 0 {
				attached, warnings := g.mcp.Connect(ctx, nil)
				defer attached.Close()
				for _, w := range warnings {
					fmt.Fprintf(os.Stderr, "warning: %s\n", w)
				}
				list = append(list, attached.Tools()...)
			}
			return printTools(list, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&withMCP, "mcp", false, "connect default MCP servers and include their tools")
	return cmd
}

func printTools(list []tools.Tool, jsonOutput bool) error {
	if jsonOutput {
		defs := tools.ToProviderDefs(list)
		data, err := json.MarshalIndent(defs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDESCRIPTION")
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%s\n", t.Name(), tools.Truncate(t.Description(), 80))
	}
	return tw.Flush()
}
