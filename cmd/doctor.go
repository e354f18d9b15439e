package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentgate/internal/config"
	"github.com/nextlevelbuilder/agentgate/internal/mcp"
	"github.com/nextlevelbuilder/agentgate/internal/recipe"
	agentruntime "github.com/nextlevelbuilder/agentgate/internal/runtime"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("agentgate doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	// Providers
	fmt.Println()
	fmt.Println("  Providers:")
	checkProvider("Anthropic", cfg.Providers.Anthropic.APIKey)
	checkProvider("OpenAI", cfg.Providers.OpenAI.APIKey)
	checkProvider("Gemini", cfg.Providers.Gemini.APIKey)
	if cfg.Providers.LiteLLM.Enabled {
		fmt.Printf("    %-12s %s (all models)\n", "LiteLLM:", cfg.Providers.LiteLLM.URL)
	}

	// Engine
	fmt.Println()
	fmt.Println("  Engine:")
	fmt.Printf("    %-12s %s\n", "Runtime:", cfg.Engine.Runtime)
	if cfg.Engine.PermissionMode != "" {
		mode, ok := recipe.ParsePermissionMode(cfg.Engine.PermissionMode)
		if !ok {
			mode = recipe.PermissionConfirmEach
		}
		fmt.Printf("    %-12s %s (claude-cli: %s)\n", "Permission:", mode, agentruntime.CLIPermissionMode(mode))
	}
	if cfg.Engine.Runtime == agentruntime.ClaudeCLIName {
		cli := cfg.Engine.CLIPath
		if cli == "" {
			cli = "claude"
		}
		checkBinary(cli)
	}

	// Recipes
	fmt.Println()
	fmt.Printf("  Recipes:  %s", cfg.Recipes.Source)
	switch cfg.Recipes.Source {
	case config.SourceFile:
		if f, err := recipe.LoadFile(cfg.Recipes.Path); err != nil {
			fmt.Printf(" (%s)\n", err)
		} else {
			fmt.Printf(" (%d recipes in %s)\n", len(f.IDs()), cfg.Recipes.Path)
		}
	case config.SourceHTTP:
		fmt.Printf(" (%s)\n", cfg.Recipes.URL)
	default:
		fmt.Println()
	}

	// Capability servers
	if cfg.MCP.ConfigPath != "" {
		fmt.Println()
		servers, err := mcp.LoadConfigFile(cfg.MCP.ConfigPath)
		if err != nil {
			fmt.Printf("  MCP:      %s\n", err)
		} else {
			fmt.Printf("  MCP:      %d servers in %s\n", len(servers), cfg.MCP.ConfigPath)
			for _, s := range servers {
				fmt.Printf("    %-12s %s\n", s.Name+":", s.TransportKind())
			}
		}
	}

	// Workspace
	fmt.Println()
	ws := cfg.Engine.Workspace
	if ws == "" {
		ws = "(current directory)"
	}
	fmt.Printf("  Workspace: %s", ws)
	if cfg.Engine.Workspace == "" {
		fmt.Println()
	} else if _, err := os.Stat(cfg.Engine.Workspace); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkProvider(name, apiKey string) {
	if len(apiKey) > 8 {
		maskedKey := apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
		fmt.Printf("    %-12s %s\n", name+":", maskedKey)
	} else if apiKey != "" {
		fmt.Printf("    %-12s ****\n", name+":")
	} else {
		fmt.Printf("    %-12s (not configured)\n", name+":")
	}
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
