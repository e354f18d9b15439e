package tools

import (
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/providers"
	"github.com/nextlevelbuilder/agentgate/internal/recipe"
)

// BuiltinGroup names the group holding every built-in tool ("group:builtin").
const BuiltinGroup = "builtin"

// BuiltinOptions wires the built-in tools to gateway services.
type BuiltinOptions struct {
	Resolver       recipe.Resolver
	Client         providers.Client
	DefaultModel   string
	MaxRecipeDepth int
	RecipeTimeout  time.Duration
	Databases      map[string]DatabaseSpec
	AllowPrivate   bool
}

// Builtins holds the registered built-in tools that own resources.
type Builtins struct {
	Recipe   *RecipeTool
	API      *APITool
	Database *DatabaseTool // nil when no databases are configured
}

// Close releases database connections.
func (b *Builtins) Close() error {
	if b == nil || b.Database == nil {
		return nil
	}
	return b.Database.Close()
}

// RegisterBuiltins registers execute_recipe, call_api and, when databases
// are configured, query_database, plus the builtin group.
func RegisterBuiltins(reg *Registry, opts BuiltinOptions) *Builtins {
	b := &Builtins{
		Recipe: NewRecipeTool(opts.Resolver, opts.Client, opts.DefaultModel,
			WithMaxRecipeDepth(opts.MaxRecipeDepth),
			WithRecipeTimeout(opts.RecipeTimeout),
		),
		API: NewAPITool(opts.AllowPrivate),
	}
	reg.Register(b.Recipe)
	reg.Register(b.API)
	members := []string{b.Recipe.Name(), b.API.Name()}

	if len(opts.Databases) > 0 {
		b.Database = NewDatabaseTool(opts.Databases)
		reg.Register(b.Database)
		members = append(members, b.Database.Name())
	}

	reg.RegisterGroup(BuiltinGroup, members)
	return b
}

// CustomTools converts a resolution's custom tool definitions.
// Entries without a name or command are skipped.
func CustomTools(defs []recipe.CustomTool) []Tool {
	out := make([]Tool, 0, len(defs))
	for _, d := range defs {
		if d.Name == "" || d.Command == "" {
			continue
		}
		out = append(out, NewCommandTool(d))
	}
	return out
}
