package recipe

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Recipe is one entry of a recipes file.
type Recipe struct {
	Description       string                 `yaml:"description,omitempty"`
	SystemPrompt      string                 `yaml:"system_prompt"`
	Prompt            string                 `yaml:"prompt,omitempty"`
	Model             string                 `yaml:"model,omitempty"`
	Temperature       *float64               `yaml:"temperature,omitempty"`
	MaxTokens         *int                   `yaml:"max_tokens,omitempty"`
	MaxTurns          *int                   `yaml:"max_turns,omitempty"`
	AllowedTools      []string               `yaml:"allowed_tools,omitempty"`
	CustomTools       []CustomTool           `yaml:"custom_tools,omitempty"`
	MCPServers        []Attachment           `yaml:"mcp_servers,omitempty"`
	PermissionMode    string                 `yaml:"permission_mode,omitempty"`
	Variables         map[string]interface{} `yaml:"variables,omitempty"`
	RequiredVariables []string               `yaml:"required_variables,omitempty"`
	Metadata          map[string]interface{} `yaml:"metadata,omitempty"`
}

type recipeFile struct {
	Recipes map[string]Recipe `yaml:"recipes"`
}

type compiledRecipe struct {
	Recipe
	system *template.Template
	prompt *template.Template
}

// FileResolver serves recipes from a YAML file. Prompts are Go templates
// rendered over {{.input}}, {{.agent_id}} and {{.vars.<name>}}.
type FileResolver struct {
	path string

	mu      sync.RWMutex
	recipes map[string]*compiledRecipe
}

// LoadFile parses path and returns a resolver over its recipes.
func LoadFile(path string) (*FileResolver, error) {
	f := &FileResolver{path: path}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the recipes file path.
func (f *FileResolver) Path() string { return f.path }

// Reload re-reads the file. On error the previous recipes stay active.
func (f *FileResolver) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read recipes: %w", err)
	}
	recipes, err := parseRecipes(data)
	if err != nil {
		return fmt.Errorf("%s: %w", f.path, err)
	}
	f.mu.Lock()
	f.recipes = recipes
	f.mu.Unlock()
	slog.Info("recipes loaded", "path", f.path, "count", len(recipes))
	return nil
}

// parseRecipes decodes and compiles a recipes document.
func parseRecipes(data []byte) (map[string]*compiledRecipe, error) {
	var doc recipeFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse recipes: %w", err)
	}
	out := make(map[string]*compiledRecipe, len(doc.Recipes))
	for rawID, r := range doc.Recipes {
		id := NormalizeID(rawID)
		if id == "" {
			return nil, fmt.Errorf("recipe with blank id")
		}
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("duplicate recipe id %q after normalization", id)
		}
		cr := &compiledRecipe{Recipe: r}
		var err error
		if cr.system, err = compileTemplate(id+".system", r.SystemPrompt); err != nil {
			return nil, err
		}
		if cr.prompt, err = compileTemplate(id+".prompt", r.Prompt); err != nil {
			return nil, err
		}
		out[id] = cr
	}
	return out, nil
}

func compileTemplate(name, text string) (*template.Template, error) {
	if text == "" {
		return nil, nil
	}
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("recipe template %s: %w", name, err)
	}
	return t, nil
}

// IDs lists the loaded recipe ids, sorted.
func (f *FileResolver) IDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, 0, len(f.recipes))
	for id := range f.recipes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *FileResolver) Resolve(_ context.Context, req Request) *Result {
	id := NormalizeID(req.AgentID)
	f.mu.RLock()
	r, ok := f.recipes[id]
	f.mu.RUnlock()
	if !ok {
		return Failure("recipe not found: %s", id)
	}

	vars := make(map[string]interface{}, len(r.Variables)+len(req.Variables))
	for k, v := range r.Variables {
		vars[k] = v
	}
	for k, v := range req.Variables {
		vars[k] = v
	}
	for _, name := range r.RequiredVariables {
		if _, ok := vars[name]; !ok {
			return Failure("recipe %s: missing required variable %q", id, name)
		}
	}

	data := map[string]interface{}{
		"input":    req.UserInput,
		"agent_id": id,
		"vars":     vars,
	}
	system, err := render(r.system, r.SystemPrompt, data)
	if err != nil {
		return Failure("recipe %s: %v", id, err)
	}
	compiled, err := render(r.prompt, req.UserInput, data)
	if err != nil {
		return Failure("recipe %s: %v", id, err)
	}

	res := &Result{
		Success:        true,
		SystemPrompt:   system,
		Model:          r.Model,
		Temperature:    r.Temperature,
		MaxTokens:      r.MaxTokens,
		MaxTurns:       r.MaxTurns,
		AllowedTools:   append([]string(nil), r.AllowedTools...),
		CustomTools:    append([]CustomTool(nil), r.CustomTools...),
		MCPServers:     append([]Attachment(nil), r.MCPServers...),
		PermissionMode: r.PermissionMode,
		CompiledPrompt: compiled,
		Metadata:       map[string]interface{}{"agent_id": id, "variables": vars},
	}
	for k, v := range r.Metadata {
		res.Metadata[k] = v
	}

	o, err := DecodeOverrides(req.Overrides)
	if err != nil {
		return Failure("%v", err)
	}
	o.Apply(res)
	return res
}

// render executes t, or returns fallback when t is nil.
func render(t *template.Template, fallback string, data map[string]interface{}) (string, error) {
	if t == nil {
		return fallback, nil
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
