package recipe

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Overrides is the typed view of config_overrides. Unknown keys are ignored.
type Overrides struct {
	Model          *string  `mapstructure:"model"`
	Temperature    *float64 `mapstructure:"temperature"`
	MaxTokens      *int     `mapstructure:"max_tokens"`
	MaxTurns       *int     `mapstructure:"max_turns"`
	SystemPrompt   *string  `mapstructure:"system_prompt"`
	AllowedTools   []string `mapstructure:"allowed_tools"`
	PermissionMode *string  `mapstructure:"permission_mode"`
}

// DecodeOverrides decodes a raw overrides map, accepting string-typed numbers.
func DecodeOverrides(raw map[string]interface{}) (Overrides, error) {
	var o Overrides
	if len(raw) == 0 {
		return o, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &o,
	})
	if err != nil {
		return o, err
	}
	if err := dec.Decode(raw); err != nil {
		return o, fmt.Errorf("invalid config_overrides: %w", err)
	}
	return o, nil
}

// Apply writes the set fields onto r.
func (o Overrides) Apply(r *Result) {
	if o.Model != nil {
		r.Model = *o.Model
	}
	if o.Temperature != nil {
		t := *o.Temperature
		r.Temperature = &t
	}
	if o.MaxTokens != nil {
		n := *o.MaxTokens
		r.MaxTokens = &n
	}
	if o.MaxTurns != nil {
		n := *o.MaxTurns
		r.MaxTurns = &n
	}
	if o.SystemPrompt != nil {
		r.SystemPrompt = *o.SystemPrompt
	}
	if o.AllowedTools != nil {
		r.AllowedTools = append([]string(nil), o.AllowedTools...)
	}
	if o.PermissionMode != nil {
		r.PermissionMode = *o.PermissionMode
	}
}
