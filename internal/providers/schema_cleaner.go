package providers

import "strings"

// Schema keywords each backend rejects. "$schema" and "$id" are dropped for
// every backend since generated schemas carry them.
var (
	commonDropKeys    = keySet("$schema", "$id")
	geminiDropKeys    = keySet("$schema", "$id", "$ref", "$defs", "additionalProperties", "examples", "default")
	anthropicDropKeys = keySet("$schema", "$id", "$ref", "$defs")
)

func keySet(keys ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// CleanToolSchemas returns tools with backend-incompatible schema keywords removed.
// The input slice is not modified.
func CleanToolSchemas(backend string, tools []ToolDefinition) []ToolDefinition {
	if len(tools) == 0 {
		return tools
	}
	drop := dropKeysFor(backend)
	cleaned := make([]ToolDefinition, len(tools))
	for i, t := range tools {
		cleaned[i] = t
		cleaned[i].Function.Parameters = cleanSchema(t.Function.Parameters, drop)
	}
	return cleaned
}

// CleanSchemaForProvider cleans one parameters schema for a backend.
func CleanSchemaForProvider(backend string, params map[string]interface{}) map[string]interface{} {
	return cleanSchema(params, dropKeysFor(backend))
}

func dropKeysFor(backend string) map[string]struct{} {
	switch {
	case backend == "gemini" || strings.HasPrefix(backend, "gemini-"):
		return geminiDropKeys
	case backend == "anthropic":
		return anthropicDropKeys
	default:
		return commonDropKeys
	}
}

// cleanSchema walks a schema object. Keys under "properties" are parameter
// names, not keywords, so they are never dropped.
func cleanSchema(schema map[string]interface{}, drop map[string]struct{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		if _, ok := drop[k]; ok {
			continue
		}
		if k == "properties" {
			if props, ok := v.(map[string]interface{}); ok {
				cleanedProps := make(map[string]interface{}, len(props))
				for name, p := range props {
					cleanedProps[name] = cleanValue(p, drop)
				}
				out[k] = cleanedProps
				continue
			}
		}
		out[k] = cleanValue(v, drop)
	}
	return out
}

func cleanValue(v interface{}, drop map[string]struct{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cleanSchema(val, drop)
	case []interface{}:
		items := make([]interface{}, len(val))
		for i, item := range val {
			items[i] = cleanValue(item, drop)
		}
		return items
	default:
		return v
	}
}
