package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTool() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunctionSchema{
			Name:        "query_database",
			Description: "run a query",
			Parameters: map[string]interface{}{
				"$schema": "https://json-schema.org/draft/2020-12/schema",
				"type":    "object",
				"properties": map[string]interface{}{
					"database": map[string]interface{}{"type": "string", "default": "default"},
					"default":  map[string]interface{}{"type": "boolean"},
					"params": map[string]interface{}{
						"type":  "array",
						"items": map[string]interface{}{"$ref": "#/$defs/Param"},
					},
				},
				"$defs":                map[string]interface{}{"Param": map[string]interface{}{}},
				"additionalProperties": false,
				"anyOf":                []interface{}{map[string]interface{}{"examples": []interface{}{1}}},
			},
		},
	}
}

func TestCleanToolSchemasGemini(t *testing.T) {
	cleaned := CleanToolSchemas("gemini-2.0-flash", []ToolDefinition{sampleTool()})
	require.Len(t, cleaned, 1)
	params := cleaned[0].Function.Parameters

	for _, key := range []string{"$schema", "$defs", "additionalProperties"} {
		assert.NotContains(t, params, key)
	}
	props := params["properties"].(map[string]interface{})
	assert.Contains(t, props, "default", "a parameter named default is not a keyword")
	assert.NotContains(t, props["database"].(map[string]interface{}), "default")

	items := props["params"].(map[string]interface{})["items"].(map[string]interface{})
	assert.NotContains(t, items, "$ref")

	anyOf := params["anyOf"].([]interface{})
	assert.NotContains(t, anyOf[0].(map[string]interface{}), "examples")
}

func TestCleanToolSchemasAnthropicKeepsDefaults(t *testing.T) {
	cleaned := CleanToolSchemas("anthropic", []ToolDefinition{sampleTool()})
	params := cleaned[0].Function.Parameters

	assert.NotContains(t, params, "$defs")
	assert.NotContains(t, params, "$schema")
	assert.Contains(t, params, "additionalProperties")
	props := params["properties"].(map[string]interface{})
	assert.Equal(t, "default", props["database"].(map[string]interface{})["default"])
}

func TestCleanToolSchemasDoesNotMutateInput(t *testing.T) {
	orig := sampleTool()
	_ = CleanToolSchemas("gemini", []ToolDefinition{orig})
	assert.Contains(t, orig.Function.Parameters, "$defs")
}

func TestCleanSchemaForProviderNil(t *testing.T) {
	assert.Nil(t, CleanSchemaForProvider("openai", nil))
}
