package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaFor generates a parameters schema from an args struct.
// Fields use `json` names; `jsonschema:"required,description=..."` tags drive the schema.
func SchemaFor[T any]() map[string]interface{} {
	reflector := &invopop.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tools: marshal schema for %T: %v", *new(T), err))
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		panic(fmt.Sprintf("tools: unmarshal schema for %T: %v", *new(T), err))
	}
	delete(m, "$schema")
	delete(m, "$id")
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]interface{}{}
	}
	return m
}

// validatorCache compiles each tool's parameter schema once per view.
// A schema that fails to compile disables validation for that tool.
type validatorCache struct {
	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

func newValidatorCache() *validatorCache {
	return &validatorCache{schemas: make(map[string]*jsonschema.Schema)}
}

func (c *validatorCache) validate(t Tool, args map[string]interface{}) error {
	sch, err := c.schemaFor(t)
	if err != nil || sch == nil {
		return nil
	}
	// Round-trip so numbers and nested values have JSON-decoded types.
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	var instance interface{}
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return sch.Validate(instance)
}

func (c *validatorCache) schemaFor(t Tool) (*jsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sch, ok := c.schemas[t.Name()]; ok {
		return sch, nil
	}
	sch, err := CompileSchema(t.Parameters())
	if err != nil {
		c.schemas[t.Name()] = nil
		return nil, err
	}
	c.schemas[t.Name()] = sch
	return sch, nil
}

// CompileSchema compiles a JSON Schema map. A nil or empty schema yields nil.
func CompileSchema(params map[string]interface{}) (*jsonschema.Schema, error) {
	if len(params) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("tool.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
}
