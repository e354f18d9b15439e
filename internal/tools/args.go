package tools

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// decodeArgs decodes raw tool arguments into a struct using its json tags.
// Values are weakly typed: models often send numbers as strings.
func decodeArgs(args map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
