package loader

import (
	"encoding/json"

	"github.com/tidwall/jsonc"
)

// parseJSONC parses JSON, tolerating comments and trailing commas.
func parseJSONC(source string, data []byte) (map[string]any, error) {
	var config map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &config); err != nil {
		return nil, &ParseError{
			Path:    source,
			Message: err.Error(),
			Err:     err,
		}
	}
	return config, nil
}
