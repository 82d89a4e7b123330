package client

import (
	"encoding/json"
	"fmt"
)

// decodeJSON unmarshals a response body, attributing failures to the path
// that produced them.
func decodeJSON(data []byte, path string, out interface{}) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}
