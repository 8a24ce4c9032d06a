package helper

import (
	"encoding/json"
	"fmt"
	"os"
)

// NewStructFromFile decodes the JSON file into v.
func NewStructFromFile(filename string, v interface{}) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %v: %w", filename, err)
	}
	return nil
}
