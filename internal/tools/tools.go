// Package tools holds helpers shared by the hosted tool services.
package tools

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Append adds tool to the body's tools array, creating it when missing.
// Existing entries are never touched.
func Append(body []byte, tool any) ([]byte, error) {
	t := gjson.GetBytes(body, "tools")
	switch {
	case !t.Exists() || t.Type == gjson.Null:
		return sjson.SetBytes(body, "tools", []any{tool})
	case !t.IsArray():
		return nil, fmt.Errorf("tools must be an array, got %s", t.Type)
	default:
		return sjson.SetBytes(body, "tools.-1", tool)
	}
}

// Count returns the number of tools in body.
func Count(body []byte) int {
	return int(gjson.GetBytes(body, "tools.#").Int())
}
