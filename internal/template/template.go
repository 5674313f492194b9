// Package template renders {{var}} placeholders in scenario expressions
// against the current variable state of a virtual user.
package template

import (
	"fmt"
	"strings"
)

// Render replaces every {{name}} placeholder in input with the matching
// variable's value. Unknown placeholders are left untouched so that a later
// pass (or the target system) can still see them.
func Render(input string, vars map[string]interface{}) string {
	if !strings.Contains(input, "{{") {
		return input
	}
	result := input
	for key, value := range vars {
		placeholder := "{{" + key + "}}"
		if !strings.Contains(result, placeholder) {
			continue
		}
		result = strings.ReplaceAll(result, placeholder, fmt.Sprintf("%v", value))
	}
	return result
}

// RenderTree walks a decoded JSON/YAML tree and renders every string leaf.
// Maps and slices are copied, never mutated in place, so a scenario spec can
// be rendered once per iteration without cross-iteration bleed.
func RenderTree(node interface{}, vars map[string]interface{}) interface{} {
	switch v := node.(type) {
	case string:
		return Render(v, vars)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			out[Render(key, vars)] = RenderTree(value, vars)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, value := range v {
			out[i] = RenderTree(value, vars)
		}
		return out
	default:
		return node
	}
}
