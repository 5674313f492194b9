// Package capture extracts values from reply payloads into scenario
// variables and asserts that replies satisfy match predicates.
package capture

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Rule captures one value out of a reply payload.
type Rule struct {
	// As is the variable name the value is stored under.
	As string
	// Path locates the value: JSONPath ($.users[0].name) or gjson syntax.
	Path string
}

// Match asserts one predicate over a reply payload.
type Match struct {
	Path      string
	Condition string // eq, ne, contains, matches, exists
	Value     string
}

// Result records the outcome of one match predicate, in the shape the
// reporting events expect (expected/got/expression).
type Result struct {
	Expression string
	Expected   string
	Got        string
	OK         bool
}

func lookup(body []byte, path string) (gjson.Result, error) {
	if len(body) == 0 {
		return gjson.Result{}, fmt.Errorf("empty payload")
	}
	if path == "" {
		return gjson.Result{}, fmt.Errorf("empty path")
	}
	result := gjson.GetBytes(body, toGjsonPath(path))
	if !result.Exists() {
		return gjson.Result{}, fmt.Errorf("path not found: %s", path)
	}
	return result, nil
}

// Extract resolves a single path against a JSON payload and renders the
// value as a string.
func Extract(body []byte, path string) (string, error) {
	result, err := lookup(body, path)
	if err != nil {
		return "", err
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// Apply runs every capture rule against the payload. All rules must succeed;
// a single miss fails the whole set and nothing is returned, so callers can
// merge the result into scenario vars atomically. Captured values keep their
// JSON types: numbers stay numbers, booleans stay booleans.
func Apply(body []byte, rules []Rule) (map[string]interface{}, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	captured := make(map[string]interface{}, len(rules))
	for _, rule := range rules {
		value, err := lookup(body, rule.Path)
		if err != nil {
			return nil, fmt.Errorf("capture %q: %w", rule.As, err)
		}
		captured[rule.As] = value.Value()
	}
	return captured, nil
}

// Evaluate runs every match predicate against the payload and returns one
// result per predicate, in order.
func Evaluate(body []byte, matches []Match) []Result {
	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		results = append(results, evaluateOne(body, m))
	}
	return results
}

func evaluateOne(body []byte, m Match) Result {
	condition := m.Condition
	if condition == "" {
		condition = "eq"
	}
	res := Result{
		Expression: fmt.Sprintf("%s %s %s", m.Path, condition, m.Value),
		Expected:   m.Value,
	}

	value := gjson.GetBytes(body, toGjsonPath(m.Path))
	if condition == "exists" {
		res.Got = fmt.Sprintf("%t", value.Exists())
		res.Expected = "true"
		res.OK = value.Exists()
		return res
	}
	if !value.Exists() {
		res.Got = "<missing>"
		return res
	}
	res.Got = value.String()

	switch condition {
	case "eq":
		res.OK = res.Got == m.Value
	case "ne":
		res.OK = res.Got != m.Value
	case "contains":
		res.OK = strings.Contains(res.Got, m.Value)
	case "matches":
		re, err := regexp.Compile(m.Value)
		res.OK = err == nil && re.MatchString(res.Got)
	}
	return res
}

// toGjsonPath converts a JSONPath expression to gjson syntax. Plain gjson
// paths pass through unchanged.
func toGjsonPath(path string) string {
	if path == "$" {
		return "@this"
	}
	if !strings.HasPrefix(path, "$") {
		return path
	}

	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	// Bracket notation: $['name'] / $["name"]
	path = strings.ReplaceAll(path, "['", ".")
	path = strings.ReplaceAll(path, "']", "")
	path = strings.ReplaceAll(path, `["`, ".")
	path = strings.ReplaceAll(path, `"]`, "")

	// Array notation: [n] -> .n
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")

	return strings.TrimPrefix(path, ".")
}
