package config

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError represents a single scenario-file validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

var validMatchConditions = map[string]bool{
	"":         true, // defaults to eq
	"eq":       true,
	"ne":       true,
	"contains": true,
	"matches":  true,
	"exists":   true,
}

// Validate checks the whole scenario and returns every problem found.
func (s *Scenario) Validate() error {
	errs := &ValidationErrors{}

	if len(s.Flow) == 0 {
		errs.Add("flow", "at least one step is required")
	}

	if s.Timeout() < 0 {
		errs.Add("config.timeout", "must not be negative")
	}
	if hasEmit(s.Flow) && s.Config.Target == "" {
		errs.Add("config.target", "required when the flow contains emit steps")
	}

	for i, step := range s.Flow {
		validateStep(fmt.Sprintf("flow[%d]", i), step, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Timeout returns config.timeout in seconds (may be zero, meaning default).
func (s *Scenario) Timeout() float64 {
	return s.Config.Timeout
}

func hasEmit(steps []*Step) bool {
	for _, step := range steps {
		if step.Emit != nil {
			return true
		}
		if step.Loop != nil && hasEmit(step.Loop) {
			return true
		}
	}
	return false
}

func validateStep(prefix string, step *Step, errs *ValidationErrors) {
	variants := 0
	if step.Think != nil {
		variants++
	}
	if step.Emit != nil {
		variants++
	}
	if step.Loop != nil {
		variants++
	}
	if step.Delegate != nil {
		variants++
	}
	if variants != 1 {
		errs.Add(prefix, "exactly one of think, emit, loop, delegate is required")
		return
	}

	switch {
	case step.Emit != nil:
		validateEmit(prefix+".emit", step.Emit, errs)
	case step.Loop != nil:
		validateLoop(prefix, step, errs)
	case step.Think != nil:
		if step.Think.Min > step.Think.Max && step.Think.Max != 0 {
			errs.Add(prefix+".think", "min must not exceed max")
		}
	case step.Delegate != nil:
		if step.Delegate.Name == "" {
			errs.Add(prefix+".delegate.name", "required")
		}
	}
}

func validateLoop(prefix string, step *Step, errs *ValidationErrors) {
	if len(step.Loop) == 0 {
		errs.Add(prefix+".loop", "at least one inner step is required")
	}

	modes := 0
	if step.Count != 0 {
		modes++
	}
	if step.Over != nil {
		modes++
	}
	if step.WhileTrue != "" {
		modes++
	}
	if modes > 1 {
		errs.Add(prefix, "count, over and whileTrue are mutually exclusive")
	}
	if step.Count < -1 {
		errs.Add(prefix+".count", "must be -1, or a positive count")
	}
	if step.LoopValue != "" && step.Over == nil {
		errs.Add(prefix+".loopValue", "only valid together with over")
	}

	for i, inner := range step.Loop {
		validateStep(fmt.Sprintf("%s.loop[%d]", prefix, i), inner, errs)
	}
}

func validateEmit(prefix string, emit *EmitSpec, errs *ValidationErrors) {
	if emit.Channel == "" {
		errs.Add(prefix+".channel", "required")
	}
	if emit.Timeout < 0 {
		errs.Add(prefix+".timeout", "must not be negative")
	}

	for i, resp := range emit.Response {
		respPrefix := fmt.Sprintf("%s.response[%d]", prefix, i)
		if resp.Channel == "" {
			errs.Add(respPrefix+".channel", "required")
		}
		validateResponse(respPrefix, resp, errs)
	}
	if emit.Acknowledge != nil {
		validateResponse(prefix+".acknowledge", emit.Acknowledge, errs)
	}
}

func validateResponse(prefix string, resp *ResponseSpec, errs *ValidationErrors) {
	for i, c := range resp.Capture {
		if c.JSON == "" {
			errs.Add(fmt.Sprintf("%s.capture[%d].json", prefix, i), "required")
		}
		if c.As == "" {
			errs.Add(fmt.Sprintf("%s.capture[%d].as", prefix, i), "required")
		}
	}
	for i, m := range resp.Match {
		if m.JSON == "" {
			errs.Add(fmt.Sprintf("%s.match[%d].json", prefix, i), "required")
		}
		if !validMatchConditions[m.Condition] {
			errs.Add(fmt.Sprintf("%s.match[%d].condition", prefix, i),
				fmt.Sprintf("unknown condition %q (want eq, ne, contains, matches, exists)", m.Condition))
		}
	}

	// Compile inline schemas up front so a bad schema fails the file, not a
	// mid-run validation.
	if resp.Schema != "" {
		if _, err := CompileSchema(resp.Schema); err != nil {
			errs.Add(prefix+".schema", err.Error())
		}
	}
}

// CompileSchema compiles an inline JSON schema from a response spec.
func CompileSchema(schemaStr string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schemaStr)); err != nil {
		return nil, fmt.Errorf("invalid schema: %v", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %v", err)
	}
	return schema, nil
}
