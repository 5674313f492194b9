// Package config loads, validates, and models scenario files. A scenario
// describes a virtual user's scripted flow: emit steps that publish to
// channels and await correlated replies, think pauses, and loop constructs.
package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is the root of a scenario file.
type Scenario struct {
	Name      string                 `yaml:"name"`
	Config    Settings               `yaml:"config"`
	Variables map[string]interface{} `yaml:"variables"`
	Flow      []*Step                `yaml:"flow"`
}

// Settings holds the connection and timing configuration shared by every
// virtual user of a run.
type Settings struct {
	// Target is the endpoint every namespace connects to. Templated.
	Target string `yaml:"target"`
	// Timeout is the per-step response timeout in seconds. Zero means the
	// built-in default.
	Timeout  float64        `yaml:"timeout"`
	TLS      TLSSettings    `yaml:"tls"`
	Socket   SocketSettings `yaml:"socket"`
	Defaults Defaults       `yaml:"defaults"`
}

// defaultResponseTimeout applies when config.timeout is absent.
const defaultResponseTimeout = 10 * time.Second

// ResponseTimeout returns the per-step response timeout.
func (s *Settings) ResponseTimeout() time.Duration {
	if s.Timeout > 0 {
		return time.Duration(s.Timeout * float64(time.Second))
	}
	return defaultResponseTimeout
}

// TLSSettings controls transport-level TLS behavior.
type TLSSettings struct {
	InsecureSkipVerify bool `yaml:"insecureSkipVerify"`
}

// SocketSettings tunes how channel connections are established. Header
// values are templated.
type SocketSettings struct {
	ConnectTimeout string            `yaml:"connectTimeout"`
	Headers        map[string]string `yaml:"headers"`
}

// Defaults supplies fallback step parameters.
type Defaults struct {
	Think *ThinkSpec `yaml:"think"`
}

// Step is one entry of a flow. Exactly one of Think, Emit, Loop, Delegate is
// set; Count, Over, WhileTrue and LoopValue qualify a Loop.
type Step struct {
	Think    *ThinkSpec    `yaml:"think"`
	Emit     *EmitSpec     `yaml:"emit"`
	Loop     []*Step       `yaml:"loop"`
	Delegate *DelegateSpec `yaml:"delegate"`

	Count     int         `yaml:"count"`
	Over      interface{} `yaml:"over"`
	WhileTrue string      `yaml:"whileTrue"`
	LoopValue string      `yaml:"loopValue"`
}

// Kind names the step's variant.
func (s *Step) Kind() string {
	switch {
	case s.Think != nil:
		return "think"
	case s.Emit != nil:
		return "emit"
	case s.Loop != nil:
		return "loop"
	case s.Delegate != nil:
		return "delegate"
	default:
		return ""
	}
}

// ThinkSpec pauses a virtual user. Either a fixed Duration or a uniform
// random pick from [Min, Max).
type ThinkSpec struct {
	Duration time.Duration
	Min      time.Duration
	Max      time.Duration
}

// UnmarshalYAML accepts a bare scalar ("2s", or a number of seconds) or a
// mapping with duration/min/max keys.
func (t *ThinkSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		d, err := parseFlexibleDuration(value.Value)
		if err != nil {
			return fmt.Errorf("think: %w", err)
		}
		t.Duration = d
		return nil
	}

	var raw struct {
		Duration string `yaml:"duration"`
		Min      string `yaml:"min"`
		Max      string `yaml:"max"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	var err error
	if raw.Duration != "" {
		if t.Duration, err = parseFlexibleDuration(raw.Duration); err != nil {
			return fmt.Errorf("think.duration: %w", err)
		}
	}
	if raw.Min != "" {
		if t.Min, err = parseFlexibleDuration(raw.Min); err != nil {
			return fmt.Errorf("think.min: %w", err)
		}
	}
	if raw.Max != "" {
		if t.Max, err = parseFlexibleDuration(raw.Max); err != nil {
			return fmt.Errorf("think.max: %w", err)
		}
	}
	return nil
}

// parseFlexibleDuration accepts Go duration syntax ("500ms", "2s") or a bare
// number of seconds ("2", "0.5").
func parseFlexibleDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// EmitSpec publishes one message and optionally awaits correlated replies or
// a delivery acknowledgement. Channel, Namespace, and string leaves of Data
// are templated.
type EmitSpec struct {
	Namespace string      `yaml:"namespace"`
	Channel   string      `yaml:"channel"`
	Data      interface{} `yaml:"data"`

	Response    ResponseList  `yaml:"response"`
	Acknowledge *ResponseSpec `yaml:"acknowledge"`

	// BeforeResponse names a registered hook consulted for every inbound
	// message before it is matched.
	BeforeResponse string `yaml:"beforeResponse"`
	// Timeout overrides config.timeout for this step, in seconds.
	Timeout float64 `yaml:"timeout"`
}

// ResponseList is the ordered list of responses an emit step expects. A
// scenario file may write a single response as a bare mapping.
type ResponseList []*ResponseSpec

// UnmarshalYAML accepts a single mapping or a sequence of mappings.
func (l *ResponseList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode {
		var single ResponseSpec
		if err := value.Decode(&single); err != nil {
			return err
		}
		*l = ResponseList{&single}
		return nil
	}
	var list []*ResponseSpec
	if err := value.Decode(&list); err != nil {
		return err
	}
	*l = list
	return nil
}

// ResponseSpec describes one expected inbound message: where it arrives and
// how it is validated. When Data is set the message must equal it exactly;
// otherwise Schema, Capture and Match each apply when present.
type ResponseSpec struct {
	Channel string      `yaml:"channel"`
	Data    interface{} `yaml:"data"`
	Capture CaptureList `yaml:"capture"`
	Match   MatchList   `yaml:"match"`
	// Schema is an inline JSON schema the message body must satisfy.
	Schema string `yaml:"schema"`
}

// CaptureRule extracts one value from a validated message into a variable.
type CaptureRule struct {
	JSON string `yaml:"json"`
	As   string `yaml:"as"`
}

// CaptureList accepts a single capture mapping or a sequence of them.
type CaptureList []CaptureRule

// UnmarshalYAML accepts a single mapping or a sequence of mappings.
func (l *CaptureList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode {
		var single CaptureRule
		if err := value.Decode(&single); err != nil {
			return err
		}
		*l = CaptureList{single}
		return nil
	}
	var list []CaptureRule
	if err := value.Decode(&list); err != nil {
		return err
	}
	*l = list
	return nil
}

// MatchRule asserts a condition over one extracted value. An empty condition
// means eq.
type MatchRule struct {
	JSON      string `yaml:"json"`
	Condition string `yaml:"condition"`
	Value     string `yaml:"value"`
}

// MatchList accepts a single match mapping or a sequence of them.
type MatchList []MatchRule

// UnmarshalYAML accepts a single mapping or a sequence of mappings.
func (l *MatchList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode {
		var single MatchRule
		if err := value.Decode(&single); err != nil {
			return err
		}
		*l = MatchList{single}
		return nil
	}
	var list []MatchRule
	if err := value.Decode(&list); err != nil {
		return err
	}
	*l = list
	return nil
}

// DelegateSpec hands a step to an external engine registered on the runner.
type DelegateSpec struct {
	Name   string                 `yaml:"name"`
	Params map[string]interface{} `yaml:"params"`
}
