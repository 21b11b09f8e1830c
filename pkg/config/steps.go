package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Capability tags what a post-build step can do.
type Capability string

const (
	// CapabilityNotifier marks a step that reports the build to the watchdog endpoint.
	CapabilityNotifier Capability = "notifier"
	CapabilityMail     Capability = "mail"
	CapabilityArchive  Capability = "archive"
	CapabilityNone     Capability = ""
)

// Step is one configured post-build action of a job.
type Step interface {
	Kind() string
	Capability() Capability
}

// Notifier is implemented by steps with CapabilityNotifier.
type Notifier interface {
	Step
	Notifier() NotifierConfig
}

// WatchdogStep pushes the build result to the reporting endpoint.
type WatchdogStep struct {
	NotifierConfig `yaml:",inline"`
}

func (WatchdogStep) Kind() string           { return "watchdog" }
func (WatchdogStep) Capability() Capability { return CapabilityNotifier }

// Notifier returns the step's per-job configuration.
func (s WatchdogStep) Notifier() NotifierConfig { return s.NotifierConfig }

// MailerStep sends a mail to recipients; the notifier only preserves it.
type MailerStep struct {
	Recipients []string `yaml:"recipients,omitempty"`
}

func (MailerStep) Kind() string           { return "mailer" }
func (MailerStep) Capability() Capability { return CapabilityMail }

// ArchiveStep archives build artifacts; the notifier only preserves it.
type ArchiveStep struct {
	Artifacts string `yaml:"artifacts,omitempty"`
}

func (ArchiveStep) Kind() string           { return "archive" }
func (ArchiveStep) Capability() Capability { return CapabilityArchive }

// UnknownStep keeps a step of a type this binary does not know so that a
// save round-trips it unchanged.
type UnknownStep struct {
	Type   string         `yaml:"-"`
	Fields map[string]any `yaml:",inline"`
}

func (s UnknownStep) Kind() string        { return s.Type }
func (UnknownStep) Capability() Capability { return CapabilityNone }

// Steps is an ordered list of post-build steps decoded by their "type" key.
type Steps []Step

// First returns the first step with the capability, in configured order.
func (s Steps) First(c Capability) (Step, bool) {
	for _, step := range s {
		if step != nil && step.Capability() == c {
			return step, true
		}
	}
	return nil, false
}

// Masked returns a copy with every notifier signature replaced by
// MaskedValue.
func (s Steps) Masked() Steps {
	out := make(Steps, len(s))
	for i, step := range s {
		if w, ok := step.(WatchdogStep); ok && w.Signature != "" {
			w.Signature = MaskedValue
			step = w
		}
		out[i] = step
	}
	return out
}

// Unmask restores signatures sent back as MaskedValue from current. The
// n-th watchdog step takes the signature of the n-th watchdog step of
// current; a masked signature without a counterpart is a ValidationError.
func (s Steps) Unmask(current Steps) (Steps, error) {
	var stored []string
	for _, step := range current {
		if w, ok := step.(WatchdogStep); ok {
			stored = append(stored, w.Signature)
		}
	}

	out := make(Steps, len(s))
	n := 0
	for i, step := range s {
		if w, ok := step.(WatchdogStep); ok {
			if w.Signature == MaskedValue {
				if n >= len(stored) || stored[n] == "" {
					return nil, &ValidationError{Field: FieldSignature, Message: "masked signature has no stored value"}
				}
				w.Signature = stored[n]
				step = w
			}
			n++
		}
		out[i] = step
	}
	return out, nil
}

// UnmarshalYAML decodes each sequence item into its concrete variant.
func (s *Steps) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("publishers: expected a list, got %s", nodeKind(value.Kind))
	}

	out := make(Steps, 0, len(value.Content))
	for i, node := range value.Content {
		var head struct {
			Type string `yaml:"type"`
		}
		if err := node.Decode(&head); err != nil {
			return fmt.Errorf("publishers[%d]: %w", i, err)
		}
		if head.Type == "" {
			return fmt.Errorf("publishers[%d]: missing type", i)
		}

		step, err := decodeStep(head.Type, node)
		if err != nil {
			return fmt.Errorf("publishers[%d]: %w", i, err)
		}
		out = append(out, step)
	}

	*s = out
	return nil
}

// MarshalYAML writes each step back with its "type" key first.
func (s Steps) MarshalYAML() (interface{}, error) {
	out := make([]*yaml.Node, 0, len(s))
	for _, step := range s {
		var node yaml.Node
		if err := node.Encode(step); err != nil {
			return nil, err
		}
		if node.Kind != yaml.MappingNode {
			node = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		}
		head := []*yaml.Node{
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: "type"},
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: step.Kind()},
		}
		node.Content = append(head, node.Content...)
		out = append(out, &node)
	}
	return out, nil
}

func decodeStep(kind string, node *yaml.Node) (Step, error) {
	switch kind {
	case "watchdog":
		var step WatchdogStep
		if err := node.Decode(&step); err != nil {
			return nil, err
		}
		return step, nil
	case "mailer":
		var step MailerStep
		if err := node.Decode(&step); err != nil {
			return nil, err
		}
		return step, nil
	case "archive":
		var step ArchiveStep
		if err := node.Decode(&step); err != nil {
			return nil, err
		}
		return step, nil
	default:
		step := UnknownStep{Type: kind}
		if err := node.Decode(&step.Fields); err != nil {
			return nil, err
		}
		delete(step.Fields, "type")
		return step, nil
	}
}

func nodeKind(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
