package stimulus

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("stimulus: parse duration %q: %w", raw, err)
	}
	if parsed < 0 {
		return fmt.Errorf("stimulus: negative duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

// PlanStep is one entry of a stimulus plan file.
type PlanStep struct {
	Name  string   `yaml:"name"`
	After Duration `yaml:"after"`
	Body  string   `yaml:"body"`
}

// Plan is an ordered stimulus plan, typically loaded from a YAML file:
//
//	steps:
//	  - name: poke-1
//	    after: 20s
//	    body: ping from logprobe
type Plan struct {
	Steps []PlanStep `yaml:"steps"`
}

// LoadPlan reads and validates a YAML plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("stimulus: read plan: %w", err)
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("stimulus: parse plan %s: %w", path, err)
	}
	if len(p.Steps) == 0 {
		return nil, fmt.Errorf("stimulus: plan %s has no steps", path)
	}
	for i, step := range p.Steps {
		if step.Name == "" {
			p.Steps[i].Name = fmt.Sprintf("step-%d", i+1)
		}
	}
	return &p, nil
}

// DefaultPlan spaces count identical pokes spacing apart.
func DefaultPlan(count int, spacing time.Duration, body string) *Plan {
	steps := make([]PlanStep, 0, count)
	for i := 0; i < count; i++ {
		steps = append(steps, PlanStep{
			Name:  fmt.Sprintf("poke-%d", i+1),
			After: Duration(spacing),
			Body:  body,
		})
	}
	return &Plan{Steps: steps}
}
