package scenario

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/specterhq/specterqa/api/schemas"
)

// Scenario is a declarative test plan: an ordered list of goal-directed
// steps run against one shared browser session. Vars are substituted into
// step goals and URLs as {{name}} placeholders.
type Scenario struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	BaseURL     string            `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Vars        map[string]string `yaml:"vars,omitempty" json:"vars,omitempty"`
	Steps       []schemas.Step    `yaml:"steps" json:"steps"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes scenario YAML, applies defaults and validates it.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}
	sc.applyDefaults()
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// applyDefaults fills in generated step IDs and resolves step start URLs
// against the scenario base URL.
func (s *Scenario) applyDefaults() {
	for i := range s.Steps {
		if s.Steps[i].ID == "" {
			s.Steps[i].ID = fmt.Sprintf("step-%d", i+1)
		}
		if s.BaseURL != "" && strings.HasPrefix(s.Steps[i].StartURL, "/") {
			s.Steps[i].StartURL = strings.TrimSuffix(s.BaseURL, "/") + s.Steps[i].StartURL
		}
	}
	// The first step needs somewhere to start.
	if len(s.Steps) > 0 && s.Steps[0].StartURL == "" && s.BaseURL != "" {
		s.Steps[0].StartURL = s.BaseURL
	}
}

// Validate enforces the structural rules a runnable scenario must satisfy.
func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario %q has no steps", s.Name)
	}

	seen := make(map[string]bool, len(s.Steps))
	for i, step := range s.Steps {
		if strings.TrimSpace(step.Goal) == "" {
			return fmt.Errorf("step %d (%s) has no goal", i+1, step.ID)
		}
		if seen[step.ID] {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = true
		if step.MaxActions < 0 {
			return fmt.Errorf("step %s: max_actions must not be negative", step.ID)
		}
		if step.MaxDurationSeconds < 0 {
			return fmt.Errorf("step %s: max_duration_seconds must not be negative", step.ID)
		}
	}
	return nil
}
