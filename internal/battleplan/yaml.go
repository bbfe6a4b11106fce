package battleplan

import (
	"os"

	"github.com/squadcore/core/internal/squaderr"
	"gopkg.in/yaml.v3"
)

// ParseYAML decodes a Plan from YAML content, applying field defaults the
// way a hand-authored template (one that omits action/condition/timeout)
// expects.
func ParseYAML(content []byte) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(content, &plan); err != nil {
		return nil, squaderr.IOFailure("parse battle plan yaml", err)
	}
	plan.applyDefaults()
	return &plan, nil
}

// LoadFile reads and parses a Plan from a YAML file on disk.
func LoadFile(path string) (*Plan, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, squaderr.IOFailure("read battle plan file", err)
	}
	return ParseYAML(content)
}

// ToYAML serializes a Plan back to YAML, preserving field order.
func (p *Plan) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, squaderr.IOFailure("marshal battle plan yaml", err)
	}
	return data, nil
}

// Save writes the Plan as YAML to path.
func (p *Plan) Save(path string) error {
	data, err := p.ToYAML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
