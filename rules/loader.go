package rules

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"gopkg.in/yaml.v3"
)

// ErrInvalidRule is returned when a rule document fails validation
var ErrInvalidRule = errors.New("invalid rule")

// Document is the YAML layout of a rule file
type Document struct {
	Rules []types.Rule `yaml:"rules"`
}

// Parse decodes and validates a YAML rule document
func (e *Engine) Parse(data []byte) ([]types.Rule, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var doc Document
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	if err := e.Validate(doc.Rules); err != nil {
		return nil, err
	}
	return doc.Rules, nil
}

// LoadFile reads and validates a YAML rule file
func (e *Engine) LoadFile(path string) ([]types.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	rules, err := e.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	e.logger.Info().Str("path", path).Int("rules", len(rules)).Msg("Rules loaded")
	return rules, nil
}

// Validate checks every rule: unique ids, well-formed conditions (including
// CEL compilation) and resolvable action templates
func (e *Engine) Validate(rules []types.Rule) error {
	seen := make(map[string]bool, len(rules))
	for i, rule := range rules {
		if rule.ID == "" {
			return fmt.Errorf("%w: rule %d has no id", ErrInvalidRule, i)
		}
		if seen[rule.ID] {
			return fmt.Errorf("%w: duplicate rule id %s", ErrInvalidRule, rule.ID)
		}
		seen[rule.ID] = true

		if err := validateCondition(rule.Conditions, e.cel, "conditions"); err != nil {
			return fmt.Errorf("%w: rule %s: %w", ErrInvalidRule, rule.ID, err)
		}
		if len(rule.Actions) == 0 {
			return fmt.Errorf("%w: rule %s has no actions", ErrInvalidRule, rule.ID)
		}
		for j, template := range rule.Actions {
			if err := validateTemplate(template); err != nil {
				return fmt.Errorf("%w: rule %s action %d: %w", ErrInvalidRule, rule.ID, j, err)
			}
		}
	}
	return nil
}

// FileSource reads rules from a YAML file on every call, so edits apply to the
// next evaluation pass and never to one in progress
type FileSource struct {
	engine *Engine
	path   string
}

var _ interfaces.RuleSource = (*FileSource)(nil)

// NewFileSource creates a rule source for path
func NewFileSource(engine *Engine, path string) *FileSource {
	return &FileSource{engine: engine, path: path}
}

// Rules loads the current rule set
func (f *FileSource) Rules(context.Context) ([]types.Rule, error) {
	return f.engine.LoadFile(f.path)
}

// StaticSource serves a fixed rule set
type StaticSource []types.Rule

var _ interfaces.RuleSource = StaticSource(nil)

// Rules returns a copy of the rule set
func (s StaticSource) Rules(context.Context) ([]types.Rule, error) {
	return append([]types.Rule(nil), s...), nil
}
