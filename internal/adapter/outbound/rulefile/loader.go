// Package rulefile loads security rules from a YAML document and serves
// them as immutable snapshots with debounced hot reload.
package rulefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/superego-ai/superego/internal/domain/rule"
)

// document is the on-disk shape of a rules file.
type document struct {
	Rules []*rule.SecurityRule `yaml:"rules"`
}

// Load reads, decodes, and compiles the rules file at path.
func Load(path string, compiler rule.ExprCompiler) (*rule.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	set, err := Parse(data, compiler)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Parse decodes and compiles a YAML rules document. Unknown document keys
// are rejected so a typoed `rules:` key fails loudly instead of yielding
// an empty set. An explicit empty list is valid: every request then denies
// by default.
func Parse(data []byte, compiler rule.ExprCompiler) (*rule.RuleSet, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("rules document is empty")
		}
		return nil, fmt.Errorf("parse rules document: %w", err)
	}

	set, err := rule.Compile(doc.Rules, compiler)
	if err != nil {
		return nil, err
	}
	return set, nil
}
