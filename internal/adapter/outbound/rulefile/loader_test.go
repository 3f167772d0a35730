package rulefile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/superego-ai/superego/internal/domain/request"
	"github.com/superego-ai/superego/internal/domain/rule"
)

// stubCompiler satisfies rule.ExprCompiler without a real CEL env.
type stubCompiler struct {
	compileErr error
}

type stubProgram struct{}

func (stubProgram) Eval(_ context.Context, _ *request.ToolRequest) (bool, error) {
	return true, nil
}

func (c stubCompiler) Compile(_ string) (rule.CompiledExpr, error) {
	if c.compileErr != nil {
		return nil, c.compileErr
	}
	return stubProgram{}, nil
}

const fixtureRules = `rules:
  - id: "deny-etc-shadow"
    priority: 10
    action: deny
    reason: "system password file"
    conditions:
      all_of:
        - { field: "tool_name", op: "in", value: ["Read","Edit"] }
        - { field: "parameters.file_path", op: "starts_with", value: "/etc/shadow" }
  - id: "sample-writes"
    priority: 100
    action: sample
    reason: "file writes need review"
    sample_guidance: "Assess whether content is benign."
    conditions:
      { field: "tool_name", op: "equals", value: "Write" }
  - id: "allow-safe-reads"
    priority: 900
    action: allow
    conditions:
      all_of:
        - { field: "tool_name", op: "equals", value: "Read" }
        - { field: "parameters.file_path", op: "starts_with", value: "/home/" }
`

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func TestParse_Fixture(t *testing.T) {
	set, err := Parse([]byte(fixtureRules), stubCompiler{})
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if set.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", set.Len())
	}

	// Sorted by priority ascending.
	wantOrder := []string{"deny-etc-shadow", "sample-writes", "allow-safe-reads"}
	for i, want := range wantOrder {
		if got := set.Rules[i].Rule.ID; got != want {
			t.Errorf("rule[%d].ID = %q, want %q", i, got, want)
		}
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	_, err := Parse([]byte(""), stubCompiler{})
	if err == nil {
		t.Fatal("Parse() expected error for empty document, got nil")
	}
}

func TestParse_EmptyRulesList(t *testing.T) {
	set, err := Parse([]byte("rules: []\n"), stubCompiler{})
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if !set.Empty() {
		t.Errorf("expected empty set, got %d rules", set.Len())
	}
}

func TestParse_UnknownTopLevelKey(t *testing.T) {
	doc := "rule:\n  - id: oops\n"
	_, err := Parse([]byte(doc), stubCompiler{})
	if err == nil {
		t.Fatal("Parse() expected error for unknown key, got nil")
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("rules: [unclosed"), stubCompiler{})
	if err == nil {
		t.Fatal("Parse() expected error for malformed YAML, got nil")
	}
}

func TestParse_DuplicateIDs(t *testing.T) {
	doc := `rules:
  - id: "dup"
    priority: 1
    action: allow
    conditions: { field: "tool_name", op: "equals", value: "Read" }
  - id: "dup"
    priority: 2
    action: allow
    conditions: { field: "tool_name", op: "equals", value: "Write" }
`
	_, err := Parse([]byte(doc), stubCompiler{})
	if err == nil {
		t.Fatal("Parse() expected error for duplicate ids, got nil")
	}
	if !strings.Contains(err.Error(), "dup") {
		t.Errorf("error = %v, want the duplicate id named", err)
	}
}

func TestLoad_FileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), stubCompiler{})
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_Fixture(t *testing.T) {
	path := writeRules(t, fixtureRules)
	set, err := Load(path, stubCompiler{})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if set.Len() != 3 {
		t.Errorf("Len() = %d, want 3", set.Len())
	}
}
