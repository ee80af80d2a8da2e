package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewEngine(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if eng == nil {
		t.Fatal("Engine is nil")
	}

	// Check that built-in policies are loaded
	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"sandbox-restrictions",
		"document-naming",
		"destructive-operations",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluate_SandboxPolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name          string
		input         *Input
		expectAllowed bool
	}{
		{
			name: "ordinary mutation in sandbox",
			input: &Input{
				Method:   "object.create",
				Document: "Bracket",
				Context:  &Context{Sandbox: true},
			},
			expectAllowed: true,
		},
		{
			name: "script execution in sandbox",
			input: &Input{
				Method:   "script.execute",
				Document: "Bracket",
				Context:  &Context{Sandbox: true},
			},
			expectAllowed: false,
		},
		{
			name: "file access in sandbox",
			input: &Input{
				Method:   "file.write",
				Document: "Bracket",
				Context:  &Context{Sandbox: true},
			},
			expectAllowed: false,
		},
		{
			name: "save-as in sandbox",
			input: &Input{
				Method:   "document.save_as",
				Document: "Bracket",
				Context:  &Context{Sandbox: true},
			},
			expectAllowed: false,
		},
		{
			name: "script execution without sandbox",
			input: &Input{
				Method:   "script.execute",
				Document: "Bracket",
				Context:  &Context{Sandbox: false},
			},
			expectAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.Evaluate(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if result.Allowed != tt.expectAllowed {
				t.Errorf("expected allowed=%v, got %v (violations: %v)",
					tt.expectAllowed, result.Allowed, result.Violations)
			}
		})
	}
}

func TestEvaluate_DocumentNamingPolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name          string
		document      string
		expectAllowed bool
	}{
		{"valid name", "Bracket", true},
		{"valid name with spaces", "Main Assembly v2", true},
		{"empty name", "", false},
		{"invalid characters", "doc/../../etc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.Evaluate(context.Background(), &Input{
				Method:   "object.create",
				Document: tt.document,
			})
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if result.Allowed != tt.expectAllowed {
				t.Errorf("document %q: expected allowed=%v, got %v (violations: %v)",
					tt.document, tt.expectAllowed, result.Allowed, result.Violations)
			}
		})
	}
}

func TestEvaluate_DestructiveOperationsWarnOnly(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	result, err := eng.Evaluate(context.Background(), &Input{
		Method:   "object.delete",
		Document: "Bracket",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	// Warning severity must not block the mutation
	if !result.Allowed {
		t.Errorf("expected warning-level violation to allow mutation, got blocked: %v", result.Violations)
	}
	found := false
	for _, v := range result.Violations {
		if v.Policy == "destructive-operations" && v.Severity == SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Error("expected a warning violation from destructive-operations")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if err := eng.DisablePolicy("document-naming"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}

	// Disabled policy no longer blocks
	result, err := eng.Evaluate(context.Background(), &Input{
		Method:   "object.create",
		Document: "",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected mutation allowed with naming policy disabled, got: %v", result.Violations)
	}

	if err := eng.EnablePolicy("document-naming"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}

	result, err = eng.Evaluate(context.Background(), &Input{
		Method:   "object.create",
		Document: "",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Error("expected mutation blocked with naming policy re-enabled")
	}

	if err := eng.EnablePolicy("no-such-policy"); err == nil {
		t.Error("expected error enabling unknown policy")
	}
}

func TestLoadCustomPolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	dir := t.TempDir()
	writeTestPolicy(t, dir, "frozen-documents.rego", `package cadbridge.policies.frozen

import rego.v1

deny contains violation if {
	input.document == "ReleasedAssembly"
	violation := {
		"message": "released assemblies must not be modified",
		"severity": "error",
	}
}
`)

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	if _, err := eng.GetPolicy("frozen-documents"); err != nil {
		t.Fatalf("Loaded policy not found: %v", err)
	}

	result, err := eng.Evaluate(context.Background(), &Input{
		Method:   "object.edit",
		Document: "ReleasedAssembly",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Error("expected custom policy to block mutation")
	}
}

func TestReloadPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	dir := t.TempDir()
	writeTestPolicy(t, dir, "extra.rego", `package cadbridge.policies.extra

import rego.v1

deny contains violation if {
	input.method == "object.mirror"
	violation := {"message": "mirroring disabled", "severity": "error"}
}
`)
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	if err := eng.ReloadPolicies(context.Background()); err != nil {
		t.Fatalf("Failed to reload policies: %v", err)
	}

	// Reload drops custom policies, built-ins remain
	if _, err := eng.GetPolicy("extra"); err == nil {
		t.Error("expected custom policy dropped after reload")
	}
	if _, err := eng.GetPolicy("sandbox-restrictions"); err != nil {
		t.Errorf("expected built-in policy after reload: %v", err)
	}
}
