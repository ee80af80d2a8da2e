package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		sandboxRestrictionsPolicy(),
		documentNamingPolicy(),
		destructiveOperationsPolicy(),
	}
}

// sandboxRestrictionsPolicy blocks script execution and file access when
// the bridge runs sandboxed.
func sandboxRestrictionsPolicy() Policy {
	return Policy{
		Name:        "sandbox-restrictions",
		Description: "Blocks script execution and file access methods when sandbox mode is enabled",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"sandbox", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package cadbridge.policies.sandbox

import rego.v1

blocked_prefixes := ["script.", "file.", "shell."]

deny contains violation if {
	input.context.sandbox
	some prefix in blocked_prefixes
	startswith(input.method, prefix)
	violation := {
		"message": sprintf("method %s is not permitted in sandbox mode", [input.method]),
		"severity": "critical",
	}
}

deny contains violation if {
	input.context.sandbox
	input.method == "document.save_as"
	violation := {
		"message": "saving to arbitrary paths is not permitted in sandbox mode",
		"severity": "critical",
	}
}
`,
	}
}

// documentNamingPolicy requires a well-formed document name on every
// mutation.
func documentNamingPolicy() Policy {
	return Policy{
		Name:        "document-naming",
		Description: "Requires a non-empty, well-formed document name on every mutation",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package cadbridge.policies.naming

import rego.v1

deny contains violation if {
	input.document == ""
	violation := {
		"message": "mutation must name a target document",
		"severity": "error",
	}
}

deny contains violation if {
	input.document != ""
	not regex.match("^[A-Za-z0-9_][A-Za-z0-9_ .-]*$", input.document)
	violation := {
		"message": sprintf("document name '%s' contains invalid characters", [input.document]),
		"severity": "error",
	}
}
`,
	}
}

// destructiveOperationsPolicy flags delete operations for review.
func destructiveOperationsPolicy() Policy {
	return Policy{
		Name:        "destructive-operations",
		Description: "Flags document and object deletion for review",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"operations"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package cadbridge.policies.operations

import rego.v1

destructive := {"document.delete", "document.close", "object.delete"}

deny contains violation if {
	input.method in destructive
	violation := {
		"message": sprintf("destructive method %s on document %s", [input.method, input.document]),
		"severity": "warning",
	}
}
`,
	}
}
