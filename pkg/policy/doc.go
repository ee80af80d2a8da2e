// Package policy provides Open Policy Agent (OPA) enforcement for bridge
// mutations.
//
// Every mutating invocation is checked against the loaded Rego policies
// before an undo checkpoint is opened. Built-in policies implement the
// sandbox restrictions; custom policies can be loaded from .rego files
// and are hot-reloaded on change.
//
// # Usage
//
// Creating a policy engine:
//
//	logger := zerolog.New(os.Stdout)
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Evaluating a mutation:
//
//	result, err := eng.Evaluate(ctx, &policy.Input{
//	    Method:   "object.delete",
//	    Document: "Bracket",
//	    Context:  &policy.Context{Sandbox: true},
//	})
//	if !result.Allowed {
//	    for _, v := range result.Violations {
//	        fmt.Printf("policy %s: %s\n", v.Policy, v.Message)
//	    }
//	}
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. sandbox-restrictions - Blocks script execution and file access in sandbox mode
//  2. document-naming - Requires a well-formed document name on every mutation
//  3. destructive-operations - Flags delete operations for review
//
// # Custom Policies
//
// Custom policies are written in Rego against the same input shape:
//
//	package cadbridge.policies.frozen
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.document == "ReleasedAssembly"
//	    violation := {
//	        "message": "released assemblies must not be modified",
//	        "severity": "error",
//	    }
//	}
//
// # Severity Levels
//
// Violations have four severity levels: info and warning are advisory,
// error and critical block the mutation.
package policy
