package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cadbridge/cadbridge/pkg/bridge/protocol"
)

// Verdict is the outcome of a post-mutation validity check.
type Verdict string

const (
	// VerdictValid means the mutation left the target in a valid state.
	VerdictValid Verdict = "valid"
	// VerdictInvalid means the target is invalid and must be rolled back.
	VerdictInvalid Verdict = "invalid"
	// VerdictIndeterminate means validity could not be established (e.g.
	// the validation call timed out). Treated as failure, never success.
	VerdictIndeterminate Verdict = "indeterminate"
)

// Validation is a verdict with its reason.
type Validation struct {
	Verdict Verdict
	Reason  string
}

// Checker judges the remote state after a mutation. What "invalid" means
// is engine-specific, so the guard takes this as a pluggable predicate.
type Checker interface {
	Check(ctx context.Context, doc, object string) Validation
}

// Invoker is the single entry point checkers and guards call through.
// *Manager satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
}

// ValidationEngine is the default Checker. It verifies the target object
// is still resolvable by name and that the engine reports its shape as
// valid, optionally forcing a recompute first since validity under lazy
// evaluation is only known after recomputation.
type ValidationEngine struct {
	inv            Invoker
	forceRecompute bool
	logger         zerolog.Logger
}

// NewValidationEngine creates the default checker. When forceRecompute is
// set, the document is recomputed before validity is judged.
func NewValidationEngine(inv Invoker, forceRecompute bool, logger zerolog.Logger) *ValidationEngine {
	return &ValidationEngine{
		inv:            inv,
		forceRecompute: forceRecompute,
		logger:         logger.With().Str("component", "validation").Logger(),
	}
}

type docParams struct {
	Document string `json:"document"`
}

type objectParams struct {
	Document string `json:"document,omitempty"`
	Name     string `json:"name"`
}

// Check implements Checker.
func (v *ValidationEngine) Check(ctx context.Context, doc, object string) Validation {
	if v.forceRecompute {
		if _, err := v.inv.Invoke(ctx, protocol.MethodDocumentRecompute, docParams{Document: doc}); err != nil {
			return v.classify(err, "recompute failed")
		}
	}

	if object != "" {
		res, err := v.inv.Invoke(ctx, protocol.MethodObjectGet, objectParams{Document: doc, Name: object})
		if err != nil {
			if KindOf(err) == ErrorKindRemoteFault {
				return Validation{
					Verdict: VerdictInvalid,
					Reason:  fmt.Sprintf("object %q not resolvable after mutation", object),
				}
			}
			return v.classify(err, "object lookup failed")
		}
		var info protocol.ObjectInfo
		if err := protocol.ParseResult(res, &info); err != nil {
			return Validation{Verdict: VerdictIndeterminate, Reason: "unparseable object info"}
		}
		if info.Validity == "invalid" {
			return Validation{
				Verdict: VerdictInvalid,
				Reason:  fmt.Sprintf("object %q reports invalid state", object),
			}
		}

		res, err = v.inv.Invoke(ctx, protocol.MethodObjectValidate, objectParams{Document: doc, Name: object})
		if err != nil {
			return v.classify(err, "shape validation failed")
		}
		var vr protocol.ValidateResult
		if err := protocol.ParseResult(res, &vr); err != nil {
			return Validation{Verdict: VerdictIndeterminate, Reason: "unparseable validation result"}
		}
		if !vr.Valid {
			reason := strings.Join(vr.Errors, "; ")
			if reason == "" {
				reason = "shape is invalid"
			}
			return Validation{Verdict: VerdictInvalid, Reason: reason}
		}
	}

	return Validation{Verdict: VerdictValid}
}

// classify maps an invocation failure during validation to a verdict.
// A fault is a definite engine answer; everything else leaves validity
// unknown.
func (v *ValidationEngine) classify(err error, what string) Validation {
	v.logger.Debug().Err(err).Msg(what)
	if KindOf(err) == ErrorKindRemoteFault {
		return Validation{Verdict: VerdictInvalid, Reason: fmt.Sprintf("%s: %v", what, err)}
	}
	return Validation{Verdict: VerdictIndeterminate, Reason: fmt.Sprintf("%s: %v", what, err)}
}
