package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cadbridge/cadbridge/pkg/bridge"
)

// MutationGate adapts the policy engine to the guard's Gate interface.
// A blocked mutation is rejected before any checkpoint is opened, so
// there is nothing to roll back.
type MutationGate struct {
	engine  *Engine
	sandbox bool
	logger  zerolog.Logger
}

// NewMutationGate wraps the engine as a mutation gate.
func NewMutationGate(engine *Engine, sandbox bool, logger zerolog.Logger) *MutationGate {
	return &MutationGate{
		engine:  engine,
		sandbox: sandbox,
		logger:  logger.With().Str("component", "mutation-gate").Logger(),
	}
}

// Allow evaluates the loaded policies against the mutation. Evaluation
// failure blocks the mutation: an unverifiable mutation is not run.
func (g *MutationGate) Allow(ctx context.Context, method, document string) error {
	result, err := g.engine.Evaluate(ctx, &Input{
		Method:   method,
		Document: document,
		Context:  &Context{Sandbox: g.sandbox},
	})
	if err != nil {
		return bridge.NewPolicyError(fmt.Sprintf("policy evaluation failed: %v", err)).
			WithMethod(method).
			WithDocument(document)
	}

	if result.Allowed {
		for i := range result.Violations {
			g.logger.Warn().
				Str("policy", result.Violations[i].Policy).
				Str("method", method).
				Msg(result.Violations[i].Message)
		}
		return nil
	}

	var blocking []string
	for i := range result.Violations {
		v := &result.Violations[i]
		if v.Severity == SeverityError || v.Severity == SeverityCritical {
			blocking = append(blocking, fmt.Sprintf("%s: %s", v.Policy, v.Message))
		}
	}

	return bridge.NewPolicyError(strings.Join(blocking, "; ")).
		WithMethod(method).
		WithDocument(document)
}
