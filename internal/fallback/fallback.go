// Package fallback runs an ordered list of model tiers until one succeeds.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/n0madic/go-llmportal/internal/logger"
)

// Tier is one attempt in a chain.
type Tier[T any] struct {
	Name  string
	Model string
	Run   func(ctx context.Context) (T, error)
}

// Failure records why a tier was skipped.
type Failure struct {
	Model string
	Err   error
}

// Outcome is the successful tier and the failures that preceded it.
type Outcome[T any] struct {
	Value    T
	Model    string
	Index    int
	Failures []Failure
}

// UsedFallback reports whether the first tier failed.
func (o Outcome[T]) UsedFallback() bool { return o.Index > 0 }

// Reason names every failed tier in order, "model: error; model: error".
func (o Outcome[T]) Reason() string { return joinFailures(o.Failures) }

// Error is returned when every tier failed.
type Error struct {
	Chain    string
	Failures []Failure
}

func (e *Error) Error() string {
	return fmt.Sprintf("all %s models failed: %s", e.Chain, joinFailures(e.Failures))
}

// Unwrap exposes each tier error to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

func joinFailures(failures []Failure) string {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, f.Model+": "+f.Err.Error())
	}
	return strings.Join(parts, "; ")
}

// Chain is an ordered list of tiers.
type Chain[T any] struct {
	Name  string
	Tiers []Tier[T]
	Log   *logger.Logger
}

// From returns a copy of c starting at the tier for model. Unknown models
// keep the full chain.
func (c Chain[T]) From(model string) Chain[T] {
	for i, t := range c.Tiers {
		if t.Model == model {
			c.Tiers = c.Tiers[i:]
			return c
		}
	}
	return c
}

// Models lists the tier models in order.
func (c Chain[T]) Models() []string {
	out := make([]string, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		out = append(out, t.Model)
	}
	return out
}

// Run tries each tier in order and returns the first success. A cancelled
// context stops the chain immediately.
func (c Chain[T]) Run(ctx context.Context) (Outcome[T], error) {
	log := logger.OrNop(c.Log)
	if len(c.Tiers) == 0 {
		return Outcome[T]{}, fmt.Errorf("%s chain has no tiers", c.Name)
	}
	var failures []Failure
	for i, tier := range c.Tiers {
		if err := ctx.Err(); err != nil {
			return Outcome[T]{}, err
		}
		v, err := tier.Run(ctx)
		if err == nil {
			if i > 0 {
				log.Info(c.Name+".tier.recovered", zap.String("model", tier.Model), zap.Int("tier", i))
			}
			return Outcome[T]{Value: v, Model: tier.Model, Index: i, Failures: failures}, nil
		}
		if errors.Is(err, context.Canceled) {
			return Outcome[T]{}, err
		}
		log.Warn(c.Name+".tier.failed",
			zap.String("model", tier.Model),
			zap.Int("tier", i),
			zap.Error(err),
		)
		failures = append(failures, Failure{Model: tier.Model, Err: err})
	}
	return Outcome[T]{}, &Error{Chain: c.Name, Failures: failures}
}
