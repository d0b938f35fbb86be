// ABOUTME: Orchestrator runs a tool plan step by step against the tool registry.
// ABOUTME: Each call is bound, validated, write-guarded and wrapped by the tool middleware.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/panorama/internal/binder"
	"github.com/2389/panorama/internal/memory"
	"github.com/2389/panorama/internal/middleware"
	"github.com/2389/panorama/internal/tools"
)

// ErrWriteNotAllowed is returned for write tools when writes are disabled.
var ErrWriteNotAllowed = errors.New("write tool not allowed")

// Config contains configuration options for the Orchestrator.
type Config struct {
	Registry    *tools.Registry
	Middleware  *middleware.Middleware // nil runs tools unwrapped
	MaxSteps    int
	AllowWrites bool
	Logger      *slog.Logger
}

// Orchestrator executes plans for agent episodes.
type Orchestrator struct {
	registry    *tools.Registry
	mw          *middleware.Middleware
	binder      *binder.Binder
	maxSteps    int
	allowWrites bool
	logger      *slog.Logger
}

// New creates an Orchestrator with the given configuration.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Orchestrator{
		registry:    cfg.Registry,
		mw:          cfg.Middleware,
		binder:      binder.FromCatalog(cfg.Registry.Catalog()),
		maxSteps:    maxSteps,
		allowWrites: cfg.AllowWrites,
		logger:      logger.With("component", "orchestrator"),
	}
}

// StepResult is the outcome of one executed step.
type StepResult struct {
	Tool   string
	Args   map[string]any // after binding
	Output string
	Err    error
}

// Outcome summarises a run.
type Outcome struct {
	Steps   []StepResult
	Stopped bool // stopWhen held when the run ended
	Dropped int  // steps beyond the cap
}

// Failed reports how many executed steps returned an error.
func (o *Outcome) Failed() int {
	n := 0
	for _, s := range o.Steps {
		if s.Err != nil {
			n++
		}
	}
	return n
}

// Run executes plan against mem, which it updates in place. The returned
// error is non-nil only when ctx ends the run.
func (o *Orchestrator) Run(ctx context.Context, plan *Plan, mem *memory.Memory) (*Outcome, error) {
	if mem == nil {
		mem = memory.New()
	}
	out := &Outcome{}
	if plan == nil {
		return out, nil
	}

	steps := CapSteps(plan.Steps, o.maxSteps)
	out.Dropped = len(plan.Steps) - len(steps)
	if out.Dropped > 0 {
		o.logger.Warn("plan exceeds step cap",
			"steps", len(plan.Steps),
			"max_steps", o.maxSteps,
		)
	}

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if memory.Evaluate(plan.StopWhen.Have, mem) {
			o.logger.Debug("stop condition met", "step", i, "have", plan.StopWhen.Have)
			out.Stopped = true
			return out, nil
		}

		args := o.binder.Bind(step.Tool, step.Args, mem)
		res, err := o.call(ctx, step.Tool, args, mem)
		sr := StepResult{Tool: step.Tool, Args: args, Err: err}
		if res != nil {
			sr.Output = res.Output
		}
		out.Steps = append(out.Steps, sr)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ctxErr
			}
			o.logger.Warn("plan step failed",
				"step", i,
				"tool_name", step.Tool,
				"error", err,
			)
		}
	}

	out.Stopped = memory.Evaluate(plan.StopWhen.Have, mem)
	return out, nil
}

// Call runs a single tool with already-supplied args, binding missing ones from mem.
func (o *Orchestrator) Call(ctx context.Context, name string, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	return o.call(ctx, name, o.binder.Bind(name, args, mem), mem)
}

func (o *Orchestrator) call(ctx context.Context, name string, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	tool, err := o.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if err := o.registry.Catalog().Validate(name, args); err != nil {
		return nil, err
	}
	if !tool.Spec.ReadOnly && !o.allowWrites {
		return nil, fmt.Errorf("%w: %s", ErrWriteNotAllowed, name)
	}

	h := tool.Handler
	if o.mw != nil {
		h = o.mw.Wrap(name, h, middleware.Options{
			Source: middleware.SourceChat,
			Policy: tool.Spec.Policy(),
		})
	}
	return h(ctx, args, mem)
}
