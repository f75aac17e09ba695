// Package agent implements the reasoning/tool-use loop: the model alternates
// between selecting one named tool with textual input and receiving its
// observation, until it emits a final answer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"incident-agent/internal/llm"
	"incident-agent/internal/models"
	"incident-agent/internal/tools"
)

// Result is the outcome of one investigation: the final textual conclusion
// and the ordered trajectory of tool steps that led to it.
type Result struct {
	Output string
	Steps  []models.TrajectoryStep
}

// Executor drives the reasoning loop against an LLM and a fixed tool
// registry. Both are injected once at construction; the executor holds no
// per-invocation state.
type Executor struct {
	chat           llm.Chat
	tools          tools.Registry
	maxSteps       int
	parseTolerance int
	log            *slog.Logger
}

// NewExecutor builds an executor. maxSteps bounds model turns per
// investigation; parseTolerance bounds how many malformed model outputs are
// corrected in place before the investigation fails.
func NewExecutor(chat llm.Chat, registry tools.Registry, maxSteps, parseTolerance int, log *slog.Logger) *Executor {
	if maxSteps <= 0 {
		maxSteps = 15
	}
	if parseTolerance < 0 {
		parseTolerance = 0
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		chat:           chat,
		tools:          registry,
		maxSteps:       maxSteps,
		parseTolerance: parseTolerance,
		log:            log,
	}
}

// Invoke runs the loop to completion for one investigation input. It returns
// an error only for unrecoverable failures: model errors, context
// cancellation, parse errors beyond tolerance, or step exhaustion. Recorded
// steps are returned even alongside an error so a partial trajectory is
// never lost.
func (e *Executor) Invoke(ctx context.Context, input string) (*Result, error) {
	var (
		scratchpad  string
		steps       []models.TrajectoryStep
		parseErrors int
	)

	for turn := 0; turn < e.maxSteps; turn++ {
		if err := ctx.Err(); err != nil {
			return &Result{Steps: steps}, err
		}

		output, err := e.chat.Generate(ctx, renderPrompt(e.tools, input, scratchpad))
		if err != nil {
			return &Result{Steps: steps}, fmt.Errorf("model turn %d: %w", turn, err)
		}

		dec, err := parseDecision(output)
		if err != nil {
			var pe *parseErr
			if !errors.As(err, &pe) {
				return &Result{Steps: steps}, err
			}
			parseErrors++
			if parseErrors > e.parseTolerance {
				return &Result{Steps: steps}, fmt.Errorf("parse errors exceeded tolerance (%d): %w", e.parseTolerance, err)
			}
			e.log.Warn("recovering from malformed model output", "turn", turn, "error", err)
			scratchpad += output + "\nObservation: " + correctiveObservation(err) + "\nThought: "
			continue
		}

		if dec.finalAnswer != "" {
			return &Result{Output: dec.finalAnswer, Steps: steps}, nil
		}

		tool, ok := e.tools.Lookup(dec.action)
		var observation string
		if !ok {
			observation = fmt.Sprintf("%s is not a valid tool. Available tools: %v.", dec.action, e.tools.Names())
		} else {
			observation = tool.Call(ctx, dec.actionInput)
		}

		steps = append(steps, models.TrajectoryStep{
			Tool:        dec.action,
			ToolInput:   dec.actionInput,
			Observation: observation,
		})
		e.log.Debug("tool step", "turn", turn, "tool", dec.action)
		scratchpad += output + "\nObservation: " + observation + "\nThought: "
	}

	return &Result{Steps: steps}, fmt.Errorf("no final answer after %d steps", e.maxSteps)
}
