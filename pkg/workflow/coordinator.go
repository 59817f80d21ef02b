package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/superninja/internal/observability"
	"github.com/harun/superninja/internal/tracing"
	"github.com/harun/superninja/pkg/failure"
	"github.com/harun/superninja/pkg/task"
)

// Tasks is what the coordinator needs from the task manager.
type Tasks interface {
	Submit(ctx context.Context, req task.SubmitRequest) (task.Record, error)
	Begin(ctx context.Context, req task.BeginRequest) (task.Record, error)
	Finish(ctx context.Context, taskID string, result *task.Result, err error) (task.Record, error)
	Get(ctx context.Context, taskID string) (task.Record, error)
}

// Coordinator runs workflows one step at a time.
type Coordinator struct {
	tasks  Tasks
	logger zerolog.Logger
}

// NewCoordinator creates a coordinator submitting steps through tasks.
func NewCoordinator(tasks Tasks, logger zerolog.Logger) *Coordinator {
	return &Coordinator{tasks: tasks, logger: logger}
}

// Validate checks a request without running it.
func Validate(req Request) error {
	if strings.TrimSpace(req.Task) == "" {
		return failure.Validation("workflow task description is required")
	}
	if len(req.Steps) == 0 {
		return failure.Validation("workflow needs at least one step")
	}

	allowed := make(map[string]bool, len(req.Agents))
	for _, a := range req.Agents {
		allowed[a] = true
	}

	seen := make(map[string]bool, len(req.Steps))
	for i, s := range req.Steps {
		if strings.TrimSpace(s.Name) == "" {
			return failure.Validation("step %d: name is required", i+1)
		}
		if seen[s.Name] {
			return failure.Validation("step %d: duplicate name %q", i+1, s.Name)
		}
		seen[s.Name] = true
		if strings.TrimSpace(s.Agent) == "" {
			return failure.Validation("step %s: agent is required", s.Name)
		}
		if strings.TrimSpace(s.Task) == "" {
			return failure.Validation("step %s: task is required", s.Name)
		}
		if len(allowed) > 0 && !allowed[s.Agent] {
			return failure.Validation("step %s: agent %s is not part of this workflow", s.Name, s.Agent)
		}
	}
	return nil
}

func stepAgents(steps []Step) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range steps {
		if !seen[s.Agent] {
			seen[s.Agent] = true
			out = append(out, s.Agent)
		}
	}
	return out
}

// Coordinate runs every step in order. A failing step stops the run; the
// returned *StepError carries the results gathered so far.
func (c *Coordinator) Coordinate(ctx context.Context, req Request) (*Result, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	agents := req.Agents
	if len(agents) == 0 {
		agents = stepAgents(req.Steps)
	}
	parent, err := c.tasks.Begin(ctx, task.BeginRequest{
		User:    req.User,
		Message: req.Task,
		Agents:  agents,
		Kind:    task.KindMultiAgent,
	})
	if err != nil {
		return nil, err
	}

	ctx = tracing.NewTaskContext(ctx, parent.ID, "", req.User.ID)
	ctx, span := tracing.StartSpan(ctx, "workflow.coordinate",
		attribute.String("task_id", parent.ID),
		attribute.Int("steps", len(req.Steps)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger)
	start := time.Now()

	var results OrderedResults
	var carried string
	var usage task.Result

	fail := func(step string, index int, err error, closeParent bool) error {
		stepErr := &StepError{TaskID: parent.ID, Step: step, Index: index, Partial: results, Err: err}
		if closeParent {
			if _, ferr := c.tasks.Finish(ctx, parent.ID, nil, stepErr); ferr != nil {
				logger.Warn().Err(ferr).Msg("Failed to close workflow record")
			}
		}
		observability.RecordWorkflowRun(false)
		span.SetStatus(codes.Error, stepErr.Error())
		logger.Error().Err(err).Str("step", step).Int("completed_steps", results.Len()).Msg("Workflow step failed")
		return stepErr
	}

	for i, step := range req.Steps {
		if err := c.parentEnded(ctx, parent.ID); err != nil {
			return nil, fail(step.Name, i, err, false)
		}

		input := step.Task
		if carried != "" {
			input += "\n\nContext from previous step:\n" + carried
		}
		carried = ""

		stepCtx := tracing.PropagateToStep(ctx, step.Agent)
		stepCtx, stepSpan := tracing.StartSpan(stepCtx, "workflow.step",
			attribute.String("step", step.Name),
			attribute.String("agent_type", step.Agent),
		)
		rec, err := c.tasks.Submit(stepCtx, task.SubmitRequest{
			User:      req.User,
			AgentType: step.Agent,
			Message:   input,
			Mode:      string(task.ModeStandard),
		})
		observability.RecordWorkflowStep(step.Agent, err == nil)

		if err != nil {
			stepSpan.RecordError(err)
			stepSpan.SetStatus(codes.Error, err.Error())
			stepSpan.End()
			return nil, fail(step.Name, i, err, true)
		}
		stepSpan.End()

		sr := StepResult{TaskID: rec.ID, Agent: step.Agent}
		if rec.Result != nil {
			sr.Content = rec.Result.Content
			sr.TokensUsed = rec.Result.Usage.Total()
			usage.Usage.InputTokens += rec.Result.Usage.InputTokens
			usage.Usage.OutputTokens += rec.Result.Usage.OutputTokens
		}
		if rec.Metadata != nil {
			sr.ExecutionTime = rec.Metadata.ExecutionTime
		}
		results.Set(step.Name, sr)

		if step.PassResults && i < len(req.Steps)-1 {
			carried = sr.Content
		}
		logger.Debug().Str("step", step.Name).Dur("execution_time", sr.ExecutionTime).Msg("Workflow step completed")
	}

	lastIndex := len(req.Steps) - 1
	lastStep := req.Steps[lastIndex].Name
	last, _ := results.Get(lastStep)
	usage.Content = last.Content
	if _, err := c.tasks.Finish(ctx, parent.ID, &usage, nil); err != nil {
		// The parent may have been reaped while the last step ran.
		if ended := c.parentEnded(ctx, parent.ID); ended != nil {
			err = ended
		}
		return nil, fail(lastStep, lastIndex, err, false)
	}
	observability.RecordWorkflowRun(true)

	logger.Info().Int("steps", results.Len()).Dur("elapsed", time.Since(start)).Msg("Workflow completed")
	return &Result{TaskID: parent.ID, Results: results}, nil
}

// parentEnded returns the failure of a parent record that was closed outside
// the coordinator, such as by the stale task reaper.
func (c *Coordinator) parentEnded(ctx context.Context, parentID string) error {
	rec, err := c.tasks.Get(ctx, parentID)
	if err != nil {
		return err
	}
	if !rec.State.Terminal() {
		return nil
	}
	if rec.Error != nil {
		return rec.Error.Err()
	}
	return failure.New(failure.KindInternal, "workflow record %s is already %s", parentID, rec.State)
}
