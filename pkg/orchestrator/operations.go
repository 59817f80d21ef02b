package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/harun/superninja/internal/observability"
	"github.com/harun/superninja/pkg/agent"
	"github.com/harun/superninja/pkg/catalog"
	"github.com/harun/superninja/pkg/failure"
	"github.com/harun/superninja/pkg/keypool"
	"github.com/harun/superninja/pkg/provider"
	"github.com/harun/superninja/pkg/task"
	"github.com/harun/superninja/pkg/vsession"
	"github.com/harun/superninja/pkg/workflow"
)

// SubmitTask runs one message on one agent and waits for the answer.
func (o *Orchestrator) SubmitTask(ctx context.Context, req task.SubmitRequest) (TaskOutcome, error) {
	rec, err := o.tasks.Submit(ctx, req)
	out := TaskOutcome{TaskID: rec.ID}
	if err != nil {
		return out, err
	}
	if rec.Result != nil {
		out.Result = rec.Result.Content
	}
	if rec.Metadata != nil {
		out.ExecutionTime = rec.Metadata.ExecutionTime
	}
	return out, nil
}

// CoordinateWorkflow runs steps in order. When a step fails the error is a
// *workflow.StepError and the outcome carries the completed steps.
func (o *Orchestrator) CoordinateWorkflow(ctx context.Context, req workflow.Request) (WorkflowOutcome, error) {
	res, err := o.workflows.Coordinate(ctx, req)
	if err != nil {
		var stepErr *workflow.StepError
		if errors.As(err, &stepErr) {
			return WorkflowOutcome{TaskID: stepErr.TaskID, Results: stepErr.Partial}, err
		}
		return WorkflowOutcome{}, err
	}
	return WorkflowOutcome{TaskID: res.TaskID, Results: res.Results}, nil
}

// ChatModel sends message straight to modelID without going through an
// agent. No task record is kept.
func (o *Orchestrator) ChatModel(ctx context.Context, modelID, message string, opts provider.Options) (*provider.Response, error) {
	if strings.TrimSpace(message) == "" {
		return nil, failure.Validation("message is required")
	}
	return o.invoker.Invoke(ctx, modelID, message, opts)
}

// StartSession starts a session for userID. It returns while the session is
// still starting.
func (o *Orchestrator) StartSession(ctx context.Context, userID string, size vsession.SizeClass) (SessionOutcome, error) {
	s, err := o.sessions.Start(ctx, userID, size)
	if err != nil {
		return SessionOutcome{}, err
	}
	return SessionOutcome{SessionID: s.ID, Specs: s.Specs, Status: s.State}, nil
}

// StopSession asks a session to stop.
func (o *Orchestrator) StopSession(ctx context.Context, sessionID string) error {
	return o.sessions.Stop(ctx, sessionID)
}

// ExecuteSessionCommand runs command inside a running session.
func (o *Orchestrator) ExecuteSessionCommand(ctx context.Context, sessionID, command string) (CommandOutcome, error) {
	res, err := o.sessions.Execute(ctx, sessionID, command)
	if err != nil {
		return CommandOutcome{}, err
	}
	return CommandOutcome{Output: res.Output, ExitCode: res.ExitCode, ExecutionTime: res.Duration}, nil
}

// GetSession returns a session snapshot.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (vsession.Session, error) {
	return o.sessions.Get(ctx, sessionID)
}

func (o *Orchestrator) ListAgents() []agent.Agent {
	return o.agents.List()
}

func (o *Orchestrator) GetTask(ctx context.Context, taskID string) (task.Record, error) {
	return o.tasks.Get(ctx, taskID)
}

// ListModels returns the catalog, optionally narrowed to one category.
func (o *Orchestrator) ListModels(category catalog.Category) []catalog.Model {
	return o.catalog.List(category)
}

// CancelTask cancels a pending or running task.
func (o *Orchestrator) CancelTask(ctx context.Context, taskID string) (task.Record, error) {
	return o.tasks.Cancel(ctx, taskID)
}

// ResetAgent returns an agent in the error state to idle.
func (o *Orchestrator) ResetAgent(ctx context.Context, agentType string) error {
	err := o.agents.Reset(agentType)
	observability.RecordAdminAudit(ctx, "agent.reset", agentType, auditStatus(err), nil)
	return err
}

// ReactivateKey puts an exhausted or disabled key back into rotation.
func (o *Orchestrator) ReactivateKey(ctx context.Context, keyID string) error {
	err := o.pool.Reactivate(keyID)
	observability.RecordAdminAudit(ctx, "key.reactivate", keyID, auditStatus(err), nil)
	return err
}

// SetKeyActive enables or disables a key.
func (o *Orchestrator) SetKeyActive(ctx context.Context, keyID string, active bool) error {
	err := o.pool.SetActive(keyID, active)
	observability.RecordAdminAudit(ctx, "key.set_active", keyID, auditStatus(err), map[string]any{"active": active})
	return err
}

// AddKey registers a new key. Unset limits fall back to the defaults.
func (o *Orchestrator) AddKey(ctx context.Context, def keypool.Definition) error {
	err := o.addKey(def)
	observability.RecordAdminAudit(ctx, "key.add", def.ID, auditStatus(err), map[string]any{
		"provider": string(def.Provider),
		"model":    def.Model,
	})
	return err
}

func (o *Orchestrator) addKey(def keypool.Definition) error {
	model, ok := o.catalog.Lookup(def.Model)
	if !ok {
		return failure.Validation("unknown model %q", def.Model)
	}
	if def.Provider == "" {
		def.Provider = model.Provider
	}
	if def.Provider != model.Provider {
		return failure.Validation("model %s is served by %s, not %s", def.Model, model.Provider, def.Provider)
	}
	if def.Limits == (keypool.Limits{}) {
		def.Limits = keypool.DefaultLimits()
	}
	return o.pool.Add(def)
}

// RemoveKey deletes a key from the pool.
func (o *Orchestrator) RemoveKey(ctx context.Context, keyID string) error {
	err := o.pool.Remove(keyID)
	observability.RecordAdminAudit(ctx, "key.remove", keyID, auditStatus(err), nil)
	return err
}

func (o *Orchestrator) ListKeys() []keypool.Key {
	return o.pool.List()
}

// Dashboard counts agents, tasks and sessions per state.
func (o *Orchestrator) Dashboard() Dashboard {
	return Dashboard{
		Agents:   o.agents.CountByState(),
		Tasks:    o.tasks.Stats(),
		Sessions: o.sessions.CountByState(),
		Keys:     o.pool.Stats(),
		Models:   o.catalog.Len(),
	}
}

func auditStatus(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
