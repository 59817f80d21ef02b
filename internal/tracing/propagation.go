package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToStep derives the context of a workflow step. The trace ID and
// user are kept, the parent task becomes the workflow ID and any task or
// agent scoping of the parent is replaced.
func PropagateToStep(ctx context.Context, agentType string) context.Context {
	parent := FromContext(ctx)

	next := NewRequestContext(ctx)
	if parent.TaskID != "" && parent.WorkflowID == "" {
		next = WithWorkflowID(next, parent.TaskID)
	}
	next = WithTaskID(next, "")
	next = WithAgentType(next, agentType)
	return next
}

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.TaskID != "" {
		lc = lc.Str("task_id", tc.TaskID)
	}
	if tc.AgentType != "" {
		lc = lc.Str("agent_type", tc.AgentType)
	}
	if tc.UserID != "" {
		lc = lc.Str("user_id", tc.UserID)
	}
	if tc.SessionID != "" {
		lc = lc.Str("session_id", tc.SessionID)
	}
	if tc.WorkflowID != "" {
		lc = lc.Str("workflow_id", tc.WorkflowID)
	}
	return lc.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// Detach returns a background context carrying the tracing values of ctx.
// Work that must outlive the caller, such as a task whose submitter went
// away, runs under a detached context.
func Detach(ctx context.Context) context.Context {
	tc := FromContext(ctx)
	out := context.Background()
	if tc.TraceID != "" {
		out = WithTraceID(out, tc.TraceID)
	}
	if tc.TaskID != "" {
		out = WithTaskID(out, tc.TaskID)
	}
	if tc.AgentType != "" {
		out = WithAgentType(out, tc.AgentType)
	}
	if tc.UserID != "" {
		out = WithUserID(out, tc.UserID)
	}
	if tc.SessionID != "" {
		out = WithSessionID(out, tc.SessionID)
	}
	if tc.WorkflowID != "" {
		out = WithWorkflowID(out, tc.WorkflowID)
	}
	return out
}
