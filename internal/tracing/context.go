package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// TaskIDKey is the context key for the task being executed
	TaskIDKey ContextKey = "task_id"
	// AgentTypeKey is the context key for the dispatched agent type
	AgentTypeKey ContextKey = "agent_type"
	// UserIDKey is the context key for the submitting user
	UserIDKey ContextKey = "user_id"
	// SessionIDKey is the context key for a virtual session
	SessionIDKey ContextKey = "session_id"
	// WorkflowIDKey is the context key for the parent workflow task
	WorkflowIDKey ContextKey = "workflow_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID    string
	TaskID     string
	AgentType  string
	UserID     string
	SessionID  string
	WorkflowID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithTaskID adds a task ID to the context
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, TaskIDKey, taskID)
}

// WithAgentType adds an agent type to the context
func WithAgentType(ctx context.Context, agentType string) context.Context {
	return context.WithValue(ctx, AgentTypeKey, agentType)
}

// WithUserID adds a user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithSessionID adds a virtual session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithWorkflowID adds a workflow ID to the context
func WithWorkflowID(ctx context.Context, workflowID string) context.Context {
	return context.WithValue(ctx, WorkflowIDKey, workflowID)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetTaskID retrieves the task ID from the context
func GetTaskID(ctx context.Context) string {
	return stringValue(ctx, TaskIDKey)
}

// GetAgentType retrieves the agent type from the context
func GetAgentType(ctx context.Context) string {
	return stringValue(ctx, AgentTypeKey)
}

// GetUserID retrieves the user ID from the context
func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

// GetSessionID retrieves the virtual session ID from the context
func GetSessionID(ctx context.Context) string {
	return stringValue(ctx, SessionIDKey)
}

// GetWorkflowID retrieves the workflow ID from the context
func GetWorkflowID(ctx context.Context) string {
	return stringValue(ctx, WorkflowIDKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:    GetTraceID(ctx),
		TaskID:     GetTaskID(ctx),
		AgentType:  GetAgentType(ctx),
		UserID:     GetUserID(ctx),
		SessionID:  GetSessionID(ctx),
		WorkflowID: GetWorkflowID(ctx),
	}
}

// NewRequestContext returns ctx with a trace ID, generating one if absent
func NewRequestContext(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, NewTraceID())
}

// NewTaskContext scopes ctx to a task execution
func NewTaskContext(ctx context.Context, taskID, agentType, userID string) context.Context {
	ctx = NewRequestContext(ctx)
	ctx = WithTaskID(ctx, taskID)
	if agentType != "" {
		ctx = WithAgentType(ctx, agentType)
	}
	if userID != "" {
		ctx = WithUserID(ctx, userID)
	}
	return ctx
}
