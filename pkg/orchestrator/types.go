package orchestrator

import (
	"time"

	"github.com/harun/superninja/pkg/agent"
	"github.com/harun/superninja/pkg/keypool"
	"github.com/harun/superninja/pkg/task"
	"github.com/harun/superninja/pkg/vsession"
	"github.com/harun/superninja/pkg/workflow"
)

// TaskOutcome is the answer to a single agent task.
type TaskOutcome struct {
	TaskID        string        `json:"taskId"`
	Result        string        `json:"result"`
	ExecutionTime time.Duration `json:"executionTime"`
}

// WorkflowOutcome is the answer to a workflow. On failure Results holds the
// steps that completed.
type WorkflowOutcome struct {
	TaskID  string                  `json:"taskId"`
	Results workflow.OrderedResults `json:"results"`
}

// SessionOutcome describes a freshly started session.
type SessionOutcome struct {
	SessionID string         `json:"sessionId"`
	Specs     vsession.Specs `json:"specs"`
	Status    vsession.State `json:"status"`
}

// CommandOutcome is the result of a command run in a session.
type CommandOutcome struct {
	Output        string        `json:"output"`
	ExitCode      int           `json:"exitCode"`
	ExecutionTime time.Duration `json:"executionTime"`
}

// Dashboard summarizes the system.
type Dashboard struct {
	Agents   map[agent.State]int    `json:"agents"`
	Tasks    map[task.State]int     `json:"tasks"`
	Sessions map[vsession.State]int `json:"sessions"`
	Keys     keypool.Stats          `json:"keys"`
	Models   int                    `json:"models"`
}
