// Package task tracks the lifecycle of submitted tasks: validation and
// entitlement checks, agent dispatch, the model call and the terminal
// outcome. Stale running tasks are failed by a background reaper.
package task

import (
	"time"

	"github.com/harun/superninja/pkg/failure"
	"github.com/harun/superninja/pkg/provider"
)

// State is the lifecycle state of a task.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

var transitions = map[State][]State{
	StatePending: {StateRunning, StateFailed, StateCancelled},
	StateRunning: {StateCompleted, StateFailed, StateCancelled},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Mode is the execution mode requested for a task.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeComplex  Mode = "complex"
	ModeFast     Mode = "fast"
)

// ParseMode validates m, defaulting an empty mode to standard.
func ParseMode(m string) (Mode, error) {
	switch Mode(m) {
	case "":
		return ModeStandard, nil
	case ModeStandard, ModeComplex, ModeFast:
		return Mode(m), nil
	}
	return "", failure.Validation("unknown mode %q", m)
}

// Kind tells single-agent tasks from workflow parents.
type Kind string

const (
	KindSingle     Kind = "single"
	KindMultiAgent Kind = "multi-agent"
)

// Tier is a subscription level. Tiers are ordered ninja < ultra.
type Tier string

const (
	TierNinja Tier = "ninja"
	TierUltra Tier = "ultra"
)

var tierRank = map[Tier]int{
	TierNinja: 0,
	TierUltra: 1,
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// Covers reports whether t grants access to features requiring required.
// Unknown tiers grant nothing beyond the lowest tier.
func (t Tier) Covers(required Tier) bool {
	return tierRank[t] >= tierRank[required]
}

// DefaultEntitlements maps agent types to the tier they require.
func DefaultEntitlements() map[string]Tier {
	return map[string]Tier{"apex": TierUltra}
}

// User is the submitter of a task.
type User struct {
	ID   string `json:"id"`
	Tier Tier   `json:"tier"`
}

// Result is the output of a completed task.
type Result struct {
	Content string         `json:"content"`
	Usage   provider.Usage `json:"usage"`
}

// Metadata describes how a completed task was served.
type Metadata struct {
	TokensUsed    int64         `json:"tokensUsed"`
	ExecutionTime time.Duration `json:"executionTime"`
	Model         string        `json:"model"`
	Agent         string        `json:"agent"`
}

// ErrorInfo is the failure of a failed or cancelled task.
type ErrorInfo struct {
	Kind   failure.Kind `json:"kind"`
	Detail string       `json:"detail"`
}

// Err rebuilds the typed error.
func (e *ErrorInfo) Err() error {
	if e == nil {
		return nil
	}
	return failure.New(e.Kind, "%s", e.Detail)
}

// Record is a snapshot of a task.
type Record struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	AgentType   string     `json:"agentType,omitempty"`
	Agents      []string   `json:"agents,omitempty"`
	Kind        Kind       `json:"kind"`
	Message     string     `json:"message"`
	Mode        Mode       `json:"mode"`
	Files       []string   `json:"files,omitempty"`
	RepoRef     string     `json:"repoRef,omitempty"`
	State       State      `json:"state"`
	Progress    int        `json:"progress"`
	Result      *Result    `json:"result,omitempty"`
	Error       *ErrorInfo `json:"error,omitempty"`
	Metadata    *Metadata  `json:"metadata,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   time.Time  `json:"startedAt,omitempty"`
	CompletedAt time.Time  `json:"completedAt,omitempty"`
}

// SubmitRequest asks for one agent to run a message.
type SubmitRequest struct {
	User      User
	AgentType string
	Message   string
	Mode      string
	Files     []string
	RepoRef   string
}

// BeginRequest opens a record that is not tied to a single dispatch.
type BeginRequest struct {
	User    User
	Message string
	Agents  []string
	Kind    Kind
}
