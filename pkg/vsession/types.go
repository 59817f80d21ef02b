// Package vsession manages ephemeral per-user compute sessions. A user has
// at most one session that is starting, running or stopping.
package vsession

import (
	"time"

	"github.com/harun/superninja/pkg/failure"
)

// State is the lifecycle state of a session.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

// Terminal reports whether the session is finished.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateError
}

// SizeClass names a resource tier.
type SizeClass string

const (
	SizeStandard   SizeClass = "standard"
	SizePremium    SizeClass = "premium"
	SizeEnterprise SizeClass = "enterprise"
)

// Specs are the resources of a size class.
type Specs struct {
	CPU       int `json:"cpu"`
	MemoryGB  int `json:"memoryGb"`
	StorageGB int `json:"storageGb"`
}

var sizes = map[SizeClass]Specs{
	SizeStandard:   {CPU: 8, MemoryGB: 32, StorageGB: 500},
	SizePremium:    {CPU: 16, MemoryGB: 64, StorageGB: 1000},
	SizeEnterprise: {CPU: 32, MemoryGB: 128, StorageGB: 2000},
}

// SpecsFor returns the resources of size. An empty size is standard.
func SpecsFor(size SizeClass) (Specs, error) {
	if size == "" {
		size = SizeStandard
	}
	specs, ok := sizes[size]
	if !ok {
		return Specs{}, failure.Validation("unknown size class %q", size)
	}
	return specs, nil
}

// Session is a snapshot of a virtual session.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Size         SizeClass `json:"size"`
	Specs        Specs     `json:"specs"`
	State        State     `json:"state"`
	Address      string    `json:"address,omitempty"`
	Port         int       `json:"port,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	StartedAt    time.Time `json:"startedAt,omitempty"`
	StoppedAt    time.Time `json:"stoppedAt,omitempty"`
	LastActivity time.Time `json:"lastActivity,omitempty"`
}

// ExecResult is the outcome of a command.
type ExecResult struct {
	Output   string        `json:"output"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
}
