package vsession

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/harun/superninja/pkg/failure"
)

// Endpoint is where a provisioned session is reachable.
type Endpoint struct {
	Address string
	Port    int
}

// Provisioner allocates and releases the compute behind a session.
type Provisioner interface {
	Provision(ctx context.Context, s Session) (Endpoint, error)
	Teardown(ctx context.Context, s Session) error
}

// Executor runs commands inside a running session.
type Executor interface {
	Execute(ctx context.Context, s Session, command string) (ExecResult, error)
}

// SimulatedProvisioner hands out private addresses without allocating
// anything.
type SimulatedProvisioner struct{}

func (SimulatedProvisioner) Provision(context.Context, Session) (Endpoint, error) {
	return Endpoint{
		Address: fmt.Sprintf("192.168.%d.%d", rand.IntN(255), rand.IntN(255)),
		Port:    22 + rand.IntN(1000),
	}, nil
}

func (SimulatedProvisioner) Teardown(context.Context, Session) error {
	return nil
}

// SimulatedExecutor echoes the command back with exit code zero.
type SimulatedExecutor struct{}

func (SimulatedExecutor) Execute(_ context.Context, _ Session, command string) (ExecResult, error) {
	start := time.Now()
	return ExecResult{
		Output:   "Command executed: " + command,
		ExitCode: 0,
		Duration: time.Since(start),
	}, nil
}

// MaxCommandLength bounds the size of an executed command.
const MaxCommandLength = 8192

// ValidateCommand rejects empty, oversized and NUL-containing commands.
func ValidateCommand(command string) error {
	if strings.TrimSpace(command) == "" {
		return failure.Validation("command must not be empty")
	}
	if len(command) > MaxCommandLength {
		return failure.Validation("command exceeds %d bytes", MaxCommandLength)
	}
	if strings.ContainsRune(command, 0) {
		return failure.Validation("command must not contain NUL bytes")
	}
	return nil
}
