// Package workflow runs multi-agent pipelines: an ordered list of steps,
// each handled by one agent, optionally feeding its output to the next.
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/superninja/pkg/failure"
	"github.com/harun/superninja/pkg/task"
)

// Step is one stage of a workflow.
type Step struct {
	Name        string `json:"name" yaml:"name"`
	Agent       string `json:"agent" yaml:"agent"`
	Task        string `json:"task" yaml:"task"`
	PassResults bool   `json:"passResults,omitempty" yaml:"pass_results"`
}

// Request describes a workflow run.
type Request struct {
	User   task.User
	Task   string
	Agents []string
	Steps  []Step
}

// StepResult is the output of a finished step.
type StepResult struct {
	TaskID        string        `json:"taskId"`
	Agent         string        `json:"agent"`
	Content       string        `json:"content"`
	TokensUsed    int64         `json:"tokensUsed"`
	ExecutionTime time.Duration `json:"executionTime"`
}

// OrderedResults maps step names to results, keeping step order.
type OrderedResults struct {
	keys   []string
	values map[string]StepResult
}

// Set adds or replaces the result of a step.
func (o *OrderedResults) Set(name string, r StepResult) {
	if o.values == nil {
		o.values = make(map[string]StepResult)
	}
	if _, ok := o.values[name]; !ok {
		o.keys = append(o.keys, name)
	}
	o.values[name] = r
}

// Get returns the result of a step.
func (o OrderedResults) Get(name string) (StepResult, bool) {
	r, ok := o.values[name]
	return r, ok
}

// Keys returns step names in execution order.
func (o OrderedResults) Keys() []string {
	return append([]string(nil), o.keys...)
}

// Len returns the number of results.
func (o OrderedResults) Len() int {
	return len(o.keys)
}

// MarshalJSON encodes the results as an object whose keys follow step order.
func (o OrderedResults) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Result is a finished workflow.
type Result struct {
	TaskID  string         `json:"taskId"`
	Results OrderedResults `json:"results"`
}

// StepError reports the step that stopped a workflow together with the
// results of the steps before it.
type StepError struct {
	TaskID  string
	Step    string
	Index   int
	Partial OrderedResults
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("workflow step %d (%s) failed: %v", e.Index+1, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FailureKind implements failure.Kinded.
func (e *StepError) FailureKind() failure.Kind {
	return failure.KindWorkflowStepFailed
}

// Is matches failure.ErrWorkflowStepFailed.
func (e *StepError) Is(target error) bool {
	t, ok := target.(*failure.Error)
	return ok && t.Kind == failure.KindWorkflowStepFailed
}
