package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/superninja/pkg/failure"
	"github.com/harun/superninja/pkg/orchestrator"
)

func TestModelsCommand(t *testing.T) {
	t.Run("should list the whole catalog", func(t *testing.T) {
		out, err := execute(t, "models", "--category", "")
		require.NoError(t, err)
		assert.Contains(t, out, "gpt-4o")
		assert.Contains(t, out, "claude-3-5-sonnet-20241022")
	})

	t.Run("should narrow to a category", func(t *testing.T) {
		out, err := execute(t, "models", "--category", "coding")
		require.NoError(t, err)
		assert.Contains(t, out, "deepseek-coder-v2")
		assert.NotContains(t, out, "gpt-4o")
	})

	t.Run("should reject an unknown category", func(t *testing.T) {
		_, err := execute(t, "models", "--category", "poetry")
		assert.ErrorIs(t, err, failure.ErrValidation)
	})
}

func TestAgentsCommand(t *testing.T) {
	out, err := execute(t, "agents", "--config", writeTestConfig(t, ""))
	require.NoError(t, err)
	assert.Contains(t, out, "turbo")
	assert.Contains(t, out, "content-creator")
	assert.Regexp(t, `apex\s+\S.*ultra`, out)
}

func TestRunCommand(t *testing.T) {
	t.Run("should print the agent answer", func(t *testing.T) {
		var calls atomic.Int32
		srv := completionServer(t, &calls, func(n int32) string { return "written by the agent" })
		path := writeTestConfig(t, openAIKeyConfig(srv.URL))

		out, err := execute(t, "run", "--config", path, "--json=false", "--tier", "ninja",
			"--agent", "content-creator", "write", "a", "tagline")
		require.NoError(t, err)
		assert.Contains(t, out, "written by the agent")
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("should print JSON on request", func(t *testing.T) {
		var calls atomic.Int32
		srv := completionServer(t, &calls, func(n int32) string { return "json answer" })
		path := writeTestConfig(t, openAIKeyConfig(srv.URL))

		out, err := execute(t, "run", "--config", path, "--json", "--tier", "ninja",
			"--agent", "content-creator", "hello")
		require.NoError(t, err)

		var outcome orchestrator.TaskOutcome
		require.NoError(t, json.Unmarshal([]byte(out), &outcome))
		assert.NotEmpty(t, outcome.TaskID)
		assert.Equal(t, "json answer", outcome.Result)
	})

	t.Run("should refuse agents above the user tier", func(t *testing.T) {
		_, err := execute(t, "run", "--config", writeTestConfig(t, ""), "--json=false", "--tier", "ninja",
			"--agent", "apex", "hello")
		assert.ErrorIs(t, err, failure.ErrForbidden)
	})

	t.Run("should reject an unknown tier", func(t *testing.T) {
		_, err := execute(t, "run", "--config", writeTestConfig(t, ""), "--tier", "gold",
			"--agent", "turbo", "hello")
		assert.ErrorIs(t, err, failure.ErrValidation)
	})
}

func writeSteps(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "steps.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const twoSteps = `[
	{"name": "draft", "agent": "content-creator", "task": "draft a post", "passResults": true},
	{"name": "polish", "agent": "content-creator", "task": "polish the post"}
]`

func TestWorkflowCommand(t *testing.T) {
	t.Run("should run the steps in order", func(t *testing.T) {
		var calls atomic.Int32
		srv := completionServer(t, &calls, func(n int32) string { return fmt.Sprintf("output %d", n) })
		path := writeTestConfig(t, openAIKeyConfig(srv.URL))

		out, err := execute(t, "workflow", "--config", path, "--json=false", "--tier", "ninja",
			"--steps", writeSteps(t, twoSteps), "--task", "blog post")
		require.NoError(t, err)
		assert.Contains(t, out, "== draft")
		assert.Contains(t, out, "output 1")
		assert.Contains(t, out, "== polish")
		assert.Contains(t, out, "output 2")
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("should print partial results when a step fails", func(t *testing.T) {
		var calls atomic.Int32
		srv := completionServer(t, &calls, func(n int32) string {
			if n == 1 {
				return "first draft"
			}
			return ""
		})
		path := writeTestConfig(t, openAIKeyConfig(srv.URL))

		out, err := execute(t, "workflow", "--config", path, "--json=false", "--tier", "ninja",
			"--steps", writeSteps(t, twoSteps), "--task", "blog post")
		assert.ErrorIs(t, err, failure.ErrWorkflowStepFailed)
		assert.Contains(t, out, "first draft")
		assert.NotContains(t, out, "== polish")
	})

	t.Run("should reject a steps file that breaks the schema", func(t *testing.T) {
		_, err := execute(t, "workflow", "--config", writeTestConfig(t, ""), "--tier", "ninja",
			"--steps", writeSteps(t, `[{"name": "draft"}]`), "--task", "blog post")
		assert.ErrorIs(t, err, failure.ErrValidation)
	})
}
