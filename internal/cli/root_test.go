package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	t.Run("should print the version", func(t *testing.T) {
		out, err := execute(t, "--version")
		require.NoError(t, err)
		assert.Contains(t, out, "superninja version "+GetVersion())
	})

	t.Run("should list every subcommand in help", func(t *testing.T) {
		out, err := execute(t, "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "SuperNinja")
		for _, name := range []string{"serve", "status", "stop", "models", "agents", "run", "workflow"} {
			assert.Contains(t, out, name)
		}
	})

	t.Run("should expose the global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "info", logLevelFlag.DefValue)
	})

	t.Run("should fail on a broken config file", func(t *testing.T) {
		path := writeTestConfig(t, "keys:\n  - id: k1\n    provider: openai\n    model: gpt-4o\n    credential: ${MISSING_SECRET_FOR_TEST}\n")
		_, err := execute(t, "agents", "--config", path)
		assert.ErrorContains(t, err, "invalid config")
	})
}

func TestGetVersion(t *testing.T) {
	assert.True(t, strings.HasPrefix(GetVersion(), "0."))
}
