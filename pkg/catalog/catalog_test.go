package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()

	t.Run("contains every agent model", func(t *testing.T) {
		for _, id := range []string{
			"ninja-405b", "claude-3-5-sonnet-20241022", "claude-sonnet-20241022",
			"deepseek-coder-v2", "gpt-4-turbo", "gpt-4o", "gemini-1.5-pro",
			"claude-3-haiku-20240307",
		} {
			_, ok := c.Lookup(id)
			assert.True(t, ok, id)
		}
	})

	t.Run("resolves provider", func(t *testing.T) {
		m, ok := c.Lookup("gemini-1.5-flash")
		require.True(t, ok)
		assert.Equal(t, Google, m.Provider)
		assert.Equal(t, CategoryFast, m.Category)
	})

	t.Run("filters by category", func(t *testing.T) {
		images := c.List(CategoryImage)
		require.Len(t, images, 3)
		assert.Equal(t, "dall-e-3", images[0].ID)
		assert.Len(t, c.List(""), c.Len())
	})

	t.Run("groups by provider", func(t *testing.T) {
		groups := c.ByProvider()
		assert.Equal(t, []string{"grok-beta"}, groups[Grok])
		assert.Len(t, groups[Anthropic], 4)
	})
}

func TestNew(t *testing.T) {
	t.Run("rejects duplicates", func(t *testing.T) {
		_, err := New(Model{ID: "a", Provider: OpenAI}, Model{ID: "a", Provider: OpenAI})
		assert.Error(t, err)
	})

	t.Run("rejects unknown provider", func(t *testing.T) {
		_, err := New(Model{ID: "a", Provider: "acme"})
		assert.Error(t, err)
	})
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
models:
  - id: m1
    provider: OpenAI
    category: fast
    cost_per_1k_tokens: 0.5
`))
	require.NoError(t, err)
	m, ok := c.Lookup("m1")
	require.True(t, ok)
	assert.InDelta(t, 1.0, m.Cost(2000), 1e-9)
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider(" Anthropic ")
	require.NoError(t, err)
	assert.Equal(t, Anthropic, p)
	assert.Equal(t, "NinjaTech", Ninja.DisplayName())
	assert.Equal(t, "", Amazon.CredentialEnv())

	_, err = ParseProvider("acme")
	assert.Error(t, err)
}
