package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stepErr struct{ err error }

func (s *stepErr) Error() string { return "step: " + s.err.Error() }
func (s *stepErr) Unwrap() error { return s.err }
func (s *stepErr) FailureKind() Kind { return KindWorkflowStepFailed }

func TestErrorIs(t *testing.T) {
	t.Run("matches sentinel of same kind", func(t *testing.T) {
		err := New(KindAgentBusy, "agent %q is active", "turbo")
		assert.ErrorIs(t, err, ErrAgentBusy)
		assert.NotErrorIs(t, err, ErrAgentNotFound)
	})

	t.Run("matches through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("dispatch: %w", New(KindForbidden, "tier too low"))
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("unwraps the cause", func(t *testing.T) {
		cause := errors.New("boom")
		err := Wrap(KindProviderRequestFailed, cause, "openai call")
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "provider_request_failed: openai call: boom", err.Error())
	})
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, KindTaskTimeout, KindOf(New(KindTaskTimeout, "stale")))

	t.Run("outermost kinded error wins", func(t *testing.T) {
		err := &stepErr{err: New(KindAgentBusy, "busy")}
		assert.Equal(t, KindWorkflowStepFailed, KindOf(err))
		assert.ErrorIs(t, err, ErrAgentBusy)
	})
}

func TestDetail(t *testing.T) {
	assert.Equal(t, "", Detail(nil))
	assert.Equal(t, "unknown size class \"huge\"", Detail(Validation("unknown size class %q", "huge")))
	assert.Equal(t, "plain", Detail(errors.New("plain")))
}
