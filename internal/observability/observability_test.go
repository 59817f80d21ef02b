package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsHandler(t *testing.T) {
	RecordProviderCall("openai", "scrape-model", 20*time.Millisecond, true, 12)
	RecordProviderCall("openai", "scrape-model", 20*time.Millisecond, false, 0)
	RecordAgentDispatch("scrape-agent", "busy")
	RecordTasksReaped(0)
	SetActiveSessions(3)

	body := scrape(t)
	assert.Contains(t, body, `provider_calls_total{model="scrape-model",provider="openai",status="success"} 1`)
	assert.Contains(t, body, `provider_calls_total{model="scrape-model",provider="openai",status="error"} 1`)
	assert.Contains(t, body, `provider_tokens_total{model="scrape-model"} 12`)
	assert.Contains(t, body, `agent_dispatch_total{agent_type="scrape-agent",status="busy"} 1`)
	assert.Contains(t, body, "vsessions_active 3")
}

func TestAuditLogger_Record(t *testing.T) {
	var buf bytes.Buffer
	a := NewAuditLogger(zerolog.New(&buf))

	a.Record(context.Background(), AuditEvent{
		Type:     "admin",
		Actor:    "admin",
		Action:   "key.reactivate",
		Target:   "openai-1",
		Status:   "success",
		Metadata: map[string]any{"reason": "rotated"},
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "admin", line["type"])
	assert.Equal(t, "key.reactivate", line["action"])
	assert.Equal(t, "openai-1", line["target"])
	assert.Equal(t, "success", line["status"])
	assert.Equal(t, map[string]any{"reason": "rotated"}, line["metadata"])
}
