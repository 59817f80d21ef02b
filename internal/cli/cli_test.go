package cli

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeTestConfig writes a config whose state, PID file included, lives
// under a temp dir and returns its path. extra is appended verbatim.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
data_dir: %s
logging:
  level: error
store:
  driver: memory
%s`, dir, extra)
	path := filepath.Join(dir, "superninja.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// completionServer answers chat completions with content(n) for the n-th
// call, counting calls. An empty content is answered with a 401.
func completionServer(t *testing.T, calls *atomic.Int32, content func(n int32) string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		text := content(n)
		if text == "" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error"}}`)
			return
		}
		fmt.Fprintf(w, `{
			"id": "cmpl-%d", "object": "chat.completion", "created": 1, "model": "gpt-4o",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": %q}}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 4, "total_tokens": 7}
		}`, n, text)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func openAIKeyConfig(url string) string {
	return fmt.Sprintf(`providers:
  endpoints:
    openai: %s/v1/
keys:
  - id: openai-test
    provider: openai
    model: gpt-4o
    credential: sk-test
`, url)
}
