package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/tracex/services/store"
	"github.com/upb/tracex/services/tracedio"
)

func newTestCommand(t *testing.T, fsys afero.Fs, stdin string, args ...string) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	t.Setenv("TRACEX_SECRET_KEY", "cli-secret")
	t.Cleanup(store.ResetDefault)

	cmd := NewRootCommand(fsys)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--log-level=error"}, args...))
	return cmd, out
}

func execute(t *testing.T, ctx context.Context, fsys afero.Fs, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd, out := newTestCommand(t, fsys, stdin, args...)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRedact_Text(t *testing.T) {
	out, err := execute(t, t.Context(), afero.NewMemMapFs(), "contact me at a@b.com", "redact")
	require.NoError(t, err)
	assert.Equal(t, "contact me at [EMAIL REDACTED]", out)
}

func TestRedact_JSON(t *testing.T) {
	in := `{"user":{"email":"a@b.com","ssn":"123-45-6789","ids":[1,2]},"note":"plain"}`

	out, err := execute(t, t.Context(), afero.NewMemMapFs(), in, "redact")
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":{"email":"[EMAIL REDACTED]","ssn":"[SSN REDACTED]","ids":[1,2]},"note":"plain"}`, out)
	assert.Contains(t, out, "\n  ", "JSON output is indented")
}

func TestRedact_RulesFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/rules.yaml", []byte(`
rules:
  - name: phone
    pattern: '\d{3}-\d{3}-\d{4}'
    replacement: '[PHONE REDACTED]'
disable: [email]
`), 0o644))

	out, err := execute(t, t.Context(), fsys, "call 555-123-4567 or a@b.com", "redact", "--rules", "/rules.yaml")
	require.NoError(t, err)
	assert.Equal(t, "call [PHONE REDACTED] or a@b.com", out)

	_, err = execute(t, t.Context(), fsys, "x", "redact", "--rules", "/missing.yaml")
	assert.Error(t, err)
}

func TestDemoThenVerify(t *testing.T) {
	fsys := afero.NewMemMapFs()

	out, err := execute(t, t.Context(), fsys, "", "demo", "--output", "/traces.json")
	require.NoError(t, err)
	assert.False(t, tracedio.Enabled(), "demo restores the untraced filesystem")

	var printed []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &printed))

	types := make(map[string]int)
	correlation := make(map[any]bool)
	for _, ev := range printed {
		types[ev["event_type"].(string)]++
		correlation[ev["meta"].(map[string]any)["correlation_id"]] = true
	}
	assert.Equal(t, 1, types["function_call"])
	assert.Equal(t, 1, types["audit_call"])
	assert.Equal(t, 2, types["ml_step"])
	assert.GreaterOrEqual(t, types["file_open"], 2)
	assert.GreaterOrEqual(t, types["file_write"], 1)
	assert.GreaterOrEqual(t, types["file_read"], 1)
	assert.GreaterOrEqual(t, types["file_close"], 2)
	assert.Len(t, correlation, 1, "every demo event shares one correlation id")
	assert.NotContains(t, out, "alice@example.com")

	out, err = execute(t, t.Context(), fsys, "", "verify", "/traces.json")
	require.NoError(t, err)
	assert.Contains(t, out, "OK ")
	assert.Contains(t, out, "1 audit events checked, 0 failed")

	_, err = execute(t, t.Context(), fsys, "", "verify", "/traces.json", "--key", "wrong-key")
	assert.Error(t, err)
}

func TestVerify_DetectsTampering(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_, err := execute(t, t.Context(), fsys, "", "demo", "--output", "/traces.json")
	require.NoError(t, err)

	data, err := afero.ReadFile(fsys, "/traces.json")
	require.NoError(t, err)
	var events []map[string]any
	require.NoError(t, json.Unmarshal(data, &events))
	for _, ev := range events {
		if ev["event_type"] == "audit_call" {
			meta := ev["meta"].(map[string]any)
			meta["args"].([]any)[1] = 999.0
		}
	}
	tampered, err := json.Marshal(events)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fsys, "/tampered.json", tampered, 0o644))

	out, err := execute(t, t.Context(), fsys, "", "verify", "/tampered.json")
	require.Error(t, err)
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, err.Error(), "1 of 1 audit events failed verification")
}

func TestVerify_BadInput(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/bad.json", []byte("not json"), 0o644))

	_, err := execute(t, t.Context(), fsys, "", "verify", "/missing.json")
	assert.ErrorContains(t, err, "read trace file")

	_, err = execute(t, t.Context(), fsys, "", "verify", "/bad.json")
	assert.ErrorContains(t, err, "parse trace file")

	_, err = execute(t, t.Context(), fsys, "", "verify")
	assert.Error(t, err)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	cmd, _ := newTestCommand(t, afero.NewMemMapFs(), "", "serve", "--host", "127.0.0.1", "--port", fmt.Sprint(port))
	done := make(chan error, 1)
	go func() {
		done <- cmd.ExecuteContext(ctx)
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
