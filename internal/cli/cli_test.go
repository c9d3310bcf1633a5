package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recorder(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("STORE_DRIVER", "memory")

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	root := NewRootCmd()
	assert.Equal(t, "keepalive", root.Use)

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["status"])

	for _, flag := range []string{"url", "source", "state", "state-driver", "api-key"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestRun_ThrottlesWithinInterval(t *testing.T) {
	srv, calls := recorder(t, http.StatusOK, `{"ok":true,"source":"cron"}`)
	state := filepath.Join(t.TempDir(), "state.db")

	out, err := execute(t, "run", "--url", srv.URL, "--state", state, "--source", "cron")
	require.NoError(t, err)
	assert.Contains(t, out, "Keep-alive recorded (source: cron)")

	out, err = execute(t, "run", "--url", srv.URL, "--state", state)
	require.NoError(t, err)
	assert.Contains(t, out, "Skipped")
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))

	_, err = execute(t, "run", "--force", "--url", srv.URL, "--state", state)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))

	out, err = execute(t, "status", "--url", srv.URL, "--state", state)
	require.NoError(t, err)
	assert.Contains(t, out, "Due now:   false")
}

func TestRun_FailureDoesNotPersist(t *testing.T) {
	srv, calls := recorder(t, http.StatusInternalServerError, `{"error":"db down"}`)
	state := filepath.Join(t.TempDir(), "state.db")

	_, err := execute(t, "run", "--url", srv.URL, "--state", state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")

	out, err := execute(t, "status", "--url", srv.URL, "--state", state)
	require.NoError(t, err)
	assert.Contains(t, out, "Last sent: never")
	assert.Contains(t, out, "Due now:   true")
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestRun_InvalidStateDriver(t *testing.T) {
	_, err := execute(t, "run", "--state-driver", "etcd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KEEPALIVE_STATE_DRIVER")
}
