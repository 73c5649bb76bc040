//go:build unix

package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/btdebug/internal/instance"
	"github.com/roach88/btdebug/internal/server"
)

// shortDir keeps unix socket paths under the sun_path limit.
func shortDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "btcli")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestFlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	out, _, err := execute(t, nil, "--runtime-dir", dir, "--instance", "flagged", "--format", "json", "status")
	require.NoError(t, err)

	var status StatusResult
	decodeOK(t, out, &status)
	assert.Equal(t, "flagged", status.Instance)
	assert.Equal(t, dir, status.RuntimeDir)
}

func TestStatusCommand(t *testing.T) {
	dir := t.TempDir()

	out, _, err := execute(t, nil, "--runtime-dir", dir, "--instance", "main", "status")
	require.NoError(t, err)
	assert.Equal(t, "instance \"main\": not running\n", out)

	lock := instance.NewLock(dir, "main")
	ok, err := lock.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)
	defer lock.Dispose()

	out, _, err = execute(t, nil, "--runtime-dir", dir, "--instance", "main", "--format", "json", "status")
	require.NoError(t, err)
	var status StatusResult
	decodeOK(t, out, &status)
	assert.True(t, status.Running)
	assert.Equal(t, os.Getpid(), status.PID)
	assert.Equal(t, instance.LockPath(dir, "main"), status.LockPath)
}

func TestShutdownCommand_NoServer(t *testing.T) {
	dir := t.TempDir()

	out, _, err := execute(t, nil, "--runtime-dir", dir, "shutdown")
	require.NoError(t, err)
	assert.Equal(t, "no server running\n", out)

	out, _, err = execute(t, nil, "--runtime-dir", dir, "--shutdown")
	require.NoError(t, err)
	assert.Equal(t, "no server running\n", out)
}

func TestEnsureCommand_AlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	lock := instance.NewLock(dir, "main")
	ok, err := lock.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)
	defer lock.Dispose()

	out, _, err := execute(t, nil, "--runtime-dir", dir, "--instance", "main",
		"--database", filepath.Join(t.TempDir(), "events.db"), "--format", "json", "ensure")
	require.NoError(t, err)

	var res EnsureResult
	decodeOK(t, out, &res)
	assert.False(t, res.Spawned)
}

func TestServeCommand_AnswersUntilStdinCloses(t *testing.T) {
	db := seededDatabase(t, "run-s")
	dir := shortDir(t)
	stdin := strings.NewReader(`{"id":1,"method":"ping"}
{"id":2,"method":"list_runs"}
not json
`)

	out, errOut, err := execute(t, stdin, "--database", db, "--runtime-dir", dir, "--instance", "srv", "serve")
	require.NoError(t, err, errOut)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `{"id":1,"status":"ok","data":{"pong":true`)
	assert.Contains(t, lines[1], `"id":"run-s"`)
	assert.Contains(t, lines[2], `"status":"error"`)
	assert.Contains(t, lines[2], `"code":"InvalidArgument"`)
	assert.Contains(t, errOut, "server running")

	assert.NoFileExists(t, instance.SocketPath(dir, "srv"), "socket removed on stop")
}

func TestServeCommand_AlreadyRunning(t *testing.T) {
	dir := shortDir(t)
	lock := instance.NewLock(dir, "srv")
	ok, err := lock.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)
	defer lock.Dispose()

	out, errOut, err := execute(t, strings.NewReader(""),
		"--database", filepath.Join(t.TempDir(), "events.db"), "--runtime-dir", dir, "--instance", "srv", "serve")
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, GetExitCode(err))
	assert.Empty(t, out)
	assert.Contains(t, errOut, "already running")
}

func TestServeCommand_RequiresDatabase(t *testing.T) {
	_, _, err := execute(t, strings.NewReader(""), "--runtime-dir", shortDir(t), "serve")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestServeCommand_StartupFailure(t *testing.T) {
	// A directory cannot be opened as a database.
	_, _, err := execute(t, strings.NewReader(""),
		"--database", t.TempDir(), "--runtime-dir", shortDir(t), "--instance", "srv", "serve")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to start server")
}

func TestShutdownCommand_StopsServer(t *testing.T) {
	db := seededDatabase(t, "run-s")
	dir := shortDir(t)

	m := server.NewManager(server.Options{DatabasePath: db, RuntimeDir: dir, InstanceName: "srv"})
	require.NoError(t, m.Start(context.Background()))
	done := make(chan error, 1)
	go func() {
		done <- m.Run(context.Background(), func(context.Context) error { return nil }, true)
	}()

	out, _, err := execute(t, nil, "--runtime-dir", dir, "--instance", "srv", "shutdown")
	require.NoError(t, err)
	assert.Equal(t, "server stopped\n", out)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestShutdownCommand_TimesOut(t *testing.T) {
	dir := shortDir(t)
	lock := instance.NewLock(dir, "srv")
	ok, err := lock.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)
	defer lock.Dispose()

	env := map[string]string{"BTDEBUG_SHUTDOWN_TIMEOUT": "100ms"}
	cmd := newRootCommand(&RootOptions{Getenv: func(k string) string { return env[k] }})
	cmd.SetOut(&strings.Builder{})
	cmd.SetErr(&strings.Builder{})
	cmd.SetArgs([]string{"--runtime-dir", dir, "--instance", "srv", "shutdown"})

	err = cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "timed out")
}
