package shell

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cm.lsst.io/node"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func waitUntilDone(t *testing.T, l *Launcher, submitID string) *node.LaunchStatus {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		status, err := l.Check(context.Background(), submitID)
		require.NoError(t, err)
		if !status.Running {
			return status
		}
		if time.Now().After(deadline) {
			t.Fatalf("script did not finish before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubmitSuccess(t *testing.T) {
	l := New()
	scriptPath := writeScript(t, "#!/bin/sh\nexit 0\n")

	submitID, err := l.Submit(context.Background(), scriptPath, nil)
	require.NoError(t, err)

	status := waitUntilDone(t, l, submitID)
	assert.True(t, status.Success)
}

func TestSubmitFailure(t *testing.T) {
	l := New()
	scriptPath := writeScript(t, "#!/bin/sh\nexit 1\n")

	submitID, err := l.Submit(context.Background(), scriptPath, nil)
	require.NoError(t, err)

	status := waitUntilDone(t, l, submitID)
	assert.False(t, status.Success)
	assert.NotEmpty(t, status.Reason)
}

func TestCheckUnknownSubmitID(t *testing.T) {
	l := New()
	_, err := l.Check(context.Background(), "bogus")
	assert.Error(t, err)
}

func TestCancelRunningProcess(t *testing.T) {
	l := New()
	scriptPath := writeScript(t, "#!/bin/sh\nsleep 5\n")

	submitID, err := l.Submit(context.Background(), scriptPath, nil)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	killed, err := l.Cancel(context.Background(), submitID)
	require.NoError(t, err)
	assert.True(t, killed)
}
