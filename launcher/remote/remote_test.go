package remote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	l := New(Config{Host: "submit.example.org"})
	assert.Equal(t, 22, l.cfg.Port)
	assert.Equal(t, 30*time.Second, l.cfg.Timeout)
	assert.Equal(t, "/tmp/campaign-manager", l.cfg.RemoteDir)
}

func TestNewPreservesExplicitConfig(t *testing.T) {
	l := New(Config{Host: "submit.example.org", Port: 2222, Timeout: 5 * time.Second, RemoteDir: "/opt/cm"})
	assert.Equal(t, 2222, l.cfg.Port)
	assert.Equal(t, 5*time.Second, l.cfg.Timeout)
	assert.Equal(t, "/opt/cm", l.cfg.RemoteDir)
}

func TestParseJobIDTakesLastLine(t *testing.T) {
	assert.Equal(t, "12345.0", parseJobID("Submitting job(s).\n1 job(s) submitted to cluster 12345.\n12345.0\n"))
	assert.Equal(t, "42", parseJobID("42"))
	assert.Equal(t, "", parseJobID("   \n\n"))
}

func TestBuildSSHConfigRequiresAuthMethod(t *testing.T) {
	_, err := buildSSHConfig(Config{Host: "submit.example.org", User: "cm"})
	require.Error(t, err)
}

func TestBuildSSHConfigPasswordAuth(t *testing.T) {
	cfg, err := buildSSHConfig(Config{Host: "submit.example.org", User: "cm", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "cm", cfg.User)
	assert.Len(t, cfg.Auth, 1)
}

func TestCheckUnknownSubmitID(t *testing.T) {
	l := New(Config{Host: "submit.example.org", User: "cm", Password: "secret"})
	_, err := l.Check(context.Background(), "bogus")
	require.Error(t, err)
}

func TestCancelUnknownSubmitID(t *testing.T) {
	l := New(Config{Host: "submit.example.org", User: "cm", Password: "secret"})
	_, err := l.Cancel(context.Background(), "bogus")
	require.Error(t, err)
}
