package docker

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cm.lsst.io/common"
)

func TestSubmitStartsContainer(t *testing.T) {
	client := common.NewMockDockerClient()
	l := New(client, "campaign-runner:latest")

	submitID, err := l.Submit(context.Background(), "/work/run.sh", map[string]string{"FOO": "bar"})
	require.NoError(t, err)
	assert.NotEmpty(t, submitID)
	assert.True(t, client.ContainerCreateCalled)
	assert.True(t, client.ContainerStartCalled)
}

func TestCheckReportsSuccessOnZeroExit(t *testing.T) {
	client := common.NewMockDockerClient()
	l := New(client, "campaign-runner:latest")

	submitID, err := l.Submit(context.Background(), "/work/run.sh", nil)
	require.NoError(t, err)

	status, err := l.Check(context.Background(), submitID)
	require.NoError(t, err)
	assert.True(t, status.Success)
	assert.False(t, status.Running)
}

func TestCheckReportsErrorFromDaemon(t *testing.T) {
	client := common.NewMockDockerClient()
	client.Err = fmt.Errorf("daemon unreachable")
	l := New(client, "campaign-runner:latest")

	// Submit also uses client.Err for ContainerCreate, so clear it for the
	// Submit call and inject the error again only for the Check call under
	// test.
	client.Err = nil
	submitID, err := l.Submit(context.Background(), "/work/run.sh", nil)
	require.NoError(t, err)

	client.Err = fmt.Errorf("daemon unreachable")
	_, err = l.Check(context.Background(), submitID)
	assert.Error(t, err)
}

func TestCheckUnknownSubmitID(t *testing.T) {
	client := common.NewMockDockerClient()
	l := New(client, "campaign-runner:latest")

	_, err := l.Check(context.Background(), "bogus")
	assert.Error(t, err)
}

func TestCancelStopsContainer(t *testing.T) {
	client := common.NewMockDockerClient()
	l := New(client, "campaign-runner:latest")

	submitID, err := l.Submit(context.Background(), "/work/run.sh", nil)
	require.NoError(t, err)

	ok, err := l.Cancel(context.Background(), submitID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, client.ContainerStopCalled)
}
