package artifacts

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cm.lsst.io/storage"
)

func TestLocalStoreCreateWriteExistsRemove(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewLocalStore(root)

	require.NoError(t, store.CreateDir(ctx, "/campaign-1/group-a"))
	exists, err := store.Exists(ctx, "/campaign-1/group-a")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.WriteFile(ctx, "/campaign-1/group-a/run.sh", []byte("#!/bin/sh\n")))
	exists, err = store.Exists(ctx, "/campaign-1/group-a/run.sh")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "/campaign-1/group-a/missing")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.RemoveDir(ctx, "/campaign-1/group-a"))
	exists, err = store.Exists(ctx, "/campaign-1/group-a")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStoreResolveRejectsEscape(t *testing.T) {
	root := t.TempDir()
	store := NewLocalStore(root)

	resolved := store.resolve("../../etc/passwd")
	assert.True(t, strings.HasPrefix(resolved, root))
	assert.Equal(t, filepath.Join(root, "etc/passwd"), resolved)
}

func TestS3StoreCreateWriteExistsRemove(t *testing.T) {
	ctx := context.Background()
	mock := storage.NewMockS3Client()
	mock.Buckets["campaigns"] = true

	s := &S3Store{client: mock, bucket: "campaigns", prefix: "artifacts"}

	require.NoError(t, s.CreateDir(ctx, "/campaign-1/group-a"))
	exists, err := s.Exists(ctx, "/campaign-1/group-a")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.WriteFile(ctx, "/campaign-1/group-a/run.sh", []byte("#!/bin/sh\n")))
	exists, err = s.Exists(ctx, "/campaign-1/group-a/run.sh")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.Exists(ctx, "/campaign-1/group-a/missing")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.RemoveDir(ctx, "/campaign-1/group-a"))
}

func TestS3StoreKeyPrefixing(t *testing.T) {
	s := &S3Store{prefix: "artifacts"}
	assert.Equal(t, "artifacts/campaign-1/run.sh", s.key("/campaign-1/run.sh"))

	s2 := &S3Store{}
	assert.Equal(t, "campaign-1/run.sh", s2.key("campaign-1/run.sh"))
}
