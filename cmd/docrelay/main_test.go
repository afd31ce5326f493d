package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/docrelay/internal/catalog"
	"github.com/koustreak/docrelay/internal/pipeline"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	t.Cleanup(func() { cfgFile, logLevel = "", "" })
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "migrate", "bucket", "audit", "ls", "upload", "rm"} {
		c, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}
}

func TestBucketEnsure_Memory(t *testing.T) {
	assert.NoError(t, run(t, "bucket", "ensure", "--log-level", "error"))
}

func TestAudit_Memory(t *testing.T) {
	assert.NoError(t, run(t, "audit", "invoice", "--log-level", "error"))
}

func TestLs_RejectsUnknownType(t *testing.T) {
	assert.Error(t, run(t, "ls", "receipt"))
}

func TestMigrate_MemoryHasNoMigrations(t *testing.T) {
	assert.Error(t, run(t, "migrate", "--log-level", "error"))
}

func TestInvalidLogLevel(t *testing.T) {
	assert.Error(t, run(t, "bucket", "ensure", "--log-level", "loud"))
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  bucket: other\nlog:\n  level: error\n"), 0o600))
	assert.NoError(t, run(t, "--config", path, "bucket", "ensure"))
}

func TestUploadLsRm_InOneApp(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx)
	require.NoError(t, err)
	defer a.Close()

	path := filepath.Join(t.TempDir(), "nota.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o600))
	f, err := localFile(path)
	require.NoError(t, err)
	assert.Equal(t, "nota.pdf", f.Name)
	assert.Equal(t, "application/pdf", f.ContentType)
	assert.Equal(t, int64(4), f.Size)

	res, err := a.uploader.Upload(ctx, []pipeline.File{f}, "7", catalog.CategoryTax)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	key := res.Files[0].StorageKey

	p, err := a.catalog.List(ctx, catalog.Scope{OwnerID: "7", Category: catalog.CategoryTax}, 0, false)
	require.NoError(t, err)
	require.Len(t, p.Entries, 1)

	require.NoError(t, removeAll(ctx, a.deleter, []string{key}))
	assert.Error(t, removeAll(ctx, a.deleter, []string{""}))
}

func TestLocalFile_Directory(t *testing.T) {
	_, err := localFile(t.TempDir())
	assert.Error(t, err)

	_, err = localFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
