package workers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadJanitor_RemovesOnlyStaleUploads(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, age time.Duration) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o600))
		mod := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(path, mod, mod))
		return path
	}

	stale := write("financial_document_old.pdf", 2*time.Hour)
	fresh := write("financial_document_new.pdf", time.Minute)
	sample := write("sample.pdf", 48*time.Hour)

	j := NewUploadJanitor(dir, time.Hour, time.Minute)
	require.True(t, j.Enabled())
	require.NoError(t, j.Run(context.Background()))

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, sample)
}

func TestUploadJanitor_DisabledWithoutDir(t *testing.T) {
	assert.False(t, NewUploadJanitor("", time.Hour, time.Minute).Enabled())
	assert.False(t, NewUploadJanitor("data", 0, time.Minute).Enabled())
}
