package backup

import (
	"bytes"
	"context"
	"os"
	"path"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLocalRuns(t *testing.T) {
	cfg := testConfig(t)
	b := testBackuper(cfg, newFakeDB(), &fakeRefresher{})
	now := time.Now().UTC()

	older := seedRun(t, cfg, now.Add(-2*time.Hour), true)
	newer := seedRun(t, cfg, now.Add(-1*time.Hour), true)
	broken := seedRun(t, cfg, now.Add(-30*time.Minute), false)
	require.NoError(t, os.Mkdir(path.Join(cfg.General.StorageRoot, "lost+found"), 0750))

	runs, err := b.GetLocalRuns()
	require.NoError(t, err)
	require.Len(t, runs, 3, "non-run directories ignored")
	assert.Equal(t, []string{older, newer, broken}, runIDs(runs), "chronological order")
	assert.True(t, runs[0].HasSummary)
	assert.False(t, runs[2].HasSummary)
	assert.Equal(t, 1, runs[0].Summary.Attempted)
}

func TestGetLocalRunsMissingStorageRoot(t *testing.T) {
	cfg := testConfig(t)
	cfg.General.StorageRoot = path.Join(cfg.General.StorageRoot, "never-created")
	b := testBackuper(cfg, newFakeDB(), &fakeRefresher{})
	runs, err := b.GetLocalRuns()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestResolveRunID(t *testing.T) {
	cfg := testConfig(t)
	b := testBackuper(cfg, newFakeDB(), &fakeRefresher{})
	now := time.Now().UTC()
	seedRun(t, cfg, now.Add(-2*time.Hour), true)
	newest := seedRun(t, cfg, now.Add(-1*time.Hour), true)
	seedRun(t, cfg, now.Add(-30*time.Minute), false)

	t.Run("latest skips unsummarized runs", func(t *testing.T) {
		runID, err := b.ResolveRunID("latest")
		require.NoError(t, err)
		assert.Equal(t, newest, runID)
	})
	t.Run("explicit id passes through", func(t *testing.T) {
		runID, err := b.ResolveRunID("2026-01-01T00-00-00")
		require.NoError(t, err)
		assert.Equal(t, "2026-01-01T00-00-00", runID)
	})
}

func TestResolveRunIDNoRuns(t *testing.T) {
	cfg := testConfig(t)
	b := testBackuper(cfg, newFakeDB(), &fakeRefresher{})
	_, err := b.ResolveRunID("latest")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestPrintRuns(t *testing.T) {
	cfg := testConfig(t)
	b := testBackuper(cfg, newFakeDB(), &fakeRefresher{})
	seedTenant(t, cfg, "a.example.com", true)
	summary, err := b.CreateBackup(context.Background(), ScopeAll, nil)
	require.NoError(t, err)

	t.Run("all runs", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, b.PrintRuns(&out, ""))
		assert.Contains(t, out.String(), summary.RunID)
		assert.Contains(t, out.String(), "RUN")
	})
	t.Run("tenant filter", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, b.PrintRuns(&out, "a.example.com"))
		assert.Contains(t, out.String(), summary.RunID)
		assert.Contains(t, out.String(), "database,files,config")
	})
	t.Run("tenant without backups", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, b.PrintRuns(&out, "other.example.com"))
		assert.NotContains(t, out.String(), summary.RunID)
	})
}

func TestPrintTenants(t *testing.T) {
	cfg := testConfig(t)
	b := testBackuper(cfg, newFakeDB(), &fakeRefresher{})
	seedTenant(t, cfg, "a.example.com", true)
	seedTenant(t, cfg, "b.example.com", false)

	var out bytes.Buffer
	require.NoError(t, b.PrintTenants(&out))
	assert.Contains(t, out.String(), "a.example.com")
	assert.Contains(t, out.String(), "site_b_example_com")
}
