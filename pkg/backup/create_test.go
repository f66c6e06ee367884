package backup

import (
	"context"
	"fmt"
	"os"
	"path"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostvault/sitebak/pkg/manifest"
	"github.com/hostvault/sitebak/pkg/tenant"
)

func TestCreateBackupAllTenants(t *testing.T) {
	cfg := testConfig(t)
	db := newFakeDB()
	b := testBackuper(cfg, db, &fakeRefresher{})
	domains := []string{"a.example.com", "b.example.com", "c.example.com"}
	for _, d := range domains {
		seedTenant(t, cfg, d, true)
	}

	summary, err := b.CreateBackup(context.Background(), ScopeAll, nil)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 3, summary.Attempted)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Greater(t, summary.TotalSize, uint64(0))

	runDir := path.Join(cfg.General.StorageRoot, summary.RunID)
	_, err = os.Stat(path.Join(runDir, manifest.SummaryFileName))
	require.NoError(t, err, "summary marks the run complete")

	for _, d := range domains {
		m, err := manifest.Load(path.Join(runDir, d))
		require.NoError(t, err, d)
		assert.True(t, m.Database)
		assert.True(t, m.Files)
		assert.True(t, m.Config)
		assert.Equal(t, "test", m.SitebakVersion)
		assert.Equal(t, "8.0.0-fake", m.MySQLVersion)
		for _, kind := range manifest.AllKinds {
			_, err := os.Stat(path.Join(runDir, d, kind.FileName()))
			require.NoError(t, err)
		}
	}
}

func TestCreateBackupPartialFailureIsolation(t *testing.T) {
	cfg := testConfig(t)
	db := newFakeDB()
	b := testBackuper(cfg, db, &fakeRefresher{})
	var domains []string
	for i := 1; i <= 5; i++ {
		d := fmt.Sprintf("site%d.example.com", i)
		domains = append(domains, d)
		seedTenant(t, cfg, d, true)
	}
	// tenant 3 loses its file tree between discovery and export
	require.NoError(t, os.RemoveAll(path.Join(cfg.General.TenantsRoot, "site3.example.com", cfg.General.WebrootDirName)))

	summary, err := b.CreateBackup(context.Background(), ScopeAll, nil)
	require.Error(t, err, "failed tenants surface in the exit status")
	require.NotNil(t, summary)
	assert.Equal(t, 5, summary.Attempted)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	runDir := path.Join(cfg.General.StorageRoot, summary.RunID)
	for _, d := range domains {
		m, merr := manifest.Load(path.Join(runDir, d))
		require.NoError(t, merr, "database and config still made it for %s", d)
		if d == "site3.example.com" {
			assert.False(t, m.Files, "missing source never flagged present")
			assert.True(t, m.Database)
		} else {
			assert.True(t, m.Files)
		}
	}
	for _, r := range summary.Tenants {
		if r.Tenant == "site3.example.com" {
			assert.False(t, r.Success)
			assert.Contains(t, r.Error, ErrSourceUnavailable.Error())
		} else {
			assert.True(t, r.Success, r.Tenant)
		}
	}
}

func TestCreateBackupSingleTenant(t *testing.T) {
	cfg := testConfig(t)
	b := testBackuper(cfg, newFakeDB(), &fakeRefresher{})
	seedTenant(t, cfg, "a.example.com", true)
	seedTenant(t, cfg, "b.example.com", true)

	summary, err := b.CreateBackup(context.Background(), "a.example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Attempted)
	assert.Equal(t, "a.example.com", summary.Scope)

	runDir := path.Join(cfg.General.StorageRoot, summary.RunID)
	_, err = os.Stat(path.Join(runDir, "b.example.com"))
	assert.True(t, os.IsNotExist(err), "other tenants untouched")
}

func TestCreateBackupUnknownTenant(t *testing.T) {
	cfg := testConfig(t)
	b := testBackuper(cfg, newFakeDB(), &fakeRefresher{})
	_, err := b.CreateBackup(context.Background(), "missing.example.com", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTenantNotFound))
}

func TestCreateBackupDatabaseOnly(t *testing.T) {
	cfg := testConfig(t)
	b := testBackuper(cfg, newFakeDB(), &fakeRefresher{})
	seedTenant(t, cfg, "a.example.com", true)

	summary, err := b.CreateBackup(context.Background(), "a.example.com", []manifest.ArtifactKind{manifest.KindDatabase})
	require.NoError(t, err)

	tenantDir := path.Join(cfg.General.StorageRoot, summary.RunID, "a.example.com")
	m, err := manifest.Load(tenantDir)
	require.NoError(t, err)
	assert.True(t, m.Database)
	assert.False(t, m.Files)
	_, err = os.Stat(path.Join(tenantDir, manifest.KindFiles.FileName()))
	assert.True(t, os.IsNotExist(err))
}

func TestCreateBackupDumpFailure(t *testing.T) {
	cfg := testConfig(t)
	db := newFakeDB()
	db.failDump[tenant.DatabaseName(cfg.MySQL.DatabasePrefix, "a.example.com")] = true
	b := testBackuper(cfg, db, &fakeRefresher{})
	seedTenant(t, cfg, "a.example.com", true)

	summary, err := b.CreateBackup(context.Background(), "a.example.com", nil)
	require.Error(t, err)
	assert.Equal(t, 1, summary.Failed)

	m, merr := manifest.Load(path.Join(cfg.General.StorageRoot, summary.RunID, "a.example.com"))
	require.NoError(t, merr, "file artifacts still produce a manifest")
	assert.False(t, m.Database)
	assert.True(t, m.Files)
}

func TestBackupTenantMissingConfigDir(t *testing.T) {
	cfg := testConfig(t)
	b := testBackuper(cfg, newFakeDB(), &fakeRefresher{})
	seedTenant(t, cfg, "a.example.com", false)

	summary, err := b.CreateBackup(context.Background(), "a.example.com", nil)
	require.NoError(t, err, "missing config dir is a soft condition")

	tenantDir := path.Join(cfg.General.StorageRoot, summary.RunID, "a.example.com")
	m, merr := manifest.Load(tenantDir)
	require.NoError(t, merr)
	assert.False(t, m.Config, "empty artifact never flagged present")
	info, serr := os.Stat(path.Join(tenantDir, manifest.KindConfig.FileName()))
	require.NoError(t, serr)
	assert.Equal(t, int64(0), info.Size(), "zero-byte placeholder kept")

	entries, rerr := os.ReadDir(tenantDir)
	require.NoError(t, rerr)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".part", "placeholder written via temp name + rename")
	}
}

func TestBackupTenantExpiredTimeout(t *testing.T) {
	cfg := testConfig(t)
	b := testBackuper(cfg, newFakeDB(), &fakeRefresher{})
	seedTenant(t, cfg, "a.example.com", true)
	tn, err := b.lookupTenant("a.example.com")
	require.NoError(t, err)

	runID := NewRunID()
	require.NoError(t, os.MkdirAll(b.runPath(runID), 0750))
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	result := b.BackupTenant(ctx, tn, runID, []manifest.ArtifactKind{manifest.KindFiles})
	assert.False(t, result.Success, "expired tenant deadline marks the tenant failed")
	assert.Contains(t, result.Error, ErrTimeout.Error())
	_, statErr := os.Stat(path.Join(b.tenantPath(runID, "a.example.com"), manifest.KindFiles.FileName()))
	assert.True(t, os.IsNotExist(statErr), "no artifact written after the deadline")
}

func TestCreateBackupStorageRootFatal(t *testing.T) {
	cfg := testConfig(t)
	blocker := path.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0640))
	cfg.General.StorageRoot = path.Join(blocker, "nested")
	b := testBackuper(cfg, newFakeDB(), &fakeRefresher{})
	seedTenant(t, cfg, "a.example.com", true)

	_, err := b.CreateBackup(context.Background(), ScopeAll, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorageRoot))
}

func TestCreateBackupCancelledContext(t *testing.T) {
	cfg := testConfig(t)
	b := testBackuper(cfg, newFakeDB(), &fakeRefresher{})
	seedTenant(t, cfg, "a.example.com", true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := b.CreateBackup(ctx, ScopeAll, nil)
	require.Error(t, err, "no unit launched after cancellation")
	require.NotNil(t, summary)
	assert.Equal(t, 0, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
}
