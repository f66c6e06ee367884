package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hostvault/sitebak/pkg/config"
	"github.com/hostvault/sitebak/pkg/notify"
)

// fakeDB implements database.Client without a server. Dumps are
// deterministic per database so restores can be checked byte for byte.
type fakeDB struct {
	mu       sync.Mutex
	failDump map[string]bool
	restored map[string]string
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		failDump: map[string]bool{},
		restored: map[string]string{},
	}
}

func dumpBody(database string) string {
	return fmt.Sprintf("-- consistent dump of %s\nCREATE TABLE t (id INT);\n", database)
}

func (f *fakeDB) Dump(_ context.Context, database string, w io.Writer) error {
	f.mu.Lock()
	fail := f.failDump[database]
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("mysqldump: exit status 2: Access denied")
	}
	_, err := io.WriteString(w, dumpBody(database))
	return err
}

func (f *fakeDB) Restore(_ context.Context, database string, r io.Reader) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.restored[database] = string(body)
	f.mu.Unlock()
	return nil
}

func (f *fakeDB) Version(context.Context) string {
	return "8.0.0-fake"
}

type fakeRefresher struct {
	mu             sync.Mutex
	purgedDomains  []string
	routingReloads int
}

func (f *fakeRefresher) InvalidateTenantCache(_ context.Context, domain string) {
	f.mu.Lock()
	f.purgedDomains = append(f.purgedDomains, domain)
	f.mu.Unlock()
}

func (f *fakeRefresher) ReloadRouting(context.Context) {
	f.mu.Lock()
	f.routingReloads++
	f.mu.Unlock()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.General.StorageRoot = t.TempDir()
	cfg.General.TenantsRoot = t.TempDir()
	cfg.General.Concurrency = 2
	require.NoError(t, config.ValidateConfig(cfg))
	return cfg
}

func testBackuper(cfg *config.Config, db *fakeDB, refresher *fakeRefresher) *Backuper {
	return &Backuper{
		cfg:       cfg,
		db:        db,
		notifier:  notify.Noop{},
		refresher: refresher,
		Version:   "test",
	}
}

// seedTenant provisions a tenant directory with a small site tree.
func seedTenant(t *testing.T, cfg *config.Config, domain string, withConfig bool) {
	t.Helper()
	webroot := path.Join(cfg.General.TenantsRoot, domain, cfg.General.WebrootDirName)
	require.NoError(t, os.MkdirAll(webroot, 0750))
	require.NoError(t, os.WriteFile(path.Join(webroot, "index.php"), []byte("<?php // "+domain), 0640))
	require.NoError(t, os.MkdirAll(path.Join(webroot, "uploads"), 0750))
	require.NoError(t, os.WriteFile(path.Join(webroot, "uploads", "logo.png"), []byte("png-bytes"), 0640))
	if withConfig {
		confDir := path.Join(cfg.General.TenantsRoot, domain, cfg.General.ConfigDirName)
		require.NoError(t, os.MkdirAll(confDir, 0750))
		require.NoError(t, os.WriteFile(path.Join(confDir, "site.yml"), []byte("domain: "+domain), 0640))
	}
}
