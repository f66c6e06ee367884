package backup

import (
	"path"
	"time"

	"github.com/hostvault/sitebak/pkg/config"
	"github.com/hostvault/sitebak/pkg/database"
	"github.com/hostvault/sitebak/pkg/notify"
	"github.com/hostvault/sitebak/pkg/refresh"
	"github.com/hostvault/sitebak/pkg/tenant"
)

// RunTimeFormat names run directories. UTC, filesystem safe, sorts
// chronologically as plain strings.
const RunTimeFormat = "2006-01-02T15-04-05"

// Backuper drives backup runs, retention and restore against one storage
// root.
type Backuper struct {
	cfg       *config.Config
	db        database.Client
	notifier  notify.Notifier
	refresher refresh.Refresher

	// Version is recorded in manifests, best effort.
	Version string
}

func NewBackuper(cfg *config.Config) *Backuper {
	return &Backuper{
		cfg:       cfg,
		db:        database.NewMySQL(cfg.MySQL),
		notifier:  notify.New(cfg.Notify),
		refresher: refresh.NewExec(cfg.Refresh),
	}
}

func NewRunID() string {
	return time.Now().UTC().Format(RunTimeFormat)
}

func (b *Backuper) runPath(runID string) string {
	return path.Join(b.cfg.General.StorageRoot, runID)
}

func (b *Backuper) tenantPath(runID, domain string) string {
	return path.Join(b.cfg.General.StorageRoot, runID, domain)
}

func (b *Backuper) discoverTenants() ([]tenant.Tenant, error) {
	return tenant.Discover(
		b.cfg.General.TenantsRoot,
		b.cfg.General.WebrootDirName,
		b.cfg.General.ConfigDirName,
		b.cfg.MySQL.DatabasePrefix,
	)
}

func (b *Backuper) lookupTenant(domain string) (tenant.Tenant, error) {
	t, err := tenant.Lookup(
		domain,
		b.cfg.General.TenantsRoot,
		b.cfg.General.WebrootDirName,
		b.cfg.General.ConfigDirName,
		b.cfg.MySQL.DatabasePrefix,
	)
	if err != nil {
		return tenant.Tenant{}, ErrTenantNotFound
	}
	return t, nil
}
