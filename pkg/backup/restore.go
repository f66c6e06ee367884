package backup

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/klauspost/compress/gzip"
	cp "github.com/otiai10/copy"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/hostvault/sitebak/pkg/archive"
	"github.com/hostvault/sitebak/pkg/manifest"
	"github.com/hostvault/sitebak/pkg/notify"
	"github.com/hostvault/sitebak/pkg/pidlock"
	"github.com/hostvault/sitebak/pkg/tenant"
	"github.com/hostvault/sitebak/pkg/utils"
)

// RestoreState names the step a restore is in. Failures report the exact
// state; there is no rollback of completed states.
type RestoreState string

const (
	StateLocate            RestoreState = "locate"
	StateValidate          RestoreState = "validate"
	StateImportDatabase    RestoreState = "import_database"
	StateExtractFiles      RestoreState = "extract_files"
	StateRestoreConfig     RestoreState = "restore_config"
	StateRefreshDependents RestoreState = "refresh_dependents"
	StateDone              RestoreState = "done"
)

// RestoreError carries the state a restore failed in.
type RestoreError struct {
	State RestoreState
	Err   error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore failed in state %s: %v", e.State, e.Err)
}

func (e *RestoreError) Unwrap() error {
	return e.Err
}

func failed(state RestoreState, err error) *RestoreError {
	return &RestoreError{State: state, Err: err}
}

// Restore brings one tenant back to the state captured in runID. Steps run
// in order Locate, Validate, ImportDatabase, ExtractFiles, RestoreConfig,
// RefreshDependents; the first failure stops the restore. Without force the
// restore stops after Validate and reports what would change. The tenant
// pidlock is held for the duration, so a concurrent backup of the same
// tenant waits.
func (b *Backuper) Restore(ctx context.Context, domain, runID string, force bool) error {
	t, err := b.lookupTenant(domain)
	if err != nil {
		return failed(StateLocate, err)
	}
	if runID, err = b.ResolveRunID(runID); err != nil {
		return failed(StateLocate, err)
	}
	if err := pidlock.CheckAndCreatePidFile(t.Domain, "restore"); err != nil {
		return failed(StateLocate, err)
	}
	defer pidlock.RemovePidFile(t.Domain)

	tenantDir := b.tenantPath(runID, domain)
	m, err := manifest.Load(tenantDir)
	if err != nil {
		return failed(StateLocate, errors.Wrapf(ErrRunNotFound, "no backup of %s in run %s", domain, runID))
	}
	startTime := time.Now()
	log.Info().Str("tenant", domain).Str("run", runID).Bool("force", force).Msg("restore started")

	for _, kind := range manifest.AllKinds {
		if !m.Has(kind) {
			continue
		}
		if status := archive.Verify(path.Join(tenantDir, kind.FileName()), kind.IsTar()); status != archive.Valid {
			return failed(StateValidate, errors.Wrapf(ErrArtifactCorrupt, "%s verified %s", kind.FileName(), status))
		}
	}
	if !m.Database && !m.Files {
		return failed(StateValidate, fmt.Errorf("manifest holds no restorable artifact"))
	}
	if !force {
		log.Info().Str("tenant", domain).Str("run", runID).
			Bool("database", m.Database).Bool("files", m.Files).Bool("config", m.Config).
			Str("size", utils.FormatBytes(m.DataSize)).
			Msg("pre-flight check passed, rerun with --force to overwrite the live site")
		return nil
	}

	if m.Database {
		if err := b.importDatabase(ctx, t, tenantDir); err != nil {
			return b.restoreFailed(ctx, domain, runID, failed(StateImportDatabase, classify(err)))
		}
	}
	if m.Files {
		if err := b.extractFiles(ctx, t, tenantDir); err != nil {
			return b.restoreFailed(ctx, domain, runID, failed(StateExtractFiles, classify(err)))
		}
	}
	if m.Config {
		if err := b.restoreConfig(ctx, t, tenantDir); err != nil {
			return b.restoreFailed(ctx, domain, runID, failed(StateRestoreConfig, classify(err)))
		}
	} else {
		log.Warn().Str("tenant", domain).Msg("run carries no config artifact, config left as is")
	}

	b.refresher.InvalidateTenantCache(ctx, domain)
	b.refresher.ReloadRouting(ctx)

	log.Info().
		Str("tenant", domain).
		Str("run", runID).
		Str("duration", utils.HumanizeDuration(time.Since(startTime))).
		Msg("restore done")
	b.notifier.Notify(ctx, notify.NewEvent(notify.SeveritySuccess, fmt.Sprintf("restore of %s", domain), map[string]interface{}{
		"tenant": domain,
		"run":    runID,
	}))
	return nil
}

func (b *Backuper) restoreFailed(ctx context.Context, domain, runID string, rerr *RestoreError) error {
	b.notifier.Notify(ctx, notify.NewEvent(notify.SeverityError, fmt.Sprintf("restore of %s failed", domain), map[string]interface{}{
		"tenant": domain,
		"run":    runID,
		"state":  string(rerr.State),
		"error":  rerr.Err.Error(),
	}))
	return rerr
}

func (b *Backuper) importDatabase(ctx context.Context, t tenant.Tenant, tenantDir string) error {
	f, err := os.Open(path.Join(tenantDir, manifest.KindDatabase.FileName()))
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()
	return b.db.Restore(ctx, t.Database, gz)
}

// extractFiles unpacks into a staging directory next to the live tree and
// swaps it in, so files deleted since the backup do not survive the restore
// and a failed extraction never leaves a half-written live tree.
func (b *Backuper) extractFiles(ctx context.Context, t tenant.Tenant, tenantDir string) error {
	staging := t.RootPath + ".restore+"
	old := t.RootPath + ".old+"
	if err := os.RemoveAll(staging); err != nil {
		return err
	}
	if err := os.MkdirAll(staging, 0750); err != nil {
		return err
	}
	if err := archive.ExtractTarGz(ctx, path.Join(tenantDir, manifest.KindFiles.FileName()), staging); err != nil {
		os.RemoveAll(staging)
		return err
	}
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	if _, err := os.Stat(t.RootPath); err == nil {
		if err := os.Rename(t.RootPath, old); err != nil {
			return err
		}
	}
	if err := os.Rename(staging, t.RootPath); err != nil {
		return err
	}
	return os.RemoveAll(old)
}

// restoreConfig overlays the archived config onto the live config dir.
func (b *Backuper) restoreConfig(ctx context.Context, t tenant.Tenant, tenantDir string) error {
	staging, err := os.MkdirTemp("", "sitebak-config-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)
	if err := archive.ExtractTarGz(ctx, path.Join(tenantDir, manifest.KindConfig.FileName()), staging); err != nil {
		return err
	}
	return cp.Copy(staging, t.ConfigPath)
}
