package backup

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hostvault/sitebak/pkg/archive"
	"github.com/hostvault/sitebak/pkg/manifest"
	"github.com/hostvault/sitebak/pkg/notify"
	"github.com/hostvault/sitebak/pkg/pidlock"
	"github.com/hostvault/sitebak/pkg/tenant"
	"github.com/hostvault/sitebak/pkg/utils"
)

// ScopeAll backs up every discovered tenant.
const ScopeAll = "all"

// CreateBackup runs one backup. scope is ScopeAll or a single tenant domain.
// kinds selects the artifacts, nil meaning a full backup. Tenants are
// processed by a bounded pool; one tenant's failure never stops siblings.
// Retention runs only after an all-tenants run. The returned error is
// non-nil when the run directory could not be created or any tenant failed.
func (b *Backuper) CreateBackup(ctx context.Context, scope string, kinds []manifest.ArtifactKind) (*manifest.Summary, error) {
	if len(kinds) == 0 {
		kinds = manifest.AllKinds
	}
	var tenants []tenant.Tenant
	var err error
	if scope == ScopeAll {
		tenants, err = b.discoverTenants()
	} else {
		var t tenant.Tenant
		if t, err = b.lookupTenant(scope); err == nil {
			tenants = []tenant.Tenant{t}
		}
	}
	if err != nil {
		return nil, err
	}

	runID := NewRunID()
	runDir := b.runPath(runID)
	if err := os.MkdirAll(runDir, 0750); err != nil {
		return nil, errors.Wrapf(ErrStorageRoot, "%s: %v", runDir, err)
	}
	startTime := time.Now()
	log.Info().Str("run", runID).Str("scope", scope).Int("tenants", len(tenants)).Msg("backup run started")

	results := make([]manifest.TenantResult, len(tenants))
	g := errgroup.Group{}
	g.SetLimit(b.cfg.General.Concurrency)
	for i, t := range tenants {
		if ctx.Err() != nil {
			// cancellation stops launching new units, in-flight ones finish
			results[i] = manifest.TenantResult{Tenant: t.Domain, Error: ctx.Err().Error()}
			continue
		}
		i, t := i, t
		g.Go(func() error {
			tenantCtx, cancel := context.WithTimeout(ctx, b.cfg.General.TenantTimeoutDuration)
			results[i] = b.BackupTenant(tenantCtx, t, runID, kinds)
			cancel()
			return nil
		})
	}
	_ = g.Wait()

	summary := &manifest.Summary{
		RunID:        runID,
		CreationDate: time.Now().UTC(),
		Scope:        scope,
		Attempted:    len(tenants),
		Tenants:      results,
	}
	for _, r := range results {
		summary.TotalSize += r.Size
		if r.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	if err := summary.Save(runDir); err != nil {
		return summary, fmt.Errorf("can't write run summary: %v", err)
	}
	log.Info().
		Str("run", runID).
		Str("duration", utils.HumanizeDuration(time.Since(startTime))).
		Str("size", utils.FormatBytes(summary.TotalSize)).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Msg("backup run done")

	if scope == ScopeAll {
		if _, err := b.ApplyRetention(ctx, false); err != nil {
			log.Warn().Msgf("retention after run %s failed: %v", runID, err)
		}
	}
	b.notifyRun(ctx, summary)

	if summary.Failed > 0 {
		return summary, fmt.Errorf("%d of %d tenants failed in run %s", summary.Failed, summary.Attempted, runID)
	}
	return summary, nil
}

func (b *Backuper) notifyRun(ctx context.Context, s *manifest.Summary) {
	severity := notify.SeveritySuccess
	if s.Failed > 0 {
		severity = notify.SeverityError
	}
	failed := make([]string, 0, s.Failed)
	for _, r := range s.Tenants {
		if !r.Success {
			failed = append(failed, r.Tenant)
		}
	}
	b.notifier.Notify(ctx, notify.NewEvent(severity, fmt.Sprintf("backup run %s", s.RunID), map[string]interface{}{
		"run":       s.RunID,
		"scope":     s.Scope,
		"attempted": s.Attempted,
		"succeeded": s.Succeeded,
		"failed":    s.Failed,
		"failures":  strings.Join(failed, ", "),
		"size":      utils.FormatBytes(s.TotalSize),
	}))
}

type artifactResult struct {
	kind   manifest.ArtifactKind
	size   int64
	status archive.VerifyStatus
	err    error
}

// BackupTenant exports the requested artifacts for one tenant into the run
// directory, verifies each by reading it back, and writes the manifest when
// at least one artifact is valid. Artifacts are exported concurrently; a
// failed artifact is recorded and never aborts its siblings.
func (b *Backuper) BackupTenant(ctx context.Context, t tenant.Tenant, runID string, kinds []manifest.ArtifactKind) manifest.TenantResult {
	result := manifest.TenantResult{Tenant: t.Domain}
	if err := pidlock.CheckAndCreatePidFile(t.Domain, "backup"); err != nil {
		result.Error = err.Error()
		return result
	}
	defer pidlock.RemovePidFile(t.Domain)

	tenantDir := b.tenantPath(runID, t.Domain)
	if err := os.MkdirAll(tenantDir, 0750); err != nil {
		result.Error = err.Error()
		return result
	}
	log.Info().Str("tenant", t.Domain).Str("run", runID).Msg("backup started")
	startTime := time.Now()

	artifacts := make([]artifactResult, len(kinds))
	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func(i int, kind manifest.ArtifactKind) {
			defer wg.Done()
			ar := artifactResult{kind: kind}
			ar.size, ar.err = b.exportArtifact(ctx, t, tenantDir, kind)
			ar.err = classify(ar.err)
			if ar.err == nil {
				ar.status = archive.Verify(path.Join(tenantDir, kind.FileName()), kind.IsTar())
				if ar.status == archive.Corrupt {
					ar.err = errors.Wrapf(ErrArtifactCorrupt, "%s/%s", t.Domain, kind.FileName())
				}
			}
			artifacts[i] = ar
		}(i, kind)
	}
	wg.Wait()

	m := &manifest.Manifest{
		Tenant:         t.Domain,
		RunID:          runID,
		CreationDate:   time.Now().UTC(),
		SitebakVersion: b.Version,
		MySQLVersion:   b.db.Version(ctx),
	}
	result.Success = true
	var failures []string
	anyValid := false
	for _, ar := range artifacts {
		if ar.err != nil {
			result.Success = false
			failures = append(failures, fmt.Sprintf("%s: %v", ar.kind, ar.err))
			log.Error().Str("tenant", t.Domain).Str("artifact", string(ar.kind)).Msgf("export failed: %v", ar.err)
			continue
		}
		result.Size += uint64(ar.size)
		switch ar.status {
		case archive.Valid:
			anyValid = true
			switch ar.kind {
			case manifest.KindDatabase:
				m.Database = true
			case manifest.KindFiles:
				m.Files = true
			case manifest.KindConfig:
				m.Config = true
			}
		case archive.Empty:
			log.Warn().Str("tenant", t.Domain).Str("artifact", string(ar.kind)).Msg("artifact is empty")
		}
	}
	result.Error = strings.Join(failures, "; ")

	if anyValid {
		m.DataSize = result.Size
		m.HumanSize = utils.FormatBytes(result.Size)
		if err := m.Save(tenantDir); err != nil {
			result.Success = false
			result.Error = strings.Join(append(failures, fmt.Sprintf("manifest: %v", err)), "; ")
			return result
		}
	}
	log.Info().
		Str("tenant", t.Domain).
		Str("run", runID).
		Str("duration", utils.HumanizeDuration(time.Since(startTime))).
		Str("size", utils.FormatBytes(result.Size)).
		Bool("success", result.Success).
		Msg("backup done")
	return result
}

func (b *Backuper) exportArtifact(ctx context.Context, t tenant.Tenant, tenantDir string, kind manifest.ArtifactKind) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dst := path.Join(tenantDir, kind.FileName())
	switch kind {
	case manifest.KindDatabase:
		return b.exportDatabase(ctx, t, dst)
	case manifest.KindFiles:
		size, err := archive.CreateTarGz(ctx, t.RootPath, dst)
		if err != nil && os.IsNotExist(err) {
			return 0, errors.Wrapf(ErrSourceUnavailable, "%s", t.RootPath)
		}
		return size, err
	case manifest.KindConfig:
		if _, err := os.Stat(t.ConfigPath); os.IsNotExist(err) {
			// optional artifact, keep a zero-byte placeholder
			tmp := dst + "+.part"
			if err := os.WriteFile(tmp, nil, 0640); err != nil {
				return 0, err
			}
			return 0, os.Rename(tmp, dst)
		}
		return archive.CreateTarGz(ctx, t.ConfigPath, dst)
	}
	return 0, fmt.Errorf("unknown artifact kind %q", kind)
}

// exportDatabase streams the dump through gzip straight to disk, never
// holding a whole dump in memory.
func (b *Backuper) exportDatabase(ctx context.Context, t tenant.Tenant, dst string) (int64, error) {
	tmp := dst + "+.part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	gz := gzip.NewWriter(f)
	dumpErr := b.db.Dump(ctx, t.Database, gz)
	if err := gz.Close(); err != nil && dumpErr == nil {
		dumpErr = err
	}
	if err := f.Close(); err != nil && dumpErr == nil {
		dumpErr = err
	}
	if dumpErr != nil {
		os.Remove(tmp)
		return 0, dumpErr
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	info, err := os.Stat(dst)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
