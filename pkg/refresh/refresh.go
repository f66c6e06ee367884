package refresh

import (
	"context"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
	"github.com/rs/zerolog/log"

	"github.com/hostvault/sitebak/pkg/config"
	"github.com/hostvault/sitebak/pkg/utils"
)

// Refresher is the contract for the dependent systems a restore must poke:
// the per-tenant cache and the shared routing layer. Failures are logged by
// implementations and never fail a restore.
type Refresher interface {
	InvalidateTenantCache(ctx context.Context, domain string)
	ReloadRouting(ctx context.Context)
}

// Exec runs the configured shell commands. `{domain}` in the cache purge
// command is replaced with the tenant domain. Empty commands are skipped.
type Exec struct {
	cfg config.RefreshConfig
}

func NewExec(cfg config.RefreshConfig) *Exec {
	return &Exec{cfg: cfg}
}

func (e *Exec) InvalidateTenantCache(ctx context.Context, domain string) {
	cmdLine := strings.ReplaceAll(e.cfg.CachePurgeCommand, "{domain}", domain)
	e.run(ctx, "cache purge", cmdLine)
}

func (e *Exec) ReloadRouting(ctx context.Context) {
	e.run(ctx, "routing reload", e.cfg.RoutingReloadCommand)
}

func (e *Exec) run(ctx context.Context, what, cmdLine string) {
	if cmdLine == "" {
		return
	}
	args, err := shellwords.Parse(cmdLine)
	if err != nil || len(args) == 0 {
		log.Warn().Msgf("can't parse %s command %q: %v", what, cmdLine, err)
		return
	}
	if err := utils.ExecCmd(ctx, e.cfg.TimeoutDuration, args[0], args[1:]...); err != nil {
		log.Warn().Msgf("%s failed: %v", what, err)
	}
}
