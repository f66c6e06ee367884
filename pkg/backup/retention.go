package backup

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hostvault/sitebak/pkg/config"
	"github.com/hostvault/sitebak/pkg/utils"
)

// RetentionResult reports what a cleanup pass removed.
type RetentionResult struct {
	DeletedRuns int
	FreedBytes  uint64
}

// ApplyRetention deletes whole runs that fall outside every retention tier.
// Runs without a summary are in progress or crashed and are never touched;
// the newest summarized run survives regardless of policy. Idempotent: a
// second pass with no new runs deletes nothing.
func (b *Backuper) ApplyRetention(ctx context.Context, dryRun bool) (RetentionResult, error) {
	result := RetentionResult{}
	if b.cfg.Retention.Disabled() {
		log.Info().Msg("retention disabled, nothing to clean")
		return result, nil
	}
	runs, err := b.GetLocalRuns()
	if err != nil {
		return result, err
	}
	summarized := runs[:0]
	for _, r := range runs {
		if !r.HasSummary {
			log.Warn().Str("run", r.ID).Msg("run has no summary, skipping in retention")
			continue
		}
		summarized = append(summarized, r)
	}
	for _, r := range runsOutsideRetention(time.Now().UTC(), summarized, b.cfg.Retention) {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		runDir := b.runPath(r.ID)
		size := dirSize(runDir)
		if dryRun {
			log.Info().Str("run", r.ID).Str("size", utils.FormatBytes(size)).Msg("would delete")
		} else {
			if err := os.RemoveAll(runDir); err != nil {
				log.Warn().Str("run", r.ID).Msgf("can't delete run: %v", err)
				continue
			}
			log.Info().Str("run", r.ID).Str("size", utils.FormatBytes(size)).Msg("deleted by retention")
		}
		result.DeletedRuns++
		result.FreedBytes += size
	}
	return result, nil
}

// runsOutsideRetention selects the runs no tier keeps. Tiers from now
// backwards: every run for DailyDays days, at most one per ISO week for
// WeeklyWeeks weeks, at most one per calendar month for MonthlyMonths
// months. Runs older than all windows go. The newest run is always kept.
func runsOutsideRetention(now time.Time, runs []Run, policy config.RetentionConfig) []Run {
	if len(runs) == 0 || policy.Disabled() {
		return nil
	}
	sorted := make([]Run, len(runs))
	copy(sorted, runs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreationDate.After(sorted[j].CreationDate)
	})

	dailyCutoff := now.AddDate(0, 0, -policy.DailyDays)
	weeklyCutoff := dailyCutoff.AddDate(0, 0, -policy.WeeklyWeeks*7)
	monthlyCutoff := weeklyCutoff.AddDate(0, -policy.MonthlyMonths, 0)

	type weekKey struct {
		year, week int
	}
	type monthKey struct {
		year  int
		month time.Month
	}
	seenWeeks := map[weekKey]bool{}
	seenMonths := map[monthKey]bool{}

	var outside []Run
	for i, r := range sorted {
		if i == 0 {
			continue // safety floor
		}
		created := r.CreationDate
		switch {
		case !created.Before(dailyCutoff):
			// daily tier keeps everything
		case !created.Before(weeklyCutoff):
			year, week := created.ISOWeek()
			k := weekKey{year, week}
			if seenWeeks[k] {
				outside = append(outside, r)
			}
			seenWeeks[k] = true
		case !created.Before(monthlyCutoff):
			k := monthKey{created.Year(), created.Month()}
			if seenMonths[k] {
				outside = append(outside, r)
			}
			seenMonths[k] = true
		default:
			outside = append(outside, r)
		}
	}
	return outside
}

func dirSize(dir string) uint64 {
	var size uint64
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && info.Mode().IsRegular() {
			size += uint64(info.Size())
		}
		return nil
	})
	return size
}
