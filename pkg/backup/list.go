package backup

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hostvault/sitebak/pkg/manifest"
	"github.com/hostvault/sitebak/pkg/utils"
)

// Run is one backup run directory under the storage root.
type Run struct {
	ID           string
	CreationDate time.Time
	HasSummary   bool
	Summary      *manifest.Summary
}

// GetLocalRuns scans the storage root and returns runs in chronological
// order. Directories whose names do not parse as run ids are ignored.
func (b *Backuper) GetLocalRuns() ([]Run, error) {
	entries, err := os.ReadDir(b.cfg.General.StorageRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("can't read storage root: %v", err)
	}
	runs := make([]Run, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		created, err := time.Parse(RunTimeFormat, e.Name())
		if err != nil {
			log.Debug().Msgf("skip '%s': not a run directory", e.Name())
			continue
		}
		r := Run{ID: e.Name(), CreationDate: created.UTC()}
		if s, err := manifest.LoadSummary(b.runPath(r.ID)); err == nil {
			r.HasSummary = true
			r.Summary = s
		}
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreationDate.Before(runs[j].CreationDate)
	})
	return runs, nil
}

// ResolveRunID maps the "latest" shorthand to the newest summarized run.
// Any other value is returned as is.
func (b *Backuper) ResolveRunID(runID string) (string, error) {
	if runID != "latest" {
		return runID, nil
	}
	runs, err := b.GetLocalRuns()
	if err != nil {
		return "", err
	}
	for i := len(runs) - 1; i >= 0; i-- {
		if runs[i].HasSummary {
			return runs[i].ID, nil
		}
	}
	return "", ErrRunNotFound
}

// PrintRuns writes a run listing to w. With a domain filter only runs
// holding a backup of that tenant are shown, with the tenant's artifacts.
func (b *Backuper) PrintRuns(w io.Writer, domain string) error {
	runs, err := b.GetLocalRuns()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', tabwriter.DiscardEmptyColumns)
	defer tw.Flush()
	if domain == "" {
		fmt.Fprintln(tw, "RUN\tCREATED\tTENANTS\tFAILED\tSIZE\t")
		for _, r := range runs {
			if !r.HasSummary {
				fmt.Fprintf(tw, "%s\t%s\tin progress or broken\t\t\t\n", r.ID, r.CreationDate.Format(time.RFC3339))
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t\n",
				r.ID, r.CreationDate.Format(time.RFC3339),
				r.Summary.Attempted, r.Summary.Failed,
				utils.FormatBytes(r.Summary.TotalSize))
		}
		return nil
	}
	fmt.Fprintln(tw, "RUN\tCREATED\tARTIFACTS\tSIZE\t")
	for _, r := range runs {
		m, err := manifest.Load(b.tenantPath(r.ID, domain))
		if err != nil {
			continue
		}
		var kinds []string
		for _, k := range manifest.AllKinds {
			if m.Has(k) {
				kinds = append(kinds, string(k))
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n",
			r.ID, m.CreationDate.Format(time.RFC3339),
			strings.Join(kinds, ","), utils.FormatBytes(m.DataSize))
	}
	return nil
}

// PrintTenants writes the discovered tenant list to w.
func (b *Backuper) PrintTenants(w io.Writer) error {
	tenants, err := b.discoverTenants()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', tabwriter.DiscardEmptyColumns)
	defer tw.Flush()
	fmt.Fprintln(tw, "DOMAIN\tDATABASE\tROOT\t")
	for _, t := range tenants {
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", t.Domain, t.Database, t.RootPath)
	}
	return nil
}
