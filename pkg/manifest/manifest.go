package manifest

import (
	"encoding/json"
	"os"
	"path"
	"time"
)

const (
	// FileName is the per-tenant manifest inside a run directory.
	FileName = "manifest.json"
	// SummaryFileName marks a run as complete; it is written last.
	SummaryFileName = "summary.json"
)

// ArtifactKind identifies one backup artifact of a tenant.
type ArtifactKind string

const (
	KindDatabase ArtifactKind = "database"
	KindFiles    ArtifactKind = "files"
	KindConfig   ArtifactKind = "config"
)

// AllKinds is the "full" backup set.
var AllKinds = []ArtifactKind{KindDatabase, KindFiles, KindConfig}

// FileName returns the on-disk artifact name for the kind.
func (k ArtifactKind) FileName() string {
	switch k {
	case KindDatabase:
		return "database.sql.gz"
	case KindFiles:
		return "files.tar.gz"
	case KindConfig:
		return "config.tar.gz"
	}
	return string(k)
}

// IsTar reports whether the artifact is a tar stream inside the gzip layer.
func (k ArtifactKind) IsTar() bool {
	return k == KindFiles || k == KindConfig
}

// Manifest describes one tenant's verified backup inside a run. A presence
// flag is true only when that artifact verified valid; restore consumes
// nothing the manifest does not vouch for.
type Manifest struct {
	Tenant         string    `json:"tenant"`
	RunID          string    `json:"run_id"`
	CreationDate   time.Time `json:"creation_date"`
	SitebakVersion string    `json:"sitebak_version,omitempty"`
	MySQLVersion   string    `json:"mysql_version,omitempty"`
	Database       bool      `json:"database"`
	Files          bool      `json:"files"`
	Config         bool      `json:"config"`
	DataSize       uint64    `json:"data_size"`
	HumanSize      string    `json:"human_size,omitempty"`
}

// Has reports whether kind verified valid in this backup.
func (m *Manifest) Has(kind ArtifactKind) bool {
	switch kind {
	case KindDatabase:
		return m.Database
	case KindFiles:
		return m.Files
	case KindConfig:
		return m.Config
	}
	return false
}

func (m *Manifest) Save(tenantDir string) error {
	body, err := json.MarshalIndent(m, "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(path.Join(tenantDir, FileName), body, 0640)
}

func Load(tenantDir string) (*Manifest, error) {
	body, err := os.ReadFile(path.Join(tenantDir, FileName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// TenantResult is one tenant's line in the run summary.
type TenantResult struct {
	Tenant  string `json:"tenant"`
	Success bool   `json:"success"`
	Size    uint64 `json:"size"`
	Error   string `json:"error,omitempty"`
}

// Summary is written at the run root after every tenant unit has finished.
// Its presence marks the run immutable; retention ignores runs without one.
type Summary struct {
	RunID        string         `json:"run_id"`
	CreationDate time.Time      `json:"creation_date"`
	Scope        string         `json:"scope"`
	Attempted    int            `json:"attempted"`
	Succeeded    int            `json:"succeeded"`
	Failed       int            `json:"failed"`
	TotalSize    uint64         `json:"total_size"`
	Tenants      []TenantResult `json:"tenants"`
}

func (s *Summary) Save(runDir string) error {
	body, err := json.MarshalIndent(s, "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(path.Join(runDir, SummaryFileName), body, 0640)
}

func LoadSummary(runDir string) (*Summary, error) {
	body, err := os.ReadFile(path.Join(runDir, SummaryFileName))
	if err != nil {
		return nil, err
	}
	var s Summary
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
