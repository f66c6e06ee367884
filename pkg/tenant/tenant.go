package tenant

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

// Tenant is one hosted site: a domain with its own database and file tree.
type Tenant struct {
	Domain     string `json:"domain"`
	Database   string `json:"database"`
	RootPath   string `json:"root_path"`
	ConfigPath string `json:"config_path,omitempty"`
}

// DatabaseName derives the database identifier from a domain: lowercase,
// every non-alphanumeric rune becomes '_', truncated to the MySQL 64 char
// identifier limit. Deterministic so backup and restore agree.
func DatabaseName(prefix, domain string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, r := range strings.ToLower(domain) {
		if unicode.IsLower(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	name := b.String()
	if len(name) > 64 {
		// cut on a rune boundary, identifiers may carry multibyte runes
		cut := 64
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return name
}

// New builds a Tenant for domain rooted under tenantsRoot. The returned
// ConfigPath may point at a directory that does not exist; config is an
// optional artifact.
func New(domain, tenantsRoot, webrootDirName, configDirName, dbPrefix string) (Tenant, error) {
	if err := validate.Var(domain, "required,fqdn"); err != nil {
		return Tenant{}, fmt.Errorf("'%s' is not a valid tenant domain", domain)
	}
	return Tenant{
		Domain:     domain,
		Database:   DatabaseName(dbPrefix, domain),
		RootPath:   path.Join(tenantsRoot, domain, webrootDirName),
		ConfigPath: path.Join(tenantsRoot, domain, configDirName),
	}, nil
}

// Discover enumerates tenants from the provisioning layer's directory
// listing: every directory under tenantsRoot whose name is a valid domain.
// Entries that fail validation are logged and skipped.
func Discover(tenantsRoot, webrootDirName, configDirName, dbPrefix string) ([]Tenant, error) {
	entries, err := os.ReadDir(tenantsRoot)
	if err != nil {
		return nil, fmt.Errorf("can't read tenants root: %v", err)
	}
	tenants := make([]Tenant, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		t, err := New(e.Name(), tenantsRoot, webrootDirName, configDirName, dbPrefix)
		if err != nil {
			log.Warn().Msgf("skip '%s': %v", e.Name(), err)
			continue
		}
		tenants = append(tenants, t)
	}
	sort.Slice(tenants, func(i, j int) bool {
		return tenants[i].Domain < tenants[j].Domain
	})
	return tenants, nil
}

// Lookup returns the tenant for domain, requiring its directory to exist.
func Lookup(domain, tenantsRoot, webrootDirName, configDirName, dbPrefix string) (Tenant, error) {
	t, err := New(domain, tenantsRoot, webrootDirName, configDirName, dbPrefix)
	if err != nil {
		return Tenant{}, err
	}
	if _, err := os.Stat(path.Join(tenantsRoot, domain)); err != nil {
		return Tenant{}, fmt.Errorf("tenant '%s' not found under %s", domain, tenantsRoot)
	}
	return t, nil
}
