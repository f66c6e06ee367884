package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/hostvault/sitebak/pkg/logger"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "/etc/sitebak/config.yml"
)

// Config - config file format
type Config struct {
	General   GeneralConfig   `yaml:"general" envconfig:"_"`
	MySQL     MySQLConfig     `yaml:"mysql" envconfig:"_"`
	Retention RetentionConfig `yaml:"retention" envconfig:"_"`
	Notify    NotifyConfig    `yaml:"notify" envconfig:"_"`
	Refresh   RefreshConfig   `yaml:"refresh" envconfig:"_"`
}

// GeneralConfig - general settings section
type GeneralConfig struct {
	StorageRoot    string `yaml:"storage_root" envconfig:"SITEBAK_STORAGE_ROOT"`
	TenantsRoot    string `yaml:"tenants_root" envconfig:"SITEBAK_TENANTS_ROOT"`
	WebrootDirName string `yaml:"webroot_dir_name" envconfig:"SITEBAK_WEBROOT_DIR_NAME"`
	ConfigDirName  string `yaml:"config_dir_name" envconfig:"SITEBAK_CONFIG_DIR_NAME"`
	Concurrency    int    `yaml:"concurrency" envconfig:"SITEBAK_CONCURRENCY"`
	TenantTimeout  string `yaml:"tenant_timeout" envconfig:"SITEBAK_TENANT_TIMEOUT"`
	LogLevel       string `yaml:"log_level" envconfig:"SITEBAK_LOG_LEVEL"`

	TenantTimeoutDuration time.Duration `yaml:"-" envconfig:"-"`
}

// MySQLConfig - database connection settings section
type MySQLConfig struct {
	Host           string `yaml:"host" envconfig:"SITEBAK_MYSQL_HOST"`
	Port           int    `yaml:"port" envconfig:"SITEBAK_MYSQL_PORT"`
	Username       string `yaml:"username" envconfig:"SITEBAK_MYSQL_USERNAME"`
	Password       string `yaml:"password" envconfig:"SITEBAK_MYSQL_PASSWORD"`
	DumpBinary     string `yaml:"dump_binary" envconfig:"SITEBAK_MYSQL_DUMP_BINARY"`
	ClientBinary   string `yaml:"client_binary" envconfig:"SITEBAK_MYSQL_CLIENT_BINARY"`
	DatabasePrefix string `yaml:"database_prefix" envconfig:"SITEBAK_MYSQL_DATABASE_PREFIX"`
	Timeout        string `yaml:"timeout" envconfig:"SITEBAK_MYSQL_TIMEOUT"`

	TimeoutDuration time.Duration `yaml:"-" envconfig:"-"`
}

// RetentionConfig - tiered retention policy, all windows zero disables cleanup
type RetentionConfig struct {
	DailyDays     int `yaml:"daily_days" envconfig:"SITEBAK_RETENTION_DAILY_DAYS"`
	WeeklyWeeks   int `yaml:"weekly_weeks" envconfig:"SITEBAK_RETENTION_WEEKLY_WEEKS"`
	MonthlyMonths int `yaml:"monthly_months" envconfig:"SITEBAK_RETENTION_MONTHLY_MONTHS"`
}

func (r RetentionConfig) Disabled() bool {
	return r.DailyDays <= 0 && r.WeeklyWeeks <= 0 && r.MonthlyMonths <= 0
}

// NotifyConfig - webhook notification settings section
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" envconfig:"SITEBAK_NOTIFY_WEBHOOK_URL"`
	Format     string `yaml:"format" envconfig:"SITEBAK_NOTIFY_FORMAT"`
	Timeout    string `yaml:"timeout" envconfig:"SITEBAK_NOTIFY_TIMEOUT"`
	Retries    int    `yaml:"retries" envconfig:"SITEBAK_NOTIFY_RETRIES"`

	TimeoutDuration time.Duration `yaml:"-" envconfig:"-"`
}

// RefreshConfig - commands executed after a restore, {domain} is substituted
type RefreshConfig struct {
	CachePurgeCommand    string `yaml:"cache_purge_command" envconfig:"SITEBAK_REFRESH_CACHE_PURGE_COMMAND"`
	RoutingReloadCommand string `yaml:"routing_reload_command" envconfig:"SITEBAK_REFRESH_ROUTING_RELOAD_COMMAND"`
	Timeout              string `yaml:"timeout" envconfig:"SITEBAK_REFRESH_TIMEOUT"`

	TimeoutDuration time.Duration `yaml:"-" envconfig:"-"`
}

// LoadConfig - load config from file + environment variables
func LoadConfig(configLocation string) (*Config, error) {
	cfg := DefaultConfig()
	configYaml, err := os.ReadFile(configLocation)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("can't open config file: %v", err)
	}
	if err := yaml.Unmarshal(configYaml, &cfg); err != nil {
		return nil, fmt.Errorf("can't parse config file: %v", err)
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	cfg.General.StorageRoot = strings.TrimRight(strings.TrimSpace(cfg.General.StorageRoot), "/")
	cfg.General.TenantsRoot = strings.TrimRight(strings.TrimSpace(cfg.General.TenantsRoot), "/")
	logger.SetLogLevelFromString(cfg.General.LogLevel)
	if err = ValidateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func ValidateConfig(cfg *Config) error {
	if cfg.General.StorageRoot == "" {
		return fmt.Errorf("general->storage_root must be defined")
	}
	if cfg.General.TenantsRoot == "" {
		return fmt.Errorf("general->tenants_root must be defined")
	}
	if cfg.General.Concurrency < 1 {
		return fmt.Errorf("general->concurrency shall be 1 or more, current value: %d", cfg.General.Concurrency)
	}
	if duration, err := time.ParseDuration(cfg.General.TenantTimeout); err != nil {
		return fmt.Errorf("invalid tenant timeout: %v", err)
	} else {
		cfg.General.TenantTimeoutDuration = duration
	}
	if duration, err := time.ParseDuration(cfg.MySQL.Timeout); err != nil {
		return fmt.Errorf("invalid mysql timeout: %v", err)
	} else {
		cfg.MySQL.TimeoutDuration = duration
	}
	if duration, err := time.ParseDuration(cfg.Notify.Timeout); err != nil {
		return fmt.Errorf("invalid notify timeout: %v", err)
	} else {
		cfg.Notify.TimeoutDuration = duration
	}
	if duration, err := time.ParseDuration(cfg.Refresh.Timeout); err != nil {
		return fmt.Errorf("invalid refresh timeout: %v", err)
	} else {
		cfg.Refresh.TimeoutDuration = duration
	}
	switch cfg.Notify.Format {
	case "discord", "slack", "json":
	default:
		return fmt.Errorf("'%s' is unsupported notify format, supported: 'discord', 'slack', 'json'", cfg.Notify.Format)
	}
	if cfg.Retention.DailyDays < 0 || cfg.Retention.WeeklyWeeks < 0 || cfg.Retention.MonthlyMonths < 0 {
		return fmt.Errorf("retention windows shall be zero or greater")
	}
	return nil
}

// PrintDefaultConfig - print default config to stdout
func PrintDefaultConfig() {
	cfg := DefaultConfig()
	yml, _ := yaml.Marshal(&cfg)
	fmt.Print(string(yml))
}

func DefaultConfig() *Config {
	concurrency := runtime.NumCPU() / 2
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > 4 {
		concurrency = 4
	}
	return &Config{
		General: GeneralConfig{
			StorageRoot:           "/var/backups/sites",
			TenantsRoot:           "/var/www/sites",
			WebrootDirName:        "htdocs",
			ConfigDirName:         "conf",
			Concurrency:           concurrency,
			TenantTimeout:         "4h",
			TenantTimeoutDuration: 4 * time.Hour,
			LogLevel:              "info",
		},
		MySQL: MySQLConfig{
			Host:            "localhost",
			Port:            3306,
			Username:        "root",
			Password:        "",
			DumpBinary:      "mysqldump",
			ClientBinary:    "mysql",
			DatabasePrefix:  "site_",
			Timeout:         "4h",
			TimeoutDuration: 4 * time.Hour,
		},
		Retention: RetentionConfig{
			DailyDays:     7,
			WeeklyWeeks:   4,
			MonthlyMonths: 6,
		},
		Notify: NotifyConfig{
			WebhookURL:      "",
			Format:          "json",
			Timeout:         "10s",
			Retries:         3,
			TimeoutDuration: 10 * time.Second,
		},
		Refresh: RefreshConfig{
			CachePurgeCommand:    "",
			RoutingReloadCommand: "",
			Timeout:              "1m",
			TimeoutDuration:      time.Minute,
		},
	}
}
