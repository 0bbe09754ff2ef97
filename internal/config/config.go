package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port      string
		RateLimit int
	}
	Store struct {
		Backend string
	}
	GitHub struct {
		Token   string
		Owner   string
		Repo    string
		Branch  string
		Path    string
		BaseURL string
	}
	Database struct {
		URL string
	}
	Redis struct {
		URL string
		Key string
	}
	Persistence struct {
		Debounce      time.Duration
		FollowUpDelay time.Duration
		ConflictGrace time.Duration
	}
	Contributor struct {
		ID string
	}
	Scraper struct {
		UserAgent string
		Timeout   time.Duration
		// AllowedDomains restricts page extraction to these hosts. Empty
		// allows any host.
		AllowedDomains []string
	}
	LogLevel string
}

// Store backends accepted by store.backend.
const (
	BackendAuto   = "auto"
	BackendGitHub = "github"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	config.Server.Port = v.GetString("server.port")
	config.Server.RateLimit = v.GetInt("server.rate_limit")
	config.Store.Backend = strings.ToLower(v.GetString("store.backend"))
	config.GitHub.Token = os.Getenv("GITHUB_TOKEN")
	config.GitHub.Owner = v.GetString("github.owner")
	config.GitHub.Repo = v.GetString("github.repo")
	config.GitHub.Branch = v.GetString("github.branch")
	config.GitHub.Path = v.GetString("github.path")
	config.GitHub.BaseURL = v.GetString("github.base_url")
	config.Database.URL = v.GetString("database.url")
	config.Redis.URL = v.GetString("redis.url")
	config.Redis.Key = v.GetString("redis.key")
	config.Persistence.Debounce = v.GetDuration("persistence.debounce")
	config.Persistence.FollowUpDelay = v.GetDuration("persistence.followup_delay")
	config.Persistence.ConflictGrace = v.GetDuration("persistence.conflict_grace")
	config.Contributor.ID = v.GetString("contributor.id")
	config.Scraper.UserAgent = v.GetString("scraper.user_agent")
	config.Scraper.Timeout = v.GetDuration("scraper.timeout")
	config.Scraper.AllowedDomains = hostList(v.GetStringSlice("scraper.allowed_domains"))
	config.LogLevel = v.GetString("log.level")

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.rate_limit", 120)
	v.SetDefault("store.backend", BackendAuto)
	v.SetDefault("github.branch", "main")
	v.SetDefault("github.path", "learning-data.json")
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key", "claims:learning:state")
	v.SetDefault("persistence.debounce", "3s")
	v.SetDefault("persistence.followup_delay", "1500ms")
	v.SetDefault("persistence.conflict_grace", "3s")
	v.SetDefault("contributor.id", "")
	v.SetDefault("scraper.user_agent", "ClaimScope-Bot/1.0")
	v.SetDefault("scraper.timeout", "30s")
	v.SetDefault("scraper.allowed_domains", []string{})
	v.SetDefault("log.level", "info")
}

// hostList accepts a YAML list or a comma separated environment value.
func hostList(values []string) []string {
	var hosts []string
	for _, value := range values {
		for _, host := range strings.Split(value, ",") {
			host = strings.ToLower(strings.TrimSpace(host))
			if host != "" {
				hosts = append(hosts, host)
			}
		}
	}
	return hosts
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendAuto, BackendGitHub, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("server.rate_limit must be positive, got %d", c.Server.RateLimit)
	}
	return nil
}

// StoreBackend resolves "auto" to the first backend whose settings are
// present: GitHub with a token, then Redis, then memory.
func (c *Config) StoreBackend() string {
	if c.Store.Backend != BackendAuto {
		return c.Store.Backend
	}
	if c.GitHub.Token != "" && c.GitHub.Owner != "" && c.GitHub.Repo != "" {
		return BackendGitHub
	}
	if c.Redis.URL != "" {
		return BackendRedis
	}
	return BackendMemory
}

func (c *Config) ValidateGitHub() error {
	if c.GitHub.Token == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}
	if c.GitHub.Owner == "" {
		return fmt.Errorf("github.owner is required")
	}
	if c.GitHub.Repo == "" {
		return fmt.Errorf("github.repo is required")
	}
	if c.GitHub.Path == "" {
		return fmt.Errorf("github.path is required")
	}
	return nil
}
