package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ListingSource is one paginated search page to scan.
type ListingSource struct {
	Name          string `yaml:"name"`
	URL           string `yaml:"url"`
	OperationType string `yaml:"operation_type"` // sale, rent, foreclosure, new_construction
}

// Duration parses YAML values like "2s" or "500ms" into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	// Numeric first: a bare scalar like 3 also decodes cleanly as a string,
	// which time.ParseDuration then rejects for its missing unit.
	var secs float64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration node: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// TierConfig is the recipe for one sync cadence.
type TierConfig struct {
	Level               int      `yaml:"level"`
	Name                string   `yaml:"name"`
	FrequencyHours      int      `yaml:"frequency_hours"`
	PagesToScan         int      `yaml:"pages_to_scan"` // 0 = all pages
	DelayBetweenPages   Duration `yaml:"delay_between_pages"`
	DelayBetweenDetails Duration `yaml:"delay_between_details"`
	StaleDaysThreshold  int      `yaml:"stale_days_threshold"`
	RandomSamplePercent float64  `yaml:"random_sample_percent"`
	MaxPageFailures     int      `yaml:"max_page_failures"`
	MaxErrorPercent     float64  `yaml:"max_error_percent"`
	RetryAttempts       int      `yaml:"retry_attempts"`
	RetryDelay          Duration `yaml:"retry_delay"`
	MaxQueueItems       int      `yaml:"max_queue_items"`
	BatchSize           int      `yaml:"batch_size"`
}

type QueueConfig struct {
	MaxPending        int            `yaml:"max_pending"`
	StaleClaimMinutes int            `yaml:"stale_claim_minutes"`
	CleanupDays       int            `yaml:"cleanup_days"`
	Priorities        map[string]int `yaml:"priorities"`
}

type Config struct {
	BaseURL        string          `yaml:"base_url"`
	UserAgent      string          `yaml:"user_agent"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	DetailHandler  string          `yaml:"detail_handler"` // http or browser
	ListingSources []ListingSource `yaml:"listing_sources"`
	Tiers          map[int]*TierConfig `yaml:"tiers"`
	Queue          QueueConfig     `yaml:"queue"`

	PriceChangeThresholdPercent  float64 `yaml:"price_change_threshold_percent"`
	PriceChangeThresholdAbsolute float64 `yaml:"price_change_threshold_absolute"`
	MinMissingCountForRemoval    int     `yaml:"min_missing_count_for_removal"`
	MaxConcurrentScrapers        int     `yaml:"max_concurrent_scrapers"`

	// Runtime, env-only
	DatabaseURL string `yaml:"-"`
	DBPath      string `yaml:"-"`
	CronSpec    string `yaml:"-"`
	LogLevel    string `yaml:"-"`
}

// Load reads .env, the YAML config file, applies defaults, then applies
// environment overrides (env wins over file for tier frequency and pages).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	path := getEnv("SYNC_CONFIG", "config/sync.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.fillTierDefaults()

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.DBPath = getEnv("DB_PATH", "sync.db")
	cfg.CronSpec = os.Getenv("SYNC_CRON")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	if ua := os.Getenv("USER_AGENT"); ua != "" {
		cfg.UserAgent = ua
	}
	if t := getEnvInt("REQUEST_TIMEOUT_SECONDS", 0); t > 0 {
		cfg.RequestTimeout = time.Duration(t) * time.Second
	}

	// Tier overrides take precedence over file values.
	for level, tier := range cfg.Tiers {
		if v := getEnvInt(fmt.Sprintf("TIER%d_FREQUENCY_HOURS", level), 0); v > 0 {
			tier.FrequencyHours = v
		}
		if v, ok := lookupEnvInt(fmt.Sprintf("TIER%d_PAGES", level)); ok {
			tier.PagesToScan = v
		}
	}

	if len(cfg.ListingSources) == 0 {
		return nil, fmt.Errorf("no listing sources configured (checked %s)", path)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		BaseURL:        "https://www.pincali.com",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		RequestTimeout: 30 * time.Second,
		DetailHandler:  "http",
		Queue: QueueConfig{
			MaxPending:        10000,
			StaleClaimMinutes: 30,
			CleanupDays:       7,
			Priorities: map[string]int{
				"new_property":  1,
				"price_change":  2,
				"relisted":      2,
				"verification":  3,
				"stale_data":    4,
				"random_sample": 5,
			},
		},
		PriceChangeThresholdPercent:  1.0,
		PriceChangeThresholdAbsolute: 1000.0,
		MinMissingCountForRemoval:    2,
		MaxConcurrentScrapers:        1,
		Tiers: map[int]*TierConfig{
			1: {Level: 1, Name: "Hot Listings", FrequencyHours: 6, PagesToScan: 10},
			2: {Level: 2, Name: "Daily Sync", FrequencyHours: 24, PagesToScan: 100},
			3: {Level: 3, Name: "Weekly Deep", FrequencyHours: 168, PagesToScan: 0, StaleDaysThreshold: 7},
			4: {Level: 4, Name: "Monthly Refresh", FrequencyHours: 720, StaleDaysThreshold: 30, RandomSamplePercent: 10},
		},
	}
}

var tierNames = map[int]string{
	1: "Hot Listings",
	2: "Daily Sync",
	3: "Weekly Deep",
	4: "Monthly Refresh",
}

var tierFrequencies = map[int]int{1: 6, 2: 24, 3: 168, 4: 720}

func (c *Config) fillTierDefaults() {
	for level, tier := range c.Tiers {
		tier.Level = level
		if tier.Name == "" {
			tier.Name = tierNames[level]
		}
		if tier.FrequencyHours == 0 {
			tier.FrequencyHours = tierFrequencies[level]
		}
		if tier.DelayBetweenPages == 0 {
			tier.DelayBetweenPages = Duration(2 * time.Second)
		}
		if tier.DelayBetweenDetails == 0 {
			tier.DelayBetweenDetails = Duration(3 * time.Second)
		}
		if level == 4 {
			// Monthly refresh is the politest tier.
			if tier.DelayBetweenDetails < Duration(5*time.Second) {
				tier.DelayBetweenDetails = Duration(5 * time.Second)
			}
		}
		if tier.MaxPageFailures == 0 {
			tier.MaxPageFailures = 5
		}
		if tier.MaxErrorPercent == 0 {
			tier.MaxErrorPercent = 25
		}
		if tier.RetryAttempts == 0 {
			tier.RetryAttempts = 1
		}
		if tier.RetryDelay == 0 {
			tier.RetryDelay = Duration(5 * time.Second)
		}
		if tier.MaxQueueItems == 0 {
			tier.MaxQueueItems = 500
		}
		if tier.BatchSize == 0 {
			tier.BatchSize = 10
		}
	}
}

// Tier returns the configuration for a tier level.
func (c *Config) Tier(level int) (*TierConfig, error) {
	tier, ok := c.Tiers[level]
	if !ok {
		return nil, fmt.Errorf("unknown tier: %d", level)
	}
	return tier, nil
}

// PriorityFor maps a queue reason to its configured priority.
func (c *Config) PriorityFor(reason string) int {
	if p, ok := c.Queue.Priorities[reason]; ok {
		return p
	}
	return 3
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v, ok := lookupEnvInt(key); ok {
		return v
	}
	return defaultVal
}

func lookupEnvInt(key string) (int, bool) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i, true
		}
	}
	return 0, false
}
