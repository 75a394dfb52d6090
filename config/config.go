package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"vinted_scrooper/models"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36"

type Config struct {
	Marketplace MarketplaceConfig
	Crawl       CrawlConfig
	Warehouse   WarehouseConfig
	Scheduler   SchedulerConfig
	S3          S3Config
	VPN         VPNConfig
	LogFile     string
	LogMaxBytes int64
	MetricsAddr string
}

type MarketplaceConfig struct {
	Domain            string        `yaml:"domain"`
	UserAgent         string        `yaml:"user_agent"`
	ProxyURL          string        `yaml:"-"`
	Timeout           time.Duration `yaml:"-"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	ThrottleStatuses  []int         `yaml:"throttle_statuses"`
	BackoffUnit       time.Duration `yaml:"-"`
	BackoffMin        int           `yaml:"backoff_min"`
	BackoffMax        int           `yaml:"backoff_max"`
}

// BaseURL is the marketplace site root for the configured domain.
func (m MarketplaceConfig) BaseURL() string {
	return "https://www.vinted." + m.Domain
}

type CrawlConfig struct {
	Genders             []bool          `yaml:"-"`
	OnlyVintage         bool            `yaml:"-"`
	FilterBy            models.FacetKey `yaml:"-"`
	CommitEvery         int             `yaml:"commit_every"`
	FilterBatchSize     int             `yaml:"filter_batch_size"`
	MaxFilterOptions    int             `yaml:"max_filter_options"`
	PerPage             int             `yaml:"per_page"`
	TierProbability     float64         `yaml:"tier_probability"`
	Seed                int64           `yaml:"-"`
	DesignerCatalogIDs  []int64         `yaml:"designer_catalog_ids"`
	VintageBrandID      int64           `yaml:"vintage_brand_id"`
	MaxBrandTitleLength int             `yaml:"max_brand_title_length"`
	ValidCatalogCodes   []string        `yaml:"valid_catalog_codes"`
	FilterCacheTTL      time.Duration   `yaml:"-"`
}

type WarehouseConfig struct {
	Driver      string
	DatabaseURL string
	DBPath      string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

// VPNConfig controls egress rotation when the marketplace keeps throttling.
type VPNConfig struct {
	Enabled        bool
	Regions        []string
	RotateAfter    int // consecutive throttled responses before rotating
	ConnectTimeout time.Duration
}

// profile is the YAML crawl profile. Every field is optional and overrides
// the built-in default when set.
type profile struct {
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Crawl       CrawlConfig       `yaml:"crawl"`
}

func Default() *Config {
	return &Config{
		Marketplace: MarketplaceConfig{
			Domain:            "fr",
			UserAgent:         defaultUserAgent,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 2,
			ThrottleStatuses:  []int{403, 429},
			BackoffUnit:       time.Second,
			BackoffMin:        1,
			BackoffMax:        10,
		},
		Crawl: CrawlConfig{
			Genders:             []bool{true, false},
			FilterBy:            models.FacetNone,
			CommitEvery:         10,
			FilterBatchSize:     1,
			MaxFilterOptions:    10,
			PerPage:             models.MaxPerPage,
			TierProbability:     0,
			Seed:                time.Now().UnixNano(),
			DesignerCatalogIDs:  []int64{2984, 2985, 2986, 2987, 2990, 2991, 2992},
			VintageBrandID:      14803,
			MaxBrandTitleLength: 35,
			ValidCatalogCodes:   []string{"WOMEN_ROOT", "MENS", "DESIGNER_ROOT"},
			FilterCacheTTL:      6 * time.Hour,
		},
		Warehouse: WarehouseConfig{
			Driver: DriverPostgres,
			DBPath: "scraper.db",
		},
		LogFile:     "crawler.log",
		LogMaxBytes: 2 * 1024 * 1024,
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if err := cfg.loadProfile(getEnv("CRAWL_CONFIG", "config/crawl.yaml")); err != nil {
		return nil, err
	}

	m := &cfg.Marketplace
	m.Domain = getEnv("MARKETPLACE_DOMAIN", m.Domain)
	m.UserAgent = getEnv("USER_AGENT", m.UserAgent)
	m.ProxyURL = os.Getenv("HTTP_PROXY_URL")
	m.Timeout = getEnvDuration("HTTP_TIMEOUT", m.Timeout)
	m.RequestsPerSecond = getEnvFloat("REQUESTS_PER_SECOND", m.RequestsPerSecond)
	m.BackoffUnit = getEnvDuration("BACKOFF_UNIT", m.BackoffUnit)

	c := &cfg.Crawl
	genders, err := ParseGenders(getEnv("GENDERS", "both"))
	if err != nil {
		return nil, err
	}
	c.Genders = genders
	c.OnlyVintage = getEnvBool("ONLY_VINTAGE", false)
	focus, ok := models.ParseFocusFacet(getEnv("FILTER_BY", "none"))
	if !ok {
		return nil, fmt.Errorf("invalid FILTER_BY %q", os.Getenv("FILTER_BY"))
	}
	c.FilterBy = focus
	c.CommitEvery = getEnvInt("COMMIT_EVERY", c.CommitEvery)
	c.FilterBatchSize = getEnvInt("FILTER_BATCH_SIZE", c.FilterBatchSize)
	c.MaxFilterOptions = getEnvInt("MAX_FILTER_OPTIONS", c.MaxFilterOptions)
	c.PerPage = getEnvInt("PER_PAGE", c.PerPage)
	c.TierProbability = getEnvFloat("TIER_PROBABILITY", c.TierProbability)
	c.Seed = int64(getEnvInt("RANDOM_SEED", int(c.Seed)))
	c.FilterCacheTTL = getEnvDuration("FILTER_CACHE_TTL", c.FilterCacheTTL)

	cfg.Warehouse = WarehouseConfig{
		Driver:      getEnv("WAREHOUSE_DRIVER", cfg.Warehouse.Driver),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBPath:      getEnv("DB_PATH", cfg.Warehouse.DBPath),
	}

	cfg.Scheduler = SchedulerConfig{
		Cron:     os.Getenv("SCRAPE_CRON"),
		Interval: getEnvDuration("SCRAPE_INTERVAL", 0),
	}

	cfg.S3 = S3Config{
		Bucket:          os.Getenv("S3_BUCKET"),
		Region:          getEnv("S3_REGION", "us-east-1"),
		Endpoint:        os.Getenv("S3_ENDPOINT"),
		AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		Prefix:          getEnv("S3_PREFIX", "batches"),
	}

	cfg.VPN = VPNConfig{
		Enabled:        getEnvBool("VPN_ENABLED", false),
		Regions:        getEnvList("VPN_REGIONS", []string{"smart"}),
		RotateAfter:    getEnvInt("VPN_ROTATE_AFTER", 3),
		ConnectTimeout: getEnvDuration("VPN_CONNECT_TIMEOUT", 30*time.Second),
	}

	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.LogMaxBytes = int64(getEnvInt("LOG_MAX_BYTES", int(cfg.LogMaxBytes)))
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadProfile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var p profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	m := p.Marketplace
	if m.Domain != "" {
		c.Marketplace.Domain = m.Domain
	}
	if m.UserAgent != "" {
		c.Marketplace.UserAgent = m.UserAgent
	}
	if m.RequestsPerSecond > 0 {
		c.Marketplace.RequestsPerSecond = m.RequestsPerSecond
	}
	if len(m.ThrottleStatuses) > 0 {
		c.Marketplace.ThrottleStatuses = m.ThrottleStatuses
	}
	if m.BackoffMin > 0 {
		c.Marketplace.BackoffMin = m.BackoffMin
	}
	if m.BackoffMax > 0 {
		c.Marketplace.BackoffMax = m.BackoffMax
	}

	cr := p.Crawl
	if cr.CommitEvery > 0 {
		c.Crawl.CommitEvery = cr.CommitEvery
	}
	if cr.FilterBatchSize > 0 {
		c.Crawl.FilterBatchSize = cr.FilterBatchSize
	}
	if cr.MaxFilterOptions > 0 {
		c.Crawl.MaxFilterOptions = cr.MaxFilterOptions
	}
	if cr.PerPage > 0 {
		c.Crawl.PerPage = cr.PerPage
	}
	if cr.TierProbability > 0 {
		c.Crawl.TierProbability = cr.TierProbability
	}
	if len(cr.DesignerCatalogIDs) > 0 {
		c.Crawl.DesignerCatalogIDs = cr.DesignerCatalogIDs
	}
	if cr.VintageBrandID > 0 {
		c.Crawl.VintageBrandID = cr.VintageBrandID
	}
	if cr.MaxBrandTitleLength > 0 {
		c.Crawl.MaxBrandTitleLength = cr.MaxBrandTitleLength
	}
	if len(cr.ValidCatalogCodes) > 0 {
		c.Crawl.ValidCatalogCodes = cr.ValidCatalogCodes
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Marketplace.Domain == "" {
		return fmt.Errorf("marketplace domain cannot be empty")
	}
	if c.Marketplace.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Marketplace.BackoffMin <= 0 || c.Marketplace.BackoffMax < c.Marketplace.BackoffMin {
		return fmt.Errorf("invalid backoff range %d-%d", c.Marketplace.BackoffMin, c.Marketplace.BackoffMax)
	}
	if len(c.Crawl.Genders) == 0 {
		return fmt.Errorf("at least one gender must be crawled")
	}
	if c.Crawl.FilterBy != models.FacetNone {
		if _, ok := models.ParseFocusFacet(string(c.Crawl.FilterBy)); !ok {
			return fmt.Errorf("invalid focus facet %q", c.Crawl.FilterBy)
		}
	}
	if c.Crawl.CommitEvery <= 0 {
		return fmt.Errorf("commit cadence must be positive")
	}
	if c.Crawl.FilterBatchSize <= 0 {
		return fmt.Errorf("filter batch size must be positive")
	}
	if c.Crawl.PerPage <= 0 || c.Crawl.PerPage > models.MaxPerPage {
		return fmt.Errorf("per page must be between 1 and %d", models.MaxPerPage)
	}
	if c.Crawl.TierProbability < 0 || c.Crawl.TierProbability > 1 {
		return fmt.Errorf("tier probability must be within [0, 1]")
	}
	if c.VPN.Enabled && (len(c.VPN.Regions) == 0 || c.VPN.RotateAfter <= 0) {
		return fmt.Errorf("VPN rotation needs at least one region and a positive VPN_ROTATE_AFTER")
	}
	switch c.Warehouse.Driver {
	case DriverPostgres:
		if c.Warehouse.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres warehouse")
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("unknown warehouse driver %q", c.Warehouse.Driver)
	}
	return nil
}

// ParseGenders maps a gender scope to the women flags to crawl, women first.
func ParseGenders(scope string) ([]bool, error) {
	switch strings.ToLower(strings.TrimSpace(scope)) {
	case "both", "":
		return []bool{true, false}, nil
	case "women":
		return []bool{true}, nil
	case "men":
		return []bool{false}, nil
	}
	return nil, fmt.Errorf("invalid gender scope %q", scope)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
