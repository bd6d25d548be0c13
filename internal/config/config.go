// Package config defines all configuration for both service processes
// (cmd/marketd, cmd/matchd). Config is loaded from a YAML file (the
// commands default to configs/marketd.yaml and configs/matchd.yaml,
// overridable via REALITY_CONFIG) with sensitive fields overridable via
// REALITY_* environment variables. Every tunable named in the
// specification's external-interfaces section lives here, never as a
// package-level constant elsewhere.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML
// file structure.
type Config struct {
	AdminKey string        `mapstructure:"admin_key"`
	Ingest   IngestConfig  `mapstructure:"ingest"`
	DB       DBConfig      `mapstructure:"db"`
	Matching MatchingConfig `mapstructure:"matching"`
	Scoring  ScoringConfig `mapstructure:"scoring"`
	Blender  BlenderConfig `mapstructure:"blender"`
	LLM      LLMConfig     `mapstructure:"llm"`
	Logging  LoggingConfig `mapstructure:"logging"`
	HTTP     HTTPConfig    `mapstructure:"http"`
}

// IngestConfig holds the shared HMAC secret and the scrape poll
// interval the external Event Producer is configured with.
type IngestConfig struct {
	HMACSecret       string        `mapstructure:"hmac_secret"`
	ScrapePollInterval time.Duration `mapstructure:"scrape_poll_interval"`
}

// DBConfig holds the database DSN for the SQLite-backed persistence
// layer (modernc.org/sqlite).
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// MatchingConfig points the Ingest+Scoring+Blender service at the
// Matching service for market-price/pressure lookups, and gives the
// standalone matchd process its own listen address when the two
// services are split across processes.
type MatchingConfig struct {
	ServiceURL     string        `mapstructure:"service_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ListenAddr     string        `mapstructure:"listen_addr"`
}

// ScoringConfig holds every tunable constant named by the
// specification's external-interfaces section for the Scoring Engine
// and suspicion rules (§4.2, §4.6).
//
//   - Tau: lazy-decay time constant toward NEUTRAL.
//   - Neutral: the decay target, and the starting reality score.
//   - DeltaCap: maximum magnitude of any single event's impact_points.
//   - EWMAAlpha: smoothing factor for reality-score updates.
//   - SuspiciousDelta: |impact_points| above this trips the suspicion rule.
//   - MaxSingleSourceInfluence24h: rolling-24h single-source influence cap.
//   - RollingWindowHours: width of the rolling window used by the
//     single-source-influence suspicion rule.
type ScoringConfig struct {
	Tau                         time.Duration `mapstructure:"tau"`
	Neutral                     float64       `mapstructure:"neutral"`
	DeltaCap                    float64       `mapstructure:"delta_cap"`
	EWMAAlpha                   float64       `mapstructure:"ewma_alpha"`
	SuspiciousDelta             float64       `mapstructure:"suspicious_delta"`
	MaxSingleSourceInfluence24h float64       `mapstructure:"max_single_source_influence_24h"`
	RollingWindowHours          float64       `mapstructure:"rolling_window_hours"`
}

// BlenderConfig holds the Blender & Broadcaster's smoothing factor and
// default instrument price bounds.
type BlenderConfig struct {
	EWMAAlpha    float64 `mapstructure:"ewma_alpha"`
	DefaultMin   float64 `mapstructure:"default_min_price"`
	DefaultMax   float64 `mapstructure:"default_max_price"`
}

// LLMConfig holds the optional tunables governing the external Event
// Producer's quick-scorer/LLM runner, pinned here only because the
// specification names them as configuration constants; nothing in
// this repository consumes them directly (the Event Producer is an
// external collaborator — §1).
type LLMConfig struct {
	SimilarityDuplicate float64 `mapstructure:"similarity_duplicate"`
	SimilarityGroup     float64 `mapstructure:"similarity_group"`
	QuickThreshold      float64 `mapstructure:"quick_threshold"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HTTPConfig controls the listener each service process binds.
type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: REALITY_ADMIN_KEY, REALITY_INGEST_SECRET,
// REALITY_DB_DSN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("REALITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("REALITY_ADMIN_KEY"); key != "" {
		cfg.AdminKey = key
	}
	if secret := os.Getenv("REALITY_INGEST_SECRET"); secret != "" {
		cfg.Ingest.HMACSecret = secret
	}
	if dsn := os.Getenv("REALITY_DB_DSN"); dsn != "" {
		cfg.DB.DSN = dsn
	}

	return &cfg, nil
}

// Validate checks all required fields and named constant ranges.
func (c *Config) Validate() error {
	if c.AdminKey == "" {
		return fmt.Errorf("admin_key is required (set REALITY_ADMIN_KEY)")
	}
	if c.Ingest.HMACSecret == "" {
		return fmt.Errorf("ingest.hmac_secret is required (set REALITY_INGEST_SECRET)")
	}
	if c.Ingest.ScrapePollInterval <= 0 {
		return fmt.Errorf("ingest.scrape_poll_interval must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required (set REALITY_DB_DSN)")
	}
	if c.Matching.ServiceURL == "" {
		return fmt.Errorf("matching.service_url is required")
	}
	if c.Scoring.Tau <= 0 {
		return fmt.Errorf("scoring.tau must be > 0")
	}
	if c.Scoring.DeltaCap <= 0 {
		return fmt.Errorf("scoring.delta_cap must be > 0")
	}
	if c.Scoring.EWMAAlpha <= 0 || c.Scoring.EWMAAlpha > 1 {
		return fmt.Errorf("scoring.ewma_alpha must be in (0, 1]")
	}
	if c.Scoring.SuspiciousDelta <= 0 || c.Scoring.SuspiciousDelta > c.Scoring.DeltaCap {
		return fmt.Errorf("scoring.suspicious_delta must be in (0, delta_cap]")
	}
	if c.Scoring.MaxSingleSourceInfluence24h <= 0 || c.Scoring.MaxSingleSourceInfluence24h > 1 {
		return fmt.Errorf("scoring.max_single_source_influence_24h must be in (0, 1]")
	}
	if c.Scoring.RollingWindowHours <= 0 {
		return fmt.Errorf("scoring.rolling_window_hours must be > 0")
	}
	if c.Blender.EWMAAlpha <= 0 || c.Blender.EWMAAlpha > 1 {
		return fmt.Errorf("blender.ewma_alpha must be in (0, 1]")
	}
	if c.Blender.DefaultMax < c.Blender.DefaultMin {
		return fmt.Errorf("blender.default_max_price must be >= default_min_price")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	return nil
}

// Defaults returns a Config populated with the specification's named
// constant defaults (TAU=48h, DELTA_CAP=20, EWMA_ALPHA=0.25,
// SUSPICIOUS_DELTA=15, MAX_SINGLE_SOURCE_INFLUENCE_24H=0.35, NEUTRAL=50,
// SIMILARITY_DUPLICATE=0.88, SIMILARITY_GROUP=0.78,
// LLM_QUICK_THRESHOLD=0.45), for use by tests. Load does not start from
// these values: a field absent from the YAML file stays at its zero value.
func Defaults() Config {
	return Config{
		Ingest: IngestConfig{
			ScrapePollInterval: 2 * time.Minute,
		},
		Scoring: ScoringConfig{
			Tau:                         48 * time.Hour,
			Neutral:                     50,
			DeltaCap:                    20,
			EWMAAlpha:                   0.25,
			SuspiciousDelta:             15,
			MaxSingleSourceInfluence24h: 0.35,
			RollingWindowHours:          24,
		},
		Blender: BlenderConfig{
			EWMAAlpha:  0.25,
			DefaultMin: 0,
			DefaultMax: 100,
		},
		LLM: LLMConfig{
			SimilarityDuplicate: 0.88,
			SimilarityGroup:     0.78,
			QuickThreshold:      0.45,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Matching: MatchingConfig{
			RequestTimeout: 2 * time.Second,
			ListenAddr:     ":8081",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
