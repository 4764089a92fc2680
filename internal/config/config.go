// Package config loads the MaaS core service configuration from a YAML
// file with environment-variable overrides, mirroring the layered
// config/env approach the rest of this module's ambient stack uses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Config — top level
// =============================================================================

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Notify     NotifyConfig     `yaml:"notify"`
	Token      TokenConfig      `yaml:"token"`
	Bytemark   BytemarkConfig   `yaml:"bytemark"`
	ParkMobile ParkMobileConfig `yaml:"parkmobile"`
	Carpool    CarpoolConfig    `yaml:"carpool"`
	Megacarpool MegacarpoolConfig `yaml:"megacarpool"`
	Trajectory TrajectoryConfig `yaml:"trajectory"`
	Microsurvey MicrosurveyConfig `yaml:"microsurvey"`
}

type ServerConfig struct {
	Env             string `yaml:"env"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig describes the primary relational "portal DB" and the
// PostgREST-fronted document store (see internal/docstore).
type DatabaseConfig struct {
	PortalDSN    string `yaml:"portal_dsn"`
	DocstoreURL  string `yaml:"docstore_url"`
	DocstoreKey  string `yaml:"docstore_key"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LedgerConfig for C1.
type LedgerConfig struct {
	DailyRefillUSDLimit float64 `yaml:"daily_refill_usd_limit"`
	ReaperInterval       int    `yaml:"reaper_interval_sec"`
	PendingMaxAgeHours   int    `yaml:"pending_max_age_hours"`
	StripeSecretKey      string `yaml:"stripe_secret_key"`
}

// NotifyConfig for C2.
type NotifyConfig struct {
	PubSubProjectID string `yaml:"pubsub_project_id"`
	PubSubTopicID   string `yaml:"pubsub_topic_id"`
	DispatchWorkers int    `yaml:"dispatch_workers"`
	BatchSize       int    `yaml:"batch_size"`
	NotificationTTLDays int `yaml:"notification_ttl_days"`
}

// TokenConfig for C3.
type TokenConfig struct {
	JWTKeyBase64       string `yaml:"jwt_key_base64"`
	JWTRotateKeyBase64 string `yaml:"jwt_rotate_key_base64"`
	RefreshWindowDays  int    `yaml:"refresh_window_days"`
	MaxLifetimeDays    int    `yaml:"max_lifetime_days"`
}

// BytemarkConfig for C4.
type BytemarkConfig struct {
	BaseURLV1        string `yaml:"base_url_v1"`
	BaseURLV4        string `yaml:"base_url_v4"`
	RequestTimeoutSec int   `yaml:"request_timeout_sec"`
	TimeoutMinutes   int    `yaml:"timeout_minutes"`
}

// ParkMobileConfig for C5.
type ParkMobileConfig struct {
	TokenURL          string `yaml:"token_url"`
	ClientID          string `yaml:"client_id"`
	ClientSecret      string `yaml:"client_secret"`
	TokenMintTimeoutSec int  `yaml:"token_mint_timeout_sec"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
	AlertLookaheadMin int    `yaml:"alert_lookahead_minutes"`
	ExpiryGraceHours  int    `yaml:"expiry_grace_hours"`
	PriceObjectRetentionDays int `yaml:"price_object_retention_days"`
	HistoryRetentionDays     int `yaml:"history_retention_days"`
}

// CarpoolConfig for C6.
type CarpoolConfig struct{}

// MegacarpoolConfig for C9 — the secondary cross-region Spanner DB.
type MegacarpoolConfig struct {
	SpannerProject  string `yaml:"spanner_project"`
	SpannerInstance string `yaml:"spanner_instance"`
	SpannerDatabase string `yaml:"spanner_database"`
}

// TrajectoryConfig for C7.
type TrajectoryConfig struct {
	SlotSeconds    int     `yaml:"slot_seconds"`
	ProximityMeters float64 `yaml:"proximity_meters"`
	EarlyStopScore  int     `yaml:"early_stop_score"`
	PassScoreThreshold int  `yaml:"pass_score_threshold"`
}

// MicrosurveyConfig for C8.
type MicrosurveyConfig struct {
	MaxLiveActors      int    `yaml:"max_live_actors"`
	DefaultTimezone    string `yaml:"default_timezone"`
	QuietWindowStart   string `yaml:"quiet_window_start"`
	QuietWindowEnd     string `yaml:"quiet_window_end"`
	CloudTasksProject  string `yaml:"cloudtasks_project"`
	CloudTasksLocation string `yaml:"cloudtasks_location"`
	CloudTasksQueue    string `yaml:"cloudtasks_queue"`
	PayloadSecretBase64 string `yaml:"payload_secret_base64"`
	NumQuestions       int    `yaml:"num_questions"`
	RewardPoints       int    `yaml:"reward_points"`
}

var (
	loadOnce sync.Once
	loaded   *Config
	loadErr  error
)

// Load reads path, applies env overrides, and memoizes the result — one
// config per process, matching the teacher's singleton loader shape.
func Load(path string) (*Config, error) {
	loadOnce.Do(func() {
		loaded, loadErr = load(path)
	})
	return loaded, loadErr
}

func load(path string) (*Config, error) {
	c := &Config{}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("open config %s: %w", path, err)
			}
		} else {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(c); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}

	c.applyEnvOverrides()
	c.applyDefaults()
	return c, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Env = getEnv("SERVER_ENV", c.Server.Env)
	c.Database.PortalDSN = getEnv("PORTAL_DSN", c.Database.PortalDSN)
	c.Database.DocstoreURL = getEnv("DOCSTORE_URL", c.Database.DocstoreURL)
	c.Database.DocstoreKey = getEnv("DOCSTORE_KEY", c.Database.DocstoreKey)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Ledger.StripeSecretKey = getEnv("STRIPE_SECRET_KEY", c.Ledger.StripeSecretKey)
	c.Notify.PubSubProjectID = getEnv("PUBSUB_PROJECT_ID", c.Notify.PubSubProjectID)
	c.Notify.PubSubTopicID = getEnv("PUBSUB_TOPIC_ID", c.Notify.PubSubTopicID)
	c.Token.JWTKeyBase64 = getEnv("JWT_KEY", c.Token.JWTKeyBase64)
	c.Token.JWTRotateKeyBase64 = getEnv("JWT_ROTATE_KEY", c.Token.JWTRotateKeyBase64)
	c.ParkMobile.ClientID = getEnv("PARKMOBILE_CLIENT_ID", c.ParkMobile.ClientID)
	c.ParkMobile.ClientSecret = getEnv("PARKMOBILE_CLIENT_SECRET", c.ParkMobile.ClientSecret)
	c.Megacarpool.SpannerProject = getEnv("MEGACARPOOL_SPANNER_PROJECT", c.Megacarpool.SpannerProject)
	c.Megacarpool.SpannerInstance = getEnv("MEGACARPOOL_SPANNER_INSTANCE", c.Megacarpool.SpannerInstance)
	c.Megacarpool.SpannerDatabase = getEnv("MEGACARPOOL_SPANNER_DATABASE", c.Megacarpool.SpannerDatabase)
	c.Microsurvey.PayloadSecretBase64 = getEnv("MICROSURVEY_PAYLOAD_SECRET", c.Microsurvey.PayloadSecretBase64)
	c.Ledger.DailyRefillUSDLimit = getEnvFloat("LEDGER_DAILY_REFILL_USD_LIMIT", c.Ledger.DailyRefillUSDLimit)
	c.Notify.DispatchWorkers = getEnvInt("NOTIFY_DISPATCH_WORKERS", c.Notify.DispatchWorkers)
}

func (c *Config) applyDefaults() {
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Ledger.DailyRefillUSDLimit == 0 {
		c.Ledger.DailyRefillUSDLimit = 20.0
	}
	if c.Ledger.ReaperInterval == 0 {
		c.Ledger.ReaperInterval = 600 // 10 minutes
	}
	if c.Ledger.PendingMaxAgeHours == 0 {
		c.Ledger.PendingMaxAgeHours = 24
	}
	if c.Notify.DispatchWorkers == 0 {
		c.Notify.DispatchWorkers = 4
	}
	if c.Notify.BatchSize == 0 {
		c.Notify.BatchSize = 500
	}
	if c.Notify.NotificationTTLDays == 0 {
		c.Notify.NotificationTTLDays = 7
	}
	if c.Token.RefreshWindowDays == 0 {
		c.Token.RefreshWindowDays = 7
	}
	if c.Token.MaxLifetimeDays == 0 {
		c.Token.MaxLifetimeDays = 30
	}
	if c.Bytemark.RequestTimeoutSec == 0 {
		c.Bytemark.RequestTimeoutSec = 10
	}
	if c.Bytemark.TimeoutMinutes == 0 {
		c.Bytemark.TimeoutMinutes = 60
	}
	if c.ParkMobile.TokenMintTimeoutSec == 0 {
		c.ParkMobile.TokenMintTimeoutSec = 30
	}
	if c.ParkMobile.RequestTimeoutSec == 0 {
		c.ParkMobile.RequestTimeoutSec = 10
	}
	if c.ParkMobile.AlertLookaheadMin == 0 {
		c.ParkMobile.AlertLookaheadMin = 5
	}
	if c.ParkMobile.ExpiryGraceHours == 0 {
		c.ParkMobile.ExpiryGraceHours = 24
	}
	if c.ParkMobile.PriceObjectRetentionDays == 0 {
		c.ParkMobile.PriceObjectRetentionDays = 30
	}
	if c.ParkMobile.HistoryRetentionDays == 0 {
		c.ParkMobile.HistoryRetentionDays = 90
	}
	if c.Trajectory.SlotSeconds == 0 {
		c.Trajectory.SlotSeconds = 5
	}
	if c.Trajectory.ProximityMeters == 0 {
		c.Trajectory.ProximityMeters = 100
	}
	if c.Trajectory.EarlyStopScore == 0 {
		c.Trajectory.EarlyStopScore = 36
	}
	if c.Trajectory.PassScoreThreshold == 0 {
		c.Trajectory.PassScoreThreshold = 35
	}
	if c.Microsurvey.MaxLiveActors == 0 {
		c.Microsurvey.MaxLiveActors = 10000
	}
	if c.Microsurvey.DefaultTimezone == "" {
		c.Microsurvey.DefaultTimezone = "America/Chicago"
	}
	if c.Microsurvey.QuietWindowStart == "" {
		c.Microsurvey.QuietWindowStart = "22:30"
	}
	if c.Microsurvey.QuietWindowEnd == "" {
		c.Microsurvey.QuietWindowEnd = "07:00"
	}
	if c.Microsurvey.NumQuestions == 0 {
		c.Microsurvey.NumQuestions = 12
	}
	if c.Microsurvey.RewardPoints == 0 {
		c.Microsurvey.RewardPoints = 10
	}
}

// =============================================================================
// Helpers
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
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

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}
