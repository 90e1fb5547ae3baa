package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Gateway   GatewayConfig
	Watermark WatermarkConfig
	Delivery  DeliveryConfig
	Scheduler SchedulerConfig
	Notifier  NotifierConfig
	Relay     RelayConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type GatewayConfig struct {
	URL        string
	InstanceID string
	Token      string
	Timeout    time.Duration
}

type WatermarkConfig struct {
	Enabled bool
	URL     string
	Timeout time.Duration
	Format  string
	Text    string
}

// DeliveryConfig paces bulk and scheduled sends.
type DeliveryConfig struct {
	RateDelay         time.Duration
	Randomize         bool
	Jitter            time.Duration
	Progressive       bool
	WatermarkOverride bool
	MaxFileSize       int64
	BatchSize         int
	BatchDelay        time.Duration
}

type SchedulerConfig struct {
	Interval time.Duration
	JobGap   time.Duration
}

type NotifierConfig struct {
	Interval   time.Duration
	StartMsg   string
	RenewalMsg string
	EndMsg     string
}

type RelayConfig struct {
	Enabled     bool
	UpstreamURL string
	AuditPath   string
	InstanceID  string
	Token       string
}

var watermarkFormats = []string{"name", "phone", "name_phone", "custom"}

// LoadAll reads the configuration from the environment. Every problem is
// collected and returned as one joined error.
func LoadAll() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	str := func(key string) string {
		v, err := requireEnv(key)
		collect(err)
		return v
	}
	num := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		collect(err)
		return v
	}
	flag := func(key string, def bool) bool {
		v, err := getEnvBool(key, def)
		collect(err)
		return v
	}
	seconds := func(key string, def int) time.Duration {
		return time.Duration(num(key, def)) * time.Second
	}
	millis := func(key string, def int) time.Duration {
		return time.Duration(num(key, def)) * time.Millisecond
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: str("POSTGRES_URL"),
		},
		Gateway: GatewayConfig{
			URL:        str("GATEWAY_URL"),
			InstanceID: os.Getenv("GATEWAY_INSTANCE_ID"),
			Token:      os.Getenv("GATEWAY_TOKEN"),
			Timeout:    seconds("GATEWAY_TIMEOUT_SECONDS", 30),
		},
		Watermark: WatermarkConfig{
			Enabled: flag("ENABLE_WATERMARKING", true),
			URL:     getEnv("WATERMARK_URL", "http://localhost:5000/api/watermark_file"),
			Timeout: seconds("WATERMARK_TIMEOUT_SECONDS", 60),
			Format:  getEnv("WATERMARK_FORMAT", "name_phone"),
			Text:    getEnv("WATERMARK_TEXT", "{name} - {phone}"),
		},
		Delivery: DeliveryConfig{
			RateDelay:         millis("RATE_DELAY_MS", 1200),
			Randomize:         flag("RANDOMIZE_DELAY", true),
			Jitter:            millis("JITTER_RANGE_MS", 3000),
			Progressive:       flag("ENABLE_PROGRESSIVE_DELAY", true),
			WatermarkOverride: flag("WATERMARK_DELAY_OVERRIDE", true),
			MaxFileSize:       int64(num("MAX_FILE_SIZE_MB", 30)) * 1024 * 1024,
			BatchSize:         num("BATCH_SIZE", 50),
			BatchDelay:        millis("BATCH_DELAY_MS", 60000),
		},
		Scheduler: SchedulerConfig{
			Interval: seconds("SCHED_INTERVAL_SECONDS", 10),
			JobGap:   millis("SCHED_JOB_GAP_MS", 2000),
		},
		Notifier: NotifierConfig{
			Interval:   seconds("NOTIFIER_INTERVAL_SECONDS", 60),
			StartMsg:   os.Getenv("NOTIFY_START_MSG"),
			RenewalMsg: os.Getenv("NOTIFY_RENEWAL_MSG"),
			EndMsg:     os.Getenv("NOTIFY_END_MSG"),
		},
		Relay: RelayConfig{
			Enabled:     flag("RELAY_ENABLED", false),
			UpstreamURL: getEnv("RELAY_UPSTREAM_URL", "https://api.ultramsg.com"),
			AuditPath:   getEnv("RELAY_AUDIT_PATH", "logs/server_logs.jsonl"),
			InstanceID:  os.Getenv("RELAY_INSTANCE_ID"),
			Token:       os.Getenv("RELAY_TOKEN"),
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis = RedisConfig{
			Enabled:  true,
			Address:  addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       num("REDIS_DB", 0),
			TTL:      seconds("REDIS_TTL_SECONDS", 86400),
		}
	}

	errs = append(errs, validate(cfg)...)
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) []error {
	var errs []error
	positive := func(ok bool, key string) {
		if !ok {
			errs = append(errs, fmt.Errorf("%s must be > 0", key))
		}
	}
	notNegative := func(ok bool, key string) {
		if !ok {
			errs = append(errs, fmt.Errorf("%s must be >= 0", key))
		}
	}

	positive(cfg.Scheduler.Interval > 0, "SCHED_INTERVAL_SECONDS")
	positive(cfg.Notifier.Interval > 0, "NOTIFIER_INTERVAL_SECONDS")
	positive(cfg.Delivery.BatchSize > 0, "BATCH_SIZE")
	positive(cfg.Delivery.MaxFileSize > 0, "MAX_FILE_SIZE_MB")
	positive(cfg.Gateway.Timeout > 0, "GATEWAY_TIMEOUT_SECONDS")
	positive(cfg.Watermark.Timeout > 0, "WATERMARK_TIMEOUT_SECONDS")
	notNegative(cfg.Delivery.RateDelay >= 0, "RATE_DELAY_MS")
	notNegative(cfg.Delivery.Jitter >= 0, "JITTER_RANGE_MS")
	notNegative(cfg.Delivery.BatchDelay >= 0, "BATCH_DELAY_MS")
	notNegative(cfg.Scheduler.JobGap >= 0, "SCHED_JOB_GAP_MS")

	if !slices.Contains(watermarkFormats, cfg.Watermark.Format) {
		errs = append(errs, fmt.Errorf("WATERMARK_FORMAT must be one of %s, got %q", strings.Join(watermarkFormats, ", "), cfg.Watermark.Format))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid bool for env %s: %s", key, v)
	}
	return b, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
