package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

var Version = "dev"

const (
	DefaultPort          = "5001"
	DefaultUploadDir     = "/tmp/video_uploads"
	DefaultProcessedDir  = "/tmp/video_processed"
	DefaultMaxUploadSize = 500 * 1024 * 1024
	DefaultAPIPrefix     = "/api/video"
)

type Registry struct {
	Backend       string `toml:"backend"`
	SQLitePath    string `toml:"sqlite_path"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisPrefix   string `toml:"redis_prefix"`
	// Instance names this process in job records. Processes sharing one
	// registry must use distinct values; empty means the hostname.
	Instance string `toml:"instance"`
}

// Mirror configures the optional object-store copy of finished outputs.
type Mirror struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
}

func (m Mirror) Enabled() bool {
	return m.Endpoint != ""
}

type Discord struct {
	WebhookURL string `toml:"webhook_url"`
	PingUserID string `toml:"ping_user_id"`
}

type RateLimit struct {
	Max           int `toml:"max"`
	WindowSeconds int `toml:"window_seconds"`
}

func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

type Config struct {
	Port      string `toml:"port"`
	EnvMode   string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	APIPrefix string `toml:"api_prefix"`

	UploadDir         string   `toml:"upload_dir"`
	ProcessedDir      string   `toml:"processed_dir"`
	MaxUploadSize     int64    `toml:"max_upload_size"`
	AllowedExtensions []string `toml:"allowed_extensions"`
	DiskSpaceMinGB    float64  `toml:"disk_space_min_gb"`

	FFmpegPath  string `toml:"ffmpeg_path"`
	FFprobePath string `toml:"ffprobe_path"`

	MaxConcurrentRuns int `toml:"max_concurrent_runs"`
	QueueSize         int `toml:"queue_size"`
	RunTimeoutMin     int `toml:"run_timeout_min"`
	ProgressPollMS    int `toml:"progress_poll_ms"`
	MaxScale          int `toml:"max_scale"`

	CORSOriginsFile string `toml:"cors_origins_file"`

	Registry  Registry  `toml:"registry"`
	Mirror    Mirror    `toml:"mirror"`
	Discord   Discord   `toml:"discord"`
	RateLimit RateLimit `toml:"rate_limit"`
}

func Default() Config {
	return Config{
		Port:              DefaultPort,
		EnvMode:           "development",
		LogLevel:          "info",
		LogFormat:         "auto",
		APIPrefix:         DefaultAPIPrefix,
		UploadDir:         DefaultUploadDir,
		ProcessedDir:      DefaultProcessedDir,
		MaxUploadSize:     DefaultMaxUploadSize,
		AllowedExtensions: []string{"mp4", "avi", "mov", "mkv", "webm", "flv"},
		DiskSpaceMinGB:    1,
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
		MaxConcurrentRuns: 2,
		QueueSize:         16,
		RunTimeoutMin:     120,
		ProgressPollMS:    2000,
		MaxScale:          4,
		CORSOriginsFile:   "cors-origins.txt",
		Registry: Registry{
			Backend:     "memory",
			SQLitePath:  "/tmp/video_enhancer/jobs.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "enhancer:job:",
		},
		RateLimit: RateLimit{Max: 60, WindowSeconds: 60},
	}
}

// Load builds the configuration from defaults, then the optional TOML file at
// path (or $ENHANCER_CONFIG), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("ENHANCER_CONFIG")
	}
	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("open config: %w", err)
		default:
			defer file.Close()
			if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = envOrDefault("PORT", c.Port)
	c.EnvMode = envOrDefault("APP_ENV", c.EnvMode)
	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("LOG_FORMAT", c.LogFormat)

	c.UploadDir = envOrDefault("UPLOAD_DIR", c.UploadDir)
	c.ProcessedDir = envOrDefault("PROCESSED_DIR", c.ProcessedDir)
	if mb := envInt("MAX_UPLOAD_MB", 0); mb > 0 {
		c.MaxUploadSize = int64(mb) * 1024 * 1024
	}

	c.FFmpegPath = envOrDefault("FFMPEG_PATH", c.FFmpegPath)
	c.FFprobePath = envOrDefault("FFPROBE_PATH", c.FFprobePath)

	c.MaxConcurrentRuns = envInt("MAX_CONCURRENT_RUNS", c.MaxConcurrentRuns)
	c.QueueSize = envInt("QUEUE_SIZE", c.QueueSize)
	c.RunTimeoutMin = envInt("RUN_TIMEOUT_MIN", c.RunTimeoutMin)
	c.ProgressPollMS = envInt("PROGRESS_POLL_MS", c.ProgressPollMS)
	c.MaxScale = envInt("MAX_SCALE", c.MaxScale)
	c.CORSOriginsFile = envOrDefault("CORS_ORIGINS_FILE", c.CORSOriginsFile)

	c.Registry.Backend = envOrDefault("REGISTRY_BACKEND", c.Registry.Backend)
	c.Registry.SQLitePath = envOrDefault("SQLITE_PATH", c.Registry.SQLitePath)
	c.Registry.RedisAddr = envOrDefault("REDIS_ADDR", c.Registry.RedisAddr)
	c.Registry.RedisPassword = envOrDefault("REDIS_PASSWORD", c.Registry.RedisPassword)
	c.Registry.RedisDB = envInt("REDIS_DB", c.Registry.RedisDB)
	c.Registry.RedisPrefix = envOrDefault("REDIS_PREFIX", c.Registry.RedisPrefix)
	c.Registry.Instance = envOrDefault("INSTANCE_ID", c.Registry.Instance)

	c.Mirror.Endpoint = envOrDefault("S3_ENDPOINT", c.Mirror.Endpoint)
	c.Mirror.AccessKey = envOrDefault("S3_ACCESS_KEY", c.Mirror.AccessKey)
	c.Mirror.SecretKey = envOrDefault("S3_SECRET_KEY", c.Mirror.SecretKey)
	c.Mirror.Bucket = envOrDefault("S3_BUCKET", c.Mirror.Bucket)
	c.Mirror.Region = envOrDefault("S3_REGION", c.Mirror.Region)
	if v := os.Getenv("S3_USE_SSL"); v != "" {
		c.Mirror.UseSSL = strings.EqualFold(v, "true")
	}

	c.Discord.WebhookURL = envOrDefault("DISCORD_WEBHOOK_URL", c.Discord.WebhookURL)
	c.Discord.PingUserID = envOrDefault("DISCORD_PING_USER_ID", c.Discord.PingUserID)

	c.RateLimit.Max = envInt("RATE_LIMIT_MAX", c.RateLimit.Max)
	c.RateLimit.WindowSeconds = envInt("RATE_LIMIT_WINDOW_SEC", c.RateLimit.WindowSeconds)
}

func (c *Config) normalize() {
	c.Registry.Backend = strings.ToLower(strings.TrimSpace(c.Registry.Backend))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.APIPrefix = "/" + strings.Trim(c.APIPrefix, "/")
	for i, ext := range c.AllowedExtensions {
		c.AllowedExtensions[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	}
	if c.ProgressPollMS < 10 {
		c.ProgressPollMS = 10
	}
}

func (c *Config) Validate() error {
	switch c.Registry.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("registry.backend %q must be memory, sqlite or redis", c.Registry.Backend)
	}
	if c.Registry.Backend == "sqlite" && c.Registry.SQLitePath == "" {
		return errors.New("registry.sqlite_path is required for the sqlite backend")
	}
	if c.MaxConcurrentRuns < 1 {
		return fmt.Errorf("max_concurrent_runs must be positive, got %d", c.MaxConcurrentRuns)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if c.RunTimeoutMin < 1 {
		return fmt.Errorf("run_timeout_min must be positive, got %d", c.RunTimeoutMin)
	}
	if c.MaxUploadSize <= 0 {
		return errors.New("max_upload_size must be positive")
	}
	if c.MaxScale < 1 {
		return fmt.Errorf("max_scale must be at least 1, got %d", c.MaxScale)
	}
	if len(c.AllowedExtensions) == 0 {
		return errors.New("allowed_extensions must not be empty")
	}
	if c.Mirror.Enabled() && c.Mirror.Bucket == "" {
		return errors.New("mirror.bucket is required when mirror.endpoint is set")
	}
	return nil
}

// EnsureDirectories creates the upload and processed directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.UploadDir, c.ProcessedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutMin) * time.Minute
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.ProgressPollMS) * time.Millisecond
}

func (c *Config) IsDevelopment() bool {
	return c.EnvMode == "development"
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func Contains(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}
