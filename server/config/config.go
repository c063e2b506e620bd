package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/san-kum/golf-swing-cv/server/swing"
	"go.uber.org/zap"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	ML        MLConfig        `json:"ml"`
	Security  SecurityConfig  `json:"security"`
	Redis     RedisConfig     `json:"redis"`
	Logging   LoggingConfig   `json:"logging"`
	Detector  DetectorConfig  `json:"detector"`
	Session   SessionConfig   `json:"session"`
	Processor ProcessorConfig `json:"processor"`
	Gemini    GeminiConfig    `json:"gemini"`
}

type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
	StaticDir    string        `json:"static_dir"`
}

type MLConfig struct {
	BaseURL             string        `json:"base_url"`
	Timeout             time.Duration `json:"timeout"`
	MaxRetries          int           `json:"max_retries"`
	RetryDelay          time.Duration `json:"retry_delay"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
}

type SecurityConfig struct {
	JWTSecretKey   string        `json:"-"`
	AllowedOrigins []string      `json:"allowed_origins"`
	RateLimitRPS   int           `json:"rate_limit_rps"`
	RateLimitBurst int           `json:"rate_limit_burst"`
	MaxRequestSize int64         `json:"max_request_size"`
	MaxVideoSize   int64         `json:"max_video_size"`
	RequestTimeout time.Duration `json:"request_timeout"`
	EnableHTTPS    bool          `json:"enable_https"`
	CertFile       string        `json:"cert_file"`
	KeyFile        string        `json:"key_file"`
}

// RedisConfig is optional; an empty host selects the in-memory cache.
type RedisConfig struct {
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Password string        `json:"-"`
	DB       int           `json:"db"`
	PoolSize int           `json:"pool_size"`
	TTL      time.Duration `json:"ttl"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type DetectorConfig struct {
	HistoryLength           int     `json:"history_length"`
	StabilityStdThreshold   float64 `json:"stability_std_threshold"`
	WristMovementThreshold  float64 `json:"wrist_movement_threshold"`
	ShoulderZThreshold      float64 `json:"shoulder_z_threshold"`
	DownswingWristThreshold float64 `json:"downswing_wrist_threshold"`
	OriginalSpotThreshold   float64 `json:"original_spot_threshold"`
	SlopeEpsilon            float64 `json:"slope_epsilon"`
	MinVisibility           float64 `json:"min_visibility"`
}

type SessionConfig struct {
	MaxFrames   int           `json:"max_frames"`
	IdleTTL     time.Duration `json:"idle_ttl"`
	MaxSessions int           `json:"max_sessions"`
}

type ProcessorConfig struct {
	Workers      int           `json:"workers"`
	QueueSize    int           `json:"queue_size"`
	JobTimeout   time.Duration `json:"job_timeout"`
	PoseCacheTTL time.Duration `json:"pose_cache_ttl"`
}

type GeminiConfig struct {
	APIKey      string        `json:"-"`
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
}

// LoadConfig reads the environment, after merging a .env file from the
// working directory when one exists.
func LoadConfig() *Config {
	_ = godotenv.Load()

	defaults := swing.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
			StaticDir:    getEnv("STATIC_DIR", "./client"),
		},
		ML: MLConfig{
			BaseURL:             getEnv("ML_BASE_URL", "http://localhost:5000"),
			Timeout:             getEnvAsDuration("ML_TIMEOUT", 30*time.Second),
			MaxRetries:          getEnvAsInt("ML_MAX_RETRIES", 3),
			RetryDelay:          getEnvAsDuration("ML_RETRY_DELAY", 1*time.Second),
			HealthCheckInterval: getEnvAsDuration("ML_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		Security: SecurityConfig{
			JWTSecretKey:   getEnv("JWT_SECRET_KEY", ""),
			AllowedOrigins: getEnvAsStringSlice("ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:   getEnvAsInt("RATE_LIMIT_RPS", 100),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 200),
			MaxRequestSize: getEnvAsInt64("MAX_REQUEST_SIZE", 10*1024*1024),
			MaxVideoSize:   getEnvAsInt64("MAX_VIDEO_SIZE", 100*1024*1024),
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 60*time.Second),
			EnableHTTPS:    getEnvAsBool("ENABLE_HTTPS", false),
			CertFile:       getEnv("CERT_FILE", ""),
			KeyFile:        getEnv("KEY_FILE", ""),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
			TTL:      getEnvAsDuration("REDIS_TTL", time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Detector: DetectorConfig{
			HistoryLength:           getEnvAsInt("SWING_HISTORY_LENGTH", defaults.HistoryLength),
			StabilityStdThreshold:   getEnvAsFloat("SWING_STABILITY_STD_THRESHOLD", defaults.StabilityStdThreshold),
			WristMovementThreshold:  getEnvAsFloat("SWING_WRIST_MOVEMENT_THRESHOLD", defaults.WristMovementThreshold),
			ShoulderZThreshold:      getEnvAsFloat("SWING_SHOULDER_Z_THRESHOLD", defaults.ShoulderZThreshold),
			DownswingWristThreshold: getEnvAsFloat("SWING_DOWNSWING_WRIST_THRESHOLD", defaults.DownswingWristThreshold),
			OriginalSpotThreshold:   getEnvAsFloat("SWING_ORIGINAL_SPOT_THRESHOLD", defaults.OriginalSpotThreshold),
			SlopeEpsilon:            getEnvAsFloat("SWING_SLOPE_EPSILON", defaults.SlopeEpsilon),
			MinVisibility:           getEnvAsFloat("SWING_MIN_VISIBILITY", 0.5),
		},
		Session: SessionConfig{
			MaxFrames:   getEnvAsInt("SESSION_MAX_FRAMES", 900),
			IdleTTL:     getEnvAsDuration("SESSION_IDLE_TTL", 10*time.Minute),
			MaxSessions: getEnvAsInt("SESSION_MAX_ACTIVE", 100),
		},
		Processor: ProcessorConfig{
			Workers:      getEnvAsInt("PROCESSOR_WORKERS", 2),
			QueueSize:    getEnvAsInt("PROCESSOR_QUEUE_SIZE", 20),
			JobTimeout:   getEnvAsDuration("PROCESSOR_JOB_TIMEOUT", 5*time.Minute),
			PoseCacheTTL: getEnvAsDuration("POSE_CACHE_TTL", 5*time.Minute),
		},
		Gemini: GeminiConfig{
			APIKey:      getEnv("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY")),
			Model:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			Temperature: getEnvAsFloat("GEMINI_TEMPERATURE", 0.4),
			Timeout:     getEnvAsDuration("GEMINI_TIMEOUT", 30*time.Second),
		},
	}
}

// Swing converts the detector section into the detector's own config.
func (d DetectorConfig) Swing() swing.Config {
	return swing.Config{
		HistoryLength:           d.HistoryLength,
		StabilityStdThreshold:   d.StabilityStdThreshold,
		WristMovementThreshold:  d.WristMovementThreshold,
		ShoulderZThreshold:      d.ShoulderZThreshold,
		DownswingWristThreshold: d.DownswingWristThreshold,
		OriginalSpotThreshold:   d.OriginalSpotThreshold,
		SlopeEpsilon:            d.SlopeEpsilon,
	}
}

func (c *Config) ValidateConfig(logger *zap.Logger) error {
	var errors []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "server port must be between 1 and 65535")
	}

	if c.ML.BaseURL == "" {
		errors = append(errors, "ML base URL is required")
	}

	if c.Security.JWTSecretKey == "" {
		logger.Warn("JWT secret key not set, using random key")
	}

	if c.Security.MaxRequestSize <= 0 {
		errors = append(errors, "max request size must be positive")
	}

	if c.Redis.Host != "" && (c.Redis.Port < 1 || c.Redis.Port > 65535) {
		errors = append(errors, "Redis port must be between 1 and 65535")
	}

	if err := c.Detector.Swing().Validate(); err != nil {
		errors = append(errors, err.Error())
	}

	if c.Detector.MinVisibility < 0 || c.Detector.MinVisibility > 1 {
		errors = append(errors, "min visibility must be between 0 and 1")
	}

	if c.Processor.Workers < 1 || c.Processor.QueueSize < 1 {
		errors = append(errors, "processor needs at least one worker and one queue slot")
	}

	if c.Gemini.APIKey == "" {
		logger.Warn("Gemini API key not set, swing feedback disabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, ", "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
