package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const (
	UploadModeDirect  = "direct"
	UploadModeManaged = "managed"
)

type Config struct {
	Port         string
	S3Bucket     string
	S3Region     string
	S3Endpoint   string
	AWSAccessKey string
	AWSSecretKey string
	DatabaseURL  string

	APIKey    string
	JWTSecret string

	UploadMode     string
	PartSizeMB     int64
	PartURLTTL     time.Duration
	PlaybackURLTTL time.Duration
	PublicBaseURL  string

	ScratchDir           string
	FFmpegPath           string
	FFprobePath          string
	TranscodeWorkers     int
	ProcessingStaleAfter time.Duration
	ProcessingHeartbeat  time.Duration

	LogFormat          string
	LogLevel           string
	PipelineConfigPath string
}

func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8080"),
		S3Bucket:     getEnv("S3_BUCKET", ""),
		S3Region:     getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		AWSAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		APIKey:    getEnv("API_KEY", ""),
		JWTSecret: getEnv("JWT_SECRET", ""),

		UploadMode:     strings.ToLower(getEnv("UPLOAD_MODE", UploadModeDirect)),
		PartSizeMB:     getEnvInt64("PART_SIZE_MB", 8),
		PartURLTTL:     getEnvDuration("PART_URL_TTL", time.Hour),
		PlaybackURLTTL: getEnvDuration("PLAYBACK_URL_TTL", 4*time.Hour),
		PublicBaseURL:  strings.TrimSuffix(getEnv("PUBLIC_BASE_URL", ""), "/"),

		ScratchDir:           getEnv("SCRATCH_DIR", os.TempDir()),
		FFmpegPath:           getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:          getEnv("FFPROBE_PATH", "ffprobe"),
		TranscodeWorkers:     int(getEnvInt64("TRANSCODE_WORKERS", int64(runtime.NumCPU()))),
		ProcessingStaleAfter: getEnvDuration("PROCESSING_STALE_AFTER", 2*time.Hour),
		ProcessingHeartbeat:  getEnvDuration("PROCESSING_HEARTBEAT", time.Minute),

		LogFormat:          getEnv("LOG_FORMAT", "json"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		PipelineConfigPath: getEnv("PIPELINE_CONFIG_PATH", "pipeline.yaml"),
	}
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	switch c.UploadMode {
	case UploadModeDirect, UploadModeManaged:
	default:
		return fmt.Errorf("unknown upload mode %q", c.UploadMode)
	}
	if c.PartSizeMB < 5 {
		return fmt.Errorf("part size must be at least 5MB, got %d", c.PartSizeMB)
	}
	if c.PartURLTTL <= 0 || c.PlaybackURLTTL <= 0 {
		return fmt.Errorf("url ttls must be positive")
	}
	if c.TranscodeWorkers < 1 {
		return fmt.Errorf("transcode workers must be at least 1, got %d", c.TranscodeWorkers)
	}
	if c.ProcessingHeartbeat <= 0 {
		return fmt.Errorf("processing heartbeat must be positive")
	}
	if c.ProcessingStaleAfter <= c.ProcessingHeartbeat {
		return fmt.Errorf("processing stale-after must be greater than the processing heartbeat")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
