package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable for the share service. All values come from
// environment variables and fall back to defaults suitable for a
// single-instance deployment.
type Config struct {
	Port        string
	BaseURL     string
	DatabaseURL string // optional; empty disables the access-log archive
	UploadDir   string

	// File record store
	MaxFileSize        int64
	FileRetention      time.Duration
	RetentionInterval  time.Duration
	RegistryInterval   time.Duration
	AccessLogRetention time.Duration

	// Abuse limits
	MaxConcurrentDownloads int
	MaxActiveStreams       int
	DownloadTimeout        time.Duration
	BandwidthWindow        time.Duration
	MaxBandwidthBytes      int64 // per IP per window; 10x MaxFileSize unless overridden

	// Fixed-window request limits, per client IP
	RateWindow     time.Duration
	CreateLimit    int
	ListLimit      int
	RevokeLimit    int
	AccessLogLimit int
	DownloadLimit  int

	ShareExpiryDays int // default expiresInDays for new shares
	ShareIDLength   int
	PasswordLength  int
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment.
func Load() *Config {
	maxFileSize := getEnvInt64("MAX_FILE_SIZE", 100*1024*1024) // 100MB

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		UploadDir:   getEnv("UPLOAD_DIR", "./storage/uploads"),

		MaxFileSize:        maxFileSize,
		FileRetention:      getEnvDuration("FILE_RETENTION_HOURS", time.Hour, 12*time.Hour),
		RetentionInterval:  getEnvDuration("RETENTION_SWEEP_MINUTES", time.Minute, 10*time.Minute),
		RegistryInterval:   getEnvDuration("SHARE_SWEEP_MINUTES", time.Minute, 60*time.Minute),
		AccessLogRetention: getEnvDuration("ACCESS_LOG_RETENTION_DAYS", 24*time.Hour, 30*24*time.Hour),

		MaxConcurrentDownloads: getEnvInt("MAX_CONCURRENT_DOWNLOADS", 5),
		MaxActiveStreams:       getEnvInt("MAX_ACTIVE_STREAMS", 100),
		DownloadTimeout:        getEnvDuration("DOWNLOAD_TIMEOUT_SECONDS", time.Second, 30*time.Second),
		BandwidthWindow:        getEnvDuration("BANDWIDTH_WINDOW_SECONDS", time.Second, 60*time.Second),
		MaxBandwidthBytes:      getEnvInt64("MAX_BANDWIDTH_BYTES", 10*maxFileSize),

		RateWindow:     getEnvDuration("RATE_WINDOW_SECONDS", time.Second, 60*time.Second),
		CreateLimit:    getEnvInt("SHARE_CREATE_LIMIT", 10),
		ListLimit:      getEnvInt("SHARE_LIST_LIMIT", 30),
		RevokeLimit:    getEnvInt("SHARE_REVOKE_LIMIT", 10),
		AccessLogLimit: getEnvInt("SHARE_ACCESS_LOG_LIMIT", 30),
		DownloadLimit:  getEnvInt("SHARE_DOWNLOAD_LIMIT", 60),

		ShareExpiryDays: getEnvInt("SHARE_EXPIRY_DAYS", 7),
		ShareIDLength:   getEnvInt("SHARE_ID_LENGTH", 9),
		PasswordLength:  getEnvInt("SHARE_PASSWORD_LENGTH", 6),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT_SECONDS", time.Second, 30*time.Second),
	}

	// Share ids must satisfy the public ^[0-9A-Za-z]{8,10}$ contract.
	if cfg.ShareIDLength < 8 || cfg.ShareIDLength > 10 {
		cfg.ShareIDLength = 9
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration parses a numeric env var expressed in the given unit.
func getEnvDuration(key string, unit, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(n * float64(unit))
		}
	}
	return fallback
}
