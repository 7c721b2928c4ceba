// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port               string
	DatabaseURL        string
	LogLevel           string
	GoogleCloudProject string
	KMSKeyName         string
	AgeIdentity        string

	// トレーシング
	OtelEnabled      bool
	OtelEndpoint     string
	OtelServiceName  string
	OtelSamplingRate float64

	// ビーコン
	DataDir           string
	KeyServerURL      string
	ENINMinutes       uint32
	ScanMinutes       uint32
	TEKMinutes        uint32
	TEKCapacity       int
	ScanWindow        time.Duration
	TickInterval      time.Duration
	TxPower           int8
	ScanRetentionDays int

	// キーサーバー
	CaseIDTTL     time.Duration
	TEKsPerUpload int
}

// Load は環境変数から設定を読み込む。
func Load() (*Config, error) {
	l := loader{}
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		KMSKeyName:         os.Getenv("KMS_KEY_NAME"),
		AgeIdentity:        os.Getenv("AGE_IDENTITY"),

		OtelEnabled:      l.getBool("OTEL_ENABLED", false),
		OtelEndpoint:     getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:  getEnv("OTEL_SERVICE_NAME", "exposure-tracer"),
		OtelSamplingRate: l.getFloat("OTEL_SAMPLING_RATE", 1.0),

		DataDir:           getEnv("TRACER_DATA_DIR", "./data"),
		KeyServerURL:      os.Getenv("KEYSERVER_URL"),
		ENINMinutes:       l.getUint32("ENIN_INTERVAL_MINUTES", 10),
		ScanMinutes:       l.getUint32("SCAN_INTERVAL_MINUTES", 5),
		TEKMinutes:        l.getUint32("TEK_INTERVAL_MINUTES", 1440),
		TEKCapacity:       l.getInt("TEK_CAPACITY", 14),
		ScanWindow:        l.getDuration("SCAN_WINDOW", 600*time.Millisecond),
		TickInterval:      l.getDuration("TICK_INTERVAL", time.Second),
		TxPower:           l.getInt8("TX_POWER", 0),
		ScanRetentionDays: l.getInt("SCAN_RETENTION_DAYS", 28),

		CaseIDTTL:     l.getDuration("CASE_ID_TTL", 14*24*time.Hour),
		TEKsPerUpload: l.getInt("TEKS_PER_UPLOAD", 14),
	}
	if l.err != nil {
		return nil, l.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ENINMinutes == 0 || c.ScanMinutes == 0 || c.TEKMinutes == 0 {
		return fmt.Errorf("interval minutes must be positive")
	}
	if c.TEKMinutes%c.ENINMinutes != 0 {
		return fmt.Errorf("TEK_INTERVAL_MINUTES (%d) must be a multiple of ENIN_INTERVAL_MINUTES (%d)", c.TEKMinutes, c.ENINMinutes)
	}
	if c.TEKCapacity <= 0 {
		return fmt.Errorf("TEK_CAPACITY must be positive")
	}
	if c.TEKsPerUpload <= 0 {
		return fmt.Errorf("TEKS_PER_UPLOAD must be positive")
	}
	if c.OtelSamplingRate < 0 || c.OtelSamplingRate > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATE must be between 0 and 1")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loader は最初のパースエラーを保持しながら環境変数を読み込む。
type loader struct {
	err error
}

func (l *loader) parse(key string, parse func(string) error) {
	val := os.Getenv(key)
	if val == "" || l.err != nil {
		return
	}
	if err := parse(val); err != nil {
		l.err = fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
}

func (l *loader) getBool(key string, def bool) bool {
	l.parse(key, func(s string) (err error) {
		def, err = strconv.ParseBool(s)
		return err
	})
	return def
}

func (l *loader) getFloat(key string, def float64) float64 {
	l.parse(key, func(s string) (err error) {
		def, err = strconv.ParseFloat(s, 64)
		return err
	})
	return def
}

func (l *loader) getInt(key string, def int) int {
	l.parse(key, func(s string) (err error) {
		def, err = strconv.Atoi(s)
		return err
	})
	return def
}

func (l *loader) getInt8(key string, def int8) int8 {
	l.parse(key, func(s string) error {
		v, err := strconv.ParseInt(s, 10, 8)
		def = int8(v)
		return err
	})
	return def
}

func (l *loader) getUint32(key string, def uint32) uint32 {
	l.parse(key, func(s string) error {
		v, err := strconv.ParseUint(s, 10, 32)
		def = uint32(v)
		return err
	})
	return def
}

func (l *loader) getDuration(key string, def time.Duration) time.Duration {
	l.parse(key, func(s string) (err error) {
		def, err = time.ParseDuration(s)
		return err
	})
	return def
}
