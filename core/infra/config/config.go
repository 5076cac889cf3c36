package config

import (
	"os"
	"strings"
)

const (
	defaultNATSURL          = "nats://localhost:4222"
	defaultRedisURL         = "redis://localhost:6379"
	defaultManifestPath     = "config/manifest.yaml"
	defaultCapabilitiesPath = "config/capabilities.yaml"
	defaultMetricsAddr      = ":9102"
	defaultResetSubject     = "sys.capabilities.reset"
	defaultDevice           = "desktop"
	envNATSURL              = "NATS_URL"
	envRedisURL             = "REDIS_URL"
	envManifestPath         = "EXTCORE_MANIFEST_PATH"
	envCapabilitiesPath     = "EXTCORE_CAPABILITIES_PATH"
	envMetricsAddr          = "EXTCORE_METRICS_ADDR"
	envResetSubject         = "EXTCORE_RESET_SUBJECT"
	envDevice               = "EXTCORE_DEVICE"
	envUseRedis             = "EXTCORE_USE_REDIS"
	envCapabilityContext    = "EXTCORE_CAPABILITY_CONTEXT"
	envCapabilityUser       = "EXTCORE_CAPABILITY_USER"
)

// Config holds runtime configuration for extcore binaries.
type Config struct {
	NatsURL          string
	RedisURL         string
	ManifestPath     string
	CapabilitiesPath string
	MetricsAddr      string
	ResetSubject     string
	DeviceTraits     []string
	UseRedis         bool
	ContextID        string
	UserID           string
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	natsURL := os.Getenv(envNATSURL)
	if natsURL == "" {
		natsURL = defaultNATSURL
	}

	redisURL := os.Getenv(envRedisURL)
	if redisURL == "" {
		redisURL = defaultRedisURL
	}

	manifest := os.Getenv(envManifestPath)
	if manifest == "" {
		manifest = defaultManifestPath
	}
	caps := os.Getenv(envCapabilitiesPath)
	if caps == "" {
		caps = defaultCapabilitiesPath
	}
	metricsAddr := os.Getenv(envMetricsAddr)
	if metricsAddr == "" {
		metricsAddr = defaultMetricsAddr
	}
	subject := os.Getenv(envResetSubject)
	if subject == "" {
		subject = defaultResetSubject
	}
	device := os.Getenv(envDevice)
	if device == "" {
		device = defaultDevice
	}

	return &Config{
		NatsURL:          natsURL,
		RedisURL:         redisURL,
		ManifestPath:     manifest,
		CapabilitiesPath: caps,
		MetricsAddr:      metricsAddr,
		ResetSubject:     subject,
		DeviceTraits:     splitList(device),
		UseRedis:         parseBool(os.Getenv(envUseRedis)),
		ContextID:        strings.TrimSpace(os.Getenv(envCapabilityContext)),
		UserID:           strings.TrimSpace(os.Getenv(envCapabilityUser)),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
