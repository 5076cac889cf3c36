package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.NatsURL != defaultNATSURL {
		t.Fatalf("expected default nats url")
	}
	if cfg.RedisURL != defaultRedisURL {
		t.Fatalf("expected default redis url")
	}
	if cfg.ManifestPath != defaultManifestPath {
		t.Fatalf("expected default manifest path")
	}
	if cfg.CapabilitiesPath != defaultCapabilitiesPath {
		t.Fatalf("expected default capabilities path")
	}
	if cfg.MetricsAddr != defaultMetricsAddr {
		t.Fatalf("expected default metrics addr")
	}
	if cfg.ResetSubject != defaultResetSubject {
		t.Fatalf("expected default reset subject")
	}
	if len(cfg.DeviceTraits) != 1 || cfg.DeviceTraits[0] != defaultDevice {
		t.Fatalf("expected default device traits, got %v", cfg.DeviceTraits)
	}
	if cfg.UseRedis {
		t.Fatalf("expected redis source disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv(envNATSURL, "nats://example:4222")
	t.Setenv(envRedisURL, "redis://example:6379")
	t.Setenv(envManifestPath, "custom/manifest.yaml")
	t.Setenv(envCapabilitiesPath, "custom/caps.yaml")
	t.Setenv(envMetricsAddr, ":1234")
	t.Setenv(envResetSubject, "sys.custom.reset")
	t.Setenv(envDevice, "smartphone, touch")
	t.Setenv(envUseRedis, "yes")
	t.Setenv(envCapabilityContext, "ctx-1")
	t.Setenv(envCapabilityUser, "user-7")

	cfg := Load()
	if cfg.NatsURL != "nats://example:4222" {
		t.Fatalf("unexpected nats url")
	}
	if cfg.RedisURL != "redis://example:6379" {
		t.Fatalf("unexpected redis url")
	}
	if cfg.ManifestPath != "custom/manifest.yaml" {
		t.Fatalf("unexpected manifest path")
	}
	if cfg.CapabilitiesPath != "custom/caps.yaml" {
		t.Fatalf("unexpected capabilities path")
	}
	if cfg.MetricsAddr != ":1234" {
		t.Fatalf("unexpected metrics addr")
	}
	if cfg.ResetSubject != "sys.custom.reset" {
		t.Fatalf("unexpected reset subject")
	}
	if len(cfg.DeviceTraits) != 2 || cfg.DeviceTraits[0] != "smartphone" || cfg.DeviceTraits[1] != "touch" {
		t.Fatalf("unexpected device traits: %v", cfg.DeviceTraits)
	}
	if !cfg.UseRedis || cfg.ContextID != "ctx-1" || cfg.UserID != "user-7" {
		t.Fatalf("unexpected redis scope settings: %+v", cfg)
	}
}
