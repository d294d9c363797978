package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "mongo:\n  uri: mongodb://localhost:27017\n")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Sync.Interval != 5*time.Minute {
		t.Fatalf("default interval wrong: %v", c.Sync.Interval)
	}
	if c.Cache.DispatchEntries != 24 || c.Cache.ForecastEntries != 10 {
		t.Fatalf("default retention wrong: %d/%d", c.Cache.DispatchEntries, c.Cache.ForecastEntries)
	}
	if len(c.Sync.Regions) != 5 {
		t.Fatalf("default regions wrong: %v", c.Sync.Regions)
	}
	if c.Mongo.Collection != "price_data" {
		t.Fatalf("default collection wrong: %s", c.Mongo.Collection)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, "mongo:\n  uri: mongodb://file:27017\n")
	t.Setenv("MONGO_URI", "mongodb://env:27017")
	t.Setenv("NEM_REGIONS", "VIC1,SA1")

	c, err := LoadWithEnv(path)
	if err != nil {
		t.Fatalf("load with env: %v", err)
	}
	if c.Mongo.URI != "mongodb://env:27017" {
		t.Fatalf("env must override file uri, got %s", c.Mongo.URI)
	}
	if len(c.Sync.Regions) != 2 || c.Sync.Regions[0] != "VIC1" {
		t.Fatalf("env regions wrong: %v", c.Sync.Regions)
	}
}

func TestValidateRejectsMissingMongoURI(t *testing.T) {
	path := writeConfig(t, "environment: production\n")
	if _, err := LoadWithEnv(path); err == nil {
		t.Fatalf("expected validation error without mongo uri")
	}
}

func TestValidateKafkaNeedsBrokers(t *testing.T) {
	path := writeConfig(t, "mongo:\n  uri: mongodb://localhost:27017\nkafka:\n  enabled: true\n")
	if _, err := LoadWithEnv(path); err == nil {
		t.Fatalf("expected error: kafka enabled without brokers")
	}
}
