package config

import (
    "os"
    "path/filepath"
    "testing"
    "time"
)

func TestLoadFileWithEnvOverride(t *testing.T) {
    dir := t.TempDir()
    path := filepath.Join(dir, "config.yaml")
    doc := `
port: "9090"
databaseUrl: postgres://file
kafka:
  brokers: [localhost:9092]
  topic: driver-fixes
engine:
  workers: 4
registry:
  cacheTtl: 10s
`
    if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
        t.Fatal(err)
    }
    t.Setenv("PORT", "7070")
    t.Setenv("DATABASE_URL", "")
    t.Setenv("GEOFENCE_CACHE_TTL", "")

    c, err := Load(path)
    if err != nil {
        t.Fatalf("Load: %v", err)
    }
    if c.Port != "7070" {
        t.Fatalf("env should override file port: %q", c.Port)
    }
    if c.DatabaseURL != "postgres://file" {
        t.Fatalf("file value lost: %q", c.DatabaseURL)
    }
    if len(c.Kafka.Brokers) != 1 || c.Kafka.Topic != "driver-fixes" {
        t.Fatalf("kafka config: %+v", c.Kafka)
    }
    if c.Engine.Workers != 4 {
        t.Fatalf("workers: %d", c.Engine.Workers)
    }
    if c.Registry.CacheTTL != 10*time.Second {
        t.Fatalf("cacheTtl: %v", c.Registry.CacheTTL)
    }
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
    t.Setenv("PORT", "")
    t.Setenv("CONFIG_FILE", "")
    c, err := Load("")
    if err != nil {
        t.Fatalf("Load: %v", err)
    }
    if c.Port != "8080" {
        t.Fatalf("default port: %q", c.Port)
    }
}

func TestKafkaBrokersFromEnvCSV(t *testing.T) {
    t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092 ,")
    c, err := Load("")
    if err != nil {
        t.Fatal(err)
    }
    if len(c.Kafka.Brokers) != 2 || c.Kafka.Brokers[1] != "b2:9092" {
        t.Fatalf("brokers: %+v", c.Kafka.Brokers)
    }
}
