// Package config loads service configuration from an optional YAML file with
// environment variable overrides. Env always wins so container deployments
// need no file at all.
package config

import (
    "os"
    "strconv"
    "strings"
    "time"

    yaml "gopkg.in/yaml.v3"
)

type Config struct {
    Port        string `yaml:"port"`
    DatabaseURL string `yaml:"databaseUrl"`
    RedisURL    string `yaml:"redisUrl"`

    Kafka struct {
        Brokers []string `yaml:"brokers"`
        Topic   string   `yaml:"topic"`
        GroupID string   `yaml:"groupId"`
    } `yaml:"kafka"`

    Engine struct {
        Workers  int `yaml:"workers"`
        QueueLen int `yaml:"queueLen"`
    } `yaml:"engine"`

    Registry struct {
        CacheTTL    time.Duration `yaml:"cacheTtl"`
        LoadTimeout time.Duration `yaml:"loadTimeout"`
    } `yaml:"registry"`
}

// Load reads the file at path (optional) and applies env overrides. A missing
// file is not an error; all fields have working defaults downstream.
func Load(path string) (Config, error) {
    var c Config
    if path == "" {
        path = os.Getenv("CONFIG_FILE")
    }
    if path != "" {
        data, err := os.ReadFile(path)
        if err == nil {
            if err := yaml.Unmarshal(data, &c); err != nil {
                return Config{}, err
            }
        } else if !os.IsNotExist(err) {
            return Config{}, err
        }
    }
    c.applyEnv()
    return c, nil
}

func (c *Config) applyEnv() {
    if v := os.Getenv("PORT"); v != "" {
        c.Port = v
    }
    if c.Port == "" {
        c.Port = "8080"
    }
    if v := os.Getenv("DATABASE_URL"); v != "" {
        c.DatabaseURL = v
    }
    if v := os.Getenv("REDIS_URL"); v != "" {
        c.RedisURL = v
    }
    if v := os.Getenv("KAFKA_BROKERS"); v != "" {
        c.Kafka.Brokers = splitCSV(v)
    }
    if v := os.Getenv("KAFKA_TOPIC"); v != "" {
        c.Kafka.Topic = v
    }
    if v := os.Getenv("KAFKA_GROUP_ID"); v != "" {
        c.Kafka.GroupID = v
    }
    if v := os.Getenv("ENGINE_WORKERS"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 {
            c.Engine.Workers = n
        }
    }
    if v := os.Getenv("ENGINE_QUEUE_LEN"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 {
            c.Engine.QueueLen = n
        }
    }
    if v := os.Getenv("GEOFENCE_CACHE_TTL"); v != "" {
        if d, err := time.ParseDuration(v); err == nil && d > 0 {
            c.Registry.CacheTTL = d
        }
    }
    if v := os.Getenv("GEOFENCE_LOAD_TIMEOUT"); v != "" {
        if d, err := time.ParseDuration(v); err == nil && d > 0 {
            c.Registry.LoadTimeout = d
        }
    }
}

func splitCSV(s string) []string {
    parts := strings.Split(s, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        if p = strings.TrimSpace(p); p != "" {
            out = append(out, p)
        }
    }
    return out
}
