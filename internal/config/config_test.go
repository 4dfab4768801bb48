package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")

	cfg := Load()

	if len(cfg.Scraping.Sources) != 3 {
		t.Fatalf("unexpected default sources: %v", cfg.Scraping.Sources)
	}
	if cfg.Scraping.LookbackDays != 7 {
		t.Fatalf("unexpected lookback: %d", cfg.Scraping.LookbackDays)
	}
	if cfg.Pipeline.SimilarityThreshold != 0.92 {
		t.Fatalf("unexpected similarity threshold: %f", cfg.Pipeline.SimilarityThreshold)
	}
	if cfg.Pipeline.Cluster.Eps != 0.3 || cfg.Pipeline.Cluster.MinClusterSize != 3 {
		t.Fatalf("unexpected cluster defaults: %+v", cfg.Pipeline.Cluster)
	}
	if cfg.Embedding.Dimensions != 768 {
		t.Fatalf("unexpected embedding dimensions: %d", cfg.Embedding.Dimensions)
	}
	if cfg.Generation.Concurrency != 4 {
		t.Fatalf("unexpected generation concurrency: %d", cfg.Generation.Concurrency)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("unexpected log level: %s", cfg.Logging.Level)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
scraping:
  lookbackDays: 3
  sources: [rss]
pipeline:
  similarityThreshold: 0.8
generation:
  maxTopics: 5
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)

	cfg := Load()

	if cfg.Scraping.LookbackDays != 3 {
		t.Fatalf("yaml lookback not applied: %d", cfg.Scraping.LookbackDays)
	}
	if len(cfg.Scraping.Sources) != 1 || cfg.Scraping.Sources[0] != "rss" {
		t.Fatalf("yaml sources not applied: %v", cfg.Scraping.Sources)
	}
	if cfg.Pipeline.SimilarityThreshold != 0.8 {
		t.Fatalf("yaml threshold not applied: %f", cfg.Pipeline.SimilarityThreshold)
	}
	if cfg.Generation.MaxTopics != 5 {
		t.Fatalf("yaml max topics not applied: %d", cfg.Generation.MaxTopics)
	}
	// Untouched sections keep their defaults.
	if cfg.Pipeline.Cluster.Eps != 0.3 {
		t.Fatalf("cluster defaults lost: %+v", cfg.Pipeline.Cluster)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(databaseDSNEnv, "postgres://env/dsn")
	t.Setenv(anthropicAPIKeyEnv, "anthropic-key")
	t.Setenv(embeddingAPIKeyEnv, "embed-key")
	t.Setenv(youtubeAPIKeyEnv, "yt-key")

	cfg := Load()

	if cfg.Database.DSN != "postgres://env/dsn" {
		t.Fatalf("dsn override not applied: %s", cfg.Database.DSN)
	}
	if cfg.Generation.APIKey != "anthropic-key" {
		t.Fatalf("generation key override not applied")
	}
	if cfg.Embedding.APIKey != "embed-key" {
		t.Fatalf("embedding key override not applied")
	}
	if cfg.Scraping.YouTube.APIKey != "yt-key" {
		t.Fatalf("youtube key override not applied")
	}
}

func TestLoadIgnoresBrokenConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)

	cfg := Load()
	if cfg.Scraping.LookbackDays != 7 {
		t.Fatalf("defaults lost on broken config: %d", cfg.Scraping.LookbackDays)
	}
}
