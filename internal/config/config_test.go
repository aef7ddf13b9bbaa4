package config

import (
	"os"
	"testing"
)

func validConfig() Config {
	cfg := Config{HTTP: HTTPConfig{Port: 8000}}
	cfg.ApplyDefaults()
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.Index.Type != "flat" {
		t.Errorf("Index.Type = %q, want flat", cfg.Index.Type)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("Dimensions = %d, want 384", cfg.Embedding.Dimensions)
	}
	if cfg.Search.MinOverlap != 0.3 {
		t.Errorf("MinOverlap = %v, want 0.3", cfg.Search.MinOverlap)
	}
	if cfg.Search.StrongMatch != 0.5 {
		t.Errorf("StrongMatch = %v, want 0.5", cfg.Search.StrongMatch)
	}
	if cfg.Search.DefaultTopK != 5 {
		t.Errorf("DefaultTopK = %d, want 5", cfg.Search.DefaultTopK)
	}
	if cfg.Cache.EmbeddingTTLSec != 86400 {
		t.Errorf("EmbeddingTTLSec = %d, want 86400", cfg.Cache.EmbeddingTTLSec)
	}
	if cfg.Cache.ResultTTLSec != 3600 {
		t.Errorf("ResultTTLSec = %d, want 3600", cfg.Cache.ResultTTLSec)
	}
	if cfg.Storage.DataDir != "data" {
		t.Errorf("DataDir = %q, want data", cfg.Storage.DataDir)
	}
	if cfg.Workers.Max <= 0 {
		t.Errorf("Workers.Max = %d, want > 0", cfg.Workers.Max)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_UnknownIndexType(t *testing.T) {
	cfg := validConfig()
	cfg.Index.Type = "faiss"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown index type")
	}
}

func TestValidate_NProbeExceedsNList(t *testing.T) {
	cfg := validConfig()
	cfg.Index.NList = 10
	cfg.Index.NProbe = 20
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for nprobe > nlist")
	}
}

func TestValidate_StrongMatchBelowMinOverlap(t *testing.T) {
	cfg := validConfig()
	cfg.Search.MinOverlap = 0.5
	cfg.Search.StrongMatch = 0.3
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for strong_match below min_overlap")
	}
}

func TestValidate_ProviderWithoutModel(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.Provider = "openai"
	cfg.Embedding.Model = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for provider without model")
	}
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("MATCHENGINE_TEST_VAR", "from-env")
	defer os.Unsetenv("MATCHENGINE_TEST_VAR")

	cases := []struct {
		in   string
		want string
	}{
		{"key: ${MATCHENGINE_TEST_VAR}", "key: from-env"},
		{"key: ${MATCHENGINE_TEST_VAR:-fallback}", "key: from-env"},
		{"key: ${MATCHENGINE_TEST_UNSET:-fallback}", "key: fallback"},
		{"key: ${MATCHENGINE_TEST_UNSET}", "key: "},
		{"key: plain", "key: plain"},
	}
	for _, tc := range cases {
		if got := string(expandEnvVars([]byte(tc.in))); got != tc.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLoad_LocalConfig(t *testing.T) {
	cfg, err := Load("local")
	if err != nil {
		t.Fatalf("Load(local): %v", err)
	}
	if cfg.HTTP.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.HTTP.Port)
	}
	if cfg.Index.Type == "" {
		t.Error("Index.Type empty after defaults")
	}
}

func TestLoad_MissingEnv(t *testing.T) {
	if _, err := Load("does-not-exist"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestGetEnv(t *testing.T) {
	os.Unsetenv("ENV")
	if got := GetEnv(); got != "local" {
		t.Errorf("GetEnv = %q, want local", got)
	}
	os.Setenv("ENV", "prod")
	defer os.Unsetenv("ENV")
	if got := GetEnv(); got != "prod" {
		t.Errorf("GetEnv = %q, want prod", got)
	}
}
