// Package config provides configuration management for engram.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir string
}

func (s *ConfigSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
	s.T().Setenv("HOME", s.tempDir)
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) writeSettings(content string) {
	s.Require().NoError(EnsureDataDir())
	s.Require().NoError(os.WriteFile(SettingsPath(), []byte(content), 0o600))
}

// TestDefault tests default configuration values.
func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal("hybrid", cfg.Retrieval.Strategy)
	s.Equal(20, cfg.Retrieval.DefaultLimit)
	s.Equal(100, cfg.Retrieval.MaxLimit)
	s.Equal(60, cfg.Retrieval.RRFK)
	s.Equal(50, cfg.Retrieval.RRFThreshold)
	s.Equal(1000, cfg.Retrieval.CandidateCap)
	s.InDelta(0.7, cfg.Retrieval.HybridAlpha, 1e-9)
	s.InDelta(0.05, cfg.Retrieval.ScopeDecay, 1e-9)
	s.InDelta(1.0, cfg.Scoring.Relevance+cfg.Scoring.TextMatch+cfg.Scoring.Priority+cfg.Scoring.Recency, 1e-9)
	s.Equal(30*24*time.Hour, cfg.Scoring.RecencyHalfLife)
	s.True(cfg.SmartPriority.Enabled)
	s.Equal(DefaultEmbeddingModel, cfg.Embedding.Model)
	s.Equal(10*time.Second, cfg.Embedding.Timeout)
	s.Equal(DefaultMaxTokens, cfg.Embedding.MaxTokens)
	s.Equal(4, cfg.Store.MaxConns)
	s.Equal(DBPath(), cfg.Store.DSN)
	s.Equal(DefaultVectorBackend, cfg.Vector.Backend)
}

func (s *ConfigSuite) TestPaths() {
	s.Equal(filepath.Join(s.tempDir, ".engram"), DataDir())
	s.Contains(DBPath(), "engram.db")
	s.Contains(SettingsPath(), "settings.json")
	s.Contains(IntentsPath(), "intents.yaml")
}

func (s *ConfigSuite) TestEnsureAll() {
	s.Require().NoError(EnsureAll())

	info, err := os.Stat(DataDir())
	s.Require().NoError(err)
	s.True(info.IsDir())

	data, err := os.ReadFile(SettingsPath())
	s.Require().NoError(err)
	s.Equal("{}\n", string(data))
}

func (s *ConfigSuite) TestEnsureSettingsKeepsExisting() {
	s.writeSettings(`{"ENGRAM_RRF_K": 10}`)
	s.Require().NoError(EnsureSettings())

	data, err := os.ReadFile(SettingsPath())
	s.Require().NoError(err)
	s.Contains(string(data), "ENGRAM_RRF_K")
}

// TestLoad_TableDriven tests configuration loading with various scenarios.
func (s *ConfigSuite) TestLoad_TableDriven() {
	tests := []struct {
		check    func(cfg *Config)
		name     string
		settings string
	}{
		{
			name:  "no settings file",
			check: func(cfg *Config) { s.Equal(Default(), cfg) },
		},
		{
			name:     "numeric and string values",
			settings: `{"ENGRAM_RRF_K": 30, "ENGRAM_SEARCH_STRATEGY": "lexical", "ENGRAM_HYBRID_ALPHA": 0.4}`,
			check: func(cfg *Config) {
				s.Equal(30, cfg.Retrieval.RRFK)
				s.Equal("lexical", cfg.Retrieval.Strategy)
				s.InDelta(0.4, cfg.Retrieval.HybridAlpha, 1e-9)
			},
		},
		{
			name:     "booleans and durations",
			settings: `{"ENGRAM_SMART_PRIORITY": false, "ENGRAM_EMBEDDING_TIMEOUT": "3s", "ENGRAM_SEARCH_TIMEOUT": 1500}`,
			check: func(cfg *Config) {
				s.False(cfg.SmartPriority.Enabled)
				s.Equal(3*time.Second, cfg.Embedding.Timeout)
				s.Equal(1500*time.Millisecond, cfg.Retrieval.Timeout)
			},
		},
		{
			name:     "invalid values are ignored",
			settings: `{"ENGRAM_RRF_K": -5, "ENGRAM_HYBRID_ALPHA": "lots", "ENGRAM_DEFAULT_LIMIT": 7}`,
			check: func(cfg *Config) {
				s.Equal(60, cfg.Retrieval.RRFK)
				s.InDelta(0.7, cfg.Retrieval.HybridAlpha, 1e-9)
				s.Equal(7, cfg.Retrieval.DefaultLimit)
			},
		},
		{
			name:     "unknown keys are ignored",
			settings: `{"ENGRAM_WORKER_PORT": 37777}`,
			check:    func(cfg *Config) { s.Equal(Default(), cfg) },
		},
		{
			name:     "malformed json falls back to defaults",
			settings: `{not json`,
			check:    func(cfg *Config) { s.Equal(Default(), cfg) },
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.T().Setenv("HOME", s.T().TempDir())
			if tt.settings != "" {
				s.writeSettings(tt.settings)
			}
			cfg, err := Load()
			s.Require().NoError(err)
			tt.check(cfg)
		})
	}
}

func (s *ConfigSuite) TestEnvOverridesSettings() {
	s.writeSettings(`{"ENGRAM_EMBEDDING_MODEL": "from-file", "ENGRAM_MAX_CONNS": 8}`)
	s.T().Setenv("ENGRAM_EMBEDDING_MODEL", "from-env")
	s.T().Setenv("ENGRAM_EMBEDDING_API_KEY", "sk-test")
	s.T().Setenv("ENGRAM_DB_DRIVER", "postgres")

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal("from-env", cfg.Embedding.Model)
	s.Equal("sk-test", cfg.Embedding.APIKey)
	s.Equal(8, cfg.Store.MaxConns)
	s.Equal("postgres", cfg.Store.Driver)
}

func TestDurationVar(t *testing.T) {
	var d time.Duration
	set := durationVar(&d)

	require.NoError(t, set("250"))
	assert.Equal(t, 250*time.Millisecond, d)
	require.NoError(t, set("2m"))
	assert.Equal(t, 2*time.Minute, d)
	assert.Error(t, set("soon"))
	assert.Equal(t, 2*time.Minute, d)
}

func TestFloatVarRejectsNonFinite(t *testing.T) {
	f := 0.5
	set := floatVar(&f)
	assert.Error(t, set("NaN"))
	assert.Error(t, set("+Inf"))
	assert.Error(t, set("-0.1"))
	assert.InDelta(t, 0.5, f, 1e-9)
}

func TestAPIKeyNotSerialized(t *testing.T) {
	cfg := Default()
	cfg.Embedding.APIKey = "sk-secret"
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret")
}
