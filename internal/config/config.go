// Package config provides configuration management for engram.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/engram-recall/internal/priority"
)

// Defaults for settings without a natural zero value.
const (
	DefaultEmbeddingModel    = "text-embedding-3-small"
	DefaultEmbeddingProvider = "openai"
	DefaultMaxTokens         = 8191
	DefaultDriver            = "sqlite"
	DefaultVectorBackend     = "memory"
	DefaultVectorTable       = "entry_embeddings"
)

// RetrievalConfig tunes candidate selection and fusion.
type RetrievalConfig struct {
	Strategy            string        `json:"strategy"`
	Timeout             time.Duration `json:"timeout"`
	HybridAlpha         float64       `json:"hybrid_alpha"`
	SemanticThreshold   float64       `json:"semantic_threshold"`
	ScopeDecay          float64       `json:"scope_decay"`
	ScopeDecayFloor     float64       `json:"scope_decay_floor"`
	DefaultLimit        int           `json:"default_limit"`
	MaxLimit            int           `json:"max_limit"`
	RRFK                int           `json:"rrf_k"`
	RRFThreshold        int           `json:"rrf_threshold"`
	CandidateCap        int           `json:"candidate_cap"`
	CandidateMultiplier int           `json:"candidate_multiplier"`
	MaxPerTypeScope     int           `json:"max_per_type_scope"`
	SemanticEnabled     bool          `json:"semantic_enabled"`
	InheritScopes       bool          `json:"inherit_scopes"`
}

// ScoringConfig weighs the components of the base score.
type ScoringConfig struct {
	RecencyHalfLife time.Duration `json:"recency_half_life"`
	Relevance       float64       `json:"relevance"`
	TextMatch       float64       `json:"text_match"`
	Priority        float64       `json:"priority"`
	Recency         float64       `json:"recency"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	BaseURL    string        `json:"base_url"`
	APIKey     string        `json:"-"`
	RedisAddr  string        `json:"redis_addr"`
	Timeout    time.Duration `json:"timeout"`
	CacheTTL   time.Duration `json:"cache_ttl"`
	MaxTokens  int           `json:"max_tokens"`
	CacheSize  int           `json:"cache_size"`
	Dimensions int           `json:"dimensions"`
}

// StoreConfig selects the feedback database.
type StoreConfig struct {
	Driver   string `json:"driver"`
	DSN      string `json:"dsn"`
	MaxConns int    `json:"max_conns"`
}

// VectorConfig selects the vector index backend.
type VectorConfig struct {
	Backend string `json:"backend"`
	DSN     string `json:"dsn"`
	Table   string `json:"table"`
}

// Config holds the complete engram configuration.
type Config struct {
	Embedding     EmbeddingConfig `json:"embedding"`
	Store         StoreConfig     `json:"store"`
	Vector        VectorConfig    `json:"vector"`
	IntentsPath   string          `json:"intents_path"`
	LogLevel      string          `json:"log_level"`
	Retrieval     RetrievalConfig `json:"retrieval"`
	Scoring       ScoringConfig   `json:"scoring"`
	SmartPriority priority.Config `json:"smart_priority"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// DataDir returns the engram data directory.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".engram")
}

// DBPath returns the default feedback database path.
func DBPath() string {
	return filepath.Join(DataDir(), "engram.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// IntentsPath returns the default intent profile path.
func IntentsPath() string {
	return filepath.Join(DataDir(), "intents.yaml")
}

// EnsureDataDir creates the data directory if it does not exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o750)
}

// EnsureSettings writes an empty settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, []byte("{}\n"), 0o600)
}

// EnsureAll ensures the data directory and settings file exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Retrieval: RetrievalConfig{
			Strategy:            "hybrid",
			HybridAlpha:         0.7,
			ScopeDecay:          0.05,
			ScopeDecayFloor:     0.5,
			DefaultLimit:        20,
			MaxLimit:            100,
			RRFK:                60,
			RRFThreshold:        50,
			CandidateCap:        1000,
			CandidateMultiplier: 3,
			MaxPerTypeScope:     500,
			SemanticEnabled:     true,
			InheritScopes:       true,
		},
		Scoring: ScoringConfig{
			Relevance:       0.5,
			TextMatch:       0.2,
			Priority:        0.15,
			Recency:         0.15,
			RecencyHalfLife: 30 * 24 * time.Hour,
		},
		SmartPriority: priority.DefaultConfig(),
		Embedding: EmbeddingConfig{
			Provider:  DefaultEmbeddingProvider,
			Model:     DefaultEmbeddingModel,
			Timeout:   10 * time.Second,
			MaxTokens: DefaultMaxTokens,
			CacheTTL:  10 * time.Minute,
			CacheSize: 1024,
		},
		Store: StoreConfig{
			Driver:   DefaultDriver,
			DSN:      DBPath(),
			MaxConns: 4,
		},
		Vector: VectorConfig{
			Backend: DefaultVectorBackend,
			Table:   DefaultVectorTable,
		},
		IntentsPath: IntentsPath(),
		LogLevel:    "info",
	}
}

// Load reads settings.json, then applies ENGRAM_* environment overrides.
// A missing or malformed settings file yields the defaults.
func Load() (*Config, error) {
	cfg := Default()
	bindings := cfg.bindings()

	data, err := os.ReadFile(SettingsPath())
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if len(data) > 0 {
		var settings map[string]json.RawMessage
		if err := json.Unmarshal(data, &settings); err != nil {
			log.Warn().Err(err).Str("path", SettingsPath()).Msg("Invalid settings file, using defaults")
			return Default(), nil
		}
		for key, raw := range settings {
			set, ok := bindings[key]
			if !ok {
				continue
			}
			if err := set(rawString(raw)); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Ignoring invalid setting")
			}
		}
	}

	for key, set := range bindings {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		if err := set(v); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Ignoring invalid environment override")
		}
	}
	return cfg, nil
}

// Get returns the process configuration, loading it once.
func Get() *Config {
	configOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load settings, using defaults")
			cfg = Default()
		}
		globalConfig = cfg
	})
	return globalConfig
}

// bindings maps every flat ENGRAM_* key to a setter on c.
func (c *Config) bindings() map[string]func(string) error {
	r, s, p, e := &c.Retrieval, &c.Scoring, &c.SmartPriority, &c.Embedding
	return map[string]func(string) error{
		"ENGRAM_SEARCH_STRATEGY":        stringVar(&r.Strategy),
		"ENGRAM_SEARCH_TIMEOUT":         durationVar(&r.Timeout),
		"ENGRAM_HYBRID_ALPHA":           floatVar(&r.HybridAlpha),
		"ENGRAM_SEMANTIC_THRESHOLD":     floatVar(&r.SemanticThreshold),
		"ENGRAM_SCOPE_DECAY":            floatVar(&r.ScopeDecay),
		"ENGRAM_SCOPE_DECAY_FLOOR":      floatVar(&r.ScopeDecayFloor),
		"ENGRAM_DEFAULT_LIMIT":          intVar(&r.DefaultLimit),
		"ENGRAM_MAX_LIMIT":              intVar(&r.MaxLimit),
		"ENGRAM_RRF_K":                  intVar(&r.RRFK),
		"ENGRAM_RRF_THRESHOLD":          intVar(&r.RRFThreshold),
		"ENGRAM_CANDIDATE_CAP":          intVar(&r.CandidateCap),
		"ENGRAM_CANDIDATE_MULTIPLIER":   intVar(&r.CandidateMultiplier),
		"ENGRAM_MAX_PER_TYPE_SCOPE":     intVar(&r.MaxPerTypeScope),
		"ENGRAM_SEMANTIC_ENABLED":       boolVar(&r.SemanticEnabled),
		"ENGRAM_INHERIT_SCOPES":         boolVar(&r.InheritScopes),
		"ENGRAM_WEIGHT_RELEVANCE":       floatVar(&s.Relevance),
		"ENGRAM_WEIGHT_TEXT_MATCH":      floatVar(&s.TextMatch),
		"ENGRAM_WEIGHT_PRIORITY":        floatVar(&s.Priority),
		"ENGRAM_WEIGHT_RECENCY":         floatVar(&s.Recency),
		"ENGRAM_RECENCY_HALF_LIFE":      durationVar(&s.RecencyHalfLife),
		"ENGRAM_SMART_PRIORITY":         boolVar(&p.Enabled),
		"ENGRAM_PRIORITY_LOOKBACK_DAYS": intVar(&p.LookbackDays),
		"ENGRAM_PRIORITY_INFLUENCE":     floatVar(&p.ScoreInfluence),
		"ENGRAM_CONTEXT_SIMILARITY":     boolVar(&p.ContextSimilarityEnabled),
		"ENGRAM_EMBEDDING_PROVIDER":     stringVar(&e.Provider),
		"ENGRAM_EMBEDDING_MODEL":        stringVar(&e.Model),
		"ENGRAM_EMBEDDING_BASE_URL":     stringVar(&e.BaseURL),
		"ENGRAM_EMBEDDING_API_KEY":      stringVar(&e.APIKey),
		"ENGRAM_EMBEDDING_TIMEOUT":      durationVar(&e.Timeout),
		"ENGRAM_EMBEDDING_MAX_TOKENS":   intVar(&e.MaxTokens),
		"ENGRAM_EMBEDDING_DIMENSIONS":   intVar(&e.Dimensions),
		"ENGRAM_EMBEDDING_CACHE_TTL":    durationVar(&e.CacheTTL),
		"ENGRAM_EMBEDDING_CACHE_SIZE":   intVar(&e.CacheSize),
		"ENGRAM_REDIS_ADDR":             stringVar(&e.RedisAddr),
		"ENGRAM_DB_DRIVER":              stringVar(&c.Store.Driver),
		"ENGRAM_DB_DSN":                 stringVar(&c.Store.DSN),
		"ENGRAM_MAX_CONNS":              intVar(&c.Store.MaxConns),
		"ENGRAM_VECTOR_BACKEND":         stringVar(&c.Vector.Backend),
		"ENGRAM_VECTOR_DSN":             stringVar(&c.Vector.DSN),
		"ENGRAM_VECTOR_TABLE":           stringVar(&c.Vector.Table),
		"ENGRAM_INTENTS_PATH":           stringVar(&c.IntentsPath),
		"ENGRAM_LOG_LEVEL":              stringVar(&c.LogLevel),
	}
}

// rawString unquotes JSON strings and passes numbers and booleans through.
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func stringVar(dst *string) func(string) error {
	return func(v string) error {
		*dst = strings.TrimSpace(v)
		return nil
	}
}

func intVar(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("must not be negative: %d", n)
		}
		*dst = n
		return nil
	}
}

func floatVar(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return err
		}
		if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("must be a non-negative number: %v", f)
		}
		*dst = f
		return nil
	}
}

func boolVar(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

// durationVar accepts Go durations ("10s") or integer milliseconds.
func durationVar(dst *time.Duration) func(string) error {
	return func(v string) error {
		v = strings.TrimSpace(v)
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = time.Duration(ms) * time.Millisecond
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}
