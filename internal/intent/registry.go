package intent

import (
	"fmt"
	"math"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/thebtf/engram-recall/pkg/models"
)

// Profile overrides the type weights of one intent.
type Profile struct {
	Name    string             `yaml:"name"`
	Weights map[string]float64 `yaml:"weights"`
}

// File is the top-level YAML structure of an intent profile file.
type File struct {
	Intents []Profile `yaml:"intents"`
}

// Registry holds the active per-intent type weights. It is safe for
// concurrent use and can be reloaded while queries run.
type Registry struct {
	weights map[Intent]map[models.EntryType]float64
	mu      sync.RWMutex
}

// NewRegistry returns a registry with the built-in weights.
func NewRegistry() *Registry {
	return &Registry{weights: DefaultWeights()}
}

// Load reads the YAML file at path and returns a Registry with its overrides
// applied on top of the defaults. A missing file yields the defaults.
func Load(path string) (*Registry, error) {
	r := NewRegistry()
	if err := r.Reload(path); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the active weights with defaults plus the overrides in path.
// On error the previous weights stay active.
func (r *Registry) Reload(path string) error {
	weights, err := readProfiles(path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.weights = weights
	r.mu.Unlock()
	return nil
}

func readProfiles(path string) (map[Intent]map[models.EntryType]float64, error) {
	weights := DefaultWeights()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return weights, nil
		}
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse intent profiles: %w", err)
	}
	for _, p := range f.Intents {
		in, err := Parse(p.Name)
		if err != nil {
			return nil, err
		}
		for typeName, w := range p.Weights {
			t, err := models.ParseEntryType(typeName)
			if err != nil {
				return nil, fmt.Errorf("intent %s: %w", in, err)
			}
			if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
				return nil, fmt.Errorf("intent %s: invalid weight %v for %s", in, w, t)
			}
			weights[in][t] = w
		}
	}
	return weights, nil
}

// Weight returns the weight of entry type t under intent in. Unknown intents
// and types weigh 1.0.
func (r *Registry) Weight(in Intent, t models.EntryType) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if byType, ok := r.weights[in]; ok {
		if w, ok := byType[t]; ok {
			return w
		}
	}
	return 1.0
}

// Weights returns a copy of the type weights for in.
func (r *Registry) Weights(in Intent) map[models.EntryType]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[models.EntryType]float64, len(models.AllEntryTypes))
	for _, t := range models.AllEntryTypes {
		out[t] = 1.0
	}
	for t, w := range r.weights[in] {
		out[t] = w
	}
	return out
}
