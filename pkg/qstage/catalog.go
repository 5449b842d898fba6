// Package qstage describes pipeline stages and derives per-stage visual state
// from the latest run payload.
package qstage

import (
	"fmt"
	"strings"

	"github.com/quatton/qwatch/pkg/qrun"
)

// Stage is one entry of a pipeline's stage catalog.
type Stage struct {
	Key         string
	Index       int
	Label       string
	ArtifactKey string // empty when the stage publishes no artifact
}

// Catalog is the ordered, immutable stage list of one pipeline variant
// together with the variant's rules for reading run payloads.
type Catalog struct {
	Variant string
	stages  []Stage

	// StepStatesAuthoritative makes reported step_states win over status.
	StepStatesAuthoritative bool
	// Inference locates the failing stage of a FAILED run that names none.
	Inference FailureInference
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithStepStates marks the variant's step_states as authoritative.
func WithStepStates() Option {
	return func(c *Catalog) {
		c.StepStatesAuthoritative = true
	}
}

// WithInference sets the failure inference rule.
func WithInference(inf FailureInference) Option {
	return func(c *Catalog) {
		c.Inference = inf
	}
}

// NewCatalog builds a catalog, assigning order indices from slice position.
func NewCatalog(variant string, stages []Stage, opts ...Option) (*Catalog, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("catalog %q has no stages", variant)
	}
	c := &Catalog{
		Variant:   variant,
		stages:    make([]Stage, len(stages)),
		Inference: ArtifactScan{},
	}
	seen := make(map[string]bool, len(stages))
	for i, s := range stages {
		key := strings.ToLower(strings.TrimSpace(s.Key))
		if key == "" {
			return nil, fmt.Errorf("catalog %q: stage %d has no key", variant, i)
		}
		if seen[key] {
			return nil, fmt.Errorf("catalog %q: duplicate stage %q", variant, key)
		}
		if qrun.StageStatus(key).IsTerminal() || qrun.StageStatus(key) == qrun.StatusQueued {
			return nil, fmt.Errorf("catalog %q: stage key %q collides with a run status", variant, key)
		}
		seen[key] = true
		s.Key = key
		s.Index = i
		if s.Label == "" {
			s.Label = key
		}
		c.stages[i] = s
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// MustCatalog is NewCatalog for static definitions.
func MustCatalog(variant string, stages []Stage, opts ...Option) *Catalog {
	c, err := NewCatalog(variant, stages, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Len returns the number of stages.
func (c *Catalog) Len() int {
	return len(c.stages)
}

// Stages returns a copy of the ordered stages.
func (c *Catalog) Stages() []Stage {
	return append([]Stage(nil), c.stages...)
}

// At returns the stage at index i.
func (c *Catalog) At(i int) Stage {
	return c.stages[i]
}

// Keys returns the ordered stage keys.
func (c *Catalog) Keys() []string {
	keys := make([]string, len(c.stages))
	for i, s := range c.stages {
		keys[i] = s.Key
	}
	return keys
}

// Stage looks a stage up by key, case-insensitively.
func (c *Catalog) Stage(key string) (Stage, bool) {
	i := c.index(key)
	if i < 0 {
		return Stage{}, false
	}
	return c.stages[i], true
}

// IndexOf returns the index of the stage a status names, or -1 when the
// status is QUEUED, terminal or unknown.
func (c *Catalog) IndexOf(status qrun.Status) int {
	return c.index(string(status))
}

func (c *Catalog) index(key string) int {
	for i, s := range c.stages {
		if strings.EqualFold(s.Key, key) {
			return i
		}
	}
	return -1
}

// Info converts the catalog into its wire description.
func (c *Catalog) Info() []qrun.StageInfo {
	out := make([]qrun.StageInfo, len(c.stages))
	for i, s := range c.stages {
		out[i] = qrun.StageInfo{Key: s.Key, Label: s.Label, ArtifactKey: s.ArtifactKey}
	}
	return out
}
