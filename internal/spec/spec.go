package spec

import (
	"fmt"
	"path"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aescanero/phaseline/pkg/domain"
)

// Pipeline is a parsed manifest.
type Pipeline struct {
	Name   string      `yaml:"name"`
	Seeds  []string    `yaml:"seeds,omitempty"`
	Caches []CacheDecl `yaml:"caches,omitempty"`
	Phases []Phase     `yaml:"phases"`
}

// CacheDecl declares a persistent cache artifact. The key may contain
// template expressions ({{.Branch}} and friends) and is rendered once per
// run; the payload survives across runs under the rendered key.
type CacheDecl struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// Phase is an ordered group of stages. Phases execute strictly in declared
// order; stages within a phase may run concurrently.
type Phase struct {
	Name   string  `yaml:"name"`
	Stages []Stage `yaml:"stages"`
}

// Stage binds one external tool invocation into the pipeline.
type Stage struct {
	ID            string               `yaml:"id"`
	Run           []string             `yaml:"run"`
	Env           map[string]string    `yaml:"env,omitempty"`
	Inputs        []ArtifactRef        `yaml:"inputs,omitempty"`
	Outputs       []ArtifactRef        `yaml:"outputs,omitempty"`
	Caches        []ArtifactRef        `yaml:"caches,omitempty"`
	FailurePolicy domain.FailurePolicy `yaml:"failure_policy,omitempty"`
	Timeout       Duration             `yaml:"timeout,omitempty"`
	Condition     *Condition           `yaml:"condition,omitempty"`
}

// Policy returns the stage's failure policy, defaulting to fatal.
func (s *Stage) Policy() domain.FailurePolicy {
	if s.FailurePolicy == "" {
		return domain.FailurePolicyFatal
	}
	return s.FailurePolicy
}

// ArtifactRef names an artifact and the stage-relative path it is
// materialized at or collected from. In YAML a bare string is shorthand
// for {name: <string>}.
type ArtifactRef struct {
	Name string `yaml:"name"`
	Path string `yaml:"path,omitempty"`
}

// UnmarshalYAML accepts both the scalar shorthand and the mapping form.
func (r *ArtifactRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&r.Name)
	}
	type rawRef ArtifactRef
	var raw rawRef
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*r = ArtifactRef(raw)
	return nil
}

// RelPath returns the stage-relative path for the artifact, defaulting to
// its name.
func (r ArtifactRef) RelPath() string {
	if r.Path != "" {
		return r.Path
	}
	return r.Name
}

// Condition restricts a stage to matching triggers. Patterns are path.Match
// globs, so "release/*" covers release branches. A nil or empty condition
// matches every trigger; an empty trigger field never matches a pattern.
type Condition struct {
	Branches []string `yaml:"branches,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
}

// Matches reports whether the trigger satisfies the condition.
func (c *Condition) Matches(t domain.Trigger) bool {
	if c == nil || (len(c.Branches) == 0 && len(c.Tags) == 0) {
		return true
	}
	if t.Branch != "" && matchAny(c.Branches, t.Branch) {
		return true
	}
	if t.Tag != "" && matchAny(c.Tags, t.Tag) {
		return true
	}
	return false
}

func matchAny(patterns []string, value string) bool {
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, value); err == nil && ok {
			return true
		}
	}
	return false
}

// Duration wraps time.Duration for YAML values like "90s" or "10m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Validate checks the pipeline structure for errors the schema cannot
// express: duplicate ids and names, unknown cache references, and path
// escapes.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if len(p.Phases) == 0 {
		return fmt.Errorf("pipeline must define at least one phase")
	}

	caches := make(map[string]struct{}, len(p.Caches))
	for _, c := range p.Caches {
		if c.Name == "" || c.Key == "" {
			return fmt.Errorf("cache declarations need a name and a key")
		}
		if _, ok := caches[c.Name]; ok {
			return fmt.Errorf("duplicate cache name: %s", c.Name)
		}
		caches[c.Name] = struct{}{}
	}

	seeds := make(map[string]struct{}, len(p.Seeds))
	for _, s := range p.Seeds {
		if s == "" {
			return fmt.Errorf("seed artifact names must not be empty")
		}
		if _, ok := seeds[s]; ok {
			return fmt.Errorf("duplicate seed artifact: %s", s)
		}
		seeds[s] = struct{}{}
	}

	phases := make(map[string]struct{}, len(p.Phases))
	stageIDs := make(map[string]struct{})
	for _, phase := range p.Phases {
		if phase.Name == "" {
			return fmt.Errorf("phase name is required")
		}
		if _, ok := phases[phase.Name]; ok {
			return fmt.Errorf("duplicate phase name: %s", phase.Name)
		}
		phases[phase.Name] = struct{}{}

		if len(phase.Stages) == 0 {
			return fmt.Errorf("phase %s must define at least one stage", phase.Name)
		}
		for i := range phase.Stages {
			st := &phase.Stages[i]
			if err := validateStage(st, caches); err != nil {
				return fmt.Errorf("phase %s: %w", phase.Name, err)
			}
			if _, ok := stageIDs[st.ID]; ok {
				return fmt.Errorf("duplicate stage id: %s", st.ID)
			}
			stageIDs[st.ID] = struct{}{}
		}
	}

	return nil
}

func validateStage(st *Stage, caches map[string]struct{}) error {
	if st.ID == "" {
		return fmt.Errorf("stage id is required")
	}
	if len(st.Run) == 0 {
		return fmt.Errorf("stage %s must have a run command", st.ID)
	}
	if st.FailurePolicy != "" && !st.FailurePolicy.Valid() {
		return fmt.Errorf("stage %s has unknown failure policy %q", st.ID, st.FailurePolicy)
	}
	if st.Timeout.Std() < 0 {
		return fmt.Errorf("stage %s has negative timeout", st.ID)
	}

	if err := validateRefs(st.ID, "input", st.Inputs); err != nil {
		return err
	}
	if err := validateRefs(st.ID, "output", st.Outputs); err != nil {
		return err
	}
	if err := validateRefs(st.ID, "cache", st.Caches); err != nil {
		return err
	}
	for _, ref := range st.Caches {
		if _, ok := caches[ref.Name]; !ok {
			return fmt.Errorf("stage %s references undeclared cache %s", st.ID, ref.Name)
		}
	}
	return nil
}

func validateRefs(stageID, kind string, refs []ArtifactRef) error {
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if ref.Name == "" {
			return fmt.Errorf("stage %s has an unnamed %s", stageID, kind)
		}
		if _, ok := seen[ref.Name]; ok {
			return fmt.Errorf("stage %s declares %s %s twice", stageID, kind, ref.Name)
		}
		seen[ref.Name] = struct{}{}
		if !filepath.IsLocal(ref.RelPath()) {
			return fmt.Errorf("stage %s %s %s has a path escaping the stage directory: %s",
				stageID, kind, ref.Name, ref.RelPath())
		}
	}
	return nil
}
