// Package profile persists named mapping profiles as YAML files so repeat
// imports from the same vendor system can reuse a reviewed field mapping and
// rule set instead of re-running auto-match.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sitebooks/importer/internal/engine"
)

// Profile is one saved mapping/rule set for a collection.
type Profile struct {
	Name       string                `yaml:"name" json:"name"`
	Collection string                `yaml:"collection" json:"collection"`
	Mappings   []engine.FieldMapping `yaml:"mappings" json:"mappings"`
	Rules      []engine.Rule         `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// nameRe restricts profile names to filesystem-safe identifiers.
var nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Store reads and writes profiles in a directory, one YAML file per profile.
type Store struct {
	dir string
}

// NewStore creates the profile directory if needed and returns a store on it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes a profile, replacing any existing profile of the same name.
func (s *Store) Save(p Profile) error {
	if !nameRe.MatchString(p.Name) {
		return fmt.Errorf("invalid profile name %q", p.Name)
	}
	if p.Collection == "" {
		return fmt.Errorf("profile %q has no collection", p.Name)
	}
	for _, r := range p.Rules {
		if r.Type == engine.RuleCustom {
			return fmt.Errorf("profile %q: custom rules cannot be saved to a profile", p.Name)
		}
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile %q: %w", p.Name, err)
	}
	if err := os.WriteFile(s.path(p.Name), data, 0o644); err != nil {
		return fmt.Errorf("write profile %q: %w", p.Name, err)
	}
	return nil
}

// Load reads one profile by name.
func (s *Store) Load(name string) (Profile, error) {
	if !nameRe.MatchString(name) {
		return Profile{}, fmt.Errorf("invalid profile name %q", name)
	}
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return Profile{}, fmt.Errorf("read profile %q: %w", name, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	return p, nil
}

// List returns the names of all stored profiles, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a profile.
func (s *Store) Delete(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("invalid profile name %q", name)
	}
	if err := os.Remove(s.path(name)); err != nil {
		return fmt.Errorf("delete profile %q: %w", name, err)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".yaml")
}
