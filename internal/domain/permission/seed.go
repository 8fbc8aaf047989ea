package permission

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// SeedFile is the YAML layout of preconfigured rules:
//
//	rules:
//	  - origin: https://app.example
//	    hosts: [api.example.com]
//	  - origin: https://admin.example
//	    all: true
type SeedFile struct {
	Rules []SeedRule `yaml:"rules"`
}

type SeedRule struct {
	Origin string   `yaml:"origin"`
	All    bool     `yaml:"all"`
	Hosts  []string `yaml:"hosts"`
}

// ParseSeed decodes seed YAML into user rules.
func ParseSeed(data []byte) ([]*Rule, error) {
	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	rules := make([]*Rule, 0, len(file.Rules))
	for i, sr := range file.Rules {
		origin, err := NormalizeOrigin(sr.Origin)
		if err != nil {
			return nil, fmt.Errorf("seed rule %d: %w", i, err)
		}
		scope := AllHosts()
		if !sr.All {
			scope = SpecificHosts(sr.Hosts...)
		}
		rules = append(rules, &Rule{Origin: origin, Scope: scope, From: FromUser})
	}
	return rules, nil
}

// LoadSeed reads and parses a seed file.
func LoadSeed(path string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed %s: %w", path, err)
	}
	return ParseSeed(data)
}

// ImportSeed adds seeded rules whose origins have no rule yet and returns
// how many were added. Existing rules are left untouched.
func ImportSeed(ctx context.Context, store Store, rules []*Rule) (int, error) {
	added := 0
	for _, r := range rules {
		err := store.Add(ctx, r)
		if errors.Is(err, ErrOriginExists) {
			continue
		}
		if err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
