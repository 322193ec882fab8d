package flags

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileDocument is the YAML bootstrap format: a single "flags" list of
// definitions.
type fileDocument struct {
	Flags []FlagDefinition `yaml:"flags"`
}

// ParseYAML decodes flag definitions from a YAML document and validates
// each one. Duplicate keys within the document are rejected.
func ParseYAML(data []byte) ([]FlagDefinition, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse flag definitions: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Flags))
	for i := range doc.Flags {
		def := &doc.Flags[i]
		if def.Type == "" {
			def.Type = TypeBoolean
		}
		if err := validateDefinition(*def); err != nil {
			return nil, fmt.Errorf("flag %q: %w", def.Key, err)
		}
		if _, dup := seen[def.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q in document", ErrInvalidFlag, def.Key)
		}
		seen[def.Key] = struct{}{}
	}
	return doc.Flags, nil
}

// LoadFile reads and parses flag definitions from a YAML file.
func LoadFile(path string) ([]FlagDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flag file %s: %w", path, err)
	}
	return ParseYAML(data)
}

// SeedStore inserts the definitions into the store, skipping keys that
// already exist. It is the bootstrap path for fresh environments; it never
// overwrites live configuration.
func SeedStore(ctx context.Context, store Store, defs []FlagDefinition) (int, error) {
	seeded := 0
	for _, def := range defs {
		_, err := store.GetFlag(ctx, def.Key)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrFlagNotFound) {
			return seeded, fmt.Errorf("check flag %s: %w", def.Key, err)
		}

		if def.Version == 0 {
			def.Version = 1
		}
		if err := store.SaveFlag(ctx, def); err != nil {
			return seeded, fmt.Errorf("seed flag %s: %w", def.Key, err)
		}
		seeded++
	}
	return seeded, nil
}
