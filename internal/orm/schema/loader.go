package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// File is the on-disk form of a descriptor table.
type File struct {
	Resources []ResourceDefinition `yaml:"resources" toml:"resources"`
}

// ResourceDefinition describes one entity in a schema file.
type ResourceDefinition struct {
	Name          string                   `yaml:"name" toml:"name"`
	Table         string                   `yaml:"table,omitempty" toml:"table"`
	Fields        []FieldDefinition        `yaml:"fields" toml:"fields"`
	Relationships []RelationshipDefinition `yaml:"relationships,omitempty" toml:"relationships"`
}

// FieldDefinition describes one column in a schema file.
type FieldDefinition struct {
	Name     string `yaml:"name" toml:"name"`
	Column   string `yaml:"column,omitempty" toml:"column"`
	Type     string `yaml:"type,omitempty" toml:"type"`
	Nullable bool   `yaml:"nullable,omitempty" toml:"nullable"`
	Primary  bool   `yaml:"primary,omitempty" toml:"primary"`
}

// RelationshipDefinition describes one relationship in a schema file.
type RelationshipDefinition struct {
	Name           string `yaml:"name" toml:"name"`
	Type           string `yaml:"type" toml:"type"`
	Target         string `yaml:"target" toml:"target"`
	ForeignKey     string `yaml:"foreign_key,omitempty" toml:"foreign_key"`
	OrderBy        string `yaml:"order_by,omitempty" toml:"order_by"`
	JoinTable      string `yaml:"join_table,omitempty" toml:"join_table"`
	AssociationKey string `yaml:"association_key,omitempty" toml:"association_key"`
	Nullable       bool   `yaml:"nullable,omitempty" toml:"nullable"`
	Strategy       string `yaml:"strategy,omitempty" toml:"strategy"`
}

// LoadFile reads a YAML or TOML schema file, registers every resource and
// validates the result.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}

	var file File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &file); err != nil {
			return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported schema file format: %s", path)
	}

	return file.Build()
}

// Build converts the definitions into a validated Registry.
func (f *File) Build() (*Registry, error) {
	registry := NewRegistry()
	for _, def := range f.Resources {
		rs, err := def.build()
		if err != nil {
			return nil, err
		}
		if err := registry.Register(rs); err != nil {
			return nil, err
		}
	}
	if err := registry.ValidateAll(); err != nil {
		return nil, err
	}
	return registry, nil
}

func (d ResourceDefinition) build() (*ResourceSchema, error) {
	rs := NewResourceSchema(d.Name)
	if d.Table != "" {
		rs.TableName = d.Table
	}

	for _, fd := range d.Fields {
		typ, err := ParsePrimitiveType(fd.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", d.Name, fd.Name, err)
		}
		rs.AddField(&Field{
			Name:     fd.Name,
			Column:   fd.Column,
			Type:     typ,
			Nullable: fd.Nullable,
			Primary:  fd.Primary,
		})
	}

	for _, rd := range d.Relationships {
		typ, err := ParseRelationType(rd.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", d.Name, rd.Name, err)
		}
		strategy, err := ParseLoadStrategy(rd.Strategy)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", d.Name, rd.Name, err)
		}
		rs.AddRelationship(&Relationship{
			Name:           rd.Name,
			Type:           typ,
			TargetResource: rd.Target,
			Nullable:       rd.Nullable,
			ForeignKey:     rd.ForeignKey,
			OrderBy:        rd.OrderBy,
			JoinTable:      rd.JoinTable,
			AssociationKey: rd.AssociationKey,
			Strategy:       strategy,
		})
	}

	return rs, nil
}
