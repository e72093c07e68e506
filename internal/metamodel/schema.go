// Package metamodel describes the classes and features of an RText language.
// It loads schema definitions from YAML and answers the structural queries the
// completion engine needs through the cached Descriptor adapter.
package metamodel

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownType is returned when a feature refers to a type the schema does not define
	ErrUnknownType = errors.New("unknown type")
	// ErrDuplicateName is returned when two classes or enums share a name
	ErrDuplicateName = errors.New("duplicate name")
)

// ValueKind categorizes the value type of a feature
type ValueKind int

const (
	// KindString is a quoted string value
	KindString ValueKind = iota
	// KindInteger is an integer value
	KindInteger
	// KindFloat is a floating point value
	KindFloat
	// KindBoolean is true or false
	KindBoolean
	// KindEnum is one of an enum's literals
	KindEnum
	// KindClass is a model element of a class
	KindClass
)

// FeatureKind distinguishes attributes from the two kinds of references
type FeatureKind int

const (
	// Attribute holds a primitive or enum value
	Attribute FeatureKind = iota
	// Containment owns its target elements
	Containment
	// Reference points to elements owned elsewhere
	Reference
)

func (k FeatureKind) String() string {
	switch k {
	case Attribute:
		return "attribute"
	case Containment:
		return "containment"
	case Reference:
		return "reference"
	default:
		return "unknown"
	}
}

// Enum is an enumeration type with literals in declaration order
type Enum struct {
	Name     string
	Literals []string
}

// ValueType is the declared type of a feature
type ValueType struct {
	Kind  ValueKind
	Enum  *Enum
	Class *Class
}

// Name returns the type name used in completion annotations
func (t ValueType) Name() string {
	switch t.Kind {
	case KindString:
		return "String"
	case KindInteger:
		return "Integer"
	case KindFloat:
		return "Float"
	case KindBoolean:
		return "Boolean"
	case KindEnum:
		if t.Enum != nil {
			return t.Enum.Name
		}
	case KindClass:
		if t.Class != nil {
			return t.Class.Name
		}
	}
	return "Unknown"
}

// Feature is an attribute or reference of a class
type Feature struct {
	Name      string
	Kind      FeatureKind
	Type      ValueType
	Many      bool
	Unlabeled bool
	Owner     *Class
}

// IsReference reports whether the feature is a non-containment reference
func (f *Feature) IsReference() bool {
	return f.Kind == Reference
}

// Class is a model element type
type Class struct {
	Name       string
	Abstract   bool
	Supertypes []*Class
	Features   []*Feature
}

// Schema is an immutable set of classes and enums
type Schema struct {
	classes []*Class
	byName  map[string]*Class
	enums   map[string]*Enum
}

// Classes returns all classes in declaration order
func (s *Schema) Classes() []*Class {
	return s.classes
}

// Class looks up a class by name
func (s *Schema) Class(name string) (*Class, bool) {
	c, ok := s.byName[name]
	return c, ok
}

// Enum looks up an enum by name
func (s *Schema) Enum(name string) (*Enum, bool) {
	e, ok := s.enums[name]
	return e, ok
}

// SchemaDef is the serialized form of a schema
type SchemaDef struct {
	Classes []ClassDef `yaml:"classes"`
	Enums   []EnumDef  `yaml:"enums"`
}

// ClassDef is the serialized form of a class
type ClassDef struct {
	Name       string       `yaml:"name"`
	Abstract   bool         `yaml:"abstract"`
	Supertypes []string     `yaml:"supertypes"`
	Features   []FeatureDef `yaml:"features"`
}

// FeatureDef is the serialized form of a feature.
// Type is String, Integer, Float, Boolean, an enum name or a class name.
type FeatureDef struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Many        bool   `yaml:"many"`
	Unlabeled   bool   `yaml:"unlabeled"`
	Containment bool   `yaml:"containment"`
}

// EnumDef is the serialized form of an enum
type EnumDef struct {
	Name     string   `yaml:"name"`
	Literals []string `yaml:"literals"`
}

// LoadSchema reads a YAML schema file
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	return ParseSchema(data)
}

// ParseSchema parses a YAML schema document
func ParseSchema(data []byte) (*Schema, error) {
	var def SchemaDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	return Build(def)
}

// Build links a schema definition into a Schema
func Build(def SchemaDef) (*Schema, error) {
	s := &Schema{
		byName: make(map[string]*Class, len(def.Classes)),
		enums:  make(map[string]*Enum, len(def.Enums)),
	}

	for _, ed := range def.Enums {
		if _, exists := s.enums[ed.Name]; exists {
			return nil, fmt.Errorf("enum %s: %w", ed.Name, ErrDuplicateName)
		}
		s.enums[ed.Name] = &Enum{Name: ed.Name, Literals: append([]string(nil), ed.Literals...)}
	}

	// Classes are created first so features and supertypes can refer forward
	for _, cd := range def.Classes {
		if _, exists := s.byName[cd.Name]; exists {
			return nil, fmt.Errorf("class %s: %w", cd.Name, ErrDuplicateName)
		}
		if _, exists := s.enums[cd.Name]; exists {
			return nil, fmt.Errorf("class %s: %w", cd.Name, ErrDuplicateName)
		}
		c := &Class{Name: cd.Name, Abstract: cd.Abstract}
		s.classes = append(s.classes, c)
		s.byName[cd.Name] = c
	}

	for i, cd := range def.Classes {
		c := s.classes[i]
		for _, name := range cd.Supertypes {
			super, ok := s.byName[name]
			if !ok {
				return nil, fmt.Errorf("supertype %s of %s: %w", name, c.Name, ErrUnknownType)
			}
			c.Supertypes = append(c.Supertypes, super)
		}
		for _, fd := range cd.Features {
			f, err := s.buildFeature(c, fd)
			if err != nil {
				return nil, err
			}
			c.Features = append(c.Features, f)
		}
	}

	return s, nil
}

func (s *Schema) buildFeature(owner *Class, fd FeatureDef) (*Feature, error) {
	f := &Feature{
		Name:      fd.Name,
		Many:      fd.Many,
		Unlabeled: fd.Unlabeled,
		Owner:     owner,
	}

	switch fd.Type {
	case "String":
		f.Type = ValueType{Kind: KindString}
	case "Integer":
		f.Type = ValueType{Kind: KindInteger}
	case "Float":
		f.Type = ValueType{Kind: KindFloat}
	case "Boolean":
		f.Type = ValueType{Kind: KindBoolean}
	default:
		if e, ok := s.enums[fd.Type]; ok {
			f.Type = ValueType{Kind: KindEnum, Enum: e}
		} else if c, ok := s.byName[fd.Type]; ok {
			f.Type = ValueType{Kind: KindClass, Class: c}
		} else {
			return nil, fmt.Errorf("feature %s.%s type %q: %w", owner.Name, fd.Name, fd.Type, ErrUnknownType)
		}
	}

	switch {
	case f.Type.Kind != KindClass:
		if fd.Containment {
			return nil, fmt.Errorf("feature %s.%s: containment requires a class type", owner.Name, fd.Name)
		}
		f.Kind = Attribute
	case fd.Containment:
		f.Kind = Containment
	default:
		f.Kind = Reference
	}

	return f, nil
}

// ConformsTo reports whether c is super or one of its transitive subtypes
func (c *Class) ConformsTo(super *Class) bool {
	if c == super {
		return true
	}
	for _, s := range c.Supertypes {
		if s.ConformsTo(super) {
			return true
		}
	}
	return false
}
