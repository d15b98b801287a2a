package schema

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/infoburn/internal/entity"
)

// Kind is the type tag of a schema field.
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindEnum    Kind = "enum"
	KindDate    Kind = "date"
	KindObject  Kind = "object"
	KindList    Kind = "list"
	// KindUnion is an object whose shape is selected by its Discriminator.
	KindUnion Kind = "union"
)

// DefaultDateLayout is ISO-8601 calendar date.
const DefaultDateLayout = time.DateOnly

// Field is one node of the declarative schema tree. Constraints left at
// their zero value are not checked.
type Field struct {
	Name        string `yaml:"name"`
	Kind        Kind   `yaml:"kind"`
	Description string `yaml:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty"`

	Min       *float64 `yaml:"min,omitempty"`
	Max       *float64 `yaml:"max,omitempty"`
	MinLength *int     `yaml:"min_length,omitempty"`
	MaxLength *int     `yaml:"max_length,omitempty"`
	Pattern   string   `yaml:"pattern,omitempty"`
	Enum      []string `yaml:"enum,omitempty"`
	MinItems  *int     `yaml:"min_items,omitempty"`
	MaxItems  *int     `yaml:"max_items,omitempty"`
	// DateLayout is a Go time layout; empty means DefaultDateLayout.
	DateLayout string `yaml:"date_layout,omitempty"`

	Fields               []*Field  `yaml:"fields,omitempty"`
	Items                *Field    `yaml:"items,omitempty"`
	AdditionalProperties bool      `yaml:"additional_properties,omitempty"`
	Discriminator        string    `yaml:"discriminator,omitempty"`
	Variants             []Variant `yaml:"variants,omitempty"`

	re *regexp.Regexp
}

// Variant is one arm of a union, selected when the discriminator equals Value.
type Variant struct {
	Value  string   `yaml:"value"`
	Fields []*Field `yaml:"fields"`
}

// Rule is a cross-field check evaluated after the tree validates.
type Rule struct {
	// Kind is currently always "date_order": the dated fields must be
	// non-decreasing in the listed order. Null fields are skipped.
	Kind   string   `yaml:"kind"`
	Fields []string `yaml:"fields"`
}

// Schema is a named, versioned record definition. Published schemas are
// immutable; a change is a new version.
type Schema struct {
	Name        string `yaml:"name"`
	Version     int    `yaml:"version"`
	Description string `yaml:"description,omitempty"`
	Root        *Field `yaml:"root"`
	Rules       []Rule `yaml:"rules,omitempty"`

	jsonOnce     sync.Once
	jsonSchema   map[string]any
	compiled     *jsonschema.Schema
	compileError error
}

func (s *Schema) Ref() entity.SchemaRef {
	return entity.SchemaRef{Name: s.Name, Version: s.Version}
}

func (f *Field) layout() string {
	if f.DateLayout != "" {
		return f.DateLayout
	}
	return DefaultDateLayout
}

// prepare checks the definition and compiles patterns. Called once on publish.
func (s *Schema) prepare() error {
	if s.Name == "" {
		return fmt.Errorf("schema has no name")
	}
	if s.Version < 1 {
		return fmt.Errorf("schema %s: version must be >= 1", s.Name)
	}
	if s.Root == nil {
		return fmt.Errorf("schema %s: no root", s.Ref())
	}
	if s.Root.Kind == "" {
		s.Root.Kind = KindObject
	}
	if s.Root.Kind != KindObject && s.Root.Kind != KindUnion {
		return fmt.Errorf("schema %s: root must be an object or union", s.Ref())
	}
	if err := s.Root.prepare("$"); err != nil {
		return fmt.Errorf("schema %s: %w", s.Ref(), err)
	}
	for i, r := range s.Rules {
		if r.Kind != "date_order" {
			return fmt.Errorf("schema %s: rules[%d]: unknown kind %q", s.Ref(), i, r.Kind)
		}
		for _, path := range r.Fields {
			f := s.Root.child(path)
			if f == nil || f.Kind != KindDate {
				return fmt.Errorf("schema %s: rules[%d]: %q is not a date field", s.Ref(), i, path)
			}
		}
	}
	return nil
}

func (f *Field) prepare(path string) error {
	switch f.Kind {
	case KindString, KindInteger, KindNumber, KindBoolean, KindDate:
	case KindEnum:
		if len(f.Enum) == 0 {
			return fmt.Errorf("%s: enum without values", path)
		}
	case KindObject:
		if err := prepareFields(path, f.Fields); err != nil {
			return err
		}
	case KindList:
		if f.Items == nil {
			return fmt.Errorf("%s: list without items", path)
		}
		if err := f.Items.prepare(path + "[]"); err != nil {
			return err
		}
	case KindUnion:
		if f.Discriminator == "" || len(f.Variants) == 0 {
			return fmt.Errorf("%s: union needs a discriminator and variants", path)
		}
		if err := prepareFields(path, f.Fields); err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, v := range f.Variants {
			if v.Value == "" || seen[v.Value] {
				return fmt.Errorf("%s: duplicate or empty variant %q", path, v.Value)
			}
			seen[v.Value] = true
			if err := prepareFields(path, append(append([]*Field(nil), f.Fields...), v.Fields...)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%s: unknown kind %q", path, f.Kind)
	}
	if f.Pattern != "" {
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return fmt.Errorf("%s: pattern: %w", path, err)
		}
		f.re = re
	}
	return nil
}

func prepareFields(path string, fields []*Field) error {
	seen := map[string]bool{}
	for _, c := range fields {
		if c == nil || c.Name == "" {
			return fmt.Errorf("%s: field without name", path)
		}
		if seen[c.Name] {
			return fmt.Errorf("%s: duplicate field %q", path, c.Name)
		}
		seen[c.Name] = true
		if err := c.prepare(joinPath(path, c.Name)); err != nil {
			return err
		}
	}
	return nil
}

// child resolves a dotted path of object fields below f.
func (f *Field) child(path string) *Field {
	cur := f
	for _, name := range splitPath(path) {
		var next *Field
		for _, c := range cur.Fields {
			if c.Name == name {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// EnumValues lists every enum value and variant tag declared anywhere in s.
func (s *Schema) EnumValues() []string {
	var out []string
	var walk func(f *Field)
	walk = func(f *Field) {
		if f == nil {
			return
		}
		out = append(out, f.Enum...)
		for _, c := range f.Fields {
			walk(c)
		}
		walk(f.Items)
		for _, v := range f.Variants {
			out = append(out, v.Value)
			for _, c := range v.Fields {
				walk(c)
			}
		}
	}
	walk(s.Root)
	return out
}
