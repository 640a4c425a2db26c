// Package catalog describes document collections as data and renders each one
// as a MongoDB $jsonSchema validator or a JSON Schema for local validation.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownCollection is returned when a collection name is not in the catalog.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrDuplicateCollection is returned by Add when the name is taken.
	ErrDuplicateCollection = errors.New("duplicate collection")
	// ErrInvalidDefinition classifies malformed collection or field definitions.
	ErrInvalidDefinition = errors.New("invalid collection definition")
	// ErrInvalidDocument is returned by Validate when a document breaks the schema.
	ErrInvalidDocument = errors.New("invalid document")
)

// BSONType is a MongoDB $jsonSchema bsonType alias.
type BSONType string

const (
	TypeString   BSONType = "string"
	TypeInt      BSONType = "int"
	TypeLong     BSONType = "long"
	TypeDouble   BSONType = "double"
	TypeDecimal  BSONType = "decimal"
	TypeBool     BSONType = "bool"
	TypeDate     BSONType = "date"
	TypeObject   BSONType = "object"
	TypeArray    BSONType = "array"
	TypeNull     BSONType = "null"
	TypeObjectID BSONType = "objectId"
)

var knownTypes = []BSONType{
	TypeString, TypeInt, TypeLong, TypeDouble, TypeDecimal, TypeBool,
	TypeDate, TypeObject, TypeArray, TypeNull, TypeObjectID,
}

// TypeSet is the list of BSON types a field accepts. In YAML it is written as a
// single type or a sequence.
type TypeSet []BSONType

// UnmarshalYAML accepts `type: string` and `type: ["null", string]`.
func (t *TypeSet) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*t = TypeSet{BSONType(s)}
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := value.Decode(&ss); err != nil {
			return err
		}
		set := make(TypeSet, 0, len(ss))
		for _, s := range ss {
			set = append(set, BSONType(s))
		}
		*t = set
		return nil
	default:
		return fmt.Errorf("line %d: type must be a string or a list of strings", value.Line)
	}
}

// Has reports whether typ is accepted.
func (t TypeSet) Has(typ BSONType) bool {
	return slices.Contains(t, typ)
}

// Field describes one document property. Items describes the elements of an
// array; Fields the properties of an object.
type Field struct {
	Name     string   `yaml:"name"`
	Types    TypeSet  `yaml:"type"`
	Pattern  string   `yaml:"pattern,omitempty"`
	Enum     []string `yaml:"enum,omitempty"`
	Required bool     `yaml:"required,omitempty"`
	Items    *Field   `yaml:"items,omitempty"`
	Fields   []Field  `yaml:"fields,omitempty"`
}

func requiredNames(fields []Field) []string {
	var names []string
	for _, f := range fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// Collection is a named document collection and its top-level fields.
type Collection struct {
	Name   string  `yaml:"name"`
	Fields []Field `yaml:"fields"`
}

// Required returns the names of the required top-level fields.
func (c Collection) Required() []string {
	return requiredNames(c.Fields)
}

// Catalog is an ordered set of collections with unique names.
type Catalog struct {
	collections []Collection
	index       map[string]int
}

type catalogFile struct {
	Collections []Collection `yaml:"collections"`
}

//go:embed library.yaml
var libraryYAML []byte

// New builds a catalog from collections, validating each definition.
func New(collections ...Collection) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int, len(collections))}
	for _, col := range collections {
		if err := c.Add(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Load reads a YAML catalog definition. Unknown keys are rejected.
func Load(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	return New(file.Collections...)
}

// LoadFile reads a YAML catalog definition from path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Library returns the built-in library catalog: usuarios, funcionarios,
// cliente, editoras, autores, livros, reservas, secao, emprestimos and multas.
func Library() *Catalog {
	c, err := Load(bytes.NewReader(libraryYAML))
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in library definition is invalid: %v", err))
	}
	return c
}

// Add appends a collection. The name must be unique and the definition valid.
func (c *Catalog) Add(col Collection) error {
	if col.Name == "" {
		return fmt.Errorf("%w: collection name is required", ErrInvalidDefinition)
	}
	if _, exists := c.index[col.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCollection, col.Name)
	}
	if err := validateFields(col.Name, col.Fields); err != nil {
		return err
	}
	if c.index == nil {
		c.index = make(map[string]int)
	}
	c.index[col.Name] = len(c.collections)
	c.collections = append(c.collections, col)
	return nil
}

// Names returns the collection names in declaration order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.collections))
	for _, col := range c.collections {
		names = append(names, col.Name)
	}
	return names
}

// Collections returns a copy of the collections in declaration order.
func (c *Catalog) Collections() []Collection {
	return slices.Clone(c.collections)
}

// Collection looks up a collection by name.
func (c *Catalog) Collection(name string) (Collection, error) {
	i, ok := c.index[name]
	if !ok {
		return Collection{}, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return c.collections[i], nil
}

func validateFields(path string, fields []Field) error {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		fieldPath := path + "." + f.Name
		if f.Name == "" {
			return fmt.Errorf("%w: %s: field name is required", ErrInvalidDefinition, path)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: %s: duplicate field", ErrInvalidDefinition, fieldPath)
		}
		seen[f.Name] = struct{}{}
		if err := validateField(fieldPath, f); err != nil {
			return err
		}
	}
	return nil
}

func validateField(path string, f Field) error {
	if len(f.Types) == 0 {
		return fmt.Errorf("%w: %s: type is required", ErrInvalidDefinition, path)
	}
	for _, t := range f.Types {
		if !slices.Contains(knownTypes, t) {
			return fmt.Errorf("%w: %s: unknown bson type %q", ErrInvalidDefinition, path, t)
		}
	}
	if f.Pattern != "" {
		if _, err := regexp.Compile(f.Pattern); err != nil {
			return fmt.Errorf("%w: %s: bad pattern: %w", ErrInvalidDefinition, path, err)
		}
	}
	if f.Items != nil {
		if !f.Types.Has(TypeArray) {
			return fmt.Errorf("%w: %s: items requires type array", ErrInvalidDefinition, path)
		}
		if err := validateField(path+"[]", *f.Items); err != nil {
			return err
		}
	}
	if len(f.Fields) > 0 {
		if !f.Types.Has(TypeObject) {
			return fmt.Errorf("%w: %s: fields require type object", ErrInvalidDefinition, path)
		}
		if err := validateFields(path, f.Fields); err != nil {
			return err
		}
	}
	return nil
}
