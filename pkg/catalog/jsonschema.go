package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/google/jsonschema-go/jsonschema"
)

// JSONSchema renders the collection as a JSON Schema usable outside MongoDB.
// int and long map to integer, double and decimal to number, and date to a
// string in date-time format.
func (c Collection) JSONSchema() *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Title: c.Name,
		Type:  "object",
	}
	fillObject(schema, c.Fields)
	return schema
}

func fillObject(schema *jsonschema.Schema, fields []Field) {
	if len(fields) == 0 {
		return
	}
	schema.Required = requiredNames(fields)
	schema.Properties = make(map[string]*jsonschema.Schema, len(fields))
	for _, f := range fields {
		schema.Properties[f.Name] = fieldJSONSchema(f)
	}
}

func fieldJSONSchema(f Field) *jsonschema.Schema {
	schema := &jsonschema.Schema{Pattern: f.Pattern}

	var types []string
	for _, t := range f.Types {
		jt, format := jsonType(t)
		if format != "" {
			schema.Format = format
		}
		if !slices.Contains(types, jt) {
			types = append(types, jt)
		}
	}
	if len(types) == 1 {
		schema.Type = types[0]
	} else {
		schema.Types = types
	}

	for _, v := range f.Enum {
		schema.Enum = append(schema.Enum, v)
	}
	if f.Items != nil {
		schema.Items = fieldJSONSchema(*f.Items)
	}
	if f.Types.Has(TypeObject) {
		fillObject(schema, f.Fields)
	}
	return schema
}

func jsonType(t BSONType) (typ, format string) {
	switch t {
	case TypeInt, TypeLong:
		return "integer", ""
	case TypeDouble, TypeDecimal:
		return "number", ""
	case TypeBool:
		return "boolean", ""
	case TypeDate:
		return "string", "date-time"
	case TypeObjectID:
		return "string", ""
	default:
		return string(t), ""
	}
}

// Validate checks doc against the JSON Schema of the named collection. doc may
// be any value that encodes to a JSON object.
func (c *Catalog) Validate(name string, doc any) error {
	col, err := c.Collection(name)
	if err != nil {
		return err
	}

	resolved, err := col.JSONSchema().Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return fmt.Errorf("failed to resolve schema for %s: %w", name, err)
	}

	instance, err := normalize(doc)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if err := resolved.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidDocument, name, err)
	}
	return nil
}

// normalize turns doc into the generic map/slice/float64 form produced by
// encoding/json, so Go structs and decoded files validate alike.
func normalize(doc any) (any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("document is not JSON encodable: %w", err)
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, err
	}
	return instance, nil
}

// ExportJSONSchema writes a JSON object mapping each collection name to its
// JSON Schema.
func (c *Catalog) ExportJSONSchema(w io.Writer) error {
	out := make(map[string]*jsonschema.Schema, len(c.collections))
	for _, col := range c.collections {
		out[col.Name] = col.JSONSchema()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to write JSON schemas: %w", err)
	}
	return nil
}
