package catalog

import (
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
)

// BSONSchema renders the collection as a validator document:
// {$jsonSchema: {bsonType: "object", required: [...], properties: {...}}}.
func (c Collection) BSONSchema() bson.D {
	return bson.D{{Key: "$jsonSchema", Value: objectSchema(c.Fields)}}
}

func objectSchema(fields []Field) bson.D {
	doc := bson.D{{Key: "bsonType", Value: string(TypeObject)}}
	return appendObject(doc, fields)
}

func appendObject(doc bson.D, fields []Field) bson.D {
	if required := requiredNames(fields); len(required) > 0 {
		doc = append(doc, bson.E{Key: "required", Value: toBSONArray(required)})
	}
	if len(fields) > 0 {
		props := make(bson.D, 0, len(fields))
		for _, f := range fields {
			props = append(props, bson.E{Key: f.Name, Value: fieldSchema(f)})
		}
		doc = append(doc, bson.E{Key: "properties", Value: props})
	}
	return doc
}

func fieldSchema(f Field) bson.D {
	doc := bson.D{{Key: "bsonType", Value: bsonTypeValue(f.Types)}}
	if f.Pattern != "" {
		doc = append(doc, bson.E{Key: "pattern", Value: f.Pattern})
	}
	if len(f.Enum) > 0 {
		doc = append(doc, bson.E{Key: "enum", Value: toBSONArray(f.Enum)})
	}
	if f.Items != nil {
		doc = append(doc, bson.E{Key: "items", Value: fieldSchema(*f.Items)})
	}
	if f.Types.Has(TypeObject) {
		doc = appendObject(doc, f.Fields)
	}
	return doc
}

func bsonTypeValue(types TypeSet) interface{} {
	if len(types) == 1 {
		return string(types[0])
	}
	arr := make(bson.A, 0, len(types))
	for _, t := range types {
		arr = append(arr, string(t))
	}
	return arr
}

func toBSONArray(values []string) bson.A {
	arr := make(bson.A, 0, len(values))
	for _, v := range values {
		arr = append(arr, v)
	}
	return arr
}

// ExportBSON writes every collection and its validator as relaxed Extended JSON,
// one {name, validator} document per collection inside an array.
func (c *Catalog) ExportBSON(w io.Writer) error {
	out := make(bson.A, 0, len(c.collections))
	for _, col := range c.collections {
		out = append(out, bson.D{
			{Key: "name", Value: col.Name},
			{Key: "validator", Value: col.BSONSchema()},
		})
	}

	data, err := bson.MarshalExtJSONIndent(bson.D{{Key: "collections", Value: out}}, false, false, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render validators: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write validators: %w", err)
	}
	return nil
}
