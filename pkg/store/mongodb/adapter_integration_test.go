package mongodb

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/bdlab/biblioteca/pkg/store"
	"github.com/bdlab/biblioteca/pkg/testutil"
)

func TestAdapter_Integration(t *testing.T) {
	uri := testutil.StartMongo(t)
	ctx := context.Background()

	adapter, err := NewAdapter(ctx, Config{URL: uri, Database: "biblioteca", ConnectTimeout: 20 * time.Second}, &mockLogger{})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	defer adapter.Close()

	if err := adapter.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}

	requireName := bson.D{{Key: "$jsonSchema", Value: bson.D{
		{Key: "bsonType", Value: "object"},
		{Key: "required", Value: bson.A{"nome"}},
		{Key: "properties", Value: bson.D{{Key: "nome", Value: bson.D{{Key: "bsonType", Value: "string"}}}}},
	}}}

	if err := adapter.CreateCollection(ctx, "editoras", requireName); err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	names, err := adapter.CollectionNames(ctx)
	if err != nil {
		t.Fatalf("CollectionNames() error = %v", err)
	}
	if !slices.Contains(names, "editoras") {
		t.Errorf("CollectionNames() = %v", names)
	}

	if _, err := adapter.InsertOne(ctx, "editoras", bson.D{{Key: "_id", Value: "1"}, {Key: "nome", Value: "Rocco"}}); err != nil {
		t.Fatalf("valid document rejected: %v", err)
	}
	_, err = adapter.InsertOne(ctx, "editoras", bson.D{{Key: "_id", Value: "2"}})
	if !errors.Is(err, store.ErrInsert) || !IsValidationFailure(err) {
		t.Fatalf("expected validation failure, got %v", err)
	}

	requireCountry := bson.D{{Key: "$jsonSchema", Value: bson.D{
		{Key: "bsonType", Value: "object"},
		{Key: "required", Value: bson.A{"nome", "pais"}},
	}}}
	if err := adapter.UpdateValidator(ctx, "editoras", requireCountry); err != nil {
		t.Fatalf("UpdateValidator() error = %v", err)
	}
	validator, err := adapter.Validator(ctx, "editoras")
	if err != nil {
		t.Fatalf("Validator() error = %v", err)
	}
	required := validator.Lookup("$jsonSchema", "required").Array()
	values, _ := required.Values()
	if len(values) != 2 {
		t.Errorf("expected updated validator, got %s", validator)
	}

	if err := adapter.DropCollection(ctx, "editoras"); err != nil {
		t.Errorf("DropCollection() error = %v", err)
	}

	if err := adapter.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := adapter.Ping(ctx); err == nil {
		t.Error("expected ping to fail after close")
	}
}
