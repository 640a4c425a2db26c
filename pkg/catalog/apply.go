package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/bdlab/biblioteca/pkg/observability/logger"
	"github.com/bdlab/biblioteca/pkg/observability/tracing"
)

// SchemaStore is the document database the catalog is applied to.
type SchemaStore interface {
	CollectionNames(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, name string, validator bson.D) error
	UpdateValidator(ctx context.Context, name string, validator bson.D) error
}

// ApplyResult lists what Apply changed.
type ApplyResult struct {
	Created []string
	Updated []string
}

// Apply installs every validator: missing collections are created with their
// validator and existing ones get theirs replaced with collMod. A failing
// collection does not stop the others; all failures are returned joined.
func (c *Catalog) Apply(ctx context.Context, store SchemaStore, log logger.Logger) (ApplyResult, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithContext(ctx)

	var result ApplyResult
	existing, err := store.CollectionNames(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list existing collections: %w", err)
	}

	var errs []error
	for _, col := range c.collections {
		exists := slices.Contains(existing, col.Name)
		if err := applyOne(ctx, store, col, exists); err != nil {
			log.Error("failed to apply collection validator", "collection", col.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		if exists {
			result.Updated = append(result.Updated, col.Name)
			log.Info("collection validator updated", "collection", col.Name)
		} else {
			result.Created = append(result.Created, col.Name)
			log.Info("collection created", "collection", col.Name)
		}
	}
	return result, errors.Join(errs...)
}

func applyOne(ctx context.Context, store SchemaStore, col Collection, exists bool) (err error) {
	op := tracing.SpanOperationDBCreateCollection
	if exists {
		op = tracing.SpanOperationDBCollMod
	}
	ctx, span := tracing.StartDatabaseSpan(ctx, op,
		tracing.WithDBSystem("mongodb"),
		tracing.WithDBCollection(col.Name),
	)
	defer func() {
		if err != nil {
			tracing.RecordError(span, err)
		} else {
			tracing.RecordSuccess(span)
		}
		span.End()
	}()

	if exists {
		return store.UpdateValidator(ctx, col.Name, col.BSONSchema())
	}
	return store.CreateCollection(ctx, col.Name, col.BSONSchema())
}
