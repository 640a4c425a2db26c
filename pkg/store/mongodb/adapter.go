package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/bdlab/biblioteca/pkg/observability/logger"
	"github.com/bdlab/biblioteca/pkg/store"
)

// Validation settings applied with every validator. Documents failing the
// $jsonSchema are rejected on insert and update.
const (
	ValidationLevelStrict = "strict"
	ValidationActionError = "error"
)

// ErrClosed is returned by operations on a closed adapter.
var ErrClosed = errors.New("mongodb adapter is closed")

// Adapter provides MongoDB connectivity for the document catalog.
type Adapter struct {
	client   *mongo.Client
	database string
	logger   logger.Logger
	timeout  time.Duration
	mu       sync.RWMutex
	closed   bool
}

var _ store.Adapter = (*Adapter)(nil)

// Config holds MongoDB adapter configuration.
type Config struct {
	URL              string
	Database         string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 5 * time.Second
	}
}

func (c Config) validate() error {
	var errs []error
	if strings.TrimSpace(c.URL) == "" {
		errs = append(errs, errors.New("mongodb URL is required"))
	}
	if strings.TrimSpace(c.Database) == "" {
		errs = append(errs, errors.New("mongodb database is required"))
	}
	return errors.Join(errs...)
}

// NewAdapter connects to MongoDB and verifies the primary answers a ping.
// It does not create collections.
func NewAdapter(ctx context.Context, cfg Config, log logger.Logger) (*Adapter, error) {
	if err := cfg.validate(); err != nil {
		return nil, store.Error(store.ErrConnection, err)
	}
	cfg.applyDefaults()
	if log == nil {
		log = logger.Nop()
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, store.Error(store.ErrConnection, fmt.Errorf("failed to connect to mongodb: %w", err))
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, store.Error(store.ErrConnection, fmt.Errorf("failed to ping mongodb: %w", err))
	}

	log.Info("MongoDB connection established", "database", cfg.Database)
	return &Adapter{
		client:   client,
		database: cfg.Database,
		logger:   log,
		timeout:  cfg.OperationTimeout,
	}, nil
}

// Database returns the handle of the configured database.
func (a *Adapter) Database() *mongo.Database {
	return a.client.Database(a.database)
}

func (a *Adapter) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

func (a *Adapter) Ping(ctx context.Context) error {
	if a.isClosed() {
		return store.Error(store.ErrConnection, ErrClosed)
	}
	return a.client.Ping(ctx, readpref.Primary())
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Ping(hcCtx); err != nil {
		a.logger.Error("MongoDB health check failed", "error", err)
		return fmt.Errorf("mongodb health check failed: %w", err)
	}
	return nil
}

// Close disconnects the client. Later calls return nil.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close mongodb connection: %w", err)
	}
	a.logger.Info("MongoDB connection closed")
	return nil
}

// CollectionNames lists the collections of the database.
func (a *Adapter) CollectionNames(ctx context.Context) ([]string, error) {
	if a.isClosed() {
		return nil, store.Error(store.ErrConnection, ErrClosed)
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	names, err := a.Database().ListCollectionNames(opCtx, bson.D{})
	if err != nil {
		return nil, store.Error(store.ErrQuery, fmt.Errorf("failed to list collections: %w", err))
	}
	return names, nil
}

// CreateCollection creates name with validator as its $jsonSchema validator.
func (a *Adapter) CreateCollection(ctx context.Context, name string, validator bson.D) error {
	if a.isClosed() {
		return store.Error(store.ErrConnection, ErrClosed)
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	opts := options.CreateCollection().
		SetValidator(validator).
		SetValidationLevel(ValidationLevelStrict).
		SetValidationAction(ValidationActionError)
	if err := a.Database().CreateCollection(opCtx, name, opts); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	a.logger.Debug("collection created", "collection", name)
	return nil
}

// UpdateValidator replaces the validator of an existing collection with collMod.
func (a *Adapter) UpdateValidator(ctx context.Context, name string, validator bson.D) error {
	if a.isClosed() {
		return store.Error(store.ErrConnection, ErrClosed)
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	cmd := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
		{Key: "validationLevel", Value: ValidationLevelStrict},
		{Key: "validationAction", Value: ValidationActionError},
	}
	if err := a.Database().RunCommand(opCtx, cmd).Err(); err != nil {
		return fmt.Errorf("failed to update validator of %s: %w", name, err)
	}
	a.logger.Debug("collection validator updated", "collection", name)
	return nil
}

// Validator returns the validator document currently attached to name, or nil
// when the collection has none.
func (a *Adapter) Validator(ctx context.Context, name string) (bson.Raw, error) {
	if a.isClosed() {
		return nil, store.Error(store.ErrConnection, ErrClosed)
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	specs, err := a.Database().ListCollectionSpecifications(opCtx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return nil, store.Error(store.ErrQuery, fmt.Errorf("failed to read collection %s: %w", name, err))
	}
	if len(specs) == 0 {
		return nil, store.Errorf(store.ErrQuery, "collection %s does not exist", name)
	}
	if specs[0].Options == nil {
		return nil, nil
	}
	validator, ok := specs[0].Options.Lookup("validator").DocumentOK()
	if !ok {
		return nil, nil
	}
	return validator, nil
}

// InsertOne inserts a document into the collection. Documents rejected by the
// collection validator surface as a mongo.WriteException.
func (a *Adapter) InsertOne(ctx context.Context, collection string, doc interface{}) (*mongo.InsertOneResult, error) {
	if a.isClosed() {
		return nil, store.Error(store.ErrConnection, ErrClosed)
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	res, err := a.Database().Collection(collection).InsertOne(opCtx, doc)
	if err != nil {
		return nil, store.Error(store.ErrInsert, err)
	}
	return res, nil
}

// DropCollection removes a collection and its documents.
func (a *Adapter) DropCollection(ctx context.Context, name string) error {
	if a.isClosed() {
		return store.Error(store.ErrConnection, ErrClosed)
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	return a.Database().Collection(name).Drop(opCtx)
}

// IsValidationFailure reports whether err is a document rejected by a validator.
func IsValidationFailure(err error) bool {
	var we mongo.WriteException
	if !errors.As(err, &we) {
		return false
	}
	for _, e := range we.WriteErrors {
		if e.Code == documentValidationFailureCode {
			return true
		}
	}
	return false
}

const documentValidationFailureCode = 121

func (a *Adapter) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}
