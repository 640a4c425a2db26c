package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// LibrarySchema is the namespace holding the Autor table.
	LibrarySchema = "Projeto Logico"

	pgImage    = "postgres:17-alpine"
	mongoImage = "mongo:7"
)

// PostgresEndpoint describes a running test database.
type PostgresEndpoint struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// URL is a lib/pq connection string with sslmode=disable.
	URL string
}

// StartPostgres runs a PostgreSQL container, creates the library schema with an
// empty Autor table, and terminates the container when the test ends.
func StartPostgres(t *testing.T) PostgresEndpoint {
	t.Helper()
	RequireIntegration(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		pgImage,
		postgres.WithDatabase("biblioteca"),
		postgres.WithUsername("biblioteca"),
		postgres.WithPassword("biblioteca-test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}

	endpoint := PostgresEndpoint{
		Host:     host,
		Port:     mapped.Int(),
		User:     "biblioteca",
		Password: "biblioteca-test",
		Database: "biblioteca",
		URL:      connStr,
	}
	CreateLibrarySchema(t, endpoint.URL, LibrarySchema, "Autor")
	return endpoint
}

// CreateLibrarySchema creates schema and an Autor-shaped table in it. The table
// name is left unquoted, so it folds to lower case like the statements under test.
func CreateLibrarySchema(t *testing.T, url, schema, table string) {
	t.Helper()

	db, err := sql.Open("postgres", url)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	qualified := pq.QuoteIdentifier(schema) + "." + table
	statements := []string{
		"CREATE SCHEMA IF NOT EXISTS " + pq.QuoteIdentifier(schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			primeiro_nome TEXT NOT NULL,
			sobrenome TEXT NOT NULL
		)`, qualified),
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("Failed to prepare schema: %v", err)
		}
	}
}

// CountRows returns the number of rows in schema.table matching id, read over a
// connection independent of the one under test.
func CountRows(t *testing.T, url, schema, table string, id int64) int {
	t.Helper()

	db, err := sql.Open("postgres", url)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s WHERE id = $1", pq.QuoteIdentifier(schema), table)
	var count int
	if err := db.QueryRowContext(context.Background(), query, id).Scan(&count); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	return count
}

// StartMongo runs a MongoDB container and returns its connection URI.
func StartMongo(t *testing.T) string {
	t.Helper()
	RequireIntegration(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        mongoImage,
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor: wait.ForLog("Waiting for connections").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start MongoDB container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, "27017/tcp")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return "mongodb://" + net.JoinHostPort(host, strconv.Itoa(mapped.Int()))
}
