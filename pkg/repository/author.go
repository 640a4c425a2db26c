package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/lib/pq"

	"github.com/bdlab/biblioteca/pkg/entity"
	"github.com/bdlab/biblioteca/pkg/store"
)

// DefaultAuthorTable is the table name used by the library schema.
const DefaultAuthorTable = "Autor"

const uniqueViolationCode = "23505"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var (
	// ErrDuplicateAuthor is returned when the author id already exists.
	ErrDuplicateAuthor = errors.New("author already exists")
	// ErrAuthorNotFound is returned by FindByID when no row matches.
	ErrAuthorNotFound = errors.New("author not found")
)

// SQLExecutor defines the interface for executing SQL queries.
// This can be a *sql.DB, *sql.Tx, or a session that routes to the transaction in ctx.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// AuthorRepository reads and writes the Autor table. Values are always bound
// as parameters, never concatenated into SQL.
type AuthorRepository struct {
	executor SQLExecutor
	table    string
}

// NewAuthorRepository creates a repository over executor. An empty table selects
// DefaultAuthorTable.
func NewAuthorRepository(executor SQLExecutor, table string) (*AuthorRepository, error) {
	if executor == nil {
		return nil, errors.New("sql executor is required")
	}
	if table == "" {
		table = DefaultAuthorTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid author table name %q", table)
	}
	return &AuthorRepository{executor: executor, table: table}, nil
}

// Table returns the table the repository targets.
func (r *AuthorRepository) Table() string {
	return r.table
}

// Insert adds one author. Failures are classified as store.ErrInsert; a primary
// key collision also matches ErrDuplicateAuthor.
func (r *AuthorRepository) Insert(ctx context.Context, author entity.Author) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (id, primeiro_nome, sobrenome) VALUES ($1, $2, $3)",
		r.table,
	)

	if _, err := r.executor.ExecContext(ctx, query, author.ID, author.FirstName, author.LastName); err != nil {
		if isUniqueViolation(err) {
			err = fmt.Errorf("%w: id %d: %w", ErrDuplicateAuthor, author.ID, err)
		}
		return store.Error(store.ErrInsert, err)
	}
	return nil
}

// List returns every author ordered by ascending id. An empty table yields an
// empty, non-nil slice.
func (r *AuthorRepository) List(ctx context.Context) ([]entity.Author, error) {
	query := fmt.Sprintf("SELECT id, primeiro_nome, sobrenome FROM %s ORDER BY id", r.table)

	rows, err := r.executor.QueryContext(ctx, query)
	if err != nil {
		return nil, store.Error(store.ErrQuery, fmt.Errorf("failed to query authors: %w", err))
	}
	defer rows.Close()

	authors := make([]entity.Author, 0)
	for rows.Next() {
		var author entity.Author
		if err := rows.Scan(&author.ID, &author.FirstName, &author.LastName); err != nil {
			return nil, store.Error(store.ErrQuery, fmt.Errorf("failed to scan author: %w", err))
		}
		authors = append(authors, author)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Error(store.ErrQuery, fmt.Errorf("failed to iterate authors: %w", err))
	}
	return authors, nil
}

// FindByID returns a single author.
func (r *AuthorRepository) FindByID(ctx context.Context, id int64) (entity.Author, error) {
	query := fmt.Sprintf("SELECT id, primeiro_nome, sobrenome FROM %s WHERE id = $1", r.table)

	var author entity.Author
	err := r.executor.QueryRowContext(ctx, query, id).Scan(&author.ID, &author.FirstName, &author.LastName)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return entity.Author{}, ErrAuthorNotFound
	case err != nil:
		return entity.Author{}, store.Error(store.ErrQuery, fmt.Errorf("failed to find author %d: %w", id, err))
	}
	return author, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode
}
