package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/bdlab/biblioteca/pkg/catalog"
	"github.com/bdlab/biblioteca/pkg/config"
	"github.com/bdlab/biblioteca/pkg/entity"
	"github.com/bdlab/biblioteca/pkg/observability/logger"
	"github.com/bdlab/biblioteca/pkg/repository"
	"github.com/bdlab/biblioteca/pkg/store/postgres"
)

var (
	insertSQL = regexp.QuoteMeta("INSERT INTO Autor (id, primeiro_nome, sobrenome) VALUES ($1, $2, $3)")
	listSQL   = regexp.QuoteMeta("SELECT id, primeiro_nome, sobrenome FROM Autor ORDER BY id")
	columns   = []string{"id", "primeiro_nome", "sobrenome"}
)

// isolateEnv keeps host variables from leaking into the loaded configuration.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"BIBLIOTECA_MONGO_URL", "BIBLIOTECA_METRICS_TEXTFILE", "BIBLIOTECA_LOG_LEVEL",
		"BIBLIOTECA_DEMO_TABLE", "BIBLIOTECA_PG_PASSWORD", "PGPASSWORD", "BIBLIOTECA_TRACING_ENABLED",
	} {
		t.Setenv(name, "")
	}
}

type mockOpener struct {
	session *postgres.Session
	opened  int
	err     error
}

func newMockOpener(t *testing.T) (*mockOpener, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	session, err := postgres.NewSessionFromDB(context.Background(), db, postgres.Config{}, logger.Nop())
	if err != nil {
		t.Fatalf("NewSessionFromDB() error = %v", err)
	}
	return &mockOpener{session: session}, mock
}

func (m *mockOpener) open(context.Context, config.PostgresConfig, logger.Logger) (Session, error) {
	m.opened++
	if m.err != nil {
		return nil, m.err
	}
	return m.session, nil
}

type fakeDocumentStore struct {
	existing  []string
	created   []string
	updated   []string
	healthErr error
	closed    int
}

func (f *fakeDocumentStore) CollectionNames(context.Context) ([]string, error) {
	return f.existing, nil
}

func (f *fakeDocumentStore) CreateCollection(_ context.Context, name string, _ bson.D) error {
	f.created = append(f.created, name)
	return nil
}

func (f *fakeDocumentStore) UpdateValidator(_ context.Context, name string, _ bson.D) error {
	f.updated = append(f.updated, name)
	return nil
}

func (f *fakeDocumentStore) HealthCheck(context.Context) error {
	return f.healthErr
}

func (f *fakeDocumentStore) Close() error {
	f.closed++
	return nil
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewCommand_Tree(t *testing.T) {
	cmd := NewCommand(Options{})
	for _, path := range [][]string{
		{"demo"}, {"authors", "list"}, {"authors", "get"}, {"authors", "add"}, {"authors", "attempt"},
		{"catalog", "export"}, {"catalog", "validate"}, {"catalog", "apply"}, {"catalog", "list"},
		{"healthcheck"}, {"config", "show"}, {"version"},
	} {
		found, _, err := cmd.Find(path)
		if err != nil || found.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
	for _, flag := range []string{"config-file", "secret-file", "log-level", "schema", "table"} {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag --%s", flag)
		}
	}
}

func TestDemoCommand(t *testing.T) {
	for _, args := range [][]string{{"demo"}, {}} {
		isolateEnv(t)
		opener, mock := newMockOpener(t)

		mock.ExpectBegin()
		mock.ExpectExec(insertSQL).WithArgs(int64(99), "Autor", "Fantasma").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectExec(insertSQL).WithArgs(int64(1), "Machado", "de Assis").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectBegin()
		mock.ExpectExec(insertSQL).WithArgs(int64(2), "Clarice", "Lispector").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectQuery(listSQL).WillReturnRows(sqlmock.NewRows(columns).
			AddRow(1, "Machado", "de Assis").
			AddRow(2, "Clarice", "Lispector"))
		mock.ExpectClose()

		out, err := execute(t, NewCommand(Options{OpenSession: opener.open}), args...)
		if err != nil {
			t.Fatalf("%v: Execute() error = %v", args, err)
		}
		for _, want := range []string{"Run ", "attempt_insert", "rolled_back", "insert_with_commit", "committed", "1\tMachado de Assis", "2\tClarice Lispector"} {
			if !strings.Contains(out, want) {
				t.Errorf("%v: output missing %q:\n%s", args, want, out)
			}
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("%v: unfulfilled expectations: %v", args, err)
		}
	}
}

func TestDemoCommand_OpenFailure(t *testing.T) {
	isolateEnv(t)
	errRefused := errors.New("connection refused")
	opener := &mockOpener{err: errRefused}

	out, err := execute(t, NewCommand(Options{OpenSession: opener.open}), "demo")
	if !errors.Is(err, errRefused) {
		t.Fatalf("expected open error, got %v", err)
	}
	if out != "" {
		t.Errorf("nothing should be printed when the session cannot be opened, got %q", out)
	}
}

func TestAuthorsList(t *testing.T) {
	isolateEnv(t)
	opener, mock := newMockOpener(t)
	mock.ExpectQuery(listSQL).WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectClose()

	out, err := execute(t, NewCommand(Options{OpenSession: opener.open}), "authors", "list")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "No authors found.") {
		t.Errorf("expected empty listing, got:\n%s", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAuthorsList_CustomTable(t *testing.T) {
	isolateEnv(t)
	opener, mock := newMockOpener(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, primeiro_nome, sobrenome FROM Escritores ORDER BY id")).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(7, "Cecília", "Meireles"))
	mock.ExpectClose()

	out, err := execute(t, NewCommand(Options{OpenSession: opener.open}), "authors", "list", "--table", "Escritores")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "7\tCecília Meireles") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestAuthorsGet(t *testing.T) {
	findSQL := regexp.QuoteMeta("SELECT id, primeiro_nome, sobrenome FROM Autor WHERE id = $1")

	t.Run("found", func(t *testing.T) {
		isolateEnv(t)
		opener, mock := newMockOpener(t)
		mock.ExpectQuery(findSQL).WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(2, "Clarice", "Lispector"))
		mock.ExpectClose()

		out, err := execute(t, NewCommand(Options{OpenSession: opener.open}), "authors", "get", "2")
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if !strings.Contains(out, "2\tClarice Lispector") {
			t.Errorf("unexpected output:\n%s", out)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		isolateEnv(t)
		opener, mock := newMockOpener(t)
		mock.ExpectQuery(findSQL).WithArgs(int64(99)).WillReturnRows(sqlmock.NewRows(columns))
		mock.ExpectClose()

		_, err := execute(t, NewCommand(Options{OpenSession: opener.open}), "authors", "get", "99")
		if !errors.Is(err, repository.ErrAuthorNotFound) {
			t.Fatalf("expected ErrAuthorNotFound, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("session not closed: %v", err)
		}
	})
}

func TestAuthorsAdd(t *testing.T) {
	isolateEnv(t)
	opener, mock := newMockOpener(t)
	mock.ExpectBegin()
	mock.ExpectExec(insertSQL).WithArgs(int64(3), "Cecília", "Meireles").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectClose()

	out, err := execute(t, NewCommand(Options{OpenSession: opener.open}), "authors", "add", "3", "Cecília", "Meireles")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "Author 3 (Cecília Meireles) committed.") {
		t.Errorf("unexpected output %q", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAuthorsAdd_InvalidID(t *testing.T) {
	isolateEnv(t)
	opener := &mockOpener{}
	_, err := execute(t, NewCommand(Options{OpenSession: opener.open}), "authors", "add", "três", "Cecília", "Meireles")
	if err == nil || !strings.Contains(err.Error(), "invalid author id") {
		t.Fatalf("expected invalid id error, got %v", err)
	}
	if opener.opened != 0 {
		t.Error("no session should be opened for invalid arguments")
	}
}

func TestAuthorsAttempt(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		decision string
		commit   bool
	}{
		{name: "default never commits", id: "4", commit: false},
		{name: "even id commits", id: "4", decision: DecisionEvenID, commit: true},
		{name: "odd id rolls back", id: "5", decision: DecisionEvenID, commit: false},
		{name: "always commits", id: "5", decision: DecisionAlways, commit: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			opener, mock := newMockOpener(t)
			mock.ExpectBegin()
			mock.ExpectExec(insertSQL).WillReturnResult(sqlmock.NewResult(0, 1))
			want := "rolled_back"
			if tt.commit {
				mock.ExpectCommit()
				want = "committed"
			} else {
				mock.ExpectRollback()
			}
			mock.ExpectClose()

			args := []string{"authors", "attempt", tt.id, "Lima", "Barreto"}
			if tt.decision != "" {
				args = append(args, "--commit", tt.decision)
			}
			out, err := execute(t, NewCommand(Options{OpenSession: opener.open}), args...)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if !strings.Contains(out, want) {
				t.Errorf("expected %s in output:\n%s", want, out)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestParseDecision(t *testing.T) {
	even, err := parseDecision(DecisionEvenID)
	if err != nil {
		t.Fatalf("parseDecision() error = %v", err)
	}
	if !even(entity.Author{ID: 2}) || even(entity.Author{ID: 3}) {
		t.Error("even-id decision is wrong")
	}
	if _, err := parseDecision("sometimes"); err == nil {
		t.Error("expected unknown decision error")
	}
}

func TestCatalogExport(t *testing.T) {
	dir := t.TempDir()

	for _, format := range []string{FormatBSON, FormatJSONSchema} {
		path := filepath.Join(dir, format+".json")
		if _, err := execute(t, NewCommand(Options{}), "catalog", "export", "--format", format, "-o", path); err != nil {
			t.Fatalf("%s: Execute() error = %v", format, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read export: %v", err)
		}
		if !bytes.Contains(data, []byte("emprestimos")) {
			t.Errorf("%s export misses collections", format)
		}
	}

	if _, err := execute(t, NewCommand(Options{}), "catalog", "export", "--format", "xml"); err == nil {
		t.Error("expected unknown format error")
	}
}

func TestCatalogValidate(t *testing.T) {
	cmd := NewCommand(Options{})
	cmd.SetIn(strings.NewReader(`{"_id": "12.345.678/0001-90", "nome": "Companhia das Letras"}`))
	out, err := execute(t, cmd, "catalog", "validate", "editoras", "-")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "valid for editoras") {
		t.Errorf("unexpected output %q", out)
	}

	cmd = NewCommand(Options{})
	cmd.SetIn(strings.NewReader(`{"_id": "12.345.678/0001-90"}`))
	if _, err := execute(t, cmd, "catalog", "validate", "editoras", "-"); !errors.Is(err, catalog.ErrInvalidDocument) {
		t.Errorf("expected ErrInvalidDocument, got %v", err)
	}
}

func TestCatalogFileFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	def := "collections:\n  - name: periodicos\n    fields:\n      - {name: issn, type: string, required: true}\n"
	if err := os.WriteFile(path, []byte(def), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, NewCommand(Options{}), "catalog", "list", "--catalog-file", path)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.TrimSpace(out) != "periodicos: issn" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCatalogApply(t *testing.T) {
	isolateEnv(t)
	docs := &fakeDocumentStore{existing: []string{"livros"}}
	opts := Options{
		OpenDocumentStore: func(context.Context, config.MongoConfig, logger.Logger) (DocumentStore, error) {
			return docs, nil
		},
	}

	out, err := execute(t, NewCommand(opts), "catalog", "apply")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(docs.created) != 9 || len(docs.updated) != 1 || docs.updated[0] != "livros" {
		t.Errorf("created=%v updated=%v", docs.created, docs.updated)
	}
	if !strings.Contains(out, "updated  livros") || docs.closed != 1 {
		t.Errorf("unexpected output or close count %d:\n%s", docs.closed, out)
	}
}

func TestHealthcheck(t *testing.T) {
	t.Run("healthy postgres only", func(t *testing.T) {
		isolateEnv(t)
		opener, mock := newMockOpener(t)
		mock.ExpectClose()

		out, err := execute(t, NewCommand(Options{OpenSession: opener.open}), "healthcheck")
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if !strings.Contains(out, "postgres") || strings.Contains(out, "mongodb") || !strings.Contains(out, "overall: healthy") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("unreachable dependencies", func(t *testing.T) {
		isolateEnv(t)
		t.Setenv("BIBLIOTECA_MONGO_URL", "mongodb://mongo.invalid:27017")
		opener := &mockOpener{err: errors.New("password authentication failed")}
		docs := &fakeDocumentStore{healthErr: errors.New("server selection timeout")}
		opts := Options{
			OpenSession: opener.open,
			OpenDocumentStore: func(context.Context, config.MongoConfig, logger.Logger) (DocumentStore, error) {
				return docs, nil
			},
		}

		out, err := execute(t, NewCommand(opts), "healthcheck")
		if err == nil || !strings.Contains(err.Error(), "health check failed") {
			t.Fatalf("expected health check failure, got %v", err)
		}
		for _, want := range []string{"password authentication failed", "server selection timeout", "overall: unhealthy"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
		if docs.closed != 1 {
			t.Errorf("document store should be closed after the check, got %d", docs.closed)
		}
	})
}

func TestConfigShow(t *testing.T) {
	isolateEnv(t)
	t.Setenv("BIBLIOTECA_PG_PASSWORD", "s3cr3t")

	out, err := execute(t, NewCommand(Options{}), "config", "show", "--schema", "Acervo")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.Contains(out, "s3cr3t") || !strings.Contains(out, "***") {
		t.Errorf("password not redacted:\n%s", out)
	}
	if !strings.Contains(out, "schema: Acervo") {
		t.Errorf("flag override missing:\n%s", out)
	}
}

func TestConfigShow_InvalidConfig(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, NewCommand(Options{}), "config", "show", "--log-level", "verbose")
	if err == nil || !strings.Contains(err.Error(), "observability.log_level") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, NewCommand(Options{Name: "biblioteca"}), "version")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "Service:    biblioteca") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = execute(t, NewCommand(Options{Name: "biblioteca"}), "version", "--yaml")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "service: biblioteca") {
		t.Errorf("unexpected yaml output:\n%s", out)
	}
}

func TestMetricsTextfile(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "biblioteca.prom")
	t.Setenv("BIBLIOTECA_METRICS_TEXTFILE", path)

	opener, mock := newMockOpener(t)
	mock.ExpectQuery(listSQL).WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectClose()

	if _, err := execute(t, NewCommand(Options{OpenSession: opener.open}), "authors", "list"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("metrics textfile not written: %v", err)
	}
	if !strings.Contains(string(data), `biblioteca_transactions_total{operation="list_authors",outcome="ok"} 1`) {
		t.Errorf("unexpected metrics:\n%s", data)
	}
}

func TestPostgresSessionConfig(t *testing.T) {
	cfg := config.DefaultConfig().Postgres
	cfg.User, cfg.Password, cfg.Database = "app", "pw", "acervo"

	got := PostgresSessionConfig(cfg)
	if got.Host != "localhost" || got.Port != 5432 || got.Schema != config.DefaultSchema || got.Password != "pw" {
		t.Errorf("PostgresSessionConfig() = %+v", got)
	}
}
