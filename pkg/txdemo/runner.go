package txdemo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/bdlab/biblioteca/pkg/entity"
	"github.com/bdlab/biblioteca/pkg/observability/logger"
	"github.com/bdlab/biblioteca/pkg/observability/metrics"
	"github.com/bdlab/biblioteca/pkg/observability/tracing"
	"github.com/bdlab/biblioteca/pkg/repository"
	"github.com/bdlab/biblioteca/pkg/store"
)

// Step names, used in logs, span attributes and metric labels.
const (
	StepAttemptInsert    = "attempt_insert"
	StepInsertWithCommit = "insert_with_commit"
	StepListAuthors      = "list_authors"
	StepFindAuthor       = "find_author"
)

// Session is the relational session the runner drives.
type Session interface {
	repository.UnitOfWork
	repository.TransactionManager
	repository.SQLExecutor
	Close() error
}

// Options configures a Runner. The zero value is usable.
type Options struct {
	// Table is the author table; empty selects repository.DefaultAuthorTable.
	Table   string
	Logger  logger.Logger
	Metrics *metrics.TransactionMetrics
	// Schema and Database are reported on spans only.
	Schema   string
	Database string
}

// Runner executes the demo steps on a single session.
type Runner struct {
	session Session
	authors *repository.AuthorRepository
	logger  logger.Logger
	metrics *metrics.TransactionMetrics
	opts    Options
}

// Outcome is the result of one insert step. Err holds an insert failure that
// was rolled back; it is reported rather than returned.
type Outcome struct {
	Step   string
	Author entity.Author
	State  repository.TxState
	Err    error
}

// Committed reports whether the author was durably stored by this step.
func (o Outcome) Committed() bool {
	return o.Err == nil && o.State == repository.TxCommitted
}

// NewRunner creates a runner over session.
func NewRunner(session Session, opts Options) (*Runner, error) {
	if session == nil {
		return nil, errors.New("session is required")
	}
	authors, err := repository.NewAuthorRepository(session, opts.Table)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{
		session: session,
		authors: authors,
		logger:  log,
		metrics: opts.Metrics,
		opts:    opts,
	}, nil
}

// AttemptInsert inserts author in a new transaction and then commits only if
// shouldCommit approves it. A failed insert is rolled back and recorded in the
// outcome. The returned error is reserved for begin, commit and rollback
// failures. The transaction is never left open.
func (r *Runner) AttemptInsert(ctx context.Context, author entity.Author, shouldCommit CommitDecision) (Outcome, error) {
	return r.attempt(ctx, author, shouldCommit)
}

// AttemptInsertWithRollback inserts author and unconditionally rolls back, so no
// row is added by the call.
func (r *Runner) AttemptInsertWithRollback(ctx context.Context, author entity.Author) (Outcome, error) {
	return r.AttemptInsert(ctx, author, NeverCommit)
}

// InsertWithCommit inserts one author with bound parameters and commits. On
// failure the transaction is rolled back and the error wraps store.ErrInsert
// (or store.ErrTransaction when begin or commit fails).
func (r *Runner) InsertWithCommit(ctx context.Context, id int64, firstName, lastName string) (err error) {
	author := entity.Author{ID: id, FirstName: firstName, LastName: lastName}
	log := r.logger.WithContext(ctx).With("step", StepInsertWithCommit, "author_id", author.ID)
	start := time.Now()

	finished := false
	ctx, span := r.startSpan(ctx, tracing.SpanOperationDBTx, StepInsertWithCommit)
	defer func() {
		outcome := metrics.OutcomeCommitted
		state := repository.TxCommitted
		if err != nil || !finished {
			outcome = metrics.OutcomeFailed
			state = repository.TxRolledBack
			tracing.RecordError(span, err)
		} else {
			tracing.RecordSuccess(span)
		}
		tracing.SetTxState(span, state.String())
		span.End()
		r.metrics.Observe(StepInsertWithCommit, outcome, time.Since(start))
	}()

	log.Info("starting transaction", "author", author.FullName())
	err = r.session.WithTransaction(ctx, func(txCtx context.Context) error {
		return r.authors.Insert(txCtx, author)
	})
	finished = true
	if err != nil {
		log.Error("insert with commit failed, transaction rolled back", "error", err)
		return err
	}
	log.Info("transaction committed, author stored")
	return nil
}

// FindAuthor returns the author with the given id, or an error matching
// repository.ErrAuthorNotFound.
func (r *Runner) FindAuthor(ctx context.Context, id int64) (author entity.Author, err error) {
	log := r.logger.WithContext(ctx).With("step", StepFindAuthor, "author_id", id)
	start := time.Now()

	ctx, span := r.startSpan(ctx, tracing.SpanOperationDBQuery, StepFindAuthor)
	defer func() {
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeFailed
			tracing.RecordError(span, err)
		} else {
			tracing.RecordSuccess(span)
		}
		span.End()
		r.metrics.Observe(StepFindAuthor, outcome, time.Since(start))
	}()

	author, err = r.authors.FindByID(ctx, id)
	if err != nil {
		log.Warn("author lookup failed", "error", err)
		return entity.Author{}, err
	}
	log.Info("author found")
	return author, nil
}

func (r *Runner) attempt(ctx context.Context, author entity.Author, shouldCommit CommitDecision) (outcome Outcome, err error) {
	const step = StepAttemptInsert
	if shouldCommit == nil {
		shouldCommit = NeverCommit
	}
	outcome = Outcome{Step: step, Author: author, State: repository.TxRolledBack}
	log := r.logger.WithContext(ctx).With("step", step, "author_id", author.ID)
	start := time.Now()

	ctx, span := r.startSpan(ctx, tracing.SpanOperationDBTx, step)
	defer func() {
		tracing.SetTxState(span, outcome.State.String())
		switch {
		case err != nil:
			tracing.RecordError(span, err)
		case outcome.Err != nil:
			tracing.RecordError(span, outcome.Err)
		default:
			tracing.RecordSuccess(span)
		}
		span.End()
		r.metrics.Observe(step, metricOutcome(outcome, err), time.Since(start))
	}()

	log.Info("starting transaction", "author", author.FullName())

	tx, err := r.session.Begin(ctx)
	if err != nil {
		log.Error("failed to begin transaction", "error", err)
		return outcome, err
	}
	defer func() {
		// no-op once the transaction reached a terminal state
		_ = tx.Rollback()
	}()

	if insertErr := r.authors.Insert(tx.Context(), author); insertErr != nil {
		outcome.Err = insertErr
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("failed to roll back after insert error", "error", insertErr, "rollback_error", rbErr)
			return outcome, rbErr
		}
		outcome.State = tx.State()
		log.Warn("insert failed, transaction rolled back", "error", insertErr)
		return outcome, nil
	}
	log.Info("insert executed inside transaction")

	if !shouldCommit(author) {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("failed to roll back transaction", "error", rbErr)
			return outcome, rbErr
		}
		outcome.State = tx.State()
		log.Info("transaction rolled back, author not stored")
		return outcome, nil
	}

	if commitErr := tx.Commit(); commitErr != nil {
		outcome.State = tx.State()
		log.Error("failed to commit transaction", "error", commitErr)
		return outcome, commitErr
	}
	outcome.State = tx.State()
	log.Info("transaction committed, author stored")
	return outcome, nil
}

// ListAuthors returns every author ordered by ascending id. An empty table is
// not an error.
func (r *Runner) ListAuthors(ctx context.Context) (authors []entity.Author, err error) {
	log := r.logger.WithContext(ctx).With("step", StepListAuthors)
	start := time.Now()

	ctx, span := r.startSpan(ctx, tracing.SpanOperationDBQuery, StepListAuthors)
	defer func() {
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeFailed
			tracing.RecordError(span, err)
		} else {
			tracing.RecordSuccess(span)
		}
		span.End()
		r.metrics.Observe(StepListAuthors, outcome, time.Since(start))
	}()

	authors, err = r.authors.List(ctx)
	if err != nil {
		log.Error("failed to list authors", "error", err)
		return nil, err
	}
	log.Info("authors listed", "count", len(authors))
	return authors, nil
}

// Report summarizes a run.
type Report struct {
	RunID    string
	Outcomes []Outcome
	Authors  []entity.Author
}

// Failures returns the outcomes that did not reach the state they aimed for
// because of an error.
func (r Report) Failures() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Run executes the scenario: attempts, then commits, then the read-back. Insert
// step failures are recorded in the report and the run continues; a failure to
// list authors is returned.
func (r *Runner) Run(ctx context.Context, scenario Scenario) (Report, error) {
	report := Report{RunID: logger.RunIDFromContext(ctx)}
	if report.RunID == "" {
		report.RunID = uuid.NewString()
		ctx = logger.ContextWithRunID(ctx, report.RunID)
	}
	log := r.logger.WithContext(ctx)
	log.Info("transaction demo started",
		"attempts", len(scenario.Attempts),
		"commits", len(scenario.Commits),
	)

	decision := scenario.decision()
	for _, author := range scenario.Attempts {
		outcome, err := r.AttemptInsert(ctx, author, decision)
		if err != nil {
			outcome.Err = err
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	for _, author := range scenario.Commits {
		outcome := Outcome{Step: StepInsertWithCommit, Author: author, State: repository.TxCommitted}
		if err := r.InsertWithCommit(ctx, author.ID, author.FirstName, author.LastName); err != nil {
			outcome.State = repository.TxRolledBack
			outcome.Err = err
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	authors, err := r.ListAuthors(ctx)
	if err != nil {
		return report, err
	}
	report.Authors = authors

	log.Info("transaction demo finished",
		"authors", len(authors),
		"failures", len(report.Failures()),
	)
	return report, nil
}

// Opener opens the session a run executes on.
type Opener func(ctx context.Context) (Session, error)

// Execute opens a session, runs the scenario on it and closes the session on
// every exit path, exactly once. A close failure is joined to the run error.
func Execute(ctx context.Context, open Opener, scenario Scenario, opts Options) (report Report, err error) {
	if open == nil {
		return Report{}, errors.New("session opener is required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	session, err := open(ctx)
	if err != nil {
		log.Error("failed to open session", "error", err)
		return Report{}, err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			log.Error("failed to close session", "error", closeErr)
			err = errors.Join(err, store.Error(store.ErrConnection, fmt.Errorf("failed to close session: %w", closeErr)))
		}
	}()

	runner, err := NewRunner(session, opts)
	if err != nil {
		return Report{}, err
	}

	report, err = runner.Run(ctx, scenario)
	if err != nil {
		log.WithContext(logger.ContextWithRunID(ctx, report.RunID)).Error("transaction demo failed", "error", err)
	}
	return report, err
}

func (r *Runner) startSpan(ctx context.Context, op tracing.SpanOperation, step string) (context.Context, trace.Span) {
	opts := []tracing.DatabaseSpanOption{
		tracing.WithDBSystem("postgresql"),
		tracing.WithDBTable(r.authors.Table()),
		tracing.WithStep(step),
	}
	if r.opts.Schema != "" {
		opts = append(opts, tracing.WithDBSchema(r.opts.Schema))
	}
	if r.opts.Database != "" {
		opts = append(opts, tracing.WithDBName(r.opts.Database))
	}
	return tracing.StartDatabaseSpan(ctx, op, opts...)
}

func metricOutcome(o Outcome, err error) string {
	if err != nil || o.Err != nil {
		return metrics.OutcomeFailed
	}
	if o.State == repository.TxCommitted {
		return metrics.OutcomeCommitted
	}
	return metrics.OutcomeRolledBack
}
