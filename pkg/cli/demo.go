package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bdlab/biblioteca/pkg/entity"
	"github.com/bdlab/biblioteca/pkg/txdemo"
)

// Commit decisions selectable with authors attempt --commit.
const (
	DecisionNever  = "never"
	DecisionAlways = "always"
	DecisionEvenID = "even-id"
)

func newDemoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the transaction demo: a rolled back insert, two committed inserts and the read-back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, env *environment) error {
				report, err := txdemo.Execute(ctx, a.sessionOpener(env), txdemo.DefaultScenario(), env.runnerOptions())
				printReport(cmd.OutOrStdout(), report)
				return err
			})
		},
	}
}

func newAuthorsCommand(a *app) *cobra.Command {
	authorsCmd := &cobra.Command{
		Use:   "authors",
		Short: "Work with the author table",
	}

	authorsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List authors ordered by id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRunner(cmd, func(ctx context.Context, runner *txdemo.Runner) error {
				authors, err := runner.ListAuthors(ctx)
				if err != nil {
					return err
				}
				printAuthors(cmd.OutOrStdout(), authors)
				return nil
			})
		},
	})

	authorsCmd.AddCommand(&cobra.Command{
		Use:   "get ID",
		Short: "Show one author",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withRunner(cmd, func(ctx context.Context, runner *txdemo.Runner) error {
				author, err := runner.FindAuthor(ctx, id)
				if err != nil {
					return err
				}
				printAuthors(cmd.OutOrStdout(), []entity.Author{author})
				return nil
			})
		},
	})

	authorsCmd.AddCommand(&cobra.Command{
		Use:   "add ID FIRST_NAME LAST_NAME",
		Short: "Insert an author and commit",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			author, err := parseAuthor(args)
			if err != nil {
				return err
			}
			return a.withRunner(cmd, func(ctx context.Context, runner *txdemo.Runner) error {
				if err := runner.InsertWithCommit(ctx, author.ID, author.FirstName, author.LastName); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Author %d (%s) committed.\n", author.ID, author.FullName())
				return nil
			})
		},
	})

	var decisionName string
	attemptCmd := &cobra.Command{
		Use:   "attempt ID FIRST_NAME LAST_NAME",
		Short: "Insert an author inside a transaction and commit only if the decision approves",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			author, err := parseAuthor(args)
			if err != nil {
				return err
			}
			decision, err := parseDecision(decisionName)
			if err != nil {
				return err
			}
			return a.withRunner(cmd, func(ctx context.Context, runner *txdemo.Runner) error {
				outcome, err := runner.AttemptInsert(ctx, author, decision)
				if err != nil {
					return err
				}
				printOutcomes(cmd.OutOrStdout(), []txdemo.Outcome{outcome})
				return nil
			})
		},
	}
	attemptCmd.Flags().StringVar(&decisionName, "commit", DecisionNever, "commit decision: never, always or even-id")
	authorsCmd.AddCommand(attemptCmd)

	return authorsCmd
}

// withRunner opens a session for the duration of fn.
func (a *app) withRunner(cmd *cobra.Command, fn func(ctx context.Context, runner *txdemo.Runner) error) error {
	return a.run(cmd, func(ctx context.Context, env *environment) (err error) {
		session, err := a.sessionOpener(env)(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := session.Close(); closeErr != nil {
				env.log.Error("failed to close session", "error", closeErr)
				if err == nil {
					err = closeErr
				}
			}
		}()

		runner, err := txdemo.NewRunner(session, env.runnerOptions())
		if err != nil {
			return err
		}
		return fn(ctx, runner)
	})
}

func (a *app) sessionOpener(env *environment) txdemo.Opener {
	return func(ctx context.Context) (txdemo.Session, error) {
		return a.opts.OpenSession(ctx, env.cfg.Postgres, env.log)
	}
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid author id %q: %w", arg, err)
	}
	return id, nil
}

func parseAuthor(args []string) (entity.Author, error) {
	id, err := parseID(args[0])
	if err != nil {
		return entity.Author{}, err
	}
	return entity.Author{ID: id, FirstName: args[1], LastName: args[2]}, nil
}

func parseDecision(name string) (txdemo.CommitDecision, error) {
	switch name {
	case DecisionNever:
		return txdemo.NeverCommit, nil
	case DecisionAlways:
		return txdemo.AlwaysCommit, nil
	case DecisionEvenID:
		return func(a entity.Author) bool { return a.ID%2 == 0 }, nil
	default:
		return nil, fmt.Errorf("unknown commit decision %q (must be one of: %s, %s, %s)", name, DecisionNever, DecisionAlways, DecisionEvenID)
	}
}
