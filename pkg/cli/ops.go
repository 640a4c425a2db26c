package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bdlab/biblioteca/pkg/health"
	"github.com/bdlab/biblioteca/pkg/version"
)

func newHealthcheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to PostgreSQL (and MongoDB when configured)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, env *environment) error {
				registry := health.NewRegistry()
				registry.Register(health.NewOpenChecker("postgres", func(ctx context.Context) (health.CheckableCloser, error) {
					return a.opts.OpenSession(ctx, env.cfg.Postgres, env.log)
				}, health.DefaultTimeout))
				if env.cfg.Mongo.URL != "" {
					registry.Register(health.NewOpenChecker("mongodb", func(ctx context.Context) (health.CheckableCloser, error) {
						return a.opts.OpenDocumentStore(ctx, env.cfg.Mongo, env.log)
					}, health.DefaultTimeout))
				}

				result := registry.Check(ctx)
				printHealth(cmd.OutOrStdout(), result)
				if err := result.Err(); err != nil {
					return fmt.Errorf("health check failed: %w", err)
				}
				return nil
			})
		},
	}
}

func newConfigCommand(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, env *environment) error {
				data, err := env.cfg.Redacted(env.secrets).YAML()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	})
	return configCmd
}

func newVersionCommand(a *app) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Current(a.opts.Name)
			out := cmd.OutOrStdout()
			if asYAML {
				data, err := yaml.Marshal(info)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print as YAML")
	return cmd
}
