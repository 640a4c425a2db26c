package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bdlab/biblioteca/pkg/catalog"
)

// Export formats of catalog export.
const (
	FormatBSON       = "bson"
	FormatJSONSchema = "jsonschema"
)

func newCatalogCommand(a *app) *cobra.Command {
	var catalogFile string
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Document collection validators of the library domain",
	}
	catalogCmd.PersistentFlags().StringVar(&catalogFile, "catalog-file", "", "YAML catalog definition (defaults to the built-in library catalog)")

	catalogCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List collections and their required fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(catalogFile)
			if err != nil {
				return err
			}
			for _, col := range cat.Collections() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", col.Name, strings.Join(col.Required(), ", "))
			}
			return nil
		},
	})

	var format, output string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the validators as MongoDB extended JSON or as JSON Schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cat, err := loadCatalog(catalogFile)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer func() {
					if closeErr := f.Close(); closeErr != nil && err == nil {
						err = closeErr
					}
				}()
				w = f
			}

			switch format {
			case FormatBSON:
				return cat.ExportBSON(w)
			case FormatJSONSchema:
				return cat.ExportJSONSchema(w)
			default:
				return fmt.Errorf("unknown format %q (must be %s or %s)", format, FormatBSON, FormatJSONSchema)
			}
		},
	}
	exportCmd.Flags().StringVarP(&format, "format", "f", FormatBSON, "output format: bson or jsonschema")
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "output file (defaults to stdout)")
	catalogCmd.AddCommand(exportCmd)

	catalogCmd.AddCommand(&cobra.Command{
		Use:   "validate COLLECTION FILE",
		Short: "Validate a JSON document (or - for stdin) against a collection schema",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(catalogFile)
			if err != nil {
				return err
			}
			doc, err := readDocument(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}
			if err := cat.Validate(args[0], doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Document is valid for %s.\n", args[0])
			return nil
		},
	})

	catalogCmd.AddCommand(&cobra.Command{
		Use:   "apply",
		Short: "Create every collection with its validator, or update the validator of existing ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(catalogFile)
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, env *environment) (err error) {
				docs, err := a.opts.OpenDocumentStore(ctx, env.cfg.Mongo, env.log)
				if err != nil {
					return err
				}
				defer func() {
					if closeErr := docs.Close(); closeErr != nil && err == nil {
						err = closeErr
					}
				}()

				result, err := cat.Apply(ctx, docs, env.log)
				out := cmd.OutOrStdout()
				for _, name := range result.Created {
					fmt.Fprintf(out, "created  %s\n", name)
				}
				for _, name := range result.Updated {
					fmt.Fprintf(out, "updated  %s\n", name)
				}
				return err
			})
		},
	})

	return catalogCmd
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Library(), nil
	}
	return catalog.LoadFile(path)
}

func readDocument(stdin io.Reader, path string) (any, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open document: %w", err)
		}
		defer f.Close()
		r = f
	}

	var doc any
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", path, err)
	}
	return doc, nil
}
