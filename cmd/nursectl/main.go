// Package main provides nursectl, the command-line tool for working with
// a visit record database directly.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clinichq/nurselog/internal/config"
	"github.com/clinichq/nurselog/internal/mirror"
	"github.com/clinichq/nurselog/internal/reconcile"
	"github.com/clinichq/nurselog/internal/store"
)

var dbPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "nursectl",
		Short:         "Manage school clinic visit records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the records database (default from DB_PATH)")

	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(findCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openStore migrates the database if it still has a legacy layout, then
// opens it. Every subcommand goes through here so the CLI never reads a
// superseded schema.
func openStore(ctx context.Context) (*store.Store, *zap.Logger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, nil, err
	}

	path := dbPath
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		path = cfg.DBPath
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	if _, _, err := store.Migrate(ctx, path, logger); err != nil {
		return nil, nil, err
	}

	st, err := store.Open(path, logger)
	if err != nil {
		return nil, nil, err
	}
	return st, logger, nil
}

func addCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a visit record from form-layout JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, logger, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			defer logger.Sync()

			var body map[string]string
			if err := json.Unmarshal([]byte(data), &body); err != nil {
				return fmt.Errorf("parse --data: %w", err)
			}

			rec, err := reconcile.Reconcile(reconcile.NewRow(body), reconcile.Form, time.Now().UTC())
			if err != nil {
				return err
			}
			if err := st.Create(ctx, rec); err != nil {
				return err
			}

			fmt.Printf("created record for %s (patient %s)\n", rec.FullName, rec.PatientID)
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "record fields as a JSON object")
	cmd.MarkFlagRequired("data")
	return cmd
}

func listCmd() *cobra.Command {
	var page, perPage int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visit records, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, logger, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			defer logger.Sync()

			result, err := st.List(ctx, page, perPage)
			if err != nil {
				return err
			}
			printPage(result)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&perPage, "per-page", 20, "records per page")
	return cmd
}

func findCmd() *cobra.Command {
	var page, perPage int
	cmd := &cobra.Command{
		Use:   "find <term>",
		Short: "Search records by name, patient ID, or nurse",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, logger, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			defer logger.Sync()

			result, err := st.Search(ctx, args[0], page, perPage)
			if err != nil {
				return err
			}
			printPage(result)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&perPage, "per-page", 20, "records per page")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <patient-id>",
		Short: "Print one record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, logger, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			defer logger.Sync()

			rec, err := st.GetByPatientID(ctx, args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func updateCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "update <patient-id>",
		Short: "Update fields of a record from JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, logger, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			defer logger.Sync()

			var changes map[string]any
			if err := json.Unmarshal([]byte(data), &changes); err != nil {
				return fmt.Errorf("parse --data: %w", err)
			}
			if len(changes) == 0 {
				return fmt.Errorf("no fields to update")
			}

			rec, err := st.Update(ctx, args[0], changes)
			if err != nil {
				return err
			}
			fmt.Printf("updated record for %s (patient %s)\n", rec.FullName, rec.PatientID)
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "changed fields as a JSON object")
	cmd.MarkFlagRequired("data")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <patient-id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, logger, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			defer logger.Sync()

			if err := st.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("deleted", args[0])
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every record to an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, logger, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			defer logger.Sync()

			records, err := st.All(ctx)
			if err != nil {
				return err
			}

			path := out
			if path == "" {
				path = mirror.ExportFilename(".", time.Now())
			}
			if err := mirror.Export(records, path); err != nil {
				return err
			}
			fmt.Printf("exported %d records to %s\n", len(records), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default timestamped name in the current directory)")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import records from an xlsx or csv file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, logger, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			defer logger.Sync()

			report, err := mirror.ImportFile(ctx, args[0], st, logger, time.Now().UTC())
			if err != nil {
				return err
			}

			fmt.Printf("imported %d records, %d failed\n", report.Imported, report.Failed)
			for _, re := range report.Errors {
				fmt.Fprintln(os.Stderr, " ", re.Error())
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade a legacy database layout in place",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			path := dbPath
			if path == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				path = cfg.DBPath
			}

			backup, from, err := store.Migrate(cmd.Context(), path, logger)
			if err != nil {
				return err
			}
			if backup == "" {
				fmt.Println("database already uses the current layout")
				return nil
			}
			fmt.Printf("migrated from %s, backup at %s\n", from, backup)
			return nil
		},
	}
}

func printPage(p *store.Page) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATIENT ID\tNAME\tDATE\tTIME\tREASON\tNURSE")
	for _, rec := range p.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.PatientID, rec.FullName, rec.DateOfVisit, rec.TimeOfVisit,
			rec.VisitReasonCategory, rec.NurseName)
	}
	w.Flush()
	fmt.Printf("page %d of %d (%d total)\n", p.Page, p.Pages, p.Total)
}
