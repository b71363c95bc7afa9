package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"magpipeline/internal/app"
	"magpipeline/internal/config"
	"magpipeline/internal/parser"
	"magpipeline/internal/pipeline"
	tmplstore "magpipeline/internal/service/template"
	"magpipeline/internal/store"
)

var templateOut string

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Inspect or replace the active template",
}

var templateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Write the active template to a file and print its columns",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		templates, db, err := openTemplates()
		if err != nil {
			return err
		}
		defer db.Close()

		tmpl := templates.GetActive()
		out := templateOut
		if out == "" {
			out = pipeline.TemplateFileName
		}
		if err := os.WriteFile(out, tmpl.Bytes(), 0644); err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Version:\t%s\n", tmpl.Version)
		fmt.Fprintf(w, "Sheet:\t%s (header row %d, data row %d)\n", tmpl.Layout.Sheet, tmpl.Layout.HeaderRow, tmpl.Layout.DataRow)
		for _, col := range tmpl.Columns {
			fmt.Fprintf(w, "  %d\t%s\t%s\n", col.Index, col.Header, col.Type)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
		return nil
	},
}

var templateReplaceCmd = &cobra.Command{
	Use:   "replace <template.xlsx>",
	Short: "Validate a template and make it active (the current one is backed up)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		templates, db, err := openTemplates()
		if err != nil {
			return err
		}
		defer db.Close()

		backup, err := templates.ReplaceActive(context.Background(), data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Template replaced; previous version saved as %s\n", backup.Key)
		return nil
	},
}

var templateBackupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List template backups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		templates, db, err := openTemplates()
		if err != nil {
			return err
		}
		defer db.Close()

		backups, err := templates.ListBackups()
		if err != nil {
			return err
		}
		if len(backups) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No backups yet.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tCREATED\tSIZE")
		for _, b := range backups {
			fmt.Fprintf(w, "%s\t%s\t%s\n", b.Key, humanize.Time(b.CreatedAt), humanize.Bytes(uint64(b.Size)))
		}
		return w.Flush()
	},
}

func init() {
	templateShowCmd.Flags().StringVarP(&templateOut, "output", "o", "", "Where to write the template")
	templateCmd.AddCommand(templateShowCmd, templateReplaceCmd, templateBackupsCmd)
}

// openTemplates 打开数据目录中的模板仓库与数据库
func openTemplates() (*tmplstore.Store, *store.Store, error) {
	dataDir, err := config.EnsureDataDir(cfg)
	if err != nil {
		return nil, nil, err
	}
	db, err := store.New(filepath.Join(dataDir, cfg.Data.DBFile))
	if err != nil {
		return nil, nil, err
	}
	syn, err := parser.LoadSynonyms(cfg.ResolvePath(cfg.Data.SynonymsPath))
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	opts, err := app.TemplateOptions(cfg, dataDir, parser.StaticSynonyms(syn), db, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	templates, err := tmplstore.Open(opts)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return templates, db, nil
}
