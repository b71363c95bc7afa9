package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"magpipeline/internal/app"
	"magpipeline/internal/exporter"
	"magpipeline/internal/model"
	"magpipeline/internal/parser"
	"magpipeline/internal/pipeline"
	"magpipeline/internal/util"
)

var (
	processOut  string
	processOpen bool
)

var processCmd = &cobra.Command{
	Use:   "process <report.xlsx>",
	Short: "Resolve and render a pipeline export locally",
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

		syn, err := parser.LoadSynonyms(cfg.ResolvePath(cfg.Data.SynonymsPath))
		if err != nil {
			return err
		}
		resolver := parser.NewResolver(parser.StaticSynonyms(syn), parser.WithMAGShare(cfg.Render.MAGShare))
		res, err := pipeline.Transform(data, templates.GetActive(), syn, resolver, app.NewRenderer(cfg))
		if err != nil {
			return err
		}

		out := processOut
		if out == "" {
			out = filepath.Join(filepath.Dir(args[0]), exporter.OutputFileName(cfg.Render.OutputPrefix, time.Now()))
		}
		if err := os.WriteFile(out, res.Output, 0644); err != nil {
			return err
		}

		printReport(cmd.OutOrStdout(), res)
		fmt.Fprintf(cmd.OutOrStdout(), "\nWrote %s (%s)\n", out, humanize.Bytes(uint64(len(res.Output))))
		if processOpen {
			return util.OpenFile(out)
		}
		return nil
	},
}

func init() {
	processCmd.Flags().StringVarP(&processOut, "output", "o", "", "Output workbook path")
	processCmd.Flags().BoolVar(&processOpen, "open", false, "Open the output workbook when done")
}

func printReport(w io.Writer, res *pipeline.Result) {
	rep := res.Report
	fmt.Fprintf(w, "Sheet:     %s (header row %d)\n", res.Raw.Sheet, res.Raw.HeaderRow)
	fmt.Fprintf(w, "Rows:      %d", len(res.Records))
	if res.Summary != nil {
		fmt.Fprint(w, " + total row")
	}
	if res.Raw.Excluded > 0 {
		fmt.Fprintf(w, " (%d excluded)", res.Raw.Excluded)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Matched:")
	for _, m := range rep.Matched {
		fmt.Fprintf(w, "  %-28s <- %s (%s)\n", m.Field, m.Source, m.Rank)
	}
	printList(w, "Missing", rep.Missing)
	printList(w, "Extra", rep.Extra)
	printList(w, "Derived without input", rep.Flagged)
	for _, a := range rep.Ambiguous {
		fmt.Fprintf(w, "Ambiguous: %s -> %s\n", a.Field, strings.Join(a.Candidates, ", "))
	}
	if n := len(rep.Unparsed); n > 0 {
		fmt.Fprintf(w, "Unparsed:  %d cell(s)\n", n)
		for _, c := range firstIssues(rep.Unparsed, 10) {
			fmt.Fprintf(w, "  row %d %s: %q\n", c.Row, c.Field, c.Raw)
		}
	}
}

func printList(w io.Writer, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s: %s\n", label, strings.Join(items, ", "))
}

func firstIssues(issues []model.CellIssue, n int) []model.CellIssue {
	if len(issues) > n {
		return issues[:n]
	}
	return issues
}
