package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/gleaner/internal/report"
	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/FranksOps/gleaner/internal/storage/export"
)

var (
	exportTask   string
	exportFormat string
	exportOutput string
	exportSaved  bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write collected records as CSV or NDJSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := export.ParseFormat(exportFormat)
		if err != nil {
			return err
		}
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		out, closeOut, err := openOutput(exportOutput)
		if err != nil {
			return err
		}
		defer closeOut()

		w, err := export.NewWriter(format, out)
		if err != nil {
			return err
		}
		f := storage.RecordFilter{TaskID: exportTask}
		if exportSaved {
			f.Status = storage.RecordSaved
		}
		n, err := export.Records(ctx, a.Store, f, w)
		if err != nil {
			return err
		}
		a.Logger.Info("export complete", "records", n, "format", format)
		return nil
	},
}

var (
	reportFormat string
	reportDays   int
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize collected records and tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		var f storage.RecordFilter
		if reportDays > 0 {
			since := time.Now().AddDate(0, 0, -reportDays)
			f.Since = &since
		}
		summary, err := report.Load(ctx, a.Store, f)
		if err != nil {
			return err
		}
		out, closeOut, err := openOutput(reportOutput)
		if err != nil {
			return err
		}
		defer closeOut()
		return report.Write(out, reportFormat, summary)
	},
}

var deepModel string

var deepCmd = &cobra.Command{
	Use:   "deep <record-id>...",
	Short: "Fetch the full page behind records and optionally analyze it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		failed := 0
		for _, o := range a.Deep.Batch(ctx, args, deepModel) {
			if o.Success {
				fmt.Printf("%s\t%s\t%s\n", o.RecordID, o.Action, o.DeepID)
				continue
			}
			failed++
			fmt.Printf("%s\tfailed\t%s\n", o.RecordID, o.Error)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d deep collections failed", failed, len(args))
		}
		return nil
	},
}

// openOutput returns stdout for "" or "-", otherwise a created file.
func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func init() {
	exportCmd.Flags().StringVarP(&exportTask, "task", "t", "", "Only records of this task")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "Output format (csv or ndjson)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default stdout)")
	exportCmd.Flags().BoolVar(&exportSaved, "saved", false, "Only records marked saved")

	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "text", "Output format (text, json or html)")
	reportCmd.Flags().IntVar(&reportDays, "days", 0, "Only records from the last N days")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Output file (default stdout)")

	deepCmd.Flags().StringVarP(&deepModel, "model", "m", "", "Model id for analysis (empty skips analysis)")

	rootCmd.AddCommand(exportCmd, reportCmd, deepCmd)
}
