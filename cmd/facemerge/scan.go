package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/esimov/facemerge/batch"
	"github.com/esimov/facemerge/store"
	"github.com/esimov/facemerge/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var scanOpts struct {
	concurrency int
	softCap     int
	yes         bool
	db          string
	extensions  []string
}

var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "Detect the faces of every image found in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("conc") {
			cfg.Batch.Concurrency = scanOpts.concurrency
		}
		if flags.Changed("soft-cap") {
			cfg.Batch.SoftCap = scanOpts.softCap
		}
		if flags.Changed("ext") {
			cfg.Batch.Extensions = scanOpts.extensions
		}
		if flags.Changed("db") {
			cfg.Store.Path = scanOpts.db
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runScan(cmd, args[0])
	},
}

func init() {
	scanCmd.Flags().IntVar(&scanOpts.concurrency, "conc", batch.DefaultConcurrency, "Maximum number of detection calls in flight")
	scanCmd.Flags().IntVar(&scanOpts.softCap, "soft-cap", 10, "Ask before scanning more images than this (0 disables the question). Without a terminal on stdin the scan stops there unless --yes is given")
	scanCmd.Flags().BoolVarP(&scanOpts.yes, "yes", "y", false, "Continue past the soft cap without asking, required to scan more than --soft-cap images from scripts")
	scanCmd.Flags().StringVar(&scanOpts.db, "db", "", "SQLite database receiving the detections")
	scanCmd.Flags().StringSliceVar(&scanOpts.extensions, "ext", nil, "Image extensions to scan (default jpg,png,bmp,gif)")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, dir string) error {
	ctx := cmd.Context()

	det, err := newDetector(cfg)
	if err != nil {
		return err
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	opts := cfg.BatchOptions()
	paths, err := batch.Scan(dir, opts.Extensions)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, utils.DecorateText("No images found in "+dir, utils.StatusMessage))
		return nil
	}

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("🔍 Detecting faces"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	opts.Logger = logger()
	opts.OnSettle = func(ev batch.Event) {
		if ev.State == batch.Completed || ev.State == batch.PermanentFailure {
			bar.Add(1)
		}
	}
	opts.OnSoftCap = func(admitted int) batch.Decision {
		if scanOpts.yes {
			return batch.Continue
		}
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr)
			fmt.Fprintln(os.Stderr, utils.DecorateText(softCapMessage(admitted), utils.StatusMessage))
			return batch.Abort
		}
		fmt.Fprintln(os.Stderr)
		if askContinue(os.Stdin, os.Stderr, admitted, len(paths)) {
			return batch.Continue
		}
		return batch.Abort
	}

	report := batch.New(det, opts).RunPaths(ctx, paths)
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	printReport(os.Stderr, report)

	if db != nil {
		if err := saveReport(ctx, db, report); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Results saved to %s\n", utils.DecorateText(cfg.Store.Path, utils.SuccessMessage))
	}
	return nil
}

// saveReport persists the report even when the scan was interrupted.
func saveReport(ctx context.Context, db *store.Store, report *batch.Report) error {
	return db.SaveReport(context.WithoutCancel(ctx), report)
}

func softCapMessage(admitted int) string {
	return fmt.Sprintf("Soft cap of %d images reached and stdin is not a terminal, stopping. "+
		"Use --yes to continue or --soft-cap 0 to disable the limit.", admitted)
}

// askContinue asks whether the scan should go on past the soft cap. Anything but an
// explicit yes stops it.
func askContinue(in io.Reader, out io.Writer, admitted, total int) bool {
	fmt.Fprintf(out, "%d of %d images were sent for detection. Continue? [y/N] ", admitted, total)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func printReport(w io.Writer, r *batch.Report) {
	agg := r.Aggregate
	status := utils.DecorateText("✔ Scan finished", utils.SuccessMessage)
	if r.Aborted {
		status = utils.DecorateText("⚠ Scan stopped", utils.StatusMessage)
	}
	fmt.Fprintf(w, "%s in %s\n", status, utils.DecorateText(utils.FormatTime(r.Elapsed), utils.SuccessMessage))
	fmt.Fprintf(w, "  images with results: %d\n", agg.Len())
	fmt.Fprintf(w, "  faces found:         %d\n", len(agg.FaceIDs()))
	fmt.Fprintf(w, "  retries:             %d\n", r.Retries)
	fmt.Fprintf(w, "  peak in flight:      %d\n", r.PeakInFlight)

	if len(r.Skipped) > 0 {
		fmt.Fprintf(w, "  skipped:             %d\n", len(r.Skipped))
	}
	if r.PermanentFailureCount > 0 {
		fmt.Fprintf(w, "  %s\n", utils.DecorateText(fmt.Sprintf("failed: %d", r.PermanentFailureCount), utils.ErrorMessage))
		for _, f := range r.Failures {
			fmt.Fprintf(w, "    %s: %v\n", f.Path, f.Err)
		}
	}
}
