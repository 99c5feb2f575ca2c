package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/hangup"
	"github.com/hugo-lorenzo-mato/actguard/internal/health"
	"github.com/hugo-lorenzo-mato/actguard/internal/report"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze the last recorded run for hangups",
	Long: `Re-run the hangup heuristics over the last run recorded by 'actguard run'
and compare the outcome with the saved baseline.

After a run you consider healthy, record it with --save-baseline. Later
analyses flag heuristics that were clean in the baseline and now fire as
a suspected regression.`,
	RunE: runAnalyze,
}

var (
	analyzeFormat       string
	analyzeSaveBaseline bool
)

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVarP(&analyzeFormat, "format", "f", "text", "output format (text, json, yaml)")
	analyzeCmd.Flags().BoolVar(&analyzeSaveBaseline, "save-baseline", false, "record this run as the known-good baseline")
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	format, err := report.ParseFormat(analyzeFormat)
	if err != nil {
		return err
	}
	cfg := appCfg

	detector := newDetector(cfg, newChecker(cfg), nil)
	retro, err := lastRunFunc(cfg, detector)(cmd.Context())
	if err != nil {
		return err
	}

	if err := report.RenderRetrospective(cmd.OutOrStdout(), retro, format); err != nil {
		return err
	}

	if analyzeSaveBaseline {
		if retro.Analysis.Worst() >= health.StatusCritical {
			return core.ErrValidation(core.CodeInvalidConfig, "the last run has critical issues and cannot be a baseline").
				WithRemediation("fix the issues, run the workflow again, then save the baseline")
		}
		path := cfg.State.BaselinePath()
		if err := hangup.SaveBaseline(path, retro.NewBaseline()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "baseline saved to %s\n", path)
		return nil
	}

	if retro.Status() >= health.StatusCritical {
		return &ExitError{Code: core.ExitDiagnosticsFailed}
	}
	return nil
}
