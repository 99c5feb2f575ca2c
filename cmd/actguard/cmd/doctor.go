package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/report"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the container engine, the runner and the host",
	Long: `Run every environment check and print a health report.

Checks run concurrently, each with its own timeout. The overall status is
the worst individual status. The command exits with status 3 when any
check is CRITICAL or ERROR.

Examples:
  actguard doctor
  actguard doctor --check engine-daemon --check compose-plugin
  actguard doctor --format json --output doctor.json`,
	RunE: runDoctor,
}

var (
	doctorFormat  string
	doctorOutput  string
	doctorChecks  []string
	doctorVerbose bool
	doctorList    bool
)

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().StringVarP(&doctorFormat, "format", "f", "text", "output format (text, json, yaml)")
	doctorCmd.Flags().StringVarP(&doctorOutput, "output", "o", "", "also write the report to this file")
	doctorCmd.Flags().StringSliceVarP(&doctorChecks, "check", "c", nil, "run only the named checks (repeatable)")
	doctorCmd.Flags().BoolVarP(&doctorVerbose, "verbose", "v", false, "show check details")
	doctorCmd.Flags().BoolVar(&doctorList, "list", false, "list the available checks and exit")
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	format, err := report.ParseFormat(doctorFormat)
	if err != nil {
		return err
	}
	svc, err := newDiagnostics(appCfg)
	if err != nil {
		return err
	}

	if doctorList {
		for _, name := range svc.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	}

	rep, err := svc.RunChecks(cmd.Context(), doctorChecks...)
	if err != nil {
		return err
	}

	if err := report.Render(cmd.OutOrStdout(), rep, format, report.Options{Verbose: doctorVerbose}); err != nil {
		return err
	}
	if doctorOutput != "" {
		if err := report.WriteFile(doctorOutput, rep, report.FormatFromPath(doctorOutput, format)); err != nil {
			return err
		}
		logger.Info("doctor: report written", "path", doctorOutput)
	}

	if code := rep.ExitCode(); code != core.ExitSuccess {
		return &ExitError{Code: code}
	}
	return nil
}
