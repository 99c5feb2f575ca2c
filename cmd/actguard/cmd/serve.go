package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/actguard/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve diagnostic reports over HTTP",
	Long: `Start an HTTP server exposing the doctor report and the last run analysis.

Routes:
  GET /health
  GET /api/v1/checks
  GET /api/v1/diagnostics[?check=name][&format=json|yaml|text][&refresh=true]
  GET /api/v1/diagnostics/{check}
  GET /api/v1/last-run

Examples:
  # Start with defaults (localhost:8089)
  actguard serve

  # Listen on all interfaces without CORS headers
  actguard serve --host 0.0.0.0 --port 9000 --no-cors`,
	RunE: runServe,
}

var serveNoCORS bool

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host address to bind to (default: server.host)")
	serveCmd.Flags().IntP("port", "p", 0, "port to listen on (default: server.port)")
	serveCmd.Flags().BoolVar(&serveNoCORS, "no-cors", false, "disable CORS headers")

	bindFlag(serveCmd.Flags(), "host", "server.host")
	bindFlag(serveCmd.Flags(), "port", "server.port")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := appCfg

	svc, err := newDiagnostics(cfg)
	if err != nil {
		return err
	}
	detector := newDetector(cfg, newChecker(cfg), nil)

	srvCfg := serverConfig(cfg)
	srvCfg.EnableCORS = !serveNoCORS
	srv := server.New(srvCfg, logger,
		server.WithDiagnostics(svc),
		server.WithLastRun(lastRunFunc(cfg, detector)),
	)

	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "serving on http://%s\n", srv.Addr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	return srv.Shutdown(context.WithoutCancel(ctx))
}
