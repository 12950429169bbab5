package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// exitError carries a process exit code out of a cobra RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configError(err error) error {
	return &exitError{code: exitInvalidConfig, err: err}
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI with args and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(context.Background())
	if err == nil {
		return exitSuccess
	}

	fmt.Fprintf(stderr, "agentd: %v\n", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitRuntimeError
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentd",
		Short: "Agent scheduler for the operational-intelligence dashboard",
		Long: `agentd hosts the dashboard agents (data quality, predictive, prescriptive,
anomaly) and runs them on their triggers.

Environment Variables:
  DATABASE_URL              Database connection string (required)
  DATABASE_DRIVER           "postgres" or "sqlite" (default: "postgres")
  REDIS_ADDR                Redis address for outcome analytics (optional)
  HTTP_ADDR                 Ops API address (default: ":8080")

  TICK_INTERVAL             Scheduler tick interval (default: "1s")
  SCHEDULER_TIMEZONE        Timezone for daily/hourly cadences (default: "UTC")
  SLOW_RUN_WARNING          Warn when an agent run exceeds this, 0 disables (default: "5m")
  TRIGGERS_DISABLE_DEFAULTS Skip the built-in triggers (default: "false")
  AGENTS_CONFIG             YAML file with agent settings and extra triggers

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  DISPATCHER_DRAIN_TIMEOUT  Report drain timeout on shutdown (default: "30s")
  EVENTBUS_BUFFER_SIZE      Buffered reports between scheduler and sinks (default: "100")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Dedicated metrics port (default: shared with HTTP_ADDR)
  HEALTH_INTERVAL           Agent health sweep interval (default: "30s")

  CIRCUIT_BREAKER_THRESHOLD Consecutive sink failures before opening, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Time an open sink is skipped (default: "2m")
  ALERT_WEBHOOK_URL         Webhook notified of failed runs (optional)
  ALERT_WEBHOOK_SECRET      HMAC secret for the alert webhook
  ALERT_WEBHOOK_TIMEOUT     Alert webhook request timeout (default: "10s")
  ANALYTICS_RETENTION       Redis counter retention (default: "168h")

  LOG_LEVEL                 debug, info, warn, error (default: "info")
  LOG_FORMAT                json or console (default: "json")`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newHealthCmd(),
		newValidateCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}
