package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/facturaelec/emitrack/internal/sandbox"
)

var (
	sandboxAddr      string
	sandboxStepDelay time.Duration
	sandboxRateEvery time.Duration
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Run a local backend that simulates emissions",
	Long: `Serve the channel and REST endpoints the client expects, pushing the
three status messages and a result for every emission request.

Point the client at it with:
  EMITRACK_API_URL=http://127.0.0.1:3000/api
  EMITRACK_SOCKET_URL=ws://127.0.0.1:3000/ws`,
	Args: cobra.NoArgs,
	RunE: runSandbox,
}

func init() {
	rootCmd.AddCommand(sandboxCmd)
	sandboxCmd.Flags().StringVar(&sandboxAddr, "addr", "", "Listen address (default: sandbox.addr from config)")
	sandboxCmd.Flags().DurationVar(&sandboxStepDelay, "step-delay", 0, "Delay between pushed steps (default: sandbox.step_delay from config)")
	sandboxCmd.Flags().DurationVar(&sandboxRateEvery, "rate-every", 2*time.Second, "Minimum interval between emissions per connection")
}

func runSandbox(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	addr := cfg.Sandbox.Addr
	if cmd.Flags().Changed("addr") {
		addr = sandboxAddr
	}
	delay := cfg.Sandbox.StepDelay.Std()
	if cmd.Flags().Changed("step-delay") {
		delay = sandboxStepDelay
	}

	logger := newLogger(cmd.ErrOrStderr(), verbose)
	srv := sandbox.New(addr,
		sandbox.WithLogger(logger),
		sandbox.WithStepDelay(delay),
		sandbox.WithRateLimit(sandboxRateEvery, 1),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Sandbox listening on %s\nPress Ctrl+C to stop.\n", addr)
	return srv.Run(ctx)
}
