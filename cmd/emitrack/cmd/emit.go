package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/facturaelec/emitrack/internal/channel"
	"github.com/facturaelec/emitrack/internal/emission"
)

// ErrEmissionFailed is returned when the backend reports a failed outcome.
var ErrEmissionFailed = errors.New("emission failed")

var (
	emitTimeout   time.Duration
	emitAPIURL    string
	emitSocketURL string
)

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Run one emission attempt without the stepper",
	Long: `Open the channel, wait for the connection identifier, start one emission
and wait for its result. Each stage is printed as it arrives.

Exits non-zero when the channel cannot be opened, the attempt fails or the
timeout expires.`,
	Args: cobra.NoArgs,
	RunE: runEmit,
}

func init() {
	rootCmd.AddCommand(emitCmd)
	emitCmd.Flags().DurationVar(&emitTimeout, "timeout", 0, "Overall timeout (default: timeouts.emit from config)")
	emitCmd.Flags().StringVar(&emitAPIURL, "api-url", "", "Override the backend API URL")
	emitCmd.Flags().StringVar(&emitSocketURL, "socket-url", "", "Override the channel URL")
}

func runEmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("api-url") {
		cfg.APIURL = emitAPIURL
	}
	if cmd.Flags().Changed("socket-url") {
		cfg.SocketURL = emitSocketURL
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	timeout := cfg.Timeouts.Emit.Std()
	if cmd.Flags().Changed("timeout") {
		timeout = emitTimeout
	}

	logger := newLogger(cmd.ErrOrStderr(), verbose)
	store := openStore(logger)
	defer store.Close()

	s, err := newSession(cfg, logger, store)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	identified := make(chan string, 1)
	outcomes := make(chan emission.Outcome, 1)

	s.manager.AddListener(func(msg channel.Message) {
		if msg.Type != channel.TypeConnectionID {
			return
		}
		select {
		case identified <- msg.Text:
		default:
		}
	})
	s.tracker.OnStage = func(tr emission.Transition) {
		if tr.To == emission.StageNotStarted {
			return
		}
		fmt.Fprintf(out, "%d. %s\n", int(tr.To)+1, tr.To.Label())
	}
	s.tracker.OnOutcome = func(o emission.Outcome) {
		select {
		case outcomes <- o:
		default:
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	defer s.close()
	if err := s.manager.Open(ctx); err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	var connectionID string
	select {
	case connectionID = <-identified:
	case <-s.manager.Done():
		return errors.New("channel closed before a connection identifier arrived")
	case <-ctx.Done():
		return fmt.Errorf("waiting for connection identifier: %w", ctx.Err())
	}

	attemptID, err := s.tracker.Emit(ctx)
	if err != nil {
		return fmt.Errorf("start emission: %w", err)
	}
	logger.Debug("attempt started", "attempt_id", attemptID, "connection_id", connectionID)

	select {
	case o := <-outcomes:
		if !o.Success {
			fmt.Fprintf(out, "FAILED: %s\n", o.Message)
			return fmt.Errorf("%w: %s", ErrEmissionFailed, o.Message)
		}
		fmt.Fprintf(out, "OK: %s\n", o.Message)
		return nil
	case <-s.manager.Done():
		return fmt.Errorf("channel closed during attempt %s at %s", attemptID, s.progress.Stage())
	case <-ctx.Done():
		return fmt.Errorf("attempt %s stuck at %s: %w", attemptID, s.progress.Stage(), ctx.Err())
	}
}
