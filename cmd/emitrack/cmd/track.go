package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/facturaelec/emitrack/internal/emission"
	"github.com/facturaelec/emitrack/internal/signals"
	"github.com/facturaelec/emitrack/internal/tui"
	"github.com/facturaelec/emitrack/internal/watcher"
)

var trackPlain bool

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Open the channel and follow emissions live",
	Long: `Open the live channel and show the emission stepper.

When stdout is a terminal the interactive stepper runs: press "e" to emit,
"?" for help and "q" to quit. Otherwise every stage change is printed as a
line and each line read from stdin starts a new emission.

The keyword table is reloaded when the config file changes or on SIGHUP.`,
	Args: cobra.NoArgs,
	RunE: runTrack,
}

func init() {
	rootCmd.AddCommand(trackCmd)
	trackCmd.Flags().BoolVar(&trackPlain, "plain", false, "Print transitions as lines even on a terminal")
}

func runTrack(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	interactive := !trackPlain && term.IsTerminal(int(os.Stdout.Fd()))

	// The stepper owns the terminal, so logs go to a file.
	var logOut io.Writer = cmd.ErrOrStderr()
	if interactive {
		f, err := openLogFile(DefaultLogPath())
		if err != nil {
			logOut = io.Discard
		} else {
			defer f.Close()
			logOut = f
		}
	}
	logger := newLogger(logOut, verbose)

	store := openStore(logger)
	defer store.Close()

	s, err := newSession(cfg, logger, store)
	if err != nil {
		return err
	}

	sig, err := signals.New()
	if err != nil {
		return fmt.Errorf("signals: %w", err)
	}
	defer sig.Close()

	cfgWatcher, err := watcher.New(cfg.Path())
	if err != nil {
		logger.Warn("config watch disabled", "path", cfg.Path(), "error", err)
	} else {
		defer cfgWatcher.Close()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if interactive {
		return runInteractive(ctx, s, sig, cfgWatcher, logger)
	}
	return runPlain(ctx, cmd, s, sig, cfgWatcher, logger)
}

func runInteractive(ctx context.Context, s *session, sig *signals.Handler, w *watcher.Watcher, logger *slog.Logger) error {
	model := tui.New(tui.OptionsFromEnv(func() (string, error) {
		return s.tracker.Emit(ctx)
	}))
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	tui.Attach(s.manager, s.tracker, p)

	go func() {
		if err := s.manager.Open(ctx); err != nil {
			logger.Error("channel open failed", "url", s.cfg.SocketURL, "error", err)
		}
	}()

	go watchReloads(ctx, s, sig, w, func(version string, err error) {
		p.Send(tui.ReloadMsg{Version: version, Err: err})
	}, p.Quit)

	_, err := p.Run()
	s.close()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("stepper: %w", err)
	}
	return nil
}

func runPlain(ctx context.Context, cmd *cobra.Command, s *session, sig *signals.Handler, w *watcher.Watcher, logger *slog.Logger) error {
	out := cmd.OutOrStdout()
	s.tracker.OnStage = func(tr emission.Transition) {
		if tr.To == emission.StageNotStarted {
			fmt.Fprintf(out, "[%s] attempt %s started\n", tr.At.Format("15:04:05"), tr.AttemptID)
			return
		}
		fmt.Fprintf(out, "[%s] %d. %s\n", tr.At.Format("15:04:05"), int(tr.To)+1, tr.To.Label())
	}
	s.tracker.OnOutcome = func(o emission.Outcome) {
		result := "FAILED"
		if o.Success {
			result = "OK"
		}
		fmt.Fprintf(out, "[%s] %s: %s\n", time.Now().Format("15:04:05"), result, o.Message)
	}

	if err := s.manager.Open(ctx); err != nil {
		s.close()
		return fmt.Errorf("open channel: %w", err)
	}
	fmt.Fprintf(out, "connected to %s\n", s.cfg.SocketURL)

	go watchReloads(ctx, s, sig, w, func(version string, err error) {
		if err != nil {
			fmt.Fprintf(out, "keyword table not reloaded: %v\n", err)
			return
		}
		fmt.Fprintf(out, "keyword table %s loaded\n", version)
	}, nil)

	lines := make(chan struct{})
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()

	defer s.close()
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if _, err := s.tracker.Emit(ctx); err != nil {
				fmt.Fprintf(out, "cannot emit: %v\n", err)
			}
		case <-sig.Shutdown():
			logger.Info("track stopped", "action", "shutdown")
			return nil
		case <-s.manager.Done():
			fmt.Fprintln(out, "channel closed")
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// watchReloads applies config reloads from file changes and SIGHUP until ctx
// is done. onShutdown, when set, is called on SIGINT/SIGTERM.
func watchReloads(ctx context.Context, s *session, sig *signals.Handler, w *watcher.Watcher, notify func(string, error), onShutdown func()) {
	var events <-chan watcher.Event
	var errs <-chan error
	if w != nil {
		events = w.Events()
		errs = w.Errors()
	}
	var shutdown <-chan os.Signal
	if onShutdown != nil {
		shutdown = sig.Shutdown()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			onShutdown()
			return
		case <-sig.Reload():
			notify(s.reload(s.cfg.Path()))
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Type == watcher.EventFileRemoved {
				continue
			}
			notify(s.reload(s.cfg.Path()))
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn("config watch error", "error", err)
		}
	}
}
