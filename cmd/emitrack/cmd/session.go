package cmd

import (
	"fmt"
	"log/slog"

	"github.com/facturaelec/emitrack/internal/api"
	"github.com/facturaelec/emitrack/internal/channel"
	"github.com/facturaelec/emitrack/internal/config"
	"github.com/facturaelec/emitrack/internal/db"
	"github.com/facturaelec/emitrack/internal/emission"
)

// session wires one channel, its API client and the tracker together.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	client   *api.Client
	manager  *channel.Manager
	progress *emission.Progress
	tracker  *emission.Tracker
}

func newSession(cfg *config.Config, logger *slog.Logger, store *db.DB) (*session, error) {
	classifier, err := cfg.Classifier()
	if err != nil {
		return nil, err
	}

	client, err := api.New(cfg.APIURL,
		api.WithTimeout(cfg.Timeouts.HTTP.Std()),
		api.WithSubmitPath(cfg.SubmitPath),
		api.WithLogger(logger),
		api.WithOnUnauthorized(func() {
			logger.Warn("backend rejected the session", "action", "unauthorized")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("api client: %w", err)
	}

	manager := channel.New(channel.Config{
		URL:              cfg.SocketURL,
		Registrar:        client,
		RegistrarTimeout: cfg.Timeouts.Registrar.Std(),
		Logger:           logger,
	})

	progress := emission.NewProgress()
	progress.SetRejectRegression(cfg.RejectRegression)

	opts := []emission.TrackerOption{
		emission.WithLogger(logger),
		emission.WithClassifier(classifier),
		emission.WithStartTimeout(cfg.Timeouts.Start.Std()),
	}
	if store != nil {
		opts = append(opts, emission.WithRecorder(store))
	}

	return &session{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		manager:  manager,
		progress: progress,
		tracker:  emission.NewTracker(manager, progress, client, opts...),
	}, nil
}

// reload re-reads the config at path and swaps the keyword table and the
// regression guard. Connection settings need a restart.
func (s *session) reload(path string) (string, error) {
	cfg, err := config.LoadFrom(path)
	if err != nil {
		s.logger.Warn("config reload failed", "path", path, "error", err, "action", "reload_failed")
		return "", err
	}
	classifier, err := cfg.Classifier()
	if err != nil {
		return "", err
	}
	s.tracker.SetClassifier(classifier)
	s.progress.SetRejectRegression(cfg.RejectRegression)
	s.cfg.Keywords = cfg.Keywords
	s.cfg.RejectRegression = cfg.RejectRegression
	return classifier.Version(), nil
}

// close closes the channel and waits for the registrar and start calls.
func (s *session) close() {
	s.manager.Close()
	s.manager.WaitRegistrar()
	s.tracker.Wait()
}
