package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vincentbai/gazetrace-agent/internal/client"
	"github.com/vincentbai/gazetrace-agent/internal/config"
	"github.com/vincentbai/gazetrace-agent/internal/database"
	"github.com/vincentbai/gazetrace-agent/internal/engine"
	"github.com/vincentbai/gazetrace-agent/internal/logger"
	"github.com/vincentbai/gazetrace-agent/internal/metrics"
	"github.com/vincentbai/gazetrace-agent/internal/server"
	"github.com/vincentbai/gazetrace-agent/internal/session"
	"github.com/vincentbai/gazetrace-agent/internal/tracker"
)

var sessionID string

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local gaze agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to resume (default: a new random id)")
	return cmd
}

// sessionStore picks the backend that holds calibration state between
// page loads.
func sessionStore(db *database.Database, id string, log logger.Logger) (session.Store, func(), error) {
	switch cfg.Session.Backend {
	case config.BackendRedis:
		redisClient, err := session.NewRedisClient(session.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		return session.NewRedisStore(redisClient, id, cfg.Session.TTL), func() { redisClient.Close() }, nil
	case config.BackendMemory:
		return session.NewMemoryStore(), func() {}, nil
	default:
		if cfg.Session.TTL > 0 {
			purged, err := db.PurgeSessionsBefore(context.Background(), time.Now().Add(-cfg.Session.TTL))
			if err != nil {
				log.Warn("Failed to purge expired sessions", logger.Error(err))
			} else if purged > 0 {
				log.Info("Purged expired session state", logger.Int64("rows", purged))
			}
		}
		return db.SessionStore(id), func() {}, nil
	}
}

func runServe(ctx context.Context) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	id := sessionID
	if id == "" {
		id = uuid.NewString()
	}
	log = log.With(logger.String("session_id", id))

	store, closeStore, err := sessionStore(db, id, log)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer closeStore()

	m := metrics.New()
	env := client.NewEnvironment()
	remote := engine.NewRemote()
	tr := tracker.New(remote,
		tracker.WithLogger(log),
		tracker.WithSessionState(session.NewState(store)),
		tracker.WithViewport(env),
		tracker.WithMetrics(m),
	)

	srv := server.NewServer(server.Deps{
		DB:          db,
		Tracker:     tr,
		Engine:      remote,
		Environment: env,
		Metrics:     m,
		Logger:      log,
		SessionID:   id,
	}, cfg.Server.Address)

	// Tracking is optional: the agent keeps serving exports without it.
	if err := tr.Init(ctx, cfg.TrackerConfig()); err != nil {
		log.Warn("Continuing without gaze tracking", logger.Error(err))
	}
	if tr.RestoreCalibration(ctx) {
		log.Info("Restored calibration from session state")
	}

	log.Info("Starting gazetrace agent",
		logger.String("address", cfg.Server.Address),
		logger.String("database", cfg.Database.Path),
		logger.String("session_backend", cfg.Session.Backend),
	)
	return srv.Start()
}
