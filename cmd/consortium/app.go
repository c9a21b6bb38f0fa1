package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/consortium/internal/config"
	"github.com/zulandar/consortium/internal/db"
	"github.com/zulandar/consortium/internal/evaluation"
	"github.com/zulandar/consortium/internal/logging"
	"github.com/zulandar/consortium/internal/session"
)

// app bundles what every data command needs.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	logger   *zap.Logger
	sessions *session.Store
	evals    *evaluation.Store
}

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", defaultConfigPath, "path to consortium config file")
}

// openApp loads the config, opens (and migrates) the database and builds
// both stores. Logs go to the command's stderr.
func openApp(cmd *cobra.Command, configPath string) (*app, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	emitter := logging.NewEmitter(logger)

	sessions, err := session.NewStore(session.StoreOpts{DB: gormDB, Emitter: emitter})
	if err != nil {
		db.Close(gormDB)
		return nil, err
	}
	evals, err := evaluation.NewStore(evaluation.StoreOpts{
		DB:            gormDB,
		Emitter:       emitter,
		PromptPreview: cfg.Store.PromptPreview,
	})
	if err != nil {
		db.Close(gormDB)
		return nil, err
	}

	return &app{cfg: cfg, db: gormDB, logger: logger, sessions: sessions, evals: evals}, nil
}

func (a *app) Close() {
	a.logger.Sync()
	db.Close(a.db)
}

// parseSince accepts an RFC 3339 timestamp, a date, or a duration such as
// "72h" meaning that long ago. Empty means no bound.
func parseSince(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: want RFC 3339, YYYY-MM-DD or a duration like 24h", raw)
}
