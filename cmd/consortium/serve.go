package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/consortium/internal/config"
	"github.com/zulandar/consortium/internal/dashboard"
	"github.com/zulandar/consortium/internal/digest"
	"github.com/zulandar/consortium/internal/digest/discord"
	"github.com/zulandar/consortium/internal/digest/slack"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only API and run the digest schedule",
		Long:  "Starts the JSON dashboard API and, when digest.schedule is configured, posts the leaderboard digest to Slack and/or Discord.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default dashboard.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if port <= 0 {
		port = a.cfg.Dashboard.Port
	}
	sched, err := newDigestScheduler(a)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dashboard.Start(ctx, dashboard.StartOpts{
			Sessions:    a.sessions,
			Evaluations: a.evals,
			Port:        port,
			Out:         cmd.OutOrStdout(),
			Logger:      a.logger,
		})
	})
	if sched != nil {
		a.logger.Info("digest scheduled", zap.String("schedule", a.cfg.Digest.Schedule))
		g.Go(func() error {
			sched.Run(ctx)
			return nil
		})
	}

	err = g.Wait()
	fmt.Fprintln(cmd.OutOrStdout(), "Shut down.")
	return err
}

// newDigestScheduler returns nil when no schedule is configured.
func newDigestScheduler(a *app) (*digest.Scheduler, error) {
	cfg := a.cfg.Digest
	if cfg.Schedule == "" {
		return nil, nil
	}
	pubs, err := digestPublishers(cfg)
	if err != nil {
		return nil, err
	}
	return digest.NewScheduler(digest.SchedulerOpts{
		Schedule:   cfg.Schedule,
		Source:     a.evals,
		Publishers: pubs,
		Limit:      cfg.Limit,
		Logger:     a.logger.Named("digest"),
	})
}

func digestPublishers(cfg config.DigestConfig) ([]digest.Publisher, error) {
	var pubs []digest.Publisher
	if cfg.Slack.Enabled() {
		p, err := slack.New(cfg.Slack.Token, cfg.Slack.Channel)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if cfg.Discord.Enabled() {
		p, err := discord.New(cfg.Discord.Token, cfg.Discord.Channel)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	return pubs, nil
}
