package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/flowforge/flowforge/internal/config"
	"github.com/flowforge/flowforge/internal/dispatch"
	"github.com/flowforge/flowforge/internal/hub"
	"github.com/flowforge/flowforge/internal/orchestrator"
	"github.com/flowforge/flowforge/internal/store"
	"github.com/flowforge/flowforge/web/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return serve(cmd.Context(), path, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(parent context.Context, cfgPath string, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.General.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	h := hub.New()
	orch := orchestrator.New(st)
	dispatcher := dispatch.New(st, h, dispatch.WebhookConfig{
		URL:    cfg.Webhook.URL,
		Secret: cfg.Webhook.Secret,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler: api.NewServer(orch, dispatcher, h, cfg.Realtime).Handler(),
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.General.PurgeSchedule, func() {
		n, err := st.PurgeExpired(context.Background(), time.Now())
		if err != nil {
			log.Printf("ttl purge failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("ttl purge removed %d records", n)
		}
	}); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", cfg.General.PurgeSchedule, err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sweeper.Start()
		<-ctx.Done()
		<-sweeper.Stop().Done()
		return nil
	})

	g.Go(func() error {
		// Webhook settings follow the config file without a restart
		return config.Watch(ctx, cfgPath, func(fresh *config.Config) {
			dispatcher.Reconfigure(dispatch.WebhookConfig{
				URL:    fresh.Webhook.URL,
				Secret: fresh.Webhook.Secret,
			})
		})
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
