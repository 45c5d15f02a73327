// Command boardsyncd runs the board synchronization relay: the board-channel
// WebSocket hub, the replicated-text rooms, and the write-back scheduler
// that moves snapshots from the Redis cache into the durable store.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/neohum/achievement-criteria/internal/cache"
	"github.com/neohum/achievement-criteria/internal/config"
	"github.com/neohum/achievement-criteria/internal/flush"
	"github.com/neohum/achievement-criteria/internal/hub"
	"github.com/neohum/achievement-criteria/internal/store"
	"github.com/neohum/achievement-criteria/internal/textroom"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	root := &cobra.Command{
		Use:          "boardsyncd",
		Short:        "realtime board synchronization relay",
		SilenceUsage: true,
	}
	root.AddCommand(serveCommand(log))

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func serveCommand(log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "start the relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
}

func serve(parent context.Context, cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The cache is load-bearing: without it there is no fan-out bus and no
	// staging area for durable writes.
	rdb, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, log)
	if err != nil {
		return err
	}
	defer rdb.Close()
	log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

	st := openStore(ctx, cfg, log)
	if st != nil {
		defer st.Close()
	}

	scheduler := flush.New(rdb, st, cfg.FlushInterval, log)
	boards := hub.New(rdb, scheduler, log)
	defer boards.Close()
	texts := textroom.NewHub(log)
	defer texts.Close()

	router := mux.NewRouter()
	router.HandleFunc("/ws", boards.ServeWS)
	router.HandleFunc("/y-ws/{room}", texts.ServeWS)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: router}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("relay listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		stop()
		wg.Wait()
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown incomplete")
	}
	// Scheduler.Run drains the dirty set on its way out.
	wg.Wait()
	return nil
}

// openStore picks the durable store: Postgres when DATABASE_URL is set,
// otherwise the embedded Bolt file, otherwise nothing. The relay stays up
// either way; without a store, writes stay in the cache and flushing retries.
func openStore(ctx context.Context, cfg config.Config, log zerolog.Logger) store.Store {
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err == nil {
			log.Info().Msg("using postgres snapshot store")
			return pg
		}
		log.Warn().Err(err).Msg("postgres unavailable, falling back")
	}
	if cfg.BoltPath != "" {
		b, err := store.NewBolt(cfg.BoltPath)
		if err == nil {
			log.Info().Str("path", cfg.BoltPath).Msg("using bolt snapshot store")
			return b
		}
		log.Warn().Err(err).Str("path", cfg.BoltPath).Msg("bolt unavailable")
	}
	log.Warn().Msg("no durable store configured, running in cache-only mode")
	return nil
}
