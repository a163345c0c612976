package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trivia-sync-service/internal/app"
	"trivia-sync-service/internal/config"
	"trivia-sync-service/internal/logger"
	"trivia-sync-service/internal/metrics"
	transport "trivia-sync-service/internal/transport/http"

	"github.com/spf13/cobra"
)

const serviceName = "trivia-sync-service"

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(serviceName, cfg.Log.Level)
	m := metrics.New()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	be, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.Close(); err != nil {
			log.WithError(err).Warn("closing backends")
		}
	}()

	opts := []app.Option{app.WithLogger(log), app.WithObserver(m)}
	svc := app.Services{
		Sessions:  app.NewSessionService(be.store, be.bus, opts...),
		Answers:   app.NewAnswerService(be.store, be.questions, be.bus, opts...),
		Questions: app.NewQuestionService(be.store, be.questions, be.bus, opts...),
		Players:   app.NewPlayerService(be.store, opts...),
	}

	jobsCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()
	sched, err := startJobs(jobsCtx, svc.Sessions, be.db, m,
		config.TTLDuration(cfg.Lobby.ReapInterval, time.Minute),
		config.TTLDuration(cfg.Lobby.MaxAge, 2*time.Hour),
		log,
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := sched.Shutdown(); err != nil {
			log.WithError(err).Warn("scheduler shutdown")
		}
	}()

	wsHandler := transport.NewWSHandler(be.store, be.bus, svc, cfg.TimerConfig(), m, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	transport.NewRESTHandler(svc, log).Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      m.Middleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.WithField("port", finalPort).Info("starting trivia service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	stopJobs()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
