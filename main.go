package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tabs-api-go/config"
	"tabs-api-go/logcolors"
	"tabs-api-go/middleware"
	"tabs-api-go/services/notifier"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
)

var conf = config.Get()

// newHandler builds the router and the full middleware chain, outermost
// first: inbound limiter, CORS, admin API key, request logging.
func newHandler(s *server) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.Instrument(s.metrics))
	setupRoutes(router, s)

	loggedRouter := middleware.LoggingMiddleware(router)
	authed := middleware.APIKeyMiddleware(conf.Configuration.APIKey, conf.Configuration.APIKey != "", publicPaths)(loggedRouter)

	c := cors.New(cors.Options{
		AllowedOrigins:   conf.Configuration.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"X-Cache-Status", "X-Provider", "X-RateLimit-Type", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
	})
	corsHandler := c.Handler(authed)

	return limitMiddleware(corsHandler, s.ipLimiter, s.metrics)
}

func main() {
	setupLogging(conf)

	if err := conf.Validate(); err != nil {
		log.Fatalf("%s Invalid configuration: %v", logcolors.LogConfig, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := buildServer(ctx, conf)
	if err != nil {
		log.Fatalf("%s Startup failed: %v", logcolors.LogServer, err)
	}
	defer s.close()

	notifier.NewAlertHandler(notifier.AlertConfig{
		Notifiers:        s.notifiers,
		CooldownDuration: conf.Notifier.AlertCooldown,
	}).Start(notifier.GetEventBus())

	jobs, err := startJobs(s, conf)
	if err != nil {
		log.Fatalf("%s Invalid schedule: %v", logcolors.LogConfig, err)
	}

	srv := &http.Server{
		Addr:              ":" + conf.Configuration.Port,
		Handler:           newHandler(s),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("%s Listening on port %s", logcolors.LogServer, conf.Configuration.Port)
		notifier.PublishServerStarted(conf.Configuration.Port, backendName(s.store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("%s %v", logcolors.LogServer, err)
		}
	}()

	<-ctx.Done()
	log.Infof("%s Shutting down", logcolors.LogServer)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("%s Graceful shutdown failed: %v", logcolors.LogServer, err)
	}
	<-jobs.Stop().Done()
}
