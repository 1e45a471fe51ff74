// Command realtime-broker runs the session broker as a standalone chi
// server: it exposes the session, config, and health endpoints that
// the browser-side transport client talks to (spec.md §4.7, §6).
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/digitallysavvy/realtimevoice/pkg/broker"
	"github.com/digitallysavvy/realtimevoice/pkg/config"
	"github.com/digitallysavvy/realtimevoice/pkg/telemetry"
)

func main() {
	cfg, err := config.LoadBrokerConfig()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if endpoint := telemetry.OTLPEndpointFromEnv(); endpoint != "" {
		shutdown, err := telemetry.NewProvider(ctx, telemetry.ProviderConfig{
			ServiceName: "realtime-broker",
			Endpoint:    endpoint,
			Insecure:    true,
		})
		if err != nil {
			log.Printf("telemetry: tracer provider disabled: %v", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	b := broker.New(broker.Config{
		APIKey:       cfg.OpenAIAPIKey,
		Organization: cfg.Organization,
		Project:      cfg.Project,
		CallsURL:     cfg.RealtimeCallsURL,
	}, &http.Client{Timeout: 20 * time.Second})

	limiter := broker.NewIPRateLimiter(rate.Limit(2), 5)

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   originList(cfg.AppOrigin),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", b.HandleHealth)
	r.Get("/config", broker.NewConfigHandler(cfg.SessionPath))
	r.With(limiter.Middleware).Post(cfg.SessionPath, b.HandleSession)

	addr := cfg.ServerHost + ":" + cfg.ServerPort
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		log.Printf("realtime-broker listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("realtime-broker: shutdown error: %v", err)
	}
}

func originList(origin string) []string {
	if origin == "" {
		return []string{"*"}
	}
	return []string{origin}
}
