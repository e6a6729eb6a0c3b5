package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/pulseboard/pulseboard/internal/config"
	"github.com/pulseboard/pulseboard/internal/database"
	"github.com/pulseboard/pulseboard/internal/deadletter"
	"github.com/pulseboard/pulseboard/internal/gateway"
	"github.com/pulseboard/pulseboard/internal/governor"
	"github.com/pulseboard/pulseboard/internal/handlers"
	"github.com/pulseboard/pulseboard/internal/hub"
	"github.com/pulseboard/pulseboard/internal/logging"
	"github.com/pulseboard/pulseboard/internal/middleware"
	"github.com/pulseboard/pulseboard/internal/upstream"
)

func main() {
	config.Load()
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	gov := governor.New(database.DB, nil, governor.Config{
		SessionTokenCap:   config.Cfg.SessionTokenCap,
		MaxTokensPerCall:  config.Cfg.MaxTokensPerCall,
		BudgetCeilingUSD:  config.Cfg.BudgetCeilingUSD,
		BudgetWarnPercent: config.Cfg.BudgetWarnPercent,
	})

	jira := upstream.NewJiraClient(config.Cfg.JiraBaseURL, config.Cfg.JiraToken, gov)
	github := upstream.NewGitHubClient(config.Cfg.GitHubBaseURL, config.Cfg.GitHubToken, gov)

	gw := gateway.New(database.DB, nil, gov, jira, github, config.UpstreamTimeoutDuration())
	wsHub := hub.New()
	queue := deadletter.New(database.DB, nil, gw, wsHub, config.Cfg.BulkRetryLimit)

	api := &handlers.API{
		Gateway: gw,
		Gov:     gov,
		Queue:   queue,
		Hub:     wsHub,
	}

	var sweeper *cron.Cron
	if schedule := config.Cfg.SweepSchedule; schedule != "" {
		sweeper = cron.New()
		if _, err := sweeper.AddFunc(schedule, func() { sweepDeadLetters(queue) }); err != nil {
			log.Fatalf("Invalid sweep schedule %q: %v", schedule, err)
		}
		sweeper.Start()
		log.Printf("Dead-letter sweep scheduled: %s", schedule)
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		// Upstream deliveries authenticate themselves (GitHub HMAC); a bearer
		// requirement here would just break the webhooks.
		r.Post("/webhooks/jira", api.JiraWebhook)
		r.Post("/webhooks/github", api.GitHubWebhook)

		// Dashboard reads
		r.Get("/integrations/jira/issues", api.GetIssues)
		r.Get("/integrations/github/pulls", api.GetPullRequests)
		r.Get("/integrations/ratelimits", api.GetRateLimits)
		r.Get("/webhooks/metrics", api.GetWebhookMetrics)
		r.Get("/ai/cost", api.GetAICost)
		r.Post("/ai/usage", api.RecordAIUsage)

		// Refresh signals for connected dashboards
		r.Get("/ws", wsHub.Subscribe)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminAuth)

			r.Get("/deadletter", api.ListDeadLetters)
			r.Post("/deadletter/retry-all", api.RetryAllDeadLetters)
			r.Post("/deadletter/{id}/retry", api.RetryDeadLetter)
			r.Get("/server/logs", handlers.GetServerLogs)
		})
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	if sweeper != nil {
		<-sweeper.Stop().Done()
	}
	gov.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
