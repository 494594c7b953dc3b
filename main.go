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

	"github.com/opsdeck/termbridge/internal/config"
	"github.com/opsdeck/termbridge/internal/database"
	"github.com/opsdeck/termbridge/internal/handlers"
	"github.com/opsdeck/termbridge/internal/termsession"
)

func main() {
	config.Load()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	if config.Cfg.HostsFile != "" {
		if err := database.SeedServersFromFile(config.Cfg.HostsFile); err != nil {
			log.Printf("WARNING: hosts seed failed: %v", err)
		}
	}

	sessionMgr := termsession.NewManager()
	handlers.SessionMgr = sessionMgr
	log.Printf("Session manager initialized (transport=%s, strict=%v)",
		config.Cfg.TransportVariant, config.Cfg.StrictProtocol)

	// Periodic cleanup of closed sessions and stale event histories.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@every "+config.Cfg.SessionSweepInterval, func() {
		sessionMgr.Sweep()
	}); err != nil {
		log.Fatalf("Session sweeper init: %v", err)
	}
	sweeper.Start()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", handlers.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		// Terminal WebSocket and session management
		r.Get("/terminal", handlers.TerminalWS)
		r.Get("/sessions", handlers.ListSessions)
		r.Delete("/sessions/{sessionId}", handlers.CloseSession)
		r.Get("/sessions/events", handlers.SessionEvents)
		r.Get("/sessions/{sessionId}/events", handlers.SessionEvents)

		// Saved-server inventory
		r.Get("/groups", handlers.ListGroups)
		r.Post("/groups", handlers.CreateGroup)
		r.Delete("/groups/{groupId}", handlers.DeleteGroup)
		r.Get("/servers", handlers.ListServers)
		r.Post("/servers", handlers.CreateServer)
		r.Get("/servers/{serverId}", handlers.GetServer)
		r.Put("/servers/{serverId}", handlers.UpdateServer)
		r.Delete("/servers/{serverId}", handlers.DeleteServer)
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

	<-sweeper.Stop().Done()
	sessionMgr.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
