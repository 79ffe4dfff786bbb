package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/username/cryptofolio/src/config"
	"github.com/username/cryptofolio/src/database"
	"github.com/username/cryptofolio/src/handlers"
	"github.com/username/cryptofolio/src/importers"
	"github.com/username/cryptofolio/src/jobs"
	"github.com/username/cryptofolio/src/logger"
	"github.com/username/cryptofolio/src/pricing"
	"github.com/username/cryptofolio/src/services"
	"github.com/username/cryptofolio/src/store"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Cryptofolio backend server starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)

	logger.L.Info("Initializing services and handlers...")
	sessionStore := store.NewSessionStore(database.DB)
	jobStore := jobs.NewStore(config.Cfg.JobRetention)
	chainImporters := importers.NewService(config.Cfg)
	priceResolver := pricing.NewCoinGeckoResolver(config.Cfg)

	analysisService := services.NewAnalysisService(
		sessionStore, jobStore, chainImporters, priceResolver,
		config.Cfg.SnapshotMaxPoints,
	)

	analysisHandler := handlers.NewAnalysisHandler(analysisService)
	jobHandler := handlers.NewJobHandler(analysisService)
	sessionHandler := handlers.NewSessionHandler(analysisService)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	apiRouter.HandleFunc("POST /api/analysis", analysisHandler.HandleStartAnalysis)
	apiRouter.HandleFunc("GET /api/jobs/{id}", jobHandler.HandleGetJob)
	apiRouter.HandleFunc("GET /api/sessions/{id}/dashboard", sessionHandler.HandleDashboard)
	apiRouter.HandleFunc("GET /api/sessions/{id}/export", sessionHandler.HandleExport)
	apiRouter.HandleFunc("DELETE /api/sessions/{id}", sessionHandler.HandleDelete)

	rootMux.Handle("/api/", apiRouter)

	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "Cryptofolio backend is running"})
		} else if !strings.HasPrefix(r.URL.Path, "/api/") {
			logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
			http.NotFound(w, r)
		}
	})

	logger.L.Info("Applying global middleware...")
	finalHandler := enableCORS(rateLimitMiddleware(rootMux))

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}
