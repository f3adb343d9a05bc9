// main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/inngest/inngestgo"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/brandbeacon/beacon-workflows/internal/config"
	"github.com/brandbeacon/beacon-workflows/internal/database"
	"github.com/brandbeacon/beacon-workflows/internal/lock"
	"github.com/brandbeacon/beacon-workflows/services"
	"github.com/brandbeacon/beacon-workflows/workflows"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, using environment variables")
	}

	cfg := config.Load()
	log.Printf("Starting beacon-workflows (environment: %s)", cfg.Environment)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Printf("Database connection established")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Invalid REDIS_URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to ping redis: %v", err)
	}
	defer redisClient.Close()
	log.Printf("Redis connection established")

	repoManager := services.NewRepositoryManager(db)
	log.Printf("Repository manager initialized")

	lockManager := lock.NewManager(redisClient)
	rateLimiter := services.NewRedisRateLimiter(
		redisClient,
		cfg.Pipeline.RateLimitMax,
		time.Duration(cfg.Pipeline.RateLimitWindowSeconds)*time.Second,
	)

	costService := services.NewCostService()
	gateway := services.NewProviderGateway(cfg, costService)
	extractionService := services.NewExtractionService(repoManager, cfg)
	sentimentService := services.NewSentimentService(repoManager, cfg, costService)
	fanOutService := services.NewFanOutService(repoManager, gateway, extractionService, cfg)
	metricsService := services.NewMetricsService(repoManager)
	alerter := services.NewSlackAlerter(cfg.SlackWebhookURL)
	recoveryService := services.NewRecoveryService(repoManager, metricsService, gateway, alerter, db, cfg)
	log.Printf("Services initialized")

	client, err := inngestgo.NewClient(
		inngestgo.ClientOpts{
			AppID:    "beacon-workflows",
			EventKey: inngestgo.StrPtr(cfg.InngestEventKey),
			Env:      inngestgo.StrPtr(cfg.Environment),
		},
	)
	if err != nil {
		log.Fatalf("Failed to create Inngest client: %v", err)
	}

	schedulerService := services.NewSchedulerService(repoManager, lockManager, rateLimiter, client, alerter, cfg)

	log.Printf("Registering workflows...")
	reportProcessor := workflows.NewReportProcessor(repoManager, fanOutService, sentimentService, metricsService, alerter, cfg)
	reportProcessor.SetClient(client)
	reportProcessor.GenerateReport()

	scheduledProcessor := workflows.NewScheduledProcessor(repoManager, schedulerService)
	scheduledProcessor.SetClient(client)
	scheduledProcessor.DailyReportScheduler()

	recoveryProcessor := workflows.NewRecoveryProcessor(repoManager, recoveryService, schedulerService, alerter, cfg)
	recoveryProcessor.SetClient(client)
	recoveryProcessor.StuckRunMonitor()
	recoveryProcessor.BackupScheduler()
	recoveryProcessor.EmergencyTrigger()
	log.Printf("All workflows registered")

	mux := http.NewServeMux()
	mux.Handle("/api/inngest", client.Serve())

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"service": "beacon-workflows", "status": "running"})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	mux.HandleFunc("/api/reports/queue", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			CompanyID string `json:"company_id"`
			Force     bool   `json:"force"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		companyID, err := uuid.Parse(body.CompanyID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid company_id"})
			return
		}

		result, err := schedulerService.QueueReport(r.Context(), companyID, body.Force)
		if err != nil {
			writeSchedulerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("/api/reports/status", func(w http.ResponseWriter, r *http.Request) {
		runID, err := uuid.Parse(r.URL.Query().Get("run_id"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid run_id"})
			return
		}
		run, err := schedulerService.GetRunStatus(r.Context(), runID)
		if err != nil {
			log.Printf("Failed to get run status: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
			return
		}
		if run == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"run_id":      run.ReportRunID.String(),
			"status":      string(run.Status),
			"step_status": run.StepStatus,
		})
	})

	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		runID, err := uuid.Parse(r.URL.Query().Get("report_run_id"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid report_run_id"})
			return
		}
		metric, err := metricsService.GetFullReportMetrics(r.Context(), runID, r.URL.Query().Get("ai_model"))
		if err != nil {
			log.Printf("Failed to get metrics: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
			return
		}
		if metric == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "metrics not found"})
			return
		}
		writeJSON(w, http.StatusOK, metric)
	})

	mux.HandleFunc("/api/emergency/trigger", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			CompanyID    string `json:"company_id"`
			All          bool   `json:"all"`
			Reason       string `json:"reason"`
			DelayMinutes int    `json:"delay_minutes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		if body.All {
			sent, err := schedulerService.TriggerAllEligible(r.Context(), body.Reason, body.DelayMinutes)
			if err != nil {
				log.Printf("Emergency trigger-all failed: %v", err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "trigger failed"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"triggered": sent})
			return
		}

		companyID, err := uuid.Parse(body.CompanyID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid company_id"})
			return
		}
		evt := inngestgo.Event{
			Name: services.EventEmergencyTrigger,
			Data: map[string]interface{}{
				"company_id":    companyID.String(),
				"reason":        body.Reason,
				"delay_minutes": body.DelayMinutes,
			},
		}
		if _, err := client.Send(r.Context(), evt); err != nil {
			log.Printf("Emergency trigger failed for company %s: %v", companyID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "trigger failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"triggered": 1})
	})

	mux.HandleFunc("/api/system/health", func(w http.ResponseWriter, r *http.Request) {
		health, err := recoveryService.SystemHealth(r.Context())
		if err != nil {
			log.Printf("System health check failed: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "health check failed"})
			return
		}
		writeJSON(w, http.StatusOK, health)
	})

	log.Printf("Starting beacon-workflows service on port %s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, mux); err != nil {
		log.Fatal(err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// writeSchedulerError maps stable scheduler failures to HTTP statuses without
// leaking internals.
func writeSchedulerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrReportInProgress):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrCompanyNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrCompanyInactive):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		log.Printf("Queue report failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "queue failed"})
	}
}
