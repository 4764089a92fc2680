// Command worker is the long-running process: it hosts the Google Forms
// webhook for the microsurvey orchestrator (C8), exposes /health and
// /metrics, and runs the periodic jobs that don't fit a one-shot
// invocation (parking-event polling, Bytemark cache upkeep, the escrow
// reaper). Everything else in this module is a library consumed by an
// external gateway, per spec §1's "not an HTTP service" scope note.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/metropia/maas-core/internal/bytemark"
	"github.com/metropia/maas-core/internal/clock"
	"github.com/metropia/maas-core/internal/config"
	"github.com/metropia/maas-core/internal/docstore"
	"github.com/metropia/maas-core/internal/ledger"
	"github.com/metropia/maas-core/internal/microsurvey"
	"github.com/metropia/maas-core/internal/notify"
	"github.com/metropia/maas-core/internal/parkmobile"
	"github.com/metropia/maas-core/internal/redisx"
	"github.com/metropia/maas-core/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, continuing with process environment")
	}

	cfg, err := config.Load(os.Getenv("MAAS_CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := store.Open(cfg.Database.PortalDSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatalf("open portal db: %v", err)
	}
	defer db.Close()

	docs, err := docstore.NewClient(cfg.Database.DocstoreURL, cfg.Database.DocstoreKey)
	if err != nil {
		log.Fatalf("open docstore: %v", err)
	}

	redisClient, err := redisx.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		slog.Warn("redis unavailable, continuing without hot cache", "err", err)
		redisClient = nil
	}

	clk := clock.Real{}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	queue, err := notify.NewPubSubQueue(rootCtx, cfg.Notify.PubSubProjectID, cfg.Notify.PubSubTopicID)
	if err != nil {
		log.Fatalf("open pubsub queue: %v", err)
	}
	defer queue.Close()
	notifySvc := notify.NewService(db, queue, cfg.Notify.DispatchWorkers, slog.Default().With("component", "notify"))

	paymentChecker := ledger.NewStripePaymentChecker(cfg.Ledger.StripeSecretKey)
	ledgerSvc := ledger.NewService(db, redisClient, paymentChecker, clk, cfg.Ledger.DailyRefillUSDLimit, slog.Default().With("component", "ledger"))

	bytemarkUpstream := bytemark.NewUpstreamClient(cfg.Bytemark.BaseURLV1, cfg.Bytemark.BaseURLV4, time.Duration(cfg.Bytemark.RequestTimeoutSec)*time.Second)
	bytemarkSvc := bytemark.NewService(db, docs, bytemarkUpstream, clk, slog.Default().With("component", "bytemark"))

	parkmobileSvc := parkmobile.NewService(db, docs, notifySvc, clk,
		time.Duration(cfg.ParkMobile.PriceObjectRetentionDays)*24*time.Hour,
		time.Duration(cfg.ParkMobile.HistoryRetentionDays)*24*time.Hour,
		slog.Default().With("component", "parkmobile"))
	tokenRotator := parkmobile.NewTokenRotator(cfg.ParkMobile.TokenURL, cfg.ParkMobile.ClientID, cfg.ParkMobile.ClientSecret,
		time.Duration(cfg.ParkMobile.TokenMintTimeoutSec)*time.Second)

	payloadKey, err := decodeSecretboxKey(cfg.Microsurvey.PayloadSecretBase64)
	if err != nil {
		log.Fatalf("decode microsurvey payload key: %v", err)
	}
	scheduler, err := microsurvey.NewCloudTasksScheduler(rootCtx, cfg.Microsurvey.CloudTasksProject, cfg.Microsurvey.CloudTasksLocation, cfg.Microsurvey.CloudTasksQueue, os.Getenv("MICROSURVEY_PUSH_TARGET_URL"))
	if err != nil {
		log.Fatalf("open cloud tasks scheduler: %v", err)
	}
	defer scheduler.Close()
	orchestrator := microsurvey.NewOrchestrator(db, scheduler, nil, clk, microsurvey.Config{
		MaxLiveActors:    cfg.Microsurvey.MaxLiveActors,
		DefaultTimezone:  cfg.Microsurvey.DefaultTimezone,
		QuietWindowStart: cfg.Microsurvey.QuietWindowStart,
		QuietWindowEnd:   cfg.Microsurvey.QuietWindowEnd,
		NumQuestions:     cfg.Microsurvey.NumQuestions,
		RewardPoints:     float64(cfg.Microsurvey.RewardPoints),
	}, slog.Default().With("component", "microsurvey"))
	orchestrator.SetMetrics(microsurvey.NewMetrics())

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/webhooks/microsurvey/forms", orchestrator.FormsWebhookHandler(payloadKey))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go runPeriodicJobs(rootCtx, cfg, db, ledgerSvc, bytemarkSvc, parkmobileSvc, tokenRotator)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("worker: shutdown signal received")
		rootCancel()
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("worker: http shutdown error", "err", err)
		}
	}()

	slog.Info("worker: listening", "port", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("worker: http server failed: %v", err)
	}
	slog.Info("worker: stopped")
}

// runPeriodicJobs ticks the batch operations that must run continuously
// rather than as a one-shot invocation: parking-event lifecycle polling
// (C5), Bytemark cache upkeep (C4), and the escrow pending-transaction
// reaper (C1).
func runPeriodicJobs(ctx context.Context, cfg *config.Config, db *store.DB, ledgerSvc *ledger.Service, bytemarkSvc *bytemark.Service, parkmobileSvc *parkmobile.Service, tokenRotator *parkmobile.TokenRotator) {
	parkTicker := time.NewTicker(1 * time.Minute)
	defer parkTicker.Stop()
	cacheTicker := time.NewTicker(10 * time.Minute)
	defer cacheTicker.Stop()
	reaperTicker := time.NewTicker(time.Duration(cfg.Ledger.ReaperInterval) * time.Second)
	defer reaperTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-parkTicker.C:
			if err := parkmobileSvc.UpdateToken(ctx, tokenRotator); err != nil {
				slog.Warn("worker: parkmobile token rotation failed", "err", err)
				continue
			}
			if _, err := parkmobileSvc.CheckOnGoingEvents(ctx); err != nil {
				slog.Warn("worker: parkmobile ongoing-event poll failed", "err", err)
			}
			if _, _, err := parkmobileSvc.CheckFinishedAndExpiredEvents(ctx); err != nil {
				slog.Warn("worker: parkmobile finished/expired sweep failed", "err", err)
			}
		case <-cacheTicker.C:
			if _, err := bytemarkSvc.BuildCacheIfEmpty(ctx); err != nil {
				slog.Warn("worker: bytemark cache build failed", "err", err)
			}
			if err := parkmobileSvc.PurgeOutdatedCache(ctx); err != nil {
				slog.Warn("worker: parkmobile cache purge failed", "err", err)
			}
		case <-reaperTicker.C:
			n, err := ledgerSvc.ClearOldPendingPT(ctx, time.Duration(cfg.Ledger.PendingMaxAgeHours)*time.Hour)
			if err != nil {
				slog.Warn("worker: escrow reaper failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("worker: escrow reaper cleared stale pending transactions", "count", n)
			}
		}
	}
}

// decodeSecretboxKey decodes the base64-encoded nacl/secretbox key used
// to open Google Forms webhook identifiers. An empty config value mints a
// random key so local/dev boots without a configured secret (the webhook
// then simply rejects every payload, which is the safe failure mode).
func decodeSecretboxKey(b64 string) (*[32]byte, error) {
	var key [32]byte
	if b64 == "" {
		if _, err := rand.Read(key[:]); err != nil {
			return nil, err
		}
		return &key, nil
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	copy(key[:], raw)
	return &key, nil
}
