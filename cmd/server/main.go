package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/nathanyu/forward-settlement/internal/domain"
	"github.com/nathanyu/forward-settlement/internal/engine"
	"github.com/nathanyu/forward-settlement/internal/eventstore"
	"github.com/nathanyu/forward-settlement/internal/factory"
	"github.com/nathanyu/forward-settlement/internal/handler"
	"github.com/nathanyu/forward-settlement/internal/middleware"
	"github.com/nathanyu/forward-settlement/internal/queue"
	"github.com/nathanyu/forward-settlement/internal/repository"
	"github.com/nathanyu/forward-settlement/internal/telemetry"
	"github.com/nathanyu/forward-settlement/internal/token"
	"github.com/nathanyu/forward-settlement/internal/vault"
)

const serviceName = "forward-settlement"

// Config holds application configuration
type Config struct {
	Port           int
	MetricsPort    int
	NATSUrl        string
	EventStorePath string
	DatabaseURL    string
	RedisAddr      string
	GinMode        string
	Owner          string
	FeeCollector   string
}

func main() {
	cfg := parseFlags()

	// Initialize structured logging
	telemetry.InitLogger(serviceName)

	// Initialize OpenTelemetry tracing
	cleanup, err := telemetry.InitTracer(serviceName)
	if err != nil {
		log.Printf("Warning: Failed to initialize tracer: %v", err)
	} else {
		defer cleanup()
	}

	gin.SetMode(cfg.GinMode)

	log.Println("Starting Forward Settlement service...")

	// 1. Token ledgers: wrapped native margin plus the registry pools resolve
	// assets from.
	registry := token.NewRegistry()
	wrapped := token.NewWrapped("wnative", "Wrapped Native", "WNAT")
	if err := registry.AddFungible(wrapped.Fungible); err != nil {
		log.Fatalf("Failed to register wrapped native token: %v", err)
	}

	// 2. Factory with the wrapped native token allow-listed and a margin
	// vault attached for share accounting.
	poolFactory := factory.New(registry, cfg.Owner, cfg.FeeCollector)
	if err := poolFactory.SupportMargin(cfg.Owner, wrapped.ID()); err != nil {
		log.Fatalf("Failed to allow-list margin token: %v", err)
	}
	marginVault, err := vault.NewForwardVault(wrapped.Fungible, nil, "vault:main", cfg.Owner, 8000, 500)
	if err != nil {
		log.Fatalf("Failed to create margin vault: %v", err)
	}
	if err := poolFactory.SetForwardVault(cfg.Owner, marginVault); err != nil {
		log.Fatalf("Failed to attach margin vault: %v", err)
	}

	// 3. Event store (append-only journal)
	log.Printf("Initializing event store at %s...", cfg.EventStorePath)
	store, err := eventstore.NewEventStore(cfg.EventStorePath)
	if err != nil {
		log.Fatalf("Failed to initialize event store: %v", err)
	}
	defer store.Close()

	// 4. Settlement engine
	settlementEngine := engine.New(poolFactory, store)
	if err := settlementEngine.InitializeFromEventStore(); err != nil {
		log.Fatalf("Failed to initialize settlement engine: %v", err)
	}

	// 5. Settlement archive: postgres is the source of truth, redis carries
	// the fee board. Both are optional.
	repo := buildRepository(cfg)
	if repo != nil {
		settlementEngine.RegisterEventHandler(archiveHandler(repo))
	}

	// 6. NATS command bus (optional; the HTTP surface works without it)
	var natsClient *queue.NATSClient
	if cfg.NATSUrl != "" {
		log.Printf("Connecting to NATS at %s...", cfg.NATSUrl)
		natsClient, err = queue.NewNATSClient(cfg.NATSUrl)
		if err != nil {
			log.Printf("Warning: NATS unavailable, running without command bus: %v", err)
		} else {
			defer natsClient.Close()
			settlementEngine.SetPublisher(natsClient)
			if err := natsClient.StartCommandConsumer(settlementEngine); err != nil {
				log.Fatalf("Failed to start command consumer: %v", err)
			}
			log.Println("Connected to NATS")
		}
	}

	// 7. HTTP surface
	h := handler.NewHandler(settlementEngine, repo, registry, wrapped)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Tracing())
	router.Use(middleware.Metrics())
	handler.SetupRoutes(router, h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// 8. Metrics server (separate port for Prometheus scraping)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	go func() {
		log.Printf("HTTP server listening on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	go func() {
		log.Printf("Metrics server listening on port %d", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		log.Printf("Metrics server forced to shutdown: %v", err)
	}

	log.Println("Service stopped")
}

// buildRepository wires the settlement archive from what is configured:
// postgres alone, or postgres fronted by the redis fee board.
func buildRepository(cfg *Config) repository.Repository {
	if cfg.DatabaseURL == "" {
		log.Println("No DATABASE_URL configured, settlement archive disabled")
		return nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Printf("Warning: failed to open postgres: %v", err)
		return nil
	}
	if err := db.Ping(); err != nil {
		log.Printf("Warning: postgres unreachable, settlement archive disabled: %v", err)
		return nil
	}
	pg := repository.NewPostgresRepository(db)
	if err := pg.InitSchema(context.Background()); err != nil {
		log.Fatalf("Failed to initialize archive schema: %v", err)
	}

	if cfg.RedisAddr == "" {
		return pg
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Printf("Warning: redis unreachable, using postgres only: %v", err)
		return pg
	}
	hybrid := repository.NewHybridRepository(repository.NewRedisRepository(client), pg)
	if err := hybrid.WarmCache(context.Background()); err != nil {
		log.Printf("Warning: fee board warm failed: %v", err)
	}
	return hybrid
}

// archiveHandler feeds settled orders into the archive as they commit.
func archiveHandler(repo repository.Repository) engine.EventHandler {
	return func(event domain.Event, seq uint64) {
		settled, ok := event.(domain.OrderSettled)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := repo.ArchiveSettlement(ctx, repository.SettlementRecord{
			Seq:          seq,
			PoolID:       settled.PoolID,
			OrderID:      settled.OrderID,
			Outcome:      settled.Outcome,
			Fee:          settled.Fee,
			SellerPayout: settled.SellerPayout,
			BuyerPayout:  settled.BuyerPayout,
			SettledAt:    time.Now().UTC(),
		})
		if err != nil {
			log.Printf("Warning: failed to archive settlement seq %d: %v", seq, err)
		}
	}
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.IntVar(&cfg.Port, "port", getEnvInt("PORT", 8080), "HTTP server port")
	flag.IntVar(&cfg.MetricsPort, "metrics-port", getEnvInt("METRICS_PORT", 9090), "Metrics server port")
	flag.StringVar(&cfg.NATSUrl, "nats-url", getEnv("NATS_URL", "nats://localhost:4222"), "NATS server URL")
	flag.StringVar(&cfg.EventStorePath, "event-store", getEnv("EVENT_STORE_PATH", "data/events.log"), "Event store file path")
	flag.StringVar(&cfg.DatabaseURL, "database-url", getEnv("DATABASE_URL", ""), "PostgreSQL connection string")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", ""), "Redis address")
	flag.StringVar(&cfg.GinMode, "gin-mode", getEnv("GIN_MODE", "release"), "Gin mode (debug/release)")
	flag.StringVar(&cfg.Owner, "owner", getEnv("FACTORY_OWNER", "owner"), "Factory owner account")
	flag.StringVar(&cfg.FeeCollector, "fee-collector", getEnv("FEE_COLLECTOR", "treasury"), "Default fee collector account")

	flag.Parse()

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var v int
		if _, err := fmt.Sscanf(value, "%d", &v); err == nil {
			return v
		}
	}
	return defaultValue
}
