/**
 * @description
 * This is the main entry point for the drop-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/registryclient, pkg/tokenissuer: Clients for external collaborators.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/keydrop/drop-service/internal/api"
	"github.com/keydrop/drop-service/internal/app"
	"github.com/keydrop/drop-service/internal/config"
	"github.com/keydrop/drop-service/internal/domain"
	"github.com/keydrop/drop-service/internal/store"
	kdrabbit "github.com/keydrop/drop-service/pkg/rabbitmq"
	"github.com/keydrop/drop-service/pkg/registryclient"
	"github.com/keydrop/drop-service/pkg/tokenissuer"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting drop-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish lifecycle events. A broker
	// outage degrades to a no-op publisher rather than blocking admissions.
	var producer kdrabbit.Publisher
	rabbitProducer, err := kdrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &kdrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the clients for the token registry and issuance services.
	registryClient := registryclient.NewClient(cfg.RegistryBaseURL, cfg.InternalAPIKey)
	issuerClient := tokenissuer.NewClient(cfg.TokenIssuerURL, cfg.InternalAPIKey)

	var redisClient *redis.Client
	if cfg.AdmissionRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; admission rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; admission rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; admission rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	model := app.CostModel{
		StorageCostPerByte:      cfg.StorageCostPerByte,
		KeyStorageCost:          cfg.KeyStorageCost,
		AllowancePerComputeUnit: cfg.AllowancePerComputeUnit,
		DefaultComputeBudget:    cfg.DefaultComputeBudget,
		MaxComputeBudget:        cfg.MaxComputeBudget,
		FCExecuteComputeOffset:  cfg.FCExecuteComputeOffset,
		DefaultFees: domain.FeeSchedule{
			DropFee: cfg.DropFee,
			KeyFee:  cfg.KeyFee,
		},
	}

	// Initialize the core application service with its dependencies.
	dropService := app.NewService(
		repository,
		issuerClient,
		registryClient,
		producer,
		model,
		app.Limits{
			MaxKeysPerBatch:  cfg.MaxKeysPerBatch,
			MaxUsesPerKey:    cfg.MaxUsesPerKey,
			MaxDepositPerUse: cfg.MaxDepositPerUse,
		},
		cfg.FTRegistrationCostEstimate,
		time.Duration(cfg.RegistryTimeoutSeconds)*time.Second,
	)
	if redisClient != nil {
		dropService.SetAdmissionRateLimiter(
			app.NewRedisAdmissionRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.AdmissionRateLimitPerMinute,
		)
	}

	// Initialize the API handlers.
	dropHandlers := api.NewDropHandlers(dropService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.DropRoutes(dropHandlers, cfg.AuthJWKSURL))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the asset-funding consumer: NFT/FT supply events increment the
	// registered uses of their drops.
	assetConsumer := dropService.AssetFundingConsumer()

	rabbitConsumer, err := kdrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; asset funding events disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()

		assetBindings := map[string]func([]byte) bool{
			"drop.assets.nft_supplied": assetConsumer.HandleNFTSupplied,
			"drop.assets.ft_supplied":  assetConsumer.HandleFTSupplied,
		}

		if err := rabbitConsumer.ConsumeWithBindings("drop.events", cfg.AssetEventQueue, assetBindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"asset consumer start failed\" err=%v", err)
		}
	}

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
