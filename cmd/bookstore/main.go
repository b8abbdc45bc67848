package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/matheusmosca/bookstore-reservations/internal/cart"
	"github.com/matheusmosca/bookstore-reservations/internal/catalog"
	"github.com/matheusmosca/bookstore-reservations/internal/checkout"
	"github.com/matheusmosca/bookstore-reservations/internal/config"
	"github.com/matheusmosca/bookstore-reservations/internal/events"
	"github.com/matheusmosca/bookstore-reservations/internal/gate"
	"github.com/matheusmosca/bookstore-reservations/internal/httpapi"
	"github.com/matheusmosca/bookstore-reservations/internal/memstore"
	"github.com/matheusmosca/bookstore-reservations/internal/postgres"
	"github.com/matheusmosca/bookstore-reservations/internal/reservation"
	"github.com/matheusmosca/bookstore-reservations/internal/shopping"
	"github.com/matheusmosca/bookstore-reservations/internal/stock"
	"github.com/matheusmosca/bookstore-reservations/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	telemetry.InitLogger(cfg.LogLevel, os.Getenv("GIN_MODE") != gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry
	if cfg.TelemetryEnabled {
		tp, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize tracer")
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("error shutting down tracer")
			}
		}()

		mp, err := telemetry.InitMetrics(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize metrics")
		}
		defer func() {
			if err := mp.Shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("error shutting down meter provider")
			}
		}()
	}

	discounts, err := cfg.LoadDiscountTable()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load pricing")
	}

	repos, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("failed to open storage")
	}
	defer closeStorage()

	carts, closeCarts, err := openCartStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open cart store")
	}
	defer closeCarts()

	publisher, closePublisher := openPublisher(cfg)
	defer closePublisher()

	books := catalog.NewCatalog(repos.catalog, catalog.NewPricer(discounts))
	ledger := stock.NewLedger(repos.stock)
	reservations := reservation.NewManager(repos.reservations, ledger, books, publisher)
	orchestrator := checkout.NewOrchestrator(reservations, ledger, publisher)
	service := shopping.NewService(gate.New(gate.WithAcquireTimeout(cfg.GateAcquireTimeout)), books, ledger, reservations, orchestrator)

	router := httpapi.NewRouter(cfg.ServiceName, httpapi.NewHandler(service, carts))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("storage", cfg.StorageDriver).Msg("bookstore service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

type repositories struct {
	catalog      catalog.Repository
	stock        stock.Repository
	reservations reservation.Repository
}

func openStorage(ctx context.Context, cfg *config.Config) (repositories, func(), error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		db := memstore.New()
		for _, b := range sampleBooks {
			db.SeedBook(b)
		}
		return repositories{
			catalog:      db.CatalogRepository(),
			stock:        db.StockRepository(),
			reservations: db.ReservationRepository(),
		}, func() {}, nil
	}

	pool, err := postgres.InitDB(ctx, cfg.Database)
	if err != nil {
		return repositories{}, nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return repositories{}, nil, err
	}
	if cfg.SeedOnStart {
		if err := postgres.Seed(ctx, pool); err != nil {
			pool.Close()
			return repositories{}, nil, err
		}
	}
	return repositories{
		catalog:      catalog.NewPostgresRepository(pool),
		stock:        stock.NewPostgresRepository(pool),
		reservations: reservation.NewPostgresRepository(pool),
	}, pool.Close, nil
}

func openCartStore(ctx context.Context, cfg *config.Config) (cart.Store, func(), error) {
	if cfg.RedisURL == "" {
		return cart.NewMemoryStore(), func() {}, nil
	}
	client, err := cart.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Dur("ttl", cfg.CartSessionTTL).Msg("cart sessions stored in redis")
	return cart.NewRedisStore(client, cfg.CartSessionTTL), func() { client.Close() }, nil
}

// openPublisher falls back to dropping events when the broker is unreachable
func openPublisher(cfg *config.Config) (events.Publisher, func()) {
	if cfg.RabbitMQURL == "" {
		return events.NopPublisher{}, func() {}
	}
	p, err := events.NewRabbitPublisher(cfg.RabbitMQURL, cfg.EventsExchange)
	if err != nil {
		log.Error().Err(err).Msg("events disabled")
		return events.NopPublisher{}, func() {}
	}
	log.Info().Str("exchange", cfg.EventsExchange).Msg("publishing events to rabbitmq")
	return p, func() {
		if err := p.Close(); err != nil {
			log.Error().Err(err).Msg("error closing rabbitmq publisher")
		}
	}
}

// sampleBooks mirrors the postgres seed for the memory driver
var sampleBooks = []catalog.Book{
	{ID: 1, Title: "Dune", Author: "Frank Herbert", BasePrice: 18.50, VATRate: 0.04, TaxGroup: 0, Stock: 12},
	{ID: 2, Title: "The Left Hand of Darkness", Author: "Ursula K. Le Guin", BasePrice: 15.00, VATRate: 0.04, TaxGroup: 0, Stock: 8},
	{ID: 3, Title: "Neuromancer", Author: "William Gibson", BasePrice: 13.90, VATRate: 0.10, TaxGroup: 1, Stock: 5},
	{ID: 4, Title: "The Name of the Rose", Author: "Umberto Eco", BasePrice: 21.00, VATRate: 0.04, TaxGroup: 0, Stock: 3},
	{ID: 5, Title: "Structure and Interpretation of Computer Programs", Author: "Abelson, Sussman", BasePrice: 55.00, VATRate: 0.21, TaxGroup: 2, Stock: 2},
}
