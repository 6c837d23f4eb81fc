package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/config"
	"github.com/ariefcatur/go-restaurant-orders/internal/events"
	"github.com/ariefcatur/go-restaurant-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-restaurant-orders/internal/kafka"
	"github.com/ariefcatur/go-restaurant-orders/internal/kitchen"
	"github.com/ariefcatur/go-restaurant-orders/internal/ledger"
	"github.com/ariefcatur/go-restaurant-orders/internal/logx"
	"github.com/ariefcatur/go-restaurant-orders/internal/ordersvc"
	"github.com/ariefcatur/go-restaurant-orders/internal/postgres"
	"github.com/ariefcatur/go-restaurant-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := logx.Setup(cfg.ServiceName, cfg.LogLevel, cfg.LogPretty); err != nil {
		log.Fatal().Err(err).Msg("setup logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			log.Fatal().Err(err).Msg("migrate")
		}
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	statusCache := &redisx.StatusCache{Redis: rdb}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, 1024)
	prod.Start()

	// In-process fan-out first so the board and cache see every change even
	// when the broker is slow.
	bus := events.NewBus()
	svc := &ordersvc.Service{
		Repo:     &postgres.OrderRepo{DB: db},
		Catalog:  &postgres.Catalog{DB: db},
		Sequence: &redisx.Sequence{Redis: rdb},
		Ledger: &ledger.Ledger{
			Discounts: &postgres.Discounts{DB: db},
			Loyalty:   &postgres.Loyalty{DB: db},
		},
		Publisher:   events.Multi{bus, &kafkax.EventPublisher{Producer: prod}},
		TaxRate:     cfg.TaxRate,
		PointValue:  cfg.PointValue,
		EarnRate:    cfg.EarnRate,
		Location:    cfg.Location,
		BasePrep:    cfg.BasePrep,
		ServiceName: cfg.ServiceName,
	}
	queue := kitchen.NewQueue(svc)
	queue.OnReady(func(e kitchen.Entry) {
		log.Info().Str("order_id", e.OrderID).Str("order_number", e.OrderNumber).Msg("order ready for pickup")
	})
	bus.Subscribe(queue.Apply)
	bus.Subscribe(statusCache.Apply)
	seeded, err := queue.Load(ctx, svc)
	if err != nil {
		log.Fatal().Err(err).Msg("load kitchen board")
	}
	log.Info().Int("open_orders", seeded).Msg("kitchen board loaded")

	router := httpx.NewRouter()
	(&httpx.OrdersHandler{Service: svc, Status: statusCache}).Register(router)
	(&httpx.KitchenHandler{Queue: queue}).Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
	}
	prod.Close()      // flush queued events and close the writer
	prod.WaitClosed() // drain
}
