package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-restaurant-orders/internal/config"
	kafkax "github.com/ariefcatur/go-restaurant-orders/internal/kafka"
	"github.com/ariefcatur/go-restaurant-orders/internal/kitchen"
	"github.com/ariefcatur/go-restaurant-orders/internal/logx"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// notifier follows the order event stream, keeps its own copy of the kitchen
// board and announces orders as they become ready.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := logx.Setup("order-notifier", cfg.LogLevel, cfg.LogPretty); err != nil {
		log.Fatal().Err(err).Msg("setup logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	board := kitchen.NewQueue(nil)
	board.OnReady(func(e kitchen.Entry) {
		ev := log.Info().Str("order_id", e.OrderID).Str("order_number", e.OrderNumber).Str("type", string(e.Type))
		if e.TableID != "" {
			ev = ev.Str("table_id", e.TableID)
		}
		ev.Int("items", len(e.Items)).Msg("order ready")
	})

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, cfg.KafkaTopic, cfg.NotifierWorkers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("topic", cfg.KafkaTopic).Str("group", cfg.NotifierGroup).Msg("notifier consuming")
		return cons.Start(gctx, board.HandleMessage)
	})
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("consumer stopped")
	}
	log.Info().Int("open_orders", board.Len()).Msg("notifier stopped")
}
