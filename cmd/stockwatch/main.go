package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/ilham-s-saksena/race-condition/internal/config"
	kafkax "github.com/ilham-s-saksena/race-condition/internal/kafka"
	"github.com/ilham-s-saksena/race-condition/internal/logging"
	"github.com/ilham-s-saksena/race-condition/internal/orders"
	"github.com/ilham-s-saksena/race-condition/internal/redisx"
	"github.com/ilham-s-saksena/race-condition/internal/stockwatch"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:   "stockwatch",
		Usage:  "publish product.sold_out when a checkout empties a product",
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	name := cfg.ServiceName + "-stockwatch"
	log := logging.New(name, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicProductSoldOut)
	defer func() {
		if err := prod.Close(); err != nil {
			log.WithError(err).Warn("kafka writer close")
		}
	}()

	svc := &stockwatch.Service{
		Dedup:       &redisx.Dedup{Client: rdb, Service: "stockwatch", TTL: redisx.TTLDedup},
		Producer:    prod,
		ServiceName: name,
		Log:         log,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.StockwatchGroup, orders.TopicOrderCreated, cfg.StockwatchWorkers, log.WithField("component", "consumer"))
	log.WithFields(logrus.Fields{
		"group":   cfg.StockwatchGroup,
		"topic":   orders.TopicOrderCreated,
		"workers": cfg.StockwatchWorkers,
	}).Info("stockwatch consumer started")

	// a message that keeps failing stops the process uncommitted; the restart reads it again
	err = cons.Start(ctx, svc.HandleOrderCreated)
	log.Info("shutting down consumer...")
	return err
}
