package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/ilham-s-saksena/race-condition/internal/auth"
	"github.com/ilham-s-saksena/race-condition/internal/config"
	"github.com/ilham-s-saksena/race-condition/internal/httpx"
	kafkax "github.com/ilham-s-saksena/race-condition/internal/kafka"
	"github.com/ilham-s-saksena/race-condition/internal/logging"
	"github.com/ilham-s-saksena/race-condition/internal/metrics"
	"github.com/ilham-s-saksena/race-condition/internal/orders"
	"github.com/ilham-s-saksena/race-condition/internal/outbox"
	"github.com/ilham-s-saksena/race-condition/internal/postgres"
	"github.com/ilham-s-saksena/race-condition/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:   "checkout-api",
		Usage:  "order checkout service",
		Action: serve,
		Commands: []*cli.Command{
			{Name: "serve", Usage: "run the HTTP API and the outbox relay", Action: serve},
			{
				Name:  "migrate",
				Usage: "apply database migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "down", Usage: "roll back one step instead"},
				},
				Action: migrate,
			},
			{
				Name:  "seed",
				Usage: "insert the sample product",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "reset", Usage: "restore stock and price of an existing sample product"},
				},
				Action: seed,
			},
			{
				Name:  "user",
				Usage: "manage users",
				Subcommands: []*cli.Command{
					{
						Name:  "create",
						Usage: "create a user that can log in",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name", Required: true},
							&cli.StringFlag{Name: "email", Required: true},
							&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"USER_PASSWORD"}},
						},
						Action: createUser,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (config.Config, *logrus.Entry, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat), nil
}

func serve(c *cli.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		return errors.Wrap(err, "db connect")
	}
	defer pool.Close()
	store := &postgres.Store{Pool: pool}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	m := metrics.New(cfg.ServiceName)

	// messages carry their own topic, so the writer has none
	prod := kafkax.NewProducer(cfg.KafkaBrokers, "")
	defer func() {
		if err := prod.Close(); err != nil {
			log.WithError(err).Warn("kafka writer close")
		}
	}()

	relay := &outbox.Relay{
		Store:     &outbox.PGStore{Pool: pool},
		Publisher: prod,
		Interval:  cfg.OutboxPollInterval,
		BatchSize: cfg.OutboxBatchSize,
		Log:       log.WithField("component", "outbox"),
		Published: m.OutboxPublished,
	}

	router := httpx.NewRouter(httpx.Deps{
		Checkout:        orders.NewService(store, cfg.LockTimeout, cfg.ServiceName),
		Auth:            auth.NewService(store, &auth.RedisTokens{Client: rdb}, cfg.TokenTTL),
		Catalog:         store,
		Orders:          store,
		Cache:           &redisx.OrderCache{Client: rdb, TTL: redisx.TTLOrderCache},
		Metrics:         m,
		Log:             log,
		Limiter:         httpx.NewIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		CheckoutTimeout: cfg.CheckoutTimeout,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

func migrate(c *cli.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if c.Bool("down") {
		if err := postgres.MigrateDown(cfg.PostgresDSN); err != nil {
			return err
		}
		log.Info("rolled back one migration")
		return nil
	}
	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}

func withStore(c *cli.Context, fn func(ctx context.Context, s *postgres.Store, log *logrus.Entry) error) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	pool, err := postgres.Connect(c.Context, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		return errors.Wrap(err, "db connect")
	}
	defer pool.Close()
	return fn(c.Context, &postgres.Store{Pool: pool}, log)
}

func seed(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, s *postgres.Store, log *logrus.Entry) error {
		p, err := s.Seed(ctx, c.Bool("reset"))
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"product_id": p.ID, "stock": p.Stock, "price": p.Price.StringFixed(2)}).Info("sample product ready")
		return nil
	})
}

func createUser(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, s *postgres.Store, log *logrus.Entry) error {
		hash, err := auth.HashPassword(c.String("password"), bcrypt.DefaultCost)
		if err != nil {
			return errors.Wrap(err, "hash password")
		}
		u, err := s.CreateUser(ctx, c.String("name"), c.String("email"), hash)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"user_id": u.ID, "email": u.Email}).Info("user created")
		return nil
	})
}
