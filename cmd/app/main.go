package main

import (
	"context"
	"database/sql"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	jwtware "github.com/gofiber/jwt/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wichananm65/pet-shop-checkout/internal/commerce"
	"github.com/wichananm65/pet-shop-checkout/internal/config"
	"github.com/wichananm65/pet-shop-checkout/internal/identity"
	"github.com/wichananm65/pet-shop-checkout/internal/infrastructure/cache"
	"github.com/wichananm65/pet-shop-checkout/internal/infrastructure/logger"
	"github.com/wichananm65/pet-shop-checkout/internal/order"
	"github.com/wichananm65/pet-shop-checkout/internal/pricing"
	"github.com/wichananm65/pet-shop-checkout/internal/session"
	"github.com/wichananm65/pet-shop-checkout/internal/storefront"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.NewForEnvironment(cfg.AppEnv, cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := storefront.Deps{
		Client:       commerce.NewHTTPClient(cfg.CommerceAPI, cfg.Timeout, log),
		SelectionTTL: cfg.SelectionTTL,
		ReloadTTL:    cfg.ReloadMarkerTTL,
		Submit: order.Config{
			RedirectMethods: cfg.RedirectPaymentMethods,
			MinDelay:        cfg.SubmitMinDelay,
		},
		Logger: log,
	}

	if cfg.RedisAddr != "" {
		client, err := cache.NewClient(cache.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			log.Fatal("redis unavailable", zap.Error(err))
		}
		defer client.Close()
		deps.Store = cache.NewRedisSessionStore(client, "")
		deps.Channel = cache.NewRedisSignalChannel(client, "", log)
		log.Info("using redis session store", zap.String("addr", cfg.RedisAddr))
	} else {
		deps.Store = session.NewMemoryStore()
		deps.Channel = identity.NewMemoryHub(log)
	}

	if cfg.DatabaseURL != "" {
		db := mustOpenDB(cfg.DatabaseURL)
		defer db.Close()
		repo := order.NewPostgresRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatal("order schema", zap.Error(err))
		}
		deps.Orders = repo
	} else {
		deps.Orders = order.NewInMemoryRepository()
	}

	if cfg.PricingRulesPath != "" {
		rules, err := pricing.LoadRules(cfg.PricingRulesPath)
		if err != nil {
			log.Fatal("pricing rules", zap.String("path", cfg.PricingRulesPath), zap.Error(err))
		}
		deps.Rules = rules
	}

	manager := storefront.NewManager(deps, 0)
	defer manager.Close()
	go manager.Run(ctx, time.Minute)

	app := fiber.New()
	setupCORS(app)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// anonymous shoppers carry no bearer token; only verify one when present
	app.Use(jwtware.New(jwtware.Config{
		SigningKey: []byte(cfg.JWTSecret),
		Filter: func(c *fiber.Ctx) bool {
			return c.Get(fiber.HeaderAuthorization) == ""
		},
	}))

	storefront.NewHandler(manager, log).RegisterRoutes(app)

	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	log.Info("starting storefront", zap.String("addr", cfg.Addr), zap.String("commerce_api", cfg.CommerceAPI))
	if err := app.Listen(cfg.Addr); err != nil {
		log.Error("server stopped", zap.Error(err))
	}
}

func setupCORS(app *fiber.App) {
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowMethods:  "GET,POST,HEAD,PUT,DELETE,PATCH",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, " + storefront.HeaderSessionID + ", " + storefront.HeaderCartToken,
		ExposeHeaders: storefront.HeaderSessionID + ", " + storefront.HeaderCartToken,
	}))
}

func mustOpenDB(dbURL string) *sql.DB {
	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		panic(err)
	}

	if err := db.Ping(); err != nil {
		panic(err)
	}

	return db
}
