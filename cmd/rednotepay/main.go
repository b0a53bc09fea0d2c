package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	redisstorage "github.com/gofiber/storage/redis"
	_ "go.uber.org/automaxprocs"
	"gorm.io/gorm"

	"github.com/text2rednote/rednotepay/app/controllers"
	"github.com/text2rednote/rednotepay/app/repository"
	"github.com/text2rednote/rednotepay/internal/pkg/cache"
	"github.com/text2rednote/rednotepay/internal/pkg/config"
	"github.com/text2rednote/rednotepay/internal/pkg/constants"
	"github.com/text2rednote/rednotepay/internal/pkg/credits"
	"github.com/text2rednote/rednotepay/internal/pkg/database"
	"github.com/text2rednote/rednotepay/internal/pkg/env"
	"github.com/text2rednote/rednotepay/internal/pkg/payment"
	"github.com/text2rednote/rednotepay/internal/pkg/router"
)

func main() {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, cleanup, err := NewApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	go func() {
		if err := app.Listen(fmt.Sprintf("%s:%s", cfg.App.Host, cfg.App.Port)); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gracefully...")
	if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}
	cleanup()
}

// NewApplication wires the store, ledger, payment providers and routes.
func NewApplication(cfg *config.Config) (*fiber.App, func(), error) {
	var db *gorm.DB
	if cfg.App.StoreDriver == repository.DriverMySQL {
		var err error
		db, err = database.Open(database.Options{
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			Name:        cfg.Database.Name,
			AutoMigrate: cfg.App.NonProduction(),
			Debug:       cfg.App.Env == "dev",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
	}
	store, err := repository.NewStore(cfg.App.StoreDriver, db)
	if err != nil {
		database.Close(db)
		return nil, nil, err
	}

	// Redis is optional: without it balances are read from the store and the
	// limiter keeps its counters in memory.
	var (
		balanceCache   credits.BalanceCache
		limiterStorage fiber.Storage
	)
	redisClient, err := cache.NewClient(cache.Options{
		Host:     cfg.Cache.Host,
		Port:     cfg.Cache.Port,
		Password: cfg.Cache.Password,
	})
	if err == nil {
		balanceCache = credits.NewRedisBalanceCache(redisClient)
		port, _ := strconv.Atoi(cfg.Cache.Port)
		limiterStorage = redisstorage.New(redisstorage.Config{
			Host:     cfg.Cache.Host,
			Port:     port,
			Password: cfg.Cache.Password,
			Database: 1, // cache uses DB 0
		})
	}

	ledger := credits.NewService(store, balanceCache, cfg.SignupCredits)
	orders := payment.NewOrderService(store.Orders(), ledger)
	payments := &controllers.PaymentController{Orders: store.Orders()}

	// Webhook endpoints always verify; a missing secret rejects every delivery.
	payments.EpayReconciler = payment.NewEpayReconciler(
		payment.NewEpayVerifier(cfg.Epay.Key, cfg.Verification), cfg.Epay.MerchantID, store, ledger)
	payments.CreemReconciler = payment.NewCreemReconciler(
		payment.NewCreemVerifier(cfg.Creem.WebhookSecret, cfg.Verification), store, ledger)

	if cfg.Epay.Enabled() {
		payments.EpayCheckout = payment.NewEpayCheckout(payment.EpayConfig{
			MerchantID: cfg.Epay.MerchantID,
			Key:        cfg.Epay.Key,
			GatewayURL: cfg.Epay.GatewayURL,
			SiteName:   cfg.Epay.SiteName,
			NotifyURL:  cfg.App.BaseURL + constants.EpayNotifyRoute,
			ReturnURL:  cfg.App.BaseURL + constants.PaymentResultPage,
		}, payment.DefaultEpayCatalog(), orders)
	}
	if cfg.Creem.APIKey != "" {
		payments.CreemCheckout = payment.NewCreemCheckout(payment.CreemConfig{
			AppBaseURL: cfg.App.BaseURL,
			SuccessURL: cfg.App.BaseURL + constants.PaymentSuccessPage,
			CancelURL:  cfg.App.BaseURL + constants.PricingPage,
		}, payment.NewCreemClient(cfg.Creem.APIKey, cfg.Creem.APIBaseURL),
			payment.DefaultCreemCatalog(cfg.Creem.ProductIDs), orders, store.Orders())
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})
	// recovery and logging
	app.Use(recover.New(), logger.New())

	docsFile := ""
	for _, base := range []string{"./", "../../"} {
		if _, err := os.Stat(base + "public/docs/v1/openapi.yml"); err == nil {
			docsFile = base + "public/docs/v1/openapi.yml"
			break
		}
	}

	router.InstallRouter(app, router.Dependencies{
		Payments:        payments,
		Credits:         &controllers.CreditsController{Credits: ledger},
		Health:          &controllers.HealthController{Store: store},
		JWTSecret:       cfg.Auth.JWTSecret,
		InternalAPIKey:  cfg.Auth.InternalAPIKey,
		LimiterStorage:  limiterStorage,
		MetricsUser:     cfg.Metrics.User,
		MetricsPassword: cfg.Metrics.Password,
		DocsFile:        docsFile,
	})

	cleanup := func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("Error closing cache: %v", err)
		}
		database.Close(db)
	}
	return app, cleanup, nil
}
