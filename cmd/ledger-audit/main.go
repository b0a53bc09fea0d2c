package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"
	"gorm.io/gorm"

	"github.com/text2rednote/rednotepay/app/repository"
	"github.com/text2rednote/rednotepay/internal/pkg/cache"
	"github.com/text2rednote/rednotepay/internal/pkg/config"
	"github.com/text2rednote/rednotepay/internal/pkg/credits"
	"github.com/text2rednote/rednotepay/internal/pkg/database"
	"github.com/text2rednote/rednotepay/internal/pkg/env"
	"github.com/text2rednote/rednotepay/internal/pkg/jobqueue"
)

const (
	auditJob          = "ledger-audit"
	stalePendingAfter = 24 * time.Hour
	auditLimit        = 500
)

func main() {
	once := flag.Bool("once", false, "run the audit once and exit")
	flag.Parse()

	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var db *gorm.DB
	if cfg.App.StoreDriver == repository.DriverMySQL {
		db, err = database.Open(database.Options{
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Name:     cfg.Database.Name,
		})
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
	}
	defer database.Close(db)

	store, err := repository.NewStore(cfg.App.StoreDriver, db)
	if err != nil {
		log.Fatalf("Failed to create store: %v", err)
	}

	// The lock keeps replicas from auditing concurrently; without Redis the
	// job still runs, guarded only within this process.
	var locker jobqueue.Locker = jobqueue.NewLocalLocker()
	redisClient, err := cache.NewClient(cache.Options{
		Host:     cfg.Cache.Host,
		Port:     cfg.Cache.Port,
		Password: cfg.Cache.Password,
	})
	if err == nil {
		locker = jobqueue.NewRedsyncLocker(redisClient)
	}
	defer redisClient.Close()

	ledger := credits.NewService(store, nil, cfg.SignupCredits)
	manager := jobqueue.NewManager(locker)
	if err := manager.Register(jobqueue.Job{
		Name:    auditJob,
		Spec:    env.GetEnv("AUDIT_SCHEDULE", "@every 1h"),
		Timeout: 10 * time.Minute,
		Run: func(ctx context.Context) error {
			_, err := ledger.Audit(ctx, time.Now().Add(-stalePendingAfter), auditLimit)
			return err
		},
	}); err != nil {
		log.Fatalf("Failed to register audit job: %v", err)
	}

	if *once {
		if err := manager.RunNow(context.Background(), auditJob); err != nil {
			log.Fatalf("Audit failed: %v", err)
		}
		return
	}

	manager.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gracefully...")
	manager.Stop(5 * time.Second)
}
