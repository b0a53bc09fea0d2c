package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/text2rednote/rednotepay/app/models"
	"github.com/text2rednote/rednotepay/internal/pkg/env"
	"github.com/text2rednote/rednotepay/internal/pkg/payment"
)

type App struct {
	Env         string `validate:"required"`
	Host        string
	Port        string `validate:"required,numeric"`
	BaseURL     string `validate:"required,url"`
	StoreDriver string `validate:"oneof=mysql memory"`
}

// NonProduction reports whether the app runs locally or under test.
func (a App) NonProduction() bool {
	return env.NonProduction(a.Env)
}

type Database struct {
	User     string
	Password string
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	Name     string
}

type Cache struct {
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	Password string
}

type Auth struct {
	JWTSecret      string
	InternalAPIKey string
}

type Epay struct {
	MerchantID string
	Key        string
	GatewayURL string `validate:"omitempty,url"`
	SiteName   string
}

func (e Epay) Enabled() bool {
	return e.MerchantID != "" && e.Key != "" && e.GatewayURL != ""
}

type Creem struct {
	APIKey        string
	APIBaseURL    string `validate:"omitempty,url"`
	WebhookSecret string
	// ProductIDs maps catalog ids to creem product ids.
	ProductIDs map[string]string
}

type Metrics struct {
	User     string
	Password string
}

// Config is the typed process configuration.
type Config struct {
	App      App
	Database Database
	Cache    Cache
	Auth     Auth
	Epay     Epay
	Creem    Creem
	Metrics  Metrics

	SignupCredits int64 `validate:"gte=0"`
	Verification  payment.VerificationMode
}

var creemProductEnv = map[string]string{
	payment.ProductCredits100:       "CREEM_PRODUCT_CREDITS_100",
	payment.ProductCredits500:       "CREEM_PRODUCT_CREDITS_500",
	payment.ProductCredits1200:      "CREEM_PRODUCT_CREDITS_1200",
	payment.ProductCreditsUnlimited: "CREEM_PRODUCT_CREDITS_UNLIMITED",
}

// Load reads configuration from the loaded .env map and the process
// environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		App: App{
			Env:         env.GetEnv("APP_ENV", "prod"),
			Host:        env.GetEnv("APP_HOST", "0.0.0.0"),
			Port:        env.GetEnv("APP_PORT", "4000"),
			BaseURL:     strings.TrimRight(env.GetEnv("APP_BASE_URL", "http://localhost:4000"), "/"),
			StoreDriver: env.GetEnv("STORE_DRIVER", "mysql"),
		},
		Database: Database{
			User:     env.GetEnv("DB_USER", ""),
			Password: env.GetEnv("DB_PASSWORD", ""),
			Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
			Port:     env.GetEnv("DB_PORT", "3306"),
			Name:     env.GetEnv("DB_NAME", ""),
		},
		Cache: Cache{
			Host:     env.GetEnv("CACHE_HOST", "localhost"),
			Port:     env.GetEnv("CACHE_PORT", "6379"),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
		},
		Auth: Auth{
			JWTSecret:      env.GetEnv("AUTH_JWT_SECRET", ""),
			InternalAPIKey: env.GetEnv("INTERNAL_API_KEY", ""),
		},
		Epay: Epay{
			MerchantID: strings.TrimSpace(env.GetEnv("EPAY_PID", "")),
			Key:        strings.TrimSpace(env.GetEnv("EPAY_KEY", "")),
			GatewayURL: strings.TrimSpace(env.GetEnv("EPAY_GATEWAY_URL", "")),
			SiteName:   env.GetEnv("EPAY_SITE_NAME", "Text to RedNote"),
		},
		Creem: Creem{
			APIKey:        strings.TrimSpace(env.GetEnv("CREEM_API_KEY", "")),
			APIBaseURL:    strings.TrimSpace(env.GetEnv("CREEM_API_BASE_URL", "https://api.creem.io")),
			WebhookSecret: strings.TrimSpace(env.GetEnv("CREEM_WEBHOOK_SECRET", "")),
			ProductIDs:    map[string]string{},
		},
		Metrics: Metrics{
			User:     env.GetEnv("METRICS_USER", ""),
			Password: env.GetEnv("METRICS_PASSWORD", ""),
		},
		SignupCredits: int64(env.GetInt("SIGNUP_CREDITS", models.DefaultStartingCredits)),
	}
	for id, key := range creemProductEnv {
		if v := strings.TrimSpace(env.GetEnv(key, "")); v != "" {
			cfg.Creem.ProductIDs[id] = v
		}
	}

	disable := strings.EqualFold(strings.TrimSpace(env.GetEnv("PAYMENT_SIGNATURE_VERIFICATION", "enforced")), "disabled")
	mode, err := payment.NewVerificationMode(disable, cfg.App.NonProduction())
	if err != nil {
		return nil, err
	}
	cfg.Verification = mode

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and that a production deployment has the
// secrets its webhooks need.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.App.NonProduction() || !c.Verification.Enforced() {
		return nil
	}

	var missing []string
	if c.Epay.MerchantID != "" && c.Epay.Key == "" {
		missing = append(missing, "EPAY_KEY")
	}
	if c.Creem.APIKey != "" && c.Creem.WebhookSecret == "" {
		missing = append(missing, "CREEM_WEBHOOK_SECRET")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	if c.App.StoreDriver == "memory" {
		return errors.New("STORE_DRIVER=memory is not allowed in production")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required production settings: %s", strings.Join(missing, ", "))
	}
	return nil
}
