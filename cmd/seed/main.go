// seed registers the development account with the identity provider. Run with go run ./cmd/seed.
// Idempotent: an already registered email is reported and skipped.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"totp-mfa-demo/internal/config"
	"totp-mfa-demo/internal/identity/provider"
	"totp-mfa-demo/internal/identity/service"
	"totp-mfa-demo/internal/logger"
)

const (
	devFirstName = "Dev"
	devLastName  = "User"
	devEmail     = "dev@example.com"
	devPassword  = "password123"
)

func main() {
	email := flag.String("email", devEmail, "Email of the development account")
	password := flag.String("password", devPassword, "Password of the development account")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	client := provider.NewClient(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.ProviderTimeoutDuration())
	auth := service.NewAuthService(client, cfg.AuthCallbackURL())

	res, err := auth.SignUp(ctx, service.SignUpForm{
		FirstName:   devFirstName,
		LastName:    devLastName,
		Email:       *email,
		Password:    *password,
		AcceptTerms: true,
	})
	if err != nil {
		if provider.IsStatus(err, http.StatusUnprocessableEntity) {
			log.Info("seed already applied; skipping", zap.String("email", *email), zap.Error(err))
			return
		}
		log.Fatal("sign up dev account", zap.Error(err))
	}

	log.Info("seed completed", zap.String("email", *email), zap.String("user_id", res.Account.ID))
	fmt.Printf("Dev login: %s / %s (confirm the emailed link first)\n", *email, *password)
}
