// Command nativehost is the browser native-messaging host. Browsers start it
// with stdin and stdout bound to the extension; logs go to stderr.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/melvsalonga/securepass/auth"
	"github.com/melvsalonga/securepass/internal/account"
	"github.com/melvsalonga/securepass/internal/config"
	"github.com/melvsalonga/securepass/internal/db"
	"github.com/melvsalonga/securepass/internal/logging"
	"github.com/melvsalonga/securepass/internal/nativehost"
	"github.com/melvsalonga/securepass/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		logger.Fatalw("create data directory", "error", err)
	}
	database, err := db.Open(cfg.AccountsDBPath())
	if err != nil {
		logger.Fatalw("open account database", "error", err)
	}
	defer db.Close(database)

	policy := auth.Policy{MinScore: cfg.MinMasterScore}
	accounts, err := account.New(account.Options{
		DB:     database,
		Tiers:  cfg.Tiers(),
		Logger: logger.Named("account"),
		Policy: func(pw, u string) error { return policy.Check(pw, u) },
	})
	if err != nil {
		logger.Fatalw("initialise account store", "error", err)
	}
	svc, err := service.New(service.Options{
		Accounts:           accounts,
		VaultsDir:          cfg.VaultsDir(),
		BackupParams:       cfg.Tiers().Record,
		HistoryLimit:       cfg.HistoryLimit,
		LockTimeoutMinutes: cfg.LockTimeoutMinutes,
		AutoLock:           cfg.AutoLock,
		Logger:             logger.Named("service"),
	})
	if err != nil {
		logger.Fatalw("initialise service", "error", err)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host := nativehost.New(svc, logger.Named("nativehost"))
	defer host.Close()

	// A blocked stdin read does not observe ctx; drop keys and exit directly.
	go func() {
		<-ctx.Done()
		host.Close()
		svc.Close()
		os.Exit(0)
	}()
	if err := host.Run(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Errorw("native messaging stopped", "error", err)
	}
}
