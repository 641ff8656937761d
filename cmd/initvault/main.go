// Command initvault creates an account and its empty vault without prompting.
// The master password is read from the first line of stdin.
package main

import (
	"bufio"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/melvsalonga/securepass/auth"
	"github.com/melvsalonga/securepass/internal/account"
	"github.com/melvsalonga/securepass/internal/config"
	"github.com/melvsalonga/securepass/internal/db"
	"github.com/melvsalonga/securepass/internal/logging"
	"github.com/melvsalonga/securepass/internal/service"
)

func main() {
	user := flag.String("user", "", "account username")
	dir := flag.String("dir", "", "data directory (overrides SECUREPASS_DATA_DIR)")
	flag.Parse()
	if *user == "" {
		log.Fatal("missing required flag: --user")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}
	if *dir != "" {
		cfg.DataDir = *dir
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}
	defer logger.Sync()

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		logger.Fatalw("read master password", "error", err)
	}
	password := strings.TrimRight(line, "\r\n")

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

	if res := svc.CreateAccount(*user, password); !res.Success {
		logger.Fatalw("create account", "error", res.Error, "code", res.Code)
	}
	// Signing in once writes the empty vault file.
	if res := svc.Authenticate(*user, password); !res.Success {
		logger.Fatalw("initialise vault", "error", res.Error, "code", res.Code)
	}
	svc.Logout()
	logger.Infow("account initialised", "username", *user, "dataDir", cfg.DataDir)
}
