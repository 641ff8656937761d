package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/melvsalonga/securepass/auth"
	"github.com/melvsalonga/securepass/internal/account"
	"github.com/melvsalonga/securepass/internal/api"
	"github.com/melvsalonga/securepass/internal/config"
	dbpkg "github.com/melvsalonga/securepass/internal/db"
	"github.com/melvsalonga/securepass/internal/logging"
	"github.com/melvsalonga/securepass/internal/service"
)

const cliVersion = "0.2.0"

type userError struct {
	msg string
}

func (e userError) Error() string { return e.msg }

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Println(cliVersion)
	case "account":
		if len(os.Args) < 3 {
			printAccountUsage()
			os.Exit(1)
		}
		switch os.Args[2] {
		case "create":
			err = runAccountCreate(os.Args[3:])
		case "list":
			err = runAccountList(os.Args[3:])
		default:
			printAccountUsage()
			os.Exit(1)
		}
	case "master":
		if len(os.Args) < 3 || os.Args[2] != "change" {
			fmt.Fprintln(os.Stderr, "Usage: pm master change --user <username> [--dir <data-dir>]")
			os.Exit(1)
		}
		err = runMasterChange(os.Args[3:])
	case "session":
		err = runSession(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	handleError(err)
}

func handleError(err error) {
	if err == nil {
		return
	}

	var uerr userError
	if errors.As(err, &uerr) {
		fmt.Fprintln(os.Stderr, uerr.Error())
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "unexpected error: %v\n", err)
	os.Exit(2)
}

// app bundles everything a command needs.
type app struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	db       *dbpkg.DB
	accounts *account.Store
	svc      *service.Service
}

func (a *app) Close() {
	if a.svc != nil {
		a.svc.Close()
	}
	if a.db != nil {
		dbpkg.Close(a.db)
	}
	_ = a.log.Sync()
}

// bootstrap loads configuration and opens the account database. dir, when
// set, overrides SECUREPASS_DATA_DIR.
func bootstrap(dir string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, userError{msg: fmt.Sprintf("configuration: %v", err)}
	}
	if dir != "" {
		cfg.DataDir = dir
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return nil, userError{msg: fmt.Sprintf("configuration: %v", err)}
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	database, err := dbpkg.Open(cfg.AccountsDBPath())
	if err != nil {
		return nil, fmt.Errorf("open account database: %w", err)
	}
	a := &app{cfg: cfg, log: log, db: database}

	policy := auth.Policy{MinScore: cfg.MinMasterScore}
	a.accounts, err = account.New(account.Options{
		DB:     database,
		Tiers:  cfg.Tiers(),
		Logger: log.Named("account"),
		Policy: func(pw, user string) error { return policy.Check(pw, user) },
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialise account store: %w", err)
	}

	a.svc, err = service.New(service.Options{
		Accounts:           a.accounts,
		VaultsDir:          cfg.VaultsDir(),
		BackupParams:       cfg.Tiers().Record,
		HistoryLimit:       cfg.HistoryLimit,
		LockTimeoutMinutes: cfg.LockTimeoutMinutes,
		AutoLock:           cfg.AutoLock,
		Logger:             log.Named("service"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialise service: %w", err)
	}
	return a, nil
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dir := fs.String("dir", "", "data directory")
	return fs, dir
}

func runAccountCreate(args []string) error {
	fs, dir := newFlagSet("account create")
	var user string
	var checkBreach bool
	fs.StringVar(&user, "user", "", "account username")
	fs.BoolVar(&checkBreach, "check-breach", false, "look the password up in a breach corpus")

	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	if user == "" {
		return userError{msg: "missing required flag: --user"}
	}
	if fs.NArg() != 0 {
		return userError{msg: "unexpected positional arguments"}
	}

	pw, err := promptConfirmed("Enter master password: ", "Confirm master password: ")
	if err != nil {
		return err
	}
	defer zeroBytes(pw)

	if checkBreach {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		res, err := auth.NewBreachChecker().Check(ctx, string(pw))
		cancel()
		switch {
		case err != nil:
			fmt.Fprintf(os.Stderr, "warning: breach check unavailable: %v\n", err)
		case res.Found:
			return userError{msg: fmt.Sprintf("password appears in %d known breaches; choose another", res.Count)}
		}
	}

	a, err := bootstrap(*dir)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.svc.CreateAccount(user, string(pw))
	if !res.Success {
		return userError{msg: res.Error}
	}
	fmt.Printf("account %s created\n", user)
	return nil
}

func runAccountList(args []string) error {
	fs, dir := newFlagSet("account list")
	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}

	a, err := bootstrap(*dir)
	if err != nil {
		return err
	}
	defer a.Close()

	names, err := a.accounts.Usernames()
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func runMasterChange(args []string) error {
	fs, dir := newFlagSet("master change")
	var user string
	fs.StringVar(&user, "user", "", "account username")

	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	if user == "" {
		return userError{msg: "missing required flag: --user"}
	}

	oldPw, err := promptPassword("Old master password: ")
	if err != nil {
		return fmt.Errorf("read old master password: %w", err)
	}
	defer zeroBytes(oldPw)

	newPw, err := promptConfirmed("New master password: ", "Confirm new master password: ")
	if err != nil {
		return err
	}
	defer zeroBytes(newPw)

	a, err := bootstrap(*dir)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.accounts.ChangeMasterPassword(user, string(oldPw), string(newPw)); err != nil {
		return userError{msg: err.Error()}
	}
	fmt.Printf("master password changed for user %s; vault key rewrapped\n", user)
	return nil
}

func runServe(args []string) error {
	fs, dir := newFlagSet("serve")
	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}

	a, err := bootstrap(*dir)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := api.NewHandler(a.svc, a.log.Named("api"))
	return api.Serve(ctx, a.cfg.ListenAddr, h, a.log)
}

func promptPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

func promptConfirmed(prompt, confirmPrompt string) ([]byte, error) {
	pw, err := promptPassword(prompt)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	confirm, err := promptPassword(confirmPrompt)
	if err != nil {
		zeroBytes(pw)
		return nil, fmt.Errorf("read confirmation: %w", err)
	}
	defer zeroBytes(confirm)

	if !bytes.Equal(pw, confirm) {
		zeroBytes(pw)
		return nil, userError{msg: "passwords do not match"}
	}
	return pw, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// printResult writes a facade result: data as indented JSON, or the error.
func printResult(res service.Result) {
	if !res.Success {
		fmt.Fprintf(os.Stderr, "error (%s): %s\n", res.Code, res.Error)
		return
	}
	if s, ok := res.Data.(string); ok {
		fmt.Println(s)
		return
	}
	out, err := json.MarshalIndent(res.Data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	fmt.Println(string(out))
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: pm <command> [--dir <data-dir>]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  version")
	fmt.Fprintln(os.Stderr, "  account create --user <username> [--check-breach]")
	fmt.Fprintln(os.Stderr, "  account list")
	fmt.Fprintln(os.Stderr, "  master change --user <username>")
	fmt.Fprintln(os.Stderr, "  session --user <username>")
	fmt.Fprintln(os.Stderr, "  serve")
}

func printAccountUsage() {
	fmt.Fprintln(os.Stderr, "Usage: pm account <create|list> [--user <username>] [--dir <data-dir>]")
}
