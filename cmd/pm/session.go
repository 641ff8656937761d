package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/melvsalonga/securepass/internal/passgen"
	"github.com/melvsalonga/securepass/internal/service"
	"github.com/melvsalonga/securepass/internal/session"
	"github.com/melvsalonga/securepass/internal/vault"
)

func runSession(args []string) error {
	fs, dir := newFlagSet("session")
	var user string
	fs.StringVar(&user, "user", "", "account username")

	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	if user == "" {
		return userError{msg: "missing required flag: --user"}
	}
	if fs.NArg() != 0 {
		return userError{msg: "unexpected positional arguments"}
	}

	a, err := bootstrap(*dir)
	if err != nil {
		return err
	}
	defer a.Close()

	pw, err := promptPassword("Enter master password: ")
	if err != nil {
		return fmt.Errorf("read master password: %w", err)
	}
	res := a.svc.Authenticate(user, string(pw))
	zeroBytes(pw)
	if !res.Success {
		return userError{msg: "failed to unlock vault"}
	}
	if st, ok := res.Data.(service.AuthStatus); ok && st.Warning != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", st.Warning)
	}

	unsub := a.svc.Gate().Subscribe(func(ev session.Event) error {
		if ev.State == session.Locked && ev.Reason == session.ReasonTimeout {
			fmt.Fprintln(os.Stderr, "\nvault locked after inactivity; type 'unlock' to continue")
		}
		return nil
	})
	defer unsub()

	fmt.Println("session unlocked; type 'help' for commands")
	return sessionLoop(a.svc)
}

func sessionLoop(svc *service.Service) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("pm> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Println()
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		cmd := fields[0]
		args := fields[1:]

		switch cmd {
		case "help":
			printSessionHelp()
		case "list":
			printResult(svc.GetAllRecords())
		case "add":
			handleSessionError(sessionAdd(svc, args))
		case "get":
			if len(args) != 1 {
				fmt.Fprintln(os.Stderr, "usage: get <id>")
				continue
			}
			printResult(svc.GetRecord(args[0]))
		case "update":
			handleSessionError(sessionUpdate(svc, args))
		case "delete":
			if len(args) != 1 {
				fmt.Fprintln(os.Stderr, "usage: delete <id>")
				continue
			}
			printResult(svc.DeleteRecord(args[0]))
		case "history":
			if len(args) != 1 {
				fmt.Fprintln(os.Stderr, "usage: history <id>")
				continue
			}
			printResult(svc.GetPasswordHistory(args[0]))
		case "search":
			handleSessionError(sessionSearch(svc, args))
		case "categories":
			printResult(svc.GetCategories())
		case "tags":
			printResult(svc.GetTags())
		case "stats":
			printResult(svc.GetStatistics())
		case "gen":
			handleSessionError(sessionGenerate(svc, args))
		case "export":
			handleSessionError(sessionExport(svc, args))
		case "import":
			handleSessionError(sessionImport(svc, args))
		case "status":
			printResult(svc.GetLockState())
		case "lock":
			printResult(svc.Lock())
		case "unlock":
			pw, err := promptPassword("Master password: ")
			if err != nil {
				handleSessionError(fmt.Errorf("read master password: %w", err))
				continue
			}
			printResult(svc.Unlock(string(pw)))
			zeroBytes(pw)
		case "timeout":
			if len(args) != 1 {
				fmt.Fprintln(os.Stderr, "usage: timeout <minutes>")
				continue
			}
			minutes, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				fmt.Fprintln(os.Stderr, "timeout must be a number of minutes")
				continue
			}
			printResult(svc.SetLockTimeout(minutes))
		case "autolock":
			if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
				fmt.Fprintln(os.Stderr, "usage: autolock on|off")
				continue
			}
			printResult(svc.SetAutoLock(args[0] == "on"))
		case "exit", "quit":
			svc.Logout()
			return nil
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		}
	}
}

func sessionAdd(svc *service.Service, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var in vault.RecordInput
	var tags string
	fs.StringVar(&in.Title, "title", "", "record title")
	fs.StringVar(&in.Username, "user", "", "username")
	fs.StringVar(&in.URL, "url", "", "site address")
	fs.StringVar(&in.Notes, "notes", "", "free-form notes")
	fs.StringVar(&in.Category, "category", "", "category")
	fs.StringVar(&tags, "tags", "", "comma-separated tags")
	generate := fs.Bool("generate", false, "generate the password")

	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid add arguments"}
	}
	if in.Title == "" {
		return userError{msg: "add requires --title"}
	}
	in.Tags = splitTags(tags)

	if *generate {
		g, err := passgen.Generate(passgen.DefaultOptions())
		if err != nil {
			return fmt.Errorf("generate password: %w", err)
		}
		in.Password = g.Password
	} else {
		secret, err := promptConfirmed("Secret: ", "Confirm: ")
		if err != nil {
			return err
		}
		in.Password = string(secret)
		zeroBytes(secret)
	}

	printResult(svc.AddRecord(in))
	return nil
}

func sessionUpdate(svc *service.Service, args []string) error {
	if len(args) == 0 {
		return userError{msg: "usage: update <id> [--title ..] [--user ..] [--url ..] [--notes ..] [--category ..] [--tags ..] [--password]"}
	}
	id := args[0]

	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	title := fs.String("title", "", "record title")
	user := fs.String("user", "", "username")
	url := fs.String("url", "", "site address")
	notes := fs.String("notes", "", "free-form notes")
	category := fs.String("category", "", "category")
	tags := fs.String("tags", "", "comma-separated tags")
	password := fs.Bool("password", false, "prompt for a new password")

	if err := fs.Parse(args[1:]); err != nil {
		return userError{msg: "invalid update arguments"}
	}

	var upd vault.RecordUpdate
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "title":
			upd.Title = title
		case "user":
			upd.Username = user
		case "url":
			upd.URL = url
		case "notes":
			upd.Notes = notes
		case "category":
			upd.Category = category
		case "tags":
			t := splitTags(*tags)
			upd.Tags = &t
		}
	})
	if *password {
		secret, err := promptConfirmed("New secret: ", "Confirm: ")
		if err != nil {
			return err
		}
		s := string(secret)
		zeroBytes(secret)
		upd.Password = &s
	}

	printResult(svc.UpdateRecord(id, upd))
	return nil
}

func sessionSearch(svc *service.Service, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var f vault.SearchFilters
	var tags string
	fs.StringVar(&f.Category, "category", "", "category")
	fs.StringVar(&tags, "tags", "", "comma-separated tags, all required")

	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid search arguments"}
	}
	f.Tags = splitTags(tags)
	printResult(svc.SearchRecords(strings.Join(fs.Args(), " "), f))
	return nil
}

func sessionGenerate(svc *service.Service, args []string) error {
	fs := flag.NewFlagSet("gen", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	opts := passgen.DefaultOptions()
	fs.IntVar(&opts.Length, "length", opts.Length, "password length")
	noSymbols := fs.Bool("no-symbols", false, "omit symbols")
	fs.BoolVar(&opts.ExcludeAmbiguous, "no-ambiguous", false, "omit look-alike characters")

	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid gen arguments"}
	}
	if *noSymbols {
		opts.Symbols = false
	}
	printResult(svc.GeneratePassword(opts))
	return nil
}

func sessionExport(svc *service.Service, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return userError{msg: "usage: export <json|csv|xml|encrypted> [file]"}
	}

	var res service.Result
	if args[0] == "encrypted" {
		pw, err := promptConfirmed("Export password: ", "Confirm: ")
		if err != nil {
			return err
		}
		res = svc.ExportEncrypted(string(pw))
		zeroBytes(pw)
	} else {
		res = svc.ExportRecords(args[0])
	}

	if len(args) == 1 || !res.Success {
		printResult(res)
		return nil
	}
	data, _ := res.Data.(string)
	if err := os.WriteFile(args[1], []byte(data), 0o600); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Printf("exported to %s\n", args[1])
	return nil
}

func sessionImport(svc *service.Service, args []string) error {
	if len(args) != 2 {
		return userError{msg: "usage: import <json|csv|xml|encrypted> <file>"}
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return userError{msg: fmt.Sprintf("read %s: %v", args[1], err)}
	}

	if args[0] == "encrypted" {
		pw, err := promptPassword("Export password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		printResult(svc.ImportEncrypted(string(pw), string(data)))
		zeroBytes(pw)
		return nil
	}
	printResult(svc.ImportRecords(args[0], string(data)))
	return nil
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func handleSessionError(err error) {
	if err == nil {
		return
	}
	if uerr, ok := err.(userError); ok {
		fmt.Fprintln(os.Stderr, uerr.Error())
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

func printSessionHelp() {
	fmt.Println("Commands:")
	fmt.Println("  list | get <id> | history <id> | delete <id>")
	fmt.Println("  add --title <t> [--user <u>] [--url <u>] [--notes <n>] [--category <c>] [--tags a,b] [--generate]")
	fmt.Println("  update <id> [--title ..] [--user ..] [--url ..] [--notes ..] [--category ..] [--tags ..] [--password]")
	fmt.Println("  search [--category <c>] [--tags a,b] [text]")
	fmt.Println("  categories | tags | stats")
	fmt.Println("  gen [--length n] [--no-symbols] [--no-ambiguous]")
	fmt.Println("  export <json|csv|xml|encrypted> [file] | import <format> <file>")
	fmt.Println("  status | lock | unlock | timeout <minutes> | autolock on|off")
	fmt.Println("  exit | quit")
}
