// Package main provides the operator CLI for ranges.
//
// Usage:
//
//	rangectl migrate
//	rangectl add --key 2626 --width 5 [--separator] [--start 41217]
//	rangectl list
//	rangectl set-status <key> <status>
//	rangectl token --subject ops [--role operator] [--ttl 24h]
//	rangectl results <key>
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"rangescan/internal/config"
	"rangescan/internal/core/ranges"
	"rangescan/internal/domain/admin"
	"rangescan/internal/domain/auth"
	"rangescan/internal/infrastructure/sink"
	"rangescan/internal/infrastructure/storage/postgres"
	"rangescan/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(os.Getenv("RANGESCAN_CONFIG_DIR"))
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	args := os.Args[2:]

	switch os.Args[1] {
	case "migrate":
		err = migrate(ctx, cfg)
	case "add":
		err = addRange(ctx, cfg, args)
	case "list":
		err = listRanges(ctx, cfg, args, os.Stdout)
	case "set-status":
		err = setStatus(ctx, cfg, args)
	case "token":
		err = issueToken(cfg, args, os.Stdout)
	case "results":
		err = showResults(cfg, args, os.Stdout)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`rangescan range management CLI

Usage:
  rangectl <command> [options]

Commands:
  migrate      Apply database migrations
  add          Create a range
  list         List ranges (--where takes a CEL filter)
  set-status   Change a range's status (not_started, pending, completed)
  token        Issue an admin API token
  results      Print the file sink output for a range
  help         Show this help

Environment Variables:
  SCHEDULER_DATABASE_URL   Connection string (or DATABASE_URL)
  SCHEDULER_AUTH_JWT_SECRET  Secret for admin tokens (or JWT_SECRET)
  RANGESCAN_CONFIG_DIR     Directory containing config.yaml

Examples:
  rangectl add --key 2626 --width 5 --separator
  rangectl add --key 2627 --width 5 --separator --start 41217
  rangectl list --where 'status == "pending" && remaining < 1000'
  rangectl set-status 2626 pending
  rangectl token --subject ops@example.com --role operator --ttl 720h`)
}

// flags parses "--name value" pairs and bare "--switch" flags from args.
// Positional arguments are returned in order.
func flags(args []string, switches ...string) (map[string]string, []string) {
	isSwitch := make(map[string]bool, len(switches))
	for _, s := range switches {
		isSwitch[s] = true
	}

	named := make(map[string]string)
	var positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "--") {
			positional = append(positional, a)
			continue
		}
		name := strings.TrimPrefix(a, "--")
		if isSwitch[name] {
			named[name] = "true"
			continue
		}
		if i+1 < len(args) {
			named[name] = args[i+1]
			i++
		}
	}
	return named, positional
}

func openStore(ctx context.Context, cfg *config.Config) (*postgres.Pool, *postgres.TxManager, *postgres.RangeStore, error) {
	if cfg.Database.URL == "" {
		return nil, nil, nil, fmt.Errorf("SCHEDULER_DATABASE_URL (or DATABASE_URL) is required")
	}
	poolCfg := postgres.DefaultPoolConfig(cfg.Database.URL)
	poolCfg.ApplicationName = "rangectl"
	poolCfg.MaxConns = 2
	poolCfg.MinConns = 0
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	txm := postgres.NewTxManager(pool)
	return pool, txm, postgres.NewRangeStore(pool, txm), nil
}

func newAdmin(ctx context.Context, cfg *config.Config) (*admin.Service, func(), error) {
	pool, txm, store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return admin.NewService(store, postgres.NewAttemptLog(txm), logger.NewNop()), pool.Close, nil
}

func migrate(ctx context.Context, cfg *config.Config) error {
	pool, _, _, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	from, to, err := postgres.Migrate(ctx, pool, logger.NewNop())
	if err != nil {
		return err
	}
	if from == to {
		fmt.Printf("Schema is up to date (version %d)\n", to)
		return nil
	}
	fmt.Printf("Migrated schema from version %d to %d\n", from, to)
	return nil
}

func parseNewRange(args []string) (ranges.NewRange, error) {
	named, _ := flags(args, "separator")

	in := ranges.NewRange{
		Key:          named["key"],
		HasSeparator: named["separator"] == "true",
	}
	if in.Key == "" || named["width"] == "" {
		return in, fmt.Errorf("--key and --width are required")
	}
	width, err := strconv.Atoi(named["width"])
	if err != nil {
		return in, fmt.Errorf("--width: %w", err)
	}
	in.DigitWidth = width
	if s := named["start"]; s != "" {
		start, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return in, fmt.Errorf("--start: %w", err)
		}
		in.StartingNumber = start
	}
	return in, nil
}

func addRange(ctx context.Context, cfg *config.Config, args []string) error {
	in, err := parseNewRange(args)
	if err != nil {
		return err
	}
	svc, closeFn, err := newAdmin(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	r, err := svc.Create(ctx, in)
	if err != nil {
		return err
	}
	fmt.Printf("Created range %s (width %d, status %s, next %s)\n",
		r.Key, r.DigitWidth, r.Status, r.Identifier(r.LastAllocated+1))
	return nil
}

func listRanges(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	svc, closeFn, err := newAdmin(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	named, _ := flags(args)
	listing, err := svc.List(ctx, named["where"])
	if err != nil {
		return err
	}
	printListing(out, listing)
	return nil
}

func printListing(out io.Writer, listing admin.Listing) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tWIDTH\tALLOCATED\tREMAINING\tSTATUS")
	for _, r := range listing.Ranges {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", r.Key, r.DigitWidth, r.LastAllocated, r.Remaining(), r.Status)
	}
	for _, rej := range listing.Rejected {
		fmt.Fprintf(w, "%s\t-\t-\t-\tMALFORMED: %v\n", rej.Key, rej.Err)
	}
	_ = w.Flush()
}

func setStatus(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: rangectl set-status <key> <status>")
	}
	svc, closeFn, err := newAdmin(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	r, err := svc.ChangeStatus(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Range %s is now %s\n", r.Key, r.Status)
	return nil
}

func issueToken(cfg *config.Config, args []string, out io.Writer) error {
	named, _ := flags(args)
	subject := named["subject"]
	if subject == "" {
		return fmt.Errorf("--subject is required")
	}
	role := named["role"]
	if role == "" {
		role = auth.RoleViewer
	}
	var ttl time.Duration
	if s := named["ttl"]; s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("--ttl: %w", err)
		}
		ttl = d
	}

	jwtCfg := auth.DefaultJWTConfig(cfg.Auth.JWTSecret)
	if cfg.Auth.Issuer != "" {
		jwtCfg.Issuer = cfg.Auth.Issuer
	}
	if cfg.Auth.TokenTTL > 0 {
		jwtCfg.TokenTTL = cfg.Auth.TokenTTL
	}
	svc, err := auth.NewJWTService(jwtCfg)
	if err != nil {
		return fmt.Errorf("%w (set SCHEDULER_AUTH_JWT_SECRET)", err)
	}

	token, expiresAt, err := svc.Issue(subject, strings.Split(role, ","), ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
	return nil
}

func showResults(cfg *config.Config, args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: rangectl results <key>")
	}
	if cfg.Sink.Backend != sink.BackendFile {
		return fmt.Errorf("results are stored in %s; query the results table instead", cfg.Sink.Backend)
	}
	fs, err := sink.NewFileSink(cfg.Sink.Directory, cfg.Sink.Compress)
	if err != nil {
		return err
	}
	defer fs.Close()

	rows, err := sink.ReadAll(fs.Path(ranges.NormalizeKey(args[0])))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}
