package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ffigueiredo/paperboy/internal/config"
	"github.com/ffigueiredo/paperboy/internal/ledger"
	"github.com/ffigueiredo/paperboy/internal/statedir"
	"github.com/ffigueiredo/paperboy/internal/store"
)

func main() {
	envFlag := flag.String("env", "", "optional env file loaded before reading the environment")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	cfg, err := config.Load(*envFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(cfg, *jsonFlag)
	case "enqueue":
		fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
		to := fs.String("to", "", "recipient JID (empty targets the configured group)")
		_ = fs.Parse(args[1:])
		if fs.NArg() == 0 {
			fmt.Fprintln(os.Stderr, "usage: paperboyctl enqueue [-to <jid>] <message>")
			os.Exit(1)
		}
		cmdEnqueue(ctx, cfg, *to, strings.Join(fs.Args(), " "), *jsonFlag)
	case "ledger":
		cmdLedger(cfg, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: paperboyctl [--env <file>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                      Show daemon state via the local health endpoint")
	fmt.Fprintln(os.Stderr, "  enqueue [-to <jid>] <text>  Queue an outbox message (needs DATABASE_URL)")
	fmt.Fprintln(os.Stderr, "  ledger                      List bucket objects that were already announced")
}

func cmdStatus(cfg *config.Config, jsonOut bool) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.QRPort))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon on port %d: %v\n", cfg.QRPort, err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	var health struct {
		State     string  `json:"state"`
		QRPending bool    `json:"qr_pending"`
		UptimeSec float64 `json:"uptime_seconds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		fmt.Fprintf(os.Stderr, "error: bad health response: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(health)
		return
	}
	fmt.Printf("State:      %s\n", health.State)
	fmt.Printf("QR pending: %v\n", health.QRPending)
	fmt.Printf("Uptime:     %s\n", time.Duration(health.UptimeSec*float64(time.Second)).Round(time.Second))
}

func cmdEnqueue(ctx context.Context, cfg *config.Config, to, message string, jsonOut bool) {
	if !cfg.RelationalEnabled() {
		fmt.Fprintln(os.Stderr, "error: DATABASE_URL is not configured")
		os.Exit(1)
	}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	id, err := db.QueueOutbox(ctx, to, message)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(struct {
			ID int64 `json:"id"`
		}{ID: id})
		return
	}
	fmt.Printf("Queued outbox row %d\n", id)
}

func cmdLedger(cfg *config.Config, jsonOut bool) {
	led := ledger.Open(statedir.Ledger(cfg.StateDir), zap.NewNop())
	names := led.Names()
	if jsonOut {
		outputJSON(names)
		return
	}
	if len(names) == 0 {
		fmt.Println("Ledger is empty.")
		return
	}
	for _, n := range names {
		fmt.Println(n)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
